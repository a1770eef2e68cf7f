package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notice describes one applied mutation for interested observers. It is
// advisory only; consumers that miss notices recover from snapshots and
// the journal.
type Notice struct {
	TenantID  string                 `json:"tenantId"`
	ModuleID  string                 `json:"moduleId"`
	Table     string                 `json:"table"`
	Action    string                 `json:"action"`
	RecordID  string                 `json:"recordId,omitempty"`
	Version   int64                  `json:"version"`
	JournalID string                 `json:"journalId,omitempty"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	EmittedAt time.Time              `json:"emittedAt"`
}

// Notifier delivers change notices. Implementations must never block the
// caller on slow consumers.
type Notifier interface {
	Publish(ctx context.Context, notice Notice)
}

// Broadcaster fans notices out to in-process subscribers over buffered
// channels, dropping for any subscriber whose buffer is full.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[int]chan Notice
	nextID      int
	bufferSize  int
	logger      *zap.Logger
}

// NewBroadcaster creates an in-process notice broadcaster
func NewBroadcaster(bufferSize int, logger *zap.Logger) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Broadcaster{
		subscribers: make(map[int]chan Notice),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes its channel.
func (b *Broadcaster) Subscribe() (<-chan Notice, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Notice, b.bufferSize)
	b.subscribers[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Publish delivers a notice to every subscriber without blocking.
func (b *Broadcaster) Publish(ctx context.Context, notice Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- notice:
		default:
			b.logger.Debug("Dropping notice for slow subscriber", zap.Int("subscriber", id))
		}
	}
}

// RedisNotifier publishes notices onto per-tenant Redis channels so other
// processes can observe mutations.
type RedisNotifier struct {
	client        *redis.Client
	channelPrefix string
	logger        *zap.Logger
}

// NewRedisNotifier creates a Redis-backed notifier
func NewRedisNotifier(addr, password string, db int, channelPrefix string, logger *zap.Logger) *RedisNotifier {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisNotifier{
		client:        client,
		channelPrefix: channelPrefix,
		logger:        logger,
	}
}

// Publish sends the notice as JSON on the tenant's channel. Failures are
// logged and swallowed; notice delivery never fails a mutation.
func (n *RedisNotifier) Publish(ctx context.Context, notice Notice) {
	payload, err := json.Marshal(notice)
	if err != nil {
		n.logger.Warn("Failed to encode notice", zap.Error(err))
		return
	}
	channel := n.channelPrefix + ":" + notice.TenantID
	if err := n.client.Publish(ctx, channel, payload).Err(); err != nil {
		n.logger.Warn("Failed to publish notice",
			zap.String("channel", channel),
			zap.Error(err))
	}
}

// Close releases the Redis connection.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// MultiNotifier fans a notice out to several notifiers.
type MultiNotifier []Notifier

func (m MultiNotifier) Publish(ctx context.Context, notice Notice) {
	for _, notifier := range m {
		notifier.Publish(ctx, notice)
	}
}
