package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wareline/branchstore/internal/notify"
)

func TestBroadcaster_DeliversToAllSubscribers(t *testing.T) {
	b := notify.NewBroadcaster(4, zap.NewNop())

	first, cancelFirst := b.Subscribe()
	defer cancelFirst()
	second, cancelSecond := b.Subscribe()
	defer cancelSecond()

	notice := notify.Notice{TenantID: "branch-1", Table: "product", Action: "insert"}
	b.Publish(context.Background(), notice)

	assert.Equal(t, "product", (<-first).Table)
	assert.Equal(t, "product", (<-second).Table)
}

func TestBroadcaster_SlowSubscriberDropsNotDeadlocks(t *testing.T) {
	b := notify.NewBroadcaster(1, zap.NewNop())

	slow, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			b.Publish(context.Background(), notify.Notice{TenantID: "branch-1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}

	// The one buffered notice is still readable.
	select {
	case <-slow:
	default:
		t.Fatal("expected at least one buffered notice")
	}
}

func TestBroadcaster_CancelClosesChannel(t *testing.T) {
	b := notify.NewBroadcaster(4, zap.NewNop())

	ch, cancel := b.Subscribe()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Cancel is idempotent and publishing after cancel is safe.
	cancel()
	b.Publish(context.Background(), notify.Notice{TenantID: "branch-1"})
}

func TestMultiNotifier_FansOut(t *testing.T) {
	b1 := notify.NewBroadcaster(4, zap.NewNop())
	b2 := notify.NewBroadcaster(4, zap.NewNop())
	ch1, cancel1 := b1.Subscribe()
	defer cancel1()
	ch2, cancel2 := b2.Subscribe()
	defer cancel2()

	multi := notify.MultiNotifier{b1, b2}
	multi.Publish(context.Background(), notify.Notice{TenantID: "branch-1", Action: "merge"})

	require.Equal(t, "merge", (<-ch1).Action)
	require.Equal(t, "merge", (<-ch2).Action)
}
