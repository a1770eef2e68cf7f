package service

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wareline/branchstore/internal/errors"
	"github.com/wareline/branchstore/internal/metrics"
	"github.com/wareline/branchstore/internal/model"
)

// journalMeta is the per-pair metadata persisted next to the open segment.
type journalMeta struct {
	Sequence  int64  `json:"sequence"`
	LastAckID string `json:"lastAckId,omitempty"`
	UpdatedAt string `json:"updatedAt"`
}

// journalState tracks one (tenant, module) pair's open segment.
type journalState struct {
	mu   sync.Mutex
	file *os.File
	meta journalMeta
}

// JournalService appends mutation events to per-pair JSON-lines segments.
// The open segment lives under the pair's live directory; Rotate moves it
// to the closed-segments directory where the archive cycle picks it up.
type JournalService struct {
	layout     Layout
	syncWrites bool
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu    sync.Mutex
	pairs map[string]*journalState
}

// NewJournalService creates a journal service
func NewJournalService(layout Layout, syncWrites bool, m *metrics.Metrics, logger *zap.Logger) *JournalService {
	return &JournalService{
		layout:     layout,
		syncWrites: syncWrites,
		metrics:    m,
		logger:     logger,
		pairs:      make(map[string]*journalState),
	}
}

func (j *JournalService) pair(tenantID, moduleID string) (*journalState, error) {
	key := StoreKey(tenantID, moduleID)
	j.mu.Lock()
	defer j.mu.Unlock()
	if state, ok := j.pairs[key]; ok {
		return state, nil
	}
	state := &journalState{}
	if _, err := readJSONFile(j.layout.JournalMetaPath(tenantID, moduleID), &state.meta); err != nil {
		return nil, errors.JournalFailed("failed to read journal metadata", err)
	}
	j.pairs[key] = state
	return state, nil
}

func (j *JournalService) openSegment(state *journalState, tenantID, moduleID string) error {
	if state.file != nil {
		return nil
	}
	if err := j.layout.EnsureModuleLayout(tenantID, moduleID); err != nil {
		return err
	}
	file, err := os.OpenFile(j.layout.OpenSegmentPath(tenantID, moduleID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	state.file = file
	return nil
}

// Append records a journal entry on the pair's open segment. The entry's
// sequence number and recorded-at timestamp are assigned here; the advanced
// sequence is persisted ahead of the write so restarts never reuse one.
func (j *JournalService) Append(tenantID, moduleID string, entry *model.JournalEntry) error {
	state, err := j.pair(tenantID, moduleID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if err := j.openSegment(state, tenantID, moduleID); err != nil {
		return errors.JournalFailed("failed to open journal segment", err)
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	state.meta.Sequence++
	entry.Sequence = state.meta.Sequence
	entry.RecordedAt = time.Now().UTC()

	// The advanced sequence reaches disk before the entry line does. A
	// crash between the two writes leaves a gap in the journal; the
	// reverse order would let a restart reissue a sequence that is
	// already written to the segment.
	state.meta.UpdatedAt = entry.RecordedAt.Format(time.RFC3339Nano)
	if err := writeJSONFile(j.layout.JournalMetaPath(tenantID, moduleID), state.meta); err != nil {
		state.meta.Sequence--
		return errors.JournalFailed("failed to persist journal metadata", err)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return errors.JournalFailed("failed to encode journal entry", err)
	}
	if _, err := state.file.Write(append(line, '\n')); err != nil {
		return errors.JournalFailed("failed to write journal entry", err)
	}
	if j.syncWrites {
		if err := state.file.Sync(); err != nil {
			return errors.JournalFailed("failed to sync journal segment", err)
		}
	}

	state.meta.LastAckID = entry.ID
	if err := writeJSONFile(j.layout.JournalMetaPath(tenantID, moduleID), state.meta); err != nil {
		return errors.JournalFailed("failed to persist journal metadata", err)
	}
	if j.metrics != nil {
		j.metrics.JournalAppendsTotal.Inc()
	}
	return nil
}

// LastAckID returns the id of the most recently journaled entry for a pair.
func (j *JournalService) LastAckID(tenantID, moduleID string) (string, error) {
	state, err := j.pair(tenantID, moduleID)
	if err != nil {
		return "", err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.meta.LastAckID, nil
}

// Rotate closes the pair's open segment and moves it into the closed
// segments directory. Returns "" when the open segment is empty or absent.
func (j *JournalService) Rotate(tenantID, moduleID string) (string, error) {
	state, err := j.pair(tenantID, moduleID)
	if err != nil {
		return "", err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	src := j.layout.OpenSegmentPath(tenantID, moduleID)
	info, err := os.Stat(src)
	if err != nil || info.Size() == 0 {
		return "", nil
	}

	if state.file != nil {
		state.file.Close()
		state.file = nil
	}

	name := fmt.Sprintf("closed-%d-%d.log", time.Now().UTC().UnixNano(), state.meta.Sequence)
	target := filepath.Join(j.layout.ClosedSegmentsDir(tenantID, moduleID), name)
	if err := os.MkdirAll(j.layout.ClosedSegmentsDir(tenantID, moduleID), 0755); err != nil {
		return "", errors.JournalFailed("failed to create closed segments directory", err)
	}
	if err := os.Rename(src, target); err != nil {
		return "", errors.JournalFailed("failed to rotate journal segment", err)
	}
	if j.metrics != nil {
		j.metrics.JournalRotations.Inc()
	}
	j.logger.Debug("Rotated journal segment",
		zap.String("tenant_id", tenantID),
		zap.String("module_id", moduleID),
		zap.String("segment", name))
	return target, nil
}

// ListClosedSegments returns the pair's closed segment paths, oldest first.
func (j *JournalService) ListClosedSegments(tenantID, moduleID string) ([]string, error) {
	dir := j.layout.ClosedSegmentsDir(tenantID, moduleID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.JournalFailed("failed to list closed segments", err)
	}
	var segments []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		segments = append(segments, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(segments)
	return segments, nil
}

// ReadSegment decodes every entry of a segment file. Lines that fail to
// decode are skipped with a warning rather than poisoning the batch.
func (j *JournalService) ReadSegment(path string) ([]model.JournalEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.JournalFailed("failed to open journal segment", err)
	}
	defer file.Close()

	var entries []model.JournalEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry model.JournalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			j.logger.Warn("Skipping undecodable journal line",
				zap.String("segment", path),
				zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.JournalFailed("failed to scan journal segment", err)
	}
	return entries, nil
}

// DiscardSegment deletes a closed segment after a confirmed upload.
func (j *JournalService) DiscardSegment(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.JournalFailed("failed to discard journal segment", err)
	}
	return nil
}

// Close closes every open segment file.
func (j *JournalService) Close() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, state := range j.pairs {
		state.mu.Lock()
		if state.file != nil {
			state.file.Close()
			state.file = nil
		}
		state.mu.Unlock()
	}
}
