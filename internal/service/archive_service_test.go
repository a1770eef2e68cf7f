package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wareline/branchstore/internal/config"
	"github.com/wareline/branchstore/internal/model"
	"github.com/wareline/branchstore/internal/service"
)

// fakeSink mirrors the real sink's upsert-by-id semantics: re-uploading a
// batch overwrites rows instead of duplicating them, while upserts counts
// every write per id so tests can tell a retry from a first upload.
type fakeSink struct {
	mu      sync.Mutex
	rows    map[string]model.JournalEntry
	upserts map[string]int
	batches int
	fail    bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		rows:    make(map[string]model.JournalEntry),
		upserts: make(map[string]int),
	}
}

func (s *fakeSink) EnsureSchema(ctx context.Context) error { return nil }

func (s *fakeSink) UploadBatch(ctx context.Context, entries []model.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink unavailable")
	}
	for _, entry := range entries {
		s.rows[entry.ID] = entry
		s.upserts[entry.ID]++
	}
	s.batches++
	return nil
}

func (s *fakeSink) Close() {}

func (s *fakeSink) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *fakeSink) uploadCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts[id]
}

func (s *fakeSink) rowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type archiveFixture struct {
	archive   *service.ArchiveService
	lifecycle *service.LifecycleManager
	journal   *service.JournalService
	sink      *fakeSink
	layout    service.Layout
}

func setupArchive(t *testing.T) *archiveFixture {
	t.Helper()
	tmpDir := t.TempDir()
	layout := service.Layout{
		BranchesDir: filepath.Join(tmpDir, "branches"),
		SchemasDir:  filepath.Join(tmpDir, "schemas"),
		SeedsDir:    filepath.Join(tmpDir, "seeds"),
	}
	require.NoError(t, os.MkdirAll(layout.SchemasDir, 0755))
	require.NoError(t, os.WriteFile(layout.SchemaPath("pos"), []byte(posSchemaFixture), 0644))

	logger := zap.NewNop()
	modules := map[string]config.ModuleDef{"pos": {Tables: []string{"order_header"}}}
	schemas := service.NewSchemaService(layout, modules, logger)
	seeds := service.NewSeedService(layout, logger)
	lifecycle := service.NewLifecycleManager(layout, schemas, seeds, func(string) []string { return []string{"pos"} }, nil, logger)
	journal := service.NewJournalService(layout, false, nil, logger)
	t.Cleanup(journal.Close)

	journalSink := newFakeSink()
	archive := service.NewArchiveService(lifecycle, journal, journalSink, 2, 16, time.Minute, nil, logger)
	t.Cleanup(func() { archive.Stop(time.Second) })
	return &archiveFixture{
		archive:   archive,
		lifecycle: lifecycle,
		journal:   journal,
		sink:      journalSink,
		layout:    layout,
	}
}

func (f *archiveFixture) appendEntries(t *testing.T, ids ...string) []*model.JournalEntry {
	t.Helper()
	entries := make([]*model.JournalEntry, 0, len(ids))
	for _, id := range ids {
		entry := &model.JournalEntry{
			ID:       id,
			TenantID: "branch-1",
			ModuleID: "pos",
			Table:    "order_header",
			Action:   model.ActionInsert,
			Record:   model.Record{"id": "rec-" + id},
		}
		require.NoError(t, f.journal.Append("branch-1", "pos", entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestArchiveService_CycleUploadsAndDiscards(t *testing.T) {
	fixture := setupArchive(t)
	ctx := context.Background()

	_, err := fixture.lifecycle.EnsureStore(ctx, "branch-1", "pos")
	require.NoError(t, err)
	fixture.appendEntries(t, "e1", "e2")

	fixture.archive.RunCycle(ctx)

	assert.Equal(t, 1, fixture.sink.uploadCount("e1"))
	assert.Equal(t, 1, fixture.sink.uploadCount("e2"))

	segments, err := fixture.journal.ListClosedSegments("branch-1", "pos")
	require.NoError(t, err)
	assert.Empty(t, segments)
}

func TestArchiveService_FailedUploadRetainsSegment(t *testing.T) {
	fixture := setupArchive(t)
	ctx := context.Background()

	_, err := fixture.lifecycle.EnsureStore(ctx, "branch-1", "pos")
	require.NoError(t, err)
	fixture.appendEntries(t, "e1")
	fixture.sink.setFail(true)

	fixture.archive.RunCycle(ctx)

	segments, err := fixture.journal.ListClosedSegments("branch-1", "pos")
	require.NoError(t, err)
	assert.Len(t, segments, 1)
	assert.Equal(t, 0, fixture.sink.uploadCount("e1"))
}

func TestArchiveService_RetainedSegmentUploadsNextCycle(t *testing.T) {
	fixture := setupArchive(t)
	ctx := context.Background()

	_, err := fixture.lifecycle.EnsureStore(ctx, "branch-1", "pos")
	require.NoError(t, err)
	fixture.appendEntries(t, "e1")
	fixture.sink.setFail(true)
	fixture.archive.RunCycle(ctx)

	// Sink recovers; new events arrive meanwhile.
	fixture.sink.setFail(false)
	fixture.appendEntries(t, "e2")
	fixture.archive.RunCycle(ctx)

	assert.Equal(t, 1, fixture.sink.uploadCount("e1"))
	assert.Equal(t, 1, fixture.sink.uploadCount("e2"))
	segments, err := fixture.journal.ListClosedSegments("branch-1", "pos")
	require.NoError(t, err)
	assert.Empty(t, segments)
}

func TestArchiveService_ReuploadedSegmentKeepsOneRowPerID(t *testing.T) {
	fixture := setupArchive(t)
	ctx := context.Background()

	_, err := fixture.lifecycle.EnsureStore(ctx, "branch-1", "pos")
	require.NoError(t, err)
	fixture.appendEntries(t, "e1", "e2")

	// First upload lands but the segment is never discarded, as if the
	// process died between the two steps.
	segment, err := fixture.journal.Rotate("branch-1", "pos")
	require.NoError(t, err)
	entries, err := fixture.journal.ReadSegment(segment)
	require.NoError(t, err)
	require.NoError(t, fixture.sink.UploadBatch(ctx, entries))

	// The next cycle re-uploads the retained segment; the upsert keeps
	// one row per journal id.
	fixture.archive.RunCycle(ctx)

	assert.Equal(t, 2, fixture.sink.uploadCount("e1"))
	assert.Equal(t, 2, fixture.sink.uploadCount("e2"))
	assert.Equal(t, 2, fixture.sink.rowCount())
	segments, err := fixture.journal.ListClosedSegments("branch-1", "pos")
	require.NoError(t, err)
	assert.Empty(t, segments)
}

func TestArchiveService_CycleWithoutEventsIsQuiet(t *testing.T) {
	fixture := setupArchive(t)
	ctx := context.Background()

	_, err := fixture.lifecycle.EnsureStore(ctx, "branch-1", "pos")
	require.NoError(t, err)

	fixture.archive.RunCycle(ctx)

	fixture.sink.mu.Lock()
	defer fixture.sink.mu.Unlock()
	assert.Zero(t, fixture.sink.batches)
}

func TestArchiveService_StartStop(t *testing.T) {
	fixture := setupArchive(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fixture.archive.Start(ctx)
	fixture.archive.Stop(time.Second)
}
