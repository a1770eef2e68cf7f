package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wareline/branchstore/internal/metrics"
	"github.com/wareline/branchstore/internal/sink"
	"github.com/wareline/branchstore/internal/util/workerpool"
)

// ArchiveService drains closed journal segments into the archival sink on
// a fixed interval. Segments whose upload fails stay on disk and are
// retried on the next cycle; uploads are idempotent so retries are safe.
type ArchiveService struct {
	lifecycle *LifecycleManager
	journal   *JournalService
	sink      sink.JournalSink
	pool      *workerpool.Pool
	interval  time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
	started  bool
}

// NewArchiveService creates an archive service
func NewArchiveService(
	lifecycle *LifecycleManager,
	journal *JournalService,
	journalSink sink.JournalSink,
	workers, queueSize int,
	interval time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ArchiveService {
	return &ArchiveService{
		lifecycle: lifecycle,
		journal:   journal,
		sink:      journalSink,
		pool:      workerpool.New("archive", workers, queueSize, logger),
		interval:  interval,
		metrics:   m,
		logger:    logger,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

// Start launches the background cycle loop.
func (a *ArchiveService) Start(ctx context.Context) {
	a.started = true
	go func() {
		defer close(a.doneChan)
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.stopChan:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.RunCycle(ctx)
			}
		}
	}()
	a.logger.Info("Archive cycle started", zap.Duration("interval", a.interval))
}

// RunCycle rotates every active pair's open segment and drains the closed
// segments. Per-pair work runs on the worker pool; the call returns once
// every submitted pair has been processed.
func (a *ArchiveService) RunCycle(ctx context.Context) {
	stores := a.lifecycle.ActiveStores()
	for _, st := range stores {
		tenantID, moduleID := st.TenantID(), st.ModuleID()
		task := workerpool.Task{
			ID:      "archive:" + StoreKey(tenantID, moduleID),
			Context: ctx,
			Fn: func(taskCtx context.Context) error {
				return a.archivePair(taskCtx, tenantID, moduleID)
			},
		}
		if err := a.pool.Submit(task); err != nil {
			a.logger.Warn("Archive task rejected",
				zap.String("tenant_id", tenantID),
				zap.String("module_id", moduleID),
				zap.Error(err))
		}
	}

	drainCtx, cancel := context.WithTimeout(ctx, a.interval)
	defer cancel()
	if err := a.pool.Drain(drainCtx); err != nil {
		a.logger.Warn("Archive cycle still draining at deadline", zap.Error(err))
		if a.metrics != nil {
			a.metrics.ArchiveCyclesTotal.WithLabelValues("timeout").Inc()
		}
		return
	}
	if a.metrics != nil {
		a.metrics.ArchiveCyclesTotal.WithLabelValues("ok").Inc()
	}
}

// archivePair rotates one pair's open segment, then uploads every closed
// segment oldest first. The first failing segment stops the pair's drain
// so segment order is preserved in the sink's retry stream.
func (a *ArchiveService) archivePair(ctx context.Context, tenantID, moduleID string) error {
	if _, err := a.journal.Rotate(tenantID, moduleID); err != nil {
		a.logger.Warn("Segment rotation failed",
			zap.String("tenant_id", tenantID),
			zap.String("module_id", moduleID),
			zap.Error(err))
		return err
	}

	segments, err := a.journal.ListClosedSegments(tenantID, moduleID)
	if err != nil {
		return err
	}
	for _, segment := range segments {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := a.journal.ReadSegment(segment)
		if err != nil {
			a.logger.Warn("Failed to read closed segment, retaining",
				zap.String("segment", segment),
				zap.Error(err))
			return err
		}
		if err := a.sink.UploadBatch(ctx, entries); err != nil {
			if a.metrics != nil {
				a.metrics.SegmentsFailed.Inc()
			}
			a.logger.Warn("Segment upload failed, retaining for next cycle",
				zap.String("tenant_id", tenantID),
				zap.String("module_id", moduleID),
				zap.String("segment", segment),
				zap.Int("entries", len(entries)),
				zap.Error(err))
			return err
		}
		if err := a.journal.DiscardSegment(segment); err != nil {
			a.logger.Warn("Failed to discard uploaded segment",
				zap.String("segment", segment),
				zap.Error(err))
			return err
		}
		if a.metrics != nil {
			a.metrics.SegmentsUploaded.Inc()
		}
		a.logger.Debug("Uploaded journal segment",
			zap.String("tenant_id", tenantID),
			zap.String("module_id", moduleID),
			zap.String("segment", segment),
			zap.Int("entries", len(entries)))
	}
	return nil
}

// Stop halts the cycle loop and shuts the worker pool down.
func (a *ArchiveService) Stop(timeout time.Duration) {
	a.stopOnce.Do(func() {
		close(a.stopChan)
		if a.started {
			select {
			case <-a.doneChan:
			case <-time.After(timeout):
			}
		}
		if err := a.pool.Stop(timeout); err != nil {
			a.logger.Warn("Archive worker pool stop", zap.Error(err))
		}
		a.logger.Info("Archive cycle stopped")
	})
}
