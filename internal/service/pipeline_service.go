package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wareline/branchstore/internal/errors"
	"github.com/wareline/branchstore/internal/metrics"
	"github.com/wareline/branchstore/internal/model"
	"github.com/wareline/branchstore/internal/notify"
	"github.com/wareline/branchstore/internal/store"
	"github.com/wareline/branchstore/internal/validation"
)

// MutationRequest carries one client mutation through the pipeline.
type MutationRequest struct {
	TenantID string
	ModuleID string
	Table    string
	Action   model.Action
	Record   model.Record
	Meta     map[string]interface{}
	Context  store.MutationContext
}

// MutationResult reports the outcome of an applied mutation.
type MutationResult struct {
	Record       model.Record
	Created      bool
	Deleted      bool
	StoreVersion int64
	JournalEntry *model.JournalEntry
}

// pipelineLane serializes mutations for one (tenant, module) pair.
type pipelineLane struct {
	mu sync.Mutex
}

// PipelineService runs the mutation state machine: validate, apply
// sequence rules, mutate the store, persist the snapshot, journal the
// event, publish a notice. Mutations for the same (tenant, module) pair
// run strictly one at a time; different pairs proceed concurrently.
type PipelineService struct {
	lifecycle *LifecycleManager
	sequences *SequenceAllocator
	journal   *JournalService
	validator *validation.Validator
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu    sync.Mutex
	lanes map[string]*pipelineLane
}

// NewPipelineService creates a mutation pipeline
func NewPipelineService(
	lifecycle *LifecycleManager,
	sequences *SequenceAllocator,
	journal *JournalService,
	validator *validation.Validator,
	notifier notify.Notifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) *PipelineService {
	return &PipelineService{
		lifecycle: lifecycle,
		sequences: sequences,
		journal:   journal,
		validator: validator,
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
		lanes:     make(map[string]*pipelineLane),
	}
}

func (p *PipelineService) lane(key string) *pipelineLane {
	p.mu.Lock()
	defer p.mu.Unlock()
	lane, ok := p.lanes[key]
	if !ok {
		lane = &pipelineLane{}
		p.lanes[key] = lane
	}
	return lane
}

// Quiesce blocks until every mutation in flight at the time of the call
// has drained. Callers should stop producing mutations first; arrivals
// during the call are not waited for.
func (p *PipelineService) Quiesce(ctx context.Context) error {
	p.mu.Lock()
	lanes := make([]*pipelineLane, 0, len(p.lanes))
	for _, lane := range p.lanes {
		lanes = append(lanes, lane)
	}
	p.mu.Unlock()

	for _, lane := range lanes {
		if err := ctx.Err(); err != nil {
			return err
		}
		lane.mu.Lock()
		lane.mu.Unlock() //nolint:staticcheck // acquire-release waits out the in-flight mutation
	}
	return nil
}

// ApplyMutation runs one mutation end to end and returns its outcome.
func (p *PipelineService) ApplyMutation(ctx context.Context, req MutationRequest) (*MutationResult, error) {
	start := time.Now()
	result, err := p.apply(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if errors.IsValidation(err) {
			outcome = "rejected"
		} else if errors.IsConflict(err) {
			outcome = "conflict"
		}
	}
	if p.metrics != nil {
		p.metrics.MutationsTotal.WithLabelValues(string(req.Action), outcome).Inc()
		p.metrics.MutationDuration.Observe(time.Since(start).Seconds())
	}
	return result, err
}

func (p *PipelineService) apply(ctx context.Context, req MutationRequest) (*MutationResult, error) {
	if err := p.validator.ValidateMutation(req.TenantID, req.ModuleID, req.Table, req.Action, req.Record); err != nil {
		return nil, err
	}
	// Locked tables reject even before schema resolution; they may not be
	// in the schema at all.
	if err := p.validator.CheckTableMutable(req.Table); err != nil {
		return nil, err
	}

	st, err := p.lifecycle.EnsureStore(ctx, req.TenantID, req.ModuleID)
	if err != nil {
		return nil, err
	}
	table := st.FindCanonicalTableName(req.Table)
	if table == "" {
		return nil, errors.UnknownTable(req.TenantID, req.ModuleID, req.Table)
	}
	if err := p.validator.CheckTableMutable(table); err != nil {
		return nil, err
	}
	if err := p.validator.CheckGuarded(table, req.Action, req.Record); err != nil {
		return nil, err
	}

	lane := p.lane(StoreKey(req.TenantID, req.ModuleID))
	lane.mu.Lock()
	defer lane.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Sequence rules fire only on the creation path; partial updates of
	// existing records must not burn counters for fields they omit.
	if req.Action == model.ActionInsert || (req.Action.Mutating() && req.Record.ID() == "") {
		if err := p.sequences.ApplyAutoSequences(req.TenantID, req.ModuleID, table, req.Record); err != nil {
			return nil, err
		}
	}

	result, err := p.applyToStore(st, table, req)
	if err != nil {
		return nil, err
	}
	result.StoreVersion = st.Version()

	if err := p.lifecycle.Persist(ctx, st); err != nil {
		// The in-memory store already moved on; the next successful
		// persist writes a snapshot covering this mutation too.
		p.logger.Error("Snapshot persist failed after store mutation",
			zap.String("tenant_id", req.TenantID),
			zap.String("module_id", req.ModuleID),
			zap.String("table", table),
			zap.String("action", string(req.Action)),
			zap.Int64("store_version", result.StoreVersion),
			zap.Error(err))
		return nil, err
	}

	entry := &model.JournalEntry{
		TenantID:  req.TenantID,
		ModuleID:  req.ModuleID,
		Table:     table,
		Action:    req.Action,
		Record:    result.Record,
		Meta:      p.entryMeta(req, st.RecordReference(table, result.Record)),
		CreatedAt: time.Now().UTC(),
	}
	if err := p.journal.Append(req.TenantID, req.ModuleID, entry); err != nil {
		p.logger.Error("Journal append failed after persist",
			zap.String("tenant_id", req.TenantID),
			zap.String("module_id", req.ModuleID),
			zap.String("table", table),
			zap.String("journal_id", entry.ID),
			zap.Error(err))
		return nil, err
	}
	result.JournalEntry = entry

	p.publish(ctx, req, table, result, entry)
	return result, nil
}

func (p *PipelineService) applyToStore(st *store.TableStore, table string, req MutationRequest) (*MutationResult, error) {
	switch req.Action {
	case model.ActionInsert:
		rec, err := st.Insert(table, req.Record, req.Context)
		if err != nil {
			return nil, err
		}
		return &MutationResult{Record: rec, Created: true}, nil
	case model.ActionMerge, model.ActionSave:
		rec, created, err := st.Save(table, req.Record, req.Context)
		if err != nil {
			return nil, err
		}
		return &MutationResult{Record: rec, Created: created}, nil
	case model.ActionDelete:
		rec, err := st.Remove(table, req.Record.ID(), req.Context)
		if err != nil {
			return nil, err
		}
		return &MutationResult{Record: rec, Deleted: rec != nil}, nil
	default:
		return nil, errors.UnknownAction(string(req.Action))
	}
}

func (p *PipelineService) entryMeta(req MutationRequest, ref model.RecordRef) map[string]interface{} {
	meta := make(map[string]interface{}, len(req.Meta)+4)
	for k, v := range req.Meta {
		meta[k] = v
	}
	if ref.Key != "" {
		meta["recordKey"] = ref.Key
	}
	if req.Context.ClientID != "" {
		meta["clientId"] = req.Context.ClientID
	}
	if req.Context.UserID != "" {
		meta["userId"] = req.Context.UserID
	}
	if req.Context.Source != "" {
		meta["source"] = req.Context.Source
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

func (p *PipelineService) publish(ctx context.Context, req MutationRequest, table string, result *MutationResult, entry *model.JournalEntry) {
	if p.notifier == nil {
		return
	}
	var recordID string
	if result.Record != nil {
		recordID = result.Record.ID()
	}
	p.notifier.Publish(ctx, notify.Notice{
		TenantID:  req.TenantID,
		ModuleID:  req.ModuleID,
		Table:     table,
		Action:    string(req.Action),
		RecordID:  recordID,
		Version:   result.StoreVersion,
		JournalID: entry.ID,
		Meta:      entry.Meta,
		EmittedAt: time.Now().UTC(),
	})
	if p.metrics != nil {
		p.metrics.NoticesPublished.Inc()
	}
}
