package store

import (
	"sync"

	"github.com/google/uuid"

	"github.com/wareline/branchstore/internal/errors"
	"github.com/wareline/branchstore/internal/model"
)

// MutationContext carries the origin of a mutation for journaling and audit.
// It is informational only; the store never branches on it.
type MutationContext struct {
	ClientID string
	UserID   string
	Source   string
}

// TableStore is the in-memory relational dataset for one (tenant, module)
// pair. Insertion order is preserved per table for deterministic listing.
// The store-wide version increments exactly once per applied mutation and is
// the single source of truth for staleness checks by polling clients.
type TableStore struct {
	tenantID string
	moduleID string
	schema   *model.ModuleSchema

	mu      sync.RWMutex
	version int64
	meta    map[string]interface{}
	tables  map[string][]model.Record
}

// New creates an empty store bound to a module schema. Every schema table
// starts present and empty.
func New(tenantID, moduleID string, schema *model.ModuleSchema) *TableStore {
	tables := make(map[string][]model.Record, len(schema.Tables))
	for _, name := range schema.TableNames() {
		tables[name] = nil
	}
	return &TableStore{
		tenantID: tenantID,
		moduleID: moduleID,
		schema:   schema,
		version:  1,
		meta:     make(map[string]interface{}),
		tables:   tables,
	}
}

// TenantID returns the owning tenant id.
func (s *TableStore) TenantID() string { return s.tenantID }

// ModuleID returns the owning module id.
func (s *TableStore) ModuleID() string { return s.moduleID }

// Version returns the store-wide mutation counter. Safe to compare with >
// for staleness detection.
func (s *TableStore) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Insert appends a record to a table. An id is assigned if absent and the
// record version starts at 1.
func (s *TableStore) Insert(table string, record model.Record, ctx MutationContext) (model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	canonical, err := s.canonical(table)
	if err != nil {
		return nil, err
	}
	return s.insertLocked(canonical, record), nil
}

// Merge shallow-merges a partial record into the record with the same id,
// bumping both the record version and the store version. A partial carrying
// a record version that no longer matches the stored value fails with a
// conflict and leaves the record untouched. An unknown id inserts instead.
func (s *TableStore) Merge(table string, partial model.Record, ctx MutationContext) (model.Record, error) {
	record, _, err := s.save(table, partial)
	return record, err
}

// Save applies Merge semantics and reports whether the effective operation
// was an insert, for callers that don't know in advance.
func (s *TableStore) Save(table string, record model.Record, ctx MutationContext) (model.Record, bool, error) {
	return s.save(table, record)
}

func (s *TableStore) save(table string, record model.Record) (model.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	canonical, err := s.canonical(table)
	if err != nil {
		return nil, false, err
	}

	id := record.ID()
	if id == "" {
		return s.insertLocked(canonical, record), true, nil
	}

	rows := s.tables[canonical]
	for i, existing := range rows {
		if existing.ID() != id {
			continue
		}
		observed := record.RecordVersion()
		stored := existing.RecordVersion()
		if observed > 0 && observed != stored {
			return nil, false, errors.Conflict(canonical, id, observed, stored)
		}
		merged := existing.MergeFields(record)
		merged.SetRecordVersion(stored + 1)
		rows[i] = merged
		s.version++
		return merged.Clone(), false, nil
	}

	return s.insertLocked(canonical, record), true, nil
}

// insertLocked assumes s.mu is held and table is canonical.
func (s *TableStore) insertLocked(table string, record model.Record) model.Record {
	stored := record.Clone()
	if stored == nil {
		stored = model.Record{}
	}
	if stored.ID() == "" {
		stored[model.FieldID] = uuid.NewString()
	}
	stored.SetRecordVersion(1)
	s.tables[table] = append(s.tables[table], stored)
	s.version++
	return stored.Clone()
}

// Remove deletes the record with the given id and returns its pre-deletion
// snapshot, or nil if no record matched. The store version bumps only when a
// record was actually removed.
func (s *TableStore) Remove(table, id string, ctx MutationContext) (model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	canonical, err := s.canonical(table)
	if err != nil {
		return nil, err
	}

	rows := s.tables[canonical]
	for i, existing := range rows {
		if existing.ID() != id {
			continue
		}
		removed := existing.Clone()
		s.tables[canonical] = append(rows[:i:i], rows[i+1:]...)
		s.version++
		return removed, nil
	}
	return nil, nil
}

// ListTable returns a deep-copied snapshot of a table in insertion order.
func (s *TableStore) ListTable(table string) ([]model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	canonical, err := s.canonical(table)
	if err != nil {
		return nil, err
	}
	rows := s.tables[canonical]
	out := make([]model.Record, len(rows))
	for i, record := range rows {
		out[i] = record.Clone()
	}
	return out, nil
}

// FindCanonicalTableName resolves a requested name against the schema,
// matching case-insensitively and through aliases. Returns "" when unknown.
func (s *TableStore) FindCanonicalTableName(requested string) string {
	return s.schema.Canonical(requested)
}

// RestoreTables bulk-replaces table contents, used by bulk-sync import.
// Records bypass per-record merge semantics and keep their versions as
// given; the store version bumps once for the whole restore.
func (s *TableStore) RestoreTables(tables map[string][]model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	canonicalized := make(map[string][]model.Record, len(tables))
	for name, rows := range tables {
		canonical, err := s.canonical(name)
		if err != nil {
			return err
		}
		copied := make([]model.Record, len(rows))
		for i, record := range rows {
			copied[i] = record.Clone()
		}
		canonicalized[canonical] = copied
	}
	for name, rows := range canonicalized {
		s.tables[name] = rows
	}
	s.version++
	return nil
}

// SeedTable fills a table from seed data without bumping the store version.
// Used only during hydration, before the store is published.
func (s *TableStore) SeedTable(table string, rows []model.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	canonical := s.schema.Canonical(table)
	if canonical == "" {
		return
	}
	copied := make([]model.Record, len(rows))
	for i, record := range rows {
		stored := record.Clone()
		if stored.ID() == "" {
			stored[model.FieldID] = uuid.NewString()
		}
		if stored.RecordVersion() == 0 {
			stored.SetRecordVersion(1)
		}
		copied[i] = stored
	}
	s.tables[canonical] = copied
}

// Snapshot returns the full serializable state of the store.
func (s *TableStore) Snapshot() *model.StoreSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tables := make(map[string][]model.Record, len(s.tables))
	for name, rows := range s.tables {
		copied := make([]model.Record, len(rows))
		for i, record := range rows {
			copied[i] = record.Clone()
		}
		tables[name] = copied
	}
	meta := make(map[string]interface{}, len(s.meta))
	for k, v := range s.meta {
		meta[k] = v
	}
	return &model.StoreSnapshot{
		TenantID: s.tenantID,
		ModuleID: s.moduleID,
		Version:  s.version,
		Meta:     meta,
		Tables:   tables,
	}
}

// LoadSnapshot replaces store state from a persisted snapshot. Tables
// present in the snapshot win over whatever the store currently holds.
func (s *TableStore) LoadSnapshot(snap *model.StoreSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.Version > 0 {
		s.version = snap.Version
	}
	if snap.Meta != nil {
		s.meta = make(map[string]interface{}, len(snap.Meta))
		for k, v := range snap.Meta {
			s.meta[k] = v
		}
	}
	for name, rows := range snap.Tables {
		canonical := s.schema.Canonical(name)
		if canonical == "" {
			canonical = name
		}
		copied := make([]model.Record, len(rows))
		for i, record := range rows {
			copied[i] = record.Clone()
		}
		s.tables[canonical] = copied
	}
}

// HasTableData reports whether a table currently holds any records.
func (s *TableStore) HasTableData(table string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	canonical := s.schema.Canonical(table)
	if canonical == "" {
		return false
	}
	return len(s.tables[canonical]) > 0
}

// TotalRecords counts records across all tables.
func (s *TableStore) TotalRecords() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, rows := range s.tables {
		total += len(rows)
	}
	return total
}

// Meta returns a copy of the store's bookkeeping bag.
func (s *TableStore) Meta() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.meta))
	for k, v := range s.meta {
		out[k] = v
	}
	return out
}

// SetMeta stores a bookkeeping value.
func (s *TableStore) SetMeta(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[key] = value
}

// RecordReference builds a reference for journal meta and notices. The
// table name is canonicalized so references built from aliases compare
// equal to references built from the canonical name.
func (s *TableStore) RecordReference(table string, record model.Record) model.RecordRef {
	canonical := s.schema.Canonical(table)
	if canonical == "" {
		canonical = table
	}
	ref := model.RecordRef{Table: canonical}
	if record != nil {
		ref.ID = record.ID()
		if ref.ID != "" {
			ref.Key = canonical + ":" + ref.ID
		}
	}
	return ref
}

func (s *TableStore) canonical(table string) (string, error) {
	canonical := s.schema.Canonical(table)
	if canonical == "" {
		return "", errors.UnknownTable(s.tenantID, s.moduleID, table)
	}
	return canonical, nil
}
