package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wareline/branchstore/internal/errors"
	"github.com/wareline/branchstore/internal/model"
)

// JournalSink receives batches of journal entries for durable archival.
type JournalSink interface {
	EnsureSchema(ctx context.Context) error
	UploadBatch(ctx context.Context, entries []model.JournalEntry) error
	Close()
}

const createJournalTable = `
CREATE TABLE IF NOT EXISTS event_journal (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT NOT NULL,
    module_id   TEXT NOT NULL,
    table_name  TEXT NOT NULL,
    action      TEXT NOT NULL,
    sequence    BIGINT NOT NULL,
    payload     JSONB,
    meta        JSONB,
    created_at  TIMESTAMPTZ,
    recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS event_journal_pair_seq_idx
    ON event_journal (tenant_id, module_id, sequence);
`

const upsertJournalEntry = `
INSERT INTO event_journal
    (id, tenant_id, module_id, table_name, action, sequence, payload, meta, created_at, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
    sequence    = EXCLUDED.sequence,
    payload     = EXCLUDED.payload,
    meta        = EXCLUDED.meta,
    recorded_at = EXCLUDED.recorded_at
`

// PostgresSink archives journal entries into a shared Postgres table.
// Uploads are idempotent: re-sending a segment after a partial failure
// upserts rather than duplicating.
type PostgresSink struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresSink connects a sink to the archival database
func NewPostgresSink(ctx context.Context, databaseURL string, logger *zap.Logger) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.ArchivalUnavailable("failed to create archival pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.ArchivalUnavailable("failed to reach archival database", err)
	}
	return &PostgresSink{pool: pool, logger: logger}, nil
}

// EnsureSchema creates the journal table and its index when absent.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createJournalTable); err != nil {
		return errors.ArchivalUnavailable("failed to ensure journal schema", err)
	}
	return nil
}

// UploadBatch writes a segment's entries in one transaction. Either the
// whole segment lands or none of it does, so the caller can safely retain
// and retry the segment.
func (s *PostgresSink) UploadBatch(ctx context.Context, entries []model.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.ArchivalUnavailable("failed to begin archival transaction", err)
	}
	defer tx.Rollback(ctx)

	for i := range entries {
		entry := &entries[i]
		payload, err := json.Marshal(entry.Record)
		if err != nil {
			return errors.ArchivalUnavailable(fmt.Sprintf("failed to encode payload for entry %s", entry.ID), err)
		}
		meta, err := json.Marshal(entry.Meta)
		if err != nil {
			return errors.ArchivalUnavailable(fmt.Sprintf("failed to encode meta for entry %s", entry.ID), err)
		}
		if _, err := tx.Exec(ctx, upsertJournalEntry,
			entry.ID, entry.TenantID, entry.ModuleID, entry.Table, string(entry.Action),
			entry.Sequence, payload, meta, entry.CreatedAt, entry.RecordedAt); err != nil {
			return errors.ArchivalUnavailable(fmt.Sprintf("failed to upsert entry %s", entry.ID), err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.ArchivalUnavailable("failed to commit archival transaction", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresSink) Close() {
	s.pool.Close()
}
