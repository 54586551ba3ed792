package inboxpg

import (
	"context"
	"fmt"
)

// CreateSchema creates the inbox table and its supporting indexes if they
// don't already exist. The (message_id, source) unique constraint is the
// storage-level enforcement of the dedup key; Record relies on it via
// ON CONFLICT DO NOTHING rather than re-deriving uniqueness in application code.
func (r *Repository) CreateSchema(ctx context.Context) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(13) PRIMARY KEY,
			message_id VARCHAR(255) NOT NULL,
			source VARCHAR(255) NOT NULL,
			event_type VARCHAR(255) NOT NULL,
			payload BYTEA NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'received',
			retry_count INT NOT NULL DEFAULT 0,
			max_retries INT NOT NULL DEFAULT 0,
			error_message TEXT,
			scheduled_at TIMESTAMPTZ,
			processed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT uq_%s_message_source UNIQUE (message_id, source)
		)
	`, r.table, r.table)
	if _, err := r.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("inboxpg: create table %s: %w", r.table, err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_retry ON %s(scheduled_at) WHERE status = 'failed'`, r.table, r.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_event_type ON %s(event_type)`, r.table, r.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created_at ON %s(created_at)`, r.table, r.table),
	}
	for _, idx := range indexes {
		if _, err := r.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("inboxpg: create index on %s: %w", r.table, err)
		}
	}
	return nil
}
