package outboxpg

import (
	"context"
	"fmt"
)

// CreateSchema creates the outbox table and its supporting indexes if they
// don't already exist. Indexes are partial, scoped to the hot statuses
// rather than a single blanket index.
func (r *Repository) CreateSchema(ctx context.Context) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(13) PRIMARY KEY,
			aggregate_type VARCHAR(255) NOT NULL,
			aggregate_id VARCHAR(255) NOT NULL,
			event_type VARCHAR(255) NOT NULL,
			payload BYTEA NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			retry_count INT NOT NULL DEFAULT 0,
			max_retries INT NOT NULL DEFAULT 0,
			error_message TEXT,
			scheduled_at TIMESTAMPTZ,
			locked_by VARCHAR(255),
			locked_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, r.table)
	if _, err := r.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("outboxpg: create table %s: %w", r.table, err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_pending ON %s(aggregate_id, created_at) WHERE status = 'pending'`, r.table, r.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_retry ON %s(scheduled_at) WHERE status = 'failed'`, r.table, r.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_processing ON %s(locked_at) WHERE status = 'processing'`, r.table, r.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created_at ON %s(created_at)`, r.table, r.table),
	}
	for _, idx := range indexes {
		if _, err := r.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("outboxpg: create index on %s: %w", r.table, err)
		}
	}
	return nil
}
