// Package outboxpg implements outbox.Repository against PostgreSQL using
// database/sql and the pgx driver. The atomic claim uses a CTE with
// FOR UPDATE SKIP LOCKED: the CTE selects and locks candidate rows, then an
// UPDATE ... FROM the CTE flips them to processing and returns the full row
// in one round trip, so concurrent pollers never double-claim.
package outboxpg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codeforprod/eventforge/internal/errs"
	"github.com/codeforprod/eventforge/internal/outbox"
	"github.com/codeforprod/eventforge/internal/tsid"
)

// Repository implements outbox.Repository against a single Postgres table.
type Repository struct {
	db    *sql.DB
	table string
}

var _ outbox.Repository = (*Repository)(nil)

// New builds a Repository. table defaults to "outbox_messages".
func New(db *sql.DB, table string) *Repository {
	if table == "" {
		table = "outbox_messages"
	}
	return &Repository{db: db, table: table}
}

// queryer is satisfied by both *sql.DB and *sql.Tx, letting every method run
// either standalone or inside the transaction handed in through outbox.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *Repository) queryer(tx outbox.Tx) queryer {
	if tx == nil {
		return r.db
	}
	if sqlTx, ok := tx.(*sql.Tx); ok {
		return sqlTx
	}
	return r.db
}

// Create inserts a new pending row, optionally inside tx.
func (r *Repository) Create(ctx context.Context, dto outbox.CreateDTO, tx outbox.Tx) (*outbox.Message, error) {
	metadataJSON, err := marshalMetadata(dto.Metadata)
	if err != nil {
		return nil, fmt.Errorf("outboxpg: marshal metadata: %w", err)
	}

	now := time.Now().UTC()
	msg := &outbox.Message{
		ID:            tsid.Generate(),
		AggregateType: dto.AggregateType,
		AggregateID:   dto.AggregateID,
		EventType:     dto.EventType,
		Payload:       dto.Payload,
		Metadata:      dto.Metadata,
		Status:        outbox.StatusPending,
		MaxRetries:    dto.MaxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, aggregate_type, aggregate_id, event_type, payload, metadata,
			status, retry_count, max_retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10)
	`, r.table)

	_, err = r.queryer(tx).ExecContext(ctx, query,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, metadataJSON,
		string(msg.Status), msg.MaxRetries, msg.CreatedAt, msg.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("outboxpg: create: %w", err)
	}
	return msg, nil
}

// FetchAndLockPending atomically claims up to limit eligible rows via a
// CTE + UPDATE ... FROM ... FOR UPDATE SKIP LOCKED, oldest rows first.
func (r *Repository) FetchAndLockPending(ctx context.Context, limit int, workerID string) ([]*outbox.Message, error) {
	query := fmt.Sprintf(`
		WITH selected AS (
			SELECT id FROM %s
			WHERE (status = 'pending')
			   OR (status = 'failed' AND scheduled_at <= NOW())
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE %s t
		SET status = 'processing', locked_by = $2, locked_at = NOW(), updated_at = NOW()
		FROM selected s
		WHERE t.id = s.id
		RETURNING t.id, t.aggregate_type, t.aggregate_id, t.event_type, t.payload, t.metadata,
			t.status, t.retry_count, t.max_retries, t.error_message, t.scheduled_at,
			t.locked_by, t.locked_at, t.created_at, t.updated_at
	`, r.table, r.table)

	rows, err := r.db.QueryContext(ctx, query, limit, workerID)
	if err != nil {
		return nil, fmt.Errorf("outboxpg: fetch and lock pending: %w", err)
	}
	defer rows.Close()

	var out []*outbox.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("outboxpg: scan: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// MarkPublished transitions id to published.
func (r *Repository) MarkPublished(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = 'published', updated_at = NOW() WHERE id = $1`, r.table)
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("outboxpg: mark published: %w", err)
	}
	return checkAffected(res, id)
}

// MarkFailed records a publish failure. The CASE expression re-derives the
// permanent transition from max_retries as defense in depth even though the
// relay already decided it, so a row can never accumulate retries past its
// own limit regardless of caller behavior.
func (r *Repository) MarkFailed(ctx context.Context, id string, errMsg string, permanent bool, scheduledAt time.Time) error {
	var scheduled any
	if !scheduledAt.IsZero() {
		scheduled = scheduledAt
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET retry_count = retry_count + 1,
		    error_message = $2,
		    scheduled_at = $3,
		    updated_at = NOW(),
		    status = CASE
		        WHEN $4 THEN 'permanently_failed'
		        WHEN retry_count + 1 > max_retries THEN 'permanently_failed'
		        ELSE 'failed'
		    END
		WHERE id = $1
	`, r.table)

	res, err := r.db.ExecContext(ctx, query, id, errMsg, scheduled, permanent)
	if err != nil {
		return fmt.Errorf("outboxpg: mark failed: %w", err)
	}
	return checkAffected(res, id)
}

// ReleaseLock returns a processing row to pending, clearing its lock.
func (r *Repository) ReleaseLock(ctx context.Context, id string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'pending', locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, r.table)

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("outboxpg: release lock: %w", err)
	}
	return checkAffected(res, id)
}

// ReleaseStaleLocks resets rows stuck in processing whose lock predates cutoff.
func (r *Repository) ReleaseStaleLocks(ctx context.Context, cutoff time.Time) (int, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'pending', locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE status = 'processing' AND locked_at < $1
	`, r.table)

	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("outboxpg: release stale locks: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteOlderThan removes published rows created before cutoff. Permanently
// failed rows are never cleaned up here; they stay visible for operators.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE status = 'published' AND created_at < $1
	`, r.table)

	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("outboxpg: delete older than: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// WithTransaction runs fn inside a *sql.Tx, committing on nil and rolling
// back otherwise.
func (r *Repository) WithTransaction(ctx context.Context, fn func(tx outbox.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("outboxpg: begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("outboxpg: rollback after %w: %v", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

func checkAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("outboxpg: message %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func scanMessage(rows *sql.Rows) (*outbox.Message, error) {
	var msg outbox.Message
	var metadataJSON []byte
	var errorMessage sql.NullString
	var scheduledAt, lockedAt sql.NullTime
	var lockedBy sql.NullString
	var status string

	err := rows.Scan(
		&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload, &metadataJSON,
		&status, &msg.RetryCount, &msg.MaxRetries, &errorMessage, &scheduledAt,
		&lockedBy, &lockedAt, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Status = outbox.Status(status)
	if errorMessage.Valid {
		msg.ErrorMessage = errorMessage.String
	}
	if scheduledAt.Valid {
		msg.ScheduledAt = scheduledAt.Time
	}
	if lockedBy.Valid {
		msg.LockedBy = lockedBy.String
	}
	if lockedAt.Valid {
		t := lockedAt.Time
		msg.LockedAt = &t
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return &msg, nil
}
