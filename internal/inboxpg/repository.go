// Package inboxpg implements inbox.Repository against PostgreSQL. Record
// follows the "attempt insert; on unique-violation, re-select" idiom for the
// (message_id, source) dedup key: the uniqueness check and the insert happen
// as a single statement (INSERT ... ON CONFLICT DO NOTHING), so no window
// exists between an exists-check and the insert for a concurrent duplicate
// delivery to land in.
package inboxpg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/codeforprod/eventforge/internal/errs"
	"github.com/codeforprod/eventforge/internal/inbox"
	"github.com/codeforprod/eventforge/internal/tsid"
)

// Repository implements inbox.Repository against a single Postgres table.
type Repository struct {
	db    *sql.DB
	table string
}

var _ inbox.Repository = (*Repository)(nil)

// New builds a Repository. table defaults to "inbox_messages".
func New(db *sql.DB, table string) *Repository {
	if table == "" {
		table = "inbox_messages"
	}
	return &Repository{db: db, table: table}
}

// Record inserts dto and returns {message, false}, or re-selects and returns
// {existing, true} if (message_id, source) was already recorded. The
// ON CONFLICT DO NOTHING + zero-rows-affected check is what makes this
// atomic: a concurrent insert of the same key can never be missed between
// the exists check and the insert, because there is no separate exists check.
func (r *Repository) Record(ctx context.Context, dto inbox.ReceiveDTO) (inbox.RecordResult, error) {
	now := time.Now().UTC()
	id := tsid.Generate()

	insert := fmt.Sprintf(`
		INSERT INTO %s (id, message_id, source, event_type, payload, status, retry_count, max_retries, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)
		ON CONFLICT (message_id, source) DO NOTHING
	`, r.table)

	res, err := r.db.ExecContext(ctx, insert, id, dto.MessageID, dto.Source, dto.EventType, dto.Payload,
		string(inbox.StatusReceived), dto.MaxRetries, now)
	if err != nil {
		if isUniqueViolation(err) {
			return r.reselect(ctx, dto.MessageID, dto.Source)
		}
		return inbox.RecordResult{}, fmt.Errorf("inboxpg: record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return inbox.RecordResult{}, fmt.Errorf("inboxpg: record rows affected: %w", err)
	}
	if n == 0 {
		return r.reselect(ctx, dto.MessageID, dto.Source)
	}

	return inbox.RecordResult{
		Message: &inbox.Message{
			ID:         id,
			MessageID:  dto.MessageID,
			Source:     dto.Source,
			EventType:  dto.EventType,
			Payload:    dto.Payload,
			Status:     inbox.StatusReceived,
			MaxRetries: dto.MaxRetries,
			CreatedAt:  now,
		},
		IsDuplicate: false,
	}, nil
}

func (r *Repository) reselect(ctx context.Context, messageID, source string) (inbox.RecordResult, error) {
	query := fmt.Sprintf(`
		SELECT id, message_id, source, event_type, payload, status, retry_count, max_retries,
			error_message, scheduled_at, processed_at, created_at
		FROM %s WHERE message_id = $1 AND source = $2
	`, r.table)

	msg, err := scanOne(r.db.QueryRowContext(ctx, query, messageID, source))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inbox.RecordResult{}, fmt.Errorf("inboxpg: record race with no visible row: %w", errs.ErrNotFound)
		}
		return inbox.RecordResult{}, fmt.Errorf("inboxpg: reselect: %w", err)
	}
	return inbox.RecordResult{Message: msg, IsDuplicate: true}, nil
}

// Exists reports whether (messageID, source) has already been recorded.
func (r *Repository) Exists(ctx context.Context, messageID, source string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE message_id = $1 AND source = $2)`, r.table)
	var exists bool
	err := r.db.QueryRowContext(ctx, query, messageID, source).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("inboxpg: exists: %w", err)
	}
	return exists, nil
}

// MarkProcessing transitions id to processing.
func (r *Repository) MarkProcessing(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $2 WHERE id = $1`, r.table)
	res, err := r.db.ExecContext(ctx, query, id, string(inbox.StatusProcessing))
	if err != nil {
		return fmt.Errorf("inboxpg: mark processing: %w", err)
	}
	return checkAffected(res, id)
}

// MarkProcessed transitions id to processed.
func (r *Repository) MarkProcessed(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $2, processed_at = NOW() WHERE id = $1`, r.table)
	res, err := r.db.ExecContext(ctx, query, id, string(inbox.StatusProcessed))
	if err != nil {
		return fmt.Errorf("inboxpg: mark processed: %w", err)
	}
	return checkAffected(res, id)
}

// MarkFailed mirrors outboxpg's MarkFailed: permanent forces
// permanently_failed; otherwise retry_count is incremented atomically with
// the rest of the update.
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
		    status = CASE
		        WHEN $4 THEN 'permanently_failed'
		        WHEN retry_count + 1 > max_retries THEN 'permanently_failed'
		        ELSE 'failed'
		    END
		WHERE id = $1
	`, r.table)

	res, err := r.db.ExecContext(ctx, query, id, errMsg, scheduled, permanent)
	if err != nil {
		return fmt.Errorf("inboxpg: mark failed: %w", err)
	}
	return checkAffected(res, id)
}

// FindRetryable returns up to limit failed, due, under-cap rows.
func (r *Repository) FindRetryable(ctx context.Context, limit int) ([]*inbox.Message, error) {
	query := fmt.Sprintf(`
		SELECT id, message_id, source, event_type, payload, status, retry_count, max_retries,
			error_message, scheduled_at, processed_at, created_at
		FROM %s
		WHERE status = 'failed' AND retry_count < max_retries
		  AND (scheduled_at IS NULL OR scheduled_at <= NOW())
		ORDER BY created_at
		LIMIT $1
	`, r.table)

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("inboxpg: find retryable: %w", err)
	}
	defer rows.Close()

	var out []*inbox.Message
	for rows.Next() {
		msg, err := scanRows(rows)
		if err != nil {
			return nil, fmt.Errorf("inboxpg: scan retryable: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes processed rows created before cutoff. Permanently
// failed rows are never cleaned up here; they stay visible for operators.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE status = 'processed' AND created_at < $1
	`, r.table)

	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("inboxpg: delete older than: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func checkAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("inboxpg: message %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505). ON CONFLICT DO NOTHING avoids this in the
// common case; it only surfaces under connection poolers or isolation levels
// that disable inference on the conflict target.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (*inbox.Message, error) {
	return scan(row)
}

func scanRows(rows *sql.Rows) (*inbox.Message, error) {
	return scan(rows)
}

func scan(s scanner) (*inbox.Message, error) {
	var msg inbox.Message
	var status string
	var errorMessage sql.NullString
	var scheduledAt, processedAt sql.NullTime

	err := s.Scan(
		&msg.ID, &msg.MessageID, &msg.Source, &msg.EventType, &msg.Payload,
		&status, &msg.RetryCount, &msg.MaxRetries,
		&errorMessage, &scheduledAt, &processedAt, &msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Status = inbox.Status(status)
	if errorMessage.Valid {
		msg.ErrorMessage = errorMessage.String
	}
	if scheduledAt.Valid {
		msg.ScheduledAt = scheduledAt.Time
	}
	if processedAt.Valid {
		t := processedAt.Time
		msg.ProcessedAt = &t
	}
	return &msg, nil
}
