package inbox

import (
	"context"
	"time"
)

// Repository is the storage contract the inbox service drives.
// Implementations must make the (message_id, source) uniqueness check and
// insert atomic: the canonical shape is "attempt insert; on unique-violation,
// re-select and return the existing row", never a separate exists-then-insert
// pair that races under concurrent delivery.
type Repository interface {
	// Record idempotently inserts dto, returning {message, is_duplicate:true}
	// if (message_id, source) already exists. Any race that yields a
	// unique-violation but no visible row on re-select is a bug in the
	// adapter and must return an error rather than silently drop the message.
	Record(ctx context.Context, dto ReceiveDTO) (RecordResult, error)

	// Exists reports whether (messageID, source) has already been recorded.
	Exists(ctx context.Context, messageID, source string) (bool, error)

	MarkProcessing(ctx context.Context, id string) error
	MarkProcessed(ctx context.Context, id string) error

	// MarkFailed mirrors outbox.Repository.MarkFailed: permanent forces
	// PermanentlyFailed regardless of retry_count; otherwise retry_count is
	// incremented atomically with the status write and scheduledAt records
	// the next eligible retry time (zero value means "retry disabled / no
	// schedule").
	MarkFailed(ctx context.Context, id string, errMsg string, permanent bool, scheduledAt time.Time) error

	// FindRetryable returns up to limit rows with status=Failed,
	// retry_count<max_retries, and scheduled_at<=now (or unset), in
	// created_at order. Only required when inbox retry is enabled.
	FindRetryable(ctx context.Context, limit int) ([]*Message, error)

	// DeleteOlderThan removes Processed rows created before cutoff. Returns
	// the count removed. PermanentlyFailed rows are terminal but NOT
	// deletable: they stay behind for operator inspection, mirroring the
	// outbox retention rule.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
