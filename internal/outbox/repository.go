package outbox

import (
	"context"
	"time"
)

// Repository is the storage contract the relay engine drives. Concrete
// adapters (internal/outboxpg, internal/outboxmongo) implement this against
// Postgres and MongoDB respectively; both must provide an atomic claim that
// is safe under concurrent pollers without double-delivery.
type Repository interface {
	// Create inserts a new pending message, optionally inside tx so callers
	// can write their own aggregate change and the outbox row atomically.
	// If tx is nil, Create runs in its own transaction.
	Create(ctx context.Context, dto CreateDTO, tx Tx) (*Message, error)

	// FetchAndLockPending atomically claims up to limit messages that are
	// Pending (or Failed and due for retry, i.e. scheduled_at <= now) and not
	// currently locked by another worker, marking them Processing and
	// stamping locked_by/locked_at in the same operation. Implementations
	// must guarantee no two concurrent callers can claim the same row
	// (FOR UPDATE SKIP LOCKED on Postgres, a status-guarded FindOneAndUpdate
	// loop on Mongo).
	FetchAndLockPending(ctx context.Context, limit int, workerID string) ([]*Message, error)

	// MarkPublished transitions id to Published.
	MarkPublished(ctx context.Context, id string) error

	// MarkFailed records a publish failure. When permanent is true the
	// message moves to PermanentlyFailed regardless of retry_count;
	// otherwise it increments retry_count (atomically, in the same
	// statement/operation that writes the new status) and moves to Failed
	// with scheduledAt as the next eligible attempt time, or to
	// PermanentlyFailed if the incremented retry_count now exceeds
	// max_retries.
	MarkFailed(ctx context.Context, id string, errMsg string, permanent bool, scheduledAt time.Time) error

	// ReleaseLock voluntarily returns a Processing row to Pending, clearing
	// locked_by/locked_at, without recording an attempt. Operational escape
	// hatch for a worker relinquishing a claim it knows it won't settle; the
	// relay itself never abandons a claim this way.
	ReleaseLock(ctx context.Context, id string) error

	// ReleaseStaleLocks reclaims rows stuck in Processing because their
	// owning worker died mid-publish: any row locked_at before cutoff is
	// reset to Pending with locked_by/locked_at cleared. Returns the count
	// reclaimed.
	ReleaseStaleLocks(ctx context.Context, cutoff time.Time) (int, error)

	// DeleteOlderThan removes Published rows created before cutoff. Returns
	// the count removed. PermanentlyFailed rows are terminal but NOT
	// deletable: they stay behind for operator inspection and manual
	// intervention, so retention only ever reclaims the happy path.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// WithTransaction runs fn inside a backend transaction, passing the
	// opaque handle through Tx so callers can pair aggregate writes with
	// Create. The transaction commits if fn returns nil, rolls back otherwise.
	WithTransaction(ctx context.Context, fn func(tx Tx) error) error
}
