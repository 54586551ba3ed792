package outbox

import (
	"context"
	"time"

	"github.com/codeforprod/eventforge/internal/common/repository"
)

// instrumentedRepository decorates a Repository with per-operation duration
// histograms, result counters, and slow-query logging.
type instrumentedRepository struct {
	inner Repository
	name  string
}

// NewInstrumentedRepository wraps inner so every storage call is recorded
// under the given collection/table name. Wrap the concrete adapter once at
// wire-up time; the relay stays unaware of the decoration.
func NewInstrumentedRepository(inner Repository, name string) Repository {
	return &instrumentedRepository{inner: inner, name: name}
}

func (r *instrumentedRepository) Create(ctx context.Context, dto CreateDTO, tx Tx) (*Message, error) {
	return repository.Instrument(ctx, r.name, "create", func() (*Message, error) {
		return r.inner.Create(ctx, dto, tx)
	})
}

func (r *instrumentedRepository) FetchAndLockPending(ctx context.Context, limit int, workerID string) ([]*Message, error) {
	return repository.Instrument(ctx, r.name, "fetch_and_lock_pending", func() ([]*Message, error) {
		return r.inner.FetchAndLockPending(ctx, limit, workerID)
	})
}

func (r *instrumentedRepository) MarkPublished(ctx context.Context, id string) error {
	return repository.InstrumentVoid(ctx, r.name, "mark_published", func() error {
		return r.inner.MarkPublished(ctx, id)
	})
}

func (r *instrumentedRepository) MarkFailed(ctx context.Context, id string, errMsg string, permanent bool, scheduledAt time.Time) error {
	return repository.InstrumentVoid(ctx, r.name, "mark_failed", func() error {
		return r.inner.MarkFailed(ctx, id, errMsg, permanent, scheduledAt)
	})
}

func (r *instrumentedRepository) ReleaseLock(ctx context.Context, id string) error {
	return repository.InstrumentVoid(ctx, r.name, "release_lock", func() error {
		return r.inner.ReleaseLock(ctx, id)
	})
}

func (r *instrumentedRepository) ReleaseStaleLocks(ctx context.Context, cutoff time.Time) (int, error) {
	return repository.Instrument(ctx, r.name, "release_stale_locks", func() (int, error) {
		return r.inner.ReleaseStaleLocks(ctx, cutoff)
	})
}

func (r *instrumentedRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return repository.Instrument(ctx, r.name, "delete_older_than", func() (int, error) {
		return r.inner.DeleteOlderThan(ctx, cutoff)
	})
}

func (r *instrumentedRepository) WithTransaction(ctx context.Context, fn func(tx Tx) error) error {
	return repository.InstrumentVoid(ctx, r.name, "with_transaction", func() error {
		return r.inner.WithTransaction(ctx, fn)
	})
}
