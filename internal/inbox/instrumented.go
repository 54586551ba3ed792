package inbox

import (
	"context"
	"time"

	"github.com/codeforprod/eventforge/internal/common/repository"
)

// instrumentedRepository decorates a Repository with per-operation duration
// histograms, result counters, and slow-query logging, mirroring the outbox
// decorator.
type instrumentedRepository struct {
	inner Repository
	name  string
}

// NewInstrumentedRepository wraps inner so every storage call is recorded
// under the given collection/table name.
func NewInstrumentedRepository(inner Repository, name string) Repository {
	return &instrumentedRepository{inner: inner, name: name}
}

func (r *instrumentedRepository) Record(ctx context.Context, dto ReceiveDTO) (RecordResult, error) {
	return repository.Instrument(ctx, r.name, "record", func() (RecordResult, error) {
		return r.inner.Record(ctx, dto)
	})
}

func (r *instrumentedRepository) Exists(ctx context.Context, messageID, source string) (bool, error) {
	return repository.Instrument(ctx, r.name, "exists", func() (bool, error) {
		return r.inner.Exists(ctx, messageID, source)
	})
}

func (r *instrumentedRepository) MarkProcessing(ctx context.Context, id string) error {
	return repository.InstrumentVoid(ctx, r.name, "mark_processing", func() error {
		return r.inner.MarkProcessing(ctx, id)
	})
}

func (r *instrumentedRepository) MarkProcessed(ctx context.Context, id string) error {
	return repository.InstrumentVoid(ctx, r.name, "mark_processed", func() error {
		return r.inner.MarkProcessed(ctx, id)
	})
}

func (r *instrumentedRepository) MarkFailed(ctx context.Context, id string, errMsg string, permanent bool, scheduledAt time.Time) error {
	return repository.InstrumentVoid(ctx, r.name, "mark_failed", func() error {
		return r.inner.MarkFailed(ctx, id, errMsg, permanent, scheduledAt)
	})
}

func (r *instrumentedRepository) FindRetryable(ctx context.Context, limit int) ([]*Message, error) {
	return repository.Instrument(ctx, r.name, "find_retryable", func() ([]*Message, error) {
		return r.inner.FindRetryable(ctx, limit)
	})
}

func (r *instrumentedRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return repository.Instrument(ctx, r.name, "delete_older_than", func() (int, error) {
		return r.inner.DeleteOlderThan(ctx, cutoff)
	})
}
