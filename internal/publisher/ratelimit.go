package publisher

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/codeforprod/eventforge/internal/outbox"
)

// RateLimited wraps an outbox.Publisher with a token-bucket limiter so a
// large claimed batch doesn't burst the broker all at once. Publish blocks
// until a token is available or ctx is cancelled; the relay's poll pass
// therefore self-paces instead of erroring when the bucket is empty.
type RateLimited struct {
	inner   outbox.Publisher
	limiter *rate.Limiter
}

// NewRateLimited wraps inner at perSecond publishes per second with the
// given burst. perSecond <= 0 disables limiting and returns inner unchanged.
func NewRateLimited(inner outbox.Publisher, perSecond float64, burst int) outbox.Publisher {
	if perSecond <= 0 {
		return inner
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (r *RateLimited) Publish(ctx context.Context, msg *outbox.Message, opts outbox.PublishOptions) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.inner.Publish(ctx, msg, opts)
}

func (r *RateLimited) Connect(ctx context.Context) error {
	if c, ok := r.inner.(outbox.Connector); ok {
		return c.Connect(ctx)
	}
	return nil
}

func (r *RateLimited) Disconnect(ctx context.Context) error {
	if c, ok := r.inner.(outbox.Connector); ok {
		return c.Disconnect(ctx)
	}
	return nil
}

func (r *RateLimited) IsConnected() bool {
	if c, ok := r.inner.(outbox.Connector); ok {
		return c.IsConnected()
	}
	return true
}
