package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/codeforprod/eventforge/internal/common/metrics"
	"github.com/codeforprod/eventforge/internal/errs"
	"github.com/codeforprod/eventforge/internal/outbox"
)

// CircuitBreaker wraps an outbox.Publisher with a gobreaker circuit breaker
// so a broker outage trips the circuit instead of hammering a downed broker
// with every claimed message. Trip state is exported via
// metrics.PublisherCircuitBreakerState so operators can alert on it,
// labeled per queue type (nats/sqs).
type CircuitBreaker struct {
	inner     outbox.Publisher
	cb        *gobreaker.CircuitBreaker
	queueType string
}

// NewCircuitBreaker wraps inner, tripping open after 5 consecutive failures
// and probing again after 30s, matching the conservative defaults a
// publish-path breaker should use (publish failures are already retried
// with backoff by the relay, so the breaker only needs to shed load during
// a sustained outage).
func NewCircuitBreaker(inner outbox.Publisher, queueType string) *CircuitBreaker {
	cb := &CircuitBreaker{inner: inner, queueType: queueType}

	cb.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "outbox-publisher-" + queueType,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.PublisherCircuitBreakerState.WithLabelValues(queueType).Set(stateGauge(to))
			if to == gobreaker.StateOpen {
				metrics.PublisherCircuitBreakerTrips.WithLabelValues(queueType).Inc()
			}
		},
	})
	metrics.PublisherCircuitBreakerState.WithLabelValues(queueType).Set(metrics.CircuitBreakerClosed)

	return cb
}

// Publish runs the wrapped publisher through the breaker. When the breaker
// is open, gobreaker.ErrOpenState is returned wrapped as a transient error:
// the relay will retry with backoff rather than permanently failing the
// message for an outage that may resolve before its retry budget runs out.
func (c *CircuitBreaker) Publish(ctx context.Context, msg *outbox.Message, opts outbox.PublishOptions) error {
	timer := metrics.QueuePublishDuration.WithLabelValues(c.queueType)
	start := time.Now()
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.inner.Publish(ctx, msg, opts)
	})
	timer.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.QueuePublishErrors.WithLabelValues(c.queueType).Inc()
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return errs.NewTransientError(msg.ID, fmt.Errorf("publisher circuit breaker: %w", err))
		}
		return err
	}
	metrics.QueueMessagesPublished.WithLabelValues(c.queueType).Inc()
	return nil
}

// Connect delegates to the wrapped publisher if it implements outbox.Connector.
func (c *CircuitBreaker) Connect(ctx context.Context) error {
	if conn, ok := c.inner.(outbox.Connector); ok {
		return conn.Connect(ctx)
	}
	return nil
}

// Disconnect delegates to the wrapped publisher if it implements outbox.Connector.
func (c *CircuitBreaker) Disconnect(ctx context.Context) error {
	if conn, ok := c.inner.(outbox.Connector); ok {
		return conn.Disconnect(ctx)
	}
	return nil
}

// IsConnected delegates to the wrapped publisher if it implements outbox.Connector.
func (c *CircuitBreaker) IsConnected() bool {
	if conn, ok := c.inner.(outbox.Connector); ok {
		return conn.IsConnected()
	}
	return true
}

// State reports the breaker's current state as a metrics gauge value.
func (c *CircuitBreaker) State() float64 {
	return stateGauge(c.cb.State())
}

func stateGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return metrics.CircuitBreakerOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitBreakerHalfOpen
	default:
		return metrics.CircuitBreakerClosed
	}
}
