package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/codeforprod/eventforge/internal/common/metrics"
	"github.com/codeforprod/eventforge/internal/errs"
	"github.com/codeforprod/eventforge/internal/outbox"
)

// scriptedPublisher fails until unblocked, counting calls.
type scriptedPublisher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *scriptedPublisher) Publish(ctx context.Context, msg *outbox.Message, opts outbox.PublishOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func (p *scriptedPublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestCircuitBreakerPassesThroughSuccess(t *testing.T) {
	inner := &scriptedPublisher{}
	cb := NewCircuitBreaker(inner, "test-pass")

	if err := cb.Publish(context.Background(), &outbox.Message{ID: "a"}, outbox.PublishOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.callCount() != 1 {
		t.Fatalf("expected 1 inner call, got %d", inner.callCount())
	}
	if cb.State() != metrics.CircuitBreakerClosed {
		t.Fatalf("breaker must stay closed on success")
	}
}

func TestCircuitBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	inner := &scriptedPublisher{err: errors.New("broker down")}
	cb := NewCircuitBreaker(inner, "test-trip")

	for i := 0; i < 5; i++ {
		if err := cb.Publish(context.Background(), &outbox.Message{ID: "a"}, outbox.PublishOptions{}); err == nil {
			t.Fatalf("expected failure on call %d", i)
		}
	}
	if cb.State() != metrics.CircuitBreakerOpen {
		t.Fatalf("breaker must be open after 5 consecutive failures")
	}

	// An open breaker sheds load without reaching the broker, and surfaces
	// a transient error so the relay schedules a retry instead of
	// permanently failing the message.
	before := inner.callCount()
	err := cb.Publish(context.Background(), &outbox.Message{ID: "a"}, outbox.PublishOptions{})
	if err == nil {
		t.Fatalf("expected open-state error")
	}
	if errs.IsPermanent(err) {
		t.Fatalf("open-state error must be transient")
	}
	var te *errs.TransientError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransientError wrapper, got %T", err)
	}
	if inner.callCount() != before {
		t.Fatalf("open breaker must not call the inner publisher")
	}
}

func TestCircuitBreakerPermanentErrorsPassThroughUnwrapped(t *testing.T) {
	inner := &scriptedPublisher{err: errs.NewPermanentError("bad payload", nil)}
	cb := NewCircuitBreaker(inner, "test-perm")

	err := cb.Publish(context.Background(), &outbox.Message{ID: "a"}, outbox.PublishOptions{})
	if !errs.IsPermanent(err) {
		t.Fatalf("permanent classification must survive the breaker, got %v", err)
	}
}
