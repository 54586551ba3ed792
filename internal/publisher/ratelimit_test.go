package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/codeforprod/eventforge/internal/outbox"
)

func TestRateLimitedDisabledReturnsInner(t *testing.T) {
	inner := &scriptedPublisher{}
	if got := NewRateLimited(inner, 0, 1); got != outbox.Publisher(inner) {
		t.Fatalf("perSecond=0 must return the inner publisher unchanged")
	}
}

func TestRateLimitedPacesPublishes(t *testing.T) {
	inner := &scriptedPublisher{}
	limited := NewRateLimited(inner, 100, 1)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := limited.Publish(context.Background(), &outbox.Message{ID: "a"}, outbox.PublishOptions{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// burst=1 at 100/s: the second and third publish each wait ~10ms.
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("expected publishes to be paced, finished in %s", elapsed)
	}
	if inner.callCount() != 3 {
		t.Fatalf("expected 3 inner calls, got %d", inner.callCount())
	}
}

func TestRateLimitedCancelledContextReturnsError(t *testing.T) {
	inner := &scriptedPublisher{}
	limited := NewRateLimited(inner, 0.001, 1)

	// Drain the single burst token, then cancel while the next wait blocks.
	ctx, cancel := context.WithCancel(context.Background())
	if err := limited.Publish(ctx, &outbox.Message{ID: "a"}, outbox.PublishOptions{}); err != nil {
		t.Fatalf("first publish should pass on the burst token: %v", err)
	}
	cancel()
	if err := limited.Publish(ctx, &outbox.Message{ID: "a"}, outbox.PublishOptions{}); err == nil {
		t.Fatalf("expected error from cancelled context")
	}
	if inner.callCount() != 1 {
		t.Fatalf("cancelled publish must not reach the inner publisher")
	}
}
