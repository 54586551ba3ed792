package outbox

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"
)

// countingPublisher records how many times each message ID was published
// across all relay instances sharing it.
type countingPublisher struct {
	mu     sync.Mutex
	perMsg map[string]int
}

func (p *countingPublisher) Publish(ctx context.Context, msg *Message, opts PublishOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.perMsg[msg.ID]++
	return nil
}

func TestConcurrentRelaysNeverDoublePublish(t *testing.T) {
	repo := newFakeRepository()
	for i := 0; i < 10; i++ {
		repo.seed(&Message{
			ID:         "msg-" + strconv.Itoa(i),
			Status:     StatusPending,
			MaxRetries: 3,
			CreatedAt:  time.Now(),
		})
	}
	pub := &countingPublisher{perMsg: make(map[string]int)}

	var relays []*Relay
	for i := 0; i < 3; i++ {
		cfg := testConfig()
		cfg.BatchSize = 5
		cfg.WorkerID = "worker-" + strconv.Itoa(i)
		relays = append(relays, NewRelay(repo, pub, cfg, Observer{}))
	}
	for _, r := range relays {
		r.Start(context.Background())
	}

	waitFor(t, 2*time.Second, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.perMsg) == 10
	})

	for _, r := range relays {
		r.Stop(context.Background())
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	total := 0
	for id, n := range pub.perMsg {
		if n != 1 {
			t.Fatalf("message %s published %d times", id, n)
		}
		total += n
	}
	if total != 10 {
		t.Fatalf("expected 10 publishes across all relays, got %d", total)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	for id, msg := range repo.messages {
		if msg.Status == StatusProcessing {
			t.Fatalf("message %s still processing after all relays stopped", id)
		}
	}
}
