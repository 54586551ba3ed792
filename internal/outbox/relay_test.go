package outbox

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/codeforprod/eventforge/internal/errs"
)

// fakeRepository implements Repository in memory for relay tests.
type fakeRepository struct {
	mu       sync.Mutex
	messages map[string]*Message
	seq      int

	fetchCalls int
	released   int
	deleted    int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{messages: make(map[string]*Message)}
}

func (f *fakeRepository) Create(ctx context.Context, dto CreateDTO, tx Tx) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	now := time.Now()
	msg := &Message{
		ID:            "msg-" + strconv.Itoa(f.seq),
		AggregateType: dto.AggregateType,
		AggregateID:   dto.AggregateID,
		EventType:     dto.EventType,
		Payload:       dto.Payload,
		Metadata:      dto.Metadata,
		Status:        StatusPending,
		MaxRetries:    dto.MaxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	f.messages[msg.ID] = msg
	return msg, nil
}

func (f *fakeRepository) FetchAndLockPending(ctx context.Context, limit int, workerID string) ([]*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++

	var claimed []*Message
	now := time.Now()
	for _, msg := range f.messages {
		if len(claimed) >= limit {
			break
		}
		eligible := msg.Status == StatusPending ||
			(msg.Status == StatusFailed && !msg.ScheduledAt.After(now))
		if !eligible {
			continue
		}
		msg.Status = StatusProcessing
		msg.LockedBy = workerID
		lockedAt := now
		msg.LockedAt = &lockedAt
		claimed = append(claimed, msg)
	}
	return claimed, nil
}

func (f *fakeRepository) MarkPublished(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return errs.ErrNotFound
	}
	msg.Status = StatusPublished
	msg.LockedBy = ""
	msg.LockedAt = nil
	return nil
}

func (f *fakeRepository) MarkFailed(ctx context.Context, id string, errMsg string, permanent bool, scheduledAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return errs.ErrNotFound
	}
	msg.RetryCount++
	msg.ErrorMessage = errMsg
	msg.LockedBy = ""
	msg.LockedAt = nil
	if permanent || msg.RetryCount > msg.MaxRetries {
		msg.Status = StatusPermanentlyFailed
	} else {
		msg.Status = StatusFailed
		msg.ScheduledAt = scheduledAt
	}
	return nil
}

func (f *fakeRepository) ReleaseLock(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return errs.ErrNotFound
	}
	if msg.Status == StatusProcessing {
		msg.Status = StatusPending
		msg.LockedBy = ""
		msg.LockedAt = nil
	}
	return nil
}

func (f *fakeRepository) ReleaseStaleLocks(ctx context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, msg := range f.messages {
		if msg.Status == StatusProcessing && msg.LockedAt != nil && msg.LockedAt.Before(cutoff) {
			msg.Status = StatusPending
			msg.LockedBy = ""
			msg.LockedAt = nil
			count++
		}
	}
	f.released += count
	return count, nil
}

func (f *fakeRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for id, msg := range f.messages {
		if msg.Status == StatusPublished && msg.CreatedAt.Before(cutoff) {
			delete(f.messages, id)
			count++
		}
	}
	f.deleted += count
	return count, nil
}

func (f *fakeRepository) WithTransaction(ctx context.Context, fn func(tx Tx) error) error {
	return fn(nil)
}

func (f *fakeRepository) get(id string) *Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := *f.messages[id]
	return &msg
}

func (f *fakeRepository) seed(msg *Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[msg.ID] = msg
}

// fakePublisher records calls and lets tests script outcomes per call index.
type fakePublisher struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, msg *Message) error
}

func (p *fakePublisher) Publish(ctx context.Context, msg *Message, opts PublishOptions) error {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.mu.Unlock()
	if p.fn != nil {
		return p.fn(call, msg)
	}
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollingInterval = 10 * time.Millisecond
	cfg.CleanupInterval = 0
	cfg.LockTimeout = 5 * time.Minute
	cfg.BatchSize = 5
	cfg.MaxRetries = 3
	cfg.BackoffBase = 1 * time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.WorkerID = "test-worker"
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

func TestRelayHappyPath(t *testing.T) {
	repo := newFakeRepository()
	repo.seed(&Message{ID: "a", AggregateType: "User", EventType: "user.created", Status: StatusPending, MaxRetries: 3, CreatedAt: time.Now()})
	pub := &fakePublisher{}

	relay := NewRelay(repo, pub, testConfig(), Observer{})
	relay.Start(context.Background())
	defer relay.Stop(context.Background())

	waitFor(t, time.Second, func() bool {
		return repo.get("a").Status == StatusPublished
	})
}

func TestRelayTransientRetryThenSuccess(t *testing.T) {
	repo := newFakeRepository()
	repo.seed(&Message{ID: "a", Status: StatusPending, MaxRetries: 3, CreatedAt: time.Now()})
	pub := &fakePublisher{fn: func(call int, msg *Message) error {
		if call < 3 {
			return errors.New("transient failure")
		}
		return nil
	}}

	relay := NewRelay(repo, pub, testConfig(), Observer{})
	relay.Start(context.Background())
	defer relay.Stop(context.Background())

	waitFor(t, 2*time.Second, func() bool {
		return repo.get("a").Status == StatusPublished
	})
	if got := repo.get("a").RetryCount; got != 2 {
		t.Fatalf("expected retry_count=2 before success, got %d", got)
	}
}

func TestRelayPermanentFailure(t *testing.T) {
	repo := newFakeRepository()
	repo.seed(&Message{ID: "a", Status: StatusPending, MaxRetries: 3, CreatedAt: time.Now()})
	pub := &fakePublisher{fn: func(call int, msg *Message) error {
		return errs.NewPermanentError("bad payload", nil)
	}}

	var failedPermanent bool
	var mu sync.Mutex
	obs := Observer{OnMessageFailed: func(msg *Message, err error, permanent bool) {
		mu.Lock()
		failedPermanent = permanent
		mu.Unlock()
	}}

	relay := NewRelay(repo, pub, testConfig(), obs)
	relay.Start(context.Background())
	defer relay.Stop(context.Background())

	waitFor(t, time.Second, func() bool {
		return repo.get("a").Status == StatusPermanentlyFailed
	})
	if got := repo.get("a").RetryCount; got != 1 {
		t.Fatalf("expected retry_count=1 on first-attempt permanent failure, got %d", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if !failedPermanent {
		t.Fatalf("expected OnMessageFailed to report permanent=true")
	}
}

func TestRelayExhaustsRetriesThenPermanentlyFails(t *testing.T) {
	repo := newFakeRepository()
	repo.seed(&Message{ID: "a", Status: StatusPending, MaxRetries: 1, CreatedAt: time.Now()})
	pub := &fakePublisher{fn: func(call int, msg *Message) error {
		return errors.New("always fails")
	}}

	relay := NewRelay(repo, pub, testConfig(), Observer{})
	relay.Start(context.Background())
	defer relay.Stop(context.Background())

	waitFor(t, 2*time.Second, func() bool {
		return repo.get("a").Status == StatusPermanentlyFailed
	})
	if got := repo.get("a").RetryCount; got > 2 {
		t.Fatalf("retry_count must stay <= max_retries+1 at PermanentlyFailed transition, got %d", got)
	}
}

func TestRelayStaleLockRecovery(t *testing.T) {
	repo := newFakeRepository()
	stale := time.Now().Add(-10 * time.Minute)
	repo.seed(&Message{ID: "a", Status: StatusProcessing, LockedBy: "dead-worker", LockedAt: &stale, MaxRetries: 3, CreatedAt: time.Now()})
	pub := &fakePublisher{}

	cfg := testConfig()
	cfg.LockTimeout = 5 * time.Minute
	relay := NewRelay(repo, pub, cfg, Observer{})
	relay.Start(context.Background())
	defer relay.Stop(context.Background())

	waitFor(t, time.Second, func() bool {
		return repo.get("a").Status == StatusPublished
	})
}

func TestRelayBatchSizeZeroIsNoOpBesidesStaleRelease(t *testing.T) {
	repo := newFakeRepository()
	repo.seed(&Message{ID: "a", Status: StatusPending, MaxRetries: 3, CreatedAt: time.Now()})
	pub := &fakePublisher{}

	cfg := testConfig()
	cfg.BatchSize = 0
	relay := NewRelay(repo, pub, cfg, Observer{})
	relay.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	relay.Stop(context.Background())

	if repo.get("a").Status != StatusPending {
		t.Fatalf("expected message to remain pending when batch_size=0, got %s", repo.get("a").Status)
	}
}

func TestCleanupDeletesOnlyPublishedRows(t *testing.T) {
	repo := newFakeRepository()
	old := time.Now().Add(-48 * time.Hour)
	repo.seed(&Message{ID: "pub-old", Status: StatusPublished, CreatedAt: old})
	repo.seed(&Message{ID: "dead-old", Status: StatusPermanentlyFailed, CreatedAt: old})
	repo.seed(&Message{ID: "pub-fresh", Status: StatusPublished, CreatedAt: time.Now()})

	cfg := testConfig()
	cfg.BatchSize = 0
	cfg.CleanupInterval = 10 * time.Millisecond
	cfg.RetentionDays = 1
	relay := NewRelay(repo, &fakePublisher{}, cfg, Observer{})
	relay.Start(context.Background())
	defer relay.Stop(context.Background())

	has := func(id string) bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		_, ok := repo.messages[id]
		return ok
	}
	waitFor(t, time.Second, func() bool { return !has("pub-old") })

	if !has("dead-old") {
		t.Fatalf("permanently failed row must survive retention cleanup")
	}
	if !has("pub-fresh") {
		t.Fatalf("published row inside the retention window must survive")
	}
}

func TestRelayStopIsIdempotentAndSynchronous(t *testing.T) {
	repo := newFakeRepository()
	pub := &fakePublisher{}
	relay := NewRelay(repo, pub, testConfig(), Observer{})

	relay.Stop(context.Background())
	relay.Start(context.Background())
	relay.Stop(context.Background())
	relay.Stop(context.Background())
}
