package inbox

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/codeforprod/eventforge/internal/errs"
)

type fakeRepository struct {
	mu      sync.Mutex
	byKey   map[string]*Message
	byID    map[string]*Message
	seq     int
	deleted int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{byKey: make(map[string]*Message), byID: make(map[string]*Message)}
}

func dedupKey(messageID, source string) string { return messageID + "|" + source }

func (f *fakeRepository) Record(ctx context.Context, dto ReceiveDTO) (RecordResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := dedupKey(dto.MessageID, dto.Source)
	if existing, ok := f.byKey[key]; ok {
		return RecordResult{Message: existing, IsDuplicate: true}, nil
	}

	f.seq++
	msg := &Message{
		ID:         "im-" + strconv.Itoa(f.seq),
		MessageID:  dto.MessageID,
		Source:     dto.Source,
		EventType:  dto.EventType,
		Payload:    dto.Payload,
		Status:     StatusReceived,
		MaxRetries: dto.MaxRetries,
		CreatedAt:  time.Now(),
	}
	f.byKey[key] = msg
	f.byID[msg.ID] = msg
	return RecordResult{Message: msg}, nil
}

func (f *fakeRepository) Exists(ctx context.Context, messageID, source string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byKey[dedupKey(messageID, source)]
	return ok, nil
}

func (f *fakeRepository) MarkProcessing(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	msg.Status = StatusProcessing
	return nil
}

func (f *fakeRepository) MarkProcessed(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	msg.Status = StatusProcessed
	now := time.Now()
	msg.ProcessedAt = &now
	return nil
}

func (f *fakeRepository) MarkFailed(ctx context.Context, id string, errMsg string, permanent bool, scheduledAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	msg.RetryCount++
	msg.ErrorMessage = errMsg
	if permanent || msg.RetryCount > msg.MaxRetries {
		msg.Status = StatusPermanentlyFailed
	} else {
		msg.Status = StatusFailed
		msg.ScheduledAt = scheduledAt
	}
	return nil
}

func (f *fakeRepository) FindRetryable(ctx context.Context, limit int) ([]*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	var out []*Message
	for _, msg := range f.byID {
		if len(out) >= limit {
			break
		}
		if msg.Status == StatusFailed && msg.RetryCount < msg.MaxRetries && !msg.ScheduledAt.After(now) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (f *fakeRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for id, msg := range f.byID {
		if msg.Status == StatusProcessed && msg.CreatedAt.Before(cutoff) {
			delete(f.byID, id)
			delete(f.byKey, dedupKey(msg.MessageID, msg.Source))
			count++
		}
	}
	f.deleted += count
	return count, nil
}

func (f *fakeRepository) seed(msg *Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[msg.ID] = msg
	f.byKey[dedupKey(msg.MessageID, msg.Source)] = msg
}

func (f *fakeRepository) get(id string) *Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := *f.byID[id]
	return &msg
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryPollingInterval = 10 * time.Millisecond
	cfg.CleanupInterval = 0
	cfg.BackoffBase = 1 * time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.MaxRetries = 3
	return cfg
}

func TestReceiveNoHandlerTransitionsDirectlyToProcessed(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, testConfig(), Observer{})

	msg, err := svc.Receive(context.Background(), ReceiveDTO{MessageID: "m1", Source: "orders", EventType: "order.created"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.get(msg.ID).Status != StatusProcessed {
		t.Fatalf("expected Processed, got %s", repo.get(msg.ID).Status)
	}
}

func TestReceiveDuplicateEmitsAndFails(t *testing.T) {
	repo := newFakeRepository()
	var duplicateFired bool
	var mu sync.Mutex
	obs := Observer{OnMessageDuplicate: func(messageID, source string) {
		mu.Lock()
		duplicateFired = true
		mu.Unlock()
	}}
	svc := NewService(repo, testConfig(), obs)

	if _, err := svc.Receive(context.Background(), ReceiveDTO{MessageID: "m1", Source: "orders", EventType: "order.created"}); err != nil {
		t.Fatalf("first receive should succeed: %v", err)
	}

	_, err := svc.Receive(context.Background(), ReceiveDTO{MessageID: "m1", Source: "orders", EventType: "order.created"})
	var dupErr *errs.DuplicateMessageError
	if !errors.As(err, &dupErr) {
		t.Fatalf("expected DuplicateMessageError, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !duplicateFired {
		t.Fatalf("expected OnMessageDuplicate to fire")
	}
}

func TestProcessDispatchesToAllHandlersConcurrently(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, testConfig(), Observer{})

	var calls int32
	var mu sync.Mutex
	handler := HandlerFunc(func(ctx context.Context, msg *Message) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	svc.RegisterHandler("order.created", handler)
	svc.RegisterHandler("order.created", handler)

	msg, err := svc.Receive(context.Background(), ReceiveDTO{MessageID: "m1", Source: "orders", EventType: "order.created"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.get(msg.ID).Status != StatusProcessed {
		t.Fatalf("expected Processed, got %s", repo.get(msg.ID).Status)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected both handlers invoked, got %d calls", calls)
	}
}

func TestProcessTransientFailureReRaisesWrappedError(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, testConfig(), Observer{})
	svc.RegisterHandler("order.created", HandlerFunc(func(ctx context.Context, msg *Message) error {
		return errors.New("downstream unavailable")
	}))

	_, err := svc.Receive(context.Background(), ReceiveDTO{MessageID: "m1", Source: "orders", EventType: "order.created", MaxRetries: 3})
	if err == nil {
		t.Fatal("expected wrapped error on retryable failure")
	}
}

func TestProcessPermanentErrorGoesStraightToPermanentlyFailed(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, testConfig(), Observer{})
	svc.RegisterHandler("order.created", HandlerFunc(func(ctx context.Context, msg *Message) error {
		return errs.NewPermanentError("bad payload", nil)
	}))

	msg, err := svc.Receive(context.Background(), ReceiveDTO{MessageID: "m1", Source: "orders", EventType: "order.created", MaxRetries: 3})
	if err == nil {
		t.Fatal("expected an error")
	}
	if repo.get(msg.ID).Status != StatusPermanentlyFailed {
		t.Fatalf("expected PermanentlyFailed, got %s", repo.get(msg.ID).Status)
	}
}

func TestRetryLoopReprocessesFailedMessages(t *testing.T) {
	repo := newFakeRepository()
	cfg := testConfig()
	cfg.EnableRetry = true
	svc := NewService(repo, cfg, Observer{})

	var attempt int32
	var mu sync.Mutex
	svc.RegisterHandler("order.created", HandlerFunc(func(ctx context.Context, msg *Message) error {
		mu.Lock()
		attempt++
		n := attempt
		mu.Unlock()
		if n < 2 {
			return errors.New("transient")
		}
		return nil
	}))

	msg, _ := svc.Receive(context.Background(), ReceiveDTO{MessageID: "m1", Source: "orders", EventType: "order.created", MaxRetries: 3})

	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if repo.get(msg.ID).Status == StatusProcessed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if repo.get(msg.ID).Status != StatusProcessed {
		t.Fatalf("expected retry loop to eventually process message, got %s", repo.get(msg.ID).Status)
	}
}

func TestCleanupDeletesOnlyProcessedRows(t *testing.T) {
	repo := newFakeRepository()
	old := time.Now().Add(-48 * time.Hour)
	repo.seed(&Message{ID: "done-old", MessageID: "m1", Source: "orders", Status: StatusProcessed, CreatedAt: old})
	repo.seed(&Message{ID: "dead-old", MessageID: "m2", Source: "orders", Status: StatusPermanentlyFailed, CreatedAt: old})
	repo.seed(&Message{ID: "done-fresh", MessageID: "m3", Source: "orders", Status: StatusProcessed, CreatedAt: time.Now()})

	cfg := testConfig()
	cfg.CleanupInterval = 10 * time.Millisecond
	cfg.RetentionDays = 1
	svc := NewService(repo, cfg, Observer{})
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	has := func(id string) bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		_, ok := repo.byID[id]
		return ok
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && has("done-old") {
		time.Sleep(5 * time.Millisecond)
	}
	if has("done-old") {
		t.Fatalf("expected processed row past retention to be deleted")
	}

	if !has("dead-old") {
		t.Fatalf("permanently failed row must survive retention cleanup")
	}
	if !has("done-fresh") {
		t.Fatalf("processed row inside the retention window must survive")
	}
}
