package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeforprod/eventforge/internal/common/metrics"
	"github.com/codeforprod/eventforge/internal/errs"
)

// Handler processes one inbox message for a given event type.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// Service is the inbox reception engine: deduplicating intake, handler
// dispatch by event type, and an optional retry loop for transient failures.
// Multiple handlers may be registered per event type; they run concurrently
// on dispatch.
type Service struct {
	repo    Repository
	cfg     Config
	obs     Observer
	backoff func(int) time.Duration
	now     func() time.Time

	handlersMu sync.RWMutex
	handlers   map[string][]Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	runningMu sync.Mutex
	running   bool

	pollMu sync.Mutex

	statsMu      sync.Mutex
	lastPollTime time.Time
	lastErr      error
}

// Stats is a point-in-time snapshot of the retry loop's health, consumed by
// internal/common/health's InboxServiceCheck.
type Stats struct {
	Running      bool
	LastPollTime time.Time
	LastError    string
}

// Stats reports whether the service is running, when its retry loop last
// completed a pass, and the error (if any) from that pass. When retry is
// disabled, LastPollTime stays zero since no pass ever runs.
func (s *Service) Stats() Stats {
	s.runningMu.Lock()
	running := s.running
	s.runningMu.Unlock()

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st := Stats{Running: running, LastPollTime: s.lastPollTime}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// NewService builds a Service. A zero Config is replaced with DefaultConfig.
func NewService(repo Repository, cfg Config, obs Observer) *Service {
	if cfg.RetryPollingInterval == 0 {
		cfg = DefaultConfig()
	}
	return &Service{
		repo:     repo,
		cfg:      cfg,
		obs:      obs,
		backoff:  cfg.backoff(),
		now:      time.Now,
		handlers: make(map[string][]Handler),
	}
}

// RegisterHandler adds handler for eventType. Multiple handlers for the same
// event type are invoked in registration order when dispatch begins, but all
// run concurrently.
func (s *Service) RegisterHandler(eventType string, handler Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[eventType] = append(s.handlers[eventType], handler)
}

// UnregisterHandler removes handler from eventType's registry, if present.
func (s *Service) UnregisterHandler(eventType string, handler Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	list := s.handlers[eventType]
	for i, h := range list {
		if h == handler {
			s.handlers[eventType] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (s *Service) handlersFor(eventType string) []Handler {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	out := make([]Handler, len(s.handlers[eventType]))
	copy(out, s.handlers[eventType])
	return out
}

// Receive records dto idempotently and, unless it's a duplicate, dispatches
// it immediately through Process. It returns a *errs.DuplicateMessageError
// when (message_id, source) was already recorded; the caller may still ack
// the broker delivery on that error.
func (s *Service) Receive(ctx context.Context, dto ReceiveDTO) (*Message, error) {
	if dto.MaxRetries == 0 {
		dto.MaxRetries = s.cfg.MaxRetries
	}

	result, err := s.repo.Record(ctx, dto)
	if err != nil {
		return nil, fmt.Errorf("inbox: record failed: %w", err)
	}
	if result.IsDuplicate {
		s.obs.emitDuplicate(dto.MessageID, dto.Source)
		return result.Message, errs.NewDuplicateMessageError(dto.MessageID, dto.Source)
	}

	s.obs.emitReceived(result.Message)
	return result.Message, s.Process(ctx, result.Message)
}

// Process dispatches msg to its registered handlers and transitions its
// status accordingly. It re-raises a wrapped error on every failed
// transition (even retryable ones) so brokers can decide ack/nack.
func (s *Service) Process(ctx context.Context, msg *Message) error {
	handlers := s.handlersFor(msg.EventType)
	if len(handlers) == 0 {
		if err := s.repo.MarkProcessed(ctx, msg.ID); err != nil {
			return fmt.Errorf("inbox: mark processed failed: %w", err)
		}
		msg.Status = StatusProcessed
		s.obs.emitProcessed(msg)
		return nil
	}

	if err := s.repo.MarkProcessing(ctx, msg.ID); err != nil {
		return fmt.Errorf("inbox: mark processing failed: %w", err)
	}
	msg.Status = StatusProcessing

	metrics.InboxInFlightItems.Inc()
	firstErr := dispatchAll(ctx, handlers, msg)
	metrics.InboxInFlightItems.Dec()
	if firstErr != nil {
		return s.handleFailure(ctx, msg, firstErr)
	}

	if err := s.repo.MarkProcessed(ctx, msg.ID); err != nil {
		return fmt.Errorf("inbox: mark processed failed: %w", err)
	}
	msg.Status = StatusProcessed
	s.obs.emitProcessed(msg)
	return nil
}

// dispatchAll invokes every handler concurrently, awaits all outcomes
// without short-circuiting, and returns the first rejection in
// registration order (not necessarily completion order).
func dispatchAll(ctx context.Context, handlers []Handler, msg *Message) error {
	errsOut := make([]error, len(handlers))
	var wg sync.WaitGroup
	for i, h := range handlers {
		wg.Add(1)
		go func(i int, h Handler) {
			defer wg.Done()
			errsOut[i] = h.Handle(ctx, msg)
		}(i, h)
	}
	wg.Wait()

	for _, e := range errsOut {
		if e != nil {
			return e
		}
	}
	return nil
}

func (s *Service) handleFailure(ctx context.Context, msg *Message, cause error) error {
	permanent := errs.IsPermanent(cause)
	nextRetry := msg.RetryCount + 1

	var scheduledAt time.Time
	if permanent || nextRetry > msg.MaxRetries {
		permanent = true
	} else if s.cfg.EnableRetry {
		scheduledAt = s.now().Add(s.backoff(msg.RetryCount))
	}

	if err := s.repo.MarkFailed(ctx, msg.ID, cause.Error(), permanent, scheduledAt); err != nil {
		slog.Error("inbox: mark failed failed", "message_id", msg.ID, "error", err)
		s.obs.emitError(err)
	}

	msg.RetryCount = nextRetry
	msg.ErrorMessage = cause.Error()
	if permanent {
		msg.Status = StatusPermanentlyFailed
	} else {
		msg.Status = StatusFailed
		msg.ScheduledAt = scheduledAt
	}

	s.obs.emitFailed(msg, cause, permanent)
	return fmt.Errorf("inbox: message %s failed: %w", msg.ID, cause)
}

// Start launches the retry loop and cleanup timer, if enabled. Idempotent.
func (s *Service) Start(ctx context.Context) {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.cfg.EnableRetry {
		s.obs.emitRetryPollingStarted()
		s.wg.Add(1)
		go s.runRetryLoop()
	}

	if s.cfg.CleanupInterval > 0 {
		s.wg.Add(1)
		go s.runCleanup()
	}

	slog.Info("inbox service started", "retry_enabled", s.cfg.EnableRetry)
}

// Stop cancels the retry and cleanup loops and waits for any in-flight pass
// to finish. Idempotent.
func (s *Service) Stop(ctx context.Context) {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return
	}
	s.running = false
	s.runningMu.Unlock()

	s.cancel()
	s.wg.Wait()
	if s.cfg.EnableRetry {
		s.obs.emitRetryPollingStopped()
	}
	slog.Info("inbox service stopped")
}

func (s *Service) runRetryLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.RetryPollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.doRetryPass()
		}
	}
}

func (s *Service) doRetryPass() {
	if !s.pollMu.TryLock() {
		return
	}
	defer s.pollMu.Unlock()

	pollStart := time.Now()
	defer func() { metrics.InboxPollDuration.Observe(time.Since(pollStart).Seconds()) }()

	now := s.now()
	retryable, err := s.repo.FindRetryable(s.ctx, s.cfg.RetryBatchSize)
	s.statsMu.Lock()
	s.lastPollTime = now
	s.lastErr = err
	s.statsMu.Unlock()
	if err != nil {
		slog.Error("inbox: find retryable failed", "error", err)
		s.obs.emitError(err)
		return
	}
	metrics.InboxBufferSize.Set(float64(len(retryable)))
	for _, msg := range retryable {
		metrics.InboxRecoveredItems.WithLabelValues(msg.EventType).Inc()
	}
	for _, msg := range retryable {
		_ = s.Process(s.ctx, msg)
	}
	metrics.InboxBufferSize.Set(0)
}

func (s *Service) runCleanup() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.doCleanup()
		}
	}
}

func (s *Service) doCleanup() {
	if s.cfg.RetentionDays <= 0 {
		return
	}
	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)
	deleted, err := s.repo.DeleteOlderThan(s.ctx, cutoff)
	if err != nil {
		slog.Error("inbox: cleanup failed", "error", err)
		s.obs.emitError(err)
		return
	}
	if deleted > 0 {
		s.obs.emitCleanupCompleted(deleted, cutoff)
		slog.Info("inbox: cleanup completed", "deleted", deleted, "cutoff", cutoff)
	}
}
