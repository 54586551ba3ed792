package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeforprod/eventforge/internal/common/metrics"
	"github.com/codeforprod/eventforge/internal/errs"
)

// Relay is the outbox polling dispatcher. It claims pending rows across
// concurrent workers, hands each to the configured Publisher, and drives the
// retry/backoff state machine on failure. The claim step is atomic
// (Repository.FetchAndLockPending) rather than a separate fetch-then-mark
// pair, so any number of relay instances can poll the same table.
type Relay struct {
	repo     Repository
	pub      Publisher
	cfg      Config
	observer Observer
	backoff  func(int) time.Duration
	now      func() time.Time

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

// Stats is a point-in-time snapshot of relay health, consumed by
// internal/common/health's OutboxRelayCheck.
type Stats struct {
	Running      bool
	LastPollTime time.Time
	LastError    string
}

// Stats reports whether the relay is running, when it last completed a poll
// pass, and the error (if any) from that pass.
func (r *Relay) Stats() Stats {
	r.runningMu.Lock()
	running := r.running
	r.runningMu.Unlock()

	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	s := Stats{Running: running, LastPollTime: r.lastPollTime}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	return s
}

func (r *Relay) recordPollResult(now time.Time, err error) {
	r.statsMu.Lock()
	r.lastPollTime = now
	r.lastErr = err
	r.statsMu.Unlock()
}

// NewRelay builds a Relay. A zero Config is replaced with DefaultConfig.
func NewRelay(repo Repository, pub Publisher, cfg Config, observer Observer) *Relay {
	if cfg.PollingInterval == 0 {
		cfg = DefaultConfig()
	}
	return &Relay{
		repo:     repo,
		pub:      pub,
		cfg:      cfg,
		observer: observer,
		backoff:  cfg.backoff(),
		now:      time.Now,
	}
}

// CreateMessage inserts a new outbox row, optionally inside tx. When
// ImmediateProcessing is enabled, OnMessageCreated fires synchronously so a
// host can nudge an out-of-cycle poll.
func (r *Relay) CreateMessage(ctx context.Context, dto CreateDTO, tx Tx) (*Message, error) {
	if dto.MaxRetries == 0 {
		dto.MaxRetries = r.cfg.MaxRetries
	}
	msg, err := r.repo.Create(ctx, dto, tx)
	if err != nil {
		return nil, err
	}
	if r.cfg.ImmediateProcessing {
		r.observer.emitCreated(msg)
	}
	return msg, nil
}

// WithTransaction runs fn inside a repository transaction; see
// Repository.WithTransaction.
func (r *Relay) WithTransaction(ctx context.Context, fn func(tx Tx) error) error {
	return r.repo.WithTransaction(ctx, fn)
}

// Start is idempotent: it marks the relay running, performs an immediate
// poll, then schedules the poll and cleanup tickers.
func (r *Relay) Start(ctx context.Context) {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()
	if r.running {
		return
	}
	r.running = true

	r.ctx, r.cancel = context.WithCancel(ctx)

	if c, ok := r.pub.(Connector); ok && !c.IsConnected() {
		if err := c.Connect(r.ctx); err != nil {
			slog.Error("outbox: publisher connect failed, relying on retry path", "error", err)
			r.observer.emitError(err)
		}
	}

	r.observer.emitPollingStarted()

	r.wg.Add(1)
	go r.runPoller()

	r.wg.Add(1)
	go r.runCleanup()

	slog.Info("outbox relay started",
		"worker_id", r.cfg.WorkerID,
		"polling_interval", r.cfg.PollingInterval,
		"batch_size", r.cfg.BatchSize)
}

// Stop cancels both timers and waits for an in-flight poll pass to finish
// before returning. It is idempotent and safe to call without a prior Start.
func (r *Relay) Stop(ctx context.Context) {
	r.runningMu.Lock()
	if !r.running {
		r.runningMu.Unlock()
		return
	}
	r.running = false
	r.runningMu.Unlock()

	r.cancel()
	r.wg.Wait()

	if c, ok := r.pub.(Connector); ok {
		if err := c.Disconnect(ctx); err != nil {
			slog.Warn("outbox: publisher disconnect failed", "error", err)
		}
	}

	r.observer.emitPollingStopped()
	slog.Info("outbox relay stopped", "worker_id", r.cfg.WorkerID)
}

func (r *Relay) runPoller() {
	defer r.wg.Done()

	r.doPoll()

	ticker := time.NewTicker(r.cfg.PollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.doPoll()
		}
	}
}

func (r *Relay) runCleanup() {
	defer r.wg.Done()

	if r.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.doCleanup()
		}
	}
}

// doPoll is a single polling pass: release stale locks, claim a batch, and
// publish each claimed message concurrently. Guarded by pollMu.TryLock so an
// overrunning pass never overlaps with the next tick.
func (r *Relay) doPoll() {
	if !r.pollMu.TryLock() {
		return
	}
	defer r.pollMu.Unlock()

	pollStart := time.Now()
	defer func() { metrics.OutboxPollDuration.Observe(time.Since(pollStart).Seconds()) }()

	ctx := r.ctx
	now := r.now()

	staleCutoff := now.Add(-r.cfg.LockTimeout)
	if reclaimed, err := r.repo.ReleaseStaleLocks(ctx, staleCutoff); err != nil {
		slog.Error("outbox: release stale locks failed", "error", err)
		r.observer.emitError(err)
		r.recordPollResult(now, err)
		return
	} else {
		r.observer.emitStaleLocksReleased(reclaimed)
	}

	if r.cfg.BatchSize <= 0 {
		r.recordPollResult(now, nil)
		return
	}

	claimed, err := r.repo.FetchAndLockPending(ctx, r.cfg.BatchSize, r.cfg.WorkerID)
	if err != nil {
		slog.Error("outbox: fetch and lock pending failed", "error", err)
		r.observer.emitError(err)
		r.recordPollResult(now, err)
		return
	}
	r.recordPollResult(now, nil)
	if len(claimed) == 0 {
		return
	}

	metrics.OutboxInFlightItems.Set(float64(len(claimed)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	published, failed := 0, 0

	for _, msg := range claimed {
		wg.Add(1)
		go func(msg *Message) {
			defer wg.Done()
			ok := r.publishOne(ctx, msg)
			mu.Lock()
			if ok {
				published++
			} else {
				failed++
			}
			mu.Unlock()
		}(msg)
	}
	wg.Wait()

	metrics.OutboxInFlightItems.Set(0)
	r.observer.emitPollCompleted(len(claimed), published, failed)
}

func (r *Relay) publishOne(ctx context.Context, msg *Message) bool {
	ensureCreatedAt(msg)
	opts := buildPublishOptions(msg)

	err := r.pub.Publish(ctx, msg, opts)
	if err == nil {
		if markErr := r.repo.MarkPublished(ctx, msg.ID); markErr != nil {
			slog.Error("outbox: mark published failed", "message_id", msg.ID, "error", markErr)
			r.observer.emitError(markErr)
			return false
		}
		msg.Status = StatusPublished
		r.observer.emitPublished(msg)
		return true
	}

	permanent := errs.IsPermanent(err)
	nextRetry := msg.RetryCount + 1
	if permanent || nextRetry > msg.MaxRetries {
		permanent = true
		if markErr := r.repo.MarkFailed(ctx, msg.ID, err.Error(), true, time.Time{}); markErr != nil {
			slog.Error("outbox: mark permanently failed failed", "message_id", msg.ID, "error", markErr)
			r.observer.emitError(markErr)
		}
		msg.Status = StatusPermanentlyFailed
		msg.RetryCount = nextRetry
		slog.Warn("outbox: message permanently failed", "message_id", msg.ID, "error", err)
	} else {
		delay := r.backoff(msg.RetryCount)
		scheduledAt := r.now().Add(delay)
		if markErr := r.repo.MarkFailed(ctx, msg.ID, err.Error(), false, scheduledAt); markErr != nil {
			slog.Error("outbox: mark failed failed", "message_id", msg.ID, "error", markErr)
			r.observer.emitError(markErr)
		}
		msg.Status = StatusFailed
		msg.RetryCount = nextRetry
		msg.ScheduledAt = scheduledAt
		slog.Info("outbox: message scheduled for retry", "message_id", msg.ID, "retry_count", nextRetry, "delay", delay)
	}

	r.observer.emitFailed(msg, err, permanent)
	return false
}

func (r *Relay) doCleanup() {
	if r.cfg.RetentionDays <= 0 {
		return
	}
	cutoff := r.now().AddDate(0, 0, -r.cfg.RetentionDays)
	deleted, err := r.repo.DeleteOlderThan(r.ctx, cutoff)
	if err != nil {
		slog.Error("outbox: cleanup failed", "error", err)
		r.observer.emitError(err)
		return
	}
	if deleted > 0 {
		r.observer.emitCleanupCompleted(deleted, cutoff)
		slog.Info("outbox: cleanup completed", "deleted", deleted, "cutoff", cutoff)
	}
}
