package outbox

import (
	"fmt"
	"os"
	"time"

	"github.com/codeforprod/eventforge/internal/retry"
)

// Config holds the relay's tunables. Field names track the documented
// configuration keys (polling_interval_ms, batch_size, ...).
type Config struct {
	PollingInterval time.Duration
	BatchSize       int
	MaxRetries      int
	LockTimeout     time.Duration
	BackoffBase     time.Duration
	MaxBackoff      time.Duration
	CleanupInterval time.Duration
	RetentionDays   int
	// ImmediateProcessing, when true, fires OnMessageCreated synchronously
	// from CreateMessage so a host can nudge an immediate poll instead of
	// waiting for the next tick.
	ImmediateProcessing bool
	WorkerID            string
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		PollingInterval:     1000 * time.Millisecond,
		BatchSize:           10,
		MaxRetries:          3,
		LockTimeout:         300 * time.Second,
		BackoffBase:         2 * time.Second,
		MaxBackoff:          3600 * time.Second,
		CleanupInterval:     24 * time.Hour,
		RetentionDays:       7,
		ImmediateProcessing: true,
		WorkerID:            defaultWorkerID(),
	}
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// backoff builds the retry.Backoff this config describes. retry.Config counts
// whole seconds, so base and cap are handed over in milliseconds and the
// result is scaled back down by 1000, keeping sub-second settings intact.
func (c Config) backoff() retry.Backoff {
	baseMs := int(c.BackoffBase / time.Millisecond)
	capMs := int(c.MaxBackoff / time.Millisecond)
	if baseMs <= 0 {
		baseMs = 2000
	}
	if capMs <= 0 {
		capMs = 3600 * 1000
	}
	b := retry.Exponential(retry.Config{BaseSeconds: baseMs, CapSeconds: capMs})
	return func(retryCount int) time.Duration { return b(retryCount) / 1000 }
}
