package inbox

import (
	"time"

	"github.com/codeforprod/eventforge/internal/retry"
)

// Config holds the inbox service's tunables. Field names track the
// documented inbox.* configuration keys.
type Config struct {
	MaxRetries int

	// EnableRetry turns on the background retry loop (inbox.enable_retry).
	EnableRetry          bool
	RetryPollingInterval time.Duration
	RetryBatchSize       int

	BackoffBase time.Duration
	MaxBackoff  time.Duration

	CleanupInterval time.Duration
	RetentionDays   int
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:           3,
		EnableRetry:          false,
		RetryPollingInterval: 5000 * time.Millisecond,
		RetryBatchSize:       10,
		BackoffBase:          2 * time.Second,
		MaxBackoff:           3600 * time.Second,
		CleanupInterval:      24 * time.Hour,
		RetentionDays:        7,
	}
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
