// Package outbox implements the outbox relay engine: a polling dispatcher
// that atomically claims pending messages under concurrent workers, hands
// them to a pluggable publisher, and drives a retry/backoff state machine.
//
// Correctness under multiple concurrent relay instances rests entirely on
// the repository's atomic row claim (FetchAndLockPending); the engine itself
// holds no cross-process state.
package outbox

import "time"

// Status is the persisted status vocabulary for outbox rows. String values
// round-trip across any storage backend.
type Status string

const (
	StatusPending           Status = "pending"
	StatusProcessing        Status = "processing"
	StatusPublished         Status = "published"
	StatusFailed            Status = "failed"
	StatusPermanentlyFailed Status = "permanently_failed"
)

// IsTerminal reports whether status represents a final state: no further
// transitions happen from it. Note that terminal does not mean deletable;
// retention cleanup only removes Published rows.
func (s Status) IsTerminal() bool {
	return s == StatusPublished || s == StatusPermanentlyFailed
}

// Message is a row in the outbox.
type Message struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	// Metadata recognizes keys "delay" (int ms), "routing_key" (string),
	// "exchange" (string); all other keys are opaque and carried through.
	Metadata     map[string]any
	Status       Status
	RetryCount   int
	MaxRetries   int
	ErrorMessage string
	ScheduledAt  time.Time
	LockedBy     string
	LockedAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateDTO is the input to CreateMessage. MaxRetries of zero means "use the
// relay's configured default".
type CreateDTO struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Metadata      map[string]any
	MaxRetries    int
}

// Tx is an opaque transaction handle recognized by the repository
// implementation backing it. The core never inspects it; concrete adapters
// type-assert it to their own transaction type (*sql.Tx, mongo.SessionContext, ...).
type Tx any

// MetadataDelayMS returns the message's delay metadata as milliseconds, and
// whether it was present and valid. Negative, NaN, or non-integer values are
// treated as absent, per the boundary rule that only non-negative integers count.
func (m *Message) MetadataDelayMS() (int64, bool) {
	if m.Metadata == nil {
		return 0, false
	}
	raw, ok := m.Metadata["delay"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case int:
		if v < 0 {
			return 0, false
		}
		return int64(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return v, true
	case float64:
		if v < 0 || v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}

// MetadataRoutingKey returns the message's routing_key metadata, if it's a string.
func (m *Message) MetadataRoutingKey() (string, bool) {
	if m.Metadata == nil {
		return "", false
	}
	v, ok := m.Metadata["routing_key"].(string)
	return v, ok
}

// MetadataExchange returns the message's exchange metadata, if it's a string.
func (m *Message) MetadataExchange() (string, bool) {
	if m.Metadata == nil {
		return "", false
	}
	v, ok := m.Metadata["exchange"].(string)
	return v, ok
}
