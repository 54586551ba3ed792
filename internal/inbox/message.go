// Package inbox implements the inbox reception engine: a deduplicating
// intake that records incoming messages idempotently, dispatches them to
// registered handlers concurrently, and optionally retries transient
// failures on a timer. It is the architectural mirror of package outbox.
package inbox

import "time"

// Status is the persisted status vocabulary for inbox rows.
type Status string

const (
	StatusReceived          Status = "received"
	StatusProcessing        Status = "processing"
	StatusProcessed         Status = "processed"
	StatusFailed            Status = "failed"
	StatusPermanentlyFailed Status = "permanently_failed"
)

// IsTerminal reports whether status is a final state: no further transitions
// happen from it. Terminal does not mean deletable; retention cleanup only
// removes Processed rows.
func (s Status) IsTerminal() bool {
	return s == StatusProcessed || s == StatusPermanentlyFailed
}

// Message is a row in the inbox. (MessageID, Source) is the deduplication key.
type Message struct {
	ID           string
	MessageID    string
	Source       string
	EventType    string
	Payload      []byte
	Status       Status
	RetryCount   int
	MaxRetries   int
	ScheduledAt  time.Time
	ProcessedAt  *time.Time
	ErrorMessage string
	CreatedAt    time.Time
}

// ReceiveDTO is the input to Receive/Record.
type ReceiveDTO struct {
	MessageID  string
	Source     string
	EventType  string
	Payload    []byte
	MaxRetries int
}

// RecordResult is Record's outcome: the resolved row, and whether it already
// existed (message_id, source) before this call.
type RecordResult struct {
	Message     *Message
	IsDuplicate bool
}
