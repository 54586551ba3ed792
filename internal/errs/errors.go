// Package errs defines the error taxonomy shared by the outbox and inbox
// engines: transient vs. permanent failures, plus the inbox's duplicate-message
// signal, and the storage-layer sentinels repositories classify against.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel storage errors. Concrete repository adapters return these (wrapped
// with context) so callers can classify failures with errors.Is regardless of
// backend.
var (
	ErrNotFound       = errors.New("errs: record not found")
	ErrDuplicateKey   = errors.New("errs: duplicate key")
	ErrOptimisticLock = errors.New("errs: optimistic lock conflict")
)

// TransientError wraps any failure the engines should retry with backoff.
// It is the default classification: an error that isn't a *PermanentError
// or *DuplicateMessageError is treated as transient.
type TransientError struct {
	MessageID string
	Err       error
}

func NewTransientError(messageID string, err error) *TransientError {
	return &TransientError{MessageID: messageID, Err: err}
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error processing message %s: %v", e.MessageID, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError signals that retries are futile: bad payload, schema
// violation, unknown handler semantics. It bypasses the retry cap and drives
// an immediate transition to PermanentlyFailed.
type PermanentError struct {
	Reason string
	Err    error
}

func NewPermanentError(reason string, err error) *PermanentError {
	return &PermanentError{Reason: reason, Err: err}
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("permanent error: %s", e.Reason)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// DuplicateMessageError is raised from Receive when Record reports an
// existing (message_id, source) pair. Callers (brokers) should treat this as
// success and ack the delivery.
type DuplicateMessageError struct {
	MessageID string
	Source    string
}

func NewDuplicateMessageError(messageID, source string) *DuplicateMessageError {
	return &DuplicateMessageError{MessageID: messageID, Source: source}
}

func (e *DuplicateMessageError) Error() string {
	return fmt.Sprintf("duplicate message: message_id=%s source=%s", e.MessageID, e.Source)
}

// IsPermanent reports whether err (or anything it wraps) is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsDuplicate reports whether err (or anything it wraps) is a
// DuplicateMessageError.
func IsDuplicate(err error) bool {
	var de *DuplicateMessageError
	return errors.As(err, &de)
}
