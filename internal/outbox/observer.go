package outbox

import "time"

// Observer is an explicit set of lifecycle hooks the relay invokes, rather
// than a generic event bus: callers wire only the hooks they need, and a nil
// hook is simply skipped. Every hook is called synchronously from the
// relay's goroutines, so hooks must not block.
type Observer struct {
	OnMessageCreated     func(msg *Message)
	OnMessagePublished   func(msg *Message)
	OnMessageFailed      func(msg *Message, err error, permanent bool)
	OnPollingStarted     func()
	OnPollingStopped     func()
	OnPollCompleted      func(claimed int, published int, failed int)
	OnStaleLocksReleased func(count int)
	OnCleanupCompleted   func(deleted int, cutoff time.Time)
	OnError              func(err error)
}

func (o Observer) emitCreated(msg *Message) {
	if o.OnMessageCreated != nil {
		o.OnMessageCreated(msg)
	}
}

func (o Observer) emitPublished(msg *Message) {
	if o.OnMessagePublished != nil {
		o.OnMessagePublished(msg)
	}
}

func (o Observer) emitFailed(msg *Message, err error, permanent bool) {
	if o.OnMessageFailed != nil {
		o.OnMessageFailed(msg, err, permanent)
	}
}

func (o Observer) emitPollingStarted() {
	if o.OnPollingStarted != nil {
		o.OnPollingStarted()
	}
}

func (o Observer) emitPollingStopped() {
	if o.OnPollingStopped != nil {
		o.OnPollingStopped()
	}
}

func (o Observer) emitPollCompleted(claimed, published, failed int) {
	if o.OnPollCompleted != nil {
		o.OnPollCompleted(claimed, published, failed)
	}
}

func (o Observer) emitStaleLocksReleased(count int) {
	if count > 0 && o.OnStaleLocksReleased != nil {
		o.OnStaleLocksReleased(count)
	}
}

func (o Observer) emitCleanupCompleted(deleted int, cutoff time.Time) {
	if o.OnCleanupCompleted != nil {
		o.OnCleanupCompleted(deleted, cutoff)
	}
}

func (o Observer) emitError(err error) {
	if err != nil && o.OnError != nil {
		o.OnError(err)
	}
}
