package outbox

import "context"

// PublishOptions carries per-message routing hints derived from Message
// metadata (routing_key, exchange, delay) so adapters don't need to know
// about the outbox row shape.
type PublishOptions struct {
	RoutingKey string
	Exchange   string
	DelayMS    int64
	Headers    map[string]string
}

// Publisher is the contract the relay drives to hand off a claimed message.
// Implementations must return an *errs.PermanentError for payloads the
// broker will never accept (oversized, malformed) so the relay can skip
// retry and fail the message immediately; any other error is treated as
// transient and scheduled for retry with backoff.
type Publisher interface {
	Publish(ctx context.Context, msg *Message, opts PublishOptions) error
}

// Connector is implemented by publishers with an explicit connection
// lifecycle (NATS, SQS client setup). The relay calls Connect on Start and
// Disconnect on Stop when the configured Publisher implements it; publishers
// that are connectionless can skip it.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
}
