// Package publisher adapts the outbox.Publisher contract onto concrete
// brokers: NATS JetStream and SQS, plus a circuit-breaker wrapper either
// can be composed with.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codeforprod/eventforge/internal/errs"
	"github.com/codeforprod/eventforge/internal/outbox"
)

// NATSPublisher publishes outbox messages to a NATS JetStream stream,
// publishing to opts.RoutingKey as the subject and carrying opts.Headers as
// NATS message headers.
type NATSPublisher struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream string
}

// NewNATSPublisher connects to url and resolves the named JetStream stream.
func NewNATSPublisher(url, streamName string) (*NATSPublisher, error) {
	if url == "" {
		url = "nats://localhost:4222"
	}
	if streamName == "" {
		streamName = "EVENTFORGE"
	}

	conn, err := nats.Connect(url,
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("publisher: connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("publisher: create JetStream context: %w", err)
	}

	return &NATSPublisher{conn: conn, js: js, stream: streamName}, nil
}

// Publish sends msg's payload to opts.RoutingKey as the NATS subject, with
// opts.Headers (including x-delay when set) carried as message headers.
func (p *NATSPublisher) Publish(ctx context.Context, msg *outbox.Message, opts outbox.PublishOptions) error {
	m := &nats.Msg{
		Subject: opts.RoutingKey,
		Data:    msg.Payload,
		Header:  make(nats.Header),
	}
	for k, v := range opts.Headers {
		m.Header.Set(k, v)
	}
	if opts.Exchange != "" {
		m.Header.Set("x-exchange", opts.Exchange)
	}

	_, err := p.js.PublishMsg(ctx, m)
	if err != nil {
		return fmt.Errorf("publisher: nats publish: %w", err)
	}
	return nil
}

// Connect is a no-op; NewNATSPublisher already establishes the connection.
// Exposed so NATSPublisher satisfies outbox.Connector.
func (p *NATSPublisher) Connect(ctx context.Context) error { return nil }

// Disconnect drains and closes the underlying NATS connection.
func (p *NATSPublisher) Disconnect(ctx context.Context) error {
	return p.conn.Drain()
}

// IsConnected reports whether the underlying connection is up.
func (p *NATSPublisher) IsConnected() bool {
	return p.conn.IsConnected()
}

// DelayUnsupportedNATS classifies a delayed publish attempt as permanent,
// for deployments whose NATS stream has no delayed-delivery support (plain
// JetStream does not natively delay individual messages the way a broker
// with a dedicated delayed exchange would); callers that DO run a delay
// scheduler in front of NATS should not wrap Publish with this helper.
func DelayUnsupportedNATS(pub outbox.Publisher) outbox.Publisher {
	return delayRejecting{pub}
}

type delayRejecting struct {
	inner outbox.Publisher
}

func (d delayRejecting) Publish(ctx context.Context, msg *outbox.Message, opts outbox.PublishOptions) error {
	if opts.DelayMS > 0 {
		return errs.NewPermanentError("publisher does not support delayed delivery", nil)
	}
	return d.inner.Publish(ctx, msg, opts)
}
