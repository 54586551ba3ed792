package outbox

import (
	"strconv"
	"time"
)

const (
	headerAggregateType = "aggregate_type"
	headerAggregateID   = "aggregate_id"
	headerEventType     = "event_type"
	headerMessageID     = "message_id"
	headerTimestamp     = "timestamp"
	headerContentType   = "content_type"
	headerDelay         = "x-delay"

	defaultDelayedExchange = "delayed_exchange"
	defaultDirectExchange  = "direct_exchange"
)

// buildPublishOptions derives routing, exchange, and header decisions from a
// message per the routing rules the core imposes on every publisher: the
// routing key defaults to "{aggregate_type}.{event_type}" when metadata
// doesn't override it, the exchange is metadata-supplied only when there's no
// delay, and a delayed message always carries the opaque x-delay header.
func buildPublishOptions(msg *Message) PublishOptions {
	opts := PublishOptions{
		Headers: map[string]string{
			headerAggregateType: msg.AggregateType,
			headerAggregateID:   msg.AggregateID,
			headerEventType:     msg.EventType,
			headerMessageID:     msg.ID,
			headerTimestamp:     strconv.FormatInt(msg.CreatedAt.UnixMilli(), 10),
			headerContentType:   "application/json",
		},
	}

	if rk, ok := msg.MetadataRoutingKey(); ok {
		opts.RoutingKey = rk
	} else {
		opts.RoutingKey = msg.AggregateType + "." + msg.EventType
	}

	delayMS, hasDelay := msg.MetadataDelayMS()
	if hasDelay && delayMS > 0 {
		opts.DelayMS = delayMS
		opts.Headers[headerDelay] = strconv.FormatInt(delayMS, 10)
	}

	if ex, ok := msg.MetadataExchange(); ok && !hasDelay {
		opts.Exchange = ex
	} else if hasDelay && delayMS > 0 {
		opts.Exchange = defaultDelayedExchange
	} else {
		opts.Exchange = defaultDirectExchange
	}

	return opts
}

// ensureCreatedAt is a defensive default for messages built outside a
// repository round-trip (e.g. in tests): CreatedAt zero would otherwise
// serialize as a pre-epoch timestamp header.
func ensureCreatedAt(msg *Message) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
}
