package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CircuitBreakerState constants, used by both the outbox publisher circuit
// breaker gauge and any future per-target breaker.
const (
	CircuitBreakerClosed   = 0
	CircuitBreakerOpen     = 1
	CircuitBreakerHalfOpen = 2
)

var (
	// Outbox relay metrics

	// OutboxItemsProcessed tracks total outbox items processed.
	OutboxItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventforge",
			Subsystem: "outbox",
			Name:      "items_processed_total",
			Help:      "Total outbox items processed",
		},
		[]string{"aggregate_type", "status"}, // status: published, failed, retried
	)

	// OutboxBufferSize tracks the number of rows claimed by the most recent
	// completed poll pass.
	OutboxBufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eventforge",
			Subsystem: "outbox",
			Name:      "buffer_size",
			Help:      "Current number of claimed-but-unresolved outbox messages",
		},
	)

	// OutboxPollDuration tracks outbox polling pass duration.
	OutboxPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "eventforge",
			Subsystem: "outbox",
			Name:      "poll_duration_seconds",
			Help:      "Time to poll and publish an outbox batch",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// OutboxRecoveredItems tracks items recovered from stuck PROCESSING state
	// by ReleaseStaleLocks.
	OutboxRecoveredItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventforge",
			Subsystem: "outbox",
			Name:      "recovered_items_total",
			Help:      "Total outbox items recovered from stuck PROCESSING state",
		},
		[]string{"worker_id"},
	)

	// OutboxLeaderElectionState tracks leader election status for
	// deployments running the optional Mongo-backed elector.
	// 0 = follower, 1 = leader
	OutboxLeaderElectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eventforge",
			Subsystem: "outbox",
			Name:      "leader_election_state",
			Help:      "Leader election state (0=follower, 1=leader)",
		},
	)

	// OutboxInFlightItems tracks items currently being published within a
	// poll pass.
	OutboxInFlightItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eventforge",
			Subsystem: "outbox",
			Name:      "in_flight_items",
			Help:      "Total outbox items currently being published",
		},
	)

	// Inbox reception metrics, mirroring the Outbox family.

	// InboxItemsProcessed tracks total inbox items processed.
	InboxItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventforge",
			Subsystem: "inbox",
			Name:      "items_processed_total",
			Help:      "Total inbox items processed",
		},
		[]string{"event_type", "status"}, // status: processed, failed, retried, duplicate
	)

	// InboxBufferSize tracks the size of the retry batch being redispatched
	// by the current retry pass (0 between passes).
	InboxBufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eventforge",
			Subsystem: "inbox",
			Name:      "buffer_size",
			Help:      "Current number of in-flight inbox messages",
		},
	)

	// InboxPollDuration tracks the retry loop's pass duration.
	InboxPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "eventforge",
			Subsystem: "inbox",
			Name:      "poll_duration_seconds",
			Help:      "Time to find and redispatch a retryable inbox batch",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// InboxRecoveredItems tracks messages recovered by a retry pass.
	InboxRecoveredItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventforge",
			Subsystem: "inbox",
			Name:      "recovered_items_total",
			Help:      "Total inbox items recovered by a retry pass",
		},
		[]string{"event_type"},
	)

	// InboxInFlightItems tracks messages currently being dispatched to
	// handlers.
	InboxInFlightItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eventforge",
			Subsystem: "inbox",
			Name:      "in_flight_items",
			Help:      "Total inbox items currently being dispatched to handlers",
		},
	)

	// Queue (publisher transport) metrics, shared across NATS and SQS
	// adapters.

	// QueueMessagesPublished tracks messages published to the broker.
	QueueMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventforge",
			Subsystem: "queue",
			Name:      "messages_published_total",
			Help:      "Total messages published to the outbound queue",
		},
		[]string{"queue_type"}, // nats, sqs
	)

	// QueuePublishErrors tracks queue publish errors.
	QueuePublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventforge",
			Subsystem: "queue",
			Name:      "publish_errors_total",
			Help:      "Total queue publish errors",
		},
		[]string{"queue_type"},
	)

	// QueuePublishDuration tracks publish call latency per backend.
	QueuePublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eventforge",
			Subsystem: "queue",
			Name:      "publish_duration_seconds",
			Help:      "Time spent in a single publish call",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"queue_type"},
	)

	// Circuit breaker metrics around the outbox publisher.

	// PublisherCircuitBreakerState tracks the gobreaker state wrapping the
	// configured Publisher. 0 = closed, 1 = open, 2 = half-open.
	PublisherCircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "eventforge",
			Subsystem: "publisher",
			Name:      "circuit_breaker_state",
			Help:      "Publisher circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"queue_type"},
	)

	// PublisherCircuitBreakerTrips tracks circuit breaker trip events.
	PublisherCircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventforge",
			Subsystem: "publisher",
			Name:      "circuit_breaker_trips_total",
			Help:      "Total publisher circuit breaker trip events",
		},
		[]string{"queue_type"},
	)

	// HTTP API metrics for the health/metrics surface.

	// HTTPRequestsTotal tracks HTTP requests served by the process.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventforge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eventforge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
