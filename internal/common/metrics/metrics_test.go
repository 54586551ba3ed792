package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// === Outbox Metrics Tests ===

func TestOutboxItemsProcessed_Labels(t *testing.T) {
	statuses := []string{"published", "failed", "retried"}
	for _, status := range statuses {
		OutboxItemsProcessed.WithLabelValues("order", status).Inc()
	}

	counter := OutboxItemsProcessed.WithLabelValues("order", "published")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestOutboxBufferSize_Gauge(t *testing.T) {
	OutboxBufferSize.Set(5)
	OutboxBufferSize.Inc()
	OutboxBufferSize.Dec()
	OutboxBufferSize.Add(10)
	OutboxBufferSize.Sub(5)

	desc := OutboxBufferSize.Desc()
	if desc == nil {
		t.Error("Expected Desc to be non-nil")
	}
}

func TestOutboxPollDuration_Observe(t *testing.T) {
	OutboxPollDuration.Observe(0.05)
	OutboxPollDuration.Observe(0.25)
}

func TestOutboxRecoveredItems_Counter(t *testing.T) {
	OutboxRecoveredItems.WithLabelValues("worker-1").Inc()
	OutboxRecoveredItems.WithLabelValues("worker-1").Add(3)

	counter := OutboxRecoveredItems.WithLabelValues("worker-1")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestOutboxLeaderElectionState_Values(t *testing.T) {
	OutboxLeaderElectionState.Set(0)
	OutboxLeaderElectionState.Set(1)
}

func TestOutboxInFlightItems_Gauge(t *testing.T) {
	OutboxInFlightItems.Set(3)
	OutboxInFlightItems.Inc()
	OutboxInFlightItems.Dec()
}

// === Inbox Metrics Tests ===

func TestInboxItemsProcessed_Labels(t *testing.T) {
	statuses := []string{"processed", "failed", "retried", "duplicate"}
	for _, status := range statuses {
		InboxItemsProcessed.WithLabelValues("order.created", status).Inc()
	}

	counter := InboxItemsProcessed.WithLabelValues("order.created", "processed")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestInboxBufferSize_Gauge(t *testing.T) {
	InboxBufferSize.Set(2)
	InboxBufferSize.Inc()
	InboxBufferSize.Dec()
}

func TestInboxPollDuration_Observe(t *testing.T) {
	InboxPollDuration.Observe(0.01)
	InboxPollDuration.Observe(0.5)
}

func TestInboxRecoveredItems_Counter(t *testing.T) {
	InboxRecoveredItems.WithLabelValues("order.created").Inc()

	counter := InboxRecoveredItems.WithLabelValues("order.created")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestInboxInFlightItems_Gauge(t *testing.T) {
	InboxInFlightItems.Set(1)
	InboxInFlightItems.Inc()
	InboxInFlightItems.Dec()
}

// === Queue Metrics Tests ===

func TestQueueMessagesPublished_Labels(t *testing.T) {
	queueTypes := []string{"nats", "sqs"}

	for _, qType := range queueTypes {
		QueueMessagesPublished.WithLabelValues(qType).Inc()
		QueueMessagesPublished.WithLabelValues(qType).Add(100)
	}

	counter := QueueMessagesPublished.WithLabelValues("nats")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestQueuePublishErrors_Counter(t *testing.T) {
	QueuePublishErrors.WithLabelValues("nats").Inc()
	QueuePublishErrors.WithLabelValues("sqs").Inc()

	counter := QueuePublishErrors.WithLabelValues("nats")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestQueuePublishDuration_Observe(t *testing.T) {
	QueuePublishDuration.WithLabelValues("nats").Observe(0.01)
	QueuePublishDuration.WithLabelValues("sqs").Observe(0.2)
}

// === Circuit Breaker Metrics Tests ===

func TestPublisherCircuitBreakerState_Values(t *testing.T) {
	gauge := PublisherCircuitBreakerState.WithLabelValues("nats")

	gauge.Set(CircuitBreakerClosed)
	gauge.Set(CircuitBreakerOpen)
	gauge.Set(CircuitBreakerHalfOpen)

	if gauge == nil {
		t.Error("Expected gauge to be non-nil")
	}
}

func TestPublisherCircuitBreakerTrips_Counter(t *testing.T) {
	PublisherCircuitBreakerTrips.WithLabelValues("sqs").Inc()

	counter := PublisherCircuitBreakerTrips.WithLabelValues("sqs")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

// === HTTP API Metrics Tests ===

func TestHTTPRequestsTotal_Labels(t *testing.T) {
	methods := []string{"GET", "POST"}
	paths := []string{"/q/health", "/metrics"}
	statuses := []string{"200", "500"}

	for _, method := range methods {
		for _, path := range paths {
			for _, status := range statuses {
				HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
			}
		}
	}

	counter := HTTPRequestsTotal.WithLabelValues("GET", "/q/health", "200")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestHTTPRequestDuration_Observe(t *testing.T) {
	HTTPRequestDuration.WithLabelValues("GET", "/q/health").Observe(0.015)
	HTTPRequestDuration.WithLabelValues("POST", "/metrics").Observe(0.150)

	histogram := HTTPRequestDuration.WithLabelValues("GET", "/q/health")
	if histogram == nil {
		t.Error("Expected histogram to be non-nil")
	}
}

// === Circuit Breaker Constants Tests ===

func TestCircuitBreakerConstants(t *testing.T) {
	if CircuitBreakerClosed != 0 {
		t.Errorf("Expected CircuitBreakerClosed=0, got %d", CircuitBreakerClosed)
	}
	if CircuitBreakerOpen != 1 {
		t.Errorf("Expected CircuitBreakerOpen=1, got %d", CircuitBreakerOpen)
	}
	if CircuitBreakerHalfOpen != 2 {
		t.Errorf("Expected CircuitBreakerHalfOpen=2, got %d", CircuitBreakerHalfOpen)
	}
}

// === Counter/Gauge/Histogram sanity with an isolated registry ===

func TestCounterValue(t *testing.T) {
	reg := prometheus.NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "Test counter",
	})

	reg.MustRegister(counter)

	counter.Add(5)

	val := testutil.ToFloat64(counter)
	if val != 5 {
		t.Errorf("Expected counter value 5, got %f", val)
	}

	counter.Inc()

	val = testutil.ToFloat64(counter)
	if val != 6 {
		t.Errorf("Expected counter value 6, got %f", val)
	}
}

func TestGaugeValue(t *testing.T) {
	reg := prometheus.NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_gauge",
		Help: "Test gauge",
	})

	reg.MustRegister(gauge)

	gauge.Set(100)
	val := testutil.ToFloat64(gauge)
	if val != 100 {
		t.Errorf("Expected gauge value 100, got %f", val)
	}

	gauge.Add(50)
	val = testutil.ToFloat64(gauge)
	if val != 150 {
		t.Errorf("Expected gauge value 150, got %f", val)
	}

	gauge.Sub(30)
	val = testutil.ToFloat64(gauge)
	if val != 120 {
		t.Errorf("Expected gauge value 120, got %f", val)
	}
}

func TestHistogramBuckets(t *testing.T) {
	reg := prometheus.NewRegistry()

	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_histogram",
		Help:    "Test histogram",
		Buckets: []float64{0.1, 0.5, 1.0, 5.0},
	})

	reg.MustRegister(histogram)

	histogram.Observe(0.05)
	histogram.Observe(0.25)
	histogram.Observe(0.75)
	histogram.Observe(2.5)
	histogram.Observe(10.0)
}

// === Outbox/Inbox Metrics Integration Tests ===

func TestOutboxMetricsIntegration(t *testing.T) {
	aggregateType := "integration-test-order"

	for i := 0; i < 100; i++ {
		if i%10 == 0 {
			OutboxItemsProcessed.WithLabelValues(aggregateType, "failed").Inc()
		} else if i%20 == 0 {
			OutboxItemsProcessed.WithLabelValues(aggregateType, "retried").Inc()
		} else {
			OutboxItemsProcessed.WithLabelValues(aggregateType, "published").Inc()
		}
	}

	OutboxBufferSize.Set(10)
	OutboxPollDuration.Observe(0.2)
}

func TestInboxMetricsIntegration(t *testing.T) {
	eventType := "integration-test.created"

	for i := 0; i < 50; i++ {
		status := "processed"
		if i%5 == 0 {
			status = "failed"
		}
		InboxItemsProcessed.WithLabelValues(eventType, status).Inc()
	}

	InboxBufferSize.Set(4)
	InboxPollDuration.Observe(0.05)
}

// Benchmark for counter operations
func BenchmarkCounterInc(b *testing.B) {
	counter := OutboxItemsProcessed.WithLabelValues("bench-order", "published")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		counter.Inc()
	}
}

// Benchmark for histogram observations
func BenchmarkHistogramObserve(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		OutboxPollDuration.Observe(0.123)
	}
}

// Benchmark for gauge set operations
func BenchmarkGaugeSet(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		OutboxBufferSize.Set(float64(i))
	}
}
