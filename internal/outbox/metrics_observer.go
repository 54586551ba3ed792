package outbox

import "github.com/codeforprod/eventforge/internal/common/metrics"

// MetricsObserver returns an Observer whose hooks feed the
// internal/common/metrics Outbox* series.
func MetricsObserver() Observer {
	return Observer{
		OnMessagePublished: func(msg *Message) {
			metrics.OutboxItemsProcessed.WithLabelValues(msg.AggregateType, "published").Inc()
		},
		OnMessageFailed: func(msg *Message, err error, permanent bool) {
			status := "retried"
			if permanent {
				status = "failed"
			}
			metrics.OutboxItemsProcessed.WithLabelValues(msg.AggregateType, status).Inc()
		},
		OnPollCompleted: func(claimed, published, failed int) {
			metrics.OutboxBufferSize.Set(float64(claimed))
		},
		OnStaleLocksReleased: func(count int) {
			metrics.OutboxRecoveredItems.WithLabelValues("unknown").Add(float64(count))
		},
	}
}
