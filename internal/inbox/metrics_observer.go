package inbox

import "github.com/codeforprod/eventforge/internal/common/metrics"

// MetricsObserver returns an Observer whose hooks feed the
// internal/common/metrics Inbox* series, mirroring outbox.MetricsObserver.
func MetricsObserver() Observer {
	return Observer{
		OnMessageDuplicate: func(messageID, source string) {
			metrics.InboxItemsProcessed.WithLabelValues("unknown", "duplicate").Inc()
		},
		OnMessageProcessed: func(msg *Message) {
			metrics.InboxItemsProcessed.WithLabelValues(msg.EventType, "processed").Inc()
		},
		OnMessageFailed: func(msg *Message, err error, permanent bool) {
			status := "retried"
			if permanent {
				status = "failed"
			}
			metrics.InboxItemsProcessed.WithLabelValues(msg.EventType, status).Inc()
		},
	}
}
