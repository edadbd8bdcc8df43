package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	notifications *prometheus.CounterVec
	dropped       *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking emitted ledger notifications.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "subledger",
				Subsystem: "events",
				Name:      "notifications_total",
				Help:      "Count of ledger notifications segmented by type.",
			}, []string{"type"}),
			dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "subledger",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Notifications not delivered to a sink, segmented by sink.",
			}, []string{"sink"}),
		}
		prometheus.MustRegister(eventRegistry.notifications, eventRegistry.dropped)
	})
	return eventRegistry
}

// RecordNotification increments the counter for the supplied notification type.
func (m *eventMetrics) RecordNotification(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	m.notifications.WithLabelValues(normalized).Inc()
}

// RecordDrop counts a notification a sink failed to accept.
func (m *eventMetrics) RecordDrop(sink string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(strings.TrimSpace(sink)).Inc()
}
