package metrics

import "github.com/prometheus/client_golang/prometheus"

// EventStreamMetrics holds Prometheus metrics for the /events WebSocket stream.
type EventStreamMetrics struct {
	ActiveClients prometheus.Gauge
	EventsSent    prometheus.Counter
	EventsDropped prometheus.Counter
}

// NewEventStreamMetrics creates and registers event stream metrics on the given registry.
func NewEventStreamMetrics(reg prometheus.Registerer) *EventStreamMetrics {
	m := &EventStreamMetrics{
		ActiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "active_clients",
			Help:      "Number of connected event stream clients.",
		}),
		EventsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "sent_total",
			Help:      "Total number of events queued to clients.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Total number of events dropped for slow clients.",
		}),
	}

	reg.MustRegister(m.ActiveClients, m.EventsSent, m.EventsDropped)
	return m
}

func (m *EventStreamMetrics) ClientConnected() {
	if m != nil {
		m.ActiveClients.Inc()
	}
}

func (m *EventStreamMetrics) ClientDisconnected() {
	if m != nil {
		m.ActiveClients.Dec()
	}
}

func (m *EventStreamMetrics) Sent() {
	if m != nil {
		m.EventsSent.Inc()
	}
}

func (m *EventStreamMetrics) Dropped() {
	if m != nil {
		m.EventsDropped.Inc()
	}
}
