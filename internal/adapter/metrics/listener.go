package metrics

import "github.com/prometheus/client_golang/prometheus"

// ListenerMetrics holds Prometheus metrics for listener generations.
type ListenerMetrics struct {
	ActiveConnections prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	ForcedCloses      prometheus.Counter
	Generation        prometheus.Gauge
}

// NewListenerMetrics creates and registers listener metrics on the given registry.
func NewListenerMetrics(reg prometheus.Registerer) *ListenerMetrics {
	m := &ListenerMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "active_connections",
			Help:      "Number of tracked connections across all live generations.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "connections_total",
			Help:      "Total number of accepted connections.",
		}),
		ForcedCloses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "forced_closes_total",
			Help:      "Total number of connections closed by a shutdown deadline.",
		}),
		Generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "generation",
			Help:      "Sequence number of the accepting generation, 0 when none.",
		}),
	}

	reg.MustRegister(m.ActiveConnections, m.ConnectionsTotal, m.ForcedCloses, m.Generation)
	return m
}

func (m *ListenerMetrics) ConnOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
	m.ConnectionsTotal.Inc()
}

func (m *ListenerMetrics) ConnClosed() {
	if m != nil {
		m.ActiveConnections.Dec()
	}
}

func (m *ListenerMetrics) ForcedClose(n int) {
	if m != nil {
		m.ForcedCloses.Add(float64(n))
	}
}

func (m *ListenerMetrics) SetGeneration(seq int) {
	if m != nil {
		m.Generation.Set(float64(seq))
	}
}
