package metrics

import "github.com/prometheus/client_golang/prometheus"

// Watch event outcomes.
const (
	OutcomeTriggered = "triggered"
	OutcomeExcluded  = "excluded"
	OutcomeIgnored   = "ignored"
)

// WatchMetrics holds Prometheus metrics for filesystem change events.
type WatchMetrics struct {
	Events      *prometheus.CounterVec
	WatchedDirs prometheus.Gauge
}

// NewWatchMetrics creates and registers watch metrics on the given registry.
func NewWatchMetrics(reg prometheus.Registerer) *WatchMetrics {
	m := &WatchMetrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "events_total",
			Help:      "Total number of filesystem events by outcome.",
		}, []string{"outcome"}),
		WatchedDirs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "watched_directories",
			Help:      "Number of directories registered with the watcher.",
		}),
	}

	reg.MustRegister(m.Events, m.WatchedDirs)
	return m
}

func (m *WatchMetrics) Event(outcome string) {
	if m != nil {
		m.Events.WithLabelValues(outcome).Inc()
	}
}

func (m *WatchMetrics) DirAdded() {
	if m != nil {
		m.WatchedDirs.Inc()
	}
}
