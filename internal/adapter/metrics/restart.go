package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Restart results.
const (
	ResultSuccess     = "success"
	ResultLoadFailed  = "load_failed"
	ResultBindFailed  = "bind_failed"
	ResultInterrupted = "interrupted"
	ResultFatal       = "fatal"
)

// RestartMetrics holds Prometheus metrics for the restart cycle.
type RestartMetrics struct {
	RestartsTotal   *prometheus.CounterVec
	RestartDuration prometheus.Histogram
	DroppedTriggers prometheus.Counter
}

// NewRestartMetrics creates and registers restart metrics on the given registry.
func NewRestartMetrics(reg prometheus.Registerer) *RestartMetrics {
	m := &RestartMetrics{
		RestartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "restart",
			Name:      "total",
			Help:      "Total number of restarts by result.",
		}, []string{"result"}),
		RestartDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "restart",
			Name:      "duration_seconds",
			Help:      "Time from trigger to the new generation accepting.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		DroppedTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "restart",
			Name:      "dropped_triggers_total",
			Help:      "Total number of change triggers dropped because a restart was in progress.",
		}),
	}

	reg.MustRegister(m.RestartsTotal, m.RestartDuration, m.DroppedTriggers)
	return m
}

func (m *RestartMetrics) Restarted(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.RestartsTotal.WithLabelValues(result).Inc()
	if result == ResultSuccess {
		m.RestartDuration.Observe(took.Seconds())
	}
}

func (m *RestartMetrics) TriggerDropped() {
	if m != nil {
		m.DroppedTriggers.Inc()
	}
}
