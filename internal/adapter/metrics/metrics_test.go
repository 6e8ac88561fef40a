package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenerMetrics(t *testing.T) {
	m := NewListenerMetrics(prometheus.NewRegistry())

	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()
	m.ForcedClose(3)
	m.SetGeneration(7)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveConnections))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ConnectionsTotal))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ForcedCloses))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.Generation))
}

func TestRestartMetrics(t *testing.T) {
	m := NewRestartMetrics(prometheus.NewRegistry())

	m.Restarted(ResultSuccess, 200*time.Millisecond)
	m.Restarted(ResultLoadFailed, time.Second)
	m.TriggerDropped()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RestartsTotal.WithLabelValues(ResultSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RestartsTotal.WithLabelValues(ResultLoadFailed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DroppedTriggers))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RestartDuration))
}

func TestWatchMetrics(t *testing.T) {
	m := NewWatchMetrics(prometheus.NewRegistry())

	m.Event(OutcomeTriggered)
	m.Event(OutcomeExcluded)
	m.Event(OutcomeExcluded)
	m.DirAdded()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Events.WithLabelValues(OutcomeTriggered)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Events.WithLabelValues(OutcomeExcluded)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WatchedDirs))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var l *ListenerMetrics
	var r *RestartMetrics
	var w *WatchMetrics
	var e *EventStreamMetrics

	assert.NotPanics(t, func() {
		l.ConnOpened()
		l.ConnClosed()
		l.ForcedClose(1)
		l.SetGeneration(1)
		r.Restarted(ResultSuccess, time.Second)
		r.TriggerDropped()
		w.Event(OutcomeIgnored)
		w.DirAdded()
		e.ClientConnected()
		e.ClientDisconnected()
		e.Sent()
		e.Dropped()
	})
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewHTTPMetrics(prometheus.NewRegistry())

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/hello", func(c echo.Context) error {
		return c.String(http.StatusOK, "hi")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hello", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodGet, "200")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.InFlightGauge))
}

func TestHandler(t *testing.T) {
	reg := NewRegistry()
	NewListenerMetrics(reg)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hot_keeper_listener_active_connections")
}
