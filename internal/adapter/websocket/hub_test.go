package websocket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yakovlev-alexey/hot-keeper/internal/adapter/metrics"
	"github.com/yakovlev-alexey/hot-keeper/internal/orchestrator"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_BroadcastsEvents(t *testing.T) {
	m := metrics.NewEventStreamMetrics(prometheus.NewRegistry())
	hub := NewHub(m, nil)
	defer hub.Stop()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.Observe(orchestrator.Event{Type: orchestrator.EventRestartDone, State: "idle", Generation: 3, Path: "/app/src/main.go"})

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var ev orchestrator.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		assert.Equal(t, orchestrator.EventRestartDone, ev.Type)
		assert.Equal(t, 3, ev.Generation)
		assert.Equal(t, "/app/src/main.go", ev.Path)
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ActiveClients))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.EventsSent))
}

func TestHub_UnregistersOnClientClose(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Stop()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Stop()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, map[string][]string{"Origin": {"https://evil.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
}

func TestHub_StopDisconnectsClients(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.ClientCount())
	assert.NotPanics(t, func() { hub.Observe(orchestrator.Event{Type: orchestrator.EventStarted}) })
	hub.Stop()
}
