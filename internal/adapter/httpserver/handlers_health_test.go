package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yakovlev-alexey/hot-keeper/internal/orchestrator"
)

type staticStatus struct {
	status orchestrator.Status
}

func (s staticStatus) Status() orchestrator.Status { return s.status }

func newTestServer(status orchestrator.Status) *Server {
	return NewServer(Options{
		Status:  staticStatus{status: status},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, "hot_keeper_up 1") }),
	})
}

func TestHandleLiveness(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	srv := newTestServer(orchestrator.Status{})
	err := srv.handleLiveness(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `"status":"ok"`)
	assert.Contains(t, body, `"uptime"`)
}

func TestHandleReadiness_Listening(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	srv := newTestServer(orchestrator.Status{State: "idle", Generation: 4, Listening: true})
	err := srv.handleReadiness(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","generation":4}`, rec.Body.String())
}

func TestHandleReadiness_NoGeneration(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	srv := newTestServer(orchestrator.Status{State: "idle", LastError: "reload_failure: load entry: syntax error"})
	err := srv.handleReadiness(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unavailable"`)
	assert.Contains(t, rec.Body.String(), `syntax error`)
}

func TestHandleVersion(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	srv := newTestServer(orchestrator.Status{})
	require.NoError(t, srv.handleVersion(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version"`)
}

func TestHandleStatus(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	srv := newTestServer(orchestrator.Status{
		State:      "restarting",
		Generation: 2,
		Listening:  true,
		StartedAt:  time.Now().Add(-time.Minute),
		Restarts:   1,
	})
	require.NoError(t, srv.handleStatus(c))

	var body struct {
		Status orchestrator.Status `json:"status"`
		Uptime float64             `json:"uptime"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "restarting", body.Status.State)
	assert.Equal(t, 2, body.Status.Generation)
	assert.Equal(t, 1, body.Status.Restarts)
	assert.GreaterOrEqual(t, body.Uptime, 60.0)
}

func TestServer_StartServesRoutes(t *testing.T) {
	srv := newTestServer(orchestrator.Status{Listening: true})
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	port := srv.Addr().(*net.TCPAddr).Port
	client := &http.Client{Timeout: 2 * time.Second}

	for path, want := range map[string]string{
		"/health/ready": `"ready"`,
		"/metrics":      "hot_keeper_up 1",
	} {
		resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d%s", port, path))
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Contains(t, string(body), want, path)
	}

	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/events", port))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "events route is off without a hub")
}
