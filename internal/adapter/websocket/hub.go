// Package websocket streams orchestrator events to browser and tooling
// clients over gorilla/websocket.
package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yakovlev-alexey/hot-keeper/internal/adapter/metrics"
	"github.com/yakovlev-alexey/hot-keeper/internal/orchestrator"
)

const (
	maxClients   = 64
	writeTimeout = 5 * time.Second
	sendBuffer   = 16
)

// --- Command types ---

type hubCmd interface{ hubCmd() }

type cmdRegister struct {
	conn  *websocket.Conn
	errCh chan error
}

func (cmdRegister) hubCmd() {}

type cmdUnregister struct {
	conn *websocket.Conn
}

func (cmdUnregister) hubCmd() {}

type cmdBroadcast struct {
	data []byte
}

func (cmdBroadcast) hubCmd() {}

type cmdGetClientCount struct {
	replyCh chan int
}

func (cmdGetClientCount) hubCmd() {}

type cmdStop struct {
	done chan struct{}
}

func (cmdStop) hubCmd() {}

// --- Per-connection writer ---

type clientWriter struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
}

func newClientWriter(conn *websocket.Conn) *clientWriter {
	cw := &clientWriter{
		conn:   conn,
		sendCh: make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	for {
		select {
		case msg := <-cw.sendCh:
			_ = cw.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-cw.done:
			return
		}
	}
}

func (cw *clientWriter) stop() {
	close(cw.done)
	_ = cw.conn.Close()
}

// --- Hub ---

var (
	errTooManyClients = errors.New("too many event stream clients")
	errHubStopped     = errors.New("event hub stopped")
)

// Hub fans events out to connected clients. All state is owned by the run
// goroutine; the public API sends it commands.
type Hub struct {
	cmdCh    chan hubCmd
	stopped  chan struct{}
	clients  map[*websocket.Conn]*clientWriter
	metrics  *metrics.EventStreamMetrics
	upgrader websocket.Upgrader
}

// NewHub starts a hub. checkOrigin may be nil to use NewCheckOrigin().
func NewHub(m *metrics.EventStreamMetrics, checkOrigin func(*http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = NewCheckOrigin()
	}
	hub := &Hub{
		cmdCh:   make(chan hubCmd, 256),
		stopped: make(chan struct{}),
		clients: make(map[*websocket.Conn]*clientWriter),
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
	go hub.run()
	return hub
}

func (h *Hub) run() {
	defer close(h.stopped)
	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case cmdRegister:
			h.handleRegister(c)
		case cmdUnregister:
			h.handleUnregister(c.conn)
		case cmdBroadcast:
			h.handleBroadcast(c)
		case cmdGetClientCount:
			c.replyCh <- len(h.clients)
		case cmdStop:
			h.handleStop()
			close(c.done)
			return
		}
	}
}

func (h *Hub) handleRegister(c cmdRegister) {
	if len(h.clients) >= maxClients {
		slog.Warn("Rejecting event stream client, hub is full", "max_clients", maxClients)
		_ = c.conn.Close()
		c.errCh <- errTooManyClients
		return
	}
	h.clients[c.conn] = newClientWriter(c.conn)
	h.metrics.ClientConnected()
	slog.Debug("Event stream client registered", "clients", len(h.clients))
	c.errCh <- nil
}

func (h *Hub) handleUnregister(conn *websocket.Conn) {
	cw, exists := h.clients[conn]
	if !exists {
		return
	}
	cw.stop()
	delete(h.clients, conn)
	h.metrics.ClientDisconnected()
	slog.Debug("Event stream client unregistered", "clients", len(h.clients))
}

func (h *Hub) handleBroadcast(c cmdBroadcast) {
	var slow []*websocket.Conn
	for conn, cw := range h.clients {
		select {
		case cw.sendCh <- c.data:
			h.metrics.Sent()
		default:
			slow = append(slow, conn)
		}
	}

	for _, conn := range slow {
		slog.Debug("Disconnecting slow event stream client")
		h.metrics.Dropped()
		h.handleUnregister(conn)
	}
}

func (h *Hub) handleStop() {
	for conn := range h.clients {
		h.handleUnregister(conn)
	}
}

// --- Public API ---

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("Event stream upgrade failed", "error", err)
		return
	}
	if err := h.register(conn); err != nil {
		return
	}

	// Reads only detect the close; clients send nothing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.unregister(conn)
			return
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	select {
	case h.cmdCh <- cmdRegister{conn: conn, errCh: errCh}:
	case <-h.stopped:
		_ = conn.Close()
		return errHubStopped
	}
	select {
	case err := <-errCh:
		return err
	case <-h.stopped:
		_ = conn.Close()
		return errHubStopped
	}
}

func (h *Hub) unregister(conn *websocket.Conn) {
	select {
	case h.cmdCh <- cmdUnregister{conn: conn}:
	case <-h.stopped:
	}
}

// Observe broadcasts an orchestrator event. It never blocks; events are
// dropped when the hub is backed up or stopped.
func (h *Hub) Observe(ev orchestrator.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to marshal event", "type", ev.Type, "error", err)
		return
	}
	select {
	case h.cmdCh <- cmdBroadcast{data: data}:
	default:
		h.metrics.Dropped()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	replyCh := make(chan int, 1)
	select {
	case h.cmdCh <- cmdGetClientCount{replyCh: replyCh}:
	case <-h.stopped:
		return 0
	}
	select {
	case n := <-replyCh:
		return n
	case <-h.stopped:
		return 0
	}
}

// Stop disconnects every client and ends the hub goroutine.
func (h *Hub) Stop() {
	done := make(chan struct{})
	select {
	case h.cmdCh <- cmdStop{done: done}:
	case <-h.stopped:
		return
	}
	select {
	case <-done:
	case <-h.stopped:
	}
}
