// Package app defines what a hot-reloadable application exports.
//
// The entry package is built as a Go plugin and must export a variable named
// App holding either an http.Handler or a Listener. A handler is served by
// the supervisor on its own listener; a Listener binds its own socket and
// reports its connections through Hooks so the supervisor can drain them.
// Either may also implement Closer to hear about its own retirement.
package app

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
)

// Symbol is the name the supervisor looks up in the entry plugin.
const Symbol = "App"

// Server is what a self-listening application hands back once it is bound.
// *http.Server satisfies it.
type Server interface {
	Shutdown(ctx context.Context) error
	Close() error
}

// Listener is implemented by applications that own their socket.
// Listen must bind cfg.Port, call ready once it accepts connections, and
// return without blocking on the serve loop.
type Listener interface {
	Listen(cfg ListenConfig, ready func()) (Server, error)
}

// Closer is optionally implemented by the exported App. Close is called
// once when the generation serving it starts to retire, before its server
// is shut down, so the application can stop tickers and goroutines that
// would otherwise outlive it: plugin code is never unloaded.
type Closer interface {
	Close() error
}

// ListenFunc adapts a function to Listener.
type ListenFunc func(cfg ListenConfig, ready func()) (Server, error)

func (f ListenFunc) Listen(cfg ListenConfig, ready func()) (Server, error) {
	return f(cfg, ready)
}

// ListenConfig is passed to Listener.Listen.
type ListenConfig struct {
	Port int
	// TLS is non-nil when the supervisor runs in secure mode.
	TLS   *tls.Config
	Hooks Hooks
}

// Hooks lets a self-listening application report connection lifecycle.
type Hooks struct {
	OnOpen  func(net.Conn)
	OnClose func(net.Conn)
}

func (h Hooks) open(c net.Conn) {
	if h.OnOpen != nil {
		h.OnOpen(c)
	}
}

func (h Hooks) close(c net.Conn) {
	if h.OnClose != nil {
		h.OnClose(c)
	}
}

// ConnState can be assigned to http.Server.ConnState. Hijacked connections
// stay tracked; use WrapListener to follow them until they close.
func (h Hooks) ConnState(c net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		h.open(c)
	case http.StateClosed:
		h.close(c)
	}
}

// WrapListener returns a listener whose accepted connections report to h
// on accept and on their first Close.
func (h Hooks) WrapListener(ln net.Listener) net.Listener {
	return &hookedListener{Listener: ln, hooks: h}
}

type hookedListener struct {
	net.Listener
	hooks Hooks
}

func (l *hookedListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	hc := &hookedConn{Conn: c, hooks: l.hooks}
	l.hooks.open(hc)
	return hc, nil
}

type hookedConn struct {
	net.Conn
	hooks Hooks
	once  sync.Once
}

func (c *hookedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() { c.hooks.close(c) })
	return err
}
