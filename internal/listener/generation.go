package listener

import (
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/yakovlev-alexey/hot-keeper/app"
	"github.com/yakovlev-alexey/hot-keeper/internal/module"
)

// State is the lifecycle position of a generation.
type State int32

const (
	Created State = iota
	Accepting
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Accepting:
		return "accepting"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Generation is one listen socket bound to one application load.
type Generation struct {
	ID   uuid.UUID
	Seq  int
	Kind module.EntryKind

	addr   net.Addr
	server app.Server
	// served is closed when the supervisor-owned serve loop returns. Nil for
	// self-listening applications.
	served chan struct{}

	state atomic.Int32
	conns *ConnSet
	// closer is the application's own release hook, nil if it has none.
	closer app.Closer
}

func newGeneration(seq int, kind module.EntryKind, conns *ConnSet) *Generation {
	g := &Generation{
		ID:    uuid.New(),
		Seq:   seq,
		Kind:  kind,
		conns: conns,
	}
	g.state.Store(int32(Created))
	return g
}

// State returns the current lifecycle state.
func (g *Generation) State() State {
	return State(g.state.Load())
}

// Conns returns the generation's connection set.
func (g *Generation) Conns() *ConnSet {
	return g.conns
}

// Addr returns the bound address, or nil when the application owns its socket.
func (g *Generation) Addr() net.Addr {
	return g.addr
}

func (g *Generation) transition(from, to State) bool {
	return g.state.CompareAndSwap(int32(from), int32(to))
}

func (g *Generation) hooks() app.Hooks {
	return app.Hooks{
		OnOpen:  g.conns.add,
		OnClose: func(c net.Conn) { g.conns.remove(c) },
	}
}

func (g *Generation) closeApp() {
	if g.closer == nil {
		return
	}
	if err := g.closer.Close(); err != nil {
		slog.Warn("Application close hook failed", "generation", g.Seq, "error", err)
	}
}
