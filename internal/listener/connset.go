package listener

import (
	"net"
	"sync"

	"github.com/yakovlev-alexey/hot-keeper/internal/adapter/metrics"
)

// ConnSet is the live connections of one generation. Connections add
// themselves on accept and remove themselves on close.
type ConnSet struct {
	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	metrics *metrics.ListenerMetrics
}

func newConnSet(m *metrics.ListenerMetrics) *ConnSet {
	return &ConnSet{
		conns:   make(map[net.Conn]struct{}),
		metrics: m,
	}
}

func (s *ConnSet) add(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c]; ok {
		return
	}
	s.conns[c] = struct{}{}
	s.metrics.ConnOpened()
}

func (s *ConnSet) remove(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c]; !ok {
		return false
	}
	delete(s.conns, c)
	s.metrics.ConnClosed()
	return true
}

// Len returns the number of tracked connections.
func (s *ConnSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *ConnSet) snapshot() []net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

// closeAll closes and untracks every connection, returning how many were
// still tracked. Close hooks that fire later find nothing to remove.
func (s *ConnSet) closeAll() int {
	closed := 0
	for _, c := range s.snapshot() {
		if s.remove(c) {
			closed++
		}
		_ = c.Close()
	}
	return closed
}
