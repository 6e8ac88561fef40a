// Package httpserver is the supervisor's admin surface: health probes,
// status, build info, Prometheus metrics and the reload event stream.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/yakovlev-alexey/hot-keeper/internal/orchestrator"
)

type statusSource interface {
	Status() orchestrator.Status
}

// Options wires the admin server to its collaborators. Metrics and Events
// may be nil, in which case the route is not registered.
type Options struct {
	Port    int
	Status  statusSource
	Metrics http.Handler
	Events  http.Handler
}

type Server struct {
	echo      *echo.Echo
	opts      Options
	startTime time.Time

	listener net.Listener
}

func NewServer(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:      e,
		opts:      opts,
		startTime: time.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Start binds the admin port and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.opts.Port))
	if err != nil {
		return fmt.Errorf("failed to start admin server: %w", err)
	}
	s.listener = ln
	s.echo.Listener = ln
	s.echo.Server.Handler = s.echo
	s.echo.Server.ReadHeaderTimeout = 10 * time.Second

	slog.Info("Starting admin server", "port", s.opts.Port)
	go func() {
		if err := s.echo.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Admin server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown admin server: %w", err)
	}
	return nil
}
