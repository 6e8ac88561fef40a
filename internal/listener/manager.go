package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/yakovlev-alexey/hot-keeper/app"
	"github.com/yakovlev-alexey/hot-keeper/internal/adapter/metrics"
	"github.com/yakovlev-alexey/hot-keeper/internal/module"
	hkerrors "github.com/yakovlev-alexey/hot-keeper/internal/platform/errors"
	"github.com/yakovlev-alexey/hot-keeper/internal/platform/retry"
)

const (
	// DefaultLinger is how long forced shutdown lets pending writes flush.
	DefaultLinger = 100 * time.Millisecond
	// DefaultForceTimeout bounds the wait for a force-closed server.
	DefaultForceTimeout = time.Second

	defaultStartTimeout      = 10 * time.Second
	defaultReadHeaderTimeout = 10 * time.Second
)

// Options configures a Manager.
type Options struct {
	Port     int
	Secure   bool
	CertFile string
	KeyFile  string

	StartTimeout time.Duration
	Linger       time.Duration
	ForceTimeout time.Duration

	// BindRetry is used by Restart while the previous socket is released.
	BindRetry retry.Policy

	Clock       clockwork.Clock
	Metrics     *metrics.ListenerMetrics
	HTTPMetrics *metrics.HTTPMetrics
}

// Manager starts and retires listener generations.
type Manager struct {
	opts Options
	seq  atomic.Int64
	// live is the sequence number of the newest accepting generation, 0
	// when it has been shut down.
	live atomic.Int64
}

func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = defaultStartTimeout
	}
	if opts.Linger <= 0 {
		opts.Linger = DefaultLinger
	}
	if opts.ForceTimeout <= 0 {
		opts.ForceTimeout = DefaultForceTimeout
	}
	if opts.BindRetry.MaxAttempts < 1 {
		opts.BindRetry = retry.Policy{
			MaxAttempts:    5,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     500 * time.Millisecond,
		}
	}
	if opts.BindRetry.Clock == nil {
		opts.BindRetry.Clock = opts.Clock
	}
	return &Manager{opts: opts}
}

// Start binds the port and serves entry on a new generation. Certificates
// are read only in secure mode and are checked before any bind attempt.
func (m *Manager) Start(ctx context.Context, entry module.Entry) (*Generation, error) {
	tlsCfg, err := m.tlsConfig()
	if err != nil {
		return nil, err
	}

	seq := int(m.seq.Add(1))
	gen := newGeneration(seq, entry.Kind, newConnSet(m.opts.Metrics))
	gen.closer = entry.Closer

	switch entry.Kind {
	case module.HandlerOnly:
		err = m.serveHandler(gen, entry.Handler, tlsCfg)
	case module.SelfListening:
		err = m.startSelfListening(ctx, gen, entry.Listener, tlsCfg)
	default:
		err = fmt.Errorf("unsupported entry kind %s", entry.Kind)
	}
	if err != nil {
		gen.state.Store(int32(Closed))
		return nil, err
	}

	gen.transition(Created, Accepting)
	m.live.Store(int64(seq))
	m.opts.Metrics.SetGeneration(seq)
	slog.InfoContext(ctx, "Listening", "generation", seq, "port", m.opts.Port, "secure", tlsCfg != nil, "kind", entry.Kind.String())
	return gen, nil
}

// Restart is Start with a bounded retry while the port is still held by the
// previous generation. Any other failure is returned immediately.
func (m *Manager) Restart(ctx context.Context, entry module.Entry) (*Generation, error) {
	policy := m.opts.BindRetry
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.WarnContext(ctx, "Port still in use, retrying bind", "attempt", attempt, "backoff", backoff, "error", err)
	}

	gen, err := retry.Do(ctx, policy, classifyBind, func() (*Generation, error) {
		return m.Start(ctx, entry)
	})
	if err != nil {
		var perm *retry.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		var hkErr *hkerrors.Error
		if errors.As(err, &hkErr) {
			return nil, err
		}
		return nil, hkerrors.BindFailure("restart bind", err)
	}
	return gen, nil
}

func classifyBind(err error) retry.Action {
	if errors.Is(err, syscall.EADDRINUSE) {
		return retry.Retry
	}
	return retry.Stop
}

// Shutdown drains gen within deadline. After the deadline every remaining
// connection is given a short linger for pending writes and then closed.
// The connection set is empty on return. A generation that is not
// accepting is left alone.
func (m *Manager) Shutdown(gen *Generation, deadline time.Duration) error {
	if gen == nil || !gen.transition(Accepting, Draining) {
		return nil
	}
	defer gen.state.Store(int32(Closed))
	if m.live.CompareAndSwap(int64(gen.Seq), 0) {
		m.opts.Metrics.SetGeneration(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The application is told first; both steps share the deadline.
	done := make(chan error, 1)
	go func() {
		gen.closeApp()
		done <- gen.server.Shutdown(ctx)
	}()

	timer := m.opts.Clock.NewTimer(deadline)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			// The server may still hold its socket.
			slog.Warn("Graceful shutdown failed, forcing close", "generation", gen.Seq, "error", err)
			return m.forceClose(gen, deadline)
		}
		if n := gen.conns.closeAll(); n > 0 {
			slog.Debug("Closed connections left after graceful shutdown", "generation", gen.Seq, "count", n)
		}
		slog.Info("Generation closed", "generation", gen.Seq)
		return nil
	case <-timer.Chan():
		cancel()
		return m.forceClose(gen, deadline)
	}
}

func (m *Manager) forceClose(gen *Generation, deadline time.Duration) error {
	conns := gen.conns.snapshot()
	slog.Warn("Shutdown deadline passed, forcing connections closed",
		"generation", gen.Seq, "deadline", deadline, "connections", len(conns))

	// Socket deadlines are wall-clock.
	writeDeadline := time.Now().Add(m.opts.Linger)
	for _, c := range conns {
		_ = c.SetWriteDeadline(writeDeadline)
	}
	<-m.opts.Clock.After(m.opts.Linger)

	forced := gen.conns.closeAll()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		if err := gen.server.Close(); err != nil {
			slog.Debug("Server close", "generation", gen.Seq, "error", err)
		}
		if gen.served != nil {
			<-gen.served
		}
	}()

	select {
	case <-closed:
	case <-m.opts.Clock.After(m.opts.ForceTimeout):
		forced += gen.conns.closeAll()
		m.opts.Metrics.ForcedClose(forced)
		return hkerrors.ShutdownTimeout("generation did not close after forced shutdown", nil).
			AsFatal().
			WithContext("generation", gen.Seq).
			WithContext("force_timeout", m.opts.ForceTimeout.String())
	}

	forced += gen.conns.closeAll()
	m.opts.Metrics.ForcedClose(forced)
	slog.Warn("Generation force-closed", "generation", gen.Seq, "forced_connections", forced)
	return nil
}

func (m *Manager) tlsConfig() (*tls.Config, error) {
	if !m.opts.Secure {
		return nil, nil
	}

	for _, path := range []string{m.opts.CertFile, m.opts.KeyFile} {
		if path == "" {
			return nil, hkerrors.CertificateMissing("secure mode requires cert and key files", nil)
		}
		if _, err := os.Stat(path); err != nil {
			return nil, hkerrors.CertificateMissing("certificate file not readable", err).WithContext("path", path)
		}
	}

	pair, err := tls.LoadX509KeyPair(m.opts.CertFile, m.opts.KeyFile)
	if err != nil {
		return nil, hkerrors.CertificateMissing("load key pair", err).
			WithContext("cert", m.opts.CertFile).
			WithContext("key", m.opts.KeyFile)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func (m *Manager) serveHandler(gen *Generation, h http.Handler, tlsCfg *tls.Config) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", m.opts.Port))
	if err != nil {
		return hkerrors.BindFailure("listen", err).WithContext("port", m.opts.Port)
	}

	// The raw socket is tracked; TLS sits on top of it.
	var served net.Listener = gen.hooks().WrapListener(ln)
	if tlsCfg != nil {
		served = tls.NewListener(served, tlsCfg)
	}

	// Everything runs before routing: the application sees every method
	// and path, and the router never answers on its behalf.
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Pre(middleware.Recover())
	e.Pre(m.opts.HTTPMetrics.Middleware())
	e.Pre(dispatchTo(h))

	srv := &http.Server{
		Handler:           e,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}

	gen.addr = ln.Addr()
	gen.server = srv
	gen.served = make(chan struct{})

	go func() {
		defer close(gen.served)
		if err := srv.Serve(served); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Serve loop ended", "generation", gen.Seq, "error", err)
		}
	}()
	return nil
}

// dispatchTo ends the middleware chain at h.
func dispatchTo(h http.Handler) echo.MiddlewareFunc {
	return func(echo.HandlerFunc) echo.HandlerFunc {
		return echo.WrapHandler(h)
	}
}

func (m *Manager) startSelfListening(ctx context.Context, gen *Generation, l app.Listener, tlsCfg *tls.Config) error {
	ready := make(chan struct{})
	var readyOnce sync.Once

	results := make(chan listenResult, 1)

	cfg := app.ListenConfig{Port: m.opts.Port, TLS: tlsCfg, Hooks: gen.hooks()}
	go func() {
		srv, err := l.Listen(cfg, func() { readyOnce.Do(func() { close(ready) }) })
		results <- listenResult{srv: srv, err: err}
	}()

	timeout := m.opts.Clock.NewTimer(m.opts.StartTimeout)
	defer timeout.Stop()

	var srv app.Server
	select {
	case r := <-results:
		if r.err != nil {
			return hkerrors.BindFailure("application listen", r.err).WithContext("port", m.opts.Port)
		}
		if r.srv == nil {
			return hkerrors.BindFailure("application listen returned no server", nil)
		}
		srv = r.srv
	case <-timeout.Chan():
		go closeWhenReturned(results)
		return hkerrors.BindFailure("application did not return from Listen", context.DeadlineExceeded).
			WithContext("start_timeout", m.opts.StartTimeout.String())
	case <-ctx.Done():
		go closeWhenReturned(results)
		return hkerrors.BindFailure("start interrupted", ctx.Err())
	}

	select {
	case <-ready:
	case <-timeout.Chan():
		_ = srv.Close()
		return hkerrors.BindFailure("application never reported ready", context.DeadlineExceeded).
			WithContext("start_timeout", m.opts.StartTimeout.String())
	case <-ctx.Done():
		_ = srv.Close()
		return hkerrors.BindFailure("start interrupted", ctx.Err())
	}

	gen.server = srv
	return nil
}

type listenResult struct {
	srv app.Server
	err error
}

// closeWhenReturned closes a server whose Listen call outlived the start
// timeout.
func closeWhenReturned(results <-chan listenResult) {
	if r := <-results; r.err == nil && r.srv != nil {
		_ = r.srv.Close()
	}
}
