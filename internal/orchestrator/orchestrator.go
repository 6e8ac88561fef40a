package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/yakovlev-alexey/hot-keeper/internal/adapter/metrics"
	"github.com/yakovlev-alexey/hot-keeper/internal/listener"
	"github.com/yakovlev-alexey/hot-keeper/internal/module"
	"github.com/yakovlev-alexey/hot-keeper/internal/pathset"
	"github.com/yakovlev-alexey/hot-keeper/internal/platform/correlation"
	hkerrors "github.com/yakovlev-alexey/hot-keeper/internal/platform/errors"
)

// Cache is the part of the module cache the orchestrator invalidates.
type Cache interface {
	Keys() []string
	Forget(keys ...string) int
}

// Listeners starts and retires listener generations.
type Listeners interface {
	Start(ctx context.Context, entry module.Entry) (*listener.Generation, error)
	Restart(ctx context.Context, entry module.Entry) (*listener.Generation, error)
	Shutdown(gen *listener.Generation, deadline time.Duration) error
}

// ChangeSource delivers change notifications.
type ChangeSource interface {
	Start(onChange func(path string)) error
	Errors() <-chan error
	Close() error
}

// Deps are the collaborators and settings of an Orchestrator.
type Deps struct {
	EntryPath string
	WatchSet  pathset.Set

	ShutdownTimeout time.Duration
	CleanupTimeout  time.Duration

	Loader    module.Loader
	Cache     Cache
	Listeners Listeners
	Source    ChangeSource

	Clock     clockwork.Clock
	Metrics   *metrics.RestartMetrics
	Observers []Observer
}

type Orchestrator struct {
	deps Deps

	mu        sync.Mutex
	state     State
	active    *listener.Generation
	startedAt time.Time
	restarts  int
	lastErr   string

	pending chan string
}

// New returns an orchestrator that has not started. Triggers are dropped
// until Run has brought up the first generation.
func New(deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		deps:    deps,
		state:   Restarting,
		pending: make(chan string, 1),
	}
}

// Subscribe adds an observer. Call before Run.
func (o *Orchestrator) Subscribe(obs Observer) {
	o.deps.Observers = append(o.deps.Observers, obs)
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns a diagnostic snapshot.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Status{
		State:     o.state.String(),
		StartedAt: o.startedAt,
		Restarts:  o.restarts,
		LastError: o.lastErr,
	}
	if o.active != nil {
		s.Generation = o.active.Seq
		s.Listening = true
	}
	return s
}

// Trigger requests a restart for a change at path. It is accepted only
// while idle; otherwise it is dropped and false is returned.
func (o *Orchestrator) Trigger(path string) bool {
	o.mu.Lock()
	if o.state != Idle {
		state := o.state
		o.mu.Unlock()
		o.deps.Metrics.TriggerDropped()
		slog.Debug("Change ignored, restart in progress", "path", path, "state", state.String())
		o.emit(Event{Type: EventTriggerDropped, State: state.String(), Path: path})
		return false
	}
	o.state = Restarting
	o.pending <- path
	o.mu.Unlock()
	return true
}

// Run starts the first generation, then serves triggers until ctx is
// cancelled or a fatal error occurs. It returns nil after a clean
// termination.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.startup(ctx); err != nil {
		// A termination signal during startup cancels the build; that is a
		// clean exit, not a failure.
		if ctx.Err() != nil {
			slog.Info("Terminated during startup", "error", err)
			o.closeSource()
			o.setState(Terminated)
			o.emit(Event{Type: EventTerminated, State: Terminated.String()})
			return nil
		}
		o.fatal(err)
		o.closeSource()
		o.setState(Terminated)
		return err
	}

	for {
		// Termination wins over a queued trigger.
		if ctx.Err() != nil {
			return o.terminate()
		}

		select {
		case <-ctx.Done():
			return o.terminate()
		case path := <-o.pending:
			if err := o.restart(ctx, path); err != nil {
				o.fatal(err)
				if termErr := o.terminate(); termErr != nil {
					slog.Error("Shutdown after fatal restart error failed", hkerrors.AsStructuredError(termErr, hkerrors.KindShutdownTimeout).LogAttrs()...)
				}
				return err
			}
		case err := <-o.deps.Source.Errors():
			failure := hkerrors.AsStructuredError(err, hkerrors.KindWatcherFailure).AsFatal()
			o.fatal(failure)
			if termErr := o.terminate(); termErr != nil {
				slog.Error("Shutdown after watcher failure failed", hkerrors.AsStructuredError(termErr, hkerrors.KindShutdownTimeout).LogAttrs()...)
			}
			return failure
		}
	}
}

func (o *Orchestrator) startup(ctx context.Context) error {
	o.mu.Lock()
	o.startedAt = o.deps.Clock.Now()
	o.mu.Unlock()

	entry, err := o.deps.Loader.Load(ctx, o.deps.EntryPath)
	if err != nil {
		return reloadFailure(err).AsFatal().WithContext("entry", o.deps.EntryPath)
	}

	gen, err := o.deps.Listeners.Start(ctx, entry)
	if err != nil {
		return hkerrors.AsStructuredError(err, hkerrors.KindBindFailure).AsFatal()
	}

	if err := o.deps.Source.Start(func(path string) { o.Trigger(path) }); err != nil {
		_ = o.deps.Listeners.Shutdown(gen, o.deps.CleanupTimeout)
		return hkerrors.WatcherFailure("start watching", err)
	}

	o.mu.Lock()
	o.active = gen
	o.state = Idle
	o.mu.Unlock()

	slog.Info("Application started", "entry", o.deps.EntryPath, "kind", entry.Kind.String(), "generation", gen.Seq)
	o.emit(Event{Type: EventStarted, State: Idle.String(), Generation: gen.Seq})
	return nil
}

// restart runs one reload. Steps are not interrupted once begun; a
// cancelled ctx is honoured between them. A non-nil return is fatal.
func (o *Orchestrator) restart(ctx context.Context, path string) error {
	begin := o.deps.Clock.Now()
	id := correlation.NewID()
	rctx := correlation.WithID(ctx, id)
	step := context.WithoutCancel(rctx)

	slog.InfoContext(rctx, "Restart triggered", "path", path)
	o.emit(Event{Type: EventRestartBegin, State: Restarting.String(), Path: path, CorrelationID: id})

	removed := o.deps.Cache.Forget(module.Invalidate(o.deps.WatchSet, o.deps.Cache.Keys())...)
	slog.DebugContext(rctx, "Module cache invalidated", "removed", removed)
	if ctx.Err() != nil {
		return o.interrupted(rctx, id, begin, "invalidate")
	}

	entry, err := o.deps.Loader.Load(step, o.deps.EntryPath)
	if err != nil {
		failure := reloadFailure(err)
		slog.ErrorContext(rctx, "Reload failed, waiting for the next change", failure.LogAttrs()...)
		if err := o.retireActive(rctx); err != nil {
			return err
		}
		o.finish(rctx, Event{Type: EventReloadFailed, Path: path, CorrelationID: id, Error: failure.Error()}, metrics.ResultLoadFailed, begin)
		return nil
	}
	if ctx.Err() != nil {
		return o.interrupted(rctx, id, begin, "load")
	}

	if err := o.retireActive(rctx); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return o.interrupted(rctx, id, begin, "shutdown")
	}

	gen, err := o.deps.Listeners.Restart(step, entry)
	if err != nil {
		if hkerrors.IsKind(err, hkerrors.KindCertificateMissing) || hkerrors.IsFatal(err) {
			return hkerrors.AsStructuredError(err, hkerrors.KindBindFailure).AsFatal()
		}
		failure := hkerrors.AsStructuredError(err, hkerrors.KindBindFailure)
		slog.ErrorContext(rctx, "Listener could not be recreated, waiting for the next change", failure.LogAttrs()...)
		o.finish(rctx, Event{Type: EventBindFailed, Path: path, CorrelationID: id, Error: failure.Error()}, metrics.ResultBindFailed, begin)
		return nil
	}

	o.mu.Lock()
	o.active = gen
	o.restarts++
	o.lastErr = ""
	o.mu.Unlock()

	gctx := correlation.WithGeneration(rctx, gen.Seq)
	slog.InfoContext(gctx, "Restart complete", "took", o.deps.Clock.Since(begin))
	o.finish(gctx, Event{Type: EventRestartDone, Generation: gen.Seq, Path: path, CorrelationID: id}, metrics.ResultSuccess, begin)
	return nil
}

func reloadFailure(err error) *hkerrors.Error {
	if hkerrors.KindOf(err) == "" {
		return hkerrors.ReloadFailure("load entry", err)
	}
	return hkerrors.AsStructuredError(err, hkerrors.KindReloadFailure)
}

// retireActive shuts the active generation down. Only a fatal shutdown
// error is returned.
func (o *Orchestrator) retireActive(ctx context.Context) error {
	o.mu.Lock()
	gen := o.active
	o.active = nil
	o.mu.Unlock()

	if gen == nil {
		return nil
	}
	if err := o.deps.Listeners.Shutdown(gen, o.deps.ShutdownTimeout); err != nil {
		if hkerrors.IsFatal(err) {
			return err
		}
		slog.WarnContext(ctx, "Old generation did not shut down cleanly", "generation", gen.Seq, "error", err)
	}
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, ev Event, result string, begin time.Time) {
	o.deps.Metrics.Restarted(result, o.deps.Clock.Since(begin))

	o.mu.Lock()
	o.state = Idle
	if ev.Error != "" {
		o.lastErr = ev.Error
	}
	o.mu.Unlock()

	ev.State = Idle.String()
	o.emit(ev)
	slog.DebugContext(ctx, "Restart finished", "result", result)
}

// interrupted leaves the state at Restarting so no new trigger is taken
// before termination runs.
func (o *Orchestrator) interrupted(ctx context.Context, id string, begin time.Time, after string) error {
	o.deps.Metrics.Restarted(metrics.ResultInterrupted, o.deps.Clock.Since(begin))
	slog.InfoContext(ctx, "Restart interrupted by shutdown", "after", after)
	o.emit(Event{Type: EventInterrupted, State: Restarting.String(), CorrelationID: id})
	return nil
}

// terminate closes the watcher and the active generation. Only a fatal
// shutdown error is returned.
func (o *Orchestrator) terminate() error {
	o.setState(ShuttingDown)
	slog.Info("Shutting down")
	o.emit(Event{Type: EventShuttingDown, State: ShuttingDown.String()})

	o.closeSource()

	o.mu.Lock()
	gen := o.active
	o.active = nil
	o.mu.Unlock()

	err := o.deps.Listeners.Shutdown(gen, o.deps.CleanupTimeout)

	o.setState(Terminated)
	o.emit(Event{Type: EventTerminated, State: Terminated.String()})

	if err != nil && hkerrors.IsFatal(err) {
		return err
	}
	if err != nil {
		slog.Warn("Cleanup did not finish cleanly", "error", err)
	}
	return nil
}

func (o *Orchestrator) closeSource() {
	if err := o.deps.Source.Close(); err != nil {
		slog.Warn("Failed to close watcher", "error", err)
	}
}

func (o *Orchestrator) fatal(err error) {
	e := hkerrors.AsStructuredError(err, hkerrors.KindReloadFailure)
	slog.Error("Fatal error", e.LogAttrs()...)

	o.mu.Lock()
	o.lastErr = e.Error()
	state := o.state
	o.mu.Unlock()

	o.deps.Metrics.Restarted(metrics.ResultFatal, 0)
	o.emit(Event{Type: EventFatal, State: state.String(), Error: e.Error()})
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) emit(ev Event) {
	ev.Time = o.deps.Clock.Now()
	for _, obs := range o.deps.Observers {
		obs(ev)
	}
}
