package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/yakovlev-alexey/hot-keeper/internal/adapter/metrics"
	"github.com/yakovlev-alexey/hot-keeper/internal/pathset"
	hkerrors "github.com/yakovlev-alexey/hot-keeper/internal/platform/errors"
)

const qualifying = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

// Options configures a Bridge.
type Options struct {
	Set pathset.Set
	// Patterns are the exclude entries as configured, matched at any depth.
	Patterns []string
	// Debounce of zero delivers every qualifying event.
	Debounce time.Duration
	Metrics  *metrics.WatchMetrics
}

// Bridge delivers filtered change notifications from fsnotify.
type Bridge struct {
	opts    Options
	globs   []string
	watcher *fsnotify.Watcher

	errs      chan error
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once

	onChange func(string)

	debounced func(func())
	mu        sync.Mutex
	last      string
}

// New creates the watcher and registers every directory under the watch
// set that is not excluded.
func New(opts Options) (*Bridge, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, hkerrors.WatcherFailure("create watcher", err)
	}

	b := &Bridge{
		opts:    opts,
		globs:   globs(opts.Patterns),
		watcher: w,
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	if opts.Debounce > 0 {
		b.debounced = debounce.New(opts.Debounce)
	}

	for _, root := range opts.Set.Include {
		if err := b.addTree(root); err != nil {
			_ = w.Close()
			return nil, err
		}
	}
	return b, nil
}

// globs builds the any-depth patterns for each exclude entry.
func globs(patterns []string) []string {
	var out []string
	for _, p := range patterns {
		name := strings.Trim(filepath.ToSlash(filepath.Clean(p)), "/")
		name = strings.TrimPrefix(name, "./")
		if name == "" || name == "." {
			continue
		}
		out = append(out, "**/"+name, "**/"+name+"/**")
	}
	return out
}

// Excluded reports whether events for path are dropped.
func (b *Bridge) Excluded(path string) bool {
	if b.opts.Set.Excluded(path) {
		return true
	}
	slashed := strings.TrimPrefix(filepath.ToSlash(path), "/")
	for _, g := range b.globs {
		if ok, err := doublestar.Match(g, slashed); err == nil && ok {
			return true
		}
	}
	return false
}

func (b *Bridge) addTree(root string) error {
	info, err := os.Stat(root)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("Watch path does not exist, skipping", "path", root)
		return nil
	}
	if err != nil {
		return hkerrors.WatcherFailure("stat watch path", err).WithContext("path", root)
	}
	if !info.IsDir() {
		return b.add(root)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Vanished between listing and visiting.
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return hkerrors.WatcherFailure("walk watch path", err).WithContext("path", path)
		}
		if !d.IsDir() {
			return nil
		}
		if b.Excluded(path) {
			return filepath.SkipDir
		}
		return b.add(path)
	})
}

func (b *Bridge) add(path string) error {
	if err := b.watcher.Add(path); err != nil {
		return hkerrors.WatcherFailure("add watch", err).WithContext("path", path)
	}
	b.opts.Metrics.DirAdded()
	return nil
}

// Start begins delivering changes to onChange on the bridge goroutine.
func (b *Bridge) Start(onChange func(path string)) error {
	if onChange == nil {
		return fmt.Errorf("watch: onChange is required")
	}
	started := false
	b.startOnce.Do(func() {
		started = true
		b.onChange = onChange
		b.wg.Add(1)
		go b.run()
	})
	if !started {
		return fmt.Errorf("watch: already started")
	}
	return nil
}

// Errors reports watcher failures. Any value on it means changes may be lost.
func (b *Bridge) Errors() <-chan error {
	return b.errs
}

// Close stops the watcher. Safe to call more than once.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.watcher.Close()
		b.wg.Wait()
	})
	return err
}

func (b *Bridge) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			b.handle(ev)
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				slog.Warn("Watch event queue overflowed, reloading to be safe", "error", err)
				if len(b.opts.Set.Include) > 0 {
					b.emit(b.opts.Set.Include[0])
				}
				continue
			}
			b.fail(hkerrors.WatcherFailure("watcher error", err))
		}
	}
}

func (b *Bridge) fail(err error) {
	select {
	case b.errs <- err:
	default:
	}
}

func (b *Bridge) handle(ev fsnotify.Event) {
	if ev.Op&qualifying == 0 {
		b.opts.Metrics.Event(metrics.OutcomeIgnored)
		return
	}
	if b.Excluded(ev.Name) {
		b.opts.Metrics.Event(metrics.OutcomeExcluded)
		slog.Debug("Change excluded", "path", ev.Name, "op", ev.Op.String())
		return
	}

	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := b.addTree(ev.Name); err != nil {
				slog.Warn("Failed to watch new directory", "path", ev.Name, "error", err)
			}
		}
	}

	b.opts.Metrics.Event(metrics.OutcomeTriggered)
	slog.Debug("Change detected", "path", ev.Name, "op", ev.Op.String())
	b.emit(ev.Name)
}

func (b *Bridge) emit(path string) {
	if b.debounced == nil {
		b.onChange(path)
		return
	}
	b.mu.Lock()
	b.last = path
	b.mu.Unlock()
	b.debounced(func() {
		b.mu.Lock()
		p := b.last
		b.mu.Unlock()
		b.onChange(p)
	})
}
