package module

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"plugin"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/yakovlev-alexey/hot-keeper/app"
)

// Loader loads the application entry and returns its adapted export.
type Loader interface {
	Load(ctx context.Context, entryPath string) (Entry, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, entryPath string) (Entry, error)

func (f LoaderFunc) Load(ctx context.Context, entryPath string) (Entry, error) {
	return f(ctx, entryPath)
}

// Builder compiles a Go package directory into a plugin artifact.
type Builder interface {
	Build(ctx context.Context, pkgDir, out, pluginPath string) error
}

// Opener opens a plugin artifact and returns the named export.
type Opener interface {
	Open(artifact, symbol string) (any, error)
}

// GoBuilder runs `go build -buildmode=plugin`.
type GoBuilder struct {
	GoBinary string
}

func (b GoBuilder) Build(ctx context.Context, pkgDir, out, pluginPath string) error {
	goBin := b.GoBinary
	if goBin == "" {
		goBin = "go"
	}

	cmd := exec.CommandContext(ctx, goBin, "build",
		"-buildmode=plugin",
		"-ldflags=-pluginpath="+pluginPath,
		"-o", out, ".")
	cmd.Dir = pkgDir

	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// PluginOpener opens artifacts with the standard plugin package.
type PluginOpener struct{}

func (PluginOpener) Open(artifact, symbol string) (any, error) {
	p, err := plugin.Open(artifact)
	if err != nil {
		return nil, fmt.Errorf("open plugin %s: %w", artifact, err)
	}
	sym, err := p.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("plugin %s has no %s export: %w", artifact, symbol, err)
	}
	return sym, nil
}

// PluginLoader builds the entry package as a plugin and opens it. Each build
// gets a unique artifact name and plugin path so the runtime treats it as a
// new plugin. Opened plugins cannot be unloaded; old artifacts are removed
// from disk but stay mapped until the process exits.
type PluginLoader struct {
	cache   *Cache
	builder Builder
	opener  Opener
	workDir string
	clock   clockwork.Clock

	mu       sync.Mutex
	previous string
}

// NewPluginLoader returns a loader recording into cache and writing
// artifacts under workDir.
func NewPluginLoader(cache *Cache, builder Builder, opener Opener, workDir string, clock clockwork.Clock) *PluginLoader {
	return &PluginLoader{
		cache:   cache,
		builder: builder,
		opener:  opener,
		workDir: workDir,
		clock:   clock,
	}
}

// Load returns the cached export when the entry record survived the last
// invalidation, otherwise rebuilds.
func (l *PluginLoader) Load(ctx context.Context, entryPath string) (Entry, error) {
	pkgDir, err := packageDir(entryPath)
	if err != nil {
		return Entry{}, err
	}

	if _, sym, ok := l.cache.Lookup(entryPath); ok {
		slog.DebugContext(ctx, "Entry still cached, reusing artifact", "entry", entryPath)
		return l.adapt(sym, entryPath)
	}

	sources, err := goSources(pkgDir)
	if err != nil {
		return Entry{}, err
	}

	if err := os.MkdirAll(l.workDir, 0o755); err != nil {
		return Entry{}, fmt.Errorf("create work dir: %w", err)
	}

	id := uuid.New().String()
	artifact := filepath.Join(l.workDir, "gen-"+id+".so")
	start := l.clock.Now()

	if err := l.builder.Build(ctx, pkgDir, artifact, "hotkeeper/"+id); err != nil {
		return Entry{}, fmt.Errorf("build %s: %w", pkgDir, err)
	}

	sym, err := l.opener.Open(artifact, app.Symbol)
	if err != nil {
		return Entry{}, err
	}

	entry, err := l.adapt(sym, entryPath)
	if err != nil {
		return Entry{}, err
	}

	paths := append([]string{entryPath}, sources...)
	l.cache.Record(artifact, sym, l.clock.Now(), paths...)
	slog.InfoContext(ctx, "Entry built", "entry", entryPath, "kind", entry.Kind.String(), "files", len(sources), "took", l.clock.Since(start))

	l.removePrevious(artifact)
	return entry, nil
}

func (l *PluginLoader) adapt(sym any, entryPath string) (Entry, error) {
	entry, err := Adapt(sym)
	if err != nil {
		return Entry{}, err
	}
	entry.Source = entryPath
	return entry, nil
}

func (l *PluginLoader) removePrevious(current string) {
	l.mu.Lock()
	prev := l.previous
	l.previous = current
	l.mu.Unlock()

	if prev == "" || prev == current {
		return
	}
	if err := os.Remove(prev); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to remove old artifact", "artifact", prev, "error", err)
	}
}

// packageDir returns the directory of a package given either the directory
// itself or a file inside it.
func packageDir(entryPath string) (string, error) {
	info, err := os.Stat(entryPath)
	if err != nil {
		return "", fmt.Errorf("stat entry: %w", err)
	}
	if info.IsDir() {
		return entryPath, nil
	}
	return filepath.Dir(entryPath), nil
}

func goSources(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read entry package: %w", err)
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no Go files in %s", dir)
	}
	return out, nil
}
