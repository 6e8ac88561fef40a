package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/yakovlev-alexey/hot-keeper/internal/adapter/httpserver"
	"github.com/yakovlev-alexey/hot-keeper/internal/adapter/metrics"
	"github.com/yakovlev-alexey/hot-keeper/internal/adapter/websocket"
	"github.com/yakovlev-alexey/hot-keeper/internal/listener"
	"github.com/yakovlev-alexey/hot-keeper/internal/module"
	"github.com/yakovlev-alexey/hot-keeper/internal/orchestrator"
	"github.com/yakovlev-alexey/hot-keeper/internal/platform/config"
	hkerrors "github.com/yakovlev-alexey/hot-keeper/internal/platform/errors"
	"github.com/yakovlev-alexey/hot-keeper/internal/platform/logging"
	"github.com/yakovlev-alexey/hot-keeper/internal/platform/version"
	"github.com/yakovlev-alexey/hot-keeper/internal/watch"

	// Linked into the supervisor so every reloaded plugin shares one store.
	_ "github.com/yakovlev-alexey/hot-keeper/keeper"
)

const (
	flagConfig    = "config"
	flagPort      = "port"
	flagSecure    = "secure"
	flagWatch     = "watch"
	flagExclude   = "exclude"
	flagCert      = "cert"
	flagKey       = "key"
	flagAdminPort = "admin-port"
	flagDebounce  = "debounce"
	flagLogLevel  = "log-level"
	flagLogFormat = "log-format"

	adminShutdownTimeout = 5 * time.Second
)

func main() {
	cli.VersionPrinter = func(c *cli.Context) {
		_, _ = fmt.Fprintln(c.App.Writer, version.Get().String())
	}

	if err := newApp().Run(os.Args); err != nil {
		os.Exit(hkerrors.ExitCode(err))
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "hot-keeper",
		Usage:     "serve a Go HTTP application and reload it when its sources change",
		ArgsUsage: "ENTRY",
		Version:   version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagConfig, Aliases: []string{"c"}, Usage: "load configuration from `FILE`"},
			&cli.IntFlag{Name: flagPort, Aliases: []string{"p"}, Usage: "application `PORT`"},
			&cli.BoolFlag{Name: flagSecure, Aliases: []string{"s"}, Usage: "serve HTTPS using the configured certificate"},
			&cli.StringSliceFlag{Name: flagWatch, Aliases: []string{"w"}, Usage: "`PATH` to watch (repeatable)"},
			&cli.StringSliceFlag{Name: flagExclude, Aliases: []string{"e"}, Usage: "`PATH` to exclude from watching (repeatable)"},
			&cli.StringFlag{Name: flagCert, Usage: "TLS certificate `FILE`"},
			&cli.StringFlag{Name: flagKey, Usage: "TLS private key `FILE`"},
			&cli.IntFlag{Name: flagAdminPort, Usage: "serve health, status, metrics and events on `PORT`"},
			&cli.DurationFlag{Name: flagDebounce, Usage: "collapse change bursts shorter than `DURATION`"},
			&cli.StringFlag{Name: flagLogLevel, Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: flagLogFormat, Usage: "text or json"},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 1 {
		_ = cli.ShowAppHelp(c)
		return cli.Exit("exactly one entry file is required", 1)
	}

	cfg, err := setupConfig(c)
	if err != nil {
		// slog is not configured yet
		log.Printf("Failed to load config: %v", err)
		return err
	}

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("hot-keeper starting", "entry", cfg.EntryPath, "port", cfg.Port, "secure", cfg.Secure, "version", version.Version)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()

	o, err := setupOrchestrator(cfg, reg)
	if err != nil {
		slog.Error("Failed to set up", "error", err)
		return err
	}

	if cfg.AdminPort > 0 {
		shutdownAdmin, err := setupAdmin(cfg, reg, o)
		if err != nil {
			slog.Error("Failed to start admin server", "error", err)
			return err
		}
		defer shutdownAdmin()
	}

	if err := o.Run(ctx); err != nil {
		return err
	}
	slog.Info("hot-keeper stopped")
	return nil
}

func setupConfig(c *cli.Context) (*config.Config, error) {
	var o config.Overrides
	if c.IsSet(flagPort) {
		o.Port = ptr(c.Int(flagPort))
	}
	if c.IsSet(flagSecure) {
		o.Secure = ptr(c.Bool(flagSecure))
	}
	if c.IsSet(flagWatch) {
		o.Watch = c.StringSlice(flagWatch)
	}
	if c.IsSet(flagExclude) {
		o.ExcludeWatch = c.StringSlice(flagExclude)
	}
	if c.IsSet(flagCert) {
		o.Cert = ptr(c.String(flagCert))
	}
	if c.IsSet(flagKey) {
		o.Key = ptr(c.String(flagKey))
	}
	if c.IsSet(flagAdminPort) {
		o.AdminPort = ptr(c.Int(flagAdminPort))
	}
	if c.IsSet(flagDebounce) {
		o.Debounce = ptr(c.Duration(flagDebounce))
	}
	if c.IsSet(flagLogLevel) {
		o.LogLevel = ptr(c.String(flagLogLevel))
	}
	if c.IsSet(flagLogFormat) {
		o.LogFormat = ptr(c.String(flagLogFormat))
	}

	return config.Load(config.LoadOptions{
		EntryPath:  c.Args().First(),
		ConfigPath: c.String(flagConfig),
		Overrides:  o,
	})
}

func setupOrchestrator(cfg *config.Config, reg prometheus.Registerer) (*orchestrator.Orchestrator, error) {
	clock := clockwork.NewRealClock()

	set, err := cfg.PathSet()
	if err != nil {
		return nil, err
	}

	cache := module.NewCache()
	loader := module.NewPluginLoader(cache, module.GoBuilder{GoBinary: cfg.GoBinary}, module.PluginOpener{}, cfg.WorkDir, clock)

	certFile, keyFile := cfg.CertPaths()
	listeners := listener.NewManager(listener.Options{
		Port:         cfg.Port,
		Secure:       cfg.Secure,
		CertFile:     certFile,
		KeyFile:      keyFile,
		StartTimeout: cfg.StartTimeout,
		Clock:        clock,
		Metrics:      metrics.NewListenerMetrics(reg),
		HTTPMetrics:  metrics.NewHTTPMetrics(reg),
	})

	bridge, err := watch.New(watch.Options{
		Set:      set,
		Patterns: cfg.ExcludeWatch,
		Debounce: cfg.Debounce,
		Metrics:  metrics.NewWatchMetrics(reg),
	})
	if err != nil {
		return nil, err
	}

	return orchestrator.New(orchestrator.Deps{
		EntryPath:       cfg.EntryPath,
		WatchSet:        set,
		ShutdownTimeout: cfg.ShutdownTimeout,
		CleanupTimeout:  cfg.CleanupTimeout,
		Loader:          loader,
		Cache:           cache,
		Listeners:       listeners,
		Source:          bridge,
		Clock:           clock,
		Metrics:         metrics.NewRestartMetrics(reg),
	}), nil
}

// setupAdmin starts the admin server and returns its shutdown function.
func setupAdmin(cfg *config.Config, reg *prometheus.Registry, o *orchestrator.Orchestrator) (func(), error) {
	hub := websocket.NewHub(metrics.NewEventStreamMetrics(reg), nil)
	o.Subscribe(hub.Observe)

	srv := httpserver.NewServer(httpserver.Options{
		Port:    cfg.AdminPort,
		Status:  o,
		Metrics: metrics.Handler(reg),
		Events:  hub,
	})
	if err := srv.Start(); err != nil {
		hub.Stop()
		return nil, err
	}

	return func() {
		hub.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Admin server shutdown error", "error", err)
		}
	}, nil
}

func ptr[T any](v T) *T {
	return &v
}
