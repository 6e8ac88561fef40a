package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/yakovlev-alexey/hot-keeper/internal/platform/correlation"
)

// Logger is the supervisor-wide structured logger instance.
var Logger = slog.Default()

// ParseLevel maps "debug", "info", "warn", "error" to a level.
// Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InitLogger initializes the global logger writing to stdout.
// format: "json" or "text" (defaults to "text")
func InitLogger(level, format string) *slog.Logger {
	return InitLoggerTo(os.Stdout, level, format)
}

// InitLoggerTo is InitLogger with an explicit destination.
func InitLoggerTo(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	Logger = slog.New(correlation.NewHandler(handler))
	slog.SetDefault(Logger)
	return Logger
}

// Component returns a logger tagged with a component name.
func Component(name string) *slog.Logger {
	return Logger.With("component", name)
}
