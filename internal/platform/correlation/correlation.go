// Package correlation tags log records with the restart that produced them.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

type contextKey struct{}

type tags struct {
	id         string
	generation int
}

// NewID generates an 8-character hex restart ID (4 random bytes).
func NewID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func fromContext(ctx context.Context) tags {
	t, _ := ctx.Value(contextKey{}).(tags)
	return t
}

// WithID returns a context carrying the given restart ID.
func WithID(ctx context.Context, id string) context.Context {
	t := fromContext(ctx)
	t.id = id
	return context.WithValue(ctx, contextKey{}, t)
}

// WithGeneration returns a context carrying the listener generation number.
func WithGeneration(ctx context.Context, generation int) context.Context {
	t := fromContext(ctx)
	t.generation = generation
	return context.WithValue(ctx, contextKey{}, t)
}

// ID extracts the restart ID from ctx, returning ("", false) if not present.
func ID(ctx context.Context) (string, bool) {
	t := fromContext(ctx)
	return t.id, t.id != ""
}

// Generation extracts the generation number, returning (0, false) if unset.
func Generation(ctx context.Context) (int, bool) {
	t := fromContext(ctx)
	return t.generation, t.generation > 0
}

// Handler wraps an slog.Handler and adds "correlation_id" and "generation"
// attributes when the context carries them.
type Handler struct {
	inner slog.Handler
}

// NewHandler creates a correlation-aware handler wrapping the given handler.
func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ID(ctx); ok {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	if gen, ok := Generation(ctx); ok {
		r.AddAttrs(slog.Int("generation", gen))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
