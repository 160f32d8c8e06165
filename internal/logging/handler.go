package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// SwappableHandler wraps a slog.Handler that can be atomically replaced at
// runtime. Handlers derived with WithAttrs or WithGroup share the swap, so
// a logger created before a swap follows the new sink.
type SwappableHandler struct {
	root   *atomic.Pointer[slog.Handler]
	derive []func(slog.Handler) slog.Handler
}

// NewSwappableHandler creates a handler with an initial handler.
func NewSwappableHandler(initial slog.Handler) *SwappableHandler {
	sh := &SwappableHandler{
		root: &atomic.Pointer[slog.Handler]{},
	}
	sh.root.Store(&initial)
	return sh
}

// Swap atomically replaces the underlying handler of sh and of every
// handler derived from it.
func (sh *SwappableHandler) Swap(newHandler slog.Handler) {
	sh.root.Store(&newHandler)
}

func (sh *SwappableHandler) current() slog.Handler {
	h := *sh.root.Load()
	for _, fn := range sh.derive {
		h = fn(h)
	}
	return h
}

// Enabled reports whether the handler handles records at the given level.
func (sh *SwappableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*sh.root.Load()).Enabled(ctx, level)
}

// Handle handles the Record.
func (sh *SwappableHandler) Handle(ctx context.Context, r slog.Record) error {
	return sh.current().Handle(ctx, r)
}

// WithAttrs returns a handler that adds attrs to every record and still
// follows swaps of sh.
func (sh *SwappableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return sh.with(func(h slog.Handler) slog.Handler {
		return h.WithAttrs(attrs)
	})
}

// WithGroup returns a handler that nests attributes under name and still
// follows swaps of sh.
func (sh *SwappableHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return sh
	}

	return sh.with(func(h slog.Handler) slog.Handler {
		return h.WithGroup(name)
	})
}

func (sh *SwappableHandler) with(fn func(slog.Handler) slog.Handler) *SwappableHandler {
	derive := make([]func(slog.Handler) slog.Handler, len(sh.derive), len(sh.derive)+1)
	copy(derive, sh.derive)

	return &SwappableHandler{
		root:   sh.root,
		derive: append(derive, fn),
	}
}
