// Package logging provides structured logging configuration and utilities.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds logging configuration.
type Config struct {
	Level  string
	Pretty bool
}

// NewLogger builds a slog.Logger for the configured level and format.
// Pretty selects the human-readable text handler for terminals; the default
// is JSON lines. Unknown levels fall back to info.
func NewLogger(cfg Config) *slog.Logger {
	return NewLoggerTo(os.Stderr, cfg)
}

// NewLoggerTo is NewLogger writing to an explicit sink. Useful in tests and
// for the per-run log file.
func NewLoggerTo(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if cfg.Pretty {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// TeeHandler fans records out to several handlers. The pipeline uses it to
// mirror console logging into the run folder's analysis.log.
type TeeHandler struct {
	handlers []slog.Handler
}

// NewTeeHandler combines handlers into one. Nil handlers are skipped.
func NewTeeHandler(handlers ...slog.Handler) *TeeHandler {
	hs := make([]slog.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			hs = append(hs, h)
		}
	}
	return &TeeHandler{handlers: hs}
}

// Enabled reports whether any underlying handler accepts the level.
func (t *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle delivers the record to every handler that accepts its level.
// The first error wins but delivery continues to the remaining handlers.
func (t *TeeHandler) Handle(ctx context.Context, rec slog.Record) error {
	var firstErr error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, rec.Level) {
			continue
		}
		if err := h.Handle(ctx, rec.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WithAttrs applies the attrs to every underlying handler.
func (t *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &TeeHandler{handlers: hs}
}

// WithGroup applies the group to every underlying handler.
func (t *TeeHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &TeeHandler{handlers: hs}
}
