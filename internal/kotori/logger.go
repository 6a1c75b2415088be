package kotori

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// NewLogger builds the core's structured JSON logger. Records below ERROR
// go to out and ERROR+ to errOut, so routine operational output and
// failures can be collected independently (stdout vs stderr in production,
// separate buffers in tests). Nil writers default to os.Stdout/os.Stderr.
func NewLogger(level slog.Level, out, errOut io.Writer) *slog.Logger {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}

	return slog.New(&severitySplitHandler{
		threshold: slog.LevelError,
		primary:   slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}),
		errors:    slog.NewJSONHandler(errOut, &slog.HandlerOptions{Level: slog.LevelError}),
	})
}

// NewLoggerFromConfig derives the logger from runtime configuration: dev
// builds log at DEBUG, release builds at INFO.
func NewLoggerFromConfig(cfg Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Dev {
		level = slog.LevelDebug
	}
	return NewLogger(level, nil, nil)
}

// severitySplitHandler routes every record at or above threshold to the
// errors handler and everything below it to the primary handler.
type severitySplitHandler struct {
	threshold slog.Level
	primary   slog.Handler
	errors    slog.Handler
}

func (h *severitySplitHandler) pick(level slog.Level) slog.Handler {
	if level >= h.threshold {
		return h.errors
	}
	return h.primary
}

func (h *severitySplitHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.pick(level).Enabled(ctx, level)
}

func (h *severitySplitHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.pick(r.Level).Handle(ctx, r)
}

func (h *severitySplitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &severitySplitHandler{
		threshold: h.threshold,
		primary:   h.primary.WithAttrs(attrs),
		errors:    h.errors.WithAttrs(attrs),
	}
}

func (h *severitySplitHandler) WithGroup(name string) slog.Handler {
	return &severitySplitHandler{
		threshold: h.threshold,
		primary:   h.primary.WithGroup(name),
		errors:    h.errors.WithGroup(name),
	}
}

var _ slog.Handler = (*severitySplitHandler)(nil)
