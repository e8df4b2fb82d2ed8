package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns the process logger: JSON on stdout, debug level in local/dev.
// LOG_LEVEL (debug, info, warn, error) overrides the environment default.
func New(appEnv string) *slog.Logger {
	return NewWithWriter(appEnv, os.Getenv("LOG_LEVEL"), os.Stdout)
}

func NewWithWriter(appEnv, level string, w io.Writer) *slog.Logger {
	lvl := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		lvl = slog.LevelDebug
	}
	if l, ok := ParseLevel(level); ok {
		lvl = l
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}

// ParseLevel maps a level name to a slog.Level. Unknown or empty names
// report false.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
