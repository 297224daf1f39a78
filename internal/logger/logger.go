// Package logger provides structured logging setup for agentwire.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/agentwire/agentwire/internal/config"
)

const asyncBuffer = 1024

// New creates a *slog.Logger from the given Logging config. Output is
// JSON to stdout with a "service" attribute on every record; request
// and session ids stored in the context are lifted onto each record.
// The returned Closer flushes buffered records in async mode and is a
// no-op otherwise.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	level := parseLevel(cfg.Level)

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	closer := Closer(nopCloser{})
	if cfg.Async {
		async := NewAsyncHandler(handler, asyncBuffer)
		handler = async
		closer = async
	}

	// Context attrs are lifted outside the async boundary: the drain
	// worker handles records without the caller's context.
	handler = &contextHandler{inner: handler}

	return slog.New(handler).With("service", cfg.Service), closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
