// Package logger provides structured logging setup for imqd.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/imq-dev/imq/internal/config"
)

// New creates a *slog.Logger from the given Logging config.
// Output goes to stdout as JSON, or as slog text when cfg.Format is
// "pretty", with a "service" attribute on every record.
// When cfg.Async is true the handler writes via a buffered channel;
// the caller must call Closer.Close() on shutdown to flush remaining records.
// redact, if non-nil, scrubs secret values out of every record's message
// and string attributes before they reach the sink (e.g. a secrets.Vault).
func New(cfg config.Logging, redact Redactor) (*slog.Logger, Closer) {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "pretty" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	if redact != nil {
		handler = NewRedactingHandler(handler, redact)
	}

	var closer Closer = nopCloser{}
	var h slog.Handler = handler
	if cfg.Async {
		async := NewAsyncHandler(handler, 10000, 4)
		h = async
		closer = async
	}

	return slog.New(h).With("service", cfg.Service), closer
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
