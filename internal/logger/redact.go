package logger

import (
	"context"
	"log/slog"
)

// Redactor masks secret values out of arbitrary strings. secrets.Vault
// satisfies this via RedactString.
type Redactor interface {
	RedactString(s string) string
}

// RedactingHandler wraps an slog.Handler, running a record's message and
// every string-typed attribute through a Redactor before the record reaches
// the wrapped handler's sink.
type RedactingHandler struct {
	inner  slog.Handler
	redact Redactor
}

// NewRedactingHandler wraps inner so every record it handles has secret
// values scrubbed first. redact may be nil, in which case records pass
// through unmodified.
func NewRedactingHandler(inner slog.Handler, redact Redactor) *RedactingHandler {
	return &RedactingHandler{inner: inner, redact: redact}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, rec slog.Record) error {
	if h.redact == nil {
		return h.inner.Handle(ctx, rec)
	}
	out := slog.NewRecord(rec.Time, rec.Level, h.redact.RedactString(rec.Message), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a, h.redact))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func redactAttr(a slog.Attr, redact Redactor) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, redact.RedactString(a.Value.String()))
	}
	return a
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if h.redact != nil {
		scrubbed := make([]slog.Attr, len(attrs))
		for i, a := range attrs {
			scrubbed[i] = redactAttr(a, h.redact)
		}
		attrs = scrubbed
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(attrs), redact: h.redact}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name), redact: h.redact}
}
