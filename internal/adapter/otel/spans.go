package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "imq"

// StartEntrySpan starts a span covering a queue entry's processing pipeline.
func StartEntrySpan(ctx context.Context, entryID, queueID string, prNumber int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "entry.process",
		trace.WithAttributes(
			attribute.String("entry.id", entryID),
			attribute.String("queue.id", queueID),
			attribute.Int("pr.number", prNumber),
		),
	)
}

// StartCheckSpan starts a span for a single check execution.
func StartCheckSpan(ctx context.Context, checkName, kind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "check.execute",
		trace.WithAttributes(
			attribute.String("check.name", checkName),
			attribute.String("check.kind", kind),
		),
	)
}

// StartForgeCallSpan starts a span for an outbound Forge HTTP call.
func StartForgeCallSpan(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "forge.call",
		trace.WithAttributes(
			attribute.String("forge.method", method),
			attribute.String("forge.path", path),
		),
	)
}
