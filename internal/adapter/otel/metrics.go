package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "imq"

// Metrics holds the OpenTelemetry metric instruments exported alongside the
// in-process metrics.Sink. These are ambient observability exports, not the
// read path — internal/metrics.Sink.Summary() is the source of truth queried
// by the HTTP stats surface.
type Metrics struct {
	QueueLength       metric.Int64Gauge
	EntriesProcessed  metric.Int64Counter
	EntriesFailed     metric.Int64Counter
	ProcessingSeconds metric.Float64Histogram
	CheckDuration     metric.Float64Histogram
	CheckOutcomes     metric.Int64Counter
	ForcedShutdowns   metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.QueueLength, err = meter.Int64Gauge("imq.queue.length",
		metric.WithDescription("Current number of live entries in a queue"))
	if err != nil {
		return nil, err
	}

	m.EntriesProcessed, err = meter.Int64Counter("imq.entries.processed",
		metric.WithDescription("Number of queue entries that completed successfully"))
	if err != nil {
		return nil, err
	}

	m.EntriesFailed, err = meter.Int64Counter("imq.entries.failed",
		metric.WithDescription("Number of queue entries that failed or were cancelled"))
	if err != nil {
		return nil, err
	}

	m.ProcessingSeconds, err = meter.Float64Histogram("imq.entry.processing_seconds",
		metric.WithDescription("Time from admission to terminal state for a queue entry"))
	if err != nil {
		return nil, err
	}

	m.CheckDuration, err = meter.Float64Histogram("imq.check.duration_seconds",
		metric.WithDescription("Duration of a single check execution"))
	if err != nil {
		return nil, err
	}

	m.CheckOutcomes, err = meter.Int64Counter("imq.check.outcomes",
		metric.WithDescription("Check terminal outcomes by status"))
	if err != nil {
		return nil, err
	}

	m.ForcedShutdowns, err = meter.Int64Counter("imq.shutdown.forced",
		metric.WithDescription("Number of entries aborted by a forced shutdown"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
