package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PipelineMetrics holds the analysis pipeline instruments.
type PipelineMetrics struct {
	tracesConsumed  metric.Int64Counter
	eventsDecoded   metric.Int64Counter
	tracesAbandoned metric.Int64Counter
}

// NewPipelineMetrics creates the pipeline instruments on the meter.
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	tracesConsumed, err := meter.Int64Counter("tracefang.traces.consumed",
		metric.WithDescription("Event files fully consumed by the analyzer"))
	if err != nil {
		return nil, fmt.Errorf("create traces counter: %w", err)
	}

	eventsDecoded, err := meter.Int64Counter("tracefang.events.decoded",
		metric.WithDescription("Events decoded across all traces"))
	if err != nil {
		return nil, fmt.Errorf("create events counter: %w", err)
	}

	tracesAbandoned, err := meter.Int64Counter("tracefang.traces.abandoned",
		metric.WithDescription("Traces abandoned due to corrupt streams"))
	if err != nil {
		return nil, fmt.Errorf("create abandoned counter: %w", err)
	}

	return &PipelineMetrics{
		tracesConsumed:  tracesConsumed,
		eventsDecoded:   eventsDecoded,
		tracesAbandoned: tracesAbandoned,
	}, nil
}

// RecordTrace records one fully consumed trace and its decoded event count.
func (pm *PipelineMetrics) RecordTrace(ctx context.Context, failing bool, eventCount int) {
	label := attribute.Bool("failing", failing)

	pm.tracesConsumed.Add(ctx, 1, metric.WithAttributes(label))
	pm.eventsDecoded.Add(ctx, int64(eventCount), metric.WithAttributes(label))
}

// RecordAbandoned records one abandoned trace.
func (pm *PipelineMetrics) RecordAbandoned(ctx context.Context) {
	pm.tracesAbandoned.Add(ctx, 1)
}
