package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	messagesProcessedTotal metric.Int64Counter
	handlerDuration        metric.Float64Histogram
	transitionsTotal       metric.Int64Counter
	compensationsTotal     metric.Int64Counter
	conflictsTotal         metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.messagesProcessedTotal, err = meter.Int64Counter(
		"saga_messages_processed_total",
		metric.WithDescription("Inbound saga messages by kind and outcome"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create saga_messages_processed_total counter: %w", err)
	}

	m.handlerDuration, err = meter.Float64Histogram(
		"saga_handler_duration_seconds",
		metric.WithDescription("Duration of saga message handler invocations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create saga_handler_duration histogram: %w", err)
	}

	m.transitionsTotal, err = meter.Int64Counter(
		"saga_transitions_total",
		metric.WithDescription("Saga status transitions by target status"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create saga_transitions_total counter: %w", err)
	}

	m.compensationsTotal, err = meter.Int64Counter(
		"saga_compensations_total",
		metric.WithDescription("Compensation commands issued by kind"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create saga_compensations_total counter: %w", err)
	}

	m.conflictsTotal, err = meter.Int64Counter(
		"saga_version_conflicts_total",
		metric.WithDescription("Optimistic concurrency conflicts on saga persistence"),
		metric.WithUnit("{conflict}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create saga_version_conflicts_total counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) RecordMessage(ctx context.Context, kind string, outcome string) {
	m.messagesProcessedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordHandlerDuration(ctx context.Context, kind string, durationSeconds float64) {
	m.handlerDuration.Record(ctx, durationSeconds, metric.WithAttributes(
		attribute.String("kind", kind),
	))
}

func (m *Metrics) RecordTransition(ctx context.Context, status string) {
	m.transitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordCompensation(ctx context.Context, kind string) {
	m.compensationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
	))
}

func (m *Metrics) RecordVersionConflict(ctx context.Context) {
	m.conflictsTotal.Add(ctx, 1)
}
