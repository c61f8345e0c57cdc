package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dejobratic/ordersaga/internal/saga/domain"
	"github.com/dejobratic/ordersaga/internal/saga/metrics"
	"github.com/dejobratic/ordersaga/internal/telemetry"
)

// ObservableProcessor decorates a Processor with spans, logs and metrics.
type ObservableProcessor struct {
	inner   Processor
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewObservableProcessor(inner Processor, logger *slog.Logger, m *metrics.Metrics) *ObservableProcessor {
	return &ObservableProcessor{
		inner:   inner,
		logger:  logger,
		metrics: m,
	}
}

func (o *ObservableProcessor) StartOrder(ctx context.Context, messageID string, req domain.PlacementRequest) (*domain.OrderSaga, error) {
	ctx, span := telemetry.StartSpan(ctx, "Orchestrator.StartOrder")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", req.OrderID),
		attribute.String("order.customer_id", req.CustomerID),
		attribute.Int("order.line_items", len(req.LineItems)),
	)

	start := time.Now()
	saga, err := o.inner.StartOrder(ctx, messageID, req)
	duration := time.Since(start).Seconds()

	if o.metrics != nil {
		o.metrics.RecordHandlerDuration(ctx, "placement_requested", duration)
	}

	if err != nil {
		telemetry.RecordSpanError(span, err)
		o.recordOutcome(ctx, "placement_requested", outcomeFor(err))
		if errors.Is(err, domain.ErrValidation) {
			o.logger.InfoContext(ctx, "placement rejected", "order_id", req.OrderID, "error", err)
		} else {
			o.logger.ErrorContext(ctx, "placement failed", "order_id", req.OrderID, "error", err)
		}
		return nil, err
	}

	o.recordOutcome(ctx, "placement_requested", "applied")
	telemetry.AddSpanAttributes(span,
		attribute.String("order.status", string(saga.Status)),
		attribute.Int64("order.total_amount_cents", saga.TotalAmountCents),
	)
	telemetry.SetSpanSuccess(span)

	o.logger.InfoContext(ctx, "order placed",
		"order_id", saga.OrderID,
		"customer_id", saga.CustomerID,
		"total_amount_cents", saga.TotalAmountCents,
	)
	return saga, nil
}

func (o *ObservableProcessor) HandleMessage(ctx context.Context, messageID string, msg domain.Message) error {
	ctx, span := telemetry.StartSpan(ctx, "Orchestrator.HandleMessage")
	defer span.End()

	kind := string(msg.Kind())
	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", msg.Order()),
		attribute.String("message.kind", kind),
		attribute.String("message.id", messageID),
	)

	start := time.Now()
	err := o.inner.HandleMessage(ctx, messageID, msg)
	duration := time.Since(start).Seconds()

	if o.metrics != nil {
		o.metrics.RecordHandlerDuration(ctx, kind, duration)
	}

	if err != nil {
		telemetry.RecordSpanError(span, err)
		o.recordOutcome(ctx, kind, "error")
		o.logger.ErrorContext(ctx, "message handling failed",
			"order_id", msg.Order(),
			"kind", kind,
			"error", err,
		)
		return err
	}

	o.recordOutcome(ctx, kind, "applied")
	telemetry.SetSpanSuccess(span)
	return nil
}

func (o *ObservableProcessor) recordOutcome(ctx context.Context, kind, outcome string) {
	if o.metrics != nil {
		o.metrics.RecordMessage(ctx, kind, outcome)
	}
}

func outcomeFor(err error) string {
	if errors.Is(err, domain.ErrValidation) {
		return "rejected"
	}
	return "error"
}
