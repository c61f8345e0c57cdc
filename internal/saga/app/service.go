package app

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dejobratic/ordersaga/internal/saga/app/queries"
	"github.com/dejobratic/ordersaga/internal/saga/domain"
	"github.com/dejobratic/ordersaga/internal/saga/metrics"
	"github.com/dejobratic/ordersaga/internal/saga/ports"
)

// Service bundles the orchestrator and query handlers for the edge adapters.
type Service struct {
	processor    Processor
	getOrder     *queries.GetOrderQueryHandler
	listByStatus *queries.ListByStatusQueryHandler
}

// NewService wires required dependencies.
func NewService(
	repo ports.SagaRepository,
	inbox ports.InboxStore,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Service {
	core := NewOrchestrator(repo, inbox, logger, m)
	observable := NewObservableProcessor(core, logger, m)

	return &Service{
		processor:    observable,
		getOrder:     queries.NewGetOrderQueryHandler(repo),
		listByStatus: queries.NewListByStatusQueryHandler(repo),
	}
}

// Processor exposes the message entry point for the transport consumer.
func (s *Service) Processor() Processor {
	return s.processor
}

// PlaceOrder accepts a placement request from the edge. The generated message
// ID makes retried HTTP submissions distinct; idempotency per OrderID is
// enforced by the saga repository.
func (s *Service) PlaceOrder(ctx context.Context, req domain.PlacementRequest) (*domain.OrderSaga, error) {
	return s.processor.StartOrder(ctx, uuid.NewString(), req)
}

// CancelOrder submits a cancel request through the same message path as any
// other inbound message; it is honored only if the saga is still cancellable
// when processed.
func (s *Service) CancelOrder(ctx context.Context, orderID, reason string) (*domain.OrderSaga, error) {
	msg := domain.CancelRequested{OrderID: orderID, Reason: reason}
	if err := s.processor.HandleMessage(ctx, uuid.NewString(), msg); err != nil {
		return nil, err
	}
	return s.getOrder.Handle(ctx, queries.GetOrderQuery{OrderID: orderID})
}

// GetOrder retrieves an order saga by ID.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*domain.OrderSaga, error) {
	return s.getOrder.Handle(ctx, queries.GetOrderQuery{OrderID: orderID})
}

// ListOnHold returns orders parked for manual resolution.
func (s *Service) ListOnHold(ctx context.Context, limit int) ([]domain.OrderSaga, error) {
	return s.listByStatus.Handle(ctx, queries.ListByStatusQuery{Status: domain.StatusOnHold, Limit: limit})
}
