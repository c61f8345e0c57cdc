package queries

import (
	"context"
	"errors"
	"strings"

	"github.com/dejobratic/ordersaga/internal/saga/domain"
	"github.com/dejobratic/ordersaga/internal/saga/ports"
)

// GetOrderQuery represents a request to retrieve an order saga by its ID.
type GetOrderQuery struct {
	OrderID string
}

// Validate ensures the query has valid parameters.
func (q GetOrderQuery) Validate() error {
	if strings.TrimSpace(q.OrderID) == "" {
		return errors.New("order_id is required")
	}
	return nil
}

// GetOrderQueryHandler executes GetOrderQuery and returns the saga if found.
type GetOrderQueryHandler struct {
	repo ports.SagaRepository
}

// NewGetOrderQueryHandler constructs a GetOrderQueryHandler.
func NewGetOrderQueryHandler(repo ports.SagaRepository) *GetOrderQueryHandler {
	return &GetOrderQueryHandler{repo: repo}
}

// Handle executes the query and retrieves the saga.
func (h *GetOrderQueryHandler) Handle(ctx context.Context, query GetOrderQuery) (*domain.OrderSaga, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	return h.repo.GetByOrderID(ctx, query.OrderID)
}

// ListByStatusQuery retrieves sagas parked in a given status, used by the
// operator surface to find orders needing manual resolution.
type ListByStatusQuery struct {
	Status domain.Status
	Limit  int
}

// ListByStatusQueryHandler executes ListByStatusQuery.
type ListByStatusQueryHandler struct {
	repo ports.SagaRepository
}

// NewListByStatusQueryHandler constructs a ListByStatusQueryHandler.
func NewListByStatusQueryHandler(repo ports.SagaRepository) *ListByStatusQueryHandler {
	return &ListByStatusQueryHandler{repo: repo}
}

// Handle executes the query.
func (h *ListByStatusQueryHandler) Handle(ctx context.Context, query ListByStatusQuery) ([]domain.OrderSaga, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}
	return h.repo.ListByStatus(ctx, query.Status, limit)
}
