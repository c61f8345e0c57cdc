package queries_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dejobratic/ordersaga/internal/saga/adapters/memory"
	"github.com/dejobratic/ordersaga/internal/saga/app/queries"
	"github.com/dejobratic/ordersaga/internal/saga/domain"
	"github.com/dejobratic/ordersaga/internal/saga/ports"
)

func storedSaga(t *testing.T, repo *memory.Repository, orderID string, status domain.Status, createdAt time.Time) {
	t.Helper()
	saga := &domain.OrderSaga{
		OrderID:    orderID,
		Status:     status,
		CustomerID: "customer-1",
		LineItems:  []domain.LineItem{{SKU: "sku-a", Quantity: 1, UnitPriceCents: 100}},
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	if err := repo.Create(context.Background(), saga, nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
}

func TestGetOrderQueryHandler(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("returns the saga", func(t *testing.T) {
		repo := memory.NewRepository()
		storedSaga(t, repo, "order-1", domain.StatusPlaced, now)
		handler := queries.NewGetOrderQueryHandler(repo)

		saga, err := handler.Handle(context.Background(), queries.GetOrderQuery{OrderID: "order-1"})
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if saga.OrderID != "order-1" {
			t.Errorf("OrderID = %s, want order-1", saga.OrderID)
		}
	})

	t.Run("missing saga", func(t *testing.T) {
		handler := queries.NewGetOrderQueryHandler(memory.NewRepository())

		_, err := handler.Handle(context.Background(), queries.GetOrderQuery{OrderID: "ghost"})
		if !errors.Is(err, ports.ErrNotFound) {
			t.Errorf("Handle() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("blank order id", func(t *testing.T) {
		handler := queries.NewGetOrderQueryHandler(memory.NewRepository())

		_, err := handler.Handle(context.Background(), queries.GetOrderQuery{OrderID: "  "})
		if err == nil {
			t.Error("Handle() = nil, want validation error")
		}
	})
}

func TestListByStatusQueryHandler(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	repo := memory.NewRepository()
	storedSaga(t, repo, "order-1", domain.StatusOnHold, now)
	storedSaga(t, repo, "order-2", domain.StatusOnHold, now.Add(time.Minute))
	storedSaga(t, repo, "order-3", domain.StatusPlaced, now)
	handler := queries.NewListByStatusQueryHandler(repo)

	t.Run("filters by status newest first", func(t *testing.T) {
		sagas, err := handler.Handle(context.Background(), queries.ListByStatusQuery{Status: domain.StatusOnHold, Limit: 10})
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if len(sagas) != 2 {
			t.Fatalf("sagas = %d, want 2", len(sagas))
		}
		if sagas[0].OrderID != "order-2" {
			t.Errorf("sagas[0] = %s, want newest order-2", sagas[0].OrderID)
		}
	})

	t.Run("applies the limit", func(t *testing.T) {
		sagas, err := handler.Handle(context.Background(), queries.ListByStatusQuery{Status: domain.StatusOnHold, Limit: 1})
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if len(sagas) != 1 {
			t.Errorf("sagas = %d, want 1", len(sagas))
		}
	})
}
