package ports

import (
	"context"
	"errors"

	"github.com/dejobratic/ordersaga/internal/outbox"
	"github.com/dejobratic/ordersaga/internal/saga/domain"
)

// SagaRepository persists order sagas with optimistic concurrency. Create and
// Update write the saga and its outbox messages atomically, so a command is
// never emitted without the state change that produced it, and vice versa.
type SagaRepository interface {
	// Create persists a brand new saga at version 1 together with its initial
	// outbox messages. Returns ErrAlreadyExists if the OrderID is taken.
	Create(ctx context.Context, saga *domain.OrderSaga, messages []outbox.Message) error

	// GetByOrderID loads the current saga state.
	GetByOrderID(ctx context.Context, orderID string) (*domain.OrderSaga, error)

	// Update persists the mutated saga and enqueues outbox messages in one
	// transaction, guarded by the version the saga was loaded at. Returns
	// ErrVersionConflict when a concurrent update won; the caller retries the
	// whole handler invocation. On success the saga's Version is advanced.
	Update(ctx context.Context, saga *domain.OrderSaga, messages []outbox.Message) error

	// ListByStatus returns sagas currently in the given status, newest first.
	ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.OrderSaga, error)
}

var (
	// ErrNotFound is returned when no saga exists for the requested order.
	ErrNotFound = errors.New("order saga not found")

	// ErrAlreadyExists is returned when a saga for the OrderID already exists.
	ErrAlreadyExists = errors.New("order saga already exists")

	// ErrVersionConflict is returned when an optimistic version check fails.
	ErrVersionConflict = errors.New("saga version conflict")
)
