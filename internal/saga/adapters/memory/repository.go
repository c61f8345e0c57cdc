package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/dejobratic/ordersaga/internal/outbox"
	"github.com/dejobratic/ordersaga/internal/saga/domain"
	"github.com/dejobratic/ordersaga/internal/saga/ports"
)

// Repository provides an in-memory saga store with the same optimistic
// concurrency semantics as the Postgres adapter. Useful for local development
// and tests; it also records every outbox message enqueued through it.
type Repository struct {
	mu       sync.RWMutex
	sagas    map[string]domain.OrderSaga
	enqueued []outbox.Message
}

// NewRepository constructs a new in-memory repository.
func NewRepository() *Repository {
	return &Repository{sagas: make(map[string]domain.OrderSaga)}
}

// Create stores a new saga at version 1 together with its outbox messages.
func (r *Repository) Create(_ context.Context, saga *domain.OrderSaga, messages []outbox.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sagas[saga.OrderID]; ok {
		return ports.ErrAlreadyExists
	}

	saga.Version = 1
	stored, err := cloneSaga(*saga)
	if err != nil {
		return err
	}
	r.sagas[saga.OrderID] = stored
	r.enqueued = append(r.enqueued, messages...)
	return nil
}

// GetByOrderID fetches a saga copy by order identifier.
func (r *Repository) GetByOrderID(_ context.Context, orderID string) (*domain.OrderSaga, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	saga, ok := r.sagas[orderID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	copied, err := cloneSaga(saga)
	if err != nil {
		return nil, err
	}
	return &copied, nil
}

// Update persists the mutated saga guarded by its loaded version and records
// the outbox messages that accompany the change.
func (r *Repository) Update(_ context.Context, saga *domain.OrderSaga, messages []outbox.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sagas[saga.OrderID]
	if !ok {
		return ports.ErrNotFound
	}
	if current.Version != saga.Version {
		return ports.ErrVersionConflict
	}

	saga.Version++
	stored, err := cloneSaga(*saga)
	if err != nil {
		saga.Version--
		return err
	}
	r.sagas[saga.OrderID] = stored
	r.enqueued = append(r.enqueued, messages...)
	return nil
}

// ListByStatus returns sagas in the given status, newest first.
func (r *Repository) ListByStatus(_ context.Context, status domain.Status, limit int) ([]domain.OrderSaga, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.OrderSaga
	for _, saga := range r.sagas {
		if saga.Status != status {
			continue
		}
		copied, err := cloneSaga(saga)
		if err != nil {
			return nil, err
		}
		result = append(result, copied)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Enqueued returns every outbox message recorded so far, in enqueue order.
func (r *Repository) Enqueued() []outbox.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs := make([]outbox.Message, len(r.enqueued))
	copy(msgs, r.enqueued)
	return msgs
}

// EnqueuedOfKind filters recorded outbox messages by command kind.
func (r *Repository) EnqueuedOfKind(kind domain.CommandKind) []outbox.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var msgs []outbox.Message
	for _, m := range r.enqueued {
		if m.Kind == kind {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// cloneSaga deep-copies via JSON so callers never share maps or slices with
// the stored state.
func cloneSaga(saga domain.OrderSaga) (domain.OrderSaga, error) {
	raw, err := json.Marshal(saga)
	if err != nil {
		return domain.OrderSaga{}, fmt.Errorf("clone saga: %w", err)
	}
	var copied domain.OrderSaga
	if err := json.Unmarshal(raw, &copied); err != nil {
		return domain.OrderSaga{}, fmt.Errorf("clone saga: %w", err)
	}
	return copied, nil
}
