package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dejobratic/ordersaga/internal/outbox"
	"github.com/dejobratic/ordersaga/internal/saga/domain"
	"github.com/dejobratic/ordersaga/internal/saga/metrics"
	"github.com/dejobratic/ordersaga/internal/saga/ports"
)

// Processor is the entry point for everything that feeds messages into the
// saga: the transport consumer, the HTTP edge, and tests.
type Processor interface {
	StartOrder(ctx context.Context, messageID string, req domain.PlacementRequest) (*domain.OrderSaga, error)
	HandleMessage(ctx context.Context, messageID string, msg domain.Message) error
}

const defaultConflictRetries = 3

// Orchestrator coordinates order sagas: it deduplicates inbound messages,
// applies them to the durable saga state, and persists the resulting
// follow-on commands through the transactional outbox. Version conflicts
// from concurrent updates retry the whole handler invocation.
type Orchestrator struct {
	repo            ports.SagaRepository
	inbox           ports.InboxStore
	logger          *slog.Logger
	metrics         *metrics.Metrics
	conflictRetries int
	now             func() time.Time
}

// NewOrchestrator wires the orchestrator's dependencies. Metrics may be nil,
// for example in unit tests.
func NewOrchestrator(repo ports.SagaRepository, inbox ports.InboxStore, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		repo:            repo,
		inbox:           inbox,
		logger:          logger,
		metrics:         m,
		conflictRetries: defaultConflictRetries,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// StartOrder validates the placement request, creates the saga in Placed and
// enqueues the OrderPlaced fan-out, all before returning. Re-attempting a
// placement for an existing OrderID is idempotent and returns the saga as it
// currently stands.
func (o *Orchestrator) StartOrder(ctx context.Context, messageID string, req domain.PlacementRequest) (*domain.OrderSaga, error) {
	if seen, err := o.inbox.Seen(ctx, messageID); err != nil {
		return nil, fmt.Errorf("inbox check: %w", err)
	} else if seen {
		o.logger.InfoContext(ctx, "duplicate placement discarded", "message_id", messageID, "order_id", req.OrderID)
		return o.repo.GetByOrderID(ctx, req.OrderID)
	}

	saga, cmds, err := domain.Start(req, o.now())
	if err != nil {
		return nil, err
	}

	messages, err := outbox.FromCommands(cmds, o.now())
	if err != nil {
		return nil, err
	}

	if err := o.repo.Create(ctx, saga, messages); err != nil {
		if errors.Is(err, ports.ErrAlreadyExists) {
			o.logger.InfoContext(ctx, "placement for existing order", "order_id", req.OrderID)
			return o.repo.GetByOrderID(ctx, req.OrderID)
		}
		return nil, err
	}

	if _, err := o.inbox.MarkProcessed(ctx, messageID); err != nil {
		o.logger.WarnContext(ctx, "failed to mark placement processed", "message_id", messageID, "error", err)
	}

	return saga, nil
}

// HandleMessage applies one asynchronous response to its saga. Messages for
// unknown orders, duplicates, and messages the current state cannot accept
// are logged and discarded; they never fail the saga or the transport.
func (o *Orchestrator) HandleMessage(ctx context.Context, messageID string, msg domain.Message) error {
	if seen, err := o.inbox.Seen(ctx, messageID); err != nil {
		return fmt.Errorf("inbox check: %w", err)
	} else if seen {
		o.logger.InfoContext(ctx, "duplicate message discarded",
			"message_id", messageID,
			"kind", string(msg.Kind()),
			"order_id", msg.Order(),
		)
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= o.conflictRetries; attempt++ {
		applied, err := o.applyOnce(ctx, msg)
		if err == nil {
			if !applied {
				return nil // discarded, nothing to mark
			}
			if _, err := o.inbox.MarkProcessed(ctx, messageID); err != nil {
				o.logger.WarnContext(ctx, "failed to mark message processed", "message_id", messageID, "error", err)
			}
			return nil
		}
		if !errors.Is(err, ports.ErrVersionConflict) {
			return err
		}
		lastErr = err
		if o.metrics != nil {
			o.metrics.RecordVersionConflict(ctx)
		}
		o.logger.DebugContext(ctx, "version conflict, retrying handler",
			"order_id", msg.Order(),
			"kind", string(msg.Kind()),
			"attempt", attempt+1,
		)
	}
	return fmt.Errorf("handler retries exhausted for order %s: %w", msg.Order(), lastErr)
}

// applyOnce runs a single load-apply-persist cycle. It reports whether the
// message was applied (as opposed to discarded).
func (o *Orchestrator) applyOnce(ctx context.Context, msg domain.Message) (bool, error) {
	saga, err := o.repo.GetByOrderID(ctx, msg.Order())
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			o.logger.WarnContext(ctx, "message for unknown order discarded",
				"order_id", msg.Order(),
				"kind", string(msg.Kind()),
			)
			return false, nil
		}
		return false, fmt.Errorf("load saga: %w", err)
	}

	cmds, err := saga.Apply(msg, o.now())
	if err != nil {
		if errors.Is(err, domain.ErrInconsistentMessage) {
			o.logger.WarnContext(ctx, "inconsistent message discarded",
				"order_id", msg.Order(),
				"kind", string(msg.Kind()),
				"status", string(saga.Status),
				"reason", err.Error(),
			)
			return false, nil
		}
		return false, fmt.Errorf("apply %s: %w", msg.Kind(), err)
	}

	messages, err := outbox.FromCommands(cmds, o.now())
	if err != nil {
		return false, err
	}

	if err := o.repo.Update(ctx, saga, messages); err != nil {
		return false, err
	}

	if o.metrics != nil {
		o.metrics.RecordTransition(ctx, string(saga.Status))
		for _, cmd := range cmds {
			switch cmd.CommandKind() {
			case domain.CommandReservationReleaseRequested, domain.CommandRefundRequested:
				o.metrics.RecordCompensation(ctx, string(cmd.CommandKind()))
			}
		}
	}
	return true, nil
}
