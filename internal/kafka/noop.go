package kafka

import (
	"context"
	"log/slog"

	"github.com/dejobratic/ordersaga/internal/outbox"
)

// NoopDispatcher logs outbox messages without sending them to Kafka. Useful
// for local dev before wiring a broker.
type NoopDispatcher struct{}

// NewNoopDispatcher returns a new no-op dispatcher.
func NewNoopDispatcher() *NoopDispatcher {
	return &NoopDispatcher{}
}

func (n *NoopDispatcher) Dispatch(_ context.Context, msg outbox.Message) error {
	slog.Debug("dispatch::noop",
		"message_id", msg.ID,
		"order_id", msg.OrderID,
		"kind", string(msg.Kind),
		"destination", string(msg.Destination),
	)
	return nil
}
