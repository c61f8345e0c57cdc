package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/dejobratic/ordersaga/internal/outbox"
	"github.com/dejobratic/ordersaga/internal/saga/domain"
)

// TopicMap routes a command's destination service to its Kafka topic.
type TopicMap map[domain.Destination]string

// DefaultTopics returns the conventional per-service command topics.
func DefaultTopics() TopicMap {
	return TopicMap{
		domain.DestinationPayments:      "orders.payments.commands",
		domain.DestinationInventory:     "orders.inventory.commands",
		domain.DestinationFulfillment:   "orders.fulfillment.commands",
		domain.DestinationNotifications: "orders.notifications",
	}
}

// writer is the subset of kafka.Writer the dispatcher needs.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// Dispatcher delivers outbox messages to Kafka, one topic per destination,
// keyed by order ID so all traffic for an order lands on one partition.
type Dispatcher struct {
	writer  writer
	topics  TopicMap
	metrics *Metrics
}

// NewDispatcher wraps a kafka writer. The writer must not have a fixed topic
// since the dispatcher sets it per message. Metrics may be nil.
func NewDispatcher(w writer, topics TopicMap, metrics *Metrics) *Dispatcher {
	if topics == nil {
		topics = DefaultTopics()
	}
	return &Dispatcher{writer: w, topics: topics, metrics: metrics}
}

// NewWriter builds the production kafka writer for the dispatcher.
func NewWriter(brokers []string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// Dispatch sends one outbox message to its destination topic.
func (d *Dispatcher) Dispatch(ctx context.Context, msg outbox.Message) error {
	topic, ok := d.topics[msg.Destination]
	if !ok {
		return fmt.Errorf("no topic for destination %q", msg.Destination)
	}

	raw, err := EncodeEnvelope(Envelope{
		MessageID: msg.ID,
		Kind:      string(msg.Kind),
		OrderID:   msg.OrderID,
		Payload:   json.RawMessage(msg.Payload),
	})
	if err != nil {
		return err
	}

	start := time.Now()
	err = d.writer.WriteMessages(ctx, kafkago.Message{
		Topic: topic,
		Key:   []byte(msg.OrderID),
		Value: raw,
		Headers: []kafkago.Header{
			{Key: "message_id", Value: []byte(msg.ID)},
			{Key: "kind", Value: []byte(msg.Kind)},
		},
	})

	if d.metrics != nil {
		d.metrics.RecordPublish(ctx, topic, time.Since(start).Seconds(), err == nil)
	}
	if err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	return nil
}
