package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/dejobratic/ordersaga/internal/saga/app"
	"github.com/dejobratic/ordersaga/internal/saga/domain"
	"github.com/dejobratic/ordersaga/internal/worker"
)

// reader is the subset of kafka.Reader the consumer needs.
type reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// Consumer pulls inbound messages off the replies topic and hands them to
// the worker pool, which serializes processing per order. The offset is
// committed after the handler ran, so an unprocessed message is redelivered
// and the inbox dedup absorbs the replay.
type Consumer struct {
	reader    reader
	pool      *worker.Pool
	processor app.Processor
	logger    *slog.Logger
}

// NewConsumer wires the consumer's dependencies.
func NewConsumer(r reader, pool *worker.Pool, processor app.Processor, logger *slog.Logger) *Consumer {
	return &Consumer{reader: r, pool: pool, processor: processor, logger: logger}
}

// NewReader builds the production kafka reader for the replies topic.
func NewReader(brokers []string, topic, groupID string) *kafkago.Reader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// Run consumes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		kmsg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		env, err := DecodeEnvelope(kmsg.Value)
		if err != nil {
			// A frame we cannot even parse is unrecoverable; drop it rather
			// than wedge the partition.
			c.logger.ErrorContext(ctx, "malformed envelope discarded",
				"topic", kmsg.Topic,
				"offset", kmsg.Offset,
				"error", err,
			)
			if err := c.reader.CommitMessages(ctx, kmsg); err != nil {
				c.logger.Error("commit failed", "error", err)
			}
			continue
		}

		if err := c.pool.Submit(ctx, env.OrderID, c.taskFor(env, kmsg)); err != nil {
			return fmt.Errorf("submit message %s: %w", env.MessageID, err)
		}
	}
}

func (c *Consumer) taskFor(env Envelope, kmsg kafkago.Message) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := c.process(ctx, env); err != nil {
			// Leave the offset uncommitted so the transport redelivers.
			return err
		}
		if err := c.reader.CommitMessages(ctx, kmsg); err != nil {
			return fmt.Errorf("commit message %s: %w", env.MessageID, err)
		}
		return nil
	}
}

func (c *Consumer) process(ctx context.Context, env Envelope) error {
	if domain.MessageKind(env.Kind) == domain.KindPlacementRequested {
		req, err := domain.DecodePlacementRequest(env.Payload)
		if err != nil {
			c.logger.ErrorContext(ctx, "malformed placement request discarded",
				"message_id", env.MessageID,
				"error", err,
			)
			return nil
		}
		_, err = c.processor.StartOrder(ctx, env.MessageID, req)
		if errors.Is(err, domain.ErrValidation) {
			c.logger.WarnContext(ctx, "invalid placement request discarded",
				"message_id", env.MessageID,
				"order_id", req.OrderID,
				"error", err,
			)
			return nil
		}
		return err
	}

	msg, err := domain.DecodeMessage(domain.MessageKind(env.Kind), env.Payload)
	if err != nil {
		c.logger.ErrorContext(ctx, "undecodable message discarded",
			"message_id", env.MessageID,
			"kind", env.Kind,
			"error", err,
		)
		return nil
	}
	return c.processor.HandleMessage(ctx, env.MessageID, msg)
}
