package outbox

import (
	"time"

	"github.com/google/uuid"

	"github.com/dejobratic/ordersaga/internal/saga/domain"
)

// Status tracks delivery progress of an outbox message.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSent       Status = "sent"
	StatusDeadLetter Status = "dead_letter"
)

// Message is one command or event the saga decided to emit, persisted in the
// same transaction as the saga mutation that produced it and delivered later
// by the relay.
type Message struct {
	ID            string
	OrderID       string
	Destination   domain.Destination
	Kind          domain.CommandKind
	Payload       []byte
	Status        Status
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	SentAt        *time.Time
}

// FromCommand expands a saga command into one outbox message per destination.
func FromCommand(cmd domain.Command, now time.Time) ([]Message, error) {
	payload, err := domain.EncodeCommand(cmd)
	if err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(cmd.Destinations()))
	for _, dest := range cmd.Destinations() {
		msgs = append(msgs, Message{
			ID:            uuid.NewString(),
			OrderID:       cmd.Order(),
			Destination:   dest,
			Kind:          cmd.CommandKind(),
			Payload:       payload,
			Status:        StatusPending,
			NextAttemptAt: now,
			CreatedAt:     now,
		})
	}
	return msgs, nil
}

// FromCommands expands a batch of commands preserving emission order.
func FromCommands(cmds []domain.Command, now time.Time) ([]Message, error) {
	var msgs []Message
	for _, cmd := range cmds {
		expanded, err := FromCommand(cmd, now)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, expanded...)
	}
	return msgs, nil
}
