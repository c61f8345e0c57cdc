package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dejobratic/ordersaga/internal/outbox"
)

// Store is an in-memory outbox used by unit tests and local development.
type Store struct {
	mu       sync.Mutex
	messages map[string]outbox.Message
}

// NewStore constructs an empty in-memory outbox store.
func NewStore() *Store {
	return &Store{messages: make(map[string]outbox.Message)}
}

// Insert enqueues messages directly, standing in for the transactional path.
func (s *Store) Insert(_ context.Context, messages []outbox.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range messages {
		s.messages[m.ID] = m
	}
	return nil
}

func (s *Store) ClaimBatch(_ context.Context, now time.Time, limit int) ([]outbox.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []outbox.Message
	for _, m := range s.messages {
		if m.Status == outbox.StatusPending && !m.NextAttemptAt.After(now) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) MarkSent(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil
	}
	m.Status = outbox.StatusSent
	sent := at
	m.SentAt = &sent
	s.messages[id] = m
	return nil
}

func (s *Store) Reschedule(_ context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil
	}
	m.Attempts = attempts
	m.NextAttemptAt = nextAttemptAt
	m.LastError = lastError
	s.messages[id] = m
	return nil
}

func (s *Store) MarkDeadLetter(_ context.Context, id string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil
	}
	m.Status = outbox.StatusDeadLetter
	m.LastError = lastError
	s.messages[id] = m
	return nil
}

// Snapshot returns a copy of every stored message, for test assertions.
func (s *Store) Snapshot() []outbox.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]outbox.Message, 0, len(s.messages))
	for _, m := range s.messages {
		msgs = append(msgs, m)
	}
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs
}
