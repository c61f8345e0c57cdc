package memory

import (
	"context"
	"sync"
)

// Store provides an in-memory processed-message record for local development
// and tests.
type Store struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewStore constructs a new in-memory inbox store.
func NewStore() *Store {
	return &Store{seen: make(map[string]struct{})}
}

func (s *Store) Seen(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[messageID]
	return ok, nil
}

func (s *Store) MarkProcessed(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[messageID]; ok {
		return false, nil
	}
	s.seen[messageID] = struct{}{}
	return true, nil
}
