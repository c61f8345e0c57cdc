package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store records processed message IDs so redelivered messages are discarded.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Seen(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_messages WHERE message_id = $1)`,
		messageID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("select processed message: %w", err)
	}
	return exists, nil
}

func (s *Store) MarkProcessed(ctx context.Context, messageID string) (bool, error) {
	result, err := s.pool.Exec(ctx,
		`INSERT INTO processed_messages (message_id, processed_at) VALUES ($1, $2) ON CONFLICT (message_id) DO NOTHING`,
		messageID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert processed message: %w", err)
	}
	return result.RowsAffected() > 0, nil
}
