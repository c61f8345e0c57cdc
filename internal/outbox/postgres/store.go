package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dejobratic/ordersaga/internal/outbox"
)

// Store persists outbox messages in Postgres. InsertTx runs inside the saga
// repository's transaction so a command is never enqueued without the state
// change that produced it.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const insertQuery = `
	INSERT INTO outbox_messages
		(id, order_id, destination, kind, payload, status, attempts, next_attempt_at, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// InsertTx enqueues messages within an existing transaction.
func InsertTx(ctx context.Context, tx pgx.Tx, messages []outbox.Message) error {
	for _, m := range messages {
		_, err := tx.Exec(ctx, insertQuery,
			m.ID,
			m.OrderID,
			string(m.Destination),
			string(m.Kind),
			m.Payload,
			string(m.Status),
			m.Attempts,
			m.NextAttemptAt,
			m.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert outbox message: %w", err)
		}
	}
	return nil
}

// ClaimBatch locks up to limit due pending messages for delivery. SKIP LOCKED
// keeps concurrent relays from claiming the same rows.
func (s *Store) ClaimBatch(ctx context.Context, now time.Time, limit int) ([]outbox.Message, error) {
	query := `
		SELECT id, order_id, destination, kind, payload, status, attempts, next_attempt_at, last_error, created_at
		FROM outbox_messages
		WHERE status = 'pending' AND next_attempt_at <= $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox batch: %w", err)
	}

	var messages []outbox.Message
	for rows.Next() {
		var m outbox.Message
		var lastError *string
		if err := rows.Scan(
			&m.ID,
			&m.OrderID,
			&m.Destination,
			&m.Kind,
			&m.Payload,
			&m.Status,
			&m.Attempts,
			&m.NextAttemptAt,
			&lastError,
			&m.CreatedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		if lastError != nil {
			m.LastError = *lastError
		}
		messages = append(messages, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox batch: %w", err)
	}

	// Push next_attempt_at forward while the rows are locked so a crashed
	// relay does not leave the batch claimed forever.
	for _, m := range messages {
		if _, err := tx.Exec(ctx,
			`UPDATE outbox_messages SET next_attempt_at = $1 WHERE id = $2`,
			now.Add(30*time.Second), m.ID,
		); err != nil {
			return nil, fmt.Errorf("lease outbox message: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return messages, nil
}

// MarkSent flags a message as delivered.
func (s *Store) MarkSent(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox_messages SET status = 'sent', sent_at = $1 WHERE id = $2`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox message sent: %w", err)
	}
	return nil
}

// Reschedule records a failed attempt and the time of the next one.
func (s *Store) Reschedule(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox_messages SET attempts = $1, next_attempt_at = $2, last_error = $3 WHERE id = $4`,
		attempts, nextAttemptAt, lastError, id,
	)
	if err != nil {
		return fmt.Errorf("reschedule outbox message: %w", err)
	}
	return nil
}

// MarkDeadLetter parks a message that exhausted its delivery attempts.
func (s *Store) MarkDeadLetter(ctx context.Context, id string, lastError string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox_messages SET status = 'dead_letter', last_error = $1 WHERE id = $2`,
		lastError, id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox message dead-lettered: %w", err)
	}
	return nil
}

// ListDeadLetters returns parked messages for operator investigation.
func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]outbox.Message, error) {
	query := `
		SELECT id, order_id, destination, kind, payload, status, attempts, next_attempt_at, last_error, created_at
		FROM outbox_messages
		WHERE status = 'dead_letter'
		ORDER BY created_at
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var messages []outbox.Message
	for rows.Next() {
		var m outbox.Message
		var lastError *string
		if err := rows.Scan(
			&m.ID,
			&m.OrderID,
			&m.Destination,
			&m.Kind,
			&m.Payload,
			&m.Status,
			&m.Attempts,
			&m.NextAttemptAt,
			&lastError,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if lastError != nil {
			m.LastError = *lastError
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return messages, nil
}
