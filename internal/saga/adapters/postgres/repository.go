package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dejobratic/ordersaga/internal/outbox"
	outboxpostgres "github.com/dejobratic/ordersaga/internal/outbox/postgres"
	"github.com/dejobratic/ordersaga/internal/saga/domain"
	"github.com/dejobratic/ordersaga/internal/saga/ports"
)

// Repository persists order sagas in Postgres with an optimistic version
// column. Saga mutation and outbox enqueue share one transaction.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const uniqueViolation = "23505"

const sagaColumns = `
	order_id, status, customer_id, line_items, shipping_address,
	payment_method_token, shipping_cost_cents, total_amount_cents,
	payment_state, inventory_state, payment_reference, payment_retriable,
	reservation_ids, refunded_cents, failure_reason, hold_reason,
	tracking_number, history, version, created_at, updated_at, closed_at
`

func (r *Repository) Create(ctx context.Context, saga *domain.OrderSaga, messages []outbox.Message) error {
	query := `
		INSERT INTO order_sagas (` + sagaColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`

	lineItems, address, reservations, history, err := marshalSagaJSON(saga)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create saga: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	saga.Version = 1
	_, err = tx.Exec(ctx, query,
		saga.OrderID,
		saga.Status,
		saga.CustomerID,
		lineItems,
		address,
		saga.PaymentMethodToken,
		saga.ShippingCostCents,
		saga.TotalAmountCents,
		saga.PaymentState,
		saga.InventoryState,
		saga.PaymentReference,
		saga.PaymentRetriable,
		reservations,
		saga.RefundedCents,
		saga.FailureReason,
		saga.HoldReason,
		saga.TrackingNumber,
		history,
		saga.Version,
		saga.CreatedAt,
		saga.UpdatedAt,
		saga.ClosedAt,
	)
	if err != nil {
		saga.Version = 0
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ports.ErrAlreadyExists
		}
		return fmt.Errorf("insert saga: %w", err)
	}

	if err := outboxpostgres.InsertTx(ctx, tx, messages); err != nil {
		saga.Version = 0
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		saga.Version = 0
		return fmt.Errorf("commit create saga: %w", err)
	}
	return nil
}

func (r *Repository) GetByOrderID(ctx context.Context, orderID string) (*domain.OrderSaga, error) {
	query := `SELECT ` + sagaColumns + ` FROM order_sagas WHERE order_id = $1`

	saga, err := scanSaga(r.pool.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("select saga: %w", err)
	}
	return saga, nil
}

func (r *Repository) Update(ctx context.Context, saga *domain.OrderSaga, messages []outbox.Message) error {
	query := `
		UPDATE order_sagas SET
			status = $1, payment_state = $2, inventory_state = $3,
			payment_reference = $4, payment_retriable = $5, reservation_ids = $6,
			refunded_cents = $7, failure_reason = $8, hold_reason = $9,
			tracking_number = $10, history = $11, version = version + 1,
			updated_at = $12, closed_at = $13
		WHERE order_id = $14 AND version = $15
	`

	_, _, reservations, history, err := marshalSagaJSON(saga)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update saga: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	result, err := tx.Exec(ctx, query,
		saga.Status,
		saga.PaymentState,
		saga.InventoryState,
		saga.PaymentReference,
		saga.PaymentRetriable,
		reservations,
		saga.RefundedCents,
		saga.FailureReason,
		saga.HoldReason,
		saga.TrackingNumber,
		history,
		saga.UpdatedAt,
		saga.ClosedAt,
		saga.OrderID,
		saga.Version,
	)
	if err != nil {
		return fmt.Errorf("update saga: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Either the saga vanished or another worker won the version race;
		// distinguish so the caller can retry the right way.
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM order_sagas WHERE order_id = $1)`,
			saga.OrderID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check saga existence: %w", err)
		}
		if !exists {
			return ports.ErrNotFound
		}
		return ports.ErrVersionConflict
	}

	if err := outboxpostgres.InsertTx(ctx, tx, messages); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update saga: %w", err)
	}

	saga.Version++
	return nil
}

func (r *Repository) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.OrderSaga, error) {
	query := `
		SELECT ` + sagaColumns + `
		FROM order_sagas
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("query sagas: %w", err)
	}
	defer rows.Close()

	var sagas []domain.OrderSaga
	for rows.Next() {
		saga, err := scanSaga(rows)
		if err != nil {
			return nil, fmt.Errorf("scan saga: %w", err)
		}
		sagas = append(sagas, *saga)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sagas: %w", err)
	}
	return sagas, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSaga(row rowScanner) (*domain.OrderSaga, error) {
	var saga domain.OrderSaga
	var lineItems, address, reservations, history []byte
	var closedAt *time.Time

	if err := row.Scan(
		&saga.OrderID,
		&saga.Status,
		&saga.CustomerID,
		&lineItems,
		&address,
		&saga.PaymentMethodToken,
		&saga.ShippingCostCents,
		&saga.TotalAmountCents,
		&saga.PaymentState,
		&saga.InventoryState,
		&saga.PaymentReference,
		&saga.PaymentRetriable,
		&reservations,
		&saga.RefundedCents,
		&saga.FailureReason,
		&saga.HoldReason,
		&saga.TrackingNumber,
		&history,
		&saga.Version,
		&saga.CreatedAt,
		&saga.UpdatedAt,
		&closedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(lineItems, &saga.LineItems); err != nil {
		return nil, fmt.Errorf("unmarshal line items: %w", err)
	}
	if err := json.Unmarshal(address, &saga.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}
	if err := json.Unmarshal(reservations, &saga.ReservationIDs); err != nil {
		return nil, fmt.Errorf("unmarshal reservation ids: %w", err)
	}
	if err := json.Unmarshal(history, &saga.History); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	saga.ClosedAt = closedAt
	return &saga, nil
}

func marshalSagaJSON(saga *domain.OrderSaga) (lineItems, address, reservations, history []byte, err error) {
	if lineItems, err = json.Marshal(saga.LineItems); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal line items: %w", err)
	}
	if address, err = json.Marshal(saga.ShippingAddress); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal shipping address: %w", err)
	}
	if reservations, err = json.Marshal(saga.ReservationIDs); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal reservation ids: %w", err)
	}
	if history, err = json.Marshal(saga.History); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal history: %w", err)
	}
	return lineItems, address, reservations, history, nil
}
