package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status captures the lifecycle position of an order saga. It is the single
// source of truth for where the order is in its life, advanced only by the
// orchestrator's message handlers.
type Status string

const (
	StatusPlaced             Status = "placed"
	StatusPendingPayment     Status = "pending_payment"
	StatusPaymentConfirmed   Status = "payment_confirmed"
	StatusPaymentFailed      Status = "payment_failed"
	StatusInventoryReserved  Status = "inventory_reserved"
	StatusInventoryFailed    Status = "inventory_failed"
	StatusInventoryCommitted Status = "inventory_committed"
	StatusFulfilling         Status = "fulfilling"
	StatusShipped            Status = "shipped"
	StatusDelivered          Status = "delivered"
	StatusReturnRequested    Status = "return_requested"
	StatusOnHold             Status = "on_hold"
	StatusCancelled          Status = "cancelled"
	StatusClosed             Status = "closed"
)

// PaymentState tracks the payment branch independently of the overall status,
// so inventory handlers can check it regardless of message arrival order.
type PaymentState string

const (
	PaymentStateNone       PaymentState = "none"
	PaymentStateAuthorized PaymentState = "authorized"
	PaymentStateCaptured   PaymentState = "captured"
	PaymentStateRejected   PaymentState = "rejected"
)

// InventoryState tracks the inventory branch independently of the overall status.
type InventoryState string

const (
	InventoryNone             InventoryState = "none"
	InventoryPartial          InventoryState = "partial"
	InventoryReserved         InventoryState = "reserved"
	InventoryRejected         InventoryState = "rejected"
	InventoryCommitRequested  InventoryState = "commit_requested"
	InventoryCommitted        InventoryState = "committed"
	InventoryReleaseRequested InventoryState = "release_requested"
	InventoryReleased         InventoryState = "released"
)

// LineItem is a single SKU position on the order, immutable once the saga starts.
type LineItem struct {
	SKU            string `json:"sku"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// Address is the shipping destination captured from the placement request.
type Address struct {
	Line1      string `json:"line1"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// StatusChange records one transition for auditing and fan-in assertions.
type StatusChange struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

// OrderSaga is the durable coordinator state for one order. Exactly one
// instance exists per OrderID; all mutation goes through Apply or Start.
type OrderSaga struct {
	OrderID            string       `json:"order_id"`
	Status             Status       `json:"status"`
	CustomerID         string       `json:"customer_id"`
	LineItems          []LineItem   `json:"line_items"`
	ShippingAddress    Address      `json:"shipping_address"`
	PaymentMethodToken string       `json:"payment_method_token"`
	ShippingCostCents  int64        `json:"shipping_cost_cents"`
	TotalAmountCents   int64        `json:"total_amount_cents"`

	PaymentState     PaymentState   `json:"payment_state"`
	InventoryState   InventoryState `json:"inventory_state"`
	PaymentReference string         `json:"payment_reference"`
	PaymentRetriable bool           `json:"payment_retriable"`

	// ReservationIDs maps SKU to the inventory reservation holding its stock.
	// Append-only while the order is active; entries are removed one at a
	// time as ReservationReleased confirmations arrive.
	ReservationIDs map[string]string `json:"reservation_ids"`

	RefundedCents  int64  `json:"refunded_cents"`
	FailureReason  string `json:"failure_reason,omitempty"`
	HoldReason     string `json:"hold_reason,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`

	History []StatusChange `json:"history"`

	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// PlacementRequest is the immutable order-placement input produced upstream
// by checkout. It is validated synchronously before any saga is created.
type PlacementRequest struct {
	OrderID            string     `json:"order_id"`
	CustomerID         string     `json:"customer_id"`
	LineItems          []LineItem `json:"line_items"`
	ShippingAddress    Address    `json:"shipping_address"`
	PaymentMethodToken string     `json:"payment_method_token"`
	ShippingCostCents  int64      `json:"shipping_cost_cents"`
}

// ErrValidation marks a malformed placement request, rejected before any
// saga state exists.
var ErrValidation = errors.New("invalid placement request")

// Validate ensures the placement request carries everything the saga needs.
func (r PlacementRequest) Validate() error {
	if strings.TrimSpace(r.OrderID) == "" {
		return fmt.Errorf("%w: order_id is required", ErrValidation)
	}
	if strings.TrimSpace(r.CustomerID) == "" {
		return fmt.Errorf("%w: customer_id is required", ErrValidation)
	}
	if len(r.LineItems) == 0 {
		return fmt.Errorf("%w: line_items must not be empty", ErrValidation)
	}
	seen := make(map[string]struct{}, len(r.LineItems))
	for _, item := range r.LineItems {
		if strings.TrimSpace(item.SKU) == "" {
			return fmt.Errorf("%w: line item sku is required", ErrValidation)
		}
		if _, dup := seen[item.SKU]; dup {
			return fmt.Errorf("%w: duplicate line item sku %q", ErrValidation, item.SKU)
		}
		seen[item.SKU] = struct{}{}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: quantity for %s must be positive", ErrValidation, item.SKU)
		}
		if item.UnitPriceCents <= 0 {
			return fmt.Errorf("%w: unit price for %s must be positive", ErrValidation, item.SKU)
		}
	}
	if strings.TrimSpace(r.ShippingAddress.Line1) == "" || strings.TrimSpace(r.ShippingAddress.Country) == "" {
		return fmt.Errorf("%w: shipping address is incomplete", ErrValidation)
	}
	if strings.TrimSpace(r.PaymentMethodToken) == "" {
		return fmt.Errorf("%w: payment_method_token is required", ErrValidation)
	}
	if r.ShippingCostCents < 0 {
		return fmt.Errorf("%w: shipping_cost_cents must not be negative", ErrValidation)
	}
	return nil
}

// TotalCents computes the order total: line items plus shipping.
func (r PlacementRequest) TotalCents() int64 {
	var total int64
	for _, item := range r.LineItems {
		total += int64(item.Quantity) * item.UnitPriceCents
	}
	return total + r.ShippingCostCents
}

// Start validates the placement request and creates a new saga in Placed,
// returning the OrderPlaced fan-out destined for payments and inventory.
func Start(req PlacementRequest, now time.Time) (*OrderSaga, []Command, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	items := make([]LineItem, len(req.LineItems))
	copy(items, req.LineItems)

	saga := &OrderSaga{
		OrderID:            req.OrderID,
		CustomerID:         req.CustomerID,
		LineItems:          items,
		ShippingAddress:    req.ShippingAddress,
		PaymentMethodToken: req.PaymentMethodToken,
		ShippingCostCents:  req.ShippingCostCents,
		TotalAmountCents:   req.TotalCents(),
		PaymentState:       PaymentStateNone,
		InventoryState:     InventoryNone,
		ReservationIDs:     make(map[string]string),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	saga.setStatus(StatusPlaced, now)

	placed := OrderPlaced{
		OrderID:          saga.OrderID,
		CustomerID:       saga.CustomerID,
		LineItems:        items,
		TotalAmountCents: saga.TotalAmountCents,
	}
	return saga, []Command{placed}, nil
}

// IsTerminal reports whether the saga reached a state after which no further
// transitions are expected and the record becomes read-only history.
func (s *OrderSaga) IsTerminal() bool {
	switch s.Status {
	case StatusCancelled, StatusClosed:
		return true
	default:
		return false
	}
}

// Cancellable reports whether a cancel request would currently be honored.
func (s *OrderSaga) Cancellable() bool {
	for _, st := range cancellableStatuses {
		if s.Status == st {
			return true
		}
	}
	return false
}

// RefundableCents is the amount still available for refunding. Refunds may
// never exceed the recorded order total.
func (s *OrderSaga) RefundableCents() int64 {
	remaining := s.TotalAmountCents - s.RefundedCents
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (s *OrderSaga) allReserved() bool {
	for _, item := range s.LineItems {
		if _, ok := s.ReservationIDs[item.SKU]; !ok {
			return false
		}
	}
	return true
}

func (s *OrderSaga) hasLineItem(sku string) bool {
	for _, item := range s.LineItems {
		if item.SKU == sku {
			return true
		}
	}
	return false
}

func (s *OrderSaga) reservationIDList() []string {
	ids := make([]string, 0, len(s.ReservationIDs))
	for _, item := range s.LineItems {
		if id, ok := s.ReservationIDs[item.SKU]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *OrderSaga) setStatus(status Status, now time.Time) {
	s.Status = status
	s.UpdatedAt = now
	s.History = append(s.History, StatusChange{Status: status, At: now})
}

func (s *OrderSaga) close(status Status, now time.Time) {
	s.setStatus(status, now)
	closed := now
	s.ClosedAt = &closed
}
