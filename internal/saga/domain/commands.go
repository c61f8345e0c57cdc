package domain

import (
	"encoding/json"
	"fmt"
)

// CommandKind discriminates the outbound command union.
type CommandKind string

const (
	CommandOrderPlaced                 CommandKind = "order_placed"
	CommandReservationCommitRequested  CommandKind = "reservation_commit_requested"
	CommandReservationReleaseRequested CommandKind = "reservation_release_requested"
	CommandFulfillmentRequested        CommandKind = "fulfillment_requested"
	CommandRefundRequested             CommandKind = "refund_requested"
	CommandOrderCancelled              CommandKind = "order_cancelled"
	CommandOrderCompleted              CommandKind = "order_completed"
)

// Destination names the remote service a command is routed to.
type Destination string

const (
	DestinationPayments      Destination = "payments"
	DestinationInventory     Destination = "inventory"
	DestinationFulfillment   Destination = "fulfillment"
	DestinationNotifications Destination = "notifications"
)

// Command is an outbound command or event the saga decided to emit. Commands
// never leave the handler directly; they are enqueued on the outbox in the
// same transaction as the saga mutation that produced them.
type Command interface {
	CommandKind() CommandKind
	Order() string
	Destinations() []Destination
}

// OrderPlaced fans the accepted order out to payments and inventory.
type OrderPlaced struct {
	OrderID          string     `json:"order_id"`
	CustomerID       string     `json:"customer_id"`
	LineItems        []LineItem `json:"line_items"`
	TotalAmountCents int64      `json:"total_amount_cents"`
}

func (c OrderPlaced) CommandKind() CommandKind { return CommandOrderPlaced }
func (c OrderPlaced) Order() string            { return c.OrderID }
func (c OrderPlaced) Destinations() []Destination {
	return []Destination{DestinationPayments, DestinationInventory}
}

// ReservationCommitRequested asks inventory to turn holds into allocations.
type ReservationCommitRequested struct {
	OrderID        string   `json:"order_id"`
	ReservationIDs []string `json:"reservation_ids"`
}

func (c ReservationCommitRequested) CommandKind() CommandKind { return CommandReservationCommitRequested }
func (c ReservationCommitRequested) Order() string            { return c.OrderID }
func (c ReservationCommitRequested) Destinations() []Destination {
	return []Destination{DestinationInventory}
}

// ReservationReleaseRequested is the inventory compensation: give held stock back.
type ReservationReleaseRequested struct {
	OrderID        string   `json:"order_id"`
	ReservationIDs []string `json:"reservation_ids"`
}

func (c ReservationReleaseRequested) CommandKind() CommandKind {
	return CommandReservationReleaseRequested
}
func (c ReservationReleaseRequested) Order() string { return c.OrderID }
func (c ReservationReleaseRequested) Destinations() []Destination {
	return []Destination{DestinationInventory}
}

// FulfillmentRequested hands the committed order to fulfillment.
type FulfillmentRequested struct {
	OrderID              string            `json:"order_id"`
	LineItems            []LineItem        `json:"line_items"`
	CommittedAllocations map[string]string `json:"committed_allocations"`
	ShippingAddress      Address           `json:"shipping_address"`
}

func (c FulfillmentRequested) CommandKind() CommandKind { return CommandFulfillmentRequested }
func (c FulfillmentRequested) Order() string            { return c.OrderID }
func (c FulfillmentRequested) Destinations() []Destination {
	return []Destination{DestinationFulfillment}
}

// RefundRequested is the payment compensation. The amount is always bounded
// by the unrefunded remainder of the order total.
type RefundRequested struct {
	OrderID                  string `json:"order_id"`
	AmountCents              int64  `json:"amount_cents"`
	OriginalPaymentReference string `json:"original_payment_reference"`
}

func (c RefundRequested) CommandKind() CommandKind { return CommandRefundRequested }
func (c RefundRequested) Order() string            { return c.OrderID }
func (c RefundRequested) Destinations() []Destination {
	return []Destination{DestinationPayments}
}

// OrderCancelled announces the terminal cancelled outcome.
type OrderCancelled struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

func (c OrderCancelled) CommandKind() CommandKind { return CommandOrderCancelled }
func (c OrderCancelled) Order() string            { return c.OrderID }
func (c OrderCancelled) Destinations() []Destination {
	return []Destination{DestinationNotifications}
}

// OrderCompleted announces successful delivery of the order.
type OrderCompleted struct {
	OrderID string `json:"order_id"`
}

func (c OrderCompleted) CommandKind() CommandKind { return CommandOrderCompleted }
func (c OrderCompleted) Order() string            { return c.OrderID }
func (c OrderCompleted) Destinations() []Destination {
	return []Destination{DestinationNotifications}
}

// EncodeCommand marshals a command payload for the outbox.
func EncodeCommand(cmd Command) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.CommandKind(), err)
	}
	return payload, nil
}
