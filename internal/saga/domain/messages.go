package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageKind discriminates the inbound message union. Every asynchronous
// response the orchestrator reacts to is one of these kinds; dispatch is a
// table lookup, never reflection over handler names.
type MessageKind string

const (
	KindPlacementRequested     MessageKind = "placement_requested"
	KindPaymentAuthorized      MessageKind = "payment_authorized"
	KindPaymentCaptured        MessageKind = "payment_captured"
	KindPaymentFailed          MessageKind = "payment_failed"
	KindReservationConfirmed   MessageKind = "reservation_confirmed"
	KindReservationFailed      MessageKind = "reservation_failed"
	KindReservationCommitted   MessageKind = "reservation_committed"
	KindReservationReleased    MessageKind = "reservation_released"
	KindShipmentDispatched     MessageKind = "shipment_dispatched"
	KindShipmentDelivered      MessageKind = "shipment_delivered"
	KindShipmentDeliveryFailed MessageKind = "shipment_delivery_failed"
	KindCancelRequested        MessageKind = "cancel_requested"
	KindReturnApproved         MessageKind = "return_approved"
	KindReturnCompleted        MessageKind = "return_completed"
	KindReturnRejected         MessageKind = "return_rejected"
)

// Message is an inbound message addressed to one order saga.
type Message interface {
	Kind() MessageKind
	Order() string
}

// PaymentAuthorized reports a two-phase authorization hold from payments.
type PaymentAuthorized struct {
	OrderID          string `json:"order_id"`
	PaymentReference string `json:"payment_reference"`
	AmountCents      int64  `json:"amount_cents"`
}

func (m PaymentAuthorized) Kind() MessageKind { return KindPaymentAuthorized }
func (m PaymentAuthorized) Order() string     { return m.OrderID }

// PaymentCaptured reports funds captured for the order.
type PaymentCaptured struct {
	OrderID          string `json:"order_id"`
	PaymentReference string `json:"payment_reference"`
	AmountCents      int64  `json:"amount_cents"`
}

func (m PaymentCaptured) Kind() MessageKind { return KindPaymentCaptured }
func (m PaymentCaptured) Order() string     { return m.OrderID }

// PaymentFailed reports a declined or errored payment attempt.
type PaymentFailed struct {
	OrderID   string `json:"order_id"`
	Reason    string `json:"reason"`
	Retriable bool   `json:"retriable"`
}

func (m PaymentFailed) Kind() MessageKind { return KindPaymentFailed }
func (m PaymentFailed) Order() string     { return m.OrderID }

// ReservationConfirmed reports stock held for one SKU of the order.
type ReservationConfirmed struct {
	OrderID       string `json:"order_id"`
	SKU           string `json:"sku"`
	ReservationID string `json:"reservation_id"`
}

func (m ReservationConfirmed) Kind() MessageKind { return KindReservationConfirmed }
func (m ReservationConfirmed) Order() string     { return m.OrderID }

// ReservationFailed reports that stock could not be held for one SKU.
type ReservationFailed struct {
	OrderID string `json:"order_id"`
	SKU     string `json:"sku"`
	Reason  string `json:"reason"`
}

func (m ReservationFailed) Kind() MessageKind { return KindReservationFailed }
func (m ReservationFailed) Order() string     { return m.OrderID }

// ReservationCommitted confirms the reserved stock was committed to the order.
type ReservationCommitted struct {
	OrderID string `json:"order_id"`
}

func (m ReservationCommitted) Kind() MessageKind { return KindReservationCommitted }
func (m ReservationCommitted) Order() string     { return m.OrderID }

// ReservationReleased confirms one reservation was released back to stock.
type ReservationReleased struct {
	OrderID       string `json:"order_id"`
	SKU           string `json:"sku"`
	ReservationID string `json:"reservation_id"`
}

func (m ReservationReleased) Kind() MessageKind { return KindReservationReleased }
func (m ReservationReleased) Order() string     { return m.OrderID }

// ShipmentDispatched reports the parcel left the warehouse.
type ShipmentDispatched struct {
	OrderID        string    `json:"order_id"`
	TrackingNumber string    `json:"tracking_number"`
	At             time.Time `json:"at"`
}

func (m ShipmentDispatched) Kind() MessageKind { return KindShipmentDispatched }
func (m ShipmentDispatched) Order() string     { return m.OrderID }

// ShipmentDelivered reports successful delivery to the customer.
type ShipmentDelivered struct {
	OrderID string    `json:"order_id"`
	At      time.Time `json:"at"`
}

func (m ShipmentDelivered) Kind() MessageKind { return KindShipmentDelivered }
func (m ShipmentDelivered) Order() string     { return m.OrderID }

// ShipmentDeliveryFailed reports a failed delivery attempt. Shipped orders
// are financially and logistically committed, so this never rolls the saga
// back; the failure is recorded for the carrier to retry.
type ShipmentDeliveryFailed struct {
	OrderID string    `json:"order_id"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

func (m ShipmentDeliveryFailed) Kind() MessageKind { return KindShipmentDeliveryFailed }
func (m ShipmentDeliveryFailed) Order() string     { return m.OrderID }

// CancelRequested asks the saga to cancel the order. It is an ordinary
// message, honored only if the saga is still in a cancellable state when it
// is dequeued.
type CancelRequested struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

func (m CancelRequested) Kind() MessageKind { return KindCancelRequested }
func (m CancelRequested) Order() string     { return m.OrderID }

// ReturnApproved opens the return branch for a delivered order.
type ReturnApproved struct {
	OrderID string `json:"order_id"`
}

func (m ReturnApproved) Kind() MessageKind { return KindReturnApproved }
func (m ReturnApproved) Order() string     { return m.OrderID }

// ReturnCompleted reports the returned goods were received. The requested
// refund is honored up to the unrefunded remainder of the order total.
type ReturnCompleted struct {
	OrderID              string `json:"order_id"`
	Restockable          bool   `json:"restockable"`
	RefundRequestedCents int64  `json:"refund_requested_cents"`
}

func (m ReturnCompleted) Kind() MessageKind { return KindReturnCompleted }
func (m ReturnCompleted) Order() string     { return m.OrderID }

// ReturnRejected reports the return was declined; the order stays delivered.
type ReturnRejected struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

func (m ReturnRejected) Kind() MessageKind { return KindReturnRejected }
func (m ReturnRejected) Order() string     { return m.OrderID }

// DecodeMessage unmarshals a message payload into its concrete type based on
// the envelope kind. PlacementRequested payloads decode into PlacementRequest
// via DecodePlacementRequest since placement is not an ordinary transition.
func DecodeMessage(kind MessageKind, payload []byte) (Message, error) {
	var msg Message
	var err error

	switch kind {
	case KindPaymentAuthorized:
		var m PaymentAuthorized
		err = json.Unmarshal(payload, &m)
		msg = m
	case KindPaymentCaptured:
		var m PaymentCaptured
		err = json.Unmarshal(payload, &m)
		msg = m
	case KindPaymentFailed:
		var m PaymentFailed
		err = json.Unmarshal(payload, &m)
		msg = m
	case KindReservationConfirmed:
		var m ReservationConfirmed
		err = json.Unmarshal(payload, &m)
		msg = m
	case KindReservationFailed:
		var m ReservationFailed
		err = json.Unmarshal(payload, &m)
		msg = m
	case KindReservationCommitted:
		var m ReservationCommitted
		err = json.Unmarshal(payload, &m)
		msg = m
	case KindReservationReleased:
		var m ReservationReleased
		err = json.Unmarshal(payload, &m)
		msg = m
	case KindShipmentDispatched:
		var m ShipmentDispatched
		err = json.Unmarshal(payload, &m)
		msg = m
	case KindShipmentDelivered:
		var m ShipmentDelivered
		err = json.Unmarshal(payload, &m)
		msg = m
	case KindShipmentDeliveryFailed:
		var m ShipmentDeliveryFailed
		err = json.Unmarshal(payload, &m)
		msg = m
	case KindCancelRequested:
		var m CancelRequested
		err = json.Unmarshal(payload, &m)
		msg = m
	case KindReturnApproved:
		var m ReturnApproved
		err = json.Unmarshal(payload, &m)
		msg = m
	case KindReturnCompleted:
		var m ReturnCompleted
		err = json.Unmarshal(payload, &m)
		msg = m
	case KindReturnRejected:
		var m ReturnRejected
		err = json.Unmarshal(payload, &m)
		msg = m
	default:
		return nil, fmt.Errorf("unknown message kind %q", kind)
	}

	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return msg, nil
}

// DecodePlacementRequest unmarshals a placement request payload.
func DecodePlacementRequest(payload []byte) (PlacementRequest, error) {
	var req PlacementRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return PlacementRequest{}, fmt.Errorf("decode placement request: %w", err)
	}
	return req, nil
}
