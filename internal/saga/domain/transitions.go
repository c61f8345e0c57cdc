package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInconsistentMessage marks a message that arrived for a state that cannot
// accept it. The orchestrator logs and discards such messages; out-of-order
// or duplicate delivery must never corrupt saga state.
var ErrInconsistentMessage = errors.New("message inconsistent with saga state")

// accepts is the explicit transition table: for each inbound message kind,
// the set of statuses that may process it. A (status, kind) pair absent from
// the table is an inconsistent message, not a runtime convention.
var accepts = map[MessageKind][]Status{
	KindPaymentAuthorized:      {StatusPlaced, StatusInventoryReserved},
	KindPaymentCaptured:        {StatusPlaced, StatusPendingPayment, StatusInventoryReserved},
	KindPaymentFailed:          {StatusPlaced, StatusPendingPayment, StatusInventoryReserved},
	KindReservationConfirmed:   {StatusPlaced, StatusPendingPayment, StatusPaymentConfirmed},
	KindReservationFailed:      {StatusPlaced, StatusPendingPayment, StatusPaymentConfirmed},
	KindReservationCommitted:   {StatusPaymentConfirmed, StatusInventoryReserved},
	KindReservationReleased:    {StatusPaymentFailed, StatusOnHold, StatusCancelled},
	KindShipmentDispatched:     {StatusFulfilling},
	KindShipmentDelivered:      {StatusShipped},
	KindShipmentDeliveryFailed: {StatusShipped},
	KindCancelRequested:        cancellableStatuses,
	KindReturnApproved:         {StatusDelivered},
	KindReturnCompleted:        {StatusReturnRequested},
	KindReturnRejected:         {StatusReturnRequested},
}

// cancellableStatuses are the states from which a cancel request is honored.
// PaymentFailed and InventoryFailed are failure parking states whose
// compensations have already been issued; cancelling from them finalizes the
// order. Anything at or past Fulfilling is committed and cannot be cancelled.
var cancellableStatuses = []Status{
	StatusPlaced,
	StatusPendingPayment,
	StatusOnHold,
	StatusPaymentFailed,
	StatusInventoryFailed,
}

// Accepts reports whether the saga's current status can process the kind.
func (s *OrderSaga) Accepts(kind MessageKind) bool {
	for _, st := range accepts[kind] {
		if s.Status == st {
			return true
		}
	}
	return false
}

// Apply advances the saga with one inbound message, returning the follow-on
// commands to enqueue in the same transaction as the state change. Payment
// and inventory responses arrive in either order; each handler checks the
// other branch's recorded state before deciding the next step, so the fan-in
// is order-independent. Apply returns ErrInconsistentMessage (wrapped) for
// messages the current state cannot accept.
func (s *OrderSaga) Apply(msg Message, now time.Time) ([]Command, error) {
	if !s.Accepts(msg.Kind()) {
		return nil, fmt.Errorf("%w: %s in status %s", ErrInconsistentMessage, msg.Kind(), s.Status)
	}

	switch m := msg.(type) {
	case PaymentAuthorized:
		return s.applyPaymentAuthorized(m, now)
	case PaymentCaptured:
		return s.applyPaymentCaptured(m, now)
	case PaymentFailed:
		return s.applyPaymentFailed(m, now)
	case ReservationConfirmed:
		return s.applyReservationConfirmed(m, now)
	case ReservationFailed:
		return s.applyReservationFailed(m, now)
	case ReservationCommitted:
		return s.applyReservationCommitted(m, now)
	case ReservationReleased:
		return s.applyReservationReleased(m, now)
	case ShipmentDispatched:
		return s.applyShipmentDispatched(m, now)
	case ShipmentDelivered:
		return s.applyShipmentDelivered(m, now)
	case ShipmentDeliveryFailed:
		return s.applyShipmentDeliveryFailed(m, now)
	case CancelRequested:
		return s.applyCancelRequested(m, now)
	case ReturnApproved:
		return s.applyReturnApproved(m, now)
	case ReturnCompleted:
		return s.applyReturnCompleted(m, now)
	case ReturnRejected:
		return s.applyReturnRejected(m, now)
	default:
		return nil, fmt.Errorf("%w: unhandled message kind %s", ErrInconsistentMessage, msg.Kind())
	}
}

func (s *OrderSaga) applyPaymentAuthorized(m PaymentAuthorized, now time.Time) ([]Command, error) {
	if s.PaymentState != PaymentStateNone {
		return nil, fmt.Errorf("%w: payment already %s", ErrInconsistentMessage, s.PaymentState)
	}
	s.PaymentState = PaymentStateAuthorized
	s.PaymentReference = m.PaymentReference
	s.setStatus(StatusPendingPayment, now)
	return nil, nil
}

func (s *OrderSaga) applyPaymentCaptured(m PaymentCaptured, now time.Time) ([]Command, error) {
	if s.PaymentState == PaymentStateCaptured {
		// Duplicate capture with a fresh message ID; applying it again would
		// double-count, so treat it as inconsistent and let the caller discard.
		return nil, fmt.Errorf("%w: payment already captured", ErrInconsistentMessage)
	}
	if s.PaymentState == PaymentStateRejected {
		return nil, fmt.Errorf("%w: payment previously failed", ErrInconsistentMessage)
	}

	s.PaymentState = PaymentStateCaptured
	s.PaymentReference = m.PaymentReference
	s.setStatus(StatusPaymentConfirmed, now)

	var cmds []Command
	if s.InventoryState == InventoryReserved {
		cmds = append(cmds, ReservationCommitRequested{
			OrderID:        s.OrderID,
			ReservationIDs: s.reservationIDList(),
		})
		s.InventoryState = InventoryCommitRequested
	}
	return cmds, nil
}

func (s *OrderSaga) applyPaymentFailed(m PaymentFailed, now time.Time) ([]Command, error) {
	if s.PaymentState == PaymentStateCaptured {
		return nil, fmt.Errorf("%w: payment already captured", ErrInconsistentMessage)
	}

	s.PaymentState = PaymentStateRejected
	s.PaymentRetriable = m.Retriable
	s.FailureReason = m.Reason

	var cmds []Command
	switch {
	case len(s.ReservationIDs) > 0 && s.InventoryState != InventoryReleaseRequested && s.InventoryState != InventoryReleased:
		// Exactly one release for whatever is held, full or partial.
		cmds = append(cmds, ReservationReleaseRequested{
			OrderID:        s.OrderID,
			ReservationIDs: s.reservationIDList(),
		})
		s.InventoryState = InventoryReleaseRequested
		s.setStatus(StatusPaymentFailed, now)
	case m.Retriable:
		s.setStatus(StatusPaymentFailed, now)
	default:
		// Nothing held and no retry coming: the order is finished.
		s.close(StatusCancelled, now)
		cmds = append(cmds, OrderCancelled{OrderID: s.OrderID, Reason: m.Reason})
	}
	return cmds, nil
}

func (s *OrderSaga) applyReservationConfirmed(m ReservationConfirmed, now time.Time) ([]Command, error) {
	if !s.hasLineItem(m.SKU) {
		return nil, fmt.Errorf("%w: unknown sku %s", ErrInconsistentMessage, m.SKU)
	}
	if existing, ok := s.ReservationIDs[m.SKU]; ok {
		if existing == m.ReservationID {
			return nil, nil // duplicate confirmation, already recorded
		}
		// A second, different reservation for the same SKU would violate the
		// at-most-one-active-reservation invariant.
		return nil, fmt.Errorf("%w: sku %s already reserved as %s", ErrInconsistentMessage, m.SKU, existing)
	}

	s.ReservationIDs[m.SKU] = m.ReservationID
	s.InventoryState = InventoryPartial
	s.UpdatedAt = now

	if !s.allReserved() {
		return nil, nil
	}

	s.InventoryState = InventoryReserved
	s.setStatus(StatusInventoryReserved, now)

	var cmds []Command
	if s.PaymentState == PaymentStateCaptured {
		cmds = append(cmds, ReservationCommitRequested{
			OrderID:        s.OrderID,
			ReservationIDs: s.reservationIDList(),
		})
		s.InventoryState = InventoryCommitRequested
	}
	return cmds, nil
}

func (s *OrderSaga) applyReservationFailed(m ReservationFailed, now time.Time) ([]Command, error) {
	s.InventoryState = InventoryRejected
	s.FailureReason = m.Reason

	var cmds []Command
	if s.PaymentState == PaymentStateCaptured && s.RefundableCents() > 0 {
		amount := s.RefundableCents()
		cmds = append(cmds, RefundRequested{
			OrderID:                  s.OrderID,
			AmountCents:              amount,
			OriginalPaymentReference: s.PaymentReference,
		})
		s.RefundedCents += amount
	}

	if len(s.ReservationIDs) > 0 {
		// Partial holds remain; never released automatically, an operator
		// decides what happens to them.
		s.HoldReason = fmt.Sprintf("reservation failed for %s: %s", m.SKU, m.Reason)
		s.setStatus(StatusOnHold, now)
	} else {
		s.setStatus(StatusInventoryFailed, now)
	}
	return cmds, nil
}

func (s *OrderSaga) applyReservationCommitted(_ ReservationCommitted, now time.Time) ([]Command, error) {
	if s.InventoryState != InventoryCommitRequested && s.InventoryState != InventoryReserved {
		return nil, fmt.Errorf("%w: no commit outstanding", ErrInconsistentMessage)
	}

	s.InventoryState = InventoryCommitted
	s.setStatus(StatusInventoryCommitted, now)

	var cmds []Command
	if s.PaymentState == PaymentStateCaptured {
		cmds = append(cmds, FulfillmentRequested{
			OrderID:              s.OrderID,
			LineItems:            s.LineItems,
			CommittedAllocations: s.ReservationIDs,
			ShippingAddress:      s.ShippingAddress,
		})
		s.setStatus(StatusFulfilling, now)
	}
	return cmds, nil
}

func (s *OrderSaga) applyReservationReleased(m ReservationReleased, now time.Time) ([]Command, error) {
	if existing, ok := s.ReservationIDs[m.SKU]; !ok || existing != m.ReservationID {
		return nil, fmt.Errorf("%w: no reservation %s held for sku %s", ErrInconsistentMessage, m.ReservationID, m.SKU)
	}

	delete(s.ReservationIDs, m.SKU)
	s.UpdatedAt = now

	if len(s.ReservationIDs) > 0 {
		return nil, nil
	}

	s.InventoryState = InventoryReleased

	var cmds []Command
	if s.Status == StatusPaymentFailed && !s.PaymentRetriable {
		s.close(StatusCancelled, now)
		cmds = append(cmds, OrderCancelled{OrderID: s.OrderID, Reason: s.FailureReason})
	}
	return cmds, nil
}

func (s *OrderSaga) applyShipmentDispatched(m ShipmentDispatched, now time.Time) ([]Command, error) {
	s.TrackingNumber = m.TrackingNumber
	s.setStatus(StatusShipped, now)
	return nil, nil
}

func (s *OrderSaga) applyShipmentDelivered(_ ShipmentDelivered, now time.Time) ([]Command, error) {
	s.setStatus(StatusDelivered, now)
	return []Command{OrderCompleted{OrderID: s.OrderID}}, nil
}

func (s *OrderSaga) applyShipmentDeliveryFailed(m ShipmentDeliveryFailed, now time.Time) ([]Command, error) {
	// Past Shipped there is no rolling back; record the attempt and wait for
	// the carrier to try again.
	s.FailureReason = m.Reason
	s.UpdatedAt = now
	return nil, nil
}

func (s *OrderSaga) applyCancelRequested(m CancelRequested, now time.Time) ([]Command, error) {
	var cmds []Command

	if len(s.ReservationIDs) > 0 && s.InventoryState != InventoryReleaseRequested && s.InventoryState != InventoryReleased {
		cmds = append(cmds, ReservationReleaseRequested{
			OrderID:        s.OrderID,
			ReservationIDs: s.reservationIDList(),
		})
		s.InventoryState = InventoryReleaseRequested
	}

	if s.PaymentState == PaymentStateCaptured && s.RefundableCents() > 0 {
		amount := s.RefundableCents()
		cmds = append(cmds, RefundRequested{
			OrderID:                  s.OrderID,
			AmountCents:              amount,
			OriginalPaymentReference: s.PaymentReference,
		})
		s.RefundedCents += amount
	}

	s.close(StatusCancelled, now)
	cmds = append(cmds, OrderCancelled{OrderID: s.OrderID, Reason: m.Reason})
	return cmds, nil
}

func (s *OrderSaga) applyReturnApproved(_ ReturnApproved, now time.Time) ([]Command, error) {
	s.setStatus(StatusReturnRequested, now)
	return nil, nil
}

func (s *OrderSaga) applyReturnCompleted(m ReturnCompleted, now time.Time) ([]Command, error) {
	var cmds []Command

	amount := m.RefundRequestedCents
	if remaining := s.RefundableCents(); amount > remaining {
		amount = remaining
	}
	if amount > 0 {
		cmds = append(cmds, RefundRequested{
			OrderID:                  s.OrderID,
			AmountCents:              amount,
			OriginalPaymentReference: s.PaymentReference,
		})
		s.RefundedCents += amount
	}

	s.close(StatusClosed, now)
	return cmds, nil
}

func (s *OrderSaga) applyReturnRejected(_ ReturnRejected, now time.Time) ([]Command, error) {
	s.setStatus(StatusDelivered, now)
	return nil, nil
}
