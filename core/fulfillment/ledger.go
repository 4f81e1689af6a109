// Package fulfillment keeps each order's shipment bookkeeping: booked,
// dispatched and returned quantities must reconcile at all times, and an
// order can never ship more than it has outstanding.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/greenharbor/nursery-dispatch/core/billing"
	"github.com/greenharbor/nursery-dispatch/core/logger"
	"github.com/greenharbor/nursery-dispatch/core/model"
)

const maxAttempts = 3

// QuantityError reports a rejected dispatch or return quantity.
type QuantityError struct {
	OrderID   string
	Requested int
	Remaining int
	Reason    string
}

func (e *QuantityError) Error() string {
	return fmt.Sprintf("order %s: %s (requested %d, remaining %d)", e.OrderID, e.Reason, e.Requested, e.Remaining)
}

// PaymentError reports a completion blocked by incomplete payment for
// already-dispatched plants.
type PaymentError struct {
	OrderID    string
	Dispatched int
	Rate       float64
	Paid       float64
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("order %s: paid %.2f does not cover dispatched value %.2f (%d plants at %.2f)",
		e.OrderID, e.Paid, e.Due(), e.Dispatched, e.Rate)
}

// Due returns the amount owed for dispatched plants.
func (e *PaymentError) Due() float64 {
	return float64(e.Dispatched) * e.Rate
}

// Restocker returns plants to a slot's available capacity. Satisfied by the
// capacity ledger.
type Restocker interface {
	Restock(ctx context.Context, slotID, orderID string, quantity int) error
}

// CompleteOptions control the side effects of CompleteOrder.
type CompleteOptions struct {
	// AddToInventory restocks the returned quantity into the order's slot.
	AddToInventory bool
	// MarkComplete transitions the order to DELIVERED.
	MarkComplete bool
}

// Summary describes an order after completion.
type Summary struct {
	OrderID    string            `json:"order_id"`
	Status     model.OrderStatus `json:"status"`
	Booked     int               `json:"booked"`
	Dispatched int               `json:"dispatched"`
	Returned   int               `json:"returned"`
	Remaining  int               `json:"remaining"`
	Reasons    []string          `json:"reasons,omitempty"`
	Restocked  bool              `json:"restocked"`
}

// Ledger mutates order fulfillment state against a Store.
type Ledger struct {
	store   Store
	billing billing.Reader
	restock Restocker
	log     logger.Logger
}

// NewLedger creates a Ledger. billing gates completions; restock may be nil
// when no slot capacity should ever be returned.
func NewLedger(store Store, bill billing.Reader, restock Restocker, log logger.Logger) *Ledger {
	return &Ledger{store: store, billing: bill, restock: restock, log: log}
}

// Store exposes the backing store for callers that need read access.
func (l *Ledger) Store() Store { return l.store }

// RecordDispatch appends a shipment of quantity plants to the order's
// history. The quantity must be positive and fit in the order's current
// remaining quantity; violations fail without touching the ledger.
func (l *Ledger) RecordDispatch(ctx context.Context, orderID string, quantity int, dispatchID string, at time.Time) (model.DispatchEvent, error) {
	if quantity <= 0 {
		return model.DispatchEvent{}, &QuantityError{OrderID: orderID, Requested: quantity, Reason: "dispatch quantity must be positive"}
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		order, err := l.store.Get(ctx, orderID)
		if err != nil {
			return model.DispatchEvent{}, err
		}
		if order.Status.Terminal() {
			return model.DispatchEvent{}, &QuantityError{OrderID: orderID, Requested: quantity, Remaining: order.RemainingQuantity(), Reason: fmt.Sprintf("order is %s", order.Status)}
		}
		remaining := order.RemainingQuantity()
		if quantity > remaining {
			return model.DispatchEvent{}, &QuantityError{OrderID: orderID, Requested: quantity, Remaining: remaining, Reason: "dispatch quantity exceeds remaining"}
		}
		ev := model.DispatchEvent{
			DispatchID:     dispatchID,
			Quantity:       quantity,
			Timestamp:      at,
			RemainingAfter: remaining - quantity,
		}
		order.History = append(order.History, ev)
		if order.Status != model.StatusDispatched {
			order.Status = model.StatusDispatched
		}
		err = l.store.Update(ctx, order)
		if err == nil {
			l.log.Debugw("dispatch recorded", map[string]any{
				"order_id": orderID, "dispatch_id": dispatchID, "quantity": quantity, "remaining": ev.RemainingAfter,
			})
			return ev, nil
		}
		if !errors.Is(err, ErrConflict) {
			return model.DispatchEvent{}, err
		}
	}
	return model.DispatchEvent{}, fmt.Errorf("order %s: record dispatch: %w", orderID, ErrConflict)
}

// RevertDispatch removes a previously appended dispatch event. It exists so
// a failed multi-order dispatch can roll back the orders it already
// touched; it is not a caller-facing operation.
func (l *Ledger) RevertDispatch(ctx context.Context, orderID, dispatchID string) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		order, err := l.store.Get(ctx, orderID)
		if err != nil {
			return err
		}
		idx := -1
		for i, ev := range order.History {
			if ev.DispatchID == dispatchID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("order %s: no event for dispatch %s", orderID, dispatchID)
		}
		order.History = append(order.History[:idx], order.History[idx+1:]...)
		if len(order.History) == 0 && order.Status == model.StatusDispatched {
			order.Status = model.StatusAccepted
		}
		err = l.store.Update(ctx, order)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("order %s: revert dispatch: %w", orderID, ErrConflict)
}

// AssignSlot points the order at a delivery slot and returns the previous
// assignment. Capacity accounting for the change is the caller's job.
func (l *Ledger) AssignSlot(ctx context.Context, orderID, slotID string) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		order, err := l.store.Get(ctx, orderID)
		if err != nil {
			return "", err
		}
		prev := order.SlotID
		if prev == slotID {
			return prev, nil
		}
		order.SlotID = slotID
		err = l.store.Update(ctx, order)
		if err == nil {
			return prev, nil
		}
		if !errors.Is(err, ErrConflict) {
			return "", err
		}
	}
	return "", fmt.Errorf("order %s: assign slot: %w", orderID, ErrConflict)
}

// CompleteOrder reconciles an order's unshipped remainder. The returned
// quantity is checked against the current remaining quantity, payment must
// cover the dispatched value, and the optional restock returns the quantity
// to the order's slot.
func (l *Ledger) CompleteOrder(ctx context.Context, orderID string, returned int, reasons []string, opts CompleteOptions) (Summary, error) {
	if returned < 0 {
		return Summary{}, &QuantityError{OrderID: orderID, Requested: returned, Reason: "returned quantity must not be negative"}
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		order, err := l.store.Get(ctx, orderID)
		if err != nil {
			return Summary{}, err
		}
		if order.Status.Terminal() {
			return Summary{}, &QuantityError{OrderID: orderID, Requested: returned, Remaining: order.RemainingQuantity(), Reason: fmt.Sprintf("order is %s", order.Status)}
		}
		remaining := order.RemainingQuantity()
		if returned > remaining {
			return Summary{}, &QuantityError{OrderID: orderID, Requested: returned, Remaining: remaining, Reason: "returned quantity exceeds remaining"}
		}

		dispatched := order.DispatchedQuantity()
		paid, err := l.billing.PaidAmount(ctx, orderID)
		if err != nil {
			return Summary{}, fmt.Errorf("order %s: billing lookup: %w", orderID, err)
		}
		if due := float64(dispatched) * order.Rate; paid < due {
			return Summary{}, &PaymentError{OrderID: orderID, Dispatched: dispatched, Rate: order.Rate, Paid: paid}
		}

		order.ReturnedQuantity += returned
		if opts.MarkComplete {
			order.Status = model.StatusDelivered
		}
		err = l.store.Update(ctx, order)
		if err == nil {
			restocked := false
			if opts.AddToInventory && returned > 0 && order.SlotID != "" && l.restock != nil {
				if rerr := l.restock.Restock(ctx, order.SlotID, orderID, returned); rerr != nil {
					l.log.Errorf("restock slot %s for order %s: %v", order.SlotID, orderID, rerr)
				} else {
					restocked = true
				}
			}
			return Summary{
				OrderID:    orderID,
				Status:     order.Status,
				Booked:     order.BookedQuantity,
				Dispatched: dispatched,
				Returned:   order.ReturnedQuantity,
				Remaining:  order.RemainingQuantity(),
				Reasons:    reasons,
				Restocked:  restocked,
			}, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Summary{}, err
		}
	}
	return Summary{}, fmt.Errorf("order %s: complete: %w", orderID, ErrConflict)
}
