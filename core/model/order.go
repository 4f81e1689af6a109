package model

import (
	"fmt"
	"time"
)

// OrderStatus tracks an order through its fulfillment lifecycle.
type OrderStatus int

const (
	StatusAccepted OrderStatus = iota
	StatusFarmReady
	StatusDispatched
	StatusDelivered
	StatusCancelled
)

// String returns a human-readable representation of the status.
func (s OrderStatus) String() string {
	switch s {
	case StatusAccepted:
		return "ACCEPTED"
	case StatusFarmReady:
		return "FARM_READY"
	case StatusDispatched:
		return "DISPATCHED"
	case StatusDelivered:
		return "DELIVERED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status permits no further mutation.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// DispatchEvent is an immutable record appended to an order's history each
// time part of it ships.
type DispatchEvent struct {
	DispatchID     string    `json:"dispatch_id"`
	Quantity       int       `json:"quantity"`
	Timestamp      time.Time `json:"timestamp"`
	RemainingAfter int       `json:"remaining_after"`
}

// Order is a customer commitment for a quantity of one plant subtype.
// Dispatched and remaining quantities are derived from the event history so
// the booked total always reconciles.
type Order struct {
	ID               string          `json:"id"`
	Subtype          SubtypeKey      `json:"subtype"`
	BookedQuantity   int             `json:"booked_quantity"`
	Rate             float64         `json:"rate"` // unit price
	SlotID           string          `json:"slot_id,omitempty"`
	Status           OrderStatus     `json:"status"`
	ReturnedQuantity int             `json:"returned_quantity"`
	History          []DispatchEvent `json:"history,omitempty"`

	// Version supports optimistic concurrency control on ledger updates.
	Version int64 `json:"version"`
}

// DispatchedQuantity sums the quantities of all dispatch events.
func (o Order) DispatchedQuantity() int {
	total := 0
	for _, ev := range o.History {
		total += ev.Quantity
	}
	return total
}

// RemainingQuantity returns the quantity still outstanding.
func (o Order) RemainingQuantity() int {
	return o.BookedQuantity - o.DispatchedQuantity() - o.ReturnedQuantity
}

// Validate checks the order invariants.
func (o Order) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("order id is required")
	}
	if o.BookedQuantity < 0 {
		return fmt.Errorf("order %s: booked quantity must not be negative", o.ID)
	}
	if o.ReturnedQuantity < 0 {
		return fmt.Errorf("order %s: returned quantity must not be negative", o.ID)
	}
	if r := o.RemainingQuantity(); r < 0 || r > o.BookedQuantity {
		return fmt.Errorf("order %s: remaining %d out of range [0,%d]", o.ID, r, o.BookedQuantity)
	}
	return nil
}

// Clone returns a deep copy safe to mutate independently.
func (o Order) Clone() Order {
	cp := o
	cp.History = append([]DispatchEvent(nil), o.History...)
	return cp
}
