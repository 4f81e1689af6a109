// Package capacity tracks how much of each production slot is promised to
// orders and guards every booking change behind a capacity check.
package capacity

import (
	"context"
	"errors"
	"fmt"

	"github.com/greenharbor/nursery-dispatch/core/logger"
)

// maxAttempts bounds optimistic-lock retries before the conflict is
// surfaced to the caller.
const maxAttempts = 3

// CapacityError reports a rejected booking with enough detail for the
// caller to correct input.
type CapacityError struct {
	SlotID    string
	Requested int
	Available int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("slot %s: requested %d exceeds available %d (short by %d)", e.SlotID, e.Requested, e.Available, e.Shortfall())
}

// Shortfall returns how many plants over capacity the request was.
func (e *CapacityError) Shortfall() int {
	return e.Requested - e.Available
}

// ExcludedBooking names an order whose existing contribution to the slot
// must be added back before comparing, so an order is never blocked by its
// own reservation. Batch edits exclude every order touched in the same
// transaction.
type ExcludedBooking struct {
	OrderID  string
	Quantity int
}

// Result is the outcome of a capacity check.
type Result struct {
	SlotID    string `json:"slot_id"`
	OK        bool   `json:"ok"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	// Adjusted is the available capacity after adding back excluded
	// bookings. Equals Available when nothing is excluded.
	Adjusted int `json:"adjusted"`
}

// Ledger performs capacity checks and booking commits against a Store.
type Ledger struct {
	store Store
	log   logger.Logger
}

// NewLedger creates a Ledger over the given store.
func NewLedger(store Store, log logger.Logger) *Ledger {
	return &Ledger{store: store, log: log}
}

// Store exposes the underlying slot store for seeding and reads.
func (l *Ledger) Store() Store { return l.store }

// Check computes whether requested plants fit into the slot. Contributions
// listed in excluding are added back to the available total first.
func (l *Ledger) Check(ctx context.Context, slotID string, requested int, excluding ...ExcludedBooking) (Result, error) {
	if requested < 0 {
		return Result{}, fmt.Errorf("slot %s: requested quantity must not be negative", slotID)
	}
	slot, err := l.store.Get(ctx, slotID)
	if err != nil {
		return Result{}, err
	}
	available := slot.Available()
	adjusted := available
	for _, ex := range excluding {
		if ex.Quantity < 0 {
			return Result{}, fmt.Errorf("slot %s: excluded booking %s has negative quantity", slotID, ex.OrderID)
		}
		adjusted += ex.Quantity
	}
	return Result{
		SlotID:    slotID,
		OK:        requested <= adjusted,
		Requested: requested,
		Available: available,
		Adjusted:  adjusted,
	}, nil
}

// Commit applies a booking delta to the slot. The check is re-run against
// the freshly read slot inside the same optimistic transaction, so a stale
// earlier Check can never oversell. Negative deltas release capacity when a
// slot assignment is dropped or reduced.
func (l *Ledger) Commit(ctx context.Context, slotID, orderID string, delta int) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		slot, err := l.store.Get(ctx, slotID)
		if err != nil {
			return err
		}
		booked := slot.TotalBookedPlants + delta
		if booked < 0 {
			return fmt.Errorf("slot %s: releasing %d would drop booked total below zero", slotID, -delta)
		}
		if booked > slot.TotalPlants {
			return &CapacityError{SlotID: slotID, Requested: delta, Available: slot.Available()}
		}
		slot.TotalBookedPlants = booked
		err = l.store.Update(ctx, slot)
		if err == nil {
			l.log.Debugw("slot booking committed", map[string]any{
				"slot_id": slotID, "order_id": orderID, "delta": delta, "booked": booked,
			})
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("slot %s: commit for order %s: %w", slotID, orderID, ErrConflict)
}

// Restock returns quantity plants to the slot's available capacity. This is
// the single path by which a booked total may decrease after dispatch, used
// when a completed order sends its unshipped remainder back to inventory.
func (l *Ledger) Restock(ctx context.Context, slotID, orderID string, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("slot %s: restock quantity must not be negative", slotID)
	}
	if quantity == 0 {
		return nil
	}
	return l.Commit(ctx, slotID, orderID, -quantity)
}
