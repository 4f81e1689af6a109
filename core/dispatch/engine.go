// Package dispatch orchestrates dispatch creation: it validates requested
// quantities, runs capacity checks for slot changes, packs crate manifests
// and commits the fulfillment and capacity ledgers as one all-or-nothing
// operation.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/greenharbor/nursery-dispatch/core/capacity"
	"github.com/greenharbor/nursery-dispatch/core/events"
	"github.com/greenharbor/nursery-dispatch/core/dispatch/journal"
	"github.com/greenharbor/nursery-dispatch/core/fulfillment"
	"github.com/greenharbor/nursery-dispatch/core/logger"
	"github.com/greenharbor/nursery-dispatch/core/metrics"
	"github.com/greenharbor/nursery-dispatch/core/model"
	"github.com/greenharbor/nursery-dispatch/core/notify"
	"github.com/greenharbor/nursery-dispatch/core/packing"
	"github.com/greenharbor/nursery-dispatch/internal/eventbus"
)

// OrderRequest names one order's share of a dispatch. Quantity is
// mandatory; there is no derive-from-total fallback. CavitySplit assigns
// sub-quantities to cavity types and must sum to Quantity.
type OrderRequest struct {
	OrderID     string         `json:"order_id"`
	Quantity    int            `json:"quantity"`
	CavitySplit map[string]int `json:"cavity_split"`
}

// SlotChange assigns or confirms an order's delivery slot as part of a
// dispatch.
type SlotChange struct {
	OrderID string `json:"order_id"`
	SlotID  string `json:"slot_id"`
}

// Request describes one dispatch creation call. The idempotency key makes
// retried requests replay-safe: a key seen before returns the originally
// created dispatch without touching any ledger.
type Request struct {
	IdempotencyKey string         `json:"idempotency_key"`
	Driver         string         `json:"driver"`
	Vehicle        string         `json:"vehicle"`
	Orders         []OrderRequest `json:"orders"`
	SlotChanges    []SlotChange   `json:"slot_changes,omitempty"`
}

// Engine is the dispatch allocation engine.
type Engine struct {
	slots    *capacity.Ledger
	orders   *fulfillment.Ledger
	table    model.CavityTable
	journal  journal.Store
	idem     IdempotencyIndex
	bus      *eventbus.Bus[any]
	notifier notify.Notifier
	sink     metrics.MetricsSink
	log      logger.Logger

	// mu serializes the validate-and-commit phase so concurrent requests
	// against the same slots and orders cannot interleave partial writes.
	mu sync.Mutex
}

// NewEngine creates an Engine. journal, bus, notifier and sink may be nil.
func NewEngine(slots *capacity.Ledger, orders *fulfillment.Ledger, table model.CavityTable, jstore journal.Store, idem IdempotencyIndex, bus *eventbus.Bus[any], notifier notify.Notifier, sink metrics.MetricsSink, log logger.Logger) (*Engine, error) {
	if slots == nil || orders == nil || log == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewEngine")
	}
	if idem == nil {
		idem = NewMemoryIdempotencyIndex()
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Engine{
		slots:    slots,
		orders:   orders,
		table:    table,
		journal:  jstore,
		idem:     idem,
		bus:      bus,
		notifier: notifier,
		sink:     sink,
		log:      log,
	}, nil
}

// CreateDispatch validates and commits one dispatch. Every step can fail
// independently; a failure rolls back all ledger writes already applied for
// this call, so slot and order state stay unchanged.
func (e *Engine) CreateDispatch(ctx context.Context, req Request) (model.Dispatch, error) {
	if req.IdempotencyKey == "" {
		dispatchesCreated.WithLabelValues("invalid").Inc()
		return model.Dispatch{}, ErrMissingIdempotencyKey
	}
	if len(req.Orders) == 0 {
		dispatchesCreated.WithLabelValues("invalid").Inc()
		return model.Dispatch{}, ErrEmptyRequest
	}
	if err := e.validateStatic(req); err != nil {
		dispatchesCreated.WithLabelValues("invalid").Inc()
		return model.Dispatch{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if prior, ok, err := e.idem.Lookup(ctx, req.IdempotencyKey); err != nil {
		return model.Dispatch{}, fmt.Errorf("idempotency lookup: %w", err)
	} else if ok {
		e.log.Infof("dispatch request %s replayed as %s", req.IdempotencyKey, prior.ID)
		dispatchesCreated.WithLabelValues("replayed").Inc()
		return prior, nil
	}

	now := time.Now().UTC()
	d := model.Dispatch{
		ID:        uuid.NewString(),
		Driver:    req.Driver,
		Vehicle:   req.Vehicle,
		CreatedAt: now,
	}

	// Step 1: re-validate dispatch quantities against current order state.
	// Client-submitted numbers are advisory only.
	loaded := make(map[string]model.Order, len(req.Orders))
	for _, or := range req.Orders {
		order, err := e.orders.Store().Get(ctx, or.OrderID)
		if err != nil {
			dispatchesCreated.WithLabelValues("invalid").Inc()
			return model.Dispatch{}, err
		}
		if remaining := order.RemainingQuantity(); or.Quantity > remaining {
			dispatchesCreated.WithLabelValues("invalid").Inc()
			return model.Dispatch{}, &fulfillment.QuantityError{
				OrderID: or.OrderID, Requested: or.Quantity, Remaining: remaining,
				Reason: "dispatch quantity exceeds remaining",
			}
		}
		loaded[or.OrderID] = order
	}

	// Step 2: capacity checks for slot changes, excluding the current
	// contributions of every order modified in this same request.
	if err := e.checkSlotChanges(ctx, req, loaded, now); err != nil {
		return model.Dispatch{}, err
	}

	// Step 3: pack crate manifests per (order, cavity) pairing.
	for _, or := range req.Orders {
		groups, err := packing.PackSplit(or.CavitySplit, e.table)
		if err != nil {
			dispatchesCreated.WithLabelValues("invalid").Inc()
			return model.Dispatch{}, fmt.Errorf("order %s: %w", or.OrderID, err)
		}
		packed := 0
		for _, g := range groups {
			if err := g.Verify(g.PlantCount); err != nil {
				dispatchesCreated.WithLabelValues("internal_error").Inc()
				e.log.Errorf("packing invariant violated for order %s: %v", or.OrderID, err)
				return model.Dispatch{}, &PackingError{OrderID: or.OrderID, CavityID: g.CavityID, Want: or.Quantity, Got: g.PlantCount}
			}
			packed += g.PlantCount
		}
		if packed != or.Quantity {
			dispatchesCreated.WithLabelValues("internal_error").Inc()
			e.log.Errorf("packing mismatch for order %s: packed %d of %d", or.OrderID, packed, or.Quantity)
			return model.Dispatch{}, &PackingError{OrderID: or.OrderID, Want: or.Quantity, Got: packed}
		}
		d.Manifest = append(d.Manifest, groups...)
	}

	// Step 4: commit, with rollback of everything applied so far on any
	// failure.
	if err := e.commit(ctx, req, &d, now); err != nil {
		return model.Dispatch{}, err
	}

	dispatchesCreated.WithLabelValues("created").Inc()
	plantsDispatched.Add(float64(d.TotalPlants()))
	cratesPerDispatch.Observe(float64(crateCount(d.Manifest)))
	e.publishCreated(ctx, d, now)
	return d, nil
}

// validateStatic checks request shape without touching any store.
func (e *Engine) validateStatic(req Request) error {
	seen := make(map[string]bool, len(req.Orders))
	for _, or := range req.Orders {
		if or.OrderID == "" {
			return fmt.Errorf("order id is required")
		}
		if seen[or.OrderID] {
			return fmt.Errorf("order %s listed twice", or.OrderID)
		}
		seen[or.OrderID] = true
		if or.Quantity <= 0 {
			return &fulfillment.QuantityError{OrderID: or.OrderID, Requested: or.Quantity, Reason: "dispatch quantity must be positive"}
		}
		if len(or.CavitySplit) == 0 {
			return fmt.Errorf("order %s: cavity split is required", or.OrderID)
		}
		sum := 0
		for id, q := range or.CavitySplit {
			if q < 0 {
				return fmt.Errorf("order %s: cavity %s has negative quantity", or.OrderID, id)
			}
			if _, ok := e.table.Lookup(id); !ok {
				return fmt.Errorf("order %s: %w %s", or.OrderID, ErrUnknownCavity, id)
			}
			sum += q
		}
		if sum != or.Quantity {
			return &SplitError{OrderID: or.OrderID, Quantity: or.Quantity, SplitSum: sum}
		}
	}
	for _, sc := range req.SlotChanges {
		if !seen[sc.OrderID] {
			return fmt.Errorf("slot change for order %s not part of this dispatch", sc.OrderID)
		}
		if sc.SlotID == "" {
			return fmt.Errorf("order %s: slot id is required for a slot change", sc.OrderID)
		}
	}
	return nil
}

// checkSlotChanges verifies capacity per target slot. The contribution of
// every order in the batch currently assigned to the target slot is added
// back, so no order is blocked by a reservation this same call is moving.
func (e *Engine) checkSlotChanges(ctx context.Context, req Request, loaded map[string]model.Order, now time.Time) error {
	requested := map[string]int{}
	movingIn := map[string][]string{}
	for _, sc := range req.SlotChanges {
		order := loaded[sc.OrderID]
		requested[sc.SlotID] += bookingContribution(order)
		movingIn[sc.SlotID] = append(movingIn[sc.SlotID], sc.OrderID)
	}
	for slotID, qty := range requested {
		var excluded []capacity.ExcludedBooking
		for _, order := range loaded {
			if order.SlotID == slotID {
				excluded = append(excluded, capacity.ExcludedBooking{OrderID: order.ID, Quantity: bookingContribution(order)})
			}
		}
		res, err := e.slots.Check(ctx, slotID, qty, excluded...)
		if err != nil {
			return err
		}
		if !res.OK {
			capacityRejections.WithLabelValues(slotID).Inc()
			dispatchesCreated.WithLabelValues("capacity_rejected").Inc()
			if e.bus != nil {
				e.bus.Publish(events.CapacityRejected{SlotID: slotID, Requested: qty, Available: res.Adjusted, OrderIDs: movingIn[slotID], At: now})
			}
			if rr, ok := e.sink.(metrics.RejectionRecorder); ok {
				if err := rr.RecordRejection(metrics.RejectionEvent{SlotID: slotID, Requested: qty, Available: res.Adjusted, Time: now}); err != nil {
					e.log.Errorf("metrics error: %v", err)
				}
			}
			return &capacity.CapacityError{SlotID: slotID, Requested: qty, Available: res.Adjusted}
		}
	}
	return nil
}

// commit applies ledger writes and journals the dispatch. Applied writes
// are undone in reverse order if a later step fails.
func (e *Engine) commit(ctx context.Context, req Request, d *model.Dispatch, now time.Time) error {
	var undo []func()

	rollback := func(cause error) error {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		dispatchesCreated.WithLabelValues("failed").Inc()
		return cause
	}

	for _, or := range req.Orders {
		ev, err := e.orders.RecordDispatch(ctx, or.OrderID, or.Quantity, d.ID, now)
		if err != nil {
			return rollback(err)
		}
		orderID := or.OrderID
		undo = append(undo, func() {
			if rerr := e.orders.RevertDispatch(ctx, orderID, d.ID); rerr != nil {
				e.log.Errorf("rollback dispatch event for order %s: %v", orderID, rerr)
			}
		})
		d.Allocations = append(d.Allocations, model.OrderAllocation{
			OrderID:        or.OrderID,
			Quantity:       or.Quantity,
			RemainingAfter: ev.RemainingAfter,
		})
	}

	for _, sc := range req.SlotChanges {
		prev, err := e.orders.AssignSlot(ctx, sc.OrderID, sc.SlotID)
		if err != nil {
			return rollback(err)
		}
		if prev == sc.SlotID {
			continue // confirmation only, booking totals already counted
		}
		orderID, slotID, prevSlot := sc.OrderID, sc.SlotID, prev
		undo = append(undo, func() {
			if _, rerr := e.orders.AssignSlot(ctx, orderID, prevSlot); rerr != nil {
				e.log.Errorf("rollback slot assignment for order %s: %v", orderID, rerr)
			}
		})

		order, err := e.orders.Store().Get(ctx, sc.OrderID)
		if err != nil {
			return rollback(err)
		}
		qty := bookingContribution(order)
		if err := e.slots.Commit(ctx, slotID, orderID, qty); err != nil {
			return rollback(err)
		}
		undo = append(undo, func() {
			if rerr := e.slots.Commit(ctx, slotID, orderID, -qty); rerr != nil {
				e.log.Errorf("rollback booking on slot %s: %v", slotID, rerr)
			}
		})
		if prevSlot != "" {
			if err := e.slots.Commit(ctx, prevSlot, orderID, -qty); err != nil {
				return rollback(err)
			}
			undo = append(undo, func() {
				if rerr := e.slots.Commit(ctx, prevSlot, orderID, qty); rerr != nil {
					e.log.Errorf("rollback release on slot %s: %v", prevSlot, rerr)
				}
			})
		}
	}

	if e.journal != nil {
		if err := e.journal.Append(ctx, *d); err != nil {
			return rollback(fmt.Errorf("journal append: %w", err))
		}
	}
	if err := e.idem.Remember(ctx, req.IdempotencyKey, *d); err != nil {
		e.log.Errorf("idempotency remember: %v", err)
	}
	return nil
}

// publishCreated emits events, notifications and sink records for a
// committed dispatch. None of these can fail the dispatch.
func (e *Engine) publishCreated(ctx context.Context, d model.Dispatch, now time.Time) {
	e.log.Infof("dispatch %s created: %d orders, %d plants", d.ID, len(d.Allocations), d.TotalPlants())
	if e.bus != nil {
		e.bus.Publish(events.DispatchCreated{Dispatch: d, At: now})
	}
	if err := e.notifier.DispatchCreated(ctx, events.DispatchCreated{Dispatch: d, At: now}); err != nil {
		e.log.Errorf("dispatch notification: %v", err)
	}
	recs := make([]metrics.AllocationRecord, 0, len(d.Allocations))
	for _, a := range d.Allocations {
		recs = append(recs, metrics.AllocationRecord{
			DispatchID: d.ID,
			OrderID:    a.OrderID,
			Driver:     d.Driver,
			Quantity:   a.Quantity,
			Remaining:  a.RemainingAfter,
			Crates:     crateCount(d.Manifest),
			Time:       now,
		})
	}
	if err := e.sink.RecordAllocations(recs); err != nil {
		e.log.Errorf("metrics error: %v", err)
	}
}

// bookingContribution is the share of slot capacity an assigned order
// consumes: its booked quantity less what was already written off.
func bookingContribution(o model.Order) int {
	return o.BookedQuantity - o.ReturnedQuantity
}

func crateCount(manifest []model.CrateGroup) int {
	total := 0
	for _, g := range manifest {
		total += g.CrateCount
	}
	return total
}
