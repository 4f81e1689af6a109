package dispatch

import (
	"context"
	"time"

	"github.com/greenharbor/nursery-dispatch/core/capacity"
	"github.com/greenharbor/nursery-dispatch/core/dispatch/journal"
	"github.com/greenharbor/nursery-dispatch/core/events"
	"github.com/greenharbor/nursery-dispatch/core/fulfillment"
	"github.com/greenharbor/nursery-dispatch/core/metrics"
	"github.com/greenharbor/nursery-dispatch/core/model"
)

// CheckCapacity runs a capacity check against a slot, excluding the current
// contributions of the named orders so an edit is never blocked by its own
// reservation. Orders not assigned to the slot contribute nothing.
func (e *Engine) CheckCapacity(ctx context.Context, slotID string, requested int, excludeOrders ...string) (capacity.Result, error) {
	var excluded []capacity.ExcludedBooking
	for _, id := range excludeOrders {
		order, err := e.orders.Store().Get(ctx, id)
		if err != nil {
			return capacity.Result{}, err
		}
		if order.SlotID == slotID {
			excluded = append(excluded, capacity.ExcludedBooking{OrderID: id, Quantity: bookingContribution(order)})
		}
	}
	return e.slots.Check(ctx, slotID, requested, excluded...)
}

// RecordDispatch appends a single shipment to one order, outside a batch
// dispatch.
func (e *Engine) RecordDispatch(ctx context.Context, orderID string, quantity int, dispatchID string) (model.DispatchEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.RecordDispatch(ctx, orderID, quantity, dispatchID, time.Now().UTC())
}

// CompleteOrder closes out an order and publishes the resulting events.
func (e *Engine) CompleteOrder(ctx context.Context, orderID string, returned int, reasons []string, opts fulfillment.CompleteOptions) (fulfillment.Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, err := e.orders.Store().Get(ctx, orderID)
	if err != nil {
		return fulfillment.Summary{}, err
	}
	slotID := order.SlotID

	sum, err := e.orders.CompleteOrder(ctx, orderID, returned, reasons, opts)
	if err != nil {
		return fulfillment.Summary{}, err
	}

	now := time.Now().UTC()
	if e.bus != nil {
		e.bus.Publish(events.OrderCompleted{OrderID: orderID, Returned: returned, Reasons: reasons, At: now})
	}
	if sum.Restocked {
		ev := events.SlotRestocked{SlotID: slotID, OrderID: orderID, Quantity: returned, At: now}
		if e.bus != nil {
			e.bus.Publish(ev)
		}
		if nerr := e.notifier.SlotRestocked(ctx, ev); nerr != nil {
			e.log.Errorf("restock notification: %v", nerr)
		}
	}
	if cr, ok := e.sink.(metrics.CompletionRecorder); ok {
		if merr := cr.RecordCompletion(metrics.CompletionEvent{OrderID: orderID, Returned: returned, Restocked: sum.Restocked, Time: now}); merr != nil {
			e.log.Errorf("metrics error: %v", merr)
		}
	}
	return sum, nil
}

// Journal exposes the journal store for query handlers; nil when the engine
// runs without persistence.
func (e *Engine) Journal() journal.Store { return e.journal }

// SlotStore exposes the slot store for seeding and capacity reads.
func (e *Engine) SlotStore() capacity.Store { return e.slots.Store() }

// OrderStore exposes the order store for seeding and order reads.
func (e *Engine) OrderStore() fulfillment.Store { return e.orders.Store() }
