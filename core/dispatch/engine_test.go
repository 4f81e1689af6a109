package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/greenharbor/nursery-dispatch/core/billing"
	"github.com/greenharbor/nursery-dispatch/core/capacity"
	"github.com/greenharbor/nursery-dispatch/core/dispatch/journal"
	"github.com/greenharbor/nursery-dispatch/core/fulfillment"
	"github.com/greenharbor/nursery-dispatch/core/model"
	"github.com/greenharbor/nursery-dispatch/core/notify"
	"github.com/greenharbor/nursery-dispatch/internal/eventbus"
)

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}

type failingJournal struct{ err error }

func (f *failingJournal) Append(context.Context, model.Dispatch) error { return f.err }
func (f *failingJournal) Query(context.Context, journal.Query) ([]model.Dispatch, error) {
	return nil, nil
}
func (f *failingJournal) Close() error { return nil }

type fixture struct {
	engine   *Engine
	slots    *capacity.MemoryStore
	orders   *fulfillment.MemoryStore
	billing  *billing.StaticReader
	journal  journal.Store
	notifier *notify.MockNotifier
}

func newFixture(t *testing.T, jstore journal.Store, slots []model.Slot, orders []model.Order) *fixture {
	t.Helper()
	ctx := context.Background()

	slotStore := capacity.NewMemoryStore()
	for _, s := range slots {
		if err := slotStore.Put(ctx, s); err != nil {
			t.Fatalf("seed slot %s: %v", s.ID, err)
		}
	}
	orderStore := fulfillment.NewMemoryStore()
	for _, o := range orders {
		if err := orderStore.Put(ctx, o); err != nil {
			t.Fatalf("seed order %s: %v", o.ID, err)
		}
	}

	table, err := model.NewCavityTable(
		model.CavityType{ID: "c50", CavitySize: 50, NumberPerCrate: 4},
		model.CavityType{ID: "c104", CavitySize: 104, NumberPerCrate: 2},
	)
	if err != nil {
		t.Fatalf("cavity table: %v", err)
	}

	bill := billing.NewStaticReader()
	slotLedger := capacity.NewLedger(slotStore, nopLogger{})
	orderLedger := fulfillment.NewLedger(orderStore, bill, slotLedger, nopLogger{})
	notifier := &notify.MockNotifier{}
	if jstore == nil {
		jstore = journal.NewMemoryStore()
	}
	engine, err := NewEngine(slotLedger, orderLedger, table, jstore, nil, eventbus.New[any](), notifier, nil, nopLogger{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return &fixture{engine: engine, slots: slotStore, orders: orderStore, billing: bill, journal: jstore, notifier: notifier}
}

func TestCreateDispatchPacksAndCommits(t *testing.T) {
	fx := newFixture(t, nil,
		nil,
		[]model.Order{{ID: "o1", BookedQuantity: 500, Rate: 2}},
	)
	ctx := context.Background()

	d, err := fx.engine.CreateDispatch(ctx, Request{
		IdempotencyKey: "req-1",
		Driver:         "ravi",
		Vehicle:        "KA-01",
		Orders:         []OrderRequest{{OrderID: "o1", Quantity: 470, CavitySplit: map[string]int{"c50": 470}}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(d.Allocations) != 1 || d.Allocations[0].RemainingAfter != 30 {
		t.Fatalf("allocations = %+v", d.Allocations)
	}
	if len(d.Manifest) != 1 {
		t.Fatalf("manifest = %+v", d.Manifest)
	}
	g := d.Manifest[0]
	if g.CrateCount != 3 || g.PlantCount != 470 || len(g.Details) != 2 {
		t.Fatalf("group = %+v", g)
	}

	order, _ := fx.orders.Get(ctx, "o1")
	if order.RemainingQuantity() != 30 || order.Status != model.StatusDispatched {
		t.Fatalf("order after dispatch: remaining %d status %s", order.RemainingQuantity(), order.Status)
	}

	journaled, err := fx.journal.Query(ctx, journal.Query{OrderID: "o1"})
	if err != nil || len(journaled) != 1 {
		t.Fatalf("journal query: %v, %d records", err, len(journaled))
	}
	if len(fx.notifier.Dispatches) != 1 {
		t.Fatalf("notifier calls = %d", len(fx.notifier.Dispatches))
	}
}

func TestCreateDispatchValidation(t *testing.T) {
	fx := newFixture(t, nil, nil, []model.Order{{ID: "o1", BookedQuantity: 100}})
	ctx := context.Background()

	cases := []struct {
		name string
		req  Request
	}{
		{"missing key", Request{Orders: []OrderRequest{{OrderID: "o1", Quantity: 10, CavitySplit: map[string]int{"c50": 10}}}}},
		{"no orders", Request{IdempotencyKey: "k"}},
		{"zero quantity", Request{IdempotencyKey: "k", Orders: []OrderRequest{{OrderID: "o1", Quantity: 0, CavitySplit: map[string]int{"c50": 0}}}}},
		{"split mismatch", Request{IdempotencyKey: "k", Orders: []OrderRequest{{OrderID: "o1", Quantity: 10, CavitySplit: map[string]int{"c50": 5}}}}},
		{"unknown cavity", Request{IdempotencyKey: "k", Orders: []OrderRequest{{OrderID: "o1", Quantity: 10, CavitySplit: map[string]int{"nope": 10}}}}},
		{"duplicate order", Request{IdempotencyKey: "k", Orders: []OrderRequest{
			{OrderID: "o1", Quantity: 10, CavitySplit: map[string]int{"c50": 10}},
			{OrderID: "o1", Quantity: 10, CavitySplit: map[string]int{"c50": 10}},
		}}},
		{"over remaining", Request{IdempotencyKey: "k", Orders: []OrderRequest{{OrderID: "o1", Quantity: 101, CavitySplit: map[string]int{"c50": 101}}}}},
		{"unknown order", Request{IdempotencyKey: "k", Orders: []OrderRequest{{OrderID: "ghost", Quantity: 1, CavitySplit: map[string]int{"c50": 1}}}}},
		{"slot change for foreign order", Request{
			IdempotencyKey: "k",
			Orders:         []OrderRequest{{OrderID: "o1", Quantity: 10, CavitySplit: map[string]int{"c50": 10}}},
			SlotChanges:    []SlotChange{{OrderID: "other", SlotID: "s1"}},
		}},
	}
	for _, tc := range cases {
		if _, err := fx.engine.CreateDispatch(ctx, tc.req); err == nil {
			t.Errorf("%s: accepted", tc.name)
		}
		order, _ := fx.orders.Get(ctx, "o1")
		if order.DispatchedQuantity() != 0 {
			t.Fatalf("%s: rejected request mutated order", tc.name)
		}
	}
}

func TestCreateDispatchSlotChange(t *testing.T) {
	fx := newFixture(t, nil,
		[]model.Slot{
			{ID: "s1", TotalPlants: 1000, TotalBookedPlants: 600},
			{ID: "s2", TotalPlants: 500},
		},
		[]model.Order{{ID: "o1", BookedQuantity: 600, SlotID: "s1"}},
	)
	ctx := context.Background()

	// Move o1's 600-plant booking from s1 to s2: s2 has only 500 free.
	_, err := fx.engine.CreateDispatch(ctx, Request{
		IdempotencyKey: "req-1",
		Orders:         []OrderRequest{{OrderID: "o1", Quantity: 100, CavitySplit: map[string]int{"c50": 100}}},
		SlotChanges:    []SlotChange{{OrderID: "o1", SlotID: "s2"}},
	})
	var capErr *capacity.CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityError, got %v", err)
	}
	if capErr.SlotID != "s2" || capErr.Shortfall() != 100 {
		t.Fatalf("capacity error = %+v", capErr)
	}
	order, _ := fx.orders.Get(ctx, "o1")
	if order.DispatchedQuantity() != 0 || order.SlotID != "s1" {
		t.Fatalf("failed dispatch mutated order: %+v", order)
	}

	// Confirming the current slot is not blocked by o1's own 600 plants.
	d, err := fx.engine.CreateDispatch(ctx, Request{
		IdempotencyKey: "req-2",
		Orders:         []OrderRequest{{OrderID: "o1", Quantity: 100, CavitySplit: map[string]int{"c50": 100}}},
		SlotChanges:    []SlotChange{{OrderID: "o1", SlotID: "s1"}},
	})
	if err != nil {
		t.Fatalf("confirming own slot rejected: %v", err)
	}
	if d.TotalPlants() != 100 {
		t.Fatalf("dispatch total = %d", d.TotalPlants())
	}
	slot, _ := fx.slots.Get(ctx, "s1")
	if slot.TotalBookedPlants != 600 {
		t.Fatalf("confirmation changed booking total: %d", slot.TotalBookedPlants)
	}
}

func TestCreateDispatchMovesBooking(t *testing.T) {
	fx := newFixture(t, nil,
		[]model.Slot{
			{ID: "s1", TotalPlants: 1000, TotalBookedPlants: 300},
			{ID: "s2", TotalPlants: 1000},
		},
		[]model.Order{{ID: "o1", BookedQuantity: 300, SlotID: "s1"}},
	)
	ctx := context.Background()

	if _, err := fx.engine.CreateDispatch(ctx, Request{
		IdempotencyKey: "req-1",
		Orders:         []OrderRequest{{OrderID: "o1", Quantity: 50, CavitySplit: map[string]int{"c50": 50}}},
		SlotChanges:    []SlotChange{{OrderID: "o1", SlotID: "s2"}},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	s1, _ := fx.slots.Get(ctx, "s1")
	s2, _ := fx.slots.Get(ctx, "s2")
	if s1.TotalBookedPlants != 0 || s2.TotalBookedPlants != 300 {
		t.Fatalf("bookings after move: s1=%d s2=%d", s1.TotalBookedPlants, s2.TotalBookedPlants)
	}
	order, _ := fx.orders.Get(ctx, "o1")
	if order.SlotID != "s2" {
		t.Fatalf("order slot = %s", order.SlotID)
	}
}

func TestCreateDispatchAllOrNothing(t *testing.T) {
	// The journal append fails after both order ledgers committed; every
	// write must be rolled back.
	fx := newFixture(t, &failingJournal{err: errors.New("disk full")},
		[]model.Slot{{ID: "s1", TotalPlants: 1000}},
		[]model.Order{
			{ID: "o1", BookedQuantity: 100},
			{ID: "o2", BookedQuantity: 200, SlotID: ""},
		},
	)
	ctx := context.Background()

	_, err := fx.engine.CreateDispatch(ctx, Request{
		IdempotencyKey: "req-1",
		Orders: []OrderRequest{
			{OrderID: "o1", Quantity: 60, CavitySplit: map[string]int{"c50": 60}},
			{OrderID: "o2", Quantity: 150, CavitySplit: map[string]int{"c104": 150}},
		},
		SlotChanges: []SlotChange{{OrderID: "o2", SlotID: "s1"}},
	})
	if err == nil {
		t.Fatal("journal failure did not fail the dispatch")
	}

	for _, id := range []string{"o1", "o2"} {
		order, _ := fx.orders.Get(ctx, id)
		if order.DispatchedQuantity() != 0 || len(order.History) != 0 {
			t.Fatalf("order %s not rolled back: %+v", id, order)
		}
	}
	order, _ := fx.orders.Get(ctx, "o2")
	if order.SlotID != "" {
		t.Fatalf("slot assignment not rolled back: %s", order.SlotID)
	}
	slot, _ := fx.slots.Get(ctx, "s1")
	if slot.TotalBookedPlants != 0 {
		t.Fatalf("slot booking not rolled back: %d", slot.TotalBookedPlants)
	}
}

func TestCreateDispatchIdempotentReplay(t *testing.T) {
	fx := newFixture(t, nil, nil, []model.Order{{ID: "o1", BookedQuantity: 100}})
	ctx := context.Background()
	req := Request{
		IdempotencyKey: "req-1",
		Orders:         []OrderRequest{{OrderID: "o1", Quantity: 40, CavitySplit: map[string]int{"c50": 40}}},
	}

	first, err := fx.engine.CreateDispatch(ctx, req)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := fx.engine.CreateDispatch(ctx, req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay returned different dispatch: %s vs %s", second.ID, first.ID)
	}
	order, _ := fx.orders.Get(ctx, "o1")
	if order.DispatchedQuantity() != 40 {
		t.Fatalf("replay double-dispatched: %d", order.DispatchedQuantity())
	}
	if len(order.History) != 1 {
		t.Fatalf("replay appended event: %d events", len(order.History))
	}
}

func TestConcurrentDispatchesOneWinner(t *testing.T) {
	// Slot with 50 free; two concurrent dispatches each book 30 into it.
	// Exactly one may succeed.
	fx := newFixture(t, nil,
		[]model.Slot{{ID: "s1", TotalPlants: 50}},
		[]model.Order{
			{ID: "o1", BookedQuantity: 30},
			{ID: "o2", BookedQuantity: 30},
		},
	)
	ctx := context.Background()

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, id := range []string{"o1", "o2"} {
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			_, err := fx.engine.CreateDispatch(ctx, Request{
				IdempotencyKey: "req-" + orderID,
				Orders:         []OrderRequest{{OrderID: orderID, Quantity: 30, CavitySplit: map[string]int{"c50": 30}}},
				SlotChanges:    []SlotChange{{OrderID: orderID, SlotID: "s1"}},
			})
			results <- err
		}(id)
	}
	wg.Wait()
	close(results)

	var ok, capacityRejected int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		var capErr *capacity.CapacityError
		if errors.As(err, &capErr) {
			capacityRejected++
		} else {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || capacityRejected != 1 {
		t.Fatalf("got %d successes, %d capacity rejections; want 1 and 1", ok, capacityRejected)
	}
	slot, _ := fx.slots.Get(ctx, "s1")
	if slot.TotalBookedPlants > slot.TotalPlants {
		t.Fatalf("slot oversold: %d of %d", slot.TotalBookedPlants, slot.TotalPlants)
	}
}

func TestEngineCompleteOrderPublishesRestock(t *testing.T) {
	fx := newFixture(t, nil,
		[]model.Slot{{ID: "s1", TotalPlants: 100, TotalBookedPlants: 80}},
		[]model.Order{{ID: "o1", BookedQuantity: 80, SlotID: "s1", Rate: 1}},
	)
	ctx := context.Background()
	fx.billing.SetPaid("o1", 30)

	if _, err := fx.engine.RecordDispatch(ctx, "o1", 30, "d1"); err != nil {
		t.Fatalf("record dispatch: %v", err)
	}
	sum, err := fx.engine.CompleteOrder(ctx, "o1", 50, []string{"late frost"}, fulfillment.CompleteOptions{AddToInventory: true, MarkComplete: true})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !sum.Restocked || sum.Status != model.StatusDelivered {
		t.Fatalf("summary = %+v", sum)
	}
	slot, _ := fx.slots.Get(ctx, "s1")
	if slot.TotalBookedPlants != 30 {
		t.Fatalf("slot booked after restock = %d, want 30", slot.TotalBookedPlants)
	}
	if len(fx.notifier.Restocks) != 1 || fx.notifier.Restocks[0].Quantity != 50 {
		t.Fatalf("restock notifications = %+v", fx.notifier.Restocks)
	}
}

func TestEngineCheckCapacitySelfExclusion(t *testing.T) {
	fx := newFixture(t, nil,
		[]model.Slot{{ID: "s1", TotalPlants: 1000, TotalBookedPlants: 600}},
		[]model.Order{{ID: "x", BookedQuantity: 600, SlotID: "s1"}},
	)
	res, err := fx.engine.CheckCapacity(context.Background(), "s1", 600, "x")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.OK {
		t.Fatalf("order blocked by its own reservation: %+v", res)
	}
}

func TestEngineRecordDispatchTimestamps(t *testing.T) {
	fx := newFixture(t, nil, nil, []model.Order{{ID: "o1", BookedQuantity: 10}})
	before := time.Now().UTC()
	ev, err := fx.engine.RecordDispatch(context.Background(), "o1", 5, "d1")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if ev.Timestamp.Before(before) || ev.RemainingAfter != 5 {
		t.Fatalf("event = %+v", ev)
	}
}
