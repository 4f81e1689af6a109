package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/greenharbor/nursery-dispatch/core/model"
)

func sampleDispatches(base time.Time) []model.Dispatch {
	return []model.Dispatch{
		{
			ID: "d1", Driver: "ravi", Vehicle: "KA-01", CreatedAt: base,
			Allocations: []model.OrderAllocation{{OrderID: "o1", Quantity: 200, RemainingAfter: 300}},
			Manifest:    []model.CrateGroup{{CavityID: "c50", CrateCount: 1, PlantCount: 200, Details: []model.CrateDetail{{CrateCount: 1, PlantCount: 200}}}},
		},
		{
			ID: "d2", Driver: "mina", Vehicle: "KA-02", CreatedAt: base.Add(time.Hour),
			Allocations: []model.OrderAllocation{
				{OrderID: "o1", Quantity: 300, RemainingAfter: 0},
				{OrderID: "o2", Quantity: 50, RemainingAfter: 10},
			},
		},
	}
}

func testStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	for _, d := range sampleDispatches(base) {
		if err := store.Append(ctx, d); err != nil {
			t.Fatalf("append %s: %v", d.ID, err)
		}
	}

	all, err := store.Query(ctx, Query{})
	if err != nil {
		t.Fatalf("query all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d records, want 2", len(all))
	}
	if all[0].ID != "d1" || len(all[0].Manifest) != 1 || all[0].Manifest[0].PlantCount != 200 {
		t.Fatalf("first record did not round-trip: %+v", all[0])
	}

	byOrder, err := store.Query(ctx, Query{OrderID: "o2"})
	if err != nil {
		t.Fatalf("query by order: %v", err)
	}
	if len(byOrder) != 1 || byOrder[0].ID != "d2" {
		t.Fatalf("order filter returned %+v", byOrder)
	}

	byDriver, err := store.Query(ctx, Query{Driver: "ravi"})
	if err != nil {
		t.Fatalf("query by driver: %v", err)
	}
	if len(byDriver) != 1 || byDriver[0].ID != "d1" {
		t.Fatalf("driver filter returned %+v", byDriver)
	}

	windowed, err := store.Query(ctx, Query{Start: base.Add(30 * time.Minute)})
	if err != nil {
		t.Fatalf("query by window: %v", err)
	}
	if len(windowed) != 1 || windowed[0].ID != "d2" {
		t.Fatalf("window filter returned %+v", windowed)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestJSONLStore(t *testing.T) {
	store, err := NewJSONLStore(filepath.Join(t.TempDir(), "journal.jsonl"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	testStore(t, store)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	testStore(t, store)
}

func TestSQLiteStoreRejectsDuplicateID(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	d := model.Dispatch{ID: "d1", CreatedAt: time.Now()}
	if err := store.Append(ctx, d); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ctx, d); err == nil {
		t.Fatal("duplicate dispatch id accepted")
	}
}
