package packing

import (
	"reflect"
	"testing"

	"github.com/greenharbor/nursery-dispatch/core/model"
)

func TestPackFullAndRemainder(t *testing.T) {
	// 200 plants per crate: 470 = 2 full crates (400) + 70 in one remainder crate.
	cavity := model.CavityType{ID: "c50", CavitySize: 50, NumberPerCrate: 4}
	group, err := Pack(470, cavity)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	want := []model.CrateDetail{
		{CrateCount: 2, PlantCount: 400},
		{CrateCount: 1, PlantCount: 70},
	}
	if !reflect.DeepEqual(group.Details, want) {
		t.Fatalf("details = %+v, want %+v", group.Details, want)
	}
	if group.PlantCount != 470 || group.CrateCount != 3 {
		t.Fatalf("totals = %d plants %d crates", group.PlantCount, group.CrateCount)
	}
	if err := group.Verify(470); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestPackExactCrates(t *testing.T) {
	cavity := model.CavityType{ID: "c50", CavitySize: 50, NumberPerCrate: 4}
	group, err := Pack(400, cavity)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if len(group.Details) != 1 {
		t.Fatalf("expected single full-crate row, got %+v", group.Details)
	}
	if group.Details[0].CrateCount != 2 || group.Details[0].PlantCount != 400 {
		t.Fatalf("unexpected row %+v", group.Details[0])
	}
}

func TestPackSubTrayQuantity(t *testing.T) {
	// Less than one tray still ships, in one partially-filled crate.
	cavity := model.CavityType{ID: "c104", CavitySize: 104, NumberPerCrate: 3}
	group, err := Pack(17, cavity)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	want := []model.CrateDetail{{CrateCount: 1, PlantCount: 17}}
	if !reflect.DeepEqual(group.Details, want) {
		t.Fatalf("details = %+v, want %+v", group.Details, want)
	}
}

func TestPackZero(t *testing.T) {
	cavity := model.CavityType{ID: "c50", CavitySize: 50, NumberPerCrate: 4}
	group, err := Pack(0, cavity)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if len(group.Details) != 0 || group.PlantCount != 0 || group.CrateCount != 0 {
		t.Fatalf("expected empty group, got %+v", group)
	}
}

func TestPackRejectsBadInput(t *testing.T) {
	if _, err := Pack(-1, model.CavityType{ID: "c", CavitySize: 50, NumberPerCrate: 4}); err == nil {
		t.Fatal("negative quantity accepted")
	}
	if _, err := Pack(10, model.CavityType{ID: "c", CavitySize: 0, NumberPerCrate: 4}); err == nil {
		t.Fatal("zero cavity size accepted")
	}
	if _, err := Pack(10, model.CavityType{ID: "c", CavitySize: 50, NumberPerCrate: 0}); err == nil {
		t.Fatal("zero trays per crate accepted")
	}
}

func TestPackConservation(t *testing.T) {
	// Every plant is packed exactly once, in at most two rows.
	geometries := []model.CavityType{
		{ID: "a", CavitySize: 1, NumberPerCrate: 1},
		{ID: "b", CavitySize: 3, NumberPerCrate: 7},
		{ID: "c", CavitySize: 50, NumberPerCrate: 4},
		{ID: "d", CavitySize: 104, NumberPerCrate: 2},
	}
	for _, cav := range geometries {
		for qty := 0; qty <= 1000; qty += 13 {
			group, err := Pack(qty, cav)
			if err != nil {
				t.Fatalf("pack(%d, %s): %v", qty, cav.ID, err)
			}
			if len(group.Details) > 2 {
				t.Fatalf("pack(%d, %s): %d detail rows", qty, cav.ID, len(group.Details))
			}
			if err := group.Verify(qty); err != nil {
				t.Fatalf("pack(%d, %s): %v", qty, cav.ID, err)
			}
		}
	}
}

func TestPackDeterministic(t *testing.T) {
	cavity := model.CavityType{ID: "c50", CavitySize: 50, NumberPerCrate: 4}
	a, _ := Pack(987, cavity)
	b, _ := Pack(987, cavity)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("pack not deterministic: %+v vs %+v", a, b)
	}
}

func TestPackSplit(t *testing.T) {
	table, err := model.NewCavityTable(
		model.CavityType{ID: "c50", CavitySize: 50, NumberPerCrate: 4},
		model.CavityType{ID: "c104", CavitySize: 104, NumberPerCrate: 2},
	)
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	groups, err := PackSplit(map[string]int{"c50": 470, "c104": 210}, table)
	if err != nil {
		t.Fatalf("pack split: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	total := 0
	for _, g := range groups {
		total += g.PlantCount
	}
	if total != 680 {
		t.Fatalf("total packed %d, want 680", total)
	}
}

func TestPackSplitUnknownCavity(t *testing.T) {
	table, _ := model.NewCavityTable(model.CavityType{ID: "c50", CavitySize: 50, NumberPerCrate: 4})
	if _, err := PackSplit(map[string]int{"nope": 10}, table); err == nil {
		t.Fatal("unknown cavity accepted")
	}
}
