package model

import (
	"fmt"
	"time"
)

// CrateDetail is one row of a packing result: either the run of full crates
// or the single partially-filled remainder crate.
type CrateDetail struct {
	CrateCount int `json:"crate_count"`
	PlantCount int `json:"plant_count"`
}

// CrateGroup is the packing result for one cavity type within one dispatch.
// PlantCount always equals the sum of the detail rows.
type CrateGroup struct {
	CavityID   string        `json:"cavity_id"`
	CrateCount int           `json:"crate_count"`
	PlantCount int           `json:"plant_count"`
	Details    []CrateDetail `json:"details"`
}

// Verify checks the group's internal consistency against the quantity it
// was packed from.
func (g CrateGroup) Verify(quantity int) error {
	sum, crates := 0, 0
	for _, d := range g.Details {
		sum += d.PlantCount
		crates += d.CrateCount
	}
	if sum != quantity || sum != g.PlantCount {
		return fmt.Errorf("cavity %s: details sum %d, group total %d, packed from %d", g.CavityID, sum, g.PlantCount, quantity)
	}
	if crates != g.CrateCount {
		return fmt.Errorf("cavity %s: details count %d crates, group says %d", g.CavityID, crates, g.CrateCount)
	}
	return nil
}

// OrderAllocation records how much of one order ships in a dispatch.
type OrderAllocation struct {
	OrderID        string `json:"order_id"`
	Quantity       int    `json:"quantity"`
	RemainingAfter int    `json:"remaining_after"`
}

// Dispatch is one shipment batch covering one or more orders, together with
// the crate manifest produced by packing. Closed once created; completion
// and return data live on the orders.
type Dispatch struct {
	ID          string            `json:"id"`
	Driver      string            `json:"driver"`
	Vehicle     string            `json:"vehicle"`
	CreatedAt   time.Time         `json:"created_at"`
	Allocations []OrderAllocation `json:"allocations"`
	Manifest    []CrateGroup      `json:"manifest"`
}

// TotalPlants sums the allocated quantities of the dispatch.
func (d Dispatch) TotalPlants() int {
	total := 0
	for _, a := range d.Allocations {
		total += a.Quantity
	}
	return total
}
