package model

import (
	"fmt"
	"sort"
)

// CavityType describes packaging geometry: how many plants fill a tray and
// how many trays fill a crate. Static reference data.
type CavityType struct {
	ID             string `json:"id"`
	CavitySize     int    `json:"cavity_size"`      // plants per tray
	NumberPerCrate int    `json:"number_per_crate"` // trays per crate
}

// PlantsPerCrate returns the capacity of one full crate.
func (c CavityType) PlantsPerCrate() int {
	return c.CavitySize * c.NumberPerCrate
}

// Validate checks the geometry is usable for packing.
func (c CavityType) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("cavity id is required")
	}
	if c.CavitySize <= 0 {
		return fmt.Errorf("cavity %s: cavity size must be positive", c.ID)
	}
	if c.NumberPerCrate <= 0 {
		return fmt.Errorf("cavity %s: trays per crate must be positive", c.ID)
	}
	return nil
}

// CavityTable is the geometry reference consulted during packing.
type CavityTable struct {
	byID map[string]CavityType
}

// NewCavityTable builds a table from the given cavity types.
// Duplicate or invalid entries are rejected.
func NewCavityTable(types ...CavityType) (CavityTable, error) {
	t := CavityTable{byID: make(map[string]CavityType, len(types))}
	for _, ct := range types {
		if err := ct.Validate(); err != nil {
			return CavityTable{}, err
		}
		if _, ok := t.byID[ct.ID]; ok {
			return CavityTable{}, fmt.Errorf("duplicate cavity %s", ct.ID)
		}
		t.byID[ct.ID] = ct
	}
	return t, nil
}

// Lookup returns the cavity type for id.
func (t CavityTable) Lookup(id string) (CavityType, bool) {
	ct, ok := t.byID[id]
	return ct, ok
}

// IDs returns the known cavity ids in stable order.
func (t CavityTable) IDs() []string {
	ids := make([]string, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
