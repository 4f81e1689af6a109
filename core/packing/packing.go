// Package packing converts plant quantities into crate manifests given
// tray and crate geometry. All functions are pure.
package packing

import (
	"fmt"

	"github.com/greenharbor/nursery-dispatch/core/model"
)

// Pack distributes quantity plants into crates of the given cavity type.
// Whole trays are grouped into full crates; every leftover plant, including
// plants that do not fill a whole tray, goes into a single partially-filled
// remainder crate. The detail rows always sum to quantity exactly and never
// exceed two entries.
func Pack(quantity int, cavity model.CavityType) (model.CrateGroup, error) {
	if err := cavity.Validate(); err != nil {
		return model.CrateGroup{}, err
	}
	if quantity < 0 {
		return model.CrateGroup{}, fmt.Errorf("cavity %s: cannot pack negative quantity %d", cavity.ID, quantity)
	}

	group := model.CrateGroup{CavityID: cavity.ID, PlantCount: quantity}
	if quantity == 0 {
		return group, nil
	}

	trays := quantity / cavity.CavitySize
	fullCrates := trays / cavity.NumberPerCrate
	if fullCrates > 0 {
		group.Details = append(group.Details, model.CrateDetail{
			CrateCount: fullCrates,
			PlantCount: fullCrates * cavity.PlantsPerCrate(),
		})
		group.CrateCount += fullCrates
	}
	if remainder := quantity - fullCrates*cavity.PlantsPerCrate(); remainder > 0 {
		group.Details = append(group.Details, model.CrateDetail{
			CrateCount: 1,
			PlantCount: remainder,
		})
		group.CrateCount++
	}
	return group, nil
}

// PackSplit packs each cavity's sub-quantity independently and concatenates
// the manifests. The split is resolved against the table in stable id order
// so results are deterministic.
func PackSplit(split map[string]int, table model.CavityTable) ([]model.CrateGroup, error) {
	var groups []model.CrateGroup
	for _, id := range table.IDs() {
		qty, ok := split[id]
		if !ok {
			continue
		}
		cavity, _ := table.Lookup(id)
		group, err := Pack(qty, cavity)
		if err != nil {
			return nil, err
		}
		if group.PlantCount > 0 {
			groups = append(groups, group)
		}
	}
	for id := range split {
		if _, ok := table.Lookup(id); !ok {
			return nil, fmt.Errorf("unknown cavity %s", id)
		}
	}
	return groups, nil
}
