package model

import (
	"fmt"
	"time"
)

// Slot is a dated capacity window for growing and delivering one plant
// subtype. TotalBookedPlants is mutated only through the capacity ledger;
// TotalSownPlants is informational and used by reporting.
type Slot struct {
	ID                string     `json:"id"`
	Subtype           SubtypeKey `json:"subtype"`
	StartDay          time.Time  `json:"start_day"` // inclusive
	EndDay            time.Time  `json:"end_day"`   // inclusive
	TotalPlants       int        `json:"total_plants"`
	TotalBookedPlants int        `json:"total_booked_plants"`
	TotalSownPlants   int        `json:"total_sown_plants,omitempty"`

	// Version supports optimistic concurrency control on booking updates.
	Version int64 `json:"version"`
}

// Available returns the unbooked capacity of the slot.
func (s Slot) Available() int {
	return s.TotalPlants - s.TotalBookedPlants
}

// IsFull reports whether the slot has no capacity left.
func (s Slot) IsFull() bool {
	return s.Available() <= 0
}

// Validate checks that the slot configuration is sound.
func (s Slot) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("slot id is required")
	}
	if s.TotalPlants < 0 {
		return fmt.Errorf("slot %s: total plants must not be negative", s.ID)
	}
	if s.TotalBookedPlants < 0 {
		return fmt.Errorf("slot %s: booked plants must not be negative", s.ID)
	}
	if s.TotalBookedPlants > s.TotalPlants {
		return fmt.Errorf("slot %s: booked %d exceeds capacity %d", s.ID, s.TotalBookedPlants, s.TotalPlants)
	}
	if s.EndDay.Before(s.StartDay) {
		return fmt.Errorf("slot %s: end day precedes start day", s.ID)
	}
	return nil
}
