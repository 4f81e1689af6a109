package model

import "fmt"

// SubtypeKey identifies a nursery product variant. It replaces ad-hoc
// "plantID-subtypeID" strings with a comparable value usable as a map key.
type SubtypeKey struct {
	PlantID   string `json:"plant_id"`
	SubtypeID string `json:"subtype_id"`
}

// String returns a human-readable representation of the key.
func (k SubtypeKey) String() string {
	return fmt.Sprintf("%s/%s", k.PlantID, k.SubtypeID)
}

// IsZero reports whether the key is unset.
func (k SubtypeKey) IsZero() bool {
	return k.PlantID == "" && k.SubtypeID == ""
}
