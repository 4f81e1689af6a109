// Package events defines the domain events published on the internal bus
// while dispatches are created and orders completed.
package events

import (
	"time"

	"github.com/greenharbor/nursery-dispatch/core/model"
)

// DispatchCreated is published after a dispatch has been committed and
// journaled.
type DispatchCreated struct {
	Dispatch model.Dispatch
	At       time.Time
}

// CapacityRejected is published when a capacity check blocks a dispatch or
// slot change.
type CapacityRejected struct {
	SlotID    string
	Requested int
	Available int
	OrderIDs  []string
	At        time.Time
}

// OrderCompleted is published when an order reaches DELIVERED.
type OrderCompleted struct {
	OrderID  string
	Returned int
	Reasons  []string
	At       time.Time
}

// SlotRestocked is published when a completion returns unshipped plants to
// a slot's available capacity.
type SlotRestocked struct {
	SlotID   string
	OrderID  string
	Quantity int
	At       time.Time
}
