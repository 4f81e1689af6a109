package dispatch

import (
	"errors"
	"fmt"
)

// ErrEmptyRequest is returned when a dispatch request carries no orders.
var ErrEmptyRequest = errors.New("dispatch request has no orders")

// ErrMissingIdempotencyKey is returned when the caller omits the request
// identifier that makes dispatch creation replay-safe.
var ErrMissingIdempotencyKey = errors.New("idempotency key is required")

// ErrUnknownCavity is returned when a cavity id does not resolve against
// the geometry table.
var ErrUnknownCavity = errors.New("unknown cavity")

// PackingError signals that a crate manifest does not account for the
// requested quantity exactly. It indicates a geometry or data defect, not
// bad user input, and is never auto-corrected.
type PackingError struct {
	OrderID  string
	CavityID string
	Want     int
	Got      int
}

func (e *PackingError) Error() string {
	return fmt.Sprintf("order %s cavity %s: manifest packs %d of %d plants", e.OrderID, e.CavityID, e.Got, e.Want)
}

// SplitError reports a cavity split that does not sum to the order's
// dispatch quantity.
type SplitError struct {
	OrderID  string
	Quantity int
	SplitSum int
}

func (e *SplitError) Error() string {
	return fmt.Sprintf("order %s: cavity split sums to %d, dispatch quantity is %d", e.OrderID, e.SplitSum, e.Quantity)
}
