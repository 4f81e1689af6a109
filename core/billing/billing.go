// Package billing is the read-only boundary to the external payment
// system. The core consults it as a completion precondition and never
// mutates it.
package billing

import (
	"context"
	"sync"
)

// Reader reports the cumulative amount paid for an order.
type Reader interface {
	PaidAmount(ctx context.Context, orderID string) (float64, error)
}

// StaticReader is a map-backed Reader used for wiring and tests.
type StaticReader struct {
	mu   sync.RWMutex
	paid map[string]float64
}

// NewStaticReader creates an empty StaticReader.
func NewStaticReader() *StaticReader {
	return &StaticReader{paid: map[string]float64{}}
}

// SetPaid records the cumulative paid amount for an order.
func (r *StaticReader) SetPaid(orderID string, amount float64) {
	r.mu.Lock()
	r.paid[orderID] = amount
	r.mu.Unlock()
}

// PaidAmount returns the recorded amount, zero when unknown.
func (r *StaticReader) PaidAmount(_ context.Context, orderID string) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paid[orderID], nil
}
