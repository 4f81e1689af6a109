package fulfillment

import (
	"context"
	"errors"
	"sync"

	"github.com/greenharbor/nursery-dispatch/core/model"
)

// ErrUnknownOrder is returned when an order id does not resolve.
var ErrUnknownOrder = errors.New("unknown order")

// ErrConflict signals an optimistic-lock failure: the order changed between
// read and update.
var ErrConflict = errors.New("order modified concurrently")

// Store persists orders. Update follows the same compare-and-swap contract
// as the slot store: stale versions fail with ErrConflict.
type Store interface {
	Get(ctx context.Context, id string) (model.Order, error)
	Put(ctx context.Context, order model.Order) error
	Update(ctx context.Context, order model.Order) error
}

// MemoryStore is a mutex-guarded in-memory Store.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]model.Order
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: map[string]model.Order{}}
}

// Get returns a deep copy of the order with the given id.
func (s *MemoryStore) Get(_ context.Context, id string) (model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return model.Order{}, ErrUnknownOrder
	}
	return order.Clone(), nil
}

// Put creates or replaces the order unconditionally. Used for seeding from
// the order source system.
func (s *MemoryStore) Put(_ context.Context, order model.Order) error {
	if err := order.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.orders[order.ID] = order.Clone()
	s.mu.Unlock()
	return nil
}

// Update stores the order if its version still matches.
func (s *MemoryStore) Update(_ context.Context, order model.Order) error {
	if err := order.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.orders[order.ID]
	if !ok {
		return ErrUnknownOrder
	}
	if current.Version != order.Version {
		return ErrConflict
	}
	order.Version++
	s.orders[order.ID] = order.Clone()
	return nil
}
