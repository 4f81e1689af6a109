package capacity

import (
	"context"
	"errors"
	"sync"

	"github.com/greenharbor/nursery-dispatch/core/model"
)

// ErrUnknownSlot is returned when a slot id does not resolve.
var ErrUnknownSlot = errors.New("unknown slot")

// ErrConflict signals an optimistic-lock failure: the slot changed between
// read and update. Callers retry a bounded number of times.
var ErrConflict = errors.New("slot modified concurrently")

// Store persists slots. Update must compare the version the slot was read
// at against the stored version and fail with ErrConflict on mismatch,
// bumping the version on success. This keeps check-then-commit indivisible
// without holding locks across calls.
type Store interface {
	Get(ctx context.Context, id string) (model.Slot, error)
	Put(ctx context.Context, slot model.Slot) error
	Update(ctx context.Context, slot model.Slot) error
}

// MemoryStore is a mutex-guarded in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string]model.Slot
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: map[string]model.Slot{}}
}

// Get returns the slot with the given id.
func (s *MemoryStore) Get(_ context.Context, id string) (model.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.slots[id]
	if !ok {
		return model.Slot{}, ErrUnknownSlot
	}
	return slot, nil
}

// Put creates or replaces the slot unconditionally. Used for seeding from
// the production-planning system.
func (s *MemoryStore) Put(_ context.Context, slot model.Slot) error {
	if err := slot.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.slots[slot.ID] = slot
	s.mu.Unlock()
	return nil
}

// Update stores the slot if its version still matches.
func (s *MemoryStore) Update(_ context.Context, slot model.Slot) error {
	if err := slot.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.slots[slot.ID]
	if !ok {
		return ErrUnknownSlot
	}
	if current.Version != slot.Version {
		return ErrConflict
	}
	slot.Version++
	s.slots[slot.ID] = slot
	return nil
}
