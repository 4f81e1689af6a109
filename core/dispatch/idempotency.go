package dispatch

import (
	"context"
	"sync"

	"github.com/greenharbor/nursery-dispatch/core/model"
)

// IdempotencyIndex maps request identifiers to the dispatch they created,
// so a retried request replays the original result instead of booking
// twice.
type IdempotencyIndex interface {
	Lookup(ctx context.Context, key string) (model.Dispatch, bool, error)
	Remember(ctx context.Context, key string, d model.Dispatch) error
}

// MemoryIdempotencyIndex keeps the index in memory. Durable deployments
// use the SQLite-backed index instead.
type MemoryIdempotencyIndex struct {
	mu   sync.RWMutex
	seen map[string]model.Dispatch
}

// NewMemoryIdempotencyIndex creates an empty index.
func NewMemoryIdempotencyIndex() *MemoryIdempotencyIndex {
	return &MemoryIdempotencyIndex{seen: map[string]model.Dispatch{}}
}

// Lookup returns the dispatch recorded under key, if any.
func (i *MemoryIdempotencyIndex) Lookup(_ context.Context, key string) (model.Dispatch, bool, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	d, ok := i.seen[key]
	return d, ok, nil
}

// Remember records the dispatch under key.
func (i *MemoryIdempotencyIndex) Remember(_ context.Context, key string, d model.Dispatch) error {
	i.mu.Lock()
	i.seen[key] = d
	i.mu.Unlock()
	return nil
}
