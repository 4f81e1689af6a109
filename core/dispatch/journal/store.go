// Package journal persists committed dispatch records. The journal is
// append-only: a dispatch is written once, after its ledger commits, and is
// never mutated afterwards.
package journal

import (
	"context"
	"sync"
	"time"

	"github.com/greenharbor/nursery-dispatch/core/model"
)

// Query defines filters for retrieving dispatch records.
type Query struct {
	Start   time.Time
	End     time.Time
	OrderID string
	Driver  string
}

// Store persists dispatches and supports querying.
type Store interface {
	Append(ctx context.Context, d model.Dispatch) error
	Query(ctx context.Context, q Query) ([]model.Dispatch, error)
	Close() error
}

// matches reports whether the dispatch passes the query filters.
func matches(d model.Dispatch, q Query) bool {
	if !q.Start.IsZero() && d.CreatedAt.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && d.CreatedAt.After(q.End) {
		return false
	}
	if q.Driver != "" && d.Driver != q.Driver {
		return false
	}
	if q.OrderID != "" {
		found := false
		for _, a := range d.Allocations {
			if a.OrderID == q.OrderID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// MemoryStore keeps dispatches in memory, mainly for tests.
type MemoryStore struct {
	mu   sync.RWMutex
	recs []model.Dispatch
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Append stores the dispatch.
func (s *MemoryStore) Append(_ context.Context, d model.Dispatch) error {
	s.mu.Lock()
	s.recs = append(s.recs, d)
	s.mu.Unlock()
	return nil
}

// Query returns dispatches matching q in append order.
func (s *MemoryStore) Query(_ context.Context, q Query) ([]model.Dispatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []model.Dispatch
	for _, d := range s.recs {
		if matches(d, q) {
			res = append(res, d)
		}
	}
	return res, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
