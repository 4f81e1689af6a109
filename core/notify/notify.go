// Package notify defines the outbound boundary towards external systems
// that react to dispatch activity, most importantly the inventory system
// consuming restock events.
package notify

import (
	"context"
	"sync"

	"github.com/greenharbor/nursery-dispatch/core/events"
)

// Notifier delivers domain events to external consumers. Delivery failures
// are the caller's to log; they never invalidate the committed state that
// produced the event.
type Notifier interface {
	DispatchCreated(ctx context.Context, ev events.DispatchCreated) error
	SlotRestocked(ctx context.Context, ev events.SlotRestocked) error
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) DispatchCreated(context.Context, events.DispatchCreated) error { return nil }

func (NopNotifier) SlotRestocked(context.Context, events.SlotRestocked) error { return nil }

// MockNotifier records events for tests.
type MockNotifier struct {
	mu         sync.Mutex
	Dispatches []events.DispatchCreated
	Restocks   []events.SlotRestocked
	Err        error
}

func (m *MockNotifier) DispatchCreated(_ context.Context, ev events.DispatchCreated) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Dispatches = append(m.Dispatches, ev)
	return nil
}

func (m *MockNotifier) SlotRestocked(_ context.Context, ev events.SlotRestocked) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Restocks = append(m.Restocks, ev)
	return nil
}
