package metrics

import "time"

// AllocationRecord represents one order's share of a created dispatch.
type AllocationRecord struct {
	DispatchID string
	OrderID    string
	Driver     string
	Quantity   int
	Remaining  int
	Crates     int
	Time       time.Time
}

// MetricsSink records dispatch allocations for observability purposes.
type MetricsSink interface {
	RecordAllocations(recs []AllocationRecord) error
}

// RejectionEvent captures a capacity check that blocked a dispatch.
type RejectionEvent struct {
	SlotID    string
	Requested int
	Available int
	Time      time.Time
}

// RejectionRecorder records capacity rejections.
type RejectionRecorder interface {
	RecordRejection(ev RejectionEvent) error
}

// CompletionEvent captures an order completion.
type CompletionEvent struct {
	OrderID   string
	Returned  int
	Restocked bool
	Time      time.Time
}

// CompletionRecorder records order completions.
type CompletionRecorder interface {
	RecordCompletion(ev CompletionEvent) error
}

// NopSink implements MetricsSink with no-op methods.
type NopSink struct{}

func (NopSink) RecordAllocations([]AllocationRecord) error { return nil }

func (NopSink) RecordRejection(RejectionEvent) error { return nil }

func (NopSink) RecordCompletion(CompletionEvent) error { return nil }
