package metrics

import coremetrics "github.com/greenharbor/nursery-dispatch/core/metrics"

// MultiSink fans allocation records out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordAllocations forwards the records to all sinks, returning the first
// error encountered.
func (m *MultiSink) RecordAllocations(recs []coremetrics.AllocationRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordAllocations(recs); err != nil {
			return err
		}
	}
	return nil
}

// RecordRejection forwards rejection events when supported by the sink.
func (m *MultiSink) RecordRejection(ev coremetrics.RejectionEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.RejectionRecorder); ok {
			if err := rec.RecordRejection(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordCompletion forwards completion events when supported by the sink.
func (m *MultiSink) RecordCompletion(ev coremetrics.CompletionEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.CompletionRecorder); ok {
			if err := rec.RecordCompletion(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
