package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	dispatchesCreated  *prometheus.CounterVec
	plantsDispatched   prometheus.Counter
	capacityRejections *prometheus.CounterVec
	cratesPerDispatch  prometheus.Histogram
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, prometheus.Counter, *prometheus.CounterVec, prometheus.Histogram) {
	created := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatches_total",
			Help: "Number of dispatch creation attempts by outcome",
		},
		[]string{"outcome"},
	)
	plants := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plants_dispatched_total",
			Help: "Total plants committed to dispatches",
		},
	)
	rejections := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capacity_rejections_total",
			Help: "Capacity checks that blocked a dispatch or slot change",
		},
		[]string{"slot_id"},
	)
	crates := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_crates",
			Help:    "Crates per created dispatch",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		},
	)
	return created, plants, rejections, crates
}

func init() {
	dispatchesCreated, plantsDispatched, capacityRejections, cratesPerDispatch = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(dispatchesCreated, plantsDispatched, capacityRejections, cratesPerDispatch)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	dispatchesCreated, plantsDispatched, capacityRejections, cratesPerDispatch = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
