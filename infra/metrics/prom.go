package metrics

import (
	"context"
	"net/http"
	"time"

	coremetrics "github.com/greenharbor/nursery-dispatch/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromSink records dispatch allocations in Prometheus metrics.
type PromSink struct {
	allocations *prometheus.CounterVec
	plants      *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	completions *prometheus.CounterVec
	returned    prometheus.Counter
}

// NewPromSink registers allocation metrics on the default Prometheus
// registerer. The Prometheus server should be started separately using
// cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.MetricsSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (coremetrics.MetricsSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	allocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_events_total",
		Help: "Total number of order allocations across created dispatches",
	}, []string{"driver"})
	plants := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_plants_total",
		Help: "Total plants allocated across created dispatches",
	}, []string{"driver"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_capacity_rejections_total",
		Help: "Capacity checks that blocked a dispatch",
	}, []string{"slot_id"})
	completions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_completions_total",
		Help: "Orders closed out, by restock outcome",
	}, []string{"restocked"})
	returned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "order_returned_plants_total",
		Help: "Plants written off at order completion",
	})

	if err := reg.Register(allocations); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			allocations = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(plants); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			plants = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(rejections); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			rejections = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(completions); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			completions = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(returned); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			returned = are.ExistingCollector.(prometheus.Counter)
		} else {
			return nil, err
		}
	}

	return &PromSink{
		allocations: allocations,
		plants:      plants,
		rejections:  rejections,
		completions: completions,
		returned:    returned,
	}, nil
}

// RecordAllocations increments allocation counters per record.
func (s *PromSink) RecordAllocations(recs []coremetrics.AllocationRecord) error {
	for _, r := range recs {
		s.allocations.WithLabelValues(r.Driver).Inc()
		s.plants.WithLabelValues(r.Driver).Add(float64(r.Quantity))
	}
	return nil
}

// RecordRejection counts a blocked capacity check.
func (s *PromSink) RecordRejection(ev coremetrics.RejectionEvent) error {
	s.rejections.WithLabelValues(ev.SlotID).Inc()
	return nil
}

// RecordCompletion counts a closed order and its write-off.
func (s *PromSink) RecordCompletion(ev coremetrics.CompletionEvent) error {
	label := "false"
	if ev.Restocked {
		label = "true"
	}
	s.completions.WithLabelValues(label).Inc()
	s.returned.Add(float64(ev.Returned))
	return nil
}

// StartPromServer starts an HTTP server exposing Prometheus metrics on the
// given address. The server runs until the provided context is canceled.
// A dedicated ServeMux is used to avoid interfering with other handlers.
func StartPromServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
