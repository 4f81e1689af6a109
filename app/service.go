// Package app wires configuration, stores, sinks and the dispatch engine
// into a runnable service.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/greenharbor/nursery-dispatch/api"
	"github.com/greenharbor/nursery-dispatch/config"
	"github.com/greenharbor/nursery-dispatch/core/billing"
	"github.com/greenharbor/nursery-dispatch/core/capacity"
	"github.com/greenharbor/nursery-dispatch/core/dispatch"
	"github.com/greenharbor/nursery-dispatch/core/dispatch/journal"
	"github.com/greenharbor/nursery-dispatch/core/fulfillment"
	coremetrics "github.com/greenharbor/nursery-dispatch/core/metrics"
	"github.com/greenharbor/nursery-dispatch/core/model"
	"github.com/greenharbor/nursery-dispatch/core/notify"
	"github.com/greenharbor/nursery-dispatch/infra/logger"
	"github.com/greenharbor/nursery-dispatch/infra/metrics"
	"github.com/greenharbor/nursery-dispatch/infra/mqtt"
	"github.com/greenharbor/nursery-dispatch/infra/sqlitestore"
	"github.com/greenharbor/nursery-dispatch/internal/eventbus"
)

// Service orchestrates the dispatch engine and its HTTP surface.
type Service struct {
	Engine *dispatch.Engine
	Table  model.CavityTable
	// Billing records payments until a billing system integration exists.
	Billing *billing.StaticReader

	srvAddr     string
	authToken   string
	promEnabled bool
	promPort    string

	db       *sqlitestore.DB
	jstore   journal.Store
	notifier *mqtt.PahoNotifier
	log      logger.Logger
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	types := make([]model.CavityType, 0, len(cfg.Catalog.Cavities))
	for _, c := range cfg.Catalog.Cavities {
		types = append(types, model.CavityType{ID: c.ID, CavitySize: c.CavitySize, NumberPerCrate: c.NumberPerCrate})
	}
	table, err := model.NewCavityTable(types...)
	if err != nil {
		return nil, fmt.Errorf("cavity table: %w", err)
	}

	svc := &Service{
		Table:       table,
		srvAddr:     cfg.Server.Addr,
		authToken:   cfg.Server.AuthToken,
		promEnabled: cfg.Metrics.PrometheusEnabled,
		promPort:    cfg.Metrics.PrometheusPort,
		log:         logg,
	}

	var (
		slotStore  capacity.Store
		orderStore fulfillment.Store
		idem       dispatch.IdempotencyIndex
	)
	switch cfg.Storage.Backend {
	case "sqlite":
		db, err := sqlitestore.Open(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		svc.db = db
		slotStore = db.Slots()
		orderStore = db.Orders()
		idem = db.Idempotency()
	default:
		slotStore = capacity.NewMemoryStore()
		orderStore = fulfillment.NewMemoryStore()
	}

	var jstore journal.Store
	switch cfg.Journal.Backend {
	case "jsonl":
		jstore, err = journal.NewJSONLStore(cfg.Journal.Path)
	case "sqlite":
		jstore, err = journal.NewSQLiteStore(cfg.Journal.Path)
	default:
		jstore = journal.NewMemoryStore()
	}
	if err != nil {
		svc.closePartial()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	svc.jstore = jstore

	var sinks []coremetrics.MetricsSink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink(cfg.Metrics)
		if err != nil {
			svc.closePartial()
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket))
	}
	var sink coremetrics.MetricsSink
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	var notifier notify.Notifier
	if cfg.MQTT.Enabled {
		paho, err := mqtt.NewPahoNotifier(cfg.MQTT.Config)
		if err != nil {
			svc.closePartial()
			return nil, fmt.Errorf("mqtt notifier: %w", err)
		}
		svc.notifier = paho
		notifier = paho
	}

	svc.Billing = billing.NewStaticReader()
	slotLedger := capacity.NewLedger(slotStore, logger.New("capacity"))
	orderLedger := fulfillment.NewLedger(orderStore, svc.Billing, slotLedger, logger.New("fulfillment"))

	engine, err := dispatch.NewEngine(slotLedger, orderLedger, table, jstore, idem, eventbus.New[any](), notifier, sink, logger.New("dispatch"))
	if err != nil {
		svc.closePartial()
		return nil, fmt.Errorf("dispatch engine: %w", err)
	}
	svc.Engine = engine
	return svc, nil
}

// Run serves the API and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.promEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.promPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	srv := &http.Server{Addr: s.srvAddr, Handler: api.NewMux(s.Engine, s.Table, s.authToken)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Infof("serving dispatch API on %s", s.srvAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.notifier != nil {
		s.notifier.Close()
	}
	return s.closePartial()
}

func (s *Service) closePartial() error {
	var first error
	if s.jstore != nil {
		if err := s.jstore.Close(); err != nil {
			first = err
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
