// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package daemon assembles every component into the running control plane
// and owns startup and shutdown ordering.
package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"grimm.is/bindctl/internal/audit"
	"grimm.is/bindctl/internal/auth"
	"grimm.is/bindctl/internal/bind"
	"grimm.is/bindctl/internal/clock"
	"grimm.is/bindctl/internal/config"
	"grimm.is/bindctl/internal/dnssvc"
	"grimm.is/bindctl/internal/errors"
	"grimm.is/bindctl/internal/events"
	"grimm.is/bindctl/internal/events/ws"
	"grimm.is/bindctl/internal/health"
	"grimm.is/bindctl/internal/logging"
	"grimm.is/bindctl/internal/metrics"
	"grimm.is/bindctl/internal/scheduler"
	"grimm.is/bindctl/internal/store"
	"grimm.is/bindctl/internal/threatfeed"
)

const (
	healthTickInterval = 15 * time.Second
	feedTickInterval   = time.Minute
	compactInterval    = 24 * time.Hour
	gaugeInterval      = 15 * time.Second
	coalesceQuiet      = 2 * time.Second
	shutdownGrace      = 30 * time.Second
)

// Daemon holds every wired component. Construction validates, Start runs.
type Daemon struct {
	cfg    *config.Config
	dur    config.Durations
	logger *logging.Logger
	clk    clock.Clock

	store      *store.Store
	bus        *events.Bus
	controller *bind.Controller
	coalescer  *bind.Coalescer
	svc        *dnssvc.Service
	monitor    *health.Monitor
	ingestor   *threatfeed.Ingestor
	audit      *audit.Service
	hub        *ws.Hub
	registry   *metrics.Registry
	observer   *metrics.Observer
	sched      *scheduler.Scheduler
	httpSrv    *http.Server

	startedAt time.Time
}

// New wires the daemon from configuration. Nothing is started yet.
func New(cfg *config.Config, logger *logging.Logger) (*Daemon, error) {
	dur, err := cfg.ParseDurations()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "parsing configuration")
	}
	if logger == nil {
		logger = logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	}
	clk := clock.New()

	if err := CheckNamedConf(cfg.BindConfigDir); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DBURL, dur.DBTimeout, logger)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(logger)
	controller := bind.New(bind.Config{
		ConfigDir:      cfg.BindConfigDir,
		SnapshotDir:    filepath.Join(cfg.BindConfigDir, "snapshots"),
		ServiceName:    cfg.BindServiceName,
		ReloadTimeout:  dur.ReloadTimeout,
		RestartTimeout: dur.RestartTimeout,
		SnapshotKeep:   cfg.SnapshotRetentionCount,
	}, clk, logger)

	svc := dnssvc.New(st, controller, bus, clk, health.Prober(cfg.ProbeName), logger)

	d := &Daemon{
		cfg:        cfg,
		dur:        dur,
		logger:     logger.WithComponent("daemon"),
		clk:        clk,
		store:      st,
		bus:        bus,
		controller: controller,
		svc:        svc,
		monitor:    health.NewMonitor(st, bus, clk, cfg.ProbeName, *cfg.AlertThresholds, logger),
		ingestor:   threatfeed.NewIngestor(st, svc, bus, clk, dur.FeedHTTPTimeout, logger),
		audit:      audit.New(st, controller, bus, clk, logger),
		registry:   metrics.New(),
		sched:      scheduler.New(clk, logger),
	}
	d.coalescer = bind.NewCoalescer(coalesceQuiet, dur.DeployCoalesceMaxWait, clk, logger,
		func(ctx context.Context, reasons []string) error {
			_, err := svc.ReloadAll(ctx, "system")
			return err
		})
	d.observer = metrics.NewObserver(d.registry, bus, logger)
	d.hub = ws.NewHub(bus, auth.NewVerifier(cfg.TokenSecret), ws.Options{
		QueueSize:    cfg.WSMaxQueue,
		PingInterval: dur.WSPingInterval,
	}, logger)
	d.httpSrv = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: d.routes(),
	}
	return d, nil
}

// Service exposes the mutation API, mainly for embedding and tests.
func (d *Daemon) Service() *dnssvc.Service { return d.svc }

// Audit exposes the audit trail and rollback API.
func (d *Daemon) Audit() *audit.Service { return d.audit }

// TriggerReload queues a coalesced full re-render and deploy.
func (d *Daemon) TriggerReload(reason string) { d.coalescer.Trigger(reason) }

// Start brings the daemon up: seed data, reconcile the live tree, then the
// background loops and the listener.
func (d *Daemon) Start(ctx context.Context) error {
	d.startedAt = d.clk.Now()

	if err := threatfeed.SeedRegistry(ctx, d.store); err != nil {
		return errors.Wrap(err, errors.KindInternal, "seeding feed registry")
	}
	if err := d.svc.Reconcile(ctx); err != nil {
		// A failed reconcile leaves BIND serving its current config; the
		// daemon still comes up so the operator can fix and redeploy.
		d.logger.Error("startup reconcile failed", "error", err)
	}

	d.observer.Start(ctx)
	d.hub.Start(ctx)
	d.coalescer.Start(ctx)

	retention := time.Duration(d.cfg.SampleRetentionDays) * 24 * time.Hour
	d.sched.Add("health-probe", healthTickInterval, true, d.monitor.Tick)
	d.sched.Add("feed-refresh", feedTickInterval, true, d.ingestor.Tick)
	d.sched.Add("health-compact", compactInterval, false, func(ctx context.Context) error {
		return d.monitor.Compact(ctx, retention)
	})
	d.sched.Add("gauges", gaugeInterval, true, func(context.Context) error {
		d.registry.WSSessions.Set(float64(d.hub.SessionCount()))
		d.registry.Uptime.Set(d.clk.Now().Sub(d.startedAt).Seconds())
		for _, job := range []string{"health-probe", "feed-refresh", "health-compact"} {
			d.registry.SchedulerSkips.WithLabelValues(job).Set(float64(d.sched.Skipped(job)))
		}
		return nil
	})
	d.sched.Start(ctx)

	go func() {
		d.logger.Info("listening", "addr", d.cfg.ListenAddr)
		if err := d.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.logger.Error("http listener failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts components down in reverse start order.
func (d *Daemon) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := d.httpSrv.Shutdown(ctx); err != nil {
		d.logger.Warn("http shutdown incomplete", "error", err)
	}

	d.sched.Stop()
	d.coalescer.Stop()
	d.hub.Stop()
	d.observer.Stop()

	if err := d.store.Close(); err != nil {
		d.logger.Warn("closing store", "error", err)
	}
	d.logger.Info("daemon stopped")
}

// Run starts the daemon and blocks until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Stop()
	return nil
}

func (d *Daemon) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/websocket/ws/{connection_type}", d.hub.Handler)
	r.Handle("/metrics", d.registry.Handler())
	r.HandleFunc("/healthz", d.handleHealthz).Methods(http.MethodGet)
	return r
}

func (d *Daemon) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"uptime_s":  int64(d.clk.Now().Sub(d.startedAt).Seconds()),
		"sessions":  d.hub.SessionCount(),
		"last_hash": d.controller.LastHash(),
	})
}
