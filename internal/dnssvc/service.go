// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dnssvc implements the mutating operations of the control plane.
// Every write follows the same pipeline: validate and persist in one store
// transaction, render the full desired state, deploy it to BIND, append an
// audit entry and publish events. When the deploy is rejected or rolled
// back, the database change is reverted in a compensating transaction so
// the store never advertises state BIND refused to serve.
package dnssvc

import (
	"context"
	"time"

	"grimm.is/bindctl/internal/bind"
	"grimm.is/bindctl/internal/clock"
	"grimm.is/bindctl/internal/errors"
	"grimm.is/bindctl/internal/events"
	"grimm.is/bindctl/internal/logging"
	"grimm.is/bindctl/internal/model"
	"grimm.is/bindctl/internal/render"
	"grimm.is/bindctl/internal/store"
)

// Deployer is the slice of the BIND controller this service needs.
type Deployer interface {
	Deploy(ctx context.Context, files render.Files, reason string) (*bind.Result, error)
	LastHash() string
	SetLastHash(hash string)
	ReadLive() (render.Files, error)
}

// ProbeFunc performs one DNS query against an upstream server and returns
// the response time. Wired to the health monitor's prober by the daemon.
type ProbeFunc func(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error)

// Service coordinates store, renderer, controller and event bus.
type Service struct {
	store  *store.Store
	deploy Deployer
	bus    *events.Bus
	logger *logging.Logger
	clk    clock.Clock
	probe  ProbeFunc
}

func New(st *store.Store, deploy Deployer, bus *events.Bus, clk clock.Clock, probe ProbeFunc, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		store:  st,
		deploy: deploy,
		bus:    bus,
		logger: logger.WithComponent("dnssvc"),
		clk:    clk,
		probe:  probe,
	}
}

// mutation describes one write operation going through the pipeline.
type mutation struct {
	actor      string
	action     string // audit action, e.g. "zone.create"
	targetKind string
	targetID   string
	reason     string // deploy reason

	// apply performs the database change. compensate reverts it when the
	// deploy fails; it runs in its own transaction.
	apply      func(tx *store.Tx) error
	compensate func(tx *store.Tx) error

	// event published after a successful pipeline run.
	eventType events.Type
	eventData map[string]any
}

// run executes the full mutation pipeline.
func (s *Service) run(ctx context.Context, m *mutation) (*bind.Result, error) {
	beforeHash := s.deploy.LastHash()

	var snap *render.Snapshot
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := m.apply(tx); err != nil {
			return err
		}
		var err error
		snap, err = loadSnapshot(tx)
		return err
	})
	if err != nil {
		return nil, err
	}

	files, err := render.Render(snap)
	if err != nil {
		// Rendering refused the committed state; undo it.
		s.compensate(ctx, m, err)
		return nil, err
	}

	res, err := s.deploy.Deploy(ctx, files, m.reason)
	if err != nil {
		kind := errors.GetKind(err)
		if kind == errors.KindDeployRejected || kind == errors.KindDeployFailed {
			s.compensate(ctx, m, err)
			s.appendAudit(ctx, m, beforeHash, hashOf(res), false, err.Error())
			s.bus.Publish(events.BindReload, map[string]any{
				"status": "error",
				"reason": err.Error(),
			})
		}
		return res, err
	}

	s.appendAudit(ctx, m, beforeHash, res.Hash, true, "")
	s.bus.Publish(m.eventType, m.eventData)
	if res.Status == bind.StatusDeployed {
		s.bus.Publish(events.BindReload, map[string]any{
			"status":   "success",
			"hash":     res.Hash,
			"snapshot": res.SnapshotID,
		})
	}
	return res, nil
}

func hashOf(res *bind.Result) string {
	if res == nil {
		return ""
	}
	return res.Hash
}

func (s *Service) compensate(ctx context.Context, m *mutation, cause error) {
	if m.compensate == nil {
		return
	}
	if err := s.store.WithTx(ctx, m.compensate); err != nil {
		s.logger.Error("compensating transaction failed; store and BIND have diverged",
			"action", m.action, "target", m.targetID, "cause", cause, "error", err)
		return
	}
	s.appendAudit(ctx, m, "", "", false, "compensated: "+cause.Error())
	s.logger.Warn("database change reverted after deploy failure",
		"action", m.action, "target", m.targetID, "cause", cause)
}

func (s *Service) appendAudit(ctx context.Context, m *mutation, beforeHash, afterHash string, success bool, note string) {
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		_, err := tx.AppendAuditEntry(&model.AuditEntry{
			TS:         s.clk.Now().UTC(),
			Actor:      m.actor,
			Action:     m.action,
			TargetKind: m.targetKind,
			TargetID:   m.targetID,
			BeforeHash: beforeHash,
			AfterHash:  afterHash,
			Success:    success,
			Note:       note,
		})
		return err
	})
	if err != nil {
		s.logger.Error("audit append failed", "action", m.action, "error", err)
	}
}

// loadSnapshot assembles the full renderer input inside one transaction.
func loadSnapshot(tx *store.Tx) (*render.Snapshot, error) {
	zones, err := tx.ListZones(store.ZoneFilter{}, store.ListOpts{})
	if err != nil {
		return nil, err
	}
	recordsByZone := map[int64][]*model.Record{}
	for _, z := range zones {
		if z.Type != model.ZoneMaster {
			continue
		}
		recs, err := tx.ListRecords(z.ID, false)
		if err != nil {
			return nil, err
		}
		recordsByZone[z.ID] = recs
	}
	forwarders, err := tx.ListForwarders(false)
	if err != nil {
		return nil, err
	}
	rpzZones, err := tx.ListRPZZones()
	if err != nil {
		return nil, err
	}
	rules, err := tx.ListRPZRules(store.RPZFilter{}, store.ListOpts{})
	if err != nil {
		return nil, err
	}
	return &render.Snapshot{
		Zones:         zones,
		RecordsByZone: recordsByZone,
		Forwarders:    forwarders,
		RPZZones:      rpzZones,
		RPZRules:      rules,
	}, nil
}

// Reconcile renders from the database and deploys only when the result
// differs from what is live on disk. Run at startup: the on-disk tree is
// BIND's source of truth, the database is the control plane's, and this is
// where drift between them is corrected.
func (s *Service) Reconcile(ctx context.Context) error {
	var snap *render.Snapshot
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		snap, err = loadSnapshot(tx)
		return err
	})
	if err != nil {
		return err
	}
	files, err := render.Render(snap)
	if err != nil {
		return err
	}

	live, err := s.deploy.ReadLive()
	if err != nil {
		return err
	}
	if live.Hash() == files.Hash() {
		s.deploy.SetLastHash(files.Hash())
		s.logger.Info("reconciliation: live config matches database, no deploy needed",
			"hash", files.Hash())
		return nil
	}

	s.logger.Warn("reconciliation: live config drifted from database, deploying",
		"live_hash", live.Hash(), "want_hash", files.Hash())
	res, err := s.deploy.Deploy(ctx, files, "startup reconciliation")
	if err != nil {
		return err
	}
	s.bus.Publish(events.BindReload, map[string]any{
		"status": "success", "hash": res.Hash, "reason": "reconciliation",
	})
	return nil
}

// ReloadAll re-renders current state and deploys it unconditionally of any
// single entity, honoring the controller's no-change short-circuit.
func (s *Service) ReloadAll(ctx context.Context, actor string) (*bind.Result, error) {
	return s.run(ctx, &mutation{
		actor:      actor,
		action:     "bind.reload_all",
		targetKind: "bind",
		targetID:   "all",
		reason:     "manual reload",
		apply:      func(*store.Tx) error { return nil },
		eventType:  events.ConfigChange,
		eventData:  map[string]any{"scope": "reload_all", "actor": actor},
	})
}
