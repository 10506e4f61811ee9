// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package audit exposes the append-only mutation trail and snapshot
// rollback. Mutations write their own entries inside the deploy pipeline;
// this package reads them back and records the one mutation that does not
// go through that pipeline, restoring a configuration snapshot.
package audit

import (
	"context"

	"grimm.is/bindctl/internal/bind"
	"grimm.is/bindctl/internal/clock"
	"grimm.is/bindctl/internal/events"
	"grimm.is/bindctl/internal/logging"
	"grimm.is/bindctl/internal/model"
	"grimm.is/bindctl/internal/store"
)

// Restorer is the slice of the bind controller rollback needs.
type Restorer interface {
	RestoreSnapshot(ctx context.Context, id string) (*bind.Result, error)
	ListSnapshots() ([]bind.Snapshot, error)
}

// Service reads the audit trail and performs snapshot rollbacks.
type Service struct {
	store    *store.Store
	restorer Restorer
	bus      *events.Bus
	clk      clock.Clock
	logger   *logging.Logger
}

func New(st *store.Store, restorer Restorer, bus *events.Bus, clk clock.Clock, logger *logging.Logger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:    st,
		restorer: restorer,
		bus:      bus,
		clk:      clk,
		logger:   logger.WithComponent("audit"),
	}
}

// List returns audit entries newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*model.AuditEntry, error) {
	var entries []*model.AuditEntry
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		entries, err = tx.ListAuditEntries(limit, offset)
		return err
	})
	return entries, err
}

// Snapshots lists the available configuration snapshots, newest first.
func (s *Service) Snapshots() ([]bind.Snapshot, error) {
	return s.restorer.ListSnapshots()
}

// Rollback restores the named snapshot onto the live BIND tree. The
// database is untouched: the stored zone and rule state becomes the live
// tree again at the next mutation or reconcile, so a rollback is a way to
// get BIND answering while the bad change is repaired, not a way to
// rewrite history.
func (s *Service) Rollback(ctx context.Context, actor, snapshotID string) (*bind.Result, error) {
	res, err := s.restorer.RestoreSnapshot(ctx, snapshotID)

	entry := &model.AuditEntry{
		TS:         s.clk.Now().UTC(),
		Actor:      actor,
		Action:     "config.rollback",
		TargetKind: "snapshot",
		TargetID:   snapshotID,
		Success:    err == nil,
	}
	if err != nil {
		entry.Note = err.Error()
	} else {
		entry.AfterHash = res.Hash
	}
	if auditErr := s.store.WithTx(ctx, func(tx *store.Tx) error {
		_, e := tx.AppendAuditEntry(entry)
		return e
	}); auditErr != nil {
		s.logger.Error("recording rollback audit entry failed", "error", auditErr)
	}

	if err != nil {
		return nil, err
	}

	s.logger.Warn("configuration rolled back, database state will win at next deploy",
		"snapshot", snapshotID, "actor", actor)
	s.bus.Publish(events.BindReload, map[string]any{
		"status":   "success",
		"reason":   "rollback",
		"snapshot": snapshotID,
		"actor":    actor,
	})
	s.bus.Publish(events.ConfigChange, map[string]any{
		"scope":    "rollback",
		"snapshot": snapshotID,
		"actor":    actor,
	})
	return res, nil
}
