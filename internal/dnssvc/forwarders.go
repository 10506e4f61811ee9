// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dnssvc

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"grimm.is/bindctl/internal/errors"
	"grimm.is/bindctl/internal/events"
	"grimm.is/bindctl/internal/model"
	"grimm.is/bindctl/internal/store"
)

// CreateForwarder persists a conditional forwarder and deploys.
func (s *Service) CreateForwarder(ctx context.Context, actor string, f *model.Forwarder) (*model.Forwarder, error) {
	f.Domain = model.NormalizeDomain(f.Domain)
	for i := range f.AdditionalDomains {
		f.AdditionalDomains[i] = model.NormalizeDomain(f.AdditionalDomains[i])
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	f.HealthStatus = model.HealthUnknown

	var created model.Forwarder
	_, err := s.run(ctx, &mutation{
		actor:      actor,
		action:     "forwarder.create",
		targetKind: "forwarder",
		targetID:   f.Name,
		reason:     "forwarder created: " + f.Name,
		apply: func(tx *store.Tx) error {
			id, err := tx.CreateForwarder(f)
			if err != nil {
				return err
			}
			f.ID = id
			created = *f
			return nil
		},
		compensate: func(tx *store.Tx) error {
			return tx.DeleteForwarder(created.ID)
		},
		eventType: events.ForwarderCreated,
		eventData: map[string]any{"id": f.ID, "name": f.Name, "domain": f.Domain},
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateForwarder applies operator edits. Health columns are owned by the
// monitor and never written here.
func (s *Service) UpdateForwarder(ctx context.Context, actor string, f *model.Forwarder) (*model.Forwarder, error) {
	f.Domain = model.NormalizeDomain(f.Domain)
	for i := range f.AdditionalDomains {
		f.AdditionalDomains[i] = model.NormalizeDomain(f.AdditionalDomains[i])
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var before, after model.Forwarder
	_, err := s.run(ctx, &mutation{
		actor:      actor,
		action:     "forwarder.update",
		targetKind: "forwarder",
		targetID:   strconv.FormatInt(f.ID, 10),
		reason:     "forwarder updated: " + f.Name,
		apply: func(tx *store.Tx) error {
			cur, err := tx.GetForwarder(f.ID)
			if err != nil {
				return err
			}
			before = *cur
			if err := tx.UpdateForwarder(f); err != nil {
				return err
			}
			after = *f
			return nil
		},
		compensate: func(tx *store.Tx) error {
			restored := before
			restored.Version = after.Version
			return tx.UpdateForwarder(&restored)
		},
		eventType: events.ForwarderUpdated,
		eventData: map[string]any{"id": f.ID, "name": f.Name},
	})
	if err != nil {
		return nil, err
	}
	return &after, nil
}

// ToggleForwarder flips is_active.
func (s *Service) ToggleForwarder(ctx context.Context, actor string, id int64, active bool) (*model.Forwarder, error) {
	var before, after model.Forwarder
	_, err := s.run(ctx, &mutation{
		actor:      actor,
		action:     "forwarder.toggle",
		targetKind: "forwarder",
		targetID:   strconv.FormatInt(id, 10),
		reason:     "forwarder toggled",
		apply: func(tx *store.Tx) error {
			cur, err := tx.GetForwarder(id)
			if err != nil {
				return err
			}
			before = *cur
			cur.IsActive = active
			if err := tx.UpdateForwarder(cur); err != nil {
				return err
			}
			after = *cur
			return nil
		},
		compensate: func(tx *store.Tx) error {
			restored := before
			restored.Version = after.Version
			return tx.UpdateForwarder(&restored)
		},
		eventType: events.ForwarderUpdated,
		eventData: map[string]any{"id": id, "is_active": active},
	})
	if err != nil {
		return nil, err
	}
	return &after, nil
}

// DeleteForwarder removes a forwarder and deploys.
func (s *Service) DeleteForwarder(ctx context.Context, actor string, id int64) error {
	var before model.Forwarder
	_, err := s.run(ctx, &mutation{
		actor:      actor,
		action:     "forwarder.delete",
		targetKind: "forwarder",
		targetID:   strconv.FormatInt(id, 10),
		reason:     "forwarder deleted",
		apply: func(tx *store.Tx) error {
			cur, err := tx.GetForwarder(id)
			if err != nil {
				return err
			}
			before = *cur
			return tx.DeleteForwarder(id)
		},
		compensate: func(tx *store.Tx) error {
			restored := before
			_, err := tx.CreateForwarder(&restored)
			return err
		},
		eventType: events.ForwarderDeleted,
		eventData: map[string]any{"id": id, "name": before.Name},
	})
	return err
}

// ServerTestResult is one server's outcome from TestForwarder.
type ServerTestResult struct {
	IP         string `json:"ip"`
	Port       int    `json:"port"`
	OK         bool   `json:"ok"`
	ResponseMs int64  `json:"response_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// TestForwarder probes every enabled server of a forwarder once, without
// touching stored health state. Used by the UI's "test" button.
func (s *Service) TestForwarder(ctx context.Context, id int64) ([]ServerTestResult, error) {
	if s.probe == nil {
		return nil, errors.New(errors.KindInternal, "no prober configured")
	}
	var fwd *model.Forwarder
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		fwd, err = tx.GetForwarder(id)
		return err
	})
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(fwd.HealthCheck.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	var results []ServerTestResult
	for _, srv := range fwd.Servers {
		if !srv.Enabled {
			continue
		}
		port := srv.Port
		if port == 0 {
			port = 53
		}
		addr := fmt.Sprintf("%s:%d", srv.IP, port)
		res := ServerTestResult{IP: srv.IP, Port: port}
		if rtt, err := s.probe(ctx, addr, timeout); err != nil {
			res.Error = err.Error()
		} else {
			res.OK = true
			res.ResponseMs = rtt.Milliseconds()
		}
		results = append(results, res)
	}
	return results, nil
}

// GetForwarder and ListForwarders are read-only passthroughs.
func (s *Service) GetForwarder(ctx context.Context, id int64) (*model.Forwarder, error) {
	var f *model.Forwarder
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		f, err = tx.GetForwarder(id)
		return err
	})
	return f, err
}

func (s *Service) ListForwarders(ctx context.Context, activeOnly bool) ([]*model.Forwarder, error) {
	var fs []*model.Forwarder
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		fs, err = tx.ListForwarders(activeOnly)
		return err
	})
	return fs, err
}
