// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dnssvc

import (
	"context"
	"strconv"

	"grimm.is/bindctl/internal/bind"
	"grimm.is/bindctl/internal/errors"
	"grimm.is/bindctl/internal/events"
	"grimm.is/bindctl/internal/model"
	"grimm.is/bindctl/internal/render"
	"grimm.is/bindctl/internal/store"
)

// CreateZone validates and persists a new zone, then deploys. Master zones
// start at the serial the date policy assigns.
func (s *Service) CreateZone(ctx context.Context, actor string, z *model.Zone) (*model.Zone, error) {
	z.Name = model.NormalizeDomain(z.Name)
	if err := z.Validate(); err != nil {
		return nil, err
	}
	if z.Type == model.ZoneMaster {
		z.Serial, _ = render.NextSerial(0, s.clk.Now())
	}
	z.CreatedBy = actor

	var created model.Zone
	_, err := s.run(ctx, &mutation{
		actor:      actor,
		action:     "zone.create",
		targetKind: "zone",
		targetID:   z.Name,
		reason:     "zone created: " + z.Name,
		apply: func(tx *store.Tx) error {
			id, err := tx.CreateZone(z)
			if err != nil {
				return err
			}
			z.ID = id
			created = *z
			return nil
		},
		compensate: func(tx *store.Tx) error {
			return tx.DeleteZone(created.ID)
		},
		eventType: events.ZoneCreated,
		eventData: map[string]any{"id": z.ID, "name": z.Name, "type": string(z.Type)},
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateZone applies operator edits to SOA parameters, masters and
// forwarder lists. The zone's serial advances so secondaries notice.
func (s *Service) UpdateZone(ctx context.Context, actor string, z *model.Zone) (*model.Zone, error) {
	z.Name = model.NormalizeDomain(z.Name)
	if err := z.Validate(); err != nil {
		return nil, err
	}

	var before, after model.Zone
	_, err := s.run(ctx, &mutation{
		actor:      actor,
		action:     "zone.update",
		targetKind: "zone",
		targetID:   strconv.FormatInt(z.ID, 10),
		reason:     "zone updated: " + z.Name,
		apply: func(tx *store.Tx) error {
			cur, err := tx.GetZone(z.ID)
			if err != nil {
				return err
			}
			before = *cur
			if cur.Name != z.Name {
				return errors.New(errors.KindValidation, "zone rename is not supported; delete and recreate")
			}
			if z.Type == model.ZoneMaster {
				z.Serial = s.bumpSerial(cur.Serial, z.Name)
			}
			if err := tx.UpdateZone(z); err != nil {
				return err
			}
			after = *z
			return nil
		},
		compensate: func(tx *store.Tx) error {
			restored := before
			restored.Version = after.Version
			return tx.UpdateZone(&restored)
		},
		eventType: events.ZoneUpdated,
		eventData: map[string]any{"id": z.ID, "name": z.Name},
	})
	if err != nil {
		return nil, err
	}
	return &after, nil
}

// ToggleZone flips is_active without touching anything else.
func (s *Service) ToggleZone(ctx context.Context, actor string, id int64, active bool) (*model.Zone, error) {
	var before, after model.Zone
	_, err := s.run(ctx, &mutation{
		actor:      actor,
		action:     "zone.toggle",
		targetKind: "zone",
		targetID:   strconv.FormatInt(id, 10),
		reason:     "zone toggled",
		apply: func(tx *store.Tx) error {
			cur, err := tx.GetZone(id)
			if err != nil {
				return err
			}
			before = *cur
			cur.IsActive = active
			if cur.Type == model.ZoneMaster {
				cur.Serial = s.bumpSerial(cur.Serial, cur.Name)
			}
			if err := tx.UpdateZone(cur); err != nil {
				return err
			}
			after = *cur
			return nil
		},
		compensate: func(tx *store.Tx) error {
			restored := before
			restored.Version = after.Version
			return tx.UpdateZone(&restored)
		},
		eventType: events.ZoneUpdated,
		eventData: map[string]any{"id": id, "is_active": active},
	})
	if err != nil {
		return nil, err
	}
	return &after, nil
}

// DeleteZone removes the zone and, via cascade, its records.
func (s *Service) DeleteZone(ctx context.Context, actor string, id int64) error {
	var before model.Zone
	var records []*model.Record
	_, err := s.run(ctx, &mutation{
		actor:      actor,
		action:     "zone.delete",
		targetKind: "zone",
		targetID:   strconv.FormatInt(id, 10),
		reason:     "zone deleted",
		apply: func(tx *store.Tx) error {
			cur, err := tx.GetZone(id)
			if err != nil {
				return err
			}
			before = *cur
			if cur.Type == model.ZoneMaster {
				records, err = tx.ListRecords(id, false)
				if err != nil {
					return err
				}
			}
			return tx.DeleteZone(id)
		},
		compensate: func(tx *store.Tx) error {
			restored := before
			newID, err := tx.CreateZone(&restored)
			if err != nil {
				return err
			}
			for _, r := range records {
				rec := *r
				rec.ZoneID = newID
				if _, err := tx.CreateRecord(&rec); err != nil {
					return err
				}
			}
			return nil
		},
		eventType: events.ZoneDeleted,
		eventData: map[string]any{"id": id, "name": before.Name},
	})
	return err
}

// ReloadZone re-renders and deploys without database changes, bumping the
// zone serial so downstream servers re-transfer.
func (s *Service) ReloadZone(ctx context.Context, actor string, id int64) (*bind.Result, error) {
	var zone model.Zone
	return s.run(ctx, &mutation{
		actor:      actor,
		action:     "zone.reload",
		targetKind: "zone",
		targetID:   strconv.FormatInt(id, 10),
		reason:     "zone reload",
		apply: func(tx *store.Tx) error {
			cur, err := tx.GetZone(id)
			if err != nil {
				return err
			}
			if cur.Type == model.ZoneMaster {
				cur.Serial = s.bumpSerial(cur.Serial, cur.Name)
				if err := tx.UpdateZone(cur); err != nil {
					return err
				}
			}
			zone = *cur
			return nil
		},
		eventType: events.ZoneUpdated,
		eventData: map[string]any{"id": id, "name": zone.Name, "reload": true},
	})
}

// GetZone and ListZones are read-only passthroughs.
func (s *Service) GetZone(ctx context.Context, id int64) (*model.Zone, error) {
	var z *model.Zone
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		z, err = tx.GetZone(id)
		return err
	})
	return z, err
}

func (s *Service) ListZones(ctx context.Context, f store.ZoneFilter, opts store.ListOpts) ([]*model.Zone, error) {
	var zones []*model.Zone
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		zones, err = tx.ListZones(f, opts)
		return err
	})
	return zones, err
}

// bumpSerial advances a master zone serial under the date policy, logging
// when the date form is unusable.
func (s *Service) bumpSerial(old uint32, zone string) uint32 {
	next, degraded := render.NextSerial(old, s.clk.Now())
	if degraded {
		s.logger.Warn("zone serial outside date window, using plain increment",
			"zone", zone, "serial", next)
	}
	return next
}
