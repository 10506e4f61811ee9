// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dnssvc

import (
	"context"
	"strconv"

	"grimm.is/bindctl/internal/errors"
	"grimm.is/bindctl/internal/events"
	"grimm.is/bindctl/internal/model"
	"grimm.is/bindctl/internal/store"
)

// checkCNAME enforces the exclusion rule at write time: a CNAME may not
// coexist with any other record at the same name, in either direction.
func checkCNAME(tx *store.Tx, zoneID int64, rec *model.Record, excludeID int64) error {
	siblings, err := tx.ListRecordsByName(zoneID, rec.Name)
	if err != nil {
		return err
	}
	for _, sib := range siblings {
		if sib.ID == excludeID {
			continue
		}
		if rec.Type == model.TypeCNAME || sib.Type == model.TypeCNAME {
			return errors.Attr(
				errors.Errorf(errors.KindValidation, "CNAME conflict at %s", rec.Name),
				"kind", "invariant_violation")
		}
	}
	return nil
}

// prepareRecord normalizes and validates a record against its zone. The
// zone is returned so callers can bump its serial in the same transaction.
func (s *Service) prepareRecord(tx *store.Tx, rec *model.Record, excludeID int64) (*model.Zone, error) {
	zone, err := tx.GetZone(rec.ZoneID)
	if err != nil {
		return nil, err
	}
	if zone.Type != model.ZoneMaster {
		return nil, errors.Errorf(errors.KindValidation, "records require a master zone, %s is %s", zone.Name, zone.Type)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if err := checkCNAME(tx, rec.ZoneID, rec, excludeID); err != nil {
		return nil, err
	}
	return zone, nil
}

func (s *Service) touchZoneSerial(tx *store.Tx, zone *model.Zone) error {
	zone.Serial = s.bumpSerial(zone.Serial, zone.Name)
	return tx.UpdateZone(zone)
}

// CreateRecord adds one record and deploys.
func (s *Service) CreateRecord(ctx context.Context, actor string, rec *model.Record) (*model.Record, error) {
	var created model.Record
	_, err := s.run(ctx, &mutation{
		actor:      actor,
		action:     "record.create",
		targetKind: "record",
		targetID:   rec.Name,
		reason:     "record created: " + rec.Name,
		apply: func(tx *store.Tx) error {
			zone, err := s.prepareRecord(tx, rec, 0)
			if err != nil {
				return err
			}
			id, err := tx.CreateRecord(rec)
			if err != nil {
				return err
			}
			rec.ID = id
			created = *rec
			return s.touchZoneSerial(tx, zone)
		},
		compensate: func(tx *store.Tx) error {
			return tx.DeleteRecord(created.ID)
		},
		eventType: events.RecordCreated,
		eventData: map[string]any{
			"id": rec.ID, "zone_id": rec.ZoneID, "name": rec.Name,
			"type": string(rec.Type), "value": rec.Value,
		},
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// BulkCreateRecords inserts a batch under one transaction and one deploy.
// Any invalid record fails the whole batch.
func (s *Service) BulkCreateRecords(ctx context.Context, actor string, zoneID int64, recs []*model.Record) ([]*model.Record, error) {
	if len(recs) == 0 {
		return nil, errors.New(errors.KindValidation, "empty record batch")
	}
	var createdIDs []int64
	_, err := s.run(ctx, &mutation{
		actor:      actor,
		action:     "record.bulk_create",
		targetKind: "zone",
		targetID:   strconv.FormatInt(zoneID, 10),
		reason:     "bulk record import",
		apply: func(tx *store.Tx) error {
			var zone *model.Zone
			for _, rec := range recs {
				rec.ZoneID = zoneID
				z, err := s.prepareRecord(tx, rec, 0)
				if err != nil {
					return err
				}
				zone = z
				id, err := tx.CreateRecord(rec)
				if err != nil {
					return err
				}
				rec.ID = id
				createdIDs = append(createdIDs, id)
			}
			return s.touchZoneSerial(tx, zone)
		},
		compensate: func(tx *store.Tx) error {
			for _, id := range createdIDs {
				if err := tx.DeleteRecord(id); err != nil {
					return err
				}
			}
			return nil
		},
		eventType: events.RecordCreated,
		eventData: map[string]any{"zone_id": zoneID, "count": len(recs), "bulk": true},
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// UpdateRecord replaces a record's content.
func (s *Service) UpdateRecord(ctx context.Context, actor string, rec *model.Record) (*model.Record, error) {
	var before, after model.Record
	_, err := s.run(ctx, &mutation{
		actor:      actor,
		action:     "record.update",
		targetKind: "record",
		targetID:   strconv.FormatInt(rec.ID, 10),
		reason:     "record updated: " + rec.Name,
		apply: func(tx *store.Tx) error {
			cur, err := tx.GetRecord(rec.ID)
			if err != nil {
				return err
			}
			before = *cur
			rec.ZoneID = cur.ZoneID
			zone, err := s.prepareRecord(tx, rec, rec.ID)
			if err != nil {
				return err
			}
			if err := tx.UpdateRecord(rec); err != nil {
				return err
			}
			after = *rec
			return s.touchZoneSerial(tx, zone)
		},
		compensate: func(tx *store.Tx) error {
			return tx.UpdateRecord(&before)
		},
		eventType: events.RecordUpdated,
		eventData: map[string]any{"id": rec.ID, "zone_id": rec.ZoneID, "name": rec.Name},
	})
	if err != nil {
		return nil, err
	}
	return &after, nil
}

// DeleteRecord removes one record and deploys.
func (s *Service) DeleteRecord(ctx context.Context, actor string, id int64) error {
	var before model.Record
	_, err := s.run(ctx, &mutation{
		actor:      actor,
		action:     "record.delete",
		targetKind: "record",
		targetID:   strconv.FormatInt(id, 10),
		reason:     "record deleted",
		apply: func(tx *store.Tx) error {
			cur, err := tx.GetRecord(id)
			if err != nil {
				return err
			}
			before = *cur
			zone, err := tx.GetZone(cur.ZoneID)
			if err != nil {
				return err
			}
			if err := tx.DeleteRecord(id); err != nil {
				return err
			}
			return s.touchZoneSerial(tx, zone)
		},
		compensate: func(tx *store.Tx) error {
			restored := before
			_, err := tx.CreateRecord(&restored)
			return err
		},
		eventType: events.RecordDeleted,
		eventData: map[string]any{"id": id, "zone_id": before.ZoneID, "name": before.Name},
	})
	return err
}

// ListRecords is a read-only passthrough.
func (s *Service) ListRecords(ctx context.Context, zoneID int64) ([]*model.Record, error) {
	var recs []*model.Record
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		recs, err = tx.ListRecords(zoneID, false)
		return err
	})
	return recs, err
}
