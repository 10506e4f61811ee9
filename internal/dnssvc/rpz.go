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

// DefaultRPZPriority is assigned to policy zones first seen through a rule
// or feed rather than created explicitly.
const DefaultRPZPriority = 100

// CreateRPZRule adds one manual rule and deploys.
func (s *Service) CreateRPZRule(ctx context.Context, actor string, r *model.RPZRule) (*model.RPZRule, error) {
	r.Domain = model.NormalizeDomain(r.Domain)
	if r.Source == "" {
		r.Source = model.SourceManual
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	var created model.RPZRule
	_, err := s.run(ctx, &mutation{
		actor:      actor,
		action:     "rpz_rule.create",
		targetKind: "rpz_rule",
		targetID:   r.Domain,
		reason:     "rpz rule created: " + r.Domain,
		apply: func(tx *store.Tx) error {
			if err := tx.EnsureRPZZone(r.RPZZone, DefaultRPZPriority); err != nil {
				return err
			}
			id, err := tx.CreateRPZRule(r)
			if err != nil {
				return err
			}
			r.ID = id
			created = *r
			return nil
		},
		compensate: func(tx *store.Tx) error {
			return tx.DeleteRPZRule(created.ID)
		},
		eventType: events.RPZRuleCreated,
		eventData: map[string]any{
			"id": r.ID, "rpz_zone": r.RPZZone, "domain": r.Domain, "action": string(r.Action),
		},
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateRPZRule edits a manual rule. Feed-owned rules are immutable from
// the API; the feed reconciles them.
func (s *Service) UpdateRPZRule(ctx context.Context, actor string, r *model.RPZRule) (*model.RPZRule, error) {
	r.Domain = model.NormalizeDomain(r.Domain)
	if err := r.Validate(); err != nil {
		return nil, err
	}

	var before, after model.RPZRule
	_, err := s.run(ctx, &mutation{
		actor:      actor,
		action:     "rpz_rule.update",
		targetKind: "rpz_rule",
		targetID:   strconv.FormatInt(r.ID, 10),
		reason:     "rpz rule updated: " + r.Domain,
		apply: func(tx *store.Tx) error {
			cur, err := tx.GetRPZRule(r.ID)
			if err != nil {
				return err
			}
			if cur.Source != model.SourceManual {
				return errors.Errorf(errors.KindValidation,
					"rule %d is owned by %s and cannot be edited", r.ID, cur.Source)
			}
			before = *cur
			r.Source = model.SourceManual
			if err := tx.UpdateRPZRule(r); err != nil {
				return err
			}
			after = *r
			return nil
		},
		compensate: func(tx *store.Tx) error {
			return tx.UpdateRPZRule(&before)
		},
		eventType: events.RPZRuleUpdated,
		eventData: map[string]any{"id": r.ID, "domain": r.Domain},
	})
	if err != nil {
		return nil, err
	}
	return &after, nil
}

// DeleteRPZRule removes one rule, manual or feed-owned, and deploys. A
// feed-owned rule deleted here returns at the feed's next refresh.
func (s *Service) DeleteRPZRule(ctx context.Context, actor string, id int64) error {
	var before model.RPZRule
	_, err := s.run(ctx, &mutation{
		actor:      actor,
		action:     "rpz_rule.delete",
		targetKind: "rpz_rule",
		targetID:   strconv.FormatInt(id, 10),
		reason:     "rpz rule deleted",
		apply: func(tx *store.Tx) error {
			cur, err := tx.GetRPZRule(id)
			if err != nil {
				return err
			}
			before = *cur
			return tx.DeleteRPZRule(id)
		},
		compensate: func(tx *store.Tx) error {
			restored := before
			_, err := tx.CreateRPZRule(&restored)
			return err
		},
		eventType: events.RPZRuleDeleted,
		eventData: map[string]any{"id": id, "domain": before.Domain},
	})
	return err
}

// RPZDelta is the reconciliation a feed refresh computed: domains to add
// and remove for one source within one policy zone.
type RPZDelta struct {
	RPZZone  string
	Source   string
	Category string
	Add      []*model.RPZRule
	Remove   []string // domains
}

// BulkApplyRPZ applies a feed delta under one transaction and one deploy.
// Existing rows from other sources are never touched: the unique index on
// (rpz_zone, domain) silently skips collisions, preserving manual rules.
func (s *Service) BulkApplyRPZ(ctx context.Context, actor string, delta *RPZDelta) (added, removed int, err error) {
	if len(delta.Add) == 0 && len(delta.Remove) == 0 {
		return 0, 0, nil
	}
	_, err = s.run(ctx, &mutation{
		actor:      actor,
		action:     "rpz.bulk_apply",
		targetKind: "rpz_zone",
		targetID:   delta.RPZZone,
		reason:     "threat feed reconciliation: " + delta.Source,
		apply: func(tx *store.Tx) error {
			if err := tx.EnsureRPZZone(delta.RPZZone, DefaultRPZPriority); err != nil {
				return err
			}
			removed, err = tx.DeleteRPZRulesBySourceDomains(delta.RPZZone, delta.Source, delta.Remove)
			if err != nil {
				return err
			}
			added, err = tx.BulkInsertRPZRules(delta.Add)
			return err
		},
		// Feed deltas are not compensated row by row: the next refresh
		// reconciles from the full upstream list, converging regardless.
		eventType: events.RPZRuleUpdated,
		eventData: map[string]any{
			"rpz_zone": delta.RPZZone, "source": delta.Source, "bulk": true,
		},
	})
	if err != nil {
		return 0, 0, err
	}
	return added, removed, nil
}

// ListRPZRules is a read-only passthrough.
func (s *Service) ListRPZRules(ctx context.Context, f store.RPZFilter, opts store.ListOpts) ([]*model.RPZRule, error) {
	var rules []*model.RPZRule
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		rules, err = tx.ListRPZRules(f, opts)
		return err
	})
	return rules, err
}
