// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dnssvc

import (
	"context"
	"strconv"

	"grimm.is/bindctl/internal/events"
	"grimm.is/bindctl/internal/model"
	"grimm.is/bindctl/internal/store"
)

// CreateThreatFeed registers a feed. No deploy happens until its first
// refresh produces rules, so this skips the render pipeline.
func (s *Service) CreateThreatFeed(ctx context.Context, actor string, f *model.ThreatFeed) (*model.ThreatFeed, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	f.LastStatus = model.FeedNever

	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.EnsureRPZZone(f.RPZZone, DefaultRPZPriority); err != nil {
			return err
		}
		id, err := tx.CreateThreatFeed(f)
		if err != nil {
			return err
		}
		f.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &mutation{
		actor: actor, action: "threat_feed.create",
		targetKind: "threat_feed", targetID: f.Name,
	}, "", "", true, "")
	s.bus.Publish(events.ConfigChange, map[string]any{
		"scope": "threat_feed", "id": f.ID, "name": f.Name, "created": true,
	})
	return f, nil
}

// UpdateThreatFeed applies operator edits to a feed's definition. Refresh
// bookkeeping columns are owned by the ingestor and unaffected.
func (s *Service) UpdateThreatFeed(ctx context.Context, actor string, f *model.ThreatFeed) (*model.ThreatFeed, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.EnsureRPZZone(f.RPZZone, DefaultRPZPriority); err != nil {
			return err
		}
		return tx.UpdateThreatFeed(f)
	})
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &mutation{
		actor: actor, action: "threat_feed.update",
		targetKind: "threat_feed", targetID: strconv.FormatInt(f.ID, 10),
	}, "", "", true, "")
	s.bus.Publish(events.ConfigChange, map[string]any{
		"scope": "threat_feed", "id": f.ID, "name": f.Name,
	})
	return f, nil
}

// DeleteThreatFeed removes the feed and every rule it owns, under one
// transaction and one deploy.
func (s *Service) DeleteThreatFeed(ctx context.Context, actor string, id int64) error {
	var feed model.ThreatFeed
	_, err := s.run(ctx, &mutation{
		actor:      actor,
		action:     "threat_feed.delete",
		targetKind: "threat_feed",
		targetID:   strconv.FormatInt(id, 10),
		reason:     "threat feed deleted",
		apply: func(tx *store.Tx) error {
			cur, err := tx.GetThreatFeed(id)
			if err != nil {
				return err
			}
			feed = *cur
			rules, err := tx.ListRPZRules(store.RPZFilter{Source: model.FeedSource(id)}, store.ListOpts{})
			if err != nil {
				return err
			}
			for _, r := range rules {
				if err := tx.DeleteRPZRule(r.ID); err != nil {
					return err
				}
			}
			return tx.DeleteThreatFeed(id)
		},
		// No compensation: re-fetching the feed restores its rules; the
		// operator can recreate the definition from the registry.
		eventType: events.ConfigChange,
		eventData: map[string]any{"scope": "threat_feed", "id": id, "deleted": true},
	})
	if err != nil {
		return err
	}
	s.logger.Info("threat feed deleted", "feed", feed.Name)
	return nil
}

// GetThreatFeed and ListThreatFeeds are read-only passthroughs.
func (s *Service) GetThreatFeed(ctx context.Context, id int64) (*model.ThreatFeed, error) {
	var f *model.ThreatFeed
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		f, err = tx.GetThreatFeed(id)
		return err
	})
	return f, err
}

func (s *Service) ListThreatFeeds(ctx context.Context, enabledOnly bool) ([]*model.ThreatFeed, error) {
	var feeds []*model.ThreatFeed
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		feeds, err = tx.ListThreatFeeds(enabledOnly)
		return err
	})
	return feeds, err
}
