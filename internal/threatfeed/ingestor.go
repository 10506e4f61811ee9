// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package threatfeed reconciles external blocklists into RPZ rules. Each
// refresh is a conditional GET, a parse, a diff against the rows this feed
// owns, and one bulk apply through the DNS service so the whole delta rides
// a single deploy.
package threatfeed

import (
	"context"
	"net/http"
	"time"

	"grimm.is/bindctl/internal/clock"
	"grimm.is/bindctl/internal/dnssvc"
	"grimm.is/bindctl/internal/errors"
	"grimm.is/bindctl/internal/events"
	"grimm.is/bindctl/internal/logging"
	"grimm.is/bindctl/internal/model"
	"grimm.is/bindctl/internal/store"
)

// maxBackoff caps the retry schedule for failing feeds.
const maxBackoff = 6 * time.Hour

// actorFeed is the audit actor for feed-driven mutations.
const actorFeed = "threat-feed"

// Applier is the slice of the DNS service the ingestor drives.
type Applier interface {
	BulkApplyRPZ(ctx context.Context, actor string, delta *dnssvc.RPZDelta) (added, removed int, err error)
}

// Ingestor refreshes due feeds when the scheduler ticks it.
type Ingestor struct {
	store   *store.Store
	applier Applier
	bus     *events.Bus
	clk     clock.Clock
	logger  *logging.Logger
	client  *http.Client

	// errStreaks drives exponential backoff; in memory only, so a restart
	// retries failing feeds promptly.
	errStreaks map[int64]int
}

func NewIngestor(st *store.Store, applier Applier, bus *events.Bus, clk clock.Clock, httpTimeout time.Duration, logger *logging.Logger) *Ingestor {
	if logger == nil {
		logger = logging.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	if httpTimeout <= 0 {
		httpTimeout = 60 * time.Second
	}
	return &Ingestor{
		store:      st,
		applier:    applier,
		bus:        bus,
		clk:        clk,
		logger:     logger.WithComponent("threatfeed"),
		client:     &http.Client{Timeout: httpTimeout},
		errStreaks: map[int64]int{},
	}
}

// Tick refreshes every enabled feed that is due. Feeds run sequentially:
// their deploys funnel through the same BIND controller anyway.
func (i *Ingestor) Tick(ctx context.Context) error {
	var feeds []*model.ThreatFeed
	err := i.store.View(ctx, func(tx *store.Tx) error {
		var err error
		feeds, err = tx.ListThreatFeeds(true)
		return err
	})
	if err != nil {
		return err
	}

	now := i.clk.Now()
	for _, feed := range feeds {
		if !i.due(feed, now) {
			continue
		}
		if err := i.Refresh(ctx, feed); err != nil {
			i.logger.Warn("feed refresh failed", "feed", feed.Name, "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// due decides whether a feed needs a refresh now. Healthy feeds follow
// their configured frequency; failing feeds back off exponentially.
func (i *Ingestor) due(feed *model.ThreatFeed, now time.Time) bool {
	freq := time.Duration(feed.UpdateFrequencyS) * time.Second

	if feed.LastStatus == model.FeedError {
		if feed.LastAttemptAt == nil {
			return true
		}
		backoff := freq
		for n := 0; n < i.errStreaks[feed.ID]-1 && backoff < maxBackoff; n++ {
			backoff *= 2
		}
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		return now.Sub(*feed.LastAttemptAt) >= backoff
	}

	// Healthy cadence runs off the newest of the two timestamps: a 304 only
	// advances last_attempt_at but still counts as a completed check.
	last := feed.LastSuccessAt
	if feed.LastAttemptAt != nil && (last == nil || feed.LastAttemptAt.After(*last)) {
		last = feed.LastAttemptAt
	}
	if last == nil {
		return true
	}
	return now.Sub(*last) >= freq
}

// Refresh runs the full pipeline for one feed, regardless of schedule.
// Also the entry point for the API's refresh-now operation.
func (i *Ingestor) Refresh(ctx context.Context, feed *model.ThreatFeed) error {
	now := i.clk.Now().UTC()

	res, err := i.fetch(ctx, feed)
	if err != nil {
		i.recordFailure(ctx, feed, now, err, res != nil && res.permanent)
		return err
	}
	if res.notModified {
		// Only the attempt timestamp moves: last_success_at records when
		// content was last applied, and a 304 applied nothing.
		i.errStreaks[feed.ID] = 0
		_ = i.setState(ctx, feed.ID, store.FeedRefreshState{
			Status: model.FeedOK, AttemptAt: now,
			ETag: feed.ETag, LastModified: feed.LastModified, RuleCount: feed.RuleCount,
		})
		i.logger.Debug("feed unchanged upstream", "feed", feed.Name)
		return nil
	}

	parsed, err := parse(feed.Format, feed.RPZZone, res.body)
	if err != nil {
		i.recordFailure(ctx, feed, now, err, false)
		return err
	}

	delta, total, err := i.diff(ctx, feed, parsed)
	if err != nil {
		i.recordFailure(ctx, feed, now, err, false)
		return err
	}

	added, removed := 0, 0
	if len(delta.Add) > 0 || len(delta.Remove) > 0 {
		added, removed, err = i.applier.BulkApplyRPZ(ctx, actorFeed, delta)
		if err != nil {
			i.recordFailure(ctx, feed, now, err, false)
			return err
		}
	}

	i.errStreaks[feed.ID] = 0
	success := now
	if err := i.setState(ctx, feed.ID, store.FeedRefreshState{
		Status: model.FeedOK, AttemptAt: now, SuccessAt: &success,
		ETag: res.etag, LastModified: res.lastModified, RuleCount: total,
	}); err != nil {
		return err
	}

	i.logger.Info("feed refreshed",
		"feed", feed.Name, "rules", total, "added", added, "removed", removed)
	i.bus.Publish(events.ThreatFeedUpdated, map[string]any{
		"feed_id": feed.ID, "name": feed.Name,
		"rule_count": total, "added": added, "removed": removed,
	})
	return nil
}

// diff computes the delta between upstream content and the rows this feed
// owns.
func (i *Ingestor) diff(ctx context.Context, feed *model.ThreatFeed, parsed []parsedRule) (*dnssvc.RPZDelta, int, error) {
	source := model.FeedSource(feed.ID)

	var existing []*model.RPZRule
	err := i.store.View(ctx, func(tx *store.Tx) error {
		var err error
		existing, err = tx.ListRPZRules(store.RPZFilter{Source: source}, store.ListOpts{})
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	current := make(map[string]bool, len(existing))
	for _, r := range existing {
		current[r.Domain] = true
	}
	upstream := make(map[string]bool, len(parsed))

	delta := &dnssvc.RPZDelta{RPZZone: feed.RPZZone, Source: source, Category: feed.Category}
	for _, p := range parsed {
		upstream[p.Domain] = true
		if current[p.Domain] {
			continue
		}
		delta.Add = append(delta.Add, &model.RPZRule{
			RPZZone:        feed.RPZZone,
			Domain:         p.Domain,
			Action:         p.Action,
			RedirectTarget: p.Target,
			Category:       feed.Category,
			Source:         source,
			IsActive:       true,
		})
	}
	for _, r := range existing {
		if !upstream[r.Domain] {
			delta.Remove = append(delta.Remove, r.Domain)
		}
	}
	return delta, len(parsed), nil
}

func (i *Ingestor) recordFailure(ctx context.Context, feed *model.ThreatFeed, now time.Time, cause error, permanent bool) {
	i.errStreaks[feed.ID]++
	if err := i.setState(ctx, feed.ID, store.FeedRefreshState{
		Status: model.FeedError, AttemptAt: now,
		ETag: feed.ETag, LastModified: feed.LastModified, RuleCount: feed.RuleCount,
	}); err != nil {
		i.logger.Error("recording feed failure failed", "feed", feed.Name, "error", err)
	}

	data := map[string]any{
		"feed_id": feed.ID, "name": feed.Name, "error": cause.Error(),
		"kind": errors.GetKind(cause).String(),
	}
	if permanent {
		// A 4xx will not fix itself. The operator decides whether to
		// disable; we only recommend.
		data["permanent"] = true
		data["disable_recommended"] = true
	}
	i.bus.Publish(events.ThreatFeedError, data)
}

func (i *Ingestor) setState(ctx context.Context, feedID int64, st store.FeedRefreshState) error {
	return i.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.SetFeedRefreshState(feedID, st)
	})
}
