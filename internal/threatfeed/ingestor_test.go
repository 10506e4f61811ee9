// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package threatfeed

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/bindctl/internal/dnssvc"
	"grimm.is/bindctl/internal/events"
	"grimm.is/bindctl/internal/model"
	"grimm.is/bindctl/internal/store"
)

// fakeApplier records deltas instead of deploying.
type fakeApplier struct {
	mu     sync.Mutex
	store  *store.Store
	deltas []*dnssvc.RPZDelta
}

// BulkApplyRPZ mirrors the real service's store behavior without the
// render/deploy pipeline.
func (a *fakeApplier) BulkApplyRPZ(ctx context.Context, _ string, delta *dnssvc.RPZDelta) (added, removed int, err error) {
	a.mu.Lock()
	a.deltas = append(a.deltas, delta)
	a.mu.Unlock()
	err = a.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.EnsureRPZZone(delta.RPZZone, 100); err != nil {
			return err
		}
		removed, err = tx.DeleteRPZRulesBySourceDomains(delta.RPZZone, delta.Source, delta.Remove)
		if err != nil {
			return err
		}
		added, err = tx.BulkInsertRPZRules(delta.Add)
		return err
	})
	return added, removed, err
}

type feedFixture struct {
	ing     *Ingestor
	store   *store.Store
	applier *fakeApplier
	sub     *events.Subscription
}

func newFeedFixture(t *testing.T) *feedFixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), 5*time.Second, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := events.NewBus(nil)
	sub := bus.Subscribe("test", 64)
	applier := &fakeApplier{store: st}
	return &feedFixture{
		ing:     NewIngestor(st, applier, bus, nil, 10*time.Second, nil),
		store:   st,
		applier: applier,
		sub:     sub,
	}
}

func (f *feedFixture) createFeed(t *testing.T, url string, format model.FeedFormat) *model.ThreatFeed {
	t.Helper()
	feed := &model.ThreatFeed{
		Name: "test-feed", URL: url, Format: format, Category: "malware",
		RPZZone: "rpz.threat", UpdateFrequencyS: 3600, Enabled: true,
	}
	require.NoError(t, f.store.WithTx(context.Background(), func(tx *store.Tx) error {
		id, err := tx.CreateThreatFeed(feed)
		feed.ID = id
		return err
	}))
	return feed
}

func (f *feedFixture) reload(t *testing.T, id int64) *model.ThreatFeed {
	t.Helper()
	var feed *model.ThreatFeed
	require.NoError(t, f.store.View(context.Background(), func(tx *store.Tx) error {
		var err error
		feed, err = tx.GetThreatFeed(id)
		return err
	}))
	return feed
}

func (f *feedFixture) feedRules(t *testing.T, feedID int64) []*model.RPZRule {
	t.Helper()
	var rules []*model.RPZRule
	require.NoError(t, f.store.View(context.Background(), func(tx *store.Tx) error {
		var err error
		rules, err = tx.ListRPZRules(store.RPZFilter{Source: model.FeedSource(feedID)}, store.ListOpts{})
		return err
	}))
	return rules
}

func TestRefreshHostsFeed(t *testing.T) {
	f := newFeedFixture(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("# blocklist\n0.0.0.0 evil.test\n0.0.0.0 bad.test # inline comment\n127.0.0.1 localhost\n0.0.0.0 evil.test\n"))
	}))
	defer srv.Close()

	feed := f.createFeed(t, srv.URL, model.FormatHosts)
	require.NoError(t, f.ing.Refresh(context.Background(), feed))

	rules := f.feedRules(t, feed.ID)
	domains := map[string]bool{}
	for _, r := range rules {
		domains[r.Domain] = true
		assert.Equal(t, model.RPZBlock, r.Action)
		assert.Equal(t, "malware", r.Category)
	}
	assert.True(t, domains["evil.test"])
	assert.True(t, domains["bad.test"])
	assert.True(t, domains["localhost"], "hosts format keeps every domain column")

	after := f.reload(t, feed.ID)
	assert.Equal(t, model.FeedOK, after.LastStatus)
	assert.Equal(t, `"v1"`, after.ETag)
	assert.Equal(t, len(rules), after.RuleCount)
	assert.NotNil(t, after.LastSuccessAt)
}

func TestRefreshDiffRemovesVanishedDomains(t *testing.T) {
	f := newFeedFixture(t)

	body := "evil.test\nbad.test\n"
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Write([]byte(body))
	}))
	defer srv.Close()

	feed := f.createFeed(t, srv.URL, model.FormatDomains)
	require.NoError(t, f.ing.Refresh(context.Background(), feed))
	require.Len(t, f.feedRules(t, feed.ID), 2)

	// Upstream drops one domain and gains another.
	mu.Lock()
	body = "bad.test\nworse.test\n"
	mu.Unlock()
	require.NoError(t, f.ing.Refresh(context.Background(), f.reload(t, feed.ID)))

	rules := f.feedRules(t, feed.ID)
	require.Len(t, rules, 2)
	domains := map[string]bool{}
	for _, r := range rules {
		domains[r.Domain] = true
	}
	assert.False(t, domains["evil.test"], "vanished domain must be removed")
	assert.True(t, domains["worse.test"])
}

func TestRefreshNotModifiedSkipsApply(t *testing.T) {
	f := newFeedFixture(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("evil.test\n"))
	}))
	defer srv.Close()

	feed := f.createFeed(t, srv.URL, model.FormatDomains)
	require.NoError(t, f.ing.Refresh(context.Background(), feed))
	applies := len(f.applier.deltas)

	// Rewind the refresh timestamps so the 304's effect is observable.
	old := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, f.store.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.SetFeedRefreshState(feed.ID, store.FeedRefreshState{
			Status: model.FeedOK, AttemptAt: old, SuccessAt: &old,
			ETag: `"v1"`, RuleCount: 1,
		})
	}))

	require.NoError(t, f.ing.Refresh(context.Background(), f.reload(t, feed.ID)))
	assert.Equal(t, applies, len(f.applier.deltas), "304 must not touch rules")

	after := f.reload(t, feed.ID)
	assert.Equal(t, model.FeedOK, after.LastStatus)
	assert.Equal(t, 1, after.RuleCount)
	require.NotNil(t, after.LastSuccessAt)
	require.NotNil(t, after.LastAttemptAt)
	assert.Equal(t, old.Unix(), after.LastSuccessAt.Unix(), "304 applies no content, last_success_at stays")
	assert.True(t, after.LastAttemptAt.After(old), "304 still records the attempt")
}

func TestDueUsesLatestAttemptWhenHealthy(t *testing.T) {
	f := newFeedFixture(t)
	now := time.Now()

	success := now.Add(-2 * time.Hour)
	attempt := now.Add(-10 * time.Minute)
	feed := &model.ThreatFeed{
		ID: 2, UpdateFrequencyS: 3600,
		LastStatus: model.FeedOK, LastSuccessAt: &success, LastAttemptAt: &attempt,
	}
	assert.False(t, f.ing.due(feed, now), "a recent not-modified check resets the cadence")

	stale := now.Add(-2 * time.Hour)
	feed.LastAttemptAt = &stale
	assert.True(t, f.ing.due(feed, now))
}

func TestRefreshGzippedBody(t *testing.T) {
	f := newFeedFixture(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Raw gzip bytes without Content-Encoding, like mirrored .gz files.
		gz := gzip.NewWriter(w)
		gz.Write([]byte("evil.test\n"))
		gz.Close()
	}))
	defer srv.Close()

	feed := f.createFeed(t, srv.URL, model.FormatDomains)
	require.NoError(t, f.ing.Refresh(context.Background(), feed))
	require.Len(t, f.feedRules(t, feed.ID), 1)
}

func TestRefreshRPZFormat(t *testing.T) {
	f := newFeedFixture(t)

	body := `$TTL 300
@ IN SOA localhost. root.localhost. ( 1 3600 900 604800 300 )
@ IN NS localhost.
evil.test CNAME .
ads.test CNAME sinkhole.example.net.
ok.test CNAME rpz-passthru.
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	feed := f.createFeed(t, srv.URL, model.FormatRPZ)
	require.NoError(t, f.ing.Refresh(context.Background(), feed))

	rules := f.feedRules(t, feed.ID)
	byDomain := map[string]*model.RPZRule{}
	for _, r := range rules {
		byDomain[r.Domain] = r
	}
	require.Len(t, byDomain, 3)
	assert.Equal(t, model.RPZBlock, byDomain["evil.test"].Action)
	assert.Equal(t, model.RPZRedirect, byDomain["ads.test"].Action)
	assert.Equal(t, "sinkhole.example.net", byDomain["ads.test"].RedirectTarget)
	assert.Equal(t, model.RPZPassthru, byDomain["ok.test"].Action)
}

func TestRefreshPermanentFailure(t *testing.T) {
	f := newFeedFixture(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	feed := f.createFeed(t, srv.URL, model.FormatDomains)
	err := f.ing.Refresh(context.Background(), feed)
	require.Error(t, err)

	after := f.reload(t, feed.ID)
	assert.Equal(t, model.FeedError, after.LastStatus)
	assert.Nil(t, after.LastSuccessAt)

	var sawPermanent bool
	for {
		var done bool
		select {
		case ev := <-f.sub.Events():
			if ev.Type == events.ThreatFeedError {
				assert.Equal(t, true, ev.Data["permanent"])
				assert.Equal(t, true, ev.Data["disable_recommended"])
				sawPermanent = true
			}
		default:
			done = true
		}
		if done {
			break
		}
	}
	assert.True(t, sawPermanent)
}

func TestBackoffSchedule(t *testing.T) {
	f := newFeedFixture(t)
	now := time.Now()
	attempt := now.Add(-90 * time.Minute)

	feed := &model.ThreatFeed{
		ID: 1, UpdateFrequencyS: 3600,
		LastStatus: model.FeedError, LastAttemptAt: &attempt,
	}

	// First failure: retry after one interval.
	f.ing.errStreaks[1] = 1
	assert.True(t, f.ing.due(feed, now))

	// Third failure: 4x interval, not yet elapsed.
	f.ing.errStreaks[1] = 3
	assert.False(t, f.ing.due(feed, now))

	// Backoff never exceeds the cap.
	f.ing.errStreaks[1] = 20
	old := now.Add(-7 * time.Hour)
	feed.LastAttemptAt = &old
	assert.True(t, f.ing.due(feed, now))
}

func TestSeedRegistry(t *testing.T) {
	f := newFeedFixture(t)
	ctx := context.Background()

	require.NoError(t, SeedRegistry(ctx, f.store))

	var feeds []*model.ThreatFeed
	require.NoError(t, f.store.View(ctx, func(tx *store.Tx) error {
		var err error
		feeds, err = tx.ListThreatFeeds(false)
		return err
	}))
	require.NotEmpty(t, feeds)
	for _, feed := range feeds {
		assert.False(t, feed.Enabled, "registry feeds start disabled")
		assert.Equal(t, model.FeedNever, feed.LastStatus)
	}

	// Seeding again never duplicates.
	n := len(feeds)
	require.NoError(t, SeedRegistry(ctx, f.store))
	require.NoError(t, f.store.View(ctx, func(tx *store.Tx) error {
		var err error
		feeds, err = tx.ListThreatFeeds(false)
		return err
	}))
	assert.Len(t, feeds, n)
}
