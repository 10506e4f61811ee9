// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/bindctl/internal/events"
)

func TestObserverDerivesCountersFromEvents(t *testing.T) {
	reg := New()
	bus := events.NewBus(nil)
	obs := NewObserver(reg, bus, nil)
	obs.Start(t.Context())
	defer obs.Stop()

	bus.Publish(events.BindReload, map[string]any{"status": "success", "hash": "abc"})
	bus.Publish(events.BindReload, map[string]any{"status": "error", "reason": "checkconf"})
	bus.Publish(events.BindReload, map[string]any{"status": "success", "reason": "rollback"})
	bus.Publish(events.ThreatFeedUpdated, map[string]any{"name": "urlhaus", "rule_count": 1234})
	bus.Publish(events.ThreatFeedError, map[string]any{"name": "urlhaus"})
	bus.Publish(events.ForwarderStatusChange, map[string]any{"name": "corp", "to": "degraded"})
	bus.Publish(events.HealthUpdate, map[string]any{"name": "corp", "status": "healthy"})
	bus.Publish(events.HealthUpdate, map[string]any{"name": "corp", "status": "unhealthy"})

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(reg.Deploys.WithLabelValues("success")) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(reg.Deploys.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.Rollbacks))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.FeedRefreshes.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.FeedRefreshes.WithLabelValues("error")))
	assert.Equal(t, float64(1234), testutil.ToFloat64(reg.FeedRules.WithLabelValues("urlhaus")))
	assert.Equal(t, 0.5, testutil.ToFloat64(reg.ForwarderHealth.WithLabelValues("corp")))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.ProbeResults.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.ProbeResults.WithLabelValues("failure")))
}

func TestHandlerExposesTextFormat(t *testing.T) {
	reg := New()
	reg.WSSessions.Set(3)

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "bindctl_websocket_sessions 3")
}

func TestHealthValueScale(t *testing.T) {
	assert.Equal(t, float64(1), HealthValue("healthy"))
	assert.Equal(t, 0.5, HealthValue("degraded"))
	assert.Equal(t, float64(0), HealthValue("unhealthy"))
	assert.Equal(t, float64(0), HealthValue("unknown"))
}
