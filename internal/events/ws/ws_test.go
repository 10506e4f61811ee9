// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/bindctl/internal/auth"
	"grimm.is/bindctl/internal/events"
)

func TestQueueDropPolicy(t *testing.T) {
	q := newSendQueue(8)

	// Flood with low-priority frames, then one critical.
	for i := 0; i < 1000; i++ {
		q.push(Frame{Type: "event", Event: events.HealthUpdate}, events.HealthUpdate)
	}
	q.push(Frame{Type: "event", Event: events.SecurityAlert}, events.SecurityAlert)

	var got []events.Type
	q.close()
	for {
		f, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, f.Event)
	}

	assert.Contains(t, got, events.SecurityAlert, "critical event must survive the flood")
	assert.LessOrEqual(t, len(got), 9)
	assert.GreaterOrEqual(t, q.droppedCount(), int64(992))
}

func TestQueueEvictsLowPriorityBeforeOrdinary(t *testing.T) {
	q := newSendQueue(2)
	q.push(Frame{Event: events.ZoneCreated}, events.ZoneCreated)
	q.push(Frame{Event: events.HealthUpdate}, events.HealthUpdate)
	// Queue full: the health_update goes, not the zone_created.
	q.push(Frame{Event: events.RecordCreated}, events.RecordCreated)

	f, _ := q.pop()
	assert.Equal(t, events.ZoneCreated, f.Event)
	f, _ = q.pop()
	assert.Equal(t, events.RecordCreated, f.Event)
	assert.Equal(t, int64(1), q.droppedCount())
}

func TestQueueGrowsForCriticalWhenAllCritical(t *testing.T) {
	q := newSendQueue(2)
	q.push(Frame{Event: events.SecurityAlert}, events.SecurityAlert)
	q.push(Frame{Event: events.BindReload}, events.BindReload)
	q.push(Frame{Event: events.ThreatFeedError}, events.ThreatFeedError)

	assert.Equal(t, 3, q.depth(), "critical events never displace each other")
	assert.Zero(t, q.droppedCount())

	// An ordinary frame is refused instead.
	q.push(Frame{Event: events.ZoneCreated}, events.ZoneCreated)
	assert.Equal(t, 3, q.depth())
	assert.Equal(t, int64(1), q.droppedCount())
}

type testHub struct {
	hub      *Hub
	bus      *events.Bus
	verifier *auth.Verifier
	server   *httptest.Server
}

func startHub(t *testing.T, opts Options) *testHub {
	t.Helper()
	bus := events.NewBus(nil)
	verifier := auth.NewVerifier("test-secret")
	hub := NewHub(bus, verifier, opts, nil)
	hub.Start(t.Context())
	t.Cleanup(hub.Stop)

	r := mux.NewRouter()
	r.HandleFunc("/api/websocket/ws/{connection_type}", hub.Handler)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testHub{hub: hub, bus: bus, verifier: verifier, server: srv}
}

func (th *testHub) dial(t *testing.T, user, connType, token string) *websocket.Conn {
	t.Helper()
	if token == "" {
		token = th.verifier.Sign(user, auth.RoleOperator, time.Now().Add(time.Hour))
	}
	url := "ws" + strings.TrimPrefix(th.server.URL, "http") +
		"/api/websocket/ws/" + connType + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) (*Frame, error) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	err := conn.ReadJSON(&f)
	return &f, err
}

func TestConnectionEstablished(t *testing.T) {
	th := startHub(t, Options{})
	conn := th.dial(t, "alice", "events", "")

	f, err := readFrame(t, conn)
	require.NoError(t, err)
	assert.Equal(t, events.ConnectionEstablished, f.Event)
	assert.Equal(t, "alice", f.Data["user_id"])
	assert.NotEmpty(t, f.Data["default_subs"])
}

func TestInvalidTokenClosedWith4401(t *testing.T) {
	th := startHub(t, Options{})

	url := "ws" + strings.TrimPrefix(th.server.URL, "http") + "/api/websocket/ws/events?token=bogus"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "upgrade succeeds, rejection arrives as a close frame")
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, CloseInvalidToken), "got %v", err)
}

func TestSingletonSessionReplacedWith4409(t *testing.T) {
	th := startHub(t, Options{})

	first := th.dial(t, "alice", "events", "")
	_, err := readFrame(t, first) // connection_established
	require.NoError(t, err)

	second := th.dial(t, "alice", "health", "")
	_, err = readFrame(t, second)
	require.NoError(t, err)

	// First connection receives the 4409 close within a second.
	first.SetReadDeadline(time.Now().Add(time.Second))
	for {
		_, _, err = first.ReadMessage()
		if err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, CloseReplaced), "got %v", err)

	// The surviving session still receives events.
	th.bus.Publish(events.HealthUpdate, map[string]any{"forwarder": "corp"})
	f, err := readFrame(t, second)
	require.NoError(t, err)
	assert.Equal(t, events.HealthUpdate, f.Event)
	assert.Equal(t, 1, th.hub.SessionCount())
}

func TestSubscribeFiltersEvents(t *testing.T) {
	th := startHub(t, Options{})
	conn := th.dial(t, "alice", "health", "")
	_, err := readFrame(t, conn)
	require.NoError(t, err)

	// The health connection type does not include zone events by default.
	th.bus.Publish(events.ZoneCreated, map[string]any{"name": "example.com"})
	th.bus.Publish(events.HealthUpdate, map[string]any{"forwarder": "corp"})

	f, err := readFrame(t, conn)
	require.NoError(t, err)
	assert.Equal(t, events.HealthUpdate, f.Event, "unsubscribed zone event must be filtered")

	// Subscribe to zone events and observe the acknowledgement.
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "subscribe", "id": "req-1", "events": []string{"zone_created"},
	}))
	f, err = readFrame(t, conn)
	require.NoError(t, err)
	assert.Equal(t, events.SubscriptionUpdated, f.Event)
	assert.Equal(t, "req-1", f.ID)

	th.bus.Publish(events.ZoneCreated, map[string]any{"name": "example.org"})
	f, err = readFrame(t, conn)
	require.NoError(t, err)
	assert.Equal(t, events.ZoneCreated, f.Event)
}

func TestCriticalEventBypassesSubscriptionFilter(t *testing.T) {
	th := startHub(t, Options{})
	conn := th.dial(t, "alice", "health", "")
	_, err := readFrame(t, conn)
	require.NoError(t, err)

	th.bus.Publish(events.SecurityAlert, map[string]any{"detail": "feed anomaly"})
	f, err := readFrame(t, conn)
	require.NoError(t, err)
	assert.Equal(t, events.SecurityAlert, f.Event)
}

func TestViewerRoleNeverReceivesSecurityAlerts(t *testing.T) {
	th := startHub(t, Options{})
	token := th.verifier.Sign("carol", auth.RoleViewer, time.Now().Add(time.Hour))
	conn := th.dial(t, "carol", "events", token)
	_, err := readFrame(t, conn)
	require.NoError(t, err)

	// security_alert is critical, so it skips the subscription filter, but a
	// viewer session is still outside its role allowlist.
	th.bus.Publish(events.SecurityAlert, map[string]any{"detail": "feed anomaly"})
	th.bus.Publish(events.HealthUpdate, map[string]any{"forwarder": "corp"})

	f, err := readFrame(t, conn)
	require.NoError(t, err)
	assert.Equal(t, events.HealthUpdate, f.Event)

	// Subscribing explicitly does not widen the allowlist either.
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "subscribe", "id": "r1", "events": []string{"security_alert"},
	}))
	f, err = readFrame(t, conn)
	require.NoError(t, err)
	assert.Equal(t, events.SubscriptionUpdated, f.Event)
	assert.NotContains(t, f.Data["subscriptions"], "security_alert")

	th.bus.Publish(events.SecurityAlert, map[string]any{"detail": "again"})
	th.bus.Publish(events.SystemStatus, map[string]any{"status": "ok"})
	f, err = readFrame(t, conn)
	require.NoError(t, err)
	assert.Equal(t, events.SystemStatus, f.Event)
}

func TestPingPongAndStats(t *testing.T) {
	th := startHub(t, Options{})
	conn := th.dial(t, "alice", "events", "")
	_, err := readFrame(t, conn)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping", "id": "p1"}))
	f, err := readFrame(t, conn)
	require.NoError(t, err)
	assert.Equal(t, "pong", f.Type)
	assert.Equal(t, "p1", f.ID)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "stats", "id": "s1"}))
	f, err = readFrame(t, conn)
	require.NoError(t, err)
	assert.Equal(t, "stats", f.Type)
	assert.Equal(t, "alice", f.Data["user_id"])
}

func TestHeartbeatTimeoutClosesWith4408(t *testing.T) {
	th := startHub(t, Options{PingInterval: 50 * time.Millisecond})
	conn := th.dial(t, "alice", "events", "")
	_, err := readFrame(t, conn)
	require.NoError(t, err)

	// Never answer pings; the third unanswered ping closes the session.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err = conn.ReadMessage()
		if err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, CloseHeartbeatFailed), "got %v", err)
}
