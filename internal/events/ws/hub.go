// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ws broadcasts bus events to authenticated WebSocket clients.
// Each user holds exactly one session; a newer connection replaces the
// older one. Delivery is best effort: clients reconcile durable state via
// the REST API after reconnecting.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"grimm.is/bindctl/internal/auth"
	"grimm.is/bindctl/internal/events"
	"grimm.is/bindctl/internal/logging"
)

// Options tunes the hub; zero values take defaults.
type Options struct {
	QueueSize     int           // per-session send queue bound (default 256)
	PingInterval  time.Duration // heartbeat period (default 30s)
	DropWarnEvery int64         // overflow warning cadence (default 100)
}

// Hub owns all live sessions and the single bus subscription feeding them.
type Hub struct {
	bus      *events.Bus
	verifier *auth.Verifier
	logger   *logging.Logger
	upgrader websocket.Upgrader

	queueSize     int
	pingInterval  time.Duration
	dropWarnEvery int64

	mu       sync.Mutex
	sessions map[string]*Session // keyed by user ID

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHub(bus *events.Bus, verifier *auth.Verifier, opts Options, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.DropWarnEvery <= 0 {
		opts.DropWarnEvery = 100
	}
	return &Hub{
		bus:      bus,
		verifier: verifier,
		logger:   logger.WithComponent("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The UI is served from arbitrary management hosts; the bearer
			// token is the actual access control.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		queueSize:     opts.QueueSize,
		pingInterval:  opts.PingInterval,
		dropWarnEvery: opts.DropWarnEvery,
		sessions:      map[string]*Session{},
	}
}

// Start attaches the hub to the bus and begins dispatching.
func (h *Hub) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	sub := h.bus.Subscribe("ws-hub", h.queueSize*4)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				h.broadcast(ev)
			}
		}
	}()
}

// Stop disconnects every session and stops dispatching.
func (h *Hub) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		s.closeWith(websocket.CloseGoingAway, "server shutdown")
	}
	h.wg.Wait()
}

func (h *Hub) broadcast(ev events.Event) {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		s.deliver(ev)
	}
}

// SessionCount reports currently attached sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Handler upgrades /api/websocket/ws/{connection_type}. The connection type
// only seeds the initial subscription set; it does not create a second
// session class.
func (h *Hub) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	claims, err := h.verifier.Verify(r.URL.Query().Get("token"), time.Now())
	if err != nil {
		msg := websocket.FormatCloseMessage(CloseInvalidToken, "invalid token")
		conn.WriteMessage(websocket.CloseMessage, msg)
		conn.Close()
		return
	}

	connType := mux.Vars(r)["connection_type"]
	subs := allowedSubset(claims.Role, defaultSubscriptions(connType))
	sess := newSession(h, conn, claims, subs)

	h.mu.Lock()
	old := h.sessions[claims.UserID]
	h.sessions[claims.UserID] = sess
	h.mu.Unlock()
	if old != nil {
		old.closeWith(CloseReplaced, "replaced by newer connection")
	}

	sess.send(Frame{
		Type:  string(events.ConnectionEstablished),
		Event: events.ConnectionEstablished,
		Data: map[string]any{
			"user_id":      claims.UserID,
			"role":         string(claims.Role),
			"default_subs": typeNames(subs),
		},
		TS: time.Now().UTC(),
	})

	h.logger.Info("session established", "user", claims.UserID, "connection_type", connType)
	sess.run()
}

// detach removes the session from the registry unless it was already
// replaced by a newer one.
func (h *Hub) detach(s *Session) {
	h.mu.Lock()
	if h.sessions[s.claims.UserID] == s {
		delete(h.sessions, s.claims.UserID)
	}
	h.mu.Unlock()
}

// defaultSubscriptions maps the connection type hint to an initial topic
// set. Clients adjust with subscribe/unsubscribe afterwards.
func defaultSubscriptions(connType string) []events.Type {
	switch connType {
	case "health":
		return []events.Type{
			events.HealthUpdate, events.HealthAlert, events.ForwarderStatusChange,
			events.SystemStatus,
		}
	case "security":
		return []events.Type{
			events.SecurityAlert, events.ThreatFeedUpdated, events.ThreatFeedError,
			events.RPZRuleCreated, events.RPZRuleUpdated, events.RPZRuleDeleted,
		}
	case "dns":
		return []events.Type{
			events.ZoneCreated, events.ZoneUpdated, events.ZoneDeleted,
			events.RecordCreated, events.RecordUpdated, events.RecordDeleted,
			events.ForwarderCreated, events.ForwarderUpdated, events.ForwarderDeleted,
			events.BindReload, events.ConfigChange,
		}
	default:
		return allSubscriptions()
	}
}

func allSubscriptions() []events.Type {
	return []events.Type{
		events.ZoneCreated, events.ZoneUpdated, events.ZoneDeleted,
		events.RecordCreated, events.RecordUpdated, events.RecordDeleted,
		events.ForwarderCreated, events.ForwarderUpdated, events.ForwarderDeleted,
		events.ForwarderStatusChange,
		events.HealthUpdate, events.HealthAlert, events.SecurityAlert,
		events.RPZRuleCreated, events.RPZRuleUpdated, events.RPZRuleDeleted,
		events.ThreatFeedUpdated, events.ThreatFeedError,
		events.BindReload, events.ConfigChange, events.SystemStatus,
	}
}

// roleAllowed caps what a role may ever receive, regardless of the session's
// subscriptions. Admin and operator see every topic; viewer is read-only and
// never receives security or deploy traffic, critical or not. A session's
// own expiry notice stays visible to every role.
func roleAllowed(role auth.Role, t events.Type) bool {
	switch role {
	case auth.RoleAdmin, auth.RoleOperator:
		return true
	case auth.RoleViewer:
		return viewerTopics[t]
	}
	return false
}

var viewerTopics = func() map[events.Type]bool {
	types := []events.Type{
		events.ZoneCreated, events.ZoneUpdated, events.ZoneDeleted,
		events.RecordCreated, events.RecordUpdated, events.RecordDeleted,
		events.ForwarderCreated, events.ForwarderUpdated, events.ForwarderDeleted,
		events.ForwarderStatusChange,
		events.HealthUpdate, events.HealthAlert,
		events.RPZRuleCreated, events.RPZRuleUpdated, events.RPZRuleDeleted,
		events.ThreatFeedUpdated,
		events.SystemStatus, events.SessionExpired,
	}
	m := make(map[events.Type]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}()

func allowedSubset(role auth.Role, types []events.Type) []events.Type {
	out := make([]events.Type, 0, len(types))
	for _, t := range types {
		if roleAllowed(role, t) {
			out = append(out, t)
		}
	}
	return out
}

func typeNames(types []events.Type) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
