// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/bindctl/internal/auth"
	"grimm.is/bindctl/internal/events"
	"grimm.is/bindctl/internal/logging"
)

// Session is one live WebSocket for one user. A dedicated writer goroutine
// drains the send queue; the reader goroutine handles client frames; the
// heartbeat goroutine enforces liveness.
type Session struct {
	hub     *Hub
	conn    *websocket.Conn
	claims  *auth.Claims
	queue   *sendQueue
	logger  *logging.Logger
	started time.Time

	mu          sync.Mutex
	subs        map[events.Type]bool
	missedPongs int
	lastWarnAt  int64 // dropped count at last overflow warning

	closeOnce   sync.Once
	done        chan struct{}
	closeCode   int
	closeReason string
}

func newSession(hub *Hub, conn *websocket.Conn, claims *auth.Claims, defaultSubs []events.Type) *Session {
	subs := make(map[events.Type]bool, len(defaultSubs))
	for _, t := range defaultSubs {
		subs[t] = true
	}
	return &Session{
		hub:     hub,
		conn:    conn,
		claims:  claims,
		queue:   newSendQueue(hub.queueSize),
		logger:  hub.logger.With("user", claims.UserID),
		started: time.Now(),
		subs:    subs,
		done:    make(chan struct{}),
	}
}

func (s *Session) run() {
	go s.writeLoop()
	go s.heartbeatLoop()
	s.readLoop()
}

// deliver enqueues an event for this session if its role and subscriptions
// admit it. Critical events bypass the subscription filter (a session must
// not miss a security_alert because it narrowed its view) but never the
// role cap.
func (s *Session) deliver(ev events.Event) {
	if !roleAllowed(s.claims.Role, ev.Type) {
		return
	}
	if !ev.Type.Critical() && !s.subscribed(ev.Type) {
		return
	}
	dropped := s.queue.push(eventFrame(ev), ev.Type)
	s.maybeWarnDrops(dropped)
}

// send enqueues a protocol frame (pong, stats, subscription_updated). These
// ride the queue as ordinary traffic.
func (s *Session) send(f Frame) {
	s.queue.push(f, events.Type(""))
}

func (s *Session) subscribed(t events.Type) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[t]
}

// maybeWarnDrops emits one subscription_updated warning per warn window so a
// client learns it is losing events without the warning itself flooding the
// queue.
func (s *Session) maybeWarnDrops(dropped int64) {
	s.mu.Lock()
	warn := dropped-s.lastWarnAt >= s.hub.dropWarnEvery
	if warn {
		s.lastWarnAt = dropped
	}
	s.mu.Unlock()
	if warn {
		s.send(Frame{
			Type:  string(events.SubscriptionUpdated),
			Event: events.SubscriptionUpdated,
			Data:  map[string]any{"warning": "events dropped due to backpressure", "dropped": dropped},
			TS:    time.Now().UTC(),
		})
	}
}

// writeLoop is the only goroutine that writes to the connection. It drains
// the queue and, once the queue is closed, sends the close frame recorded by
// closeWith.
func (s *Session) writeLoop() {
	for {
		frame, ok := s.queue.pop()
		if !ok {
			s.mu.Lock()
			code, reason := s.closeCode, s.closeReason
			s.mu.Unlock()
			if code == 0 {
				code = websocket.CloseNormalClosure
			}
			msg := websocket.FormatCloseMessage(code, reason)
			s.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
			s.conn.WriteMessage(websocket.CloseMessage, msg)
			s.conn.Close()
			return
		}
		s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := s.conn.WriteJSON(frame); err != nil {
			s.closeWith(websocket.CloseAbnormalClosure, "write failed")
			s.conn.Close()
			return
		}
	}
}

func (s *Session) readLoop() {
	defer s.closeWith(websocket.CloseNormalClosure, "client gone")
	for {
		var req clientRequest
		if err := s.conn.ReadJSON(&req); err != nil {
			return
		}
		s.handle(&req)
	}
}

func (s *Session) handle(req *clientRequest) {
	now := time.Now().UTC()
	switch req.Type {
	case frameTypePing:
		s.send(Frame{Type: frameTypePong, ID: req.ID, TS: now})
	case frameTypePong:
		s.mu.Lock()
		s.missedPongs = 0
		s.mu.Unlock()
	case frameTypeSubscribe, frameTypeUnsubscribe:
		s.updateSubs(req.Type == frameTypeSubscribe, req.requestedEvents(), req.ID)
	case frameTypeStats:
		s.send(Frame{Type: frameTypeStats, ID: req.ID, TS: now, Data: map[string]any{
			"user_id":       s.claims.UserID,
			"connected_for": time.Since(s.started).Seconds(),
			"queue_depth":   s.queue.depth(),
			"dropped":       s.queue.droppedCount(),
			"subscriptions": s.subscriptionList(),
		}})
	default:
		s.logger.Debug("unknown client frame", "type", req.Type)
	}
}

func (s *Session) updateSubs(add bool, names []string, reqID string) {
	s.mu.Lock()
	for _, name := range names {
		t := events.Type(name)
		if !t.Valid() || !roleAllowed(s.claims.Role, t) {
			continue
		}
		if add {
			s.subs[t] = true
		} else {
			delete(s.subs, t)
		}
	}
	s.mu.Unlock()

	s.send(Frame{
		Type:  string(events.SubscriptionUpdated),
		Event: events.SubscriptionUpdated,
		ID:    reqID,
		Data:  map[string]any{"subscriptions": s.subscriptionList()},
		TS:    time.Now().UTC(),
	})
}

func (s *Session) subscriptionList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for t := range s.subs {
		out = append(out, string(t))
	}
	return out
}

func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(s.hub.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if !s.claims.ExpiresAt.IsZero() && time.Now().After(s.claims.ExpiresAt) {
				s.deliver(events.Event{
					Type: events.SessionExpired,
					Data: map[string]any{"user_id": s.claims.UserID},
					TS:   time.Now().UTC(),
				})
				s.closeWith(websocket.CloseNormalClosure, "token expired")
				return
			}

			s.mu.Lock()
			missed := s.missedPongs
			s.missedPongs++
			s.mu.Unlock()
			if missed >= 2 {
				s.closeWith(CloseHeartbeatFailed, "missed pongs")
				return
			}
			s.send(Frame{Type: frameTypePing, TS: time.Now().UTC()})
		}
	}
}

// closeWith tears the session down exactly once. The pending queue drains
// before the writer emits the close frame, so a session being replaced still
// receives everything queued for it.
func (s *Session) closeWith(code int, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeCode, s.closeReason = code, reason
		s.mu.Unlock()
		close(s.done)
		s.queue.close()
		s.hub.detach(s)
		s.logger.Debug("session closing", "code", code, "reason", reason)
	})
}
