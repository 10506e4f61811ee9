// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ws

import (
	"time"

	"github.com/google/uuid"

	"grimm.is/bindctl/internal/events"
)

// Close codes beyond the RFC 6455 range, shared with the web UI.
const (
	CloseInvalidToken    = 4401
	CloseHeartbeatFailed = 4408
	CloseReplaced        = 4409
)

// Frame is the JSON envelope for both directions.
type Frame struct {
	Type  string         `json:"type"`
	ID    string         `json:"id,omitempty"`
	Event events.Type    `json:"event,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
	TS    time.Time      `json:"ts"`
}

// Client to server frame types.
const (
	frameTypePing        = "ping"
	frameTypePong        = "pong"
	frameTypeSubscribe   = "subscribe"
	frameTypeUnsubscribe = "unsubscribe"
	frameTypeStats       = "stats"
)

// Server to client frame types.
const (
	frameTypeEvent = "event"
)

// clientRequest is the parsed body of subscribe/unsubscribe frames.
type clientRequest struct {
	Type   string   `json:"type"`
	ID     string   `json:"id,omitempty"`
	Events []string `json:"events,omitempty"`
	Data   struct {
		Events []string `json:"events,omitempty"`
	} `json:"data,omitempty"`
}

// requestedEvents merges the two accepted placements of the events list:
// top-level (current UI) and under data (older clients).
func (r *clientRequest) requestedEvents() []string {
	if len(r.Events) > 0 {
		return r.Events
	}
	return r.Data.Events
}

// eventFrame wraps a bus event for the wire. The ID lets clients correlate
// and deduplicate frames across reconnects.
func eventFrame(ev events.Event) Frame {
	return Frame{Type: frameTypeEvent, ID: uuid.NewString(), Event: ev.Type, Data: ev.Data, TS: ev.TS}
}
