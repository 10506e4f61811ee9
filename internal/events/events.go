// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package events is the in-process pub/sub bus connecting the DNS service,
// health monitor and threat feed ingestor to the WebSocket broadcaster.
// Publication never blocks: slow subscribers lose events and the loss is
// counted per subscriber.
package events

import "time"

// Type is the closed set of event topics.
type Type string

const (
	ZoneCreated Type = "zone_created"
	ZoneUpdated Type = "zone_updated"
	ZoneDeleted Type = "zone_deleted"

	RecordCreated Type = "record_created"
	RecordUpdated Type = "record_updated"
	RecordDeleted Type = "record_deleted"

	ForwarderCreated      Type = "forwarder_created"
	ForwarderUpdated      Type = "forwarder_updated"
	ForwarderDeleted      Type = "forwarder_deleted"
	ForwarderStatusChange Type = "forwarder_status_change"

	HealthUpdate Type = "health_update"
	HealthAlert  Type = "health_alert"

	SecurityAlert Type = "security_alert"

	RPZRuleCreated Type = "rpz_rule_created"
	RPZRuleUpdated Type = "rpz_rule_updated"
	RPZRuleDeleted Type = "rpz_rule_deleted"

	ThreatFeedUpdated Type = "threat_feed_updated"
	ThreatFeedError   Type = "threat_feed_error"

	BindReload   Type = "bind_reload"
	ConfigChange Type = "config_change"
	SystemStatus Type = "system_status"

	SessionExpired        Type = "session_expired"
	SubscriptionUpdated   Type = "subscription_updated"
	ConnectionEstablished Type = "connection_established"
)

// Critical events survive any backpressure: the broadcaster never drops
// them from a session queue.
func (t Type) Critical() bool {
	switch t {
	case SecurityAlert, BindReload, ThreatFeedError, SessionExpired:
		return true
	}
	return false
}

// LowPriority events are the first to go when a session queue overflows.
func (t Type) LowPriority() bool {
	return t == HealthUpdate || t == SystemStatus
}

// Valid reports membership in the closed topic set, used to validate client
// subscription requests.
func (t Type) Valid() bool {
	switch t {
	case ZoneCreated, ZoneUpdated, ZoneDeleted,
		RecordCreated, RecordUpdated, RecordDeleted,
		ForwarderCreated, ForwarderUpdated, ForwarderDeleted, ForwarderStatusChange,
		HealthUpdate, HealthAlert, SecurityAlert,
		RPZRuleCreated, RPZRuleUpdated, RPZRuleDeleted,
		ThreatFeedUpdated, ThreatFeedError,
		BindReload, ConfigChange, SystemStatus,
		SessionExpired, SubscriptionUpdated, ConnectionEstablished:
		return true
	}
	return false
}

// Event is one published occurrence.
type Event struct {
	Type Type           `json:"event"`
	Data map[string]any `json:"data,omitempty"`
	TS   time.Time      `json:"ts"`
}
