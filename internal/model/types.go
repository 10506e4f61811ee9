// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package model

import (
	"strconv"
	"time"
)

// ZoneType classifies how BIND serves a zone.
type ZoneType string

const (
	ZoneMaster  ZoneType = "master"
	ZoneSlave   ZoneType = "slave"
	ZoneForward ZoneType = "forward"
)

// Zone is an authoritative, secondary or forward zone.
type Zone struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"` // unique, lowercased, DNS-legal
	Type       ZoneType  `json:"type"`
	Email      string    `json:"email"` // SOA RNAME, dotted form
	Serial     uint32    `json:"serial"`
	Refresh    int       `json:"refresh"`
	Retry      int       `json:"retry"`
	Expire     int       `json:"expire"`
	Minimum    int       `json:"minimum"`
	IsActive   bool      `json:"is_active"`
	Masters    []string  `json:"masters,omitempty"`    // slave only
	Forwarders []string  `json:"forwarders,omitempty"` // forward only
	CreatedBy  string    `json:"created_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Version    int64     `json:"version"`
}

// RecordType is the subset of record types the control plane manages.
type RecordType string

const (
	TypeA     RecordType = "A"
	TypeAAAA  RecordType = "AAAA"
	TypeCNAME RecordType = "CNAME"
	TypeMX    RecordType = "MX"
	TypeTXT   RecordType = "TXT"
	TypeSRV   RecordType = "SRV"
	TypePTR   RecordType = "PTR"
	TypeNS    RecordType = "NS"
	TypeSOA   RecordType = "SOA"
)

// Record belongs to exactly one master zone. Names are stored relative to
// the zone apex; "@" denotes the apex itself.
type Record struct {
	ID        int64      `json:"id"`
	ZoneID    int64      `json:"zone_id"`
	Name      string     `json:"name"`
	Type      RecordType `json:"type"`
	Value     string     `json:"value"`
	TTL       int        `json:"ttl"`
	Priority  int        `json:"priority,omitempty"` // MX, SRV
	Weight    int        `json:"weight,omitempty"`   // SRV
	Port      int        `json:"port,omitempty"`     // SRV
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ForwarderType groups forwarders by their role.
type ForwarderType string

const (
	ForwarderActiveDirectory ForwarderType = "active_directory"
	ForwarderIntranet        ForwarderType = "intranet"
	ForwarderPublic          ForwarderType = "public"
)

// ForwardPolicy mirrors BIND's forward statement.
type ForwardPolicy string

const (
	ForwardFirst ForwardPolicy = "first"
	ForwardOnly  ForwardPolicy = "only"
)

// HealthStatus is owned exclusively by the health monitor.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// ForwarderServer is one upstream server of a forwarder.
type ForwarderServer struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"` // defaults to 53
	Priority int    `json:"priority"`
	Weight   int    `json:"weight"`
	Enabled  bool   `json:"enabled"`
}

// HealthCheck configures periodic probing of a forwarder.
type HealthCheck struct {
	Enabled   bool `json:"enabled"`
	IntervalS int  `json:"interval_s"` // [30,3600]
	TimeoutS  int  `json:"timeout_s"`  // [1,30]
	Retries   int  `json:"retries"`    // [1,10]
}

// Forwarder maps one or more domains to upstream DNS servers.
type Forwarder struct {
	ID                int64             `json:"id"`
	Name              string            `json:"name"` // unique
	Domain            string            `json:"domain"`
	AdditionalDomains []string          `json:"additional_domains,omitempty"`
	Type              ForwarderType     `json:"type"`
	Servers           []ForwarderServer `json:"servers"`
	ForwardPolicy     ForwardPolicy     `json:"forward_policy"`
	HealthCheck       HealthCheck       `json:"health_check"`
	Priority          int               `json:"priority"` // [1,100]
	Weight            int               `json:"weight"`   // [1,1000]
	IsActive          bool              `json:"is_active"`
	HealthStatus      HealthStatus      `json:"health_status"`
	LastCheckedAt     *time.Time        `json:"last_checked_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	Version           int64             `json:"version"`
}

// HealthSample is one probe result for one server of a forwarder.
type HealthSample struct {
	ID          int64     `json:"id"`
	ForwarderID int64     `json:"forwarder_id"`
	ServerIP    string    `json:"server_ip"`
	TS          time.Time `json:"ts"`
	OK          bool      `json:"ok"`
	ResponseMs  *int64    `json:"response_ms,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// RPZAction is the policy applied to a matched domain.
type RPZAction string

const (
	RPZBlock    RPZAction = "block"
	RPZRedirect RPZAction = "redirect"
	RPZPassthru RPZAction = "passthru"
)

// RPZRule is one response-policy entry. Uniqueness key is (rpz_zone, domain).
type RPZRule struct {
	ID             int64     `json:"id"`
	RPZZone        string    `json:"rpz_zone"`
	Domain         string    `json:"domain"` // lowercased; wildcard *.x allowed
	Action         RPZAction `json:"action"`
	RedirectTarget string    `json:"redirect_target,omitempty"` // required iff action=redirect
	Category       string    `json:"category,omitempty"`
	Source         string    `json:"source"` // "manual", "feed:<id>" or "manual_list:<id>"
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// SourceManual is the source marker for operator-created rules.
const SourceManual = "manual"

// FeedSource returns the source marker for rules owned by a feed.
func FeedSource(feedID int64) string {
	return "feed:" + strconv.FormatInt(feedID, 10)
}

// RPZZone is a policy zone bucket. Lower priority values win when the same
// domain appears in several zones.
type RPZZone struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// FeedFormat describes the syntax of a threat feed body.
type FeedFormat string

const (
	FormatHosts   FeedFormat = "hosts"
	FormatDomains FeedFormat = "domains"
	FormatRPZ     FeedFormat = "rpz"
)

// FeedStatus summarizes the last refresh outcome.
type FeedStatus string

const (
	FeedNever FeedStatus = "never"
	FeedOK    FeedStatus = "ok"
	FeedError FeedStatus = "error"
)

// ThreatFeed is an external block-list source reconciled into RPZ rules.
type ThreatFeed struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	URL              string     `json:"url"`
	Format           FeedFormat `json:"format"`
	Category         string     `json:"category,omitempty"`
	RPZZone          string     `json:"rpz_zone"`
	UpdateFrequencyS int        `json:"update_frequency_s"`
	Enabled          bool       `json:"enabled"`
	LastStatus       FeedStatus `json:"last_status"`
	LastAttemptAt    *time.Time `json:"last_attempt_at,omitempty"`
	LastSuccessAt    *time.Time `json:"last_success_at,omitempty"`
	ETag             string     `json:"etag,omitempty"`
	LastModified     string     `json:"last_modified,omitempty"`
	RuleCount        int        `json:"rule_count"`
	Version          int64      `json:"version"`
}

// AuditEntry is one append-only record of a mutating action.
type AuditEntry struct {
	ID         int64     `json:"id"`
	TS         time.Time `json:"ts"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	TargetKind string    `json:"target_kind"`
	TargetID   string    `json:"target_id"`
	BeforeHash string    `json:"before_hash,omitempty"`
	AfterHash  string    `json:"after_hash,omitempty"`
	Success    bool      `json:"success"`
	Note       string    `json:"note,omitempty"`
}
