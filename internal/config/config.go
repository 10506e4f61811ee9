// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"fmt"
	"time"
)

// Config is the top-level daemon configuration. It is loaded once at startup
// from an HCL file plus BINDCTL_* environment overrides and threaded through
// constructors; there are no mutable globals.
type Config struct {
	// Database connection string. SQLite file path or DSN.
	// @default: "/var/lib/bindctl/bindctl.db"
	DBURL string `hcl:"db_url,optional"`
	// Timeout for any single database operation.
	// @default: "5s"
	DBTimeout string `hcl:"db_timeout,optional"`

	// BIND9 configuration tree root.
	// @default: "/etc/bind"
	BindConfigDir string `hcl:"bind_config_dir,optional"`
	// Directory for generated master zone files.
	// @default: "<bind_config_dir>/zones"
	BindZonesDir string `hcl:"bind_zones_dir,optional"`
	// Directory for generated RPZ zone files.
	// @default: "<bind_config_dir>/rpz"
	BindRPZDir string `hcl:"bind_rpz_dir,optional"`
	// Service unit restarted when rndc reload fails.
	// @default: "bind9"
	BindServiceName string `hcl:"bind_service_name,optional"`

	// @default: "15s"
	ReloadTimeout string `hcl:"reload_timeout,optional"`
	// @default: "60s"
	RestartTimeout string `hcl:"restart_timeout,optional"`
	// Longest a queued deploy may wait behind coalesced requests.
	// @default: "30s"
	DeployCoalesceMaxWait string `hcl:"deploy_coalesce_max_wait,optional"`

	// Per-session websocket send queue size.
	// @default: 256
	WSMaxQueue int `hcl:"ws_max_queue,optional"`
	// @default: "30s"
	WSPingInterval string `hcl:"ws_ping_interval,optional"`

	// @default: "30s"
	FeedHTTPTimeout string `hcl:"feed_http_timeout,optional"`

	AlertThresholds *AlertThresholds `hcl:"alert_thresholds,block"`

	// Health sample retention window in days.
	// @default: 7
	SampleRetentionDays int `hcl:"sample_retention_days,optional"`
	// Config snapshots kept before pruning.
	// @default: 20
	SnapshotRetentionCount int `hcl:"snapshot_retention_count,optional"`

	// HTTP/websocket listener address.
	// @default: ":8053"
	ListenAddr string `hcl:"listen_addr,optional"`
	// Shared secret used to verify websocket bearer tokens.
	TokenSecret string `hcl:"token_secret,optional"`
	// Probe name resolved by forwarder health checks.
	// @default: "health.checkdns.internal"
	ProbeName string `hcl:"probe_name,optional"`

	// @default: "info"
	LogLevel string `hcl:"log_level,optional"`
	// @default: "text"
	LogFormat string `hcl:"log_format,optional"`
}

// AlertThresholds tunes health monitor alerting.
type AlertThresholds struct {
	ResponseMsWarn      int     `hcl:"response_ms_warn,optional"`
	ResponseMsCritical  int     `hcl:"response_ms_critical,optional"`
	FailRateWarn        float64 `hcl:"fail_rate_warn,optional"`
	FailRateCritical    float64 `hcl:"fail_rate_critical,optional"`
	ConsecutiveFailures int     `hcl:"consecutive_failures,optional"`
}

// Durations holds the parsed forms of the string duration fields.
type Durations struct {
	DBTimeout             time.Duration
	ReloadTimeout         time.Duration
	RestartTimeout        time.Duration
	DeployCoalesceMaxWait time.Duration
	WSPingInterval        time.Duration
	FeedHTTPTimeout       time.Duration
}

// ApplyDefaults fills unset fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.DBURL == "" {
		c.DBURL = "/var/lib/bindctl/bindctl.db"
	}
	if c.DBTimeout == "" {
		c.DBTimeout = "5s"
	}
	if c.BindConfigDir == "" {
		c.BindConfigDir = "/etc/bind"
	}
	if c.BindZonesDir == "" {
		c.BindZonesDir = c.BindConfigDir + "/zones"
	}
	if c.BindRPZDir == "" {
		c.BindRPZDir = c.BindConfigDir + "/rpz"
	}
	if c.BindServiceName == "" {
		c.BindServiceName = "bind9"
	}
	if c.ReloadTimeout == "" {
		c.ReloadTimeout = "15s"
	}
	if c.RestartTimeout == "" {
		c.RestartTimeout = "60s"
	}
	if c.DeployCoalesceMaxWait == "" {
		c.DeployCoalesceMaxWait = "30s"
	}
	if c.WSMaxQueue == 0 {
		c.WSMaxQueue = 256
	}
	if c.WSPingInterval == "" {
		c.WSPingInterval = "30s"
	}
	if c.FeedHTTPTimeout == "" {
		c.FeedHTTPTimeout = "30s"
	}
	if c.AlertThresholds == nil {
		c.AlertThresholds = &AlertThresholds{}
	}
	at := c.AlertThresholds
	if at.ResponseMsWarn == 0 {
		at.ResponseMsWarn = 200
	}
	if at.ResponseMsCritical == 0 {
		at.ResponseMsCritical = 500
	}
	if at.FailRateWarn == 0 {
		at.FailRateWarn = 0.2
	}
	if at.FailRateCritical == 0 {
		at.FailRateCritical = 0.5
	}
	if at.ConsecutiveFailures == 0 {
		at.ConsecutiveFailures = 3
	}
	if c.SampleRetentionDays == 0 {
		c.SampleRetentionDays = 7
	}
	if c.SnapshotRetentionCount == 0 {
		c.SnapshotRetentionCount = 20
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8053"
	}
	if c.ProbeName == "" {
		c.ProbeName = "health.checkdns.internal"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate checks field ranges and duration syntax.
func (c *Config) Validate() error {
	if _, err := c.ParseDurations(); err != nil {
		return err
	}
	if c.WSMaxQueue < 8 {
		return fmt.Errorf("ws_max_queue must be at least 8, got %d", c.WSMaxQueue)
	}
	if c.SampleRetentionDays < 1 {
		return fmt.Errorf("sample_retention_days must be positive, got %d", c.SampleRetentionDays)
	}
	if c.SnapshotRetentionCount < 1 {
		return fmt.Errorf("snapshot_retention_count must be positive, got %d", c.SnapshotRetentionCount)
	}
	at := c.AlertThresholds
	if at != nil {
		if at.FailRateWarn <= 0 || at.FailRateWarn > 1 {
			return fmt.Errorf("alert_thresholds.fail_rate_warn must be in (0,1], got %v", at.FailRateWarn)
		}
		if at.FailRateCritical <= 0 || at.FailRateCritical > 1 {
			return fmt.Errorf("alert_thresholds.fail_rate_critical must be in (0,1], got %v", at.FailRateCritical)
		}
	}
	return nil
}

// ParseDurations parses all string duration fields in one pass.
func (c *Config) ParseDurations() (Durations, error) {
	var d Durations
	var err error

	parse := func(name, val string, dst *time.Duration) {
		if err != nil {
			return
		}
		var v time.Duration
		v, err = time.ParseDuration(val)
		if err != nil {
			err = fmt.Errorf("%s: invalid duration %q: %w", name, val, err)
			return
		}
		if v <= 0 {
			err = fmt.Errorf("%s: duration must be positive, got %q", name, val)
			return
		}
		*dst = v
	}

	parse("db_timeout", c.DBTimeout, &d.DBTimeout)
	parse("reload_timeout", c.ReloadTimeout, &d.ReloadTimeout)
	parse("restart_timeout", c.RestartTimeout, &d.RestartTimeout)
	parse("deploy_coalesce_max_wait", c.DeployCoalesceMaxWait, &d.DeployCoalesceMaxWait)
	parse("ws_ping_interval", c.WSPingInterval, &d.WSPingInterval)
	parse("feed_http_timeout", c.FeedHTTPTimeout, &d.FeedHTTPTimeout)
	return d, err
}
