// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/etc/bind", cfg.BindConfigDir)
	assert.Equal(t, "/etc/bind/zones", cfg.BindZonesDir)
	assert.Equal(t, "/etc/bind/rpz", cfg.BindRPZDir)
	assert.Equal(t, "bind9", cfg.BindServiceName)
	assert.Equal(t, 256, cfg.WSMaxQueue)
	assert.Equal(t, 20, cfg.SnapshotRetentionCount)
	assert.Equal(t, 7, cfg.SampleRetentionDays)
	assert.Equal(t, "health.checkdns.internal", cfg.ProbeName)
	assert.Equal(t, 200, cfg.AlertThresholds.ResponseMsWarn)
	assert.Equal(t, 500, cfg.AlertThresholds.ResponseMsCritical)
	assert.Equal(t, 3, cfg.AlertThresholds.ConsecutiveFailures)

	d, err := cfg.ParseDurations()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, d.ReloadTimeout)
	assert.Equal(t, 60*time.Second, d.RestartTimeout)
	assert.Equal(t, 30*time.Second, d.FeedHTTPTimeout)
}

func TestLoadHCLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bindctl.hcl")
	content := `
bind_config_dir = "/tmp/bind-test"
reload_timeout  = "5s"
ws_max_queue    = 64

alert_thresholds {
  response_ms_warn     = 100
  consecutive_failures = 5
}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/bind-test", cfg.BindConfigDir)
	// Derived dirs follow the overridden root.
	assert.Equal(t, "/tmp/bind-test/zones", cfg.BindZonesDir)
	assert.Equal(t, "5s", cfg.ReloadTimeout)
	assert.Equal(t, 64, cfg.WSMaxQueue)
	assert.Equal(t, 100, cfg.AlertThresholds.ResponseMsWarn)
	assert.Equal(t, 500, cfg.AlertThresholds.ResponseMsCritical)
	assert.Equal(t, 5, cfg.AlertThresholds.ConsecutiveFailures)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BINDCTL_BIND_SERVICE_NAME", "named")
	t.Setenv("BINDCTL_WS_MAX_QUEUE", "128")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "named", cfg.BindServiceName)
	assert.Equal(t, 128, cfg.WSMaxQueue)
}

func TestValidateRejectsBadDurations(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.ReloadTimeout = "not-a-duration"
	assert.Error(t, cfg.Validate())

	cfg.ReloadTimeout = "-5s"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsTinyQueue(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.WSMaxQueue = 2
	assert.Error(t, cfg.Validate())
}
