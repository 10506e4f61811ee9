// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Load reads the HCL configuration file, applies environment overrides,
// fills defaults and validates the result. A missing file is not an error;
// the daemon then runs on defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := hclsimple.DecodeFile(path, nil, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides config fields from BINDCTL_* environment variables.
// Only the recognized keys are consulted.
func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("BINDCTL_DB_URL", &cfg.DBURL)
	str("BINDCTL_DB_TIMEOUT", &cfg.DBTimeout)
	str("BINDCTL_BIND_CONFIG_DIR", &cfg.BindConfigDir)
	str("BINDCTL_BIND_ZONES_DIR", &cfg.BindZonesDir)
	str("BINDCTL_BIND_RPZ_DIR", &cfg.BindRPZDir)
	str("BINDCTL_BIND_SERVICE_NAME", &cfg.BindServiceName)
	str("BINDCTL_RELOAD_TIMEOUT", &cfg.ReloadTimeout)
	str("BINDCTL_RESTART_TIMEOUT", &cfg.RestartTimeout)
	str("BINDCTL_DEPLOY_COALESCE_MAX_WAIT", &cfg.DeployCoalesceMaxWait)
	num("BINDCTL_WS_MAX_QUEUE", &cfg.WSMaxQueue)
	str("BINDCTL_WS_PING_INTERVAL", &cfg.WSPingInterval)
	str("BINDCTL_FEED_HTTP_TIMEOUT", &cfg.FeedHTTPTimeout)
	num("BINDCTL_SAMPLE_RETENTION_DAYS", &cfg.SampleRetentionDays)
	num("BINDCTL_SNAPSHOT_RETENTION_COUNT", &cfg.SnapshotRetentionCount)
	str("BINDCTL_LISTEN_ADDR", &cfg.ListenAddr)
	str("BINDCTL_TOKEN_SECRET", &cfg.TokenSecret)
	str("BINDCTL_PROBE_NAME", &cfg.ProbeName)
	str("BINDCTL_LOG_LEVEL", &cfg.LogLevel)
	str("BINDCTL_LOG_FORMAT", &cfg.LogFormat)
}
