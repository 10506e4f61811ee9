// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package bind

import (
	"context"
	"os/exec"
)

// runCommand is replaceable in tests so deploys can be exercised without
// BIND installed.
var runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

func (c *Controller) checkConf(ctx context.Context, path string) ([]byte, error) {
	return runCommand(ctx, "named-checkconf", path)
}

func (c *Controller) checkZone(ctx context.Context, zone, path string) ([]byte, error) {
	return runCommand(ctx, "named-checkzone", "-q", zone, path)
}

func (c *Controller) rndcReload(ctx context.Context) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, c.cfg.ReloadTimeout)
	defer cancel()
	return runCommand(rctx, "rndc", "reload")
}

func (c *Controller) restartService(ctx context.Context) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, c.cfg.RestartTimeout)
	defer cancel()
	return runCommand(rctx, "systemctl", "restart", c.cfg.ServiceName)
}
