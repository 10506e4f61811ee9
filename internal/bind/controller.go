// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package bind owns the managed slice of the BIND9 configuration tree.
// Every deploy follows the same pipeline: snapshot, stage, validate, swap,
// reload. Validation failures reject the deploy with the live tree untouched;
// reload failures roll the tree back to the snapshot taken at the start.
package bind

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"grimm.is/bindctl/internal/clock"
	"grimm.is/bindctl/internal/errors"
	"grimm.is/bindctl/internal/logging"
	"grimm.is/bindctl/internal/render"
)

// Config holds the filesystem layout and timeouts of the managed BIND
// instance.
type Config struct {
	ConfigDir      string // /etc/bind
	SnapshotDir    string // <ConfigDir>/snapshots
	ServiceName    string // bind9
	ReloadTimeout  time.Duration
	RestartTimeout time.Duration
	SnapshotKeep   int
}

// Status classifies the outcome of a deploy attempt.
type Status string

const (
	StatusDeployed   Status = "deployed"
	StatusNoChange   Status = "no_change"
	StatusRejected   Status = "rejected"
	StatusRolledBack Status = "rolled_back"
)

// Result reports what a deploy did.
type Result struct {
	Status     Status
	Hash       string
	SnapshotID string
	Diff       string
	Took       time.Duration
}

// Controller serializes deploys against one BIND instance. All mutating
// entry points take the deploy lock; there is never more than one staging
// directory or reload in flight.
type Controller struct {
	cfg    Config
	logger *logging.Logger
	clk    clock.Clock

	mu       sync.Mutex
	lastHash string
}

func New(cfg Config, clk clock.Clock, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	if cfg.SnapshotDir == "" {
		cfg.SnapshotDir = filepath.Join(cfg.ConfigDir, "snapshots")
	}
	return &Controller{
		cfg:    cfg,
		logger: logger.WithComponent("bind"),
		clk:    clk,
	}
}

// managedPaths are the files and directories this controller owns inside
// ConfigDir. Nothing outside this list is ever written or snapshotted.
var managedFiles = []string{"zones.conf", "forwarders.conf", "rpz-policy.conf"}
var managedDirs = []string{"zones", "rpz"}

// Deploy renders files onto disk and makes BIND pick them up. It returns a
// KindDeployRejected error when validation fails (live tree untouched) and a
// KindDeployFailed error when the reload failed and the snapshot was
// restored.
func (c *Controller) Deploy(ctx context.Context, files render.Files, reason string) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.clk.Now()
	hash := files.Hash()

	if hash == c.lastHash && c.lastHash != "" {
		c.logger.Debug("deploy skipped, content unchanged", "hash", hash, "reason", reason)
		return &Result{Status: StatusNoChange, Hash: hash, Took: c.clk.Now().Sub(start)}, nil
	}

	live, err := c.ReadLive()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "reading live config")
	}

	snapID, err := c.writeSnapshot(live)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "writing snapshot")
	}

	staging, err := c.stage(files)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "staging files")
	}
	defer os.RemoveAll(staging)

	if err := c.validate(ctx, staging, files); err != nil {
		c.logger.Warn("deploy rejected by validation", "reason", reason, "error", err)
		return &Result{Status: StatusRejected, Hash: hash, SnapshotID: snapID},
			errors.Wrap(err, errors.KindDeployRejected, "configuration validation failed")
	}

	if err := c.swap(staging, files); err != nil {
		// A partial swap is the one state we cannot leave behind.
		c.restore(ctx, snapID)
		return &Result{Status: StatusRolledBack, Hash: hash, SnapshotID: snapID},
			errors.Wrap(err, errors.KindDeployFailed, "installing files")
	}

	if out, err := c.rndcReload(ctx); err != nil {
		c.logger.Warn("rndc reload failed, restarting service",
			"service", c.cfg.ServiceName, "output", strings.TrimSpace(string(out)))
		if out, err := c.restartService(ctx); err != nil {
			c.logger.Error("service restart failed, rolling back",
				"snapshot", snapID, "output", strings.TrimSpace(string(out)))
			c.restore(ctx, snapID)
			return &Result{Status: StatusRolledBack, Hash: hash, SnapshotID: snapID},
				errors.Wrap(err, errors.KindDeployFailed, "reload and restart both failed")
		}
	}

	c.lastHash = hash
	c.pruneSnapshots()

	took := c.clk.Now().Sub(start)
	c.logger.Info("deploy complete", "hash", hash, "snapshot", snapID, "reason", reason, "took", took)
	return &Result{
		Status:     StatusDeployed,
		Hash:       hash,
		SnapshotID: snapID,
		Diff:       DiffFiles(live, files),
		Took:       took,
	}, nil
}

// LastHash returns the hash of the most recently deployed file set, empty
// before the first deploy of this process.
func (c *Controller) LastHash() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHash
}

// SetLastHash seeds the change detector, used at startup after reconciling
// the rendered state against the live tree.
func (c *Controller) SetLastHash(h string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastHash = h
}

// ReadLive reads the currently installed managed files from disk.
func (c *Controller) ReadLive() (render.Files, error) {
	files := render.Files{}
	for _, name := range managedFiles {
		data, err := os.ReadFile(filepath.Join(c.cfg.ConfigDir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		files[name] = data
	}
	for _, dir := range managedDirs {
		entries, err := os.ReadDir(filepath.Join(c.cfg.ConfigDir, dir))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasPrefix(e.Name(), "db.") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(c.cfg.ConfigDir, dir, e.Name()))
			if err != nil {
				return nil, err
			}
			files[dir+"/"+e.Name()] = data
		}
	}
	return files, nil
}

// stage writes all files under a temporary directory inside ConfigDir so the
// final installation is a same-filesystem rename.
func (c *Controller) stage(files render.Files) (string, error) {
	staging, err := os.MkdirTemp(c.cfg.ConfigDir, ".staging-")
	if err != nil {
		return "", err
	}
	for path, content := range files {
		dst := filepath.Join(staging, path)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			os.RemoveAll(staging)
			return "", err
		}
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			os.RemoveAll(staging)
			return "", err
		}
	}
	return staging, nil
}

// validate runs named-checkzone over every staged zone file and
// named-checkconf over every staged conf fragment.
func (c *Controller) validate(ctx context.Context, staging string, files render.Files) error {
	for path := range files {
		staged := filepath.Join(staging, path)
		switch {
		case strings.HasPrefix(path, "zones/db."):
			zone := strings.TrimPrefix(path, "zones/db.")
			if out, err := c.checkZone(ctx, zone, staged); err != nil {
				return errors.Errorf(errors.KindValidation, "named-checkzone %s: %s", zone, strings.TrimSpace(string(out)))
			}
		case strings.HasPrefix(path, "rpz/db."):
			zone := strings.TrimPrefix(path, "rpz/db.")
			if out, err := c.checkZone(ctx, zone, staged); err != nil {
				return errors.Errorf(errors.KindValidation, "named-checkzone %s: %s", zone, strings.TrimSpace(string(out)))
			}
		case strings.HasSuffix(path, ".conf"):
			if out, err := c.checkConf(ctx, staged); err != nil {
				return errors.Errorf(errors.KindValidation, "named-checkconf %s: %s", path, strings.TrimSpace(string(out)))
			}
		}
	}
	return nil
}

// swap installs staged files over the live tree and removes managed files
// that are no longer rendered.
func (c *Controller) swap(staging string, files render.Files) error {
	for path := range files {
		dst := filepath.Join(c.cfg.ConfigDir, path)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.Rename(filepath.Join(staging, path), dst); err != nil {
			return err
		}
	}

	// Zone files for deleted zones must go, or named-checkconf keeps loading
	// them through stale includes on the next operator edit.
	live, err := c.ReadLive()
	if err != nil {
		return err
	}
	for path := range live {
		if _, keep := files[path]; keep {
			continue
		}
		if strings.HasPrefix(path, "zones/db.") || strings.HasPrefix(path, "rpz/db.") {
			if err := os.Remove(filepath.Join(c.cfg.ConfigDir, path)); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}
