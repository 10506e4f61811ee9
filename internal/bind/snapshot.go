// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package bind

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"grimm.is/bindctl/internal/errors"
	"grimm.is/bindctl/internal/render"
)

// Snapshot is one point-in-time archive of the managed tree.
type Snapshot struct {
	ID   string
	Path string
	Size int64
}

// writeSnapshot archives the given live file set as a tar.gz named by
// timestamp. Called with the deploy lock held.
func (c *Controller) writeSnapshot(live render.Files) (string, error) {
	if err := os.MkdirAll(c.cfg.SnapshotDir, 0o755); err != nil {
		return "", err
	}

	id := c.clk.Now().UTC().Format("20060102T150405.000000000Z")
	path := filepath.Join(c.cfg.SnapshotDir, id+".tar.gz")

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	paths := make([]string, 0, len(live))
	for p := range live {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		hdr := &tar.Header{Name: p, Mode: 0o644, Size: int64(len(live[p]))}
		if err := tw.WriteHeader(hdr); err != nil {
			return "", err
		}
		if _, err := tw.Write(live[p]); err != nil {
			return "", err
		}
	}
	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	return id, f.Close()
}

// readSnapshot loads an archive back into a file set.
func (c *Controller) readSnapshot(id string) (render.Files, error) {
	f, err := os.Open(filepath.Join(c.cfg.SnapshotDir, id+".tar.gz"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Errorf(errors.KindNotFound, "snapshot %s not found", id)
		}
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	files := render.Files{}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		// Snapshots are written by this process, but refuse traversal anyway.
		if strings.Contains(hdr.Name, "..") || filepath.IsAbs(hdr.Name) {
			return nil, errors.Errorf(errors.KindInternal, "snapshot %s contains illegal path %q", id, hdr.Name)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		files[hdr.Name] = data
	}
	return files, nil
}

// restore installs a snapshot over the live tree and restarts the service.
// Best effort: called while already handling a failure.
func (c *Controller) restore(ctx context.Context, id string) {
	files, err := c.readSnapshot(id)
	if err != nil {
		c.logger.Error("snapshot restore failed", "snapshot", id, "error", err)
		return
	}
	staging, err := c.stage(files)
	if err != nil {
		c.logger.Error("snapshot restore staging failed", "snapshot", id, "error", err)
		return
	}
	defer os.RemoveAll(staging)
	if err := c.swap(staging, files); err != nil {
		c.logger.Error("snapshot restore swap failed", "snapshot", id, "error", err)
		return
	}
	if out, err := c.restartService(ctx); err != nil {
		c.logger.Error("service restart after restore failed",
			"snapshot", id, "output", strings.TrimSpace(string(out)))
	}
}

// RestoreSnapshot rolls the live tree back to a named snapshot and reloads.
// It refuses the restore when the live tree already matches the snapshot.
func (c *Controller) RestoreSnapshot(ctx context.Context, id string) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	files, err := c.readSnapshot(id)
	if err != nil {
		return nil, err
	}

	live, err := c.ReadLive()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "reading live config")
	}
	if live.Hash() == files.Hash() {
		return nil, errors.Errorf(errors.KindConflict, "live configuration already matches snapshot %s", id)
	}

	staging, err := c.stage(files)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "staging snapshot")
	}
	defer os.RemoveAll(staging)

	if err := c.swap(staging, files); err != nil {
		return nil, errors.Wrap(err, errors.KindDeployFailed, "installing snapshot")
	}
	if _, err := c.rndcReload(ctx); err != nil {
		if out, err := c.restartService(ctx); err != nil {
			return nil, errors.Wrapf(err, errors.KindDeployFailed,
				"reload and restart failed after restoring %s: %s", id, strings.TrimSpace(string(out)))
		}
	}

	hash := files.Hash()
	c.lastHash = hash
	c.logger.Info("snapshot restored", "snapshot", id, "hash", hash)
	return &Result{Status: StatusDeployed, Hash: hash, SnapshotID: id, Diff: DiffFiles(live, files)}, nil
}

// ListSnapshots returns available snapshots, newest first.
func (c *Controller) ListSnapshots() ([]Snapshot, error) {
	entries, err := os.ReadDir(c.cfg.SnapshotDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var snaps []Snapshot
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tar.gz") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		snaps = append(snaps, Snapshot{
			ID:   strings.TrimSuffix(e.Name(), ".tar.gz"),
			Path: filepath.Join(c.cfg.SnapshotDir, e.Name()),
			Size: info.Size(),
		})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID > snaps[j].ID })
	return snaps, nil
}

// pruneSnapshots keeps the newest SnapshotKeep archives. Called with the
// deploy lock held.
func (c *Controller) pruneSnapshots() {
	if c.cfg.SnapshotKeep <= 0 {
		return
	}
	snaps, err := c.ListSnapshots()
	if err != nil {
		c.logger.Warn("snapshot listing failed during prune", "error", err)
		return
	}
	for _, s := range snaps[min(len(snaps), c.cfg.SnapshotKeep):] {
		if err := os.Remove(s.Path); err != nil {
			c.logger.Warn("snapshot prune failed", "snapshot", s.ID, "error", err)
		}
	}
}
