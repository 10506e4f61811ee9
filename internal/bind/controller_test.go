// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package bind

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/bindctl/internal/errors"
	"grimm.is/bindctl/internal/render"
)

// commandStub records invocations and lets tests fail selected commands.
type commandStub struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func stubCommands(t *testing.T) *commandStub {
	t.Helper()
	stub := &commandStub{fail: map[string]error{}}
	orig := runCommand
	runCommand = func(_ context.Context, name string, args ...string) ([]byte, error) {
		stub.mu.Lock()
		defer stub.mu.Unlock()
		stub.calls = append(stub.calls, name)
		if err, ok := stub.fail[name]; ok && err != nil {
			return []byte(name + ": simulated failure"), err
		}
		return nil, nil
	}
	t.Cleanup(func() { runCommand = orig })
	return stub
}

func (s *commandStub) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == name {
			n++
		}
	}
	return n
}

func testController(t *testing.T) *Controller {
	t.Helper()
	return New(Config{
		ConfigDir:      t.TempDir(),
		ServiceName:    "bind9",
		ReloadTimeout:  5 * time.Second,
		RestartTimeout: 5 * time.Second,
		SnapshotKeep:   3,
	}, nil, nil)
}

func testFiles(body string) render.Files {
	return render.Files{
		"zones.conf":           []byte("// zones\n"),
		"forwarders.conf":      []byte("// forwarders\n"),
		"rpz-policy.conf":      []byte("response-policy { } qname-wait-recurse no;\n"),
		"zones/db.example.com": []byte(body),
	}
}

func TestDeployInstallsAndReloads(t *testing.T) {
	stub := stubCommands(t)
	c := testController(t)
	ctx := context.Background()

	res, err := c.Deploy(ctx, testFiles("v1\n"), "test")
	require.NoError(t, err)
	assert.Equal(t, StatusDeployed, res.Status)
	assert.NotEmpty(t, res.SnapshotID)

	data, err := os.ReadFile(filepath.Join(c.cfg.ConfigDir, "zones", "db.example.com"))
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(data))

	assert.Equal(t, 1, stub.count("rndc"))
	assert.Equal(t, 1, stub.count("named-checkzone"))
	assert.Equal(t, 3, stub.count("named-checkconf"))
	assert.Zero(t, stub.count("systemctl"))

	// Identical content short-circuits without touching BIND again.
	res, err = c.Deploy(ctx, testFiles("v1\n"), "test")
	require.NoError(t, err)
	assert.Equal(t, StatusNoChange, res.Status)
	assert.Equal(t, 1, stub.count("rndc"))
}

func TestDeployRejectedLeavesLiveTreeUntouched(t *testing.T) {
	stub := stubCommands(t)
	c := testController(t)
	ctx := context.Background()

	_, err := c.Deploy(ctx, testFiles("v1\n"), "seed")
	require.NoError(t, err)

	stub.fail["named-checkzone"] = assert.AnError
	res, err := c.Deploy(ctx, testFiles("v2 broken\n"), "test")
	require.Error(t, err)
	assert.Equal(t, errors.KindDeployRejected, errors.GetKind(err))
	assert.Equal(t, StatusRejected, res.Status)

	data, err := os.ReadFile(filepath.Join(c.cfg.ConfigDir, "zones", "db.example.com"))
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(data), "rejected deploy must not modify the live tree")

	// No staging directory left behind.
	entries, err := os.ReadDir(c.cfg.ConfigDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".staging-")
	}
}

func TestDeployRollsBackWhenReloadAndRestartFail(t *testing.T) {
	stub := stubCommands(t)
	c := testController(t)
	ctx := context.Background()

	_, err := c.Deploy(ctx, testFiles("v1\n"), "seed")
	require.NoError(t, err)

	stub.fail["rndc"] = assert.AnError
	stub.fail["systemctl"] = assert.AnError
	res, err := c.Deploy(ctx, testFiles("v2\n"), "test")
	require.Error(t, err)
	assert.Equal(t, errors.KindDeployFailed, errors.GetKind(err))
	assert.Equal(t, StatusRolledBack, res.Status)

	data, err := os.ReadFile(filepath.Join(c.cfg.ConfigDir, "zones", "db.example.com"))
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(data), "failed deploy must restore the snapshot")

	// A retry with the fault cleared succeeds: the failed hash was not cached.
	delete(stub.fail, "rndc")
	delete(stub.fail, "systemctl")
	res, err = c.Deploy(ctx, testFiles("v2\n"), "retry")
	require.NoError(t, err)
	assert.Equal(t, StatusDeployed, res.Status)
}

func TestDeployRemovesStaleZoneFiles(t *testing.T) {
	stubCommands(t)
	c := testController(t)
	ctx := context.Background()

	files := testFiles("v1\n")
	files["zones/db.old.example"] = []byte("going away\n")
	_, err := c.Deploy(ctx, files, "seed")
	require.NoError(t, err)

	_, err = c.Deploy(ctx, testFiles("v1\n"), "drop zone")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(c.cfg.ConfigDir, "zones", "db.old.example"))
	assert.True(t, os.IsNotExist(err))
}

func TestSnapshotPruning(t *testing.T) {
	stubCommands(t)
	c := testController(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := c.Deploy(ctx, testFiles("v"+string(rune('a'+i))+"\n"), "churn")
		require.NoError(t, err)
	}

	snaps, err := c.ListSnapshots()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(snaps), c.cfg.SnapshotKeep)
}

func TestRestoreSnapshot(t *testing.T) {
	stubCommands(t)
	c := testController(t)
	ctx := context.Background()

	res1, err := c.Deploy(ctx, testFiles("v1\n"), "seed")
	require.NoError(t, err)
	res2, err := c.Deploy(ctx, testFiles("v2\n"), "edit")
	require.NoError(t, err)

	// res2's snapshot captured the v1 tree.
	restored, err := c.RestoreSnapshot(ctx, res2.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, res1.Hash, restored.Hash)

	data, err := os.ReadFile(filepath.Join(c.cfg.ConfigDir, "zones", "db.example.com"))
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(data))

	// Restoring again is refused: live tree already matches.
	_, err = c.RestoreSnapshot(ctx, res2.SnapshotID)
	assert.Equal(t, errors.KindConflict, errors.GetKind(err))

	_, err = c.RestoreSnapshot(ctx, "20000101T000000.000000000Z")
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestDiffFiles(t *testing.T) {
	old := render.Files{"zones.conf": []byte("a\nb\n"), "same.conf": []byte("x\n")}
	new := render.Files{"zones.conf": []byte("a\nc\n"), "same.conf": []byte("x\n")}

	diff := DiffFiles(old, new)
	assert.Contains(t, diff, "a/zones.conf")
	assert.Contains(t, diff, "-b")
	assert.Contains(t, diff, "+c")
	assert.NotContains(t, diff, "same.conf")
}

func TestCoalescerFoldsBursts(t *testing.T) {
	var mu sync.Mutex
	var runs [][]string
	co := NewCoalescer(10*time.Millisecond, 50*time.Millisecond, nil, nil,
		func(_ context.Context, reasons []string) error {
			mu.Lock()
			defer mu.Unlock()
			runs = append(runs, reasons)
			return nil
		})
	co.Start(context.Background())
	defer co.Stop()

	co.Trigger("record created")
	co.Trigger("record created")
	co.Trigger("zone updated")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(runs) == 1 && len(runs[0]) == 3
	}, 2*time.Second, 5*time.Millisecond, "burst should fold into one deploy")
}

func TestCoalescerStopDrainsPending(t *testing.T) {
	var mu sync.Mutex
	var got []string
	co := NewCoalescer(time.Hour, 2*time.Hour, nil, nil,
		func(_ context.Context, reasons []string) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, reasons...)
			return nil
		})
	co.Start(context.Background())

	co.Trigger("pending change")
	co.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"pending change"}, got)
}
