// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/bindctl/internal/bind"
	"grimm.is/bindctl/internal/errors"
	"grimm.is/bindctl/internal/events"
	"grimm.is/bindctl/internal/model"
	"grimm.is/bindctl/internal/store"
)

type fakeRestorer struct {
	restored []string
	failWith error
	snaps    []bind.Snapshot
}

func (f *fakeRestorer) RestoreSnapshot(_ context.Context, id string) (*bind.Result, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.restored = append(f.restored, id)
	return &bind.Result{Status: bind.StatusDeployed, Hash: "abc123", SnapshotID: id}, nil
}

func (f *fakeRestorer) ListSnapshots() ([]bind.Snapshot, error) { return f.snaps, nil }

func newAuditFixture(t *testing.T, restorer *fakeRestorer) (*Service, *events.Subscription) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), 5*time.Second, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := events.NewBus(nil)
	return New(st, restorer, bus, nil, nil), bus.Subscribe("test", 16)
}

func drain(sub *events.Subscription) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestRollbackRecordsAuditAndEvents(t *testing.T) {
	restorer := &fakeRestorer{}
	svc, sub := newAuditFixture(t, restorer)
	ctx := context.Background()

	res, err := svc.Rollback(ctx, "admin", "20260824T100000.000000000Z")
	require.NoError(t, err)
	assert.Equal(t, bind.StatusDeployed, res.Status)
	assert.Equal(t, []string{"20260824T100000.000000000Z"}, restorer.restored)

	entries, err := svc.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "config.rollback", entries[0].Action)
	assert.Equal(t, "admin", entries[0].Actor)
	assert.Equal(t, "abc123", entries[0].AfterHash)
	assert.True(t, entries[0].Success)

	evs := drain(sub)
	types := map[events.Type]map[string]any{}
	for _, ev := range evs {
		types[ev.Type] = ev.Data
	}
	require.Contains(t, types, events.BindReload)
	assert.Equal(t, "rollback", types[events.BindReload]["reason"])
	require.Contains(t, types, events.ConfigChange)
}

func TestRollbackFailureIsAudited(t *testing.T) {
	restorer := &fakeRestorer{
		failWith: errors.New(errors.KindConflict, "live configuration already matches snapshot"),
	}
	svc, sub := newAuditFixture(t, restorer)
	ctx := context.Background()

	_, err := svc.Rollback(ctx, "admin", "nope")
	require.Error(t, err)
	assert.Equal(t, errors.KindConflict, errors.GetKind(err))

	entries, err := svc.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
	assert.Contains(t, entries[0].Note, "already matches")

	assert.Empty(t, drain(sub), "failed rollback must not announce a reload")
}

func TestListOrderAndPaging(t *testing.T) {
	svc, _ := newAuditFixture(t, &fakeRestorer{})
	ctx := context.Background()

	for i, action := range []string{"zone.create", "record.create", "zone.delete"} {
		require.NoError(t, svc.store.WithTx(ctx, func(tx *store.Tx) error {
			_, err := tx.AppendAuditEntry(&model.AuditEntry{
				TS:     time.Date(2026, 8, 24, 10, i, 0, 0, time.UTC),
				Actor:  "admin",
				Action: action, TargetKind: "zone", TargetID: "example.com",
				Success: true,
			})
			return err
		}))
	}

	entries, err := svc.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "zone.delete", entries[0].Action, "newest first")

	rest, err := svc.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "zone.create", rest[0].Action)
}

func TestSnapshotsPassthrough(t *testing.T) {
	restorer := &fakeRestorer{snaps: []bind.Snapshot{{ID: "b"}, {ID: "a"}}}
	svc, _ := newAuditFixture(t, restorer)

	snaps, err := svc.Snapshots()
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}
