// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/bindctl/internal/clock"
)

// advanceUntil steps the mock clock one tick at a time until cond holds.
func advanceUntil(t *testing.T, clk *clock.Mock, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		clk.Advance(time.Second)
		return cond()
	}, 5*time.Second, 5*time.Millisecond)
}

func TestJobsFireOnSchedule(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	s := New(clk, nil)

	var fast, slow atomic.Int64
	s.Add("fast", 2*time.Second, false, func(context.Context) error {
		fast.Add(1)
		return nil
	})
	s.Add("slow", 5*time.Second, false, func(context.Context) error {
		slow.Add(1)
		return nil
	})
	s.Start(context.Background())
	defer s.Stop()

	advanceUntil(t, clk, func() bool { return fast.Load() >= 3 && slow.Load() >= 1 })
	assert.Greater(t, fast.Load(), slow.Load(), "shorter period runs more often")
}

func TestImmediateJobRunsOnFirstTick(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	s := New(clk, nil)

	var runs atomic.Int64
	s.Add("now", time.Hour, true, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	s.Start(context.Background())
	defer s.Stop()

	advanceUntil(t, clk, func() bool { return runs.Load() == 1 })
}

func TestOverrunningJobSkipsSlots(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	s := New(clk, nil)

	block := make(chan struct{})
	var starts atomic.Int64
	s.Add("sticky", time.Second, false, func(context.Context) error {
		starts.Add(1)
		<-block
		return nil
	})
	s.Start(context.Background())

	advanceUntil(t, clk, func() bool { return starts.Load() == 1 })
	advanceUntil(t, clk, func() bool { return s.Skipped("sticky") >= 2 })
	assert.Equal(t, int64(1), starts.Load(), "overlapping runs must not stack")

	close(block)
	s.Stop()
}

func TestStopDrainsInFlightJobs(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	s := New(clk, nil)

	var mu sync.Mutex
	finished := false
	var started atomic.Bool
	s.Add("worker", time.Second, false, func(context.Context) error {
		started.Store(true)
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		finished = true
		mu.Unlock()
		return nil
	})
	s.Start(context.Background())

	advanceUntil(t, clk, func() bool { return started.Load() })

	s.Stop()
	mu.Lock()
	defer mu.Unlock()
	require.True(t, finished, "Stop must wait for in-flight jobs")
}
