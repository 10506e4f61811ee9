// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package scheduler runs the daemon's periodic jobs: health probe passes,
// feed refreshes, sample compaction. Jobs are held in a time-ordered heap
// and fired from a coarse one-second tick. A job still running when its
// next slot arrives is skipped, not stacked.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"grimm.is/bindctl/internal/clock"
	"grimm.is/bindctl/internal/logging"
)

// tickResolution is the scheduling granularity. Sub-second periods are not
// supported and not needed.
const tickResolution = time.Second

// drainTimeout bounds how long Stop waits for in-flight jobs.
const drainTimeout = 30 * time.Second

// JobFunc is one periodic task. The context is cancelled on shutdown.
type JobFunc func(ctx context.Context) error

type entry struct {
	name    string
	every   time.Duration
	run     JobFunc
	nextRun time.Time
	running bool
	skipped int64
	index   int
}

// jobHeap orders entries by nextRun.
type jobHeap []*entry

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].nextRun.Before(h[j].nextRun) }

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler owns the job heap and the tick loop.
type Scheduler struct {
	clk    clock.Clock
	logger *logging.Logger

	mu   sync.Mutex
	jobs jobHeap

	cancel context.CancelFunc
	loopWg sync.WaitGroup
	jobWg  sync.WaitGroup
}

func New(clk clock.Clock, logger *logging.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		clk:    clk,
		logger: logger.WithComponent("scheduler"),
	}
}

// Add registers a job. The first run happens one period from now unless
// immediate is set. Must be called before Start.
func (s *Scheduler) Add(name string, every time.Duration, immediate bool, run JobFunc) {
	next := s.clk.Now().Add(every)
	if immediate {
		next = s.clk.Now()
	}
	s.mu.Lock()
	heap.Push(&s.jobs, &entry{name: name, every: every, run: run, nextRun: next})
	s.mu.Unlock()
}

// Skipped reports how many slots a job has missed because its previous run
// was still in flight.
func (s *Scheduler) Skipped(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.jobs {
		if e.name == name {
			return e.skipped
		}
	}
	return 0
}

func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.loopWg.Add(1)
	go s.loop(ctx)
}

// Stop cancels the tick loop and waits for in-flight jobs, giving up after
// the drain timeout.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.loopWg.Wait()

	done := make(chan struct{})
	go func() {
		s.jobWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		s.logger.Warn("shutdown drain timed out with jobs still running")
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.loopWg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clk.After(tickResolution):
			s.dispatch(ctx)
		}
	}
}

// dispatch fires every due job. Each running job holds a lease on its heap
// entry: a due entry with the lease taken is skipped and rescheduled.
func (s *Scheduler) dispatch(ctx context.Context) {
	now := s.clk.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.jobs) > 0 && !s.jobs[0].nextRun.After(now) {
		e := s.jobs[0]
		if e.running {
			e.skipped++
			e.nextRun = now.Add(e.every)
			heap.Fix(&s.jobs, 0)
			s.logger.Warn("job overran its interval, skipping slot",
				"job", e.name, "skipped", e.skipped)
			continue
		}
		e.running = true
		e.nextRun = now.Add(e.every)
		heap.Fix(&s.jobs, 0)

		s.jobWg.Add(1)
		go func(e *entry) {
			defer s.jobWg.Done()
			start := s.clk.Now()
			if err := e.run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("job failed", "job", e.name, "error", err)
			}
			s.logger.Debug("job finished", "job", e.name, "took", s.clk.Now().Sub(start))
			s.mu.Lock()
			e.running = false
			s.mu.Unlock()
		}(e)
	}
}
