// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package health probes forwarder upstreams and maintains their health
// state machine. It is the single writer of forwarder health columns; the
// DNS service never touches them.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"grimm.is/bindctl/internal/clock"
	"grimm.is/bindctl/internal/config"
	"grimm.is/bindctl/internal/events"
	"grimm.is/bindctl/internal/logging"
	"grimm.is/bindctl/internal/model"
	"grimm.is/bindctl/internal/store"
)

// transitionCycles is how many consecutive cycles must agree before the
// state machine moves, except the immediate drop to unhealthy.
const transitionCycles = 2

// failWindowCycles is the lookback for failure-rate alerting.
const failWindowCycles = 10

// Monitor drives probe cycles. The scheduler calls Tick periodically;
// forwarders run when their own interval has elapsed.
type Monitor struct {
	store      *store.Store
	bus        *events.Bus
	clk        clock.Clock
	logger     *logging.Logger
	probeName  string
	thresholds config.AlertThresholds
	alertTTL   time.Duration

	mu     sync.Mutex
	states map[int64]*fsm
	wg     sync.WaitGroup
}

// fsm is per-forwarder transition state, in memory only. A restart begins
// from the persisted health_status with counters cleared.
type fsm struct {
	current      model.HealthStatus
	candidate    model.HealthStatus
	agreeCycles  int
	consecFails  int
	lastProbedAt time.Time
	lastAlertAt  map[string]time.Time // keyed by alert kind
}

func NewMonitor(st *store.Store, bus *events.Bus, clk clock.Clock, probeName string, thresholds config.AlertThresholds, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	if probeName == "" {
		probeName = "health.checkdns.internal"
	}
	return &Monitor{
		store:      st,
		bus:        bus,
		clk:        clk,
		logger:     logger.WithComponent("health"),
		probeName:  probeName,
		thresholds: thresholds,
		alertTTL:   15 * time.Minute,
		states:     map[int64]*fsm{},
	}
}

// Tick runs one scheduling pass: every forwarder with health checks enabled
// whose interval has elapsed gets a probe cycle. Cycles run in parallel
// across forwarders; Tick returns once all complete.
func (m *Monitor) Tick(ctx context.Context) error {
	var forwarders []*model.Forwarder
	err := m.store.View(ctx, func(tx *store.Tx) error {
		var err error
		forwarders, err = tx.ListForwarders(true)
		return err
	})
	if err != nil {
		return err
	}

	now := m.clk.Now()
	for _, fwd := range forwarders {
		if !fwd.HealthCheck.Enabled {
			continue
		}
		st := m.state(fwd)
		interval := time.Duration(fwd.HealthCheck.IntervalS) * time.Second
		if !st.lastProbedAt.IsZero() && now.Sub(st.lastProbedAt) < interval {
			continue
		}
		st.lastProbedAt = now

		m.wg.Add(1)
		go func(fwd *model.Forwarder) {
			defer m.wg.Done()
			m.runCycle(ctx, fwd)
		}(fwd)
	}
	m.wg.Wait()
	return nil
}

func (m *Monitor) state(fwd *model.Forwarder) *fsm {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[fwd.ID]
	if !ok {
		st = &fsm{current: fwd.HealthStatus, lastAlertAt: map[string]time.Time{}}
		if st.current == "" {
			st.current = model.HealthUnknown
		}
		m.states[fwd.ID] = st
	}
	return st
}

// Forget drops in-memory state for a deleted forwarder.
func (m *Monitor) Forget(id int64) {
	m.mu.Lock()
	delete(m.states, id)
	m.mu.Unlock()
}

type serverResult struct {
	IP         string `json:"ip"`
	OK         bool   `json:"ok"`
	ResponseMs int64  `json:"response_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// runCycle probes every enabled server of one forwarder in parallel,
// persists samples, and advances the state machine.
func (m *Monitor) runCycle(ctx context.Context, fwd *model.Forwarder) {
	timeout := time.Duration(fwd.HealthCheck.TimeoutS) * time.Second
	retries := fwd.HealthCheck.Retries
	if retries < 1 {
		retries = 1
	}

	var enabled []model.ForwarderServer
	for _, srv := range fwd.Servers {
		if srv.Enabled {
			enabled = append(enabled, srv)
		}
	}
	if len(enabled) == 0 {
		return
	}

	results := make([]serverResult, len(enabled))
	var wg sync.WaitGroup
	for i, srv := range enabled {
		wg.Add(1)
		go func(i int, srv model.ForwarderServer) {
			defer wg.Done()
			results[i] = m.probeServer(ctx, srv, timeout, retries)
		}(i, srv)
	}
	wg.Wait()
	if ctx.Err() != nil {
		return
	}

	now := m.clk.Now().UTC()
	samples := make([]model.HealthSample, 0, len(results))
	okCount := 0
	for _, r := range results {
		sample := model.HealthSample{
			ForwarderID: fwd.ID, ServerIP: r.IP, TS: now, OK: r.OK, Error: r.Error,
		}
		if r.OK {
			okCount++
			ms := r.ResponseMs
			sample.ResponseMs = &ms
		}
		samples = append(samples, sample)
	}

	target := aggregate(okCount, len(results), fwd.ForwardPolicy)
	m.advance(ctx, fwd, target, results, samples, now)
}

func (m *Monitor) probeServer(ctx context.Context, srv model.ForwarderServer, timeout time.Duration, retries int) serverResult {
	port := srv.Port
	if port == 0 {
		port = 53
	}
	addr := fmt.Sprintf("%s:%d", srv.IP, port)

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		rtt, err := QueryFunc(ctx, addr, m.probeName, timeout)
		if err == nil {
			return serverResult{IP: srv.IP, OK: true, ResponseMs: rtt.Milliseconds()}
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return serverResult{IP: srv.IP, Error: classifyFailure(ctx, srv.IP, timeout, lastErr)}
}

// aggregate maps per-server outcomes to a forwarder status. A partial
// outage only counts as degraded when the forward policy can still fall
// through to a live server.
func aggregate(ok, total int, policy model.ForwardPolicy) model.HealthStatus {
	switch {
	case ok == total:
		return model.HealthHealthy
	case ok == 0:
		return model.HealthUnhealthy
	case policy == model.ForwardFirst:
		return model.HealthDegraded
	default:
		return model.HealthUnhealthy
	}
}

// advance applies the transition rules and persists the cycle's outcome.
func (m *Monitor) advance(ctx context.Context, fwd *model.Forwarder, target model.HealthStatus, results []serverResult, samples []model.HealthSample, now time.Time) {
	st := m.state(fwd)

	m.mu.Lock()
	if target == model.HealthUnhealthy {
		st.consecFails++
	} else {
		st.consecFails = 0
	}
	if target == st.candidate {
		st.agreeCycles++
	} else {
		st.candidate = target
		st.agreeCycles = 1
	}

	from := st.current
	transition := false
	if target != st.current {
		// Unhealthy is entered only through the consecutive-failures rule;
		// every other target waits for K agreeing cycles, unknown included.
		if target == model.HealthUnhealthy {
			if st.consecFails >= m.thresholds.ConsecutiveFailures {
				st.current = target
				transition = true
			}
		} else if st.agreeCycles >= transitionCycles {
			st.current = target
			transition = true
		}
	}
	current := st.current
	m.mu.Unlock()

	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.RecordHealthSamples(samples); err != nil {
			return err
		}
		return tx.SetForwarderHealth(fwd.ID, current, now)
	})
	if err != nil {
		m.logger.Error("persisting probe cycle failed", "forwarder", fwd.Name, "error", err)
		return
	}

	perServer := make([]any, len(results))
	for i, r := range results {
		perServer[i] = r
	}
	if transition {
		m.logger.Info("forwarder health transition",
			"forwarder", fwd.Name, "from", string(from), "to", string(target))
		m.bus.Publish(events.ForwarderStatusChange, map[string]any{
			"forwarder_id": fwd.ID, "name": fwd.Name,
			"from": string(from), "to": string(target),
			"per_server": perServer,
		})
	}
	m.bus.Publish(events.HealthUpdate, map[string]any{
		"forwarder_id": fwd.ID, "name": fwd.Name,
		"status": string(current), "per_server": perServer,
	})

	m.alert(ctx, fwd, st, current, results, now)
}

// alert applies the thresholds, deduplicating per (forwarder, kind) inside
// the alert TTL.
func (m *Monitor) alert(ctx context.Context, fwd *model.Forwarder, st *fsm, current model.HealthStatus, results []serverResult, now time.Time) {
	var worst int64
	for _, r := range results {
		if r.OK && r.ResponseMs > worst {
			worst = r.ResponseMs
		}
	}

	if current == model.HealthUnhealthy {
		m.emitAlert(fwd, st, "unhealthy", "critical", now, map[string]any{})
	}
	switch {
	case worst >= int64(m.thresholds.ResponseMsCritical):
		m.emitAlert(fwd, st, "response_time", "critical", now, map[string]any{"response_ms": worst})
	case worst >= int64(m.thresholds.ResponseMsWarn):
		m.emitAlert(fwd, st, "response_time", "warning", now, map[string]any{"response_ms": worst})
	}

	interval := time.Duration(fwd.HealthCheck.IntervalS) * time.Second
	var window *store.HealthWindow
	err := m.store.View(ctx, func(tx *store.Tx) error {
		var err error
		window, err = tx.AggregateHealthWindow(fwd.ID, now.Add(-time.Duration(failWindowCycles)*interval), now)
		return err
	})
	if err != nil || window == nil || window.Samples == 0 {
		return
	}
	switch {
	case window.FailRate >= m.thresholds.FailRateCritical:
		m.emitAlert(fwd, st, "fail_rate", "critical", now, map[string]any{"fail_rate": window.FailRate})
	case window.FailRate >= m.thresholds.FailRateWarn:
		m.emitAlert(fwd, st, "fail_rate", "warning", now, map[string]any{"fail_rate": window.FailRate})
	}
}

func (m *Monitor) emitAlert(fwd *model.Forwarder, st *fsm, kind, severity string, now time.Time, data map[string]any) {
	m.mu.Lock()
	last, seen := st.lastAlertAt[kind]
	if seen && now.Sub(last) < m.alertTTL {
		m.mu.Unlock()
		return
	}
	st.lastAlertAt[kind] = now
	m.mu.Unlock()

	data["forwarder_id"] = fwd.ID
	data["name"] = fwd.Name
	data["kind"] = kind
	data["severity"] = severity
	m.logger.Warn("health alert", "forwarder", fwd.Name, "alert", kind, "severity", severity)
	m.bus.Publish(events.HealthAlert, data)
}

// Compact folds old raw samples into hourly aggregates and trims history.
// The scheduler runs it daily.
func (m *Monitor) Compact(ctx context.Context, retention time.Duration) error {
	var removed int64
	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		removed, err = tx.DownsampleHealthSamples(m.clk.Now(), 24*time.Hour, retention)
		return err
	})
	if err != nil {
		return err
	}
	if removed > 0 {
		m.logger.Info("health samples compacted", "removed", removed)
	}
	return nil
}
