// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"context"
	"sync"

	"grimm.is/bindctl/internal/events"
	"grimm.is/bindctl/internal/logging"
)

// Observer derives gauges and counters from the event bus so components do
// not need a registry handle. It is just another lossy subscriber.
type Observer struct {
	reg    *Registry
	bus    *events.Bus
	sub    *events.Subscription
	logger *logging.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewObserver(reg *Registry, bus *events.Bus, logger *logging.Logger) *Observer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Observer{reg: reg, bus: bus, logger: logger.WithComponent("metrics")}
}

func (o *Observer) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)
	o.sub = o.bus.Subscribe("metrics", 512)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-o.sub.Events():
				o.handle(ev)
			}
		}
	}()
}

func (o *Observer) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	o.bus.Unsubscribe(o.sub)
}

func (o *Observer) handle(ev events.Event) {
	o.reg.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	o.reg.EventsDropped.Set(float64(o.sub.Dropped()))

	switch ev.Type {
	case events.BindReload:
		status, _ := ev.Data["status"].(string)
		o.reg.Deploys.WithLabelValues(status).Inc()
		if reason, _ := ev.Data["reason"].(string); reason == "rollback" {
			o.reg.Rollbacks.Inc()
		}
	case events.ThreatFeedUpdated:
		o.reg.FeedRefreshes.WithLabelValues("ok").Inc()
		if name, ok := ev.Data["name"].(string); ok {
			if n, ok := ev.Data["rule_count"].(int); ok {
				o.reg.FeedRules.WithLabelValues(name).Set(float64(n))
			}
		}
	case events.ThreatFeedError:
		o.reg.FeedRefreshes.WithLabelValues("error").Inc()
	case events.ForwarderStatusChange:
		name, _ := ev.Data["name"].(string)
		to, _ := ev.Data["to"].(string)
		if name != "" {
			o.reg.ForwarderHealth.WithLabelValues(name).Set(HealthValue(to))
		}
	case events.HealthUpdate:
		status, _ := ev.Data["status"].(string)
		result := "failure"
		if status == "healthy" || status == "degraded" {
			result = "success"
		}
		o.reg.ProbeResults.WithLabelValues(result).Inc()
	}
}
