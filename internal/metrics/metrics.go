// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics holds the daemon's Prometheus registry. Counters are fed
// two ways: components that own a hot path increment directly, everything
// else is derived from the event bus by the daemon's metrics subscriber.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every bindctl metric with its backing registry.
type Registry struct {
	reg *prometheus.Registry

	Deploys        *prometheus.CounterVec
	DeployDuration prometheus.Histogram
	Rollbacks      prometheus.Counter

	EventsPublished *prometheus.CounterVec
	EventsDropped   prometheus.Gauge

	FeedRefreshes *prometheus.CounterVec
	FeedRules     *prometheus.GaugeVec

	ProbeResults    *prometheus.CounterVec
	ForwarderHealth *prometheus.GaugeVec

	WSSessions     prometheus.Gauge
	SchedulerSkips *prometheus.GaugeVec
	Zones          *prometheus.GaugeVec
	RPZRules       *prometheus.GaugeVec
	Uptime         prometheus.Gauge
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Deploys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bindctl_deploys_total",
			Help: "Configuration deploy attempts by outcome",
		}, []string{"status"}),
		DeployDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bindctl_deploy_duration_seconds",
			Help:    "Time from render to reload for a deploy",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bindctl_rollbacks_total",
			Help: "Snapshot rollbacks performed",
		}),

		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bindctl_events_published_total",
			Help: "Events published on the internal bus by type",
		}, []string{"type"}),
		EventsDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bindctl_events_dropped",
			Help: "Events dropped by the metrics bus subscriber",
		}),

		FeedRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bindctl_feed_refreshes_total",
			Help: "Threat feed refresh attempts by outcome",
		}, []string{"status"}),
		FeedRules: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bindctl_feed_rules",
			Help: "Rules currently owned by each threat feed",
		}, []string{"feed"}),

		ProbeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bindctl_probe_results_total",
			Help: "Forwarder health probe results",
		}, []string{"result"}),
		ForwarderHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bindctl_forwarder_healthy",
			Help: "Forwarder health (1 healthy, 0.5 degraded, 0 unhealthy)",
		}, []string{"forwarder"}),

		WSSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bindctl_websocket_sessions",
			Help: "Connected websocket sessions",
		}),
		SchedulerSkips: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bindctl_scheduler_skipped_slots",
			Help: "Slots a periodic job missed because its previous run overran",
		}, []string{"job"}),
		Zones: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bindctl_zones",
			Help: "Managed zones by type",
		}, []string{"type"}),
		RPZRules: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bindctl_rpz_rules",
			Help: "Stored RPZ rules by origin",
		}, []string{"origin"}),
		Uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bindctl_uptime_seconds",
			Help: "Seconds since the daemon started",
		}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.Deploys, r.DeployDuration, r.Rollbacks,
		r.EventsPublished, r.EventsDropped,
		r.FeedRefreshes, r.FeedRules,
		r.ProbeResults, r.ForwarderHealth,
		r.WSSessions, r.SchedulerSkips, r.Zones, r.RPZRules, r.Uptime,
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// HealthValue maps a forwarder health status onto the gauge scale.
func HealthValue(status string) float64 {
	switch status {
	case "healthy":
		return 1
	case "degraded":
		return 0.5
	default:
		return 0
	}
}
