// Package metrics exposes engine activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/szagi3891/notatki-panel/internal/engine"
)

// Namespace prefixes every metric name.
const Namespace = "notesync"

// Collector turns engine events into metrics. It owns its registry so tests
// and multiple engines never collide on the global one.
type Collector struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	stageFailures *prometheus.CounterVec
	queueActions  prometheus.Counter
	queueFailures prometheus.Counter
	enabled       prometheus.Gauge
	lastSync      prometheus.Gauge
}

// New creates a Collector with Go runtime and process collectors attached.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cycles_total",
			Help:      "Reconciliation cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of reconciliation cycles in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "stage_failures_total",
			Help:      "Git steps that exited nonzero or failed to run, by stage.",
		}, []string{"stage"}),
		queueActions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "queue_actions_total",
			Help:      "Queued actions that completed.",
		}),
		queueFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "queue_failures_total",
			Help:      "Queue drains aborted by a failing action.",
		}),
		enabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "enabled",
			Help:      "1 when reconciliation is enabled, 0 once it has been disabled.",
		}),
		lastSync: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the last reconciliation cycle finished.",
		}),
	}
	c.enabled.Set(1)

	c.registry.MustRegister(
		c.cycles,
		c.cycleDuration,
		c.stageFailures,
		c.queueActions,
		c.queueFailures,
		c.enabled,
		c.lastSync,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Report implements engine.Reporter.
func (c *Collector) Report(ev engine.Event) {
	if c == nil {
		return
	}

	switch ev.Kind {
	case engine.EventCycle:
		c.cycles.WithLabelValues(string(ev.Outcome)).Inc()
		c.cycleDuration.Observe(ev.Duration.Seconds())
		c.lastSync.Set(float64(ev.Time.Unix()))
	case engine.EventStage:
		if ev.ExitCode != 0 || ev.Err != "" {
			c.stageFailures.WithLabelValues(string(ev.Stage)).Inc()
		}
	case engine.EventQueue:
		c.queueActions.Add(float64(ev.Drained))
		if ev.Err != "" {
			c.queueFailures.Inc()
		}
	case engine.EventDisabled:
		c.enabled.Set(0)
	case engine.EventEnabled:
		c.enabled.Set(1)
	}
}
