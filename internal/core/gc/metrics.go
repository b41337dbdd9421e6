package gc

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes collector counters to Prometheus.
type Metrics struct {
	Created    prometheus.Counter
	SoftKilled prometheus.Counter
	Reclaimed  prometheus.Counter
	Purged     prometheus.Counter
	Tracked    prometheus.Gauge
	Roots      prometheus.Gauge
	Duration   prometheus.Histogram
}

// NewMetrics creates the collector metrics and registers them with reg.
// A nil reg leaves them unregistered, which tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Created: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "objcore_gc_objects_created_total",
			Help: "Managed objects registered with the collector.",
		}),
		SoftKilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "objcore_gc_objects_soft_killed_total",
			Help: "Objects found unreachable and soft-killed.",
		}),
		Reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "objcore_gc_objects_reclaimed_total",
			Help: "Soft-killed objects removed and returned to the allocator.",
		}),
		Purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "objcore_gc_references_purged_total",
			Help: "References to soft-killed objects cleared while marking.",
		}),
		Tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "objcore_gc_objects_tracked",
			Help: "Objects currently tracked, soft-killed ones included.",
		}),
		Roots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "objcore_gc_roots",
			Help: "Objects currently pinned in the root set.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "objcore_gc_cycle_duration_seconds",
			Help:    "Wall time of one collection cycle.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Created, m.SoftKilled, m.Reclaimed, m.Purged, m.Tracked, m.Roots, m.Duration)
	}
	return m
}
