// Package metrics exposes the kernel's Prometheus instrumentation,
// grounded on alex/internal/observability.ContextMetrics's wrapper
// shape: a struct of already-labeled vectors, constructed against an
// explicit prometheus.Registerer so tests can use a private registry
// instead of the global default.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter/histogram/gauge the kernel records.
type Metrics struct {
	dispatchLatency  *prometheus.HistogramVec
	dispatchOutcomes *prometheus.CounterVec
	skillsLoaded     prometheus.Gauge
	skillEvictions   *prometheus.CounterVec
	reindexOutcomes  *prometheus.CounterVec
	securityDecisions *prometheus.CounterVec
	persistenceDropped prometheus.Counter
}

// New constructs Metrics registered against prometheus's global registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer constructs Metrics registered against reg, so tests can
// pass a private prometheus.NewRegistry() instead of polluting the global
// default.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "skillkernel",
			Subsystem: "executor",
			Name:      "dispatch_latency_seconds",
			Help:      "Latency of a tools/call dispatch, end to end.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		dispatchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skillkernel",
			Subsystem: "executor",
			Name:      "dispatch_outcomes_total",
			Help:      "Count of tool dispatches by terminal status.",
		}, []string{"status"}),
		skillsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "skillkernel",
			Subsystem: "skillcontext",
			Name:      "skills_loaded",
			Help:      "Number of skills currently resident in the loaded-skill map.",
		}),
		skillEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skillkernel",
			Subsystem: "skillcontext",
			Name:      "skill_evictions_total",
			Help:      "Count of skill unloads by reason.",
		}, []string{"reason"}),
		reindexOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skillkernel",
			Subsystem: "indexer",
			Name:      "reindex_outcomes_total",
			Help:      "Count of index rebuilds/deltas by kind.",
		}, []string{"kind"}),
		securityDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skillkernel",
			Subsystem: "security",
			Name:      "decisions_total",
			Help:      "Count of Security Gate assessments by decision.",
		}, []string{"decision"}),
		persistenceDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skillkernel",
			Subsystem: "persistence",
			Name:      "checkpoints_dropped_total",
			Help:      "Count of checkpoints shed under queue backpressure.",
		}),
	}
	reg.MustRegister(
		m.dispatchLatency, m.dispatchOutcomes, m.skillsLoaded,
		m.skillEvictions, m.reindexOutcomes, m.securityDecisions,
		m.persistenceDropped,
	)
	return m
}

// RecordDispatch records one tools/call's latency and terminal status.
func (m *Metrics) RecordDispatch(tool, status string, d time.Duration) {
	m.dispatchLatency.WithLabelValues(tool).Observe(d.Seconds())
	m.dispatchOutcomes.WithLabelValues(status).Inc()
}

// SetSkillsLoaded reports the current loaded-skill count.
func (m *Metrics) SetSkillsLoaded(n int) {
	m.skillsLoaded.Set(float64(n))
}

// RecordEviction records one skill unload by reason ("ttl", "lru",
// "file_changed", "security_reassessment", "shutdown").
func (m *Metrics) RecordEviction(reason string) {
	m.skillEvictions.WithLabelValues(reason).Inc()
}

// RecordReindex records one index update by kind ("delta", "rebuild",
// "docs").
func (m *Metrics) RecordReindex(kind string) {
	m.reindexOutcomes.WithLabelValues(kind).Inc()
}

// RecordSecurityDecision records one Security Gate verdict ("allow",
// "warn", "block").
func (m *Metrics) RecordSecurityDecision(decision string) {
	m.securityDecisions.WithLabelValues(decision).Inc()
}

// RecordPersistenceDropped records a checkpoint shed under backpressure.
func (m *Metrics) RecordPersistenceDropped(n int) {
	m.persistenceDropped.Add(float64(n))
}
