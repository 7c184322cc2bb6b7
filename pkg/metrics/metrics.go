package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "updater"

// Metrics holds the collectors for version checks and updates.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	checks         *prometheus.CounterVec
	sourceResults  *prometheus.CounterVec
	sourceDuration *prometheus.HistogramVec
	updates        *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	activeUpdates  prometheus.Gauge
}

// New registers the collectors with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		checks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_checks_total",
			Help:      "Version checks by outcome (cache_hit, ok, error code).",
		}, []string{"outcome"}),
		sourceResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_source_results_total",
			Help:      "Per-source check results.",
		}, []string{"source", "outcome"}),
		sourceDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "version_source_duration_seconds",
			Help:      "Time spent polling a version source.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"source"}),
		updates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Update operations by outcome.",
		}, []string{"outcome"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_step_duration_seconds",
			Help:      "Duration of update pipeline steps.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"step", "ok"}),
		activeUpdates: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "updates_in_progress",
			Help:      "Update operations currently running.",
		}),
	}
}

// ObserveCheck counts one check outcome
func (m *Metrics) ObserveCheck(outcome string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(outcome).Inc()
}

// ObserveSource records one source poll
func (m *Metrics) ObserveSource(source, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sourceResults.WithLabelValues(source, outcome).Inc()
	m.sourceDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

// ObserveStep records one pipeline step
func (m *Metrics) ObserveStep(step string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := "false"
	if ok {
		label = "true"
	}
	m.stepDuration.WithLabelValues(step, label).Observe(elapsed.Seconds())
}

// UpdateStarted marks an update as running
func (m *Metrics) UpdateStarted() {
	if m == nil {
		return
	}
	m.activeUpdates.Inc()
}

// UpdateFinished counts the update outcome and clears it from the running gauge
func (m *Metrics) UpdateFinished(outcome string) {
	if m == nil {
		return
	}
	m.activeUpdates.Dec()
	m.updates.WithLabelValues(outcome).Inc()
}
