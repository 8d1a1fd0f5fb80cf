// metrics.go - Prometheus instruments for reconciliation runs

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "labrecon"

// Metrics groups the instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	segments          *prometheus.CounterVec
	extractorFailures *prometheus.CounterVec
	recordsEmitted    prometheus.Counter
	runDuration       *prometheus.HistogramVec
	emptyResults      *prometheus.CounterVec
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		segments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_total",
			Help:      "Extracted segments by JSON recovery outcome.",
		}, []string{"outcome"}),
		extractorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractor_failures_total",
			Help:      "Extractor calls that returned an error.",
		}, []string{"provider"}),
		recordsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_emitted_total",
			Help:      "Test records returned to callers.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a reconciliation run.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"result"}),
		emptyResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "empty_results_total",
			Help:      "Runs that produced no records, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.segments, m.extractorFailures, m.recordsEmitted, m.runDuration, m.emptyResults)
	return m
}

func (m *Metrics) SegmentOutcome(outcome string) {
	if m == nil {
		return
	}
	m.segments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ExtractorFailure(provider string) {
	if m == nil {
		return
	}
	m.extractorFailures.WithLabelValues(provider).Inc()
}

func (m *Metrics) RecordsEmitted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsEmitted.Add(float64(n))
}

// ObserveRun records a finished run; result is "ok", "empty" or "cancelled".
func (m *Metrics) ObserveRun(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

func (m *Metrics) EmptyResult(reason string) {
	if m == nil {
		return
	}
	m.emptyResults.WithLabelValues(reason).Inc()
}
