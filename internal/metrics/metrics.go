// Package metrics holds the Prometheus collectors for split adjustment runs.
package metrics

import (
	"time"

	"github.com/mauv0809/splitadjust/internal/adjust"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "splitadjust"

// Metrics records adjustment runs.
type Metrics struct {
	Duration   *prometheus.HistogramVec
	InputRows  *prometheus.CounterVec
	OutputRows *prometheus.CounterVec
	Warnings   *prometheus.CounterVec
	Failures   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "adjust_duration_seconds",
			Help:      "Time spent adjusting a price table for splits.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"source"}),
		InputRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_rows_total",
			Help:      "Price rows within the knowledge date horizon.",
		}, []string{"source"}),
		OutputRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_rows_total",
			Help:      "Adjusted price rows produced.",
		}, []string{"source"}),
		Warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degenerate_split_groups_total",
			Help:      "Split events sharing a security and date that were combined.",
		}, []string{"source"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adjust_failures_total",
			Help:      "Adjustment runs rejected because of bad input.",
		}, []string{"source"}),
	}
	reg.MustRegister(m.Duration, m.InputRows, m.OutputRows, m.Warnings, m.Failures)
	return m
}

// Observe records a finished run. A nil result counts as a failure.
func (m *Metrics) Observe(source string, res *adjust.Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	if res == nil {
		m.Failures.WithLabelValues(source).Inc()
		return
	}
	m.Duration.WithLabelValues(source).Observe(elapsed.Seconds())
	m.InputRows.WithLabelValues(source).Add(float64(res.InputRows))
	m.OutputRows.WithLabelValues(source).Add(float64(len(res.Table.Rows)))
	m.Warnings.WithLabelValues(source).Add(float64(len(res.Warnings)))
}
