// Package observability exposes the health/metrics HTTP surface and the
// prometheus collectors shared by the pipeline stages.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's prometheus collectors.
type Metrics struct {
	CronRequests  *prometheus.CounterVec
	StageRuns     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
}

// NewMetrics registers the pipeline collectors on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		CronRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "river_cron_requests_total",
			Help: "Cron endpoint requests by endpoint and HTTP status.",
		}, []string{"endpoint", "status"}),
		StageRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "river_stage_runs_total",
			Help: "Pipeline stage runs by endpoint, stage and outcome.",
		}, []string{"endpoint", "stage", "outcome"}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "river_stage_duration_seconds",
			Help:    "Pipeline stage wall time.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"endpoint", "stage"}),
	}
}

// ObserveStage records one stage run. Nil receivers are allowed so callers
// can run without metrics in tests.
func (m *Metrics) ObserveStage(endpoint, stage string, ok bool, seconds float64) {
	if m == nil {
		return
	}

	outcome := "ok"
	if !ok {
		outcome = "error"
	}

	m.StageRuns.WithLabelValues(endpoint, stage, outcome).Inc()
	m.StageDuration.WithLabelValues(endpoint, stage).Observe(seconds)
}

// ObserveCronRequest records one cron endpoint request.
func (m *Metrics) ObserveCronRequest(endpoint, status string) {
	if m == nil {
		return
	}

	m.CronRequests.WithLabelValues(endpoint, status).Inc()
}
