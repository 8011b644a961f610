// Package metrics exposes Prometheus collectors for oracle consultation and
// pipeline runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "alignoracle"

// Metrics groups the collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	OracleRequests  *prometheus.CounterVec
	OracleDuration  *prometheus.HistogramVec
	OracleRetries   *prometheus.CounterVec
	Verdicts        *prometheus.CounterVec
	RefinedMappings *prometheus.CounterVec
	PipelineRuns    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg when reg is not
// nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OracleRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_requests_total",
			Help:      "Oracle submissions by provider and outcome.",
		}, []string{"provider", "outcome"}),
		OracleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_request_duration_seconds",
			Help:      "Latency of single oracle submissions.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"provider"}),
		OracleRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_retries_total",
			Help:      "Oracle retries by provider and error kind.",
		}, []string{"provider", "reason"}),
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Parsed oracle verdicts.",
		}, []string{"verdict"}),
		RefinedMappings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refined_mappings_total",
			Help:      "Refined mappings by decision and provenance.",
		}, []string{"decision", "provenance"}),
		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Finished pipeline runs by terminal state.",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(m.OracleRequests, m.OracleDuration, m.OracleRetries, m.Verdicts, m.RefinedMappings, m.PipelineRuns)
	}
	return m
}

func (m *Metrics) ObserveRequest(provider, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.OracleRequests.WithLabelValues(provider, outcome).Inc()
	m.OracleDuration.WithLabelValues(provider).Observe(seconds)
}

func (m *Metrics) ObserveRetry(provider, reason string) {
	if m == nil {
		return
	}
	m.OracleRetries.WithLabelValues(provider, reason).Inc()
}

func (m *Metrics) ObserveVerdict(verdict string) {
	if m == nil {
		return
	}
	m.Verdicts.WithLabelValues(verdict).Inc()
}

func (m *Metrics) ObserveRefined(decision, provenance string) {
	if m == nil {
		return
	}
	m.RefinedMappings.WithLabelValues(decision, provenance).Inc()
}

func (m *Metrics) ObserveRun(state string) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(state).Inc()
}
