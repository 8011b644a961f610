package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRequest("openai", "ok", 0.2)
	m.ObserveRequest("openai", "ok", 0.3)
	m.ObserveRetry("openai", "timeout")
	m.ObserveVerdict("confirm")
	m.ObserveRun("done")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OracleRequests.WithLabelValues("openai", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OracleRetries.WithLabelValues("openai", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verdicts.WithLabelValues("confirm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineRuns.WithLabelValues("done")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("openai", "ok", 1)
		m.ObserveRetry("openai", "timeout")
		m.ObserveVerdict("reject")
		m.ObserveRefined("accepted", "engine-only")
		m.ObserveRun("failed")
	})
}
