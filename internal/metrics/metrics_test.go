package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/atlas-desktop/excursion-lab/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveOperation("analyze", 20*time.Millisecond, nil)
	m.ObserveOperation("analyze", 5*time.Millisecond, errors.New("boom"))
	m.AddCandidates("grid", 81)
	m.AddPaths(10000)
	m.SetRuinProbability("kelly", 0.37)
	m.DatasetLoaded(250)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysesTotal.WithLabelValues("analyze", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysesTotal.WithLabelValues("analyze", "error")))
	assert.Equal(t, 81.0, testutil.ToFloat64(m.CandidatesEvaluated.WithLabelValues("grid")))
	assert.Equal(t, 10000.0, testutil.ToFloat64(m.SimulatedPaths))
	assert.Equal(t, 0.37, testutil.ToFloat64(m.LastRuinProbability.WithLabelValues("kelly")))
	assert.Equal(t, 250.0, testutil.ToFloat64(m.TradesLoaded))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("analyze", time.Second, nil)
		m.AddCandidates("grid", 81)
		m.AddPaths(1)
		m.SetRuinProbability("kelly", 1)
		m.DatasetLoaded(1)
	})
}
