// Package metrics exposes Prometheus collectors for analysis runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	AnalysesTotal       *prometheus.CounterVec
	CandidatesEvaluated *prometheus.CounterVec
	SimulatedPaths      prometheus.Counter
	AnalysisDuration    *prometheus.HistogramVec
	DatasetsLoaded      prometheus.Counter
	TradesLoaded        prometheus.Counter
	LastRuinProbability *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
// Pass prometheus.NewRegistry() in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AnalysesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "excursion_analyses_total",
				Help: "Total number of analysis operations (by operation and outcome).",
			},
			[]string{"operation", "outcome"},
		),
		CandidatesEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "excursion_candidates_evaluated_total",
				Help: "Threshold pairs evaluated by the optimizer (by search mode).",
			},
			[]string{"mode"},
		),
		SimulatedPaths: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "excursion_simulated_paths_total",
				Help: "Monte Carlo equity paths simulated.",
			},
		),
		AnalysisDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "excursion_analysis_duration_seconds",
				Help:    "Wall time of analysis operations.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"operation"},
		),
		DatasetsLoaded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "excursion_datasets_loaded_total",
				Help: "Trade datasets ingested.",
			},
		),
		TradesLoaded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "excursion_trades_loaded_total",
				Help: "Trade rows ingested across all datasets.",
			},
		),
		LastRuinProbability: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "excursion_last_ruin_probability",
				Help: "Most recent risk-of-ruin estimate (by method).",
			},
			[]string{"method"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.AnalysesTotal,
			m.CandidatesEvaluated,
			m.SimulatedPaths,
			m.AnalysisDuration,
			m.DatasetsLoaded,
			m.TradesLoaded,
			m.LastRuinProbability,
		)
	}
	return m
}

// ObserveOperation records one finished operation
func (m *Metrics) ObserveOperation(operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.AnalysesTotal.WithLabelValues(operation, outcome).Inc()
	m.AnalysisDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// AddCandidates records optimizer work
func (m *Metrics) AddCandidates(mode string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CandidatesEvaluated.WithLabelValues(mode).Add(float64(n))
}

// AddPaths records Monte Carlo work
func (m *Metrics) AddPaths(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SimulatedPaths.Add(float64(n))
}

// SetRuinProbability records the latest estimate of a method
func (m *Metrics) SetRuinProbability(method string, p float64) {
	if m == nil {
		return
	}
	m.LastRuinProbability.WithLabelValues(method).Set(p)
}

// DatasetLoaded records an ingested dataset
func (m *Metrics) DatasetLoaded(trades int) {
	if m == nil {
		return
	}
	m.DatasetsLoaded.Inc()
	m.TradesLoaded.Add(float64(trades))
}
