package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/atlas-desktop/excursion-lab/internal/data"
	"github.com/atlas-desktop/excursion-lab/internal/events"
	"github.com/atlas-desktop/excursion-lab/internal/metrics"
	"github.com/atlas-desktop/excursion-lab/internal/orchestrator"
	"github.com/atlas-desktop/excursion-lab/internal/sizing"
	"github.com/atlas-desktop/excursion-lab/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.GetType()
	}
	return out
}

// ladder has MFE 0..10 in row order and MAE 10..0
func ladder(t *testing.T) *data.Dataset {
	t.Helper()
	trades := make([]types.Trade, 0, 11)
	for i := 0; i <= 10; i++ {
		trades = append(trades, types.Trade{MAE: types.Float(float64(10 - i)), MFE: types.Float(float64(i))})
	}
	ds, err := data.NewDataset(trades)
	require.NoError(t, err)
	return ds
}

func testConfig() types.AnalysisConfig {
	cfg := types.DefaultAnalysisConfig()
	cfg.Ruin.NumSimulations = 500
	cfg.Ruin.Seed = 11
	return cfg
}

func TestRunFullAnalysis(t *testing.T) {
	rec := &recorder{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	analyzer := orchestrator.NewAnalyzer(zap.NewNop(), m, rec)

	cfg := testConfig()
	cfg.Pair = &types.ThresholdPair{StopLoss: 2, TakeProfit: 5}

	report, err := analyzer.Run(context.Background(), orchestrator.Request{
		DatasetID: "ds-1",
		Dataset:   ladder(t),
		Config:    cfg,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, "ds-1", report.DatasetID)
	assert.Equal(t, 11, report.TradeCount)

	require.NotNil(t, report.Evaluation)
	assert.Equal(t, 6, report.Evaluation.WinCount)

	require.NotNil(t, report.Optimization)
	assert.False(t, report.NoOptimum)
	assert.Equal(t, types.ThresholdPair{StopLoss: 1, TakeProfit: 1}, report.Optimization.BestPair)
	assert.Len(t, report.Ratios, 3)

	require.NotNil(t, report.Streaks)
	assert.Equal(t, 10, report.Streaks.MaxWinStreak)
	assert.Equal(t, 1, report.Streaks.MaxLossStreak)
	assert.Equal(t, 11, report.Streaks.TotalWins+report.Streaks.TotalLosses)

	require.NotNil(t, report.Risk)
	require.Len(t, report.Risk.Estimates, 2)
	kelly, ok := report.Risk.Estimate(types.RiskMethodKelly)
	require.True(t, ok)
	assert.InDelta(t, sizing.KellyRuin(10.0/11.0, 1, types.DefaultDecayConstant), kelly.Probability, 1e-12)
	mc, ok := report.Risk.Estimate(types.RiskMethodMonteCarlo)
	require.True(t, ok)
	assert.GreaterOrEqual(t, mc.Probability, 0.0)
	assert.LessOrEqual(t, mc.Probability, 1.0)
	assert.Equal(t, 500, report.Risk.MonteCarlo.Simulations)

	assert.Equal(t, []events.EventType{events.EventTypeAnalysisStarted, events.EventTypeAnalysisCompleted}, rec.types())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysesTotal.WithLabelValues(orchestrator.OpAnalyze, "ok")))
	assert.Equal(t, 500.0, testutil.ToFloat64(m.SimulatedPaths))
	assert.Equal(t, 81.0, testutil.ToFloat64(m.CandidatesEvaluated.WithLabelValues("grid")))
}

func TestRunEmptyDatasetReportsNoOptimum(t *testing.T) {
	analyzer := orchestrator.NewAnalyzer(zap.NewNop(), nil, nil)
	empty, err := data.NewDataset(nil)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Pair = &types.ThresholdPair{StopLoss: 1, TakeProfit: 1}

	report, err := analyzer.Run(context.Background(), orchestrator.Request{Dataset: empty, Config: cfg})
	require.NoError(t, err)

	assert.True(t, report.NoOptimum)
	assert.Nil(t, report.Optimization)
	assert.Nil(t, report.Evaluation)
	assert.NotEmpty(t, report.EvaluationErr)
	assert.Nil(t, report.Risk)
	assert.Nil(t, report.Streaks)
	for _, r := range report.Ratios {
		assert.Nil(t, r.Result)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	rec := &recorder{}
	analyzer := orchestrator.NewAnalyzer(zap.NewNop(), nil, rec)

	cfg := testConfig()
	cfg.Ruin.RiskPerTrade = 1.5

	_, err := analyzer.Run(context.Background(), orchestrator.Request{Dataset: ladder(t), Config: cfg})
	require.Error(t, err)
	assert.True(t, types.IsInvalidParameter(err))
	assert.Empty(t, rec.types(), "nothing runs before validation passes")
}

func TestRunHonorsCancellation(t *testing.T) {
	rec := &recorder{}
	analyzer := orchestrator.NewAnalyzer(zap.NewNop(), nil, rec)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := analyzer.Run(ctx, orchestrator.Request{Dataset: ladder(t), Config: testConfig()})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, []events.EventType{events.EventTypeAnalysisStarted, events.EventTypeAnalysisFailed}, rec.types())
}

func TestEvaluate(t *testing.T) {
	analyzer := orchestrator.NewAnalyzer(zap.NewNop(), nil, nil)

	summary, err := analyzer.Evaluate(context.Background(), "ds", ladder(t), types.ThresholdPair{StopLoss: 1, TakeProfit: 5}, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, 6, summary.WinCount)
	assert.Equal(t, 5, summary.LossCount)

	empty, err := data.NewDataset(nil)
	require.NoError(t, err)
	_, err = analyzer.Evaluate(context.Background(), "ds", empty, types.ThresholdPair{StopLoss: 1, TakeProfit: 5}, decimal.NewFromInt(100))
	assert.True(t, errors.Is(err, types.ErrNoData))
}

func TestOptimize(t *testing.T) {
	analyzer := orchestrator.NewAnalyzer(zap.NewNop(), nil, nil)

	result, err := analyzer.Optimize(context.Background(), "ds", ladder(t), decimal.NewFromInt(100), types.DefaultOptimizerConfig())
	require.NoError(t, err)
	require.NotNil(t, result.Best)
	assert.Len(t, result.Ratios, 3)

	_, err = analyzer.Optimize(context.Background(), "ds", ladder(t), decimal.NewFromInt(-5), types.DefaultOptimizerConfig())
	assert.True(t, types.IsInvalidParameter(err))
}

func TestRisk(t *testing.T) {
	analyzer := orchestrator.NewAnalyzer(zap.NewNop(), nil, nil)
	cfg := types.DefaultRuinConfig()
	cfg.NumSimulations = 300
	cfg.Seed = 5

	report, err := analyzer.Risk(context.Background(), 0.4, 0, cfg)
	require.NoError(t, err)

	kelly, ok := report.Estimate(types.RiskMethodKelly)
	require.True(t, ok)
	assert.Equal(t, 1.0, kelly.Probability, "degenerate ratio means certain ruin")
	assert.Equal(t, 0.0, report.KellyFraction)
	assert.Equal(t, types.DefaultRiskPerTrade, report.RiskPerTrade)

	_, err = analyzer.Risk(context.Background(), 1.4, 1, cfg)
	assert.True(t, types.IsInvalidParameter(err))
}
