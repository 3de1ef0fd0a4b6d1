// Package orchestrator drives a full analysis: the user's pair through the EV
// tester, the grid and fixed-ratio searches, streaks of the best pair and both
// risk-of-ruin estimates.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/atlas-desktop/excursion-lab/internal/analysis"
	"github.com/atlas-desktop/excursion-lab/internal/data"
	"github.com/atlas-desktop/excursion-lab/internal/events"
	"github.com/atlas-desktop/excursion-lab/internal/metrics"
	"github.com/atlas-desktop/excursion-lab/internal/montecarlo"
	"github.com/atlas-desktop/excursion-lab/internal/optimization"
	"github.com/atlas-desktop/excursion-lab/internal/sizing"
	"github.com/atlas-desktop/excursion-lab/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Operation names used in events and metrics
const (
	OpAnalyze  = "analyze"
	OpEvaluate = "evaluate"
	OpOptimize = "optimize"
	OpRisk     = "risk"
)

// Publisher receives analysis lifecycle events
type Publisher interface {
	Publish(event events.Event)
}

// Analyzer coordinates the analysis components. Operations run one at a time.
type Analyzer struct {
	logger    *zap.Logger
	metrics   *metrics.Metrics
	publisher Publisher

	mu sync.Mutex
}

// Request is the input of a full analysis run
type Request struct {
	DatasetID string
	Dataset   *data.Dataset
	Config    types.AnalysisConfig
}

// OptimizeResult holds the grid optimum and the fixed-ratio outcomes.
// Best is nil when the grid found no optimum.
type OptimizeResult struct {
	Best   *types.OptimizationResult `json:"best,omitempty"`
	Ratios []types.RatioOutcome      `json:"ratios,omitempty"`
}

// NewAnalyzer creates a new analyzer. m and publisher may be nil.
func NewAnalyzer(logger *zap.Logger, m *metrics.Metrics, publisher Publisher) *Analyzer {
	return &Analyzer{
		logger:    logger,
		metrics:   m,
		publisher: publisher,
	}
}

// Run performs a full analysis. Parameter errors are returned before any work;
// an EV tester without classified trades and a search without an optimum are
// reported in the result rather than as errors.
func (a *Analyzer) Run(ctx context.Context, req Request) (*types.AnalysisReport, error) {
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	report := &types.AnalysisReport{
		ID:         uuid.New().String(),
		DatasetID:  req.DatasetID,
		TradeCount: req.Dataset.Len(),
		StartedAt:  start,
	}

	a.publish(events.NewAnalysisEvent(events.EventTypeAnalysisStarted, OpAnalyze, report.ID, req.DatasetID))

	err := a.run(ctx, req, report)
	report.Duration = time.Since(start)
	a.finish(OpAnalyze, report.ID, req.DatasetID, report, start, err)
	if err != nil {
		return nil, err
	}

	a.logger.Info("Analysis complete",
		zap.String("id", report.ID),
		zap.Int("trades", report.TradeCount),
		zap.Bool("no_optimum", report.NoOptimum),
		zap.Duration("duration", report.Duration),
	)

	return report, nil
}

func (a *Analyzer) run(ctx context.Context, req Request, report *types.AnalysisReport) error {
	cfg := req.Config
	ds := req.Dataset

	if cfg.Pair != nil {
		summary, _, err := analysis.EvaluatePair(ds, *cfg.Pair, cfg.Stake)
		switch {
		case errors.Is(err, types.ErrNoData):
			report.EvaluationErr = err.Error()
		case err != nil:
			return err
		default:
			report.Evaluation = summary
		}
	}

	opt, err := a.optimize(ctx, ds, cfg.Stake, cfg.Optimizer)
	if err != nil {
		return err
	}
	report.Optimization = opt.Best
	report.Ratios = opt.Ratios
	report.NoOptimum = opt.Best == nil

	if opt.Best == nil {
		return nil
	}

	labels, _ := analysis.ClassifyDataset(ds, opt.Best.BestPair)
	streaks := analysis.Streaks(labels)
	report.Streaks = &streaks

	risk, err := a.risk(ctx, opt.Best.BestWinRate, opt.Best.BestPair.RewardToRisk(), cfg.Ruin)
	if err != nil {
		return err
	}
	report.Risk = risk

	return nil
}

// Evaluate runs the EV tester for one threshold pair
func (a *Analyzer) Evaluate(ctx context.Context, datasetID string, ds *data.Dataset, pair types.ThresholdPair, stake decimal.Decimal) (*types.EvaluationSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	runID := uuid.New().String()
	a.publish(events.NewAnalysisEvent(events.EventTypeAnalysisStarted, OpEvaluate, runID, datasetID))

	summary, _, err := analysis.EvaluatePair(ds, pair, stake)
	a.finish(OpEvaluate, runID, datasetID, summary, start, err)
	return summary, err
}

// Optimize runs the grid search and the fixed-ratio family
func (a *Analyzer) Optimize(ctx context.Context, datasetID string, ds *data.Dataset, stake decimal.Decimal, cfg types.OptimizerConfig) (*OptimizeResult, error) {
	if !stake.IsPositive() {
		return nil, types.NewInvalidParameter("stake", stake.String(), "must be > 0")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	runID := uuid.New().String()
	a.publish(events.NewAnalysisEvent(events.EventTypeAnalysisStarted, OpOptimize, runID, datasetID))

	result, err := a.optimize(ctx, ds, stake, cfg)
	a.finish(OpOptimize, runID, datasetID, result, start, err)
	return result, err
}

// Risk produces both ruin estimates for a win rate and reward-to-risk ratio
func (a *Analyzer) Risk(ctx context.Context, winRate, rewardToRisk float64, cfg types.RuinConfig) (*types.RiskReport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	runID := uuid.New().String()
	a.publish(events.NewAnalysisEvent(events.EventTypeAnalysisStarted, OpRisk, runID, ""))

	report, err := a.risk(ctx, winRate, rewardToRisk, cfg)
	a.finish(OpRisk, runID, "", report, start, err)
	return report, err
}

// optimize treats a missing optimum as an empty result, not an error
func (a *Analyzer) optimize(ctx context.Context, ds *data.Dataset, stake decimal.Decimal, cfg types.OptimizerConfig) (*OptimizeResult, error) {
	optimizer := optimization.NewOptimizer(a.logger, &cfg)
	result := &OptimizeResult{}

	best, err := optimizer.Optimize(ctx, ds, stake)
	switch {
	case errors.Is(err, types.ErrNoOptimum):
		a.logger.Info("No optimal combination found", zap.Int("trades", ds.Len()))
	case err != nil:
		return nil, err
	default:
		result.Best = best
		a.metrics.AddCandidates(string(types.SearchModeGrid), best.CandidatesEvaluated)
	}

	if len(cfg.Ratios) > 0 {
		ratios, err := optimizer.OptimizeRatios(ctx, ds, stake)
		if err != nil {
			return nil, err
		}
		for _, r := range ratios {
			if r.Result != nil {
				a.metrics.AddCandidates(string(types.SearchModeFixedRatio), r.Result.CandidatesEvaluated)
			}
		}
		result.Ratios = ratios
	}

	return result, nil
}

func (a *Analyzer) risk(ctx context.Context, winRate, rewardToRisk float64, cfg types.RuinConfig) (*types.RiskReport, error) {
	kelly, err := sizing.NewKellyEstimator(a.logger, &cfg).Estimate(winRate, rewardToRisk)
	if err != nil {
		return nil, err
	}

	mc, err := montecarlo.NewRuinSimulator(a.logger, &cfg).Estimate(ctx, winRate, cfg.RiskPerTrade)
	if err != nil {
		return nil, err
	}
	a.metrics.AddPaths(mc.Simulations)
	a.metrics.SetRuinProbability(string(types.RiskMethodKelly), kelly.Probability)
	a.metrics.SetRuinProbability(string(types.RiskMethodMonteCarlo), mc.Probability)

	return &types.RiskReport{
		WinRate:       winRate,
		RewardToRisk:  rewardToRisk,
		RiskPerTrade:  cfg.RiskPerTrade,
		KellyEdge:     sizing.KellyEdge(winRate, rewardToRisk),
		KellyFraction: sizing.KellyFraction(winRate, rewardToRisk),
		Estimates: []types.RiskEstimate{
			kelly,
			{Method: types.RiskMethodMonteCarlo, Probability: mc.Probability},
		},
		MonteCarlo: mc,
	}, nil
}

func (a *Analyzer) finish(op, runID, datasetID string, result any, start time.Time, err error) {
	elapsed := time.Since(start)
	a.metrics.ObserveOperation(op, elapsed, err)

	if err != nil {
		a.logger.Warn("Analysis operation failed",
			zap.String("operation", op),
			zap.String("run_id", runID),
			zap.Error(err),
		)
		evt := events.NewAnalysisEvent(events.EventTypeAnalysisFailed, op, runID, datasetID)
		evt.Error = err.Error()
		evt.Elapsed = elapsed
		a.publish(evt)
		return
	}

	evt := events.NewAnalysisEvent(events.EventTypeAnalysisCompleted, op, runID, datasetID)
	evt.Result = result
	evt.Elapsed = elapsed
	a.publish(evt)
}

func (a *Analyzer) publish(evt events.Event) {
	if a.publisher != nil {
		a.publisher.Publish(evt)
	}
}
