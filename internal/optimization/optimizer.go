// Package optimization searches stop-loss/take-profit thresholds for the
// pair with the highest expected value.
// Candidates come from percentiles of the MAE and MFE columns: an unconstrained
// grid, or a fixed take-profit multiple of each stop-loss candidate.
package optimization

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/excursion-lab/internal/analysis"
	"github.com/atlas-desktop/excursion-lab/internal/data"
	"github.com/atlas-desktop/excursion-lab/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Optimizer performs threshold searches over a dataset
type Optimizer struct {
	logger *zap.Logger
	config *types.OptimizerConfig
}

// Candidate is one evaluated threshold pair.
// Summary is nil when the pair classified no trade.
type Candidate struct {
	Index   int                      `json:"index"`
	Pair    types.ThresholdPair      `json:"pair"`
	Summary *types.EvaluationSummary `json:"summary,omitempty"`
}

// NewOptimizer creates a new optimizer
func NewOptimizer(logger *zap.Logger, config *types.OptimizerConfig) *Optimizer {
	if config == nil {
		def := types.DefaultOptimizerConfig()
		config = &def
	}

	return &Optimizer{
		logger: logger,
		config: config,
	}
}

// Optimize runs the unconstrained grid search. The pair with strictly greatest
// expected value wins; ties go to the first pair in scan order (stop-loss
// percentile outer, take-profit percentile inner).
func (o *Optimizer) Optimize(ctx context.Context, ds *data.Dataset, stake decimal.Decimal) (*types.OptimizationResult, error) {
	candidates, err := o.Grid(ctx, ds, stake)
	if err != nil {
		return nil, err
	}

	var best *Candidate
	evaluated := 0
	for i := range candidates {
		c := &candidates[i]
		if c.Summary == nil {
			continue
		}
		evaluated++
		if best == nil || c.Summary.ExpectedValue.GreaterThan(best.Summary.ExpectedValue) {
			best = c
		}
	}

	if best == nil {
		o.logger.Debug("grid search found no optimum", zap.Int("candidates", len(candidates)))
		return nil, types.ErrNoOptimum
	}

	o.logger.Info("grid search complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("evaluated", evaluated),
		zap.Float64("stop_loss", best.Pair.StopLoss),
		zap.Float64("take_profit", best.Pair.TakeProfit),
		zap.String("expected_value", best.Summary.ExpectedValue.StringFixed(2)),
	)

	return newResult(types.SearchModeGrid, 0, best, evaluated), nil
}

// Grid evaluates every grid candidate and returns them in scan order.
func (o *Optimizer) Grid(ctx context.Context, ds *data.Dataset, stake decimal.Decimal) ([]Candidate, error) {
	if err := o.validate(stake); err != nil {
		return nil, err
	}

	stops, takes, err := o.thresholds(ds)
	if err != nil {
		return nil, err
	}

	pairs := make([]types.ThresholdPair, 0, len(stops)*len(takes))
	for _, sl := range stops {
		for _, tp := range takes {
			pairs = append(pairs, types.ThresholdPair{StopLoss: sl, TakeProfit: tp})
		}
	}

	return o.evaluateAll(ctx, ds, pairs, stake)
}

// OptimizeFixedRatio scans take-profit = stop-loss * ratio for each stop-loss
// candidate. A candidate is accepted only when its win rate exceeds the gate
// and its expected value strictly beats the best accepted so far.
func (o *Optimizer) OptimizeFixedRatio(ctx context.Context, ds *data.Dataset, stake decimal.Decimal, ratio float64) (*types.OptimizationResult, error) {
	if ratio <= 0 {
		return nil, types.NewInvalidParameter("ratio", ratio, "must be > 0")
	}
	if err := o.validate(stake); err != nil {
		return nil, err
	}

	stops, _, err := o.thresholds(ds)
	if err != nil {
		return nil, err
	}

	pairs := make([]types.ThresholdPair, len(stops))
	for i, sl := range stops {
		pairs[i] = types.ThresholdPair{StopLoss: sl, TakeProfit: sl * ratio}
	}

	candidates, err := o.evaluateAll(ctx, ds, pairs, stake)
	if err != nil {
		return nil, err
	}

	var best *Candidate
	evaluated := 0
	for i := range candidates {
		c := &candidates[i]
		if c.Summary == nil {
			continue
		}
		evaluated++
		if c.Summary.WinRate <= o.config.WinRateGate {
			continue
		}
		if best == nil || c.Summary.ExpectedValue.GreaterThan(best.Summary.ExpectedValue) {
			best = c
		}
	}

	if best == nil {
		o.logger.Debug("fixed-ratio search found no optimum",
			zap.Float64("ratio", ratio),
			zap.Int("evaluated", evaluated),
		)
		return nil, types.ErrNoOptimum
	}

	return newResult(types.SearchModeFixedRatio, ratio, best, evaluated), nil
}

// OptimizeRatios runs the fixed-ratio search for every configured ratio.
// A ratio without an accepted candidate yields an outcome with a nil Result.
func (o *Optimizer) OptimizeRatios(ctx context.Context, ds *data.Dataset, stake decimal.Decimal) ([]types.RatioOutcome, error) {
	outcomes := make([]types.RatioOutcome, 0, len(o.config.Ratios))
	for _, ratio := range o.config.Ratios {
		result, err := o.OptimizeFixedRatio(ctx, ds, stake, ratio)
		if err != nil && !errors.Is(err, types.ErrNoOptimum) {
			return nil, fmt.Errorf("ratio 1:%g: %w", ratio, err)
		}
		outcomes = append(outcomes, types.RatioOutcome{Ratio: ratio, Result: result})
	}
	return outcomes, nil
}

func (o *Optimizer) validate(stake decimal.Decimal) error {
	if !stake.IsPositive() {
		return types.NewInvalidParameter("stake", stake.String(), "must be > 0")
	}
	return o.config.Validate()
}

// thresholds returns the stop-loss and take-profit candidates. A dataset
// without a classifiable trade has no optimum.
func (o *Optimizer) thresholds(ds *data.Dataset) (stops, takes []float64, err error) {
	if ds.Classifiable() == 0 {
		return nil, nil, types.ErrNoOptimum
	}
	if stops, err = Percentiles(ds.MAEValues(), o.config.Percentiles); err != nil {
		return nil, nil, types.ErrNoOptimum
	}
	if takes, err = Percentiles(ds.MFEValues(), o.config.Percentiles); err != nil {
		return nil, nil, types.ErrNoOptimum
	}
	return stops, takes, nil
}

// evaluateAll scores pairs in parallel. Results land at their candidate index
// so selection never depends on completion order.
func (o *Optimizer) evaluateAll(ctx context.Context, ds *data.Dataset, pairs []types.ThresholdPair, stake decimal.Decimal) ([]Candidate, error) {
	start := time.Now()
	candidates := make([]Candidate, len(pairs))

	workers := o.config.Workers
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)

	for i, pair := range pairs {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		default:
		}

		candidates[i] = Candidate{Index: i, Pair: pair}

		wg.Add(1)
		go func(idx int, pair types.ThresholdPair) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			counts := analysis.CountOutcomes(ds, pair)
			summary, err := analysis.Evaluate(counts.Wins, counts.Losses, stake)
			if err != nil {
				// no classified trade for this pair; skip it
				return
			}
			candidates[idx].Summary = summary
		}(i, pair)
	}

	wg.Wait()

	o.logger.Debug("candidates evaluated",
		zap.Int("candidates", len(pairs)),
		zap.Int("workers", workers),
		zap.Duration("elapsed", time.Since(start)),
	)

	return candidates, nil
}

func newResult(mode types.SearchMode, ratio float64, best *Candidate, evaluated int) *types.OptimizationResult {
	return &types.OptimizationResult{
		Mode:                mode,
		Ratio:               ratio,
		BestPair:            best.Pair,
		BestExpectedValue:   best.Summary.ExpectedValue,
		BestWinRate:         best.Summary.WinRate,
		BestSummary:         best.Summary,
		CandidatesEvaluated: evaluated,
	}
}
