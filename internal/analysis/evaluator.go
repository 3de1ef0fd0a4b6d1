package analysis

import (
	"fmt"

	"github.com/atlas-desktop/excursion-lab/internal/data"
	"github.com/atlas-desktop/excursion-lab/pkg/types"
	"github.com/shopspring/decimal"
)

// Evaluate computes win/loss rates and the expected value of one trade at a
// fixed stake: EV = winRate*stake - lossRate*stake.
func Evaluate(winCount, lossCount int, stake decimal.Decimal) (*types.EvaluationSummary, error) {
	if winCount < 0 {
		return nil, types.NewInvalidParameter("win_count", winCount, "must be >= 0")
	}
	if lossCount < 0 {
		return nil, types.NewInvalidParameter("loss_count", lossCount, "must be >= 0")
	}
	if !stake.IsPositive() {
		return nil, types.NewInvalidParameter("stake", stake.String(), "must be > 0")
	}

	total := winCount + lossCount
	if total == 0 {
		return nil, types.ErrNoData
	}

	n := decimal.NewFromInt(int64(total))
	winShare := decimal.NewFromInt(int64(winCount)).Div(n)
	lossShare := decimal.NewFromInt(int64(lossCount)).Div(n)
	ev := winShare.Mul(stake).Sub(lossShare.Mul(stake))

	return &types.EvaluationSummary{
		WinCount:      winCount,
		LossCount:     lossCount,
		WinRate:       float64(winCount) / float64(total),
		LossRate:      float64(lossCount) / float64(total),
		Stake:         stake,
		ExpectedValue: ev,
	}, nil
}

// EvaluatePair classifies a dataset against pair and evaluates the outcome.
func EvaluatePair(ds *data.Dataset, pair types.ThresholdPair, stake decimal.Decimal) (*types.EvaluationSummary, types.ClassificationCounts, error) {
	if pair.StopLoss < 0 {
		return nil, types.ClassificationCounts{}, types.NewInvalidParameter("stop_loss", pair.StopLoss, "must be >= 0")
	}
	if pair.TakeProfit < 0 {
		return nil, types.ClassificationCounts{}, types.NewInvalidParameter("take_profit", pair.TakeProfit, "must be >= 0")
	}

	counts := CountOutcomes(ds, pair)
	summary, err := Evaluate(counts.Wins, counts.Losses, stake)
	if err != nil {
		return nil, counts, fmt.Errorf("evaluate sl=%g tp=%g: %w", pair.StopLoss, pair.TakeProfit, err)
	}
	return summary, counts, nil
}
