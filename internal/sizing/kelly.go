// Package sizing provides the Kelly criterion and the closed-form
// risk-of-ruin approximation derived from it.
package sizing

import (
	"math"

	"github.com/atlas-desktop/excursion-lab/pkg/types"
	"go.uber.org/zap"
)

// KellyEdge returns p - (1-p)/rr, the full-Kelly stake fraction before
// clamping. It is 0 when rr <= 0.
// f* = (p*b - q) / b = p - q/b
// where p = win probability, q = 1-p, b = reward-to-risk ratio
func KellyEdge(p, rr float64) float64 {
	if rr <= 0 {
		return 0
	}
	return p - (1-p)/rr
}

// KellyFraction returns the full-Kelly stake fraction clamped to [0, 1].
func KellyFraction(p, rr float64) float64 {
	if rr <= 0 {
		return 0
	}
	kelly := KellyEdge(p, rr)

	// Kelly can be negative (don't trade) or above 1 (never stake more than everything)
	if kelly < 0 {
		return 0
	}
	if kelly > 1 {
		kelly = 1
	}
	return kelly
}

// KellyRuin approximates the probability of ruin as exp(-decay*edge).
// A non-positive reward-to-risk ratio or edge is certain ruin (1.0).
// The decay constant is a calibration choice, not a derived quantity.
func KellyRuin(p, rr, decay float64) float64 {
	if rr <= 0 {
		return 1.0
	}
	edge := KellyEdge(p, rr)
	if edge <= 0 {
		return 1.0
	}
	return math.Exp(-decay * edge)
}

// KellyEstimator produces the analytic ruin estimate
type KellyEstimator struct {
	logger *zap.Logger
	config *types.RuinConfig
}

// NewKellyEstimator creates a new analytic ruin estimator
func NewKellyEstimator(logger *zap.Logger, config *types.RuinConfig) *KellyEstimator {
	if config == nil {
		def := types.DefaultRuinConfig()
		config = &def
	}
	return &KellyEstimator{logger: logger, config: config}
}

// Estimate returns the analytic ruin probability for win rate p and
// reward-to-risk ratio rr.
func (ke *KellyEstimator) Estimate(p, rr float64) (types.RiskEstimate, error) {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return types.RiskEstimate{}, types.NewInvalidParameter("win_rate", p, "must be within [0,1]")
	}
	if ke.config.DecayConstant <= 0 {
		return types.RiskEstimate{}, types.NewInvalidParameter("decay_constant", ke.config.DecayConstant, "must be > 0")
	}

	prob := KellyRuin(p, rr, ke.config.DecayConstant)

	ke.logger.Debug("Kelly ruin estimate",
		zap.Float64("win_rate", p),
		zap.Float64("reward_to_risk", rr),
		zap.Float64("edge", KellyEdge(p, rr)),
		zap.Float64("probability", prob),
	)

	return types.RiskEstimate{Method: types.RiskMethodKelly, Probability: prob}, nil
}
