// Package types provides shared type definitions for the excursion analyzer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Label is the outcome assigned to a trade against a threshold pair
type Label string

const (
	LabelWin  Label = "win"
	LabelLoss Label = "loss"
)

// SearchMode identifies how a threshold pair was found
type SearchMode string

const (
	SearchModeGrid       SearchMode = "grid"
	SearchModeFixedRatio SearchMode = "fixed_ratio"
)

// RiskMethod identifies a risk-of-ruin estimator
type RiskMethod string

const (
	RiskMethodKelly      RiskMethod = "kelly"
	RiskMethodMonteCarlo RiskMethod = "monte_carlo"
)

// Trade is one historical trade with its excursions.
// A nil MAE or MFE marks a value that was missing or not numeric at ingestion.
type Trade struct {
	MAE       *float64  `json:"mae"`
	MFE       *float64  `json:"mfe"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	DayOfWeek string    `json:"dayOfWeek,omitempty"`
	Duration  *float64  `json:"duration,omitempty"`
}

// Classifiable reports whether both excursions are present
func (t Trade) Classifiable() bool {
	return t.MAE != nil && t.MFE != nil
}

// Float returns a pointer to v, for building trades in code.
func Float(v float64) *float64 {
	return &v
}

// ThresholdPair is a candidate stop-loss/take-profit configuration
type ThresholdPair struct {
	StopLoss   float64 `json:"stopLoss"`
	TakeProfit float64 `json:"takeProfit"`
}

// RewardToRisk returns take-profit divided by stop-loss, or 0 when the stop-loss is 0.
func (p ThresholdPair) RewardToRisk() float64 {
	if p.StopLoss == 0 {
		return 0
	}
	return p.TakeProfit / p.StopLoss
}

// ClassificationCounts holds the outcome totals of one classification pass
type ClassificationCounts struct {
	Wins     int `json:"wins"`
	Losses   int `json:"losses"`
	Excluded int `json:"excluded"` // trades with a missing excursion
}

// Total returns the number of classified trades
func (c ClassificationCounts) Total() int {
	return c.Wins + c.Losses
}

// EvaluationSummary is the expected-value evaluation of one threshold pair
type EvaluationSummary struct {
	WinCount      int             `json:"winCount"`
	LossCount     int             `json:"lossCount"`
	WinRate       float64         `json:"winRate"`
	LossRate      float64         `json:"lossRate"`
	Stake         decimal.Decimal `json:"stake"`
	ExpectedValue decimal.Decimal `json:"expectedValue"`
}

// OptimizationResult is the outcome of one optimizer run
type OptimizationResult struct {
	Mode                SearchMode         `json:"mode"`
	Ratio               float64            `json:"ratio,omitempty"` // take-profit multiple for fixed-ratio runs
	BestPair            ThresholdPair      `json:"bestPair"`
	BestExpectedValue   decimal.Decimal    `json:"bestExpectedValue"`
	BestWinRate         float64            `json:"bestWinRate"`
	BestSummary         *EvaluationSummary `json:"bestSummary"`
	CandidatesEvaluated int                `json:"candidatesEvaluated"`
}

// RatioOutcome is the fixed-ratio search result for one ratio of a family.
// Result is nil when no candidate cleared the acceptance rule.
type RatioOutcome struct {
	Ratio  float64             `json:"ratio"`
	Result *OptimizationResult `json:"result,omitempty"`
}

// StreakStats summarizes an ordered label sequence
type StreakStats struct {
	MaxWinStreak      int     `json:"maxWinStreak"`
	MaxLossStreak     int     `json:"maxLossStreak"`
	TotalWins         int     `json:"totalWins"`
	TotalLosses       int     `json:"totalLosses"`
	CurrentStreak     int     `json:"currentStreak"` // positive = wins, negative = losses
	AverageWinStreak  float64 `json:"averageWinStreak"`
	AverageLossStreak float64 `json:"averageLossStreak"`
}

// RiskEstimate is one risk-of-ruin probability
type RiskEstimate struct {
	Method      RiskMethod `json:"method"`
	Probability float64    `json:"probability"`
}

// MonteCarloRuinResult carries the simulated ruin probability and path diagnostics
type MonteCarloRuinResult struct {
	Simulations     int           `json:"simulations"`
	TradesPerPath   int           `json:"tradesPerPath"`
	Ruined          int           `json:"ruined"`
	Probability     float64       `json:"probability"`
	MeanFinalEquity float64       `json:"meanFinalEquity"`
	MedianRuinStep  int           `json:"medianRuinStep"` // 0 when no path was ruined
	FinalEquity     *Distribution `json:"finalEquity,omitempty"`
	MaxDrawdown     *Distribution `json:"maxDrawdown,omitempty"`
	Seed            int64         `json:"seed"`
}

// Distribution summarizes a simulated quantity across paths
type Distribution struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"stdDev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P5     float64 `json:"p5"`
	P25    float64 `json:"p25"`
	P75    float64 `json:"p75"`
	P95    float64 `json:"p95"`
}

// RiskReport places both ruin estimates side by side
type RiskReport struct {
	WinRate       float64               `json:"winRate"`
	RewardToRisk  float64               `json:"rewardToRisk"`
	RiskPerTrade  float64               `json:"riskPerTrade"`
	KellyEdge     float64               `json:"kellyEdge"`
	KellyFraction float64               `json:"kellyFraction"`
	Estimates     []RiskEstimate        `json:"estimates"`
	MonteCarlo    *MonteCarloRuinResult `json:"monteCarlo,omitempty"`
}

// Estimate returns the estimate produced by method, if present
func (r *RiskReport) Estimate(method RiskMethod) (RiskEstimate, bool) {
	for _, e := range r.Estimates {
		if e.Method == method {
			return e, true
		}
	}
	return RiskEstimate{}, false
}

// AnalysisReport is the full result of one analysis run
type AnalysisReport struct {
	ID            string              `json:"id"`
	DatasetID     string              `json:"datasetId,omitempty"`
	TradeCount    int                 `json:"tradeCount"`
	Evaluation    *EvaluationSummary  `json:"evaluation,omitempty"`
	EvaluationErr string              `json:"evaluationError,omitempty"`
	Optimization  *OptimizationResult `json:"optimization,omitempty"`
	NoOptimum     bool                `json:"noOptimum"`
	Ratios        []RatioOutcome      `json:"ratios,omitempty"`
	Streaks       *StreakStats        `json:"streaks,omitempty"`
	Risk          *RiskReport         `json:"risk,omitempty"`
	StartedAt     time.Time           `json:"startedAt"`
	Duration      time.Duration       `json:"duration"`
}
