// Package types provides configuration types for the excursion analyzer.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultRiskPerTrade   = 0.01
	DefaultMaxDrawdown    = 0.5
	DefaultNumSimulations = 10000
	DefaultNumTrades      = 100
	DefaultDecayConstant  = 5.0
	DefaultWinRateGate    = 0.5
)

// Upper bounds on the Monte Carlo workload of a single estimate
const (
	MaxNumSimulations = 1_000_000
	MaxNumTrades      = 100_000
)

// DefaultPercentiles are the candidate percentiles scanned by the optimizer
var DefaultPercentiles = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90}

// DefaultRatios is the 1:1, 1:2, 1:3 fixed-ratio family
var DefaultRatios = []float64{1, 2, 3}

// AnalysisConfig represents the parameters of one analysis run
type AnalysisConfig struct {
	// User-supplied pair for the EV tester. Zero value skips the evaluation.
	Pair  *ThresholdPair  `json:"pair,omitempty"`
	Stake decimal.Decimal `json:"stake"`

	Optimizer OptimizerConfig `json:"optimizer"`
	Ruin      RuinConfig      `json:"ruin"`
}

// OptimizerConfig represents threshold search configuration
type OptimizerConfig struct {
	Percentiles []float64 `json:"percentiles"`
	Ratios      []float64 `json:"ratios"`      // fixed-ratio family, empty disables the ratio scan
	WinRateGate float64   `json:"winRateGate"` // minimum win rate for fixed-ratio candidates
	Workers     int       `json:"workers"`
}

// RuinConfig represents risk-of-ruin estimator configuration
type RuinConfig struct {
	RiskPerTrade   float64 `json:"riskPerTrade"`
	MaxDrawdown    float64 `json:"maxDrawdown"`
	NumSimulations int     `json:"numSimulations"`
	NumTrades      int     `json:"numTrades"`
	DecayConstant  float64 `json:"decayConstant"`
	Seed           int64   `json:"seed"` // 0 for time-based
	Workers        int     `json:"workers"`
}

// DefaultOptimizerConfig returns the 10th..90th percentile grid and the 1:1..1:3 ratio family
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		Percentiles: append([]float64(nil), DefaultPercentiles...),
		Ratios:      append([]float64(nil), DefaultRatios...),
		WinRateGate: DefaultWinRateGate,
		Workers:     4,
	}
}

// DefaultRuinConfig returns the dashboard's ruin defaults
func DefaultRuinConfig() RuinConfig {
	return RuinConfig{
		RiskPerTrade:   DefaultRiskPerTrade,
		MaxDrawdown:    DefaultMaxDrawdown,
		NumSimulations: DefaultNumSimulations,
		NumTrades:      DefaultNumTrades,
		DecayConstant:  DefaultDecayConstant,
		Workers:        4,
	}
}

// DefaultAnalysisConfig returns a $100 stake analysis with default search and ruin settings
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		Stake:     decimal.NewFromInt(100),
		Optimizer: DefaultOptimizerConfig(),
		Ruin:      DefaultRuinConfig(),
	}
}

// Validate rejects parameters outside their documented ranges.
// It returns the first problem found.
func (c *AnalysisConfig) Validate() error {
	if c.Pair != nil {
		if c.Pair.StopLoss < 0 {
			return NewInvalidParameter("stop_loss", c.Pair.StopLoss, "must be >= 0")
		}
		if c.Pair.TakeProfit < 0 {
			return NewInvalidParameter("take_profit", c.Pair.TakeProfit, "must be >= 0")
		}
	}
	if !c.Stake.IsPositive() {
		return NewInvalidParameter("stake", c.Stake.String(), "must be > 0")
	}
	if err := c.Optimizer.Validate(); err != nil {
		return err
	}
	return c.Ruin.Validate()
}

// Validate checks the optimizer settings
func (c *OptimizerConfig) Validate() error {
	if len(c.Percentiles) == 0 {
		return NewInvalidParameter("percentiles", c.Percentiles, "at least one percentile required")
	}
	for _, p := range c.Percentiles {
		if p < 0 || p > 100 {
			return NewInvalidParameter("percentiles", p, "must be within [0,100]")
		}
	}
	for _, r := range c.Ratios {
		if r <= 0 {
			return NewInvalidParameter("ratios", r, "must be > 0")
		}
	}
	if c.WinRateGate < 0 || c.WinRateGate > 1 {
		return NewInvalidParameter("win_rate_gate", c.WinRateGate, "must be within [0,1]")
	}
	return nil
}

// Validate checks the ruin estimator settings
func (c *RuinConfig) Validate() error {
	if c.RiskPerTrade <= 0 || c.RiskPerTrade > 1 {
		return NewInvalidParameter("risk_per_trade", c.RiskPerTrade, "must be within (0,1]")
	}
	if c.MaxDrawdown <= 0 || c.MaxDrawdown > 1 {
		return NewInvalidParameter("max_drawdown", c.MaxDrawdown, "must be within (0,1]")
	}
	if c.NumSimulations <= 0 || c.NumSimulations > MaxNumSimulations {
		return NewInvalidParameter("num_simulations", c.NumSimulations, fmt.Sprintf("must be within [1,%d]", MaxNumSimulations))
	}
	if c.NumTrades <= 0 || c.NumTrades > MaxNumTrades {
		return NewInvalidParameter("num_trades", c.NumTrades, fmt.Sprintf("must be within [1,%d]", MaxNumTrades))
	}
	if c.DecayConstant <= 0 {
		return NewInvalidParameter("decay_constant", c.DecayConstant, "must be > 0")
	}
	return nil
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	WebSocketPath     string        `json:"websocketPath"`
	ReadTimeout       time.Duration `json:"readTimeout"`
	WriteTimeout      time.Duration `json:"writeTimeout"`
	RequestsPerSecond float64       `json:"requestsPerSecond"`
	Burst             int           `json:"burst"`
	MaxUploadBytes    int64         `json:"maxUploadBytes"`
	EnableMetrics     bool          `json:"enableMetrics"`
}

// DefaultServerConfig returns a localhost server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:              "localhost",
		Port:              8080,
		WebSocketPath:     "/ws",
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		RequestsPerSecond: 5,
		Burst:             10,
		MaxUploadBytes:    32 << 20,
		EnableMetrics:     true,
	}
}
