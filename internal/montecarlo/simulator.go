// Package montecarlo estimates the probability of ruin by simulating equity paths.
// Each path risks a fixed fraction of equity per trade and stops the first time
// equity falls to the drawdown floor.
package montecarlo

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"github.com/atlas-desktop/excursion-lab/pkg/types"
	"github.com/atlas-desktop/excursion-lab/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// pathsPerChunk is the unit of parallel work. Chunk seeds depend only on the
// run seed, so results do not depend on the worker count.
const pathsPerChunk = 250

// RuinSimulator performs Monte Carlo ruin simulations
type RuinSimulator struct {
	logger *zap.Logger
	config *types.RuinConfig
}

// NewRuinSimulator creates a new ruin simulator
func NewRuinSimulator(logger *zap.Logger, config *types.RuinConfig) *RuinSimulator {
	if config == nil {
		def := types.DefaultRuinConfig()
		config = &def
	}

	return &RuinSimulator{
		logger: logger,
		config: config,
	}
}

// pathOutcome is the result of one simulated equity path
type pathOutcome struct {
	finalEquity float64
	maxDrawdown float64
	ruinStep    int // 0 if never ruined
}

// maxSampledPaths bounds how many paths feed the equity and drawdown
// distributions. Counts and means always cover every path.
const maxSampledPaths = 10000

// cancelCheckInterval is how many steps a path runs between context checks
const cancelCheckInterval = 4096

// chunkStats aggregates the paths of one chunk
type chunkStats struct {
	sumFinal  float64
	finals    []float64 // only for sampled paths
	drawdowns []float64
}

// Estimate simulates with the configured seed (0 for time-based).
func (s *RuinSimulator) Estimate(ctx context.Context, winRate, riskPerTrade float64) (*types.MonteCarloRuinResult, error) {
	return s.EstimateSeeded(ctx, winRate, riskPerTrade, s.config.Seed)
}

// EstimateSeeded simulates NumSimulations paths of NumTrades steps. Each step
// wins with probability winRate and multiplies equity by 1+riskPerTrade, else
// by 1-riskPerTrade. Equal seeds give equal results.
func (s *RuinSimulator) EstimateSeeded(ctx context.Context, winRate, riskPerTrade float64, seed int64) (*types.MonteCarloRuinResult, error) {
	if err := s.validate(winRate, riskPerTrade); err != nil {
		return nil, err
	}

	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	start := time.Now()
	numSims := s.config.NumSimulations
	steps := s.config.NumTrades
	floor := 1 - s.config.MaxDrawdown

	numChunks := (numSims + pathsPerChunk - 1) / pathsPerChunk
	master := rand.New(rand.NewSource(seed))
	chunkSeeds := make([]int64, numChunks)
	for i := range chunkSeeds {
		chunkSeeds[i] = master.Int63()
	}

	chunks := make([]chunkStats, numChunks)
	// ruinSteps[k] counts paths ruined on step k
	ruinSteps := make([]int64, steps+1)

	workers := s.config.Workers
	if workers <= 0 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for c := 0; c < numChunks; c++ {
		chunk := c
		g.Go(func() error {
			// Each chunk gets its own RNG
			rng := rand.New(rand.NewSource(chunkSeeds[chunk]))
			from := chunk * pathsPerChunk
			to := min(from+pathsPerChunk, numSims)
			stats := &chunks[chunk]

			for i := from; i < to; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				o, err := simulatePath(gctx, rng, winRate, riskPerTrade, floor, steps)
				if err != nil {
					return err
				}
				stats.sumFinal += o.finalEquity
				if o.ruinStep > 0 {
					atomic.AddInt64(&ruinSteps[o.ruinStep], 1)
				}
				if i < maxSampledPaths {
					stats.finals = append(stats.finals, o.finalEquity)
					stats.drawdowns = append(stats.drawdowns, o.maxDrawdown)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := summarize(chunks, ruinSteps, numSims, steps, seed)

	s.logger.Info("Monte Carlo ruin simulation complete",
		zap.Int("num_simulations", numSims),
		zap.Int("num_trades", steps),
		zap.Float64("win_rate", winRate),
		zap.Float64("risk_per_trade", riskPerTrade),
		zap.Float64("probability_of_ruin", result.Probability),
		zap.Int64("seed", seed),
		zap.Duration("elapsed", time.Since(start)),
	)

	return result, nil
}

func (s *RuinSimulator) validate(winRate, riskPerTrade float64) error {
	if math.IsNaN(winRate) || winRate < 0 || winRate > 1 {
		return types.NewInvalidParameter("win_rate", winRate, "must be within [0,1]")
	}
	if math.IsNaN(riskPerTrade) || riskPerTrade <= 0 || riskPerTrade > 1 {
		return types.NewInvalidParameter("risk_per_trade", riskPerTrade, "must be within (0,1]")
	}
	cfg := *s.config
	cfg.RiskPerTrade = riskPerTrade
	if cfg.DecayConstant <= 0 {
		cfg.DecayConstant = types.DefaultDecayConstant
	}
	return cfg.Validate()
}

// simulatePath runs one equity path starting at 1.0
func simulatePath(ctx context.Context, rng *rand.Rand, winRate, risk, floor float64, steps int) (pathOutcome, error) {
	equity := 1.0
	peak := 1.0
	maxDD := 0.0

	for step := 1; step <= steps; step++ {
		if step%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return pathOutcome{}, err
			}
		}

		if rng.Float64() < winRate {
			equity *= 1 + risk
		} else {
			equity *= 1 - risk
		}

		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak; dd > maxDD {
			maxDD = dd
		}

		if equity <= floor {
			return pathOutcome{finalEquity: equity, maxDrawdown: maxDD, ruinStep: step}, nil
		}
	}

	return pathOutcome{finalEquity: equity, maxDrawdown: maxDD}, nil
}

func summarize(chunks []chunkStats, ruinSteps []int64, numSims, steps int, seed int64) *types.MonteCarloRuinResult {
	sumFinal := 0.0
	finals := make([]float64, 0, min(numSims, maxSampledPaths))
	drawdowns := make([]float64, 0, min(numSims, maxSampledPaths))
	for _, c := range chunks {
		sumFinal += c.sumFinal
		finals = append(finals, c.finals...)
		drawdowns = append(drawdowns, c.drawdowns...)
	}

	var ruined int64
	for _, n := range ruinSteps {
		ruined += n
	}

	result := &types.MonteCarloRuinResult{
		Simulations:     numSims,
		TradesPerPath:   steps,
		Ruined:          int(ruined),
		Probability:     float64(ruined) / float64(numSims),
		MeanFinalEquity: sumFinal / float64(numSims),
		FinalEquity:     calculateDistribution(finals),
		MaxDrawdown:     calculateDistribution(drawdowns),
		Seed:            seed,
	}

	if ruined > 0 {
		result.MedianRuinStep = medianStep(ruinSteps, ruined)
	}

	return result
}

// medianStep interpolates the median of a step histogram holding total entries
func medianStep(hist []int64, total int64) int {
	index := 0.5 * float64(total-1)
	lower := int64(math.Floor(index))
	upper := int64(math.Ceil(index))
	weight := index - float64(lower)

	lo, hi := nthStep(hist, lower), nthStep(hist, upper)
	return int(math.Round(float64(lo)*(1-weight) + float64(hi)*weight))
}

// nthStep returns the step holding the n-th (0-based) entry of a histogram
func nthStep(hist []int64, n int64) int {
	var seen int64
	for step, count := range hist {
		seen += count
		if seen > n {
			return step
		}
	}
	return len(hist) - 1
}

// calculateDistribution computes summary statistics of values
func calculateDistribution(values []float64) *types.Distribution {
	if len(values) == 0 {
		return &types.Distribution{}
	}

	// Sort for percentiles
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := float64(len(values))

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / n

	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= n

	return &types.Distribution{
		Mean:   mean,
		Median: utils.Percentile(sorted, 50),
		StdDev: math.Sqrt(variance),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		P5:     utils.Percentile(sorted, 5),
		P25:    utils.Percentile(sorted, 25),
		P75:    utils.Percentile(sorted, 75),
		P95:    utils.Percentile(sorted, 95),
	}
}
