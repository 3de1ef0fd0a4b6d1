package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atlas-desktop/excursion-lab/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// writeLadder writes eleven Monday trades with MAE falling 10..0 and MFE rising 0..10
func writeLadder(t *testing.T) string {
	t.Helper()

	var b strings.Builder
	b.WriteString("Datetime,DayOfWeek,Duration,MAE,MFE\n")
	for i := 0; i <= 10; i++ {
		fmt.Fprintf(&b, "2024-03-04 %02d:00:00,Monday,%d,%d,%d\n", 8+i, 10+i, 10-i, i)
	}

	path := filepath.Join(t.TempDir(), "ladder.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestEvaluateCommand(t *testing.T) {
	path := writeLadder(t)

	out, err := execute(t, "evaluate", "-f", path, "--sl", "2", "--tp", "5", "-o", "json")
	require.NoError(t, err)

	var summary types.EvaluationSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 6, summary.WinCount)
	assert.Equal(t, 5, summary.LossCount)
	assert.Equal(t, "100", summary.Stake.String())
	assert.InDelta(t, 100.0/11, summary.ExpectedValue.InexactFloat64(), 1e-9)
}

func TestEvaluateCommandStakeOverride(t *testing.T) {
	path := writeLadder(t)

	out, err := execute(t, "evaluate", "-f", path, "--sl", "2", "--tp", "5", "--stake", "50", "-o", "json")
	require.NoError(t, err)

	var summary types.EvaluationSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "50", summary.Stake.String())

	_, err = execute(t, "evaluate", "-f", path, "--sl", "2", "--tp", "5", "--stake", "fifty")
	assert.True(t, types.IsInvalidParameter(err))
}

func TestEvaluateCommandFilters(t *testing.T) {
	path := writeLadder(t)

	_, err := execute(t, "evaluate", "-f", path, "--sl", "2", "--tp", "5", "--days", "Fri")
	assert.ErrorIs(t, err, types.ErrNoData)

	out, err := execute(t, "evaluate", "-f", path, "--sl", "2", "--tp", "5", "--from-hour", "13", "-o", "json")
	require.NoError(t, err)
	var summary types.EvaluationSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 6, summary.WinCount)
	assert.Equal(t, 0, summary.LossCount)

	_, err = execute(t, "evaluate", "-f", path, "--sl", "2", "--tp", "5", "--from-hour", "30")
	assert.True(t, types.IsInvalidParameter(err))
}

func TestCommandArgumentErrors(t *testing.T) {
	path := writeLadder(t)

	tests := []struct {
		name string
		args []string
	}{
		{"missing file", []string{"evaluate", "--sl", "1", "--tp", "1"}},
		{"missing pair", []string{"evaluate", "-f", path}},
		{"unknown format", []string{"evaluate", "-f", path, "--sl", "1", "--tp", "1", "-o", "xml"}},
		{"no match", []string{"optimize", "-f", filepath.Join(t.TempDir(), "*.csv")}},
		{"missing win rate", []string{"ruin"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestOptimizeCommand(t *testing.T) {
	path := writeLadder(t)

	out, err := execute(t, "optimize", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Optimal thresholds")
	assert.Contains(t, out, "Fixed ratios")

	out, err = execute(t, "optimize", "-f", path, "-o", "json", "--ratios", "1")
	require.NoError(t, err)

	var result struct {
		Best   types.OptimizationResult `json:"best"`
		Ratios []types.RatioOutcome     `json:"ratios"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, types.ThresholdPair{StopLoss: 1, TakeProfit: 1}, result.Best.BestPair)
	assert.Equal(t, 81, result.Best.CandidatesEvaluated)
	require.Len(t, result.Ratios, 1)
	assert.Equal(t, 1.0, result.Ratios[0].Ratio)
}

func TestStreaksCommand(t *testing.T) {
	path := writeLadder(t)

	out, err := execute(t, "streaks", "-f", path, "--sl", "1", "--tp", "6", "-o", "yaml")
	require.NoError(t, err)

	var stats map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 5, stats["maxWinStreak"])
	assert.Equal(t, 6, stats["maxLossStreak"])
	assert.Equal(t, 5, stats["currentStreak"])
}

func TestRuinCommand(t *testing.T) {
	out, err := execute(t, "ruin", "--win-rate", "0.6", "--rr", "2",
		"--simulations", "300", "--trades", "50", "--seed", "7", "-o", "json")
	require.NoError(t, err)

	var rep types.RiskReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 0.6, rep.WinRate)
	assert.Equal(t, 2.0, rep.RewardToRisk)
	require.NotNil(t, rep.MonteCarlo)
	assert.Equal(t, 300, rep.MonteCarlo.Simulations)
	assert.Equal(t, int64(7), rep.MonteCarlo.Seed)

	again, err := execute(t, "ruin", "--win-rate", "0.6", "--rr", "2",
		"--simulations", "300", "--trades", "50", "--seed", "7", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, out, again)

	_, err = execute(t, "ruin", "--win-rate", "1.5")
	assert.True(t, types.IsInvalidParameter(err))
}

func TestAnalyzeCommand(t *testing.T) {
	path := writeLadder(t)

	out, err := execute(t, "analyze", "-f", path, "--sl", "2", "--tp", "5",
		"--simulations", "250", "--seed", "11", "-o", "json")
	require.NoError(t, err)

	var rep types.AnalysisReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.NotNil(t, rep.Evaluation)
	assert.Equal(t, 6, rep.Evaluation.WinCount)
	require.NotNil(t, rep.Optimization)
	assert.Equal(t, types.ThresholdPair{StopLoss: 1, TakeProfit: 1}, rep.Optimization.BestPair)
	require.NotNil(t, rep.Risk)
	require.NotNil(t, rep.Risk.MonteCarlo)
	assert.Equal(t, int64(11), rep.Risk.MonteCarlo.Seed)

	table, err := execute(t, "analyze", "-f", path, "--simulations", "250", "--seed", "11")
	require.NoError(t, err)
	assert.Contains(t, table, "Risk of ruin")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "excursion version "+version+"\n", out)
}
