// Package report renders analysis results as terminal tables, JSON or YAML.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/atlas-desktop/excursion-lab/pkg/types"
	"github.com/atlas-desktop/excursion-lab/pkg/utils"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Format selects the output encoding
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates an --output value
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", types.NewInvalidParameter("output", s, "must be table, json or yaml")
	}
}

// Renderer writes results to out in one format
type Renderer struct {
	out      io.Writer
	format   Format
	currency string
}

// NewRenderer creates a renderer. Money is shown in USD.
func NewRenderer(out io.Writer, format Format) *Renderer {
	return &Renderer{out: out, format: format, currency: "USD"}
}

// Analysis renders a full analysis report
func (r *Renderer) Analysis(rep *types.AnalysisReport) error {
	if r.format != FormatTable {
		return r.encode(rep)
	}

	fmt.Fprintf(r.out, "Analysis %s: %d trades\n\n", rep.ID, rep.TradeCount)

	if rep.Evaluation != nil {
		if err := r.evaluationTable(rep.Evaluation); err != nil {
			return err
		}
	} else if rep.EvaluationErr != "" {
		fmt.Fprintf(r.out, "EV tester: %s\n\n", rep.EvaluationErr)
	}

	if err := r.optimizationTables(rep.Optimization, rep.Ratios); err != nil {
		return err
	}

	if rep.Streaks != nil {
		if err := r.streaksTable(*rep.Streaks); err != nil {
			return err
		}
	}

	if rep.Risk != nil {
		return r.riskTable(rep.Risk)
	}
	return nil
}

// Evaluation renders one EV tester result
func (r *Renderer) Evaluation(s *types.EvaluationSummary) error {
	if r.format != FormatTable {
		return r.encode(s)
	}
	return r.evaluationTable(s)
}

// Optimization renders the grid optimum and the fixed-ratio family.
// best may be nil when no optimum exists.
func (r *Renderer) Optimization(best *types.OptimizationResult, ratios []types.RatioOutcome) error {
	if r.format != FormatTable {
		return r.encode(struct {
			Best   *types.OptimizationResult `json:"best"`
			Ratios []types.RatioOutcome      `json:"ratios,omitempty"`
		}{best, ratios})
	}
	return r.optimizationTables(best, ratios)
}

// Streaks renders streak statistics
func (r *Renderer) Streaks(s types.StreakStats) error {
	if r.format != FormatTable {
		return r.encode(s)
	}
	return r.streaksTable(s)
}

// Risk renders the risk-of-ruin table
func (r *Renderer) Risk(rep *types.RiskReport) error {
	if r.format != FormatTable {
		return r.encode(rep)
	}
	return r.riskTable(rep)
}

func (r *Renderer) evaluationTable(s *types.EvaluationSummary) error {
	fmt.Fprintln(r.out, "EV tester")
	table := tablewriter.NewWriter(r.out)
	table.Header("Wins", "Losses", "Win rate", "Loss rate", "Stake", "Expected value")
	table.Append(
		fmt.Sprintf("%d", s.WinCount),
		fmt.Sprintf("%d", s.LossCount),
		utils.FormatPercent(s.WinRate),
		utils.FormatPercent(s.LossRate),
		utils.FormatMoney(s.Stake, r.currency),
		utils.FormatMoney(s.ExpectedValue, r.currency),
	)
	return r.render(table)
}

func (r *Renderer) optimizationTables(best *types.OptimizationResult, ratios []types.RatioOutcome) error {
	fmt.Fprintln(r.out, "Optimal thresholds")
	if best == nil {
		fmt.Fprintf(r.out, "%s\n\n", types.ErrNoOptimum)
	} else {
		table := tablewriter.NewWriter(r.out)
		table.Header("Stop loss", "Take profit", "Win rate", "Expected value", "Candidates")
		table.Append(
			fmt.Sprintf("%.4f", best.BestPair.StopLoss),
			fmt.Sprintf("%.4f", best.BestPair.TakeProfit),
			utils.FormatPercent(best.BestWinRate),
			utils.FormatMoney(best.BestExpectedValue, r.currency),
			fmt.Sprintf("%d", best.CandidatesEvaluated),
		)
		if err := r.render(table); err != nil {
			return err
		}
	}

	if len(ratios) == 0 {
		return nil
	}

	fmt.Fprintln(r.out, "Fixed ratios")
	table := tablewriter.NewWriter(r.out)
	table.Header("Ratio", "Stop loss", "Take profit", "Win rate", "Expected value")
	for _, ro := range ratios {
		label := fmt.Sprintf("1:%g", ro.Ratio)
		if ro.Result == nil {
			table.Append(label, "-", "-", "-", "no optimum")
			continue
		}
		table.Append(
			label,
			fmt.Sprintf("%.4f", ro.Result.BestPair.StopLoss),
			fmt.Sprintf("%.4f", ro.Result.BestPair.TakeProfit),
			utils.FormatPercent(ro.Result.BestWinRate),
			utils.FormatMoney(ro.Result.BestExpectedValue, r.currency),
		)
	}
	return r.render(table)
}

func (r *Renderer) streaksTable(s types.StreakStats) error {
	fmt.Fprintln(r.out, "Streaks")
	table := tablewriter.NewWriter(r.out)
	table.Header("Max win", "Max loss", "Wins", "Losses", "Current", "Avg win", "Avg loss")
	table.Append(
		fmt.Sprintf("%d", s.MaxWinStreak),
		fmt.Sprintf("%d", s.MaxLossStreak),
		fmt.Sprintf("%d", s.TotalWins),
		fmt.Sprintf("%d", s.TotalLosses),
		fmt.Sprintf("%+d", s.CurrentStreak),
		fmt.Sprintf("%.2f", s.AverageWinStreak),
		fmt.Sprintf("%.2f", s.AverageLossStreak),
	)
	return r.render(table)
}

func (r *Renderer) riskTable(rep *types.RiskReport) error {
	fmt.Fprintf(r.out, "Risk of ruin (win rate %s, reward:risk %.2f, risk per trade %s)\n",
		utils.FormatPercent(rep.WinRate), rep.RewardToRisk, utils.FormatPercent(rep.RiskPerTrade))
	table := tablewriter.NewWriter(r.out)
	table.Header("Method", "Risk of ruin")
	for _, e := range rep.Estimates {
		table.Append(methodName(e.Method), utils.FormatPercent(e.Probability))
	}
	if err := r.render(table); err != nil {
		return err
	}

	fmt.Fprintf(r.out, "Kelly edge %.4f, fraction %s\n", rep.KellyEdge, utils.FormatPercent(rep.KellyFraction))
	if mc := rep.MonteCarlo; mc != nil {
		fmt.Fprintf(r.out, "Monte Carlo: %d/%d paths ruined over %d trades, seed %d\n",
			mc.Ruined, mc.Simulations, mc.TradesPerPath, mc.Seed)
	}
	return nil
}

func (r *Renderer) render(table *tablewriter.Table) error {
	if err := table.Render(); err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	fmt.Fprintln(r.out)
	return nil
}

func methodName(m types.RiskMethod) string {
	switch m {
	case types.RiskMethodKelly:
		return "Kelly"
	case types.RiskMethodMonteCarlo:
		return "Monte Carlo"
	default:
		return string(m)
	}
}

func (r *Renderer) encode(v any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		node, err := yamlNode(v)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(node); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return types.NewInvalidParameter("output", r.format, "must be table, json or yaml")
	}
}

// yamlNode goes through JSON so YAML output keeps the json field names and order
func yamlNode(v any) (*yaml.Node, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	blockStyle(&doc)
	return &doc, nil
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
