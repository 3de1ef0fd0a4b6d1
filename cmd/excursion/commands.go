package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/atlas-desktop/excursion-lab/internal/analysis"
	"github.com/atlas-desktop/excursion-lab/internal/api"
	"github.com/atlas-desktop/excursion-lab/internal/data"
	"github.com/atlas-desktop/excursion-lab/internal/events"
	"github.com/atlas-desktop/excursion-lab/internal/metrics"
	"github.com/atlas-desktop/excursion-lab/internal/orchestrator"
	"github.com/atlas-desktop/excursion-lab/internal/report"
	"github.com/atlas-desktop/excursion-lab/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// dataFlags select the input files and the filtered view analyzed
type dataFlags struct {
	files       []string
	days        []string
	from        string
	to          string
	fromHour    int
	toHour      int
	minDuration float64
	maxDuration float64
	stake       string
}

func (f *dataFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.files, "file", "f", nil, "Trade export CSV files or globs (e.g. 'exports/**/*.csv')")
	cmd.Flags().StringSliceVar(&f.days, "days", nil, "Days of week to keep (e.g. Mon,Tue); empty keeps all")
	cmd.Flags().StringVar(&f.from, "from", "", "Keep trades on or after this date")
	cmd.Flags().StringVar(&f.to, "to", "", "Keep trades on or before this date")
	cmd.Flags().IntVar(&f.fromHour, "from-hour", 0, "Keep trades opened at or after this hour")
	cmd.Flags().IntVar(&f.toHour, "to-hour", 24, "Keep trades opened before this hour")
	cmd.Flags().Float64Var(&f.minDuration, "min-duration", 0, "Minimum trade duration")
	cmd.Flags().Float64Var(&f.maxDuration, "max-duration", 0, "Maximum trade duration (0 for no limit)")
	cmd.Flags().StringVar(&f.stake, "stake", "", "Stake per trade (defaults to analysis.stake)")
	_ = cmd.MarkFlagRequired("file")
}

func (f *dataFlags) selection(cmd *cobra.Command) data.Selection {
	sel := data.Selection{Days: f.days, From: f.from, To: f.to}
	if cmd.Flags().Changed("from-hour") || cmd.Flags().Changed("to-hour") {
		sel.FromHour = &f.fromHour
		sel.ToHour = &f.toHour
	}
	if cmd.Flags().Changed("min-duration") {
		sel.MinDuration = &f.minDuration
	}
	if cmd.Flags().Changed("max-duration") {
		sel.MaxDuration = &f.maxDuration
	}
	return sel
}

// pairFlags hold a stop-loss/take-profit pair
type pairFlags struct {
	stopLoss   float64
	takeProfit float64
}

func (p *pairFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&p.stopLoss, "sl", 0, "Stop-loss threshold in MAE units")
	cmd.Flags().Float64Var(&p.takeProfit, "tp", 0, "Take-profit threshold in MFE units")
}

func (p *pairFlags) pair() types.ThresholdPair {
	return types.ThresholdPair{StopLoss: p.stopLoss, TakeProfit: p.takeProfit}
}

// ruinFlags override the ruin estimator settings
type ruinFlags struct {
	risk        float64
	simulations int
	trades      int
	seed        int64
}

func (r *ruinFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&r.risk, "risk", 0, "Fraction of equity risked per trade (defaults to analysis.risk_per_trade)")
	cmd.Flags().IntVar(&r.simulations, "simulations", 0, "Monte Carlo paths (defaults to analysis.num_simulations)")
	cmd.Flags().IntVar(&r.trades, "trades", 0, "Trades per simulated path (defaults to analysis.num_trades)")
	cmd.Flags().Int64Var(&r.seed, "seed", 0, "Random seed; 0 picks one from the clock")
}

func (r *ruinFlags) apply(cmd *cobra.Command, cfg *types.RuinConfig) {
	if cmd.Flags().Changed("risk") {
		cfg.RiskPerTrade = r.risk
	}
	if cmd.Flags().Changed("simulations") {
		cfg.NumSimulations = r.simulations
	}
	if cmd.Flags().Changed("trades") {
		cfg.NumTrades = r.trades
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = r.seed
	}
}

func (a *app) renderer() (*report.Renderer, error) {
	format, err := report.ParseFormat(a.output)
	if err != nil {
		return nil, err
	}
	return report.NewRenderer(a.out, format), nil
}

func (a *app) analysisConfig(f *dataFlags) (types.AnalysisConfig, error) {
	cfg, err := a.cfg.AnalysisConfig()
	if err != nil {
		return cfg, err
	}
	if f != nil && f.stake != "" {
		stake, err := decimal.NewFromString(f.stake)
		if err != nil {
			return cfg, types.NewInvalidParameter("stake", f.stake, "must be a decimal number")
		}
		cfg.Stake = stake
	}
	return cfg, nil
}

// loadDataset reads the input files, reports their quality and applies the selection
func (a *app) loadDataset(cmd *cobra.Command, f *dataFlags) (*data.Dataset, error) {
	sel := f.selection(cmd)
	if _, err := sel.Filters(); err != nil {
		return nil, err
	}

	ds, stats, err := data.NewLoader(a.logger).LoadFiles(f.files...)
	if err != nil {
		return nil, err
	}

	quality := data.NewDataQualityValidator(a.logger).Validate(ds)
	a.logger.Info("Loaded trades",
		zap.Int("files", stats.Files),
		zap.Int("rows", stats.Rows),
		zap.Int("classifiable", quality.Classifiable),
		zap.Int("quality_score", quality.QualityScore),
	)
	if !quality.IsUsable {
		a.logger.Warn("Dataset quality is low", zap.Strings("recommendations", quality.Recommendations))
	}

	filtered, err := sel.Apply(ds)
	if err != nil {
		return nil, err
	}
	if !sel.IsEmpty() {
		a.logger.Info("Applied filters", zap.Int("kept", filtered.Len()), zap.Int("total", ds.Len()))
	}
	return filtered, nil
}

func (a *app) analyzeCmd() *cobra.Command {
	var df dataFlags
	var pf pairFlags
	var rf ruinFlags

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run the full analysis: EV tester, optimizer, streaks and risk of ruin",
		RunE: func(cmd *cobra.Command, args []string) error {
			render, err := a.renderer()
			if err != nil {
				return err
			}
			cfg, err := a.analysisConfig(&df)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("sl") || cmd.Flags().Changed("tp") {
				pair := pf.pair()
				cfg.Pair = &pair
			}
			rf.apply(cmd, &cfg.Ruin)

			ds, err := a.loadDataset(cmd, &df)
			if err != nil {
				return err
			}

			analyzer := orchestrator.NewAnalyzer(a.logger, nil, nil)
			rep, err := analyzer.Run(cmd.Context(), orchestrator.Request{Dataset: ds, Config: cfg})
			if err != nil {
				return err
			}
			return render.Analysis(rep)
		},
	}

	df.register(cmd)
	pf.register(cmd)
	rf.register(cmd)
	return cmd
}

func (a *app) evaluateCmd() *cobra.Command {
	var df dataFlags
	var pf pairFlags

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate the expected value of one stop-loss/take-profit pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			render, err := a.renderer()
			if err != nil {
				return err
			}
			cfg, err := a.analysisConfig(&df)
			if err != nil {
				return err
			}
			ds, err := a.loadDataset(cmd, &df)
			if err != nil {
				return err
			}

			analyzer := orchestrator.NewAnalyzer(a.logger, nil, nil)
			summary, err := analyzer.Evaluate(cmd.Context(), "", ds, pf.pair(), cfg.Stake)
			if err != nil {
				return err
			}
			return render.Evaluation(summary)
		},
	}

	df.register(cmd)
	pf.register(cmd)
	_ = cmd.MarkFlagRequired("sl")
	_ = cmd.MarkFlagRequired("tp")
	return cmd
}

func (a *app) optimizeCmd() *cobra.Command {
	var df dataFlags
	var ratios []float64
	var gate float64

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Search the percentile grid and the fixed-ratio family for the best expected value",
		RunE: func(cmd *cobra.Command, args []string) error {
			render, err := a.renderer()
			if err != nil {
				return err
			}
			cfg, err := a.analysisConfig(&df)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ratios") {
				cfg.Optimizer.Ratios = ratios
			}
			if cmd.Flags().Changed("gate") {
				cfg.Optimizer.WinRateGate = gate
			}
			ds, err := a.loadDataset(cmd, &df)
			if err != nil {
				return err
			}

			analyzer := orchestrator.NewAnalyzer(a.logger, nil, nil)
			result, err := analyzer.Optimize(cmd.Context(), "", ds, cfg.Stake, cfg.Optimizer)
			if err != nil {
				return err
			}
			if err := render.Optimization(result.Best, result.Ratios); err != nil {
				return err
			}
			if result.Best == nil {
				return types.ErrNoOptimum
			}
			return nil
		},
	}

	df.register(cmd)
	cmd.Flags().Float64SliceVar(&ratios, "ratios", nil, "Fixed take-profit multiples of the stop-loss (e.g. 1,2,3)")
	cmd.Flags().Float64Var(&gate, "gate", types.DefaultWinRateGate, "Minimum win rate for fixed-ratio candidates")
	return cmd
}

func (a *app) streaksCmd() *cobra.Command {
	var df dataFlags
	var pf pairFlags

	cmd := &cobra.Command{
		Use:   "streaks",
		Short: "Report win and loss streaks for one stop-loss/take-profit pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			render, err := a.renderer()
			if err != nil {
				return err
			}
			ds, err := a.loadDataset(cmd, &df)
			if err != nil {
				return err
			}

			pair := pf.pair()
			if pair.StopLoss < 0 || pair.TakeProfit < 0 {
				return types.NewInvalidParameter("pair", pair, "thresholds must be >= 0")
			}
			labels, counts := analysis.ClassifyDataset(ds, pair)
			if counts.Total() == 0 {
				return types.ErrNoData
			}
			return render.Streaks(analysis.Streaks(labels))
		},
	}

	df.register(cmd)
	pf.register(cmd)
	_ = cmd.MarkFlagRequired("sl")
	_ = cmd.MarkFlagRequired("tp")
	return cmd
}

func (a *app) ruinCmd() *cobra.Command {
	var rf ruinFlags
	var winRate, rewardToRisk float64

	cmd := &cobra.Command{
		Use:   "ruin",
		Short: "Estimate the risk of ruin for a win rate and reward-to-risk ratio",
		RunE: func(cmd *cobra.Command, args []string) error {
			render, err := a.renderer()
			if err != nil {
				return err
			}
			cfg, err := a.analysisConfig(nil)
			if err != nil {
				return err
			}
			rf.apply(cmd, &cfg.Ruin)

			analyzer := orchestrator.NewAnalyzer(a.logger, nil, nil)
			rep, err := analyzer.Risk(cmd.Context(), winRate, rewardToRisk, cfg.Ruin)
			if err != nil {
				return err
			}
			return render.Risk(rep)
		},
	}

	cmd.Flags().Float64Var(&winRate, "win-rate", 0, "Win probability in [0,1]")
	cmd.Flags().Float64Var(&rewardToRisk, "rr", 1, "Reward-to-risk ratio (take-profit / stop-loss)")
	rf.register(cmd)
	_ = cmd.MarkFlagRequired("win-rate")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP/WebSocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			serverConfig := a.cfg.ServerConfig()
			if cmd.Flags().Changed("host") {
				serverConfig.Host = host
			}
			if cmd.Flags().Changed("port") {
				serverConfig.Port = port
			}
			defaults, err := a.cfg.AnalysisConfig()
			if err != nil {
				return err
			}
			return a.serve(cmd.Context(), serverConfig, defaults)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (defaults to server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (defaults to server.port)")
	return cmd
}

// serve runs the API until ctx is cancelled
func (a *app) serve(ctx context.Context, serverConfig *types.ServerConfig, defaults types.AnalysisConfig) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	bus := events.NewEventBus(a.logger, events.DefaultEventBusConfig())
	defer bus.Stop()

	hub := api.NewHub(a.logger)
	hub.RelayEvents(bus)
	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	go hub.Run(hubCtx)

	bus.SubscribeAll(func(event events.Event) error {
		a.logger.Debug("Event", zap.String("type", string(event.GetType())), zap.String("id", event.GetID()))
		return nil
	})

	server := api.NewServer(a.logger, serverConfig, api.Dependencies{
		Store:    data.NewStore(a.logger, a.cfg.Data.MaxDatasets),
		Analyzer: orchestrator.NewAnalyzer(a.logger, m, bus),
		Bus:      bus,
		Hub:      hub,
		Metrics:  m,
		Gatherer: registry,
		Defaults: defaults,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	a.logger.Info("Server started",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", serverConfig.Host, serverConfig.Port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d%s", serverConfig.Host, serverConfig.Port, serverConfig.WebSocketPath)),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		a.logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		a.logger.Error("Error during server shutdown", zap.Error(err))
		return err
	}

	a.logger.Info("Server stopped")
	return nil
}
