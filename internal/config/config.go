// Package config loads the analyzer configuration from excursion.yaml,
// an optional .env file and EXCURSION_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atlas-desktop/excursion-lab/pkg/types"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. EXCURSION_SERVER_PORT
const EnvPrefix = "EXCURSION"

// Config is the complete analyzer configuration
type Config struct {
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Data     DataConfig     `mapstructure:"data"`
}

// AnalysisConfig holds the search and ruin parameters
type AnalysisConfig struct {
	Stake          string    `mapstructure:"stake"`
	RiskPerTrade   float64   `mapstructure:"risk_per_trade"`
	MaxDrawdown    float64   `mapstructure:"max_drawdown"`
	NumSimulations int       `mapstructure:"num_simulations"`
	NumTrades      int       `mapstructure:"num_trades"`
	DecayConstant  float64   `mapstructure:"decay_constant"`
	Seed           int64     `mapstructure:"seed"`
	Workers        int       `mapstructure:"workers"`
	Percentiles    []float64 `mapstructure:"percentiles"`
	Ratios         []float64 `mapstructure:"ratios"`
	WinRateGate    float64   `mapstructure:"win_rate_gate"`
}

// ServerConfig holds the HTTP server settings
type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	WebSocketPath     string        `mapstructure:"websocket_path"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	EnableMetrics     bool          `mapstructure:"enable_metrics"`
}

// LogConfig controls logger level and encoding
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug | info | warn | error
	Format string `mapstructure:"format"` // console | json
}

// DataConfig controls dataset ingestion limits
type DataConfig struct {
	MaxUploadMB int `mapstructure:"max_upload_mb"`
	MaxDatasets int `mapstructure:"max_datasets"`
}

// Load reads path (or ./excursion.yaml when path is empty) and applies
// environment overrides. A missing default file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
	} else {
		v.SetConfigName("excursion")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config.Load: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: decode: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	ruin := types.DefaultRuinConfig()
	opt := types.DefaultOptimizerConfig()
	srv := types.DefaultServerConfig()

	v.SetDefault("analysis.stake", "100")
	v.SetDefault("analysis.risk_per_trade", ruin.RiskPerTrade)
	v.SetDefault("analysis.max_drawdown", ruin.MaxDrawdown)
	v.SetDefault("analysis.num_simulations", ruin.NumSimulations)
	v.SetDefault("analysis.num_trades", ruin.NumTrades)
	v.SetDefault("analysis.decay_constant", ruin.DecayConstant)
	v.SetDefault("analysis.seed", 0)
	v.SetDefault("analysis.workers", opt.Workers)
	v.SetDefault("analysis.percentiles", opt.Percentiles)
	v.SetDefault("analysis.ratios", opt.Ratios)
	v.SetDefault("analysis.win_rate_gate", opt.WinRateGate)

	v.SetDefault("server.host", srv.Host)
	v.SetDefault("server.port", srv.Port)
	v.SetDefault("server.websocket_path", srv.WebSocketPath)
	v.SetDefault("server.read_timeout", srv.ReadTimeout)
	v.SetDefault("server.write_timeout", srv.WriteTimeout)
	v.SetDefault("server.requests_per_second", srv.RequestsPerSecond)
	v.SetDefault("server.burst", srv.Burst)
	v.SetDefault("server.enable_metrics", srv.EnableMetrics)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("data.max_upload_mb", int(srv.MaxUploadBytes>>20))
	v.SetDefault("data.max_datasets", 32)
}

// Validate checks the settings that the typed configs do not cover and then
// the analysis parameters themselves. It returns the first problem found.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return types.NewInvalidParameter("log.level", c.Log.Level, "must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return types.NewInvalidParameter("log.format", c.Log.Format, "must be console or json")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return types.NewInvalidParameter("server.port", c.Server.Port, "must be within [1,65535]")
	}
	if c.Server.RequestsPerSecond <= 0 {
		return types.NewInvalidParameter("server.requests_per_second", c.Server.RequestsPerSecond, "must be > 0")
	}
	if c.Server.Burst <= 0 {
		return types.NewInvalidParameter("server.burst", c.Server.Burst, "must be > 0")
	}
	if c.Data.MaxUploadMB <= 0 {
		return types.NewInvalidParameter("data.max_upload_mb", c.Data.MaxUploadMB, "must be > 0")
	}
	if c.Data.MaxDatasets <= 0 {
		return types.NewInvalidParameter("data.max_datasets", c.Data.MaxDatasets, "must be > 0")
	}

	analysis, err := c.AnalysisConfig()
	if err != nil {
		return err
	}
	return analysis.Validate()
}

// AnalysisConfig converts the analysis section into the engine's run parameters
func (c *Config) AnalysisConfig() (types.AnalysisConfig, error) {
	stake, err := decimal.NewFromString(c.Analysis.Stake)
	if err != nil {
		return types.AnalysisConfig{}, types.NewInvalidParameter("analysis.stake", c.Analysis.Stake, "must be a decimal number")
	}

	return types.AnalysisConfig{
		Stake: stake,
		Optimizer: types.OptimizerConfig{
			Percentiles: append([]float64(nil), c.Analysis.Percentiles...),
			Ratios:      append([]float64(nil), c.Analysis.Ratios...),
			WinRateGate: c.Analysis.WinRateGate,
			Workers:     c.Analysis.Workers,
		},
		Ruin: types.RuinConfig{
			RiskPerTrade:   c.Analysis.RiskPerTrade,
			MaxDrawdown:    c.Analysis.MaxDrawdown,
			NumSimulations: c.Analysis.NumSimulations,
			NumTrades:      c.Analysis.NumTrades,
			DecayConstant:  c.Analysis.DecayConstant,
			Seed:           c.Analysis.Seed,
			Workers:        c.Analysis.Workers,
		},
	}, nil
}

// ServerConfig converts the server and data sections for the API server
func (c *Config) ServerConfig() *types.ServerConfig {
	return &types.ServerConfig{
		Host:              c.Server.Host,
		Port:              c.Server.Port,
		WebSocketPath:     c.Server.WebSocketPath,
		ReadTimeout:       c.Server.ReadTimeout,
		WriteTimeout:      c.Server.WriteTimeout,
		RequestsPerSecond: c.Server.RequestsPerSecond,
		Burst:             c.Server.Burst,
		MaxUploadBytes:    int64(c.Data.MaxUploadMB) << 20,
		EnableMetrics:     c.Server.EnableMetrics,
	}
}
