// Package config loads the service configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"backtest-cost-engine/services/clickhouse"
	"backtest-cost-engine/services/engine"
)

// Config is the full configuration for the commands and the server.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	ClickHouse clickhouse.Config `yaml:"clickhouse"`
	Backtest   BacktestConfig    `yaml:"backtest"`
	Risk       RiskConfig        `yaml:"risk"`
	Log        LogConfig         `yaml:"log"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr       string  `yaml:"addr"`
	RatePerSec float64 `yaml:"rate_per_sec"`
	RateBurst  int     `yaml:"rate_burst"`
}

// BacktestConfig holds the default run parameters. Cost fields mirror
// engine.CostConfig; a participation_cap of 0 means disabled.
type BacktestConfig struct {
	Interval         string  `yaml:"interval"`
	OrderQty         float64 `yaml:"order_qty"`
	InitialCash      float64 `yaml:"initial_cash"`
	CommissionPct    float64 `yaml:"commission_pct"`
	SlippageBps      float64 `yaml:"slippage_bps"`
	ParticipationCap float64 `yaml:"participation_cap"`
	BaseSpreadBps    float64 `yaml:"base_spread_bps"`
	ImpactCoef       float64 `yaml:"impact_coef"`
	ImpactModel      string  `yaml:"impact_model"`
	ImpactPower      float64 `yaml:"impact_power"`
}

// RiskConfig holds the risk-report parameters.
type RiskConfig struct {
	VaRConfidence    float64 `yaml:"var_confidence"`
	VolatilityWindow int     `yaml:"volatility_window"`
	Workers          int     `yaml:"workers"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// Load reads the YAML file at path (optional: defaults apply when path is
// empty) and applies .env / environment overrides on top.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CLICKHOUSE_ADDR"); v != "" {
		cfg.ClickHouse.Addr = v
	}
	if v := os.Getenv("CH_DATABASE"); v != "" {
		cfg.ClickHouse.Database = v
	}
	if v := os.Getenv("CH_TABLE"); v != "" {
		cfg.ClickHouse.Table = v
	}
	if v := os.Getenv("CH_USER"); v != "" {
		cfg.ClickHouse.Username = v
	}
	if v := os.Getenv("CH_PASSWORD"); v != "" {
		cfg.ClickHouse.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func setDefaults(cfg *Config) {
	cfg.ClickHouse.ApplyDefaults()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.RatePerSec <= 0 {
		cfg.Server.RatePerSec = 10
	}
	if cfg.Server.RateBurst <= 0 {
		cfg.Server.RateBurst = 20
	}
	if cfg.Backtest.Interval == "" {
		cfg.Backtest.Interval = "1d"
	}
	if cfg.Backtest.OrderQty <= 0 {
		cfg.Backtest.OrderQty = 10
	}
	if cfg.Backtest.InitialCash <= 0 {
		cfg.Backtest.InitialCash = engine.DefaultInitialCash
	}
	if cfg.Backtest.ImpactModel == "" {
		cfg.Backtest.ImpactModel = "linear"
	}
	if cfg.Backtest.ImpactPower <= 0 {
		cfg.Backtest.ImpactPower = 0.5
	}
	if cfg.Risk.VaRConfidence <= 0 || cfg.Risk.VaRConfidence >= 1 {
		cfg.Risk.VaRConfidence = engine.DefaultVaRConfidence
	}
	if cfg.Risk.VolatilityWindow <= 0 {
		cfg.Risk.VolatilityWindow = engine.DefaultVolatilityWindow
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// CostConfig builds the validated engine cost configuration.
func (c *Config) CostConfig() (engine.CostConfig, error) {
	model, err := engine.ParseImpactModel(c.Backtest.ImpactModel)
	if err != nil {
		return engine.CostConfig{}, fmt.Errorf("config: %w", err)
	}
	cost := engine.CostConfig{
		CommissionPct: c.Backtest.CommissionPct,
		SlippageBps:   c.Backtest.SlippageBps,
		BaseSpreadBps: c.Backtest.BaseSpreadBps,
		ImpactCoef:    c.Backtest.ImpactCoef,
		ImpactModel:   model,
		ImpactPower:   c.Backtest.ImpactPower,
	}
	if c.Backtest.ParticipationCap > 0 {
		cap := c.Backtest.ParticipationCap
		cost.ParticipationCap = &cap
	}
	if err := cost.Validate(); err != nil {
		return engine.CostConfig{}, err
	}
	return cost, nil
}

// NewLogger builds a zap logger at the configured level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("config: parse log level %q: %w", c.Log.Level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	return zcfg.Build()
}
