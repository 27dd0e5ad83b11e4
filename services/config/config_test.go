package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-cost-engine/services/engine"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "localhost:9000", cfg.ClickHouse.Addr)
	assert.Equal(t, "1d", cfg.Backtest.Interval)
	assert.Equal(t, engine.DefaultInitialCash, cfg.Backtest.InitialCash)
	assert.Equal(t, "linear", cfg.Backtest.ImpactModel)
	assert.Equal(t, engine.DefaultVaRConfidence, cfg.Risk.VaRConfidence)
	assert.Equal(t, engine.DefaultVolatilityWindow, cfg.Risk.VolatilityWindow)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9999"
clickhouse:
  addr: "ch:9000"
  database: market
backtest:
  commission_pct: 0.001
  slippage_bps: 5
  participation_cap: 0.25
  impact_model: sqrt
risk:
  var_confidence: 0.99
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "ch:9000", cfg.ClickHouse.Addr)
	assert.Equal(t, "market", cfg.ClickHouse.Database)
	assert.Equal(t, 0.99, cfg.Risk.VaRConfidence)

	cost, err := cfg.CostConfig()
	require.NoError(t, err)
	assert.Equal(t, 0.001, cost.CommissionPct)
	assert.Equal(t, 5.0, cost.SlippageBps)
	require.NotNil(t, cost.ParticipationCap)
	assert.Equal(t, 0.25, *cost.ParticipationCap)
	assert.Equal(t, engine.ImpactSqrt, cost.ImpactModel)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CLICKHOUSE_ADDR", "override:9000")
	t.Setenv("CH_PASSWORD", "secret")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "override:9000", cfg.ClickHouse.Addr)
	assert.Equal(t, "secret", cfg.ClickHouse.Password)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestCostConfigRejectsBadModel(t *testing.T) {
	path := writeConfig(t, `
backtest:
  impact_model: cubic
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	_, err = cfg.CostConfig()
	assert.Error(t, err)
}

func TestCostConfigRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
backtest:
  participation_cap: 1.5
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	_, err = cfg.CostConfig()
	require.Error(t, err)
	var cfgErr *engine.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestNewLogger(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.NotNil(t, logger)

	cfg.Log.Level = "bogus"
	_, err = cfg.NewLogger()
	assert.Error(t, err)
}
