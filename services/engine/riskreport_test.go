package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoricalVaR(t *testing.T) {
	returns := []float64{-0.03, -0.01, 0.00, 0.01, 0.02}

	v := historicalVaR(returns, 0.95)
	require.NotNil(t, v)
	assert.InDelta(t, 0.03, *v, 1e-12, "worst of 5 at 95%")

	v = historicalVaR(returns, 0.50)
	require.NotNil(t, v)
	assert.InDelta(t, 0.00, *v, 1e-12, "median-rank loss")

	assert.Nil(t, historicalVaR(nil, 0.95))
}

func TestAlphaBeta(t *testing.T) {
	t.Run("identical series", func(t *testing.T) {
		r := []float64{0.01, -0.02, 0.03, 0.01}
		alpha, beta := alphaBeta(r, r)
		require.NotNil(t, beta)
		require.NotNil(t, alpha)
		assert.InDelta(t, 1.0, *beta, 1e-12)
		assert.InDelta(t, 0.0, *alpha, 1e-12)
	})

	t.Run("scaled series", func(t *testing.T) {
		rb := []float64{0.01, -0.02, 0.03, 0.01}
		rp := make([]float64, len(rb))
		for i, r := range rb {
			rp[i] = 2*r + 0.001
		}
		alpha, beta := alphaBeta(rp, rb)
		require.NotNil(t, beta)
		assert.InDelta(t, 2.0, *beta, 1e-9)
		assert.InDelta(t, 0.001, *alpha, 1e-9)
	})

	t.Run("zero-variance benchmark", func(t *testing.T) {
		alpha, beta := alphaBeta([]float64{0.01, 0.02, 0.03}, []float64{0.01, 0.01, 0.01})
		assert.Nil(t, alpha)
		assert.Nil(t, beta)
	})

	t.Run("too few aligned periods", func(t *testing.T) {
		alpha, beta := alphaBeta([]float64{0.01, 0.02}, []float64{0.01})
		assert.Nil(t, alpha)
		assert.Nil(t, beta)
	})
}

func TestPoolReturns(t *testing.T) {
	pooled := poolReturns([][]float64{
		{0.02, 0.04},
		{0.00, -0.02, 0.10},
	})
	require.Len(t, pooled, 3)
	assert.InDelta(t, 0.01, pooled[0], 1e-12)
	assert.InDelta(t, 0.01, pooled[1], 1e-12)
	assert.InDelta(t, 0.10, pooled[2], 1e-12, "lone symbol carries the period")

	assert.Empty(t, poolReturns(nil))
}

// trendBars builds bars whose close follows the given price path.
func trendBars(prices []float64, volume float64) []Bar {
	bars := make([]Bar, len(prices))
	for i, p := range prices {
		bars[i] = Bar{
			Ts:     uint64(1700000000000 + i*60000),
			Open:   p,
			High:   p,
			Low:    p,
			Close:  p,
			Volume: volume,
		}
	}
	return bars
}

func reportRuns(t *testing.T) []SymbolRun {
	t.Helper()
	runs := make([]SymbolRun, 0, 2)
	for _, sym := range []string{"AAA", "BBB"} {
		bars := trendBars([]float64{100, 102, 101, 104, 103, 105}, 50000)
		intents, err := FirstLastIntents(sym, bars, 10)
		require.NoError(t, err)
		runs = append(runs, SymbolRun{Symbol: sym, Bars: bars, Intents: intents})
	}
	return runs
}

func TestBuildRiskReport_PerSymbolAndAggregate(t *testing.T) {
	cfg := ReportConfig{
		Cost:      CostConfig{CommissionPct: 0.0005, SlippageBps: 5},
		Benchmark: trendBars([]float64{100, 101, 100, 103, 102, 104}, 0),
		Workers:   4,
	}

	report, err := BuildRiskReport(reportRuns(t), cfg)
	require.NoError(t, err)

	require.Len(t, report.Symbols, 2)
	assert.Equal(t, "AAA", report.Symbols[0].Symbol, "input order preserved through the fan-out")
	assert.Equal(t, "BBB", report.Symbols[1].Symbol)
	assert.Empty(t, report.Failures)
	assert.Len(t, report.Results, 2)

	for _, s := range report.Symbols {
		assert.Greater(t, s.TotalCommission, 0.0)
		assert.Greater(t, s.TotalNotional, 0.0)
		assert.NotNil(t, s.Beta, "benchmark supplied, regression defined")
		assert.NotNil(t, s.Alpha)
	}

	agg := report.Aggregate
	assert.Equal(t, 2, agg.Symbols)
	assert.InDelta(t, report.Symbols[0].TotalCommission+report.Symbols[1].TotalCommission, agg.TotalCommission, 1e-9)
	assert.InDelta(t, (report.Symbols[0].AverageCostBps+report.Symbols[1].AverageCostBps)/2, agg.AvgCostBps, 1e-9)

	require.NotNil(t, report.PortfolioVaR)
	assert.Equal(t, DefaultVaRConfidence, report.VaRConfidence)
}

func TestBuildRiskReport_SymbolFailureDoesNotAbortSiblings(t *testing.T) {
	runs := reportRuns(t)
	runs = append(runs, SymbolRun{Symbol: "BROKEN", Bars: nil, Intents: nil})

	report, err := BuildRiskReport(runs, ReportConfig{})
	require.NoError(t, err)

	require.Len(t, report.Symbols, 2, "healthy symbols complete")
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "BROKEN", report.Failures[0].Symbol)
	assert.Equal(t, "bars", report.Failures[0].Stage)
}

func TestBuildRiskReport_FatalErrors(t *testing.T) {
	t.Run("config error", func(t *testing.T) {
		_, err := BuildRiskReport(reportRuns(t), ReportConfig{Cost: CostConfig{ImpactCoef: -1}})
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("no symbols", func(t *testing.T) {
		_, err := BuildRiskReport(nil, ReportConfig{})
		var dataErr *DataError
		require.ErrorAs(t, err, &dataErr)
	})

	t.Run("all symbols fail", func(t *testing.T) {
		_, err := BuildRiskReport([]SymbolRun{{Symbol: "X"}}, ReportConfig{})
		var dataErr *DataError
		require.ErrorAs(t, err, &dataErr)
	})

	t.Run("bad benchmark", func(t *testing.T) {
		bench := trendBars([]float64{100, 101}, 0)
		bench[1].Ts = bench[0].Ts
		_, err := BuildRiskReport(reportRuns(t), ReportConfig{Benchmark: bench})
		var dataErr *DataError
		require.ErrorAs(t, err, &dataErr)
		assert.Equal(t, "benchmark", dataErr.Symbol)
	})
}

func TestBuildRiskReport_FlatBenchmarkLeavesRegressionUndefined(t *testing.T) {
	cfg := ReportConfig{Benchmark: trendBars([]float64{100, 100, 100, 100, 100, 100}, 0)}

	report, err := BuildRiskReport(reportRuns(t), cfg)
	require.NoError(t, err)
	for _, s := range report.Symbols {
		assert.Nil(t, s.Alpha, "zero-variance benchmark")
		assert.Nil(t, s.Beta)
	}
}

func TestAggregateExposure(t *testing.T) {
	exposure := AggregateExposure([]OrderIntent{
		{Symbol: "AAA", Side: TradeSideBuy, Qty: 100},
		{Symbol: "AAA", Side: TradeSideSell, Qty: 30},
		{Symbol: "BBB", Side: TradeSideSell, Qty: 50},
	})
	assert.InDelta(t, 70.0, exposure["AAA"], 1e-12)
	assert.InDelta(t, -50.0, exposure["BBB"], 1e-12)
}

func TestFirstLastIntents(t *testing.T) {
	bars := trendBars([]float64{100, 101, 102}, 0)
	intents, err := FirstLastIntents("AAA", bars, 10)
	require.NoError(t, err)
	require.Len(t, intents, 2)
	assert.Equal(t, TradeSideBuy, intents[0].Side)
	assert.Equal(t, bars[0].Ts, intents[0].ArrivalTs)
	assert.Equal(t, TradeSideSell, intents[1].Side)
	assert.Equal(t, bars[2].Ts, intents[1].ArrivalTs)

	_, err = FirstLastIntents("AAA", nil, 10)
	require.Error(t, err)
	_, err = FirstLastIntents("AAA", bars, 0)
	require.Error(t, err)
}
