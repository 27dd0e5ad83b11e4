package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flatBars builds n bars at a constant price with the given volume, one
// minute apart.
func flatBars(n int, price, volume float64) []Bar {
	bars := make([]Bar, n)
	for i := range bars {
		bars[i] = Bar{
			Ts:     uint64(1700000000000 + i*60000),
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Volume: volume,
		}
	}
	return bars
}

func TestRun_SingleBuyNoCap(t *testing.T) {
	bars := flatBars(3, 100, 10000)
	intents := []OrderIntent{{Symbol: "AAPL", Side: TradeSideBuy, Qty: 1000, ArrivalTs: bars[0].Ts}}
	cfg := RunConfig{Cost: CostConfig{CommissionPct: 0.0005, SlippageBps: 5}}

	res, err := Run("AAPL", bars, intents, cfg)
	require.NoError(t, err)

	require.Len(t, res.Trades, 1, "full fill in a single record without a cap")
	tr := res.Trades[0]
	assert.Equal(t, 1000.0, tr.Qty)
	assert.Equal(t, 0.0, tr.Remaining)
	assert.Equal(t, 1000.0, tr.OriginalQty)
	assert.InDelta(t, 100.05, tr.EffectivePrice, 1e-6)
	assert.InDelta(t, 50.025, tr.Commission, 1e-6)
	assert.Equal(t, 0.0, res.UnfilledQty)
	assert.Equal(t, 1, res.TotalTrades)
	assert.InDelta(t, 1000*tr.EffectivePrice, res.TotalNotional, 1e-6)
}

func TestRun_ParticipationCapSplitsFills(t *testing.T) {
	bars := flatBars(3, 100, 2000)
	intents := []OrderIntent{{Symbol: "AAPL", Side: TradeSideBuy, Qty: 1000, ArrivalTs: bars[0].Ts}}
	cfg := RunConfig{Cost: CostConfig{ParticipationCap: floatPtr(0.25)}}

	res, err := Run("AAPL", bars, intents, cfg)
	require.NoError(t, err)

	require.Len(t, res.Trades, 2, "1000 shares at 500/bar")
	for i, tr := range res.Trades {
		assert.Equal(t, 500.0, tr.Qty, "fill %d capped at 25%% of 2000", i)
		assert.LessOrEqual(t, tr.Qty, 0.25*2000)
	}
	assert.Equal(t, 500.0, res.Trades[0].Remaining)
	assert.Equal(t, 0.0, res.Trades[1].Remaining)
	assert.Equal(t, bars[0].Ts, res.Trades[0].Ts)
	assert.Equal(t, bars[1].Ts, res.Trades[1].Ts)
	assert.Equal(t, 0.0, res.UnfilledQty)
}

func TestRun_RemainingMonotoneAndConserved(t *testing.T) {
	bars := flatBars(10, 50, 300)
	intents := []OrderIntent{{Symbol: "X", Side: TradeSideSell, Qty: 700, ArrivalTs: bars[0].Ts}}
	cfg := RunConfig{Cost: CostConfig{ParticipationCap: floatPtr(0.5)}}

	res, err := Run("X", bars, intents, cfg)
	require.NoError(t, err)

	var filled float64
	prev := intents[0].Qty
	var lastTs uint64
	for _, tr := range res.Trades {
		filled += tr.Qty
		assert.InDelta(t, intents[0].Qty-filled, tr.Remaining, 1e-9)
		assert.LessOrEqual(t, tr.Remaining, prev)
		assert.GreaterOrEqual(t, tr.Ts, lastTs, "records ordered by timestamp")
		prev = tr.Remaining
		lastTs = tr.Ts
	}
	assert.InDelta(t, intents[0].Qty, filled, 1e-9)
	assert.Equal(t, 0.0, res.Trades[len(res.Trades)-1].Remaining)
}

func TestRun_UnfilledResidualReported(t *testing.T) {
	bars := flatBars(2, 100, 1000)
	intents := []OrderIntent{{Symbol: "X", Side: TradeSideBuy, Qty: 5000, ArrivalTs: bars[0].Ts}}
	cfg := RunConfig{Cost: CostConfig{ParticipationCap: floatPtr(0.1)}}

	res, err := Run("X", bars, intents, cfg)
	require.NoError(t, err, "running out of bars is a reported condition, not an error")

	require.Len(t, res.Trades, 2)
	assert.Equal(t, 100.0, res.Trades[0].Qty)
	assert.Equal(t, 100.0, res.Trades[1].Qty)
	assert.Equal(t, 4800.0, res.UnfilledQty)
	assert.Equal(t, 4800.0, res.Trades[1].Remaining)
}

func TestRun_ZeroVolumeBarSkippedUnderCap(t *testing.T) {
	bars := flatBars(3, 100, 1000)
	bars[1].Volume = 0
	intents := []OrderIntent{{Symbol: "X", Side: TradeSideBuy, Qty: 400, ArrivalTs: bars[0].Ts}}
	cfg := RunConfig{Cost: CostConfig{ParticipationCap: floatPtr(0.2)}}

	res, err := Run("X", bars, intents, cfg)
	require.NoError(t, err)

	require.Len(t, res.Trades, 2, "dry bar emits no record")
	assert.Equal(t, bars[0].Ts, res.Trades[0].Ts)
	assert.Equal(t, bars[2].Ts, res.Trades[1].Ts, "fill resumes on the next liquid bar")
}

func TestRun_IntentWaitsForArrival(t *testing.T) {
	bars := flatBars(4, 100, 1000)
	intents := []OrderIntent{{Symbol: "X", Side: TradeSideBuy, Qty: 10, ArrivalTs: bars[2].Ts}}

	res, err := Run("X", bars, intents, RunConfig{})
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, bars[2].Ts, res.Trades[0].Ts)
}

func TestRun_EquityCurveAndExposure(t *testing.T) {
	bars := flatBars(4, 100, 10000)
	bars[1].Close = 110
	bars[2].Close = 120
	bars[3].Close = 120
	intents := []OrderIntent{
		{Symbol: "X", Side: TradeSideBuy, Qty: 10, ArrivalTs: bars[0].Ts},
		{Symbol: "X", Side: TradeSideSell, Qty: 10, ArrivalTs: bars[2].Ts},
	}

	res, err := Run("X", bars, intents, RunConfig{InitialCash: 10000})
	require.NoError(t, err)

	// points while the position is open plus the unwinding bar; nothing after
	require.Len(t, res.EquityCurve, 3)
	assert.InDelta(t, 10000.0, res.EquityCurve[0].Equity, 1e-9, "bought at close, marked at close")
	assert.InDelta(t, 10100.0, res.EquityCurve[1].Equity, 1e-9)
	assert.InDelta(t, 1000.0, res.EquityCurve[0].GrossExposure, 1e-9)
	assert.InDelta(t, 1100.0, res.EquityCurve[1].GrossExposure, 1e-9)
	assert.Equal(t, 0.0, res.EquityCurve[2].GrossExposure, "flat after the sell")
	assert.InDelta(t, 1100.0, res.GrossExposurePeak, 1e-9)
	assert.InDelta(t, 10200.0, res.FinalEquity, 1e-9)
}

func TestRun_CumParticipationTracksRunningRatio(t *testing.T) {
	bars := flatBars(2, 100, 1000)
	intents := []OrderIntent{{Symbol: "X", Side: TradeSideBuy, Qty: 600, ArrivalTs: bars[0].Ts}}
	cfg := RunConfig{Cost: CostConfig{ParticipationCap: floatPtr(0.5), ImpactCoef: 0.01}}

	res, err := Run("X", bars, intents, cfg)
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.InDelta(t, 0.5, res.Trades[0].CumParticipation, 1e-9, "500 of 1000")
	assert.InDelta(t, 0.3, res.Trades[1].CumParticipation, 1e-9, "600 of 2000")
}

func TestRun_InputValidation(t *testing.T) {
	bars := flatBars(2, 100, 1000)

	t.Run("invalid config", func(t *testing.T) {
		_, err := Run("X", bars, nil, RunConfig{Cost: CostConfig{CommissionPct: -1}})
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("empty bars", func(t *testing.T) {
		_, err := Run("X", nil, nil, RunConfig{})
		var dataErr *DataError
		require.ErrorAs(t, err, &dataErr)
		assert.Equal(t, "bars", dataErr.Stage)
		assert.Equal(t, "X", dataErr.Symbol)
	})

	t.Run("non-monotonic bars", func(t *testing.T) {
		bad := flatBars(3, 100, 1000)
		bad[2].Ts = bad[1].Ts
		_, err := Run("X", bad, nil, RunConfig{})
		var dataErr *DataError
		require.ErrorAs(t, err, &dataErr)
		assert.Equal(t, "bars", dataErr.Stage)
	})

	t.Run("bad intent quantity", func(t *testing.T) {
		_, err := Run("X", bars, []OrderIntent{{Symbol: "X", Side: TradeSideBuy, Qty: 0}}, RunConfig{})
		var dataErr *DataError
		require.ErrorAs(t, err, &dataErr)
		assert.Equal(t, "intents", dataErr.Stage)
	})
}

func TestRun_TruncatedSeriesStillProducesValidResult(t *testing.T) {
	// A caller cancelling by truncating the bar feed must still get a
	// well-formed partial result.
	bars := flatBars(1, 100, 100)
	intents := []OrderIntent{{Symbol: "X", Side: TradeSideBuy, Qty: 1000, ArrivalTs: bars[0].Ts}}
	cfg := RunConfig{Cost: CostConfig{ParticipationCap: floatPtr(0.5)}}

	res, err := Run("X", bars, intents, cfg)
	require.NoError(t, err)
	assert.Equal(t, 950.0, res.UnfilledQty)
	assert.Nil(t, res.Sharpe, "single equity point leaves Sharpe undefined")
	assert.Equal(t, 0.0, res.MaxDrawdown)
}
