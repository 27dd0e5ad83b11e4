package engine

// Backtest runner: drives the fill simulator across one symbol's bar series
// and tracks position, cash and the equity curve.

import (
	"fmt"
	"math"
	"sort"
)

// DefaultInitialCash is the starting cash balance when RunConfig leaves it
// unset.
const DefaultInitialCash float64 = 100_000

// RunConfig parameterizes one symbol run.
type RunConfig struct {
	Cost        CostConfig
	InitialCash float64
	// RefPrice fixes the per-bar fill price convention for the whole run.
	// Defaults to ClosePrice.
	RefPrice RefPriceFunc
}

func (c RunConfig) initialCash() float64 {
	if c.InitialCash > 0 {
		return c.InitialCash
	}
	return DefaultInitialCash
}

// validateBars rejects empty or non-monotonic series. Bars must be strictly
// increasing by timestamp: one bar per period, no duplicates.
func validateBars(symbol string, bars []Bar) error {
	if len(bars) == 0 {
		return &DataError{Symbol: symbol, Stage: "bars", Reason: "empty bar series"}
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].Ts <= bars[i-1].Ts {
			return &DataError{
				Symbol: symbol,
				Stage:  "bars",
				Reason: fmt.Sprintf("non-monotonic timestamps at index %d (%d after %d)", i, bars[i].Ts, bars[i-1].Ts),
			}
		}
	}
	return nil
}

func validateIntents(symbol string, intents []OrderIntent) error {
	for i, in := range intents {
		if in.Qty <= 0 || math.IsNaN(in.Qty) {
			return &DataError{
				Symbol: symbol,
				Stage:  "intents",
				Reason: fmt.Sprintf("intent %d has non-positive quantity %v", i, in.Qty),
			}
		}
		if in.Side != TradeSideBuy && in.Side != TradeSideSell {
			return &DataError{
				Symbol: symbol,
				Stage:  "intents",
				Reason: fmt.Sprintf("intent %d has unknown side %d", i, in.Side),
			}
		}
	}
	return nil
}

// Run executes the full backtest for one symbol: fills every intent across
// the bar series, marks the position to market after each bar and returns
// the completed result. Truncated bar series are not an error; whatever
// remains unfilled is reported on the result.
func Run(symbol string, bars []Bar, intents []OrderIntent, cfg RunConfig) (*BacktestResult, error) {
	if err := cfg.Cost.Validate(); err != nil {
		return nil, err
	}
	if err := validateBars(symbol, bars); err != nil {
		return nil, err
	}
	if err := validateIntents(symbol, intents); err != nil {
		return nil, err
	}

	sim := NewFillSimulator(cfg.Cost, cfg.RefPrice)
	part := &participation{}

	orders := make([]*openOrder, len(intents))
	for i, in := range intents {
		orders[i] = newOpenOrder(in)
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].intent.ArrivalTs < orders[j].intent.ArrivalTs
	})

	cash := cfg.initialCash()
	position := 0.0

	result := &BacktestResult{Symbol: symbol}
	for _, bar := range bars {
		part.observeBar(bar.Volume)

		filledThisBar := false
		for _, ord := range orders {
			if ord.state == FillFilled || ord.intent.ArrivalTs > bar.Ts {
				continue
			}
			rec, ok := sim.FillOnBar(bar, ord, part)
			if !ok {
				continue
			}
			notional := rec.Notional()
			if rec.Side == TradeSideBuy {
				cash -= notional + rec.Commission
				position += rec.Qty
			} else {
				cash += notional - rec.Commission
				position -= rec.Qty
			}
			result.Trades = append(result.Trades, rec)
			filledThisBar = true
		}

		if position != 0 || filledThisBar {
			result.EquityCurve = append(result.EquityCurve, EquityPoint{
				Ts:            bar.Ts,
				Equity:        cash + position*bar.Close,
				GrossExposure: math.Abs(position) * bar.Close,
			})
		}
	}

	for _, ord := range orders {
		result.UnfilledQty += ord.remaining
	}

	finalize(result, cfg.initialCash())
	return result, nil
}
