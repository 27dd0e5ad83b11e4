package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TradeSide is the direction of an order or fill.
type TradeSide int

const (
	TradeSideBuy TradeSide = iota
	TradeSideSell
)

func (s TradeSide) String() string {
	if s == TradeSideSell {
		return "SELL"
	}
	return "BUY"
}

// MarshalJSON renders the side as "BUY" or "SELL".
func (s TradeSide) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *TradeSide) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch strings.ToUpper(raw) {
	case "BUY":
		*s = TradeSideBuy
	case "SELL":
		*s = TradeSideSell
	default:
		return fmt.Errorf("unknown trade side %q", raw)
	}
	return nil
}

// direction returns +1 for buys and -1 for sells. Cost adjustments move
// against the trader: buys pay up, sells receive less.
func (s TradeSide) direction() float64 {
	if s == TradeSideSell {
		return -1
	}
	return 1
}

// Bar represents a single OHLCV bar. Timestamps are Unix milliseconds.
type Bar struct {
	Ts     uint64  `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// OrderIntent is a trade instruction handed to the fill simulator. It may be
// split across multiple bars when a participation cap is active.
type OrderIntent struct {
	Symbol    string    `json:"symbol"`
	Side      TradeSide `json:"side"`
	Qty       float64   `json:"qty"`
	ArrivalTs uint64    `json:"arrival_ts"`
}

// TradeRecord is one partial or full fill. Immutable once emitted.
type TradeRecord struct {
	Ts               uint64    `json:"ts"`
	Symbol           string    `json:"symbol"`
	Side             TradeSide `json:"side"`
	Qty              float64   `json:"qty"`
	Remaining        float64   `json:"remaining"`
	OriginalQty      float64   `json:"original_qty"`
	RefPrice         float64   `json:"ref_price"`
	EffectivePrice   float64   `json:"effective_price"`
	Commission       float64   `json:"commission"`
	SlippageBps      float64   `json:"slippage_bps"`
	ImpactApplied    float64   `json:"impact_applied"`
	CumParticipation float64   `json:"cum_participation"`
}

// Notional is the cash value of the fill at its effective price.
func (t TradeRecord) Notional() float64 {
	return t.Qty * t.EffectivePrice
}

// slippageCost is the signed friction paid versus the reference price,
// positive for both sides: buys pay above reference, sells receive below it.
func (t TradeRecord) slippageCost() float64 {
	return t.Side.direction() * (t.EffectivePrice - t.RefPrice) * t.Qty
}

// EquityPoint is one mark-to-market observation on the equity curve.
type EquityPoint struct {
	Ts            uint64  `json:"ts"`
	Equity        float64 `json:"equity"`
	GrossExposure float64 `json:"gross_exposure"`
}

// BacktestResult is the full output of one symbol run: the trade ledger, the
// equity curve and the aggregate scalars computed from them. Metrics that can
// be mathematically undefined (Sharpe on a degenerate curve) are pointers and
// nil when undefined.
type BacktestResult struct {
	Symbol            string        `json:"symbol"`
	Trades            []TradeRecord `json:"trades"`
	EquityCurve       []EquityPoint `json:"equity_curve"`
	Sharpe            *float64      `json:"sharpe"`
	MaxDrawdown       float64       `json:"max_drawdown"`
	FinalEquity       float64       `json:"final_equity"`
	TotalCommission   float64       `json:"total_commission"`
	TotalSlippageCost float64       `json:"total_slippage_cost"`
	TotalNotional     float64       `json:"total_notional"`
	TotalTrades       int           `json:"total_trades"`
	AverageCostBps    float64       `json:"average_cost_bps"`
	GrossExposurePeak float64       `json:"gross_exposure_peak"`
	// UnfilledQty is the residual quantity left when the bar sequence ran out
	// before every intent completed. Reported, not an error.
	UnfilledQty float64 `json:"unfilled_qty"`
}
