package engine

// Metrics aggregation over a completed run: pure computation on the equity
// curve and trade ledger.

import "math"

func floatPtr(v float64) *float64 { return &v }

// equityReturns computes period-over-period simple returns of the curve.
func equityReturns(curve []EquityPoint) []float64 {
	var returns []float64
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			continue
		}
		returns = append(returns, curve[i].Equity/prev-1)
	}
	return returns
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the sample standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}

// sharpeRatio returns mean/stddev of the per-period returns, or nil when the
// ratio is undefined (fewer than 2 returns, or zero variance). No
// annualization: the caller owns the period convention.
func sharpeRatio(returns []float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	sd := stddev(returns)
	if sd == 0 || math.IsNaN(sd) {
		return nil
	}
	return floatPtr(mean(returns) / sd)
}

// maxDrawdown is the largest peak-to-trough decline of the curve, as a
// positive fraction of the peak. Zero for a non-decreasing curve.
func maxDrawdown(curve []EquityPoint) float64 {
	var peak, maxDD float64
	for i, p := range curve {
		if i == 0 || p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// annualizedVolatility is the sample stddev of the trailing window of returns
// scaled by sqrt(252), or nil with fewer than 2 observations.
func annualizedVolatility(returns []float64, window int) *float64 {
	if window > 0 && len(returns) > window {
		returns = returns[len(returns)-window:]
	}
	if len(returns) < 2 {
		return nil
	}
	sd := stddev(returns)
	if math.IsNaN(sd) {
		return nil
	}
	return floatPtr(sd * math.Sqrt(252))
}

// finalize fills in the aggregate scalars of a completed result.
func finalize(r *BacktestResult, initialCash float64) {
	for _, t := range r.Trades {
		r.TotalCommission += t.Commission
		r.TotalSlippageCost += t.slippageCost()
		r.TotalNotional += t.Notional()
	}
	r.TotalTrades = len(r.Trades)
	if r.TotalNotional > 0 {
		r.AverageCostBps = (r.TotalCommission + r.TotalSlippageCost) / r.TotalNotional * 10000
	}
	for _, p := range r.EquityCurve {
		if p.GrossExposure > r.GrossExposurePeak {
			r.GrossExposurePeak = p.GrossExposure
		}
	}
	r.Sharpe = sharpeRatio(equityReturns(r.EquityCurve))
	r.MaxDrawdown = maxDrawdown(r.EquityCurve)
	r.FinalEquity = initialCash
	if n := len(r.EquityCurve); n > 0 {
		r.FinalEquity = r.EquityCurve[n-1].Equity
	}
}
