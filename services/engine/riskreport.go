package engine

// Risk report builder: parallel per-symbol backtests followed by a joined
// cross-symbol reduction (aggregates, alpha/beta regression, portfolio VaR).

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
)

// DefaultVaRConfidence is the portfolio VaR confidence level when the report
// config leaves it unset.
const DefaultVaRConfidence = 0.95

// DefaultVolatilityWindow is the trailing return window for annualized
// volatility.
const DefaultVolatilityWindow = 20

// SymbolRun bundles the fully materialized inputs for one symbol.
type SymbolRun struct {
	Symbol  string
	Bars    []Bar
	Intents []OrderIntent
}

// ReportConfig parameterizes a multi-symbol risk report.
type ReportConfig struct {
	Cost        CostConfig
	InitialCash float64
	RefPrice    RefPriceFunc
	// Benchmark enables per-symbol alpha/beta regression when supplied.
	Benchmark     []Bar
	VaRConfidence float64
	// VolatilityWindow is the trailing number of returns used for the
	// annualized volatility figure.
	VolatilityWindow int
	// Workers caps the parallel per-symbol phase. Defaults to NumCPU.
	Workers int
}

func (c ReportConfig) varConfidence() float64 {
	if c.VaRConfidence > 0 && c.VaRConfidence < 1 {
		return c.VaRConfidence
	}
	return DefaultVaRConfidence
}

func (c ReportConfig) volatilityWindow() int {
	if c.VolatilityWindow > 0 {
		return c.VolatilityWindow
	}
	return DefaultVolatilityWindow
}

func (c ReportConfig) workers(jobs int) int {
	n := c.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > jobs {
		n = jobs
	}
	if n < 1 {
		n = 1
	}
	return n
}

// SymbolSummary is the per-symbol block of a risk report.
type SymbolSummary struct {
	Symbol            string   `json:"symbol"`
	Sharpe            *float64 `json:"sharpe"`
	MaxDrawdown       float64  `json:"max_drawdown"`
	FinalEquity       float64  `json:"final_equity"`
	TotalCommission   float64  `json:"total_commission"`
	TotalSlippageCost float64  `json:"total_slippage_cost"`
	TotalNotional     float64  `json:"total_notional"`
	TotalTrades       int      `json:"total_trades"`
	AverageCostBps    float64  `json:"average_cost_bps"`
	UnfilledQty       float64  `json:"unfilled_qty"`
	Volatility        *float64 `json:"volatility"`
	Alpha             *float64 `json:"alpha"`
	Beta              *float64 `json:"beta"`
}

// SymbolFailure records a per-symbol data error without aborting siblings.
type SymbolFailure struct {
	Symbol string `json:"symbol"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// ReportAggregate holds the arithmetic reductions across symbols.
type ReportAggregate struct {
	Symbols           int      `json:"symbols"`
	AvgSharpe         *float64 `json:"avg_sharpe"`
	AvgMaxDrawdown    float64  `json:"avg_max_drawdown"`
	TotalCommission   float64  `json:"total_commission"`
	TotalSlippageCost float64  `json:"total_slippage_cost"`
	TotalNotional     float64  `json:"total_notional"`
	AvgCostBps        float64  `json:"avg_cost_bps"`
}

// RiskReport is the cross-symbol output: per-symbol summaries, failures,
// aggregates and portfolio-level historical VaR.
type RiskReport struct {
	Symbols       []SymbolSummary `json:"per_symbol"`
	Failures      []SymbolFailure `json:"failures,omitempty"`
	Aggregate     ReportAggregate `json:"aggregate"`
	PortfolioVaR  *float64        `json:"portfolio_var"`
	VaRConfidence float64         `json:"var_confidence"`

	// Results keeps the full per-symbol ledgers for exporters; omitted from
	// the serialized report.
	Results map[string]*BacktestResult `json:"-"`
}

type symbolOutcome struct {
	index  int
	result *BacktestResult
	err    error
}

// BuildRiskReport runs one backtest per symbol on a worker pool, waits for
// all of them, then computes the cross-symbol statistics. A DataError on one
// symbol is recorded as a failure; only a ConfigError (or an invalid
// benchmark) aborts the whole report.
func BuildRiskReport(runs []SymbolRun, cfg ReportConfig) (*RiskReport, error) {
	if err := cfg.Cost.Validate(); err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, &DataError{Symbol: "", Stage: "report", Reason: "no symbols requested"}
	}
	if cfg.Benchmark != nil {
		if err := validateBars("benchmark", cfg.Benchmark); err != nil {
			return nil, err
		}
	}

	runCfg := RunConfig{Cost: cfg.Cost, InitialCash: cfg.InitialCash, RefPrice: cfg.RefPrice}

	// Fan out: each symbol run is a pure function of its own inputs, so the
	// workers share nothing but the job channel.
	jobs := make(chan int, len(runs))
	outcomes := make(chan symbolOutcome, len(runs))

	var wg sync.WaitGroup
	for w := 0; w < cfg.workers(len(runs)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res, err := Run(runs[i].Symbol, runs[i].Bars, runs[i].Intents, runCfg)
				outcomes <- symbolOutcome{index: i, result: res, err: err}
			}
		}()
	}
	for i := range runs {
		jobs <- i
	}
	close(jobs)

	// Join: the reduction has no partial-result mode.
	wg.Wait()
	close(outcomes)

	collected := make([]symbolOutcome, 0, len(runs))
	for out := range outcomes {
		collected = append(collected, out)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].index < collected[j].index })

	report := &RiskReport{
		VaRConfidence: cfg.varConfidence(),
		Results:       make(map[string]*BacktestResult),
	}

	benchReturns := closeReturns(cfg.Benchmark)
	var returnSeries [][]float64
	for _, out := range collected {
		symbol := runs[out.index].Symbol
		if out.err != nil {
			report.Failures = append(report.Failures, toFailure(symbol, out.err))
			continue
		}
		res := out.result
		report.Results[symbol] = res

		returns := equityReturns(res.EquityCurve)
		returnSeries = append(returnSeries, returns)

		summary := SymbolSummary{
			Symbol:            symbol,
			Sharpe:            res.Sharpe,
			MaxDrawdown:       res.MaxDrawdown,
			FinalEquity:       res.FinalEquity,
			TotalCommission:   res.TotalCommission,
			TotalSlippageCost: res.TotalSlippageCost,
			TotalNotional:     res.TotalNotional,
			TotalTrades:       res.TotalTrades,
			AverageCostBps:    res.AverageCostBps,
			UnfilledQty:       res.UnfilledQty,
			Volatility:        annualizedVolatility(returns, cfg.volatilityWindow()),
		}
		if cfg.Benchmark != nil {
			summary.Alpha, summary.Beta = alphaBeta(returns, benchReturns)
		}
		report.Symbols = append(report.Symbols, summary)
	}

	if len(report.Symbols) == 0 {
		return nil, &DataError{Symbol: "", Stage: "report", Reason: "no successful symbol runs"}
	}

	report.PortfolioVaR = historicalVaR(poolReturns(returnSeries), report.VaRConfidence)
	report.Aggregate = aggregateSummaries(report.Symbols)
	return report, nil
}

func toFailure(symbol string, err error) SymbolFailure {
	if de, ok := err.(*DataError); ok {
		return SymbolFailure{Symbol: symbol, Stage: de.Stage, Reason: de.Reason}
	}
	return SymbolFailure{Symbol: symbol, Stage: "run", Reason: err.Error()}
}

// closeReturns computes period-over-period simple returns of a close series.
func closeReturns(bars []Bar) []float64 {
	var returns []float64
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		if prev == 0 {
			continue
		}
		returns = append(returns, bars[i].Close/prev-1)
	}
	return returns
}

// alphaBeta runs the OLS regression of strategy returns on benchmark
// returns: beta = Cov(rp,rb)/Var(rb), alpha = mean(rp) - beta*mean(rb).
// Series are aligned by period index from the start and truncated to the
// shorter length. Undefined (nil) with fewer than 2 aligned periods or a
// zero-variance benchmark.
func alphaBeta(rp, rb []float64) (alpha, beta *float64) {
	n := len(rp)
	if len(rb) < n {
		n = len(rb)
	}
	if n < 2 {
		return nil, nil
	}
	rp, rb = rp[:n], rb[:n]

	meanP, meanB := mean(rp), mean(rb)
	var cov, varB float64
	for i := 0; i < n; i++ {
		cov += (rp[i] - meanP) * (rb[i] - meanB)
		varB += (rb[i] - meanB) * (rb[i] - meanB)
	}
	if varB == 0 {
		return nil, nil
	}
	b := cov / varB
	return floatPtr(meanP - b*meanB), floatPtr(b)
}

// poolReturns merges per-symbol return series into one equal-weighted
// portfolio series: at each period index, the mean of the symbols that have
// an observation there.
func poolReturns(series [][]float64) []float64 {
	maxLen := 0
	for _, s := range series {
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}
	var pooled []float64
	for i := 0; i < maxLen; i++ {
		var sum float64
		var n int
		for _, s := range series {
			if i < len(s) {
				sum += s[i]
				n++
			}
		}
		if n > 0 {
			pooled = append(pooled, sum/float64(n))
		}
	}
	return pooled
}

// historicalVaR is the empirical-quantile loss estimate at the given
// confidence, reported as a positive number for a loss. Nil when there are
// no returns to rank.
func historicalVaR(returns []float64, confidence float64) *float64 {
	if len(returns) == 0 {
		return nil
	}
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int((1 - confidence) * float64(len(sorted)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return floatPtr(-sorted[idx])
}

func aggregateSummaries(symbols []SymbolSummary) ReportAggregate {
	agg := ReportAggregate{Symbols: len(symbols)}
	var sharpeSum float64
	var sharpeN int
	for _, s := range symbols {
		if s.Sharpe != nil {
			sharpeSum += *s.Sharpe
			sharpeN++
		}
		agg.AvgMaxDrawdown += s.MaxDrawdown
		agg.TotalCommission += s.TotalCommission
		agg.TotalSlippageCost += s.TotalSlippageCost
		agg.TotalNotional += s.TotalNotional
		agg.AvgCostBps += s.AverageCostBps
	}
	n := float64(len(symbols))
	agg.AvgMaxDrawdown /= n
	agg.AvgCostBps /= n
	if sharpeN > 0 {
		agg.AvgSharpe = floatPtr(sharpeSum / float64(sharpeN))
	}
	return agg
}

// AggregateExposure nets the intended quantity per symbol over a set of
// order intents, buys positive, sells negative.
func AggregateExposure(intents []OrderIntent) map[string]float64 {
	exposure := make(map[string]float64)
	for _, in := range intents {
		exposure[in.Symbol] += in.Side.direction() * in.Qty
	}
	return exposure
}

// FirstLastIntents generates the naive buy-and-hold intent pair used by the
// CLIs when no explicit instructions are supplied: BUY qty on the first bar,
// SELL qty on the last.
func FirstLastIntents(symbol string, bars []Bar, qty float64) ([]OrderIntent, error) {
	if len(bars) == 0 {
		return nil, &DataError{Symbol: symbol, Stage: "intents", Reason: "empty bar series"}
	}
	if qty <= 0 {
		return nil, fmt.Errorf("intent quantity must be positive, got %v", qty)
	}
	return []OrderIntent{
		{Symbol: symbol, Side: TradeSideBuy, Qty: qty, ArrivalTs: bars[0].Ts},
		{Symbol: symbol, Side: TradeSideSell, Qty: qty, ArrivalTs: bars[len(bars)-1].Ts},
	}, nil
}
