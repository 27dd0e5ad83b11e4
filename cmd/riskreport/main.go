// Package main builds a multi-symbol risk report from the command line.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"

	"backtest-cost-engine/services/clickhouse"
	"backtest-cost-engine/services/config"
	"backtest-cost-engine/services/engine"
)

const timeLayout = "2006-01-02 15:04:05"

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func parseMs(s string) uint64 {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		fatalf("invalid time %q: %v", s, err)
	}
	return uint64(t.UTC().UnixMilli())
}

// runsFile is the JSON input shape for -runs.
type runsFile struct {
	Runs []struct {
		Symbol  string               `json:"symbol"`
		Bars    []engine.Bar         `json:"bars"`
		Intents []engine.OrderIntent `json:"intents"`
	} `json:"runs"`
	Benchmark []engine.Bar `json:"benchmark"`
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	symbols := flag.String("symbols", "", "comma-separated symbols to load from ClickHouse")
	interval := flag.String("interval", "", "bar interval (defaults to config)")
	from := flag.String("from", "2020-09-01 00:00:00", "start UTC (YYYY-MM-DD HH:MM:SS)")
	to := flag.String("to", "2024-10-01 00:00:00", "end UTC (YYYY-MM-DD HH:MM:SS)")
	benchmark := flag.String("benchmark", "", "benchmark symbol for alpha/beta regression")
	runsPath := flag.String("runs", "", "path to JSON runs file; if set, skip ClickHouse")
	qty := flag.Float64("qty", 0, "order quantity for generated intents (defaults to config)")
	asJSON := flag.Bool("json", false, "emit the full report as JSON")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	cost, err := cfg.CostConfig()
	if err != nil {
		fatalf("%v", err)
	}

	var runs []engine.SymbolRun
	var bench []engine.Bar

	if *runsPath != "" {
		data, err := os.ReadFile(*runsPath)
		if err != nil {
			fatalf("read %s: %v", *runsPath, err)
		}
		var rf runsFile
		if err := json.Unmarshal(data, &rf); err != nil {
			fatalf("parse %s: %v", *runsPath, err)
		}
		for _, r := range rf.Runs {
			runs = append(runs, engine.SymbolRun{Symbol: r.Symbol, Bars: r.Bars, Intents: r.Intents})
		}
		bench = rf.Benchmark
	} else {
		if *symbols == "" {
			fatalf("either -runs or -symbols is required")
		}
		iv := *interval
		if iv == "" {
			iv = cfg.Backtest.Interval
		}
		orderQty := *qty
		if orderQty <= 0 {
			orderQty = cfg.Backtest.OrderQty
		}
		fromMs, toMs := parseMs(*from), parseMs(*to)

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		store, err := clickhouse.NewClient(ctx, cfg.ClickHouse, zap.NewNop())
		if err != nil {
			fatalf("connect clickhouse: %v", err)
		}
		defer store.Close()

		for _, sym := range strings.Split(*symbols, ",") {
			sym = strings.TrimSpace(sym)
			if sym == "" {
				continue
			}
			bars, err := store.LoadEngineBars(ctx, sym, iv, fromMs, toMs)
			if err != nil {
				fatalf("load bars for %s: %v", sym, err)
			}
			intents, err := engine.FirstLastIntents(sym, bars, orderQty)
			if err != nil {
				fatalf("intents for %s: %v", sym, err)
			}
			runs = append(runs, engine.SymbolRun{Symbol: sym, Bars: bars, Intents: intents})
		}
		if *benchmark != "" {
			bench, err = store.LoadEngineBars(ctx, *benchmark, iv, fromMs, toMs)
			if err != nil {
				fatalf("load benchmark %s: %v", *benchmark, err)
			}
		}
	}

	report, err := engine.BuildRiskReport(runs, engine.ReportConfig{
		Cost:             cost,
		InitialCash:      cfg.Backtest.InitialCash,
		Benchmark:        bench,
		VaRConfidence:    cfg.Risk.VaRConfidence,
		VolatilityWindow: cfg.Risk.VolatilityWindow,
		Workers:          cfg.Risk.Workers,
	})
	if err != nil {
		fatalf("risk report: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fatalf("encode report: %v", err)
		}
		return
	}

	printReport(report)
}

func printReport(report *engine.RiskReport) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Symbol", "Sharpe", "MaxDD", "FinalEq", "Comm", "Slip", "CostBps", "Vol", "Alpha", "Beta")

	for _, s := range report.Symbols {
		table.Append(
			s.Symbol,
			optLabel(s.Sharpe, "%.4f"),
			fmt.Sprintf("%.2f%%", s.MaxDrawdown*100),
			fmt.Sprintf("%.2f", s.FinalEquity),
			fmt.Sprintf("%.2f", s.TotalCommission),
			fmt.Sprintf("%.2f", s.TotalSlippageCost),
			fmt.Sprintf("%.2f", s.AverageCostBps),
			optLabel(s.Volatility, "%.4f"),
			optLabel(s.Alpha, "%.5f"),
			optLabel(s.Beta, "%.4f"),
		)
	}
	table.Render()

	agg := report.Aggregate
	fmt.Printf("\nSymbols:         %d\n", agg.Symbols)
	fmt.Printf("Avg Sharpe:      %s\n", optLabel(agg.AvgSharpe, "%.4f"))
	fmt.Printf("Avg drawdown:    %.2f%%\n", agg.AvgMaxDrawdown*100)
	fmt.Printf("Commission:      %.2f\n", agg.TotalCommission)
	fmt.Printf("Slippage cost:   %.2f\n", agg.TotalSlippageCost)
	fmt.Printf("Avg cost (bps):  %.2f\n", agg.AvgCostBps)
	fmt.Printf("Portfolio VaR:   %s (q=%.2f)\n", optLabel(report.PortfolioVaR, "%.4f"), report.VaRConfidence)

	if len(report.Failures) > 0 {
		fmt.Printf("\nFailures:\n")
		for _, f := range report.Failures {
			fmt.Printf("  %s [%s]: %s\n", f.Symbol, f.Stage, f.Reason)
		}
	}
}

func optLabel(v *float64, format string) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf(format, *v)
}
