// Package main runs a single-symbol backtest from the command line.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

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

func loadJSON[T any](path string) []T {
	data, err := os.ReadFile(path)
	if err != nil {
		fatalf("read %s: %v", path, err)
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		fatalf("parse %s: %v", path, err)
	}
	return out
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	symbol := flag.String("symbol", "BTCUSDT", "trading symbol")
	interval := flag.String("interval", "", "bar interval (defaults to config)")
	from := flag.String("from", "2020-09-01 00:00:00", "start UTC (YYYY-MM-DD HH:MM:SS)")
	to := flag.String("to", "2024-10-01 00:00:00", "end UTC (YYYY-MM-DD HH:MM:SS)")
	barsPath := flag.String("bars", "", "path to JSON bars file; if set, skip ClickHouse")
	intentsPath := flag.String("intents", "", "path to JSON order intents file")
	qty := flag.Float64("qty", 0, "order quantity for generated intents (defaults to config)")
	asJSON := flag.Bool("json", false, "emit the full result as JSON")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	cost, err := cfg.CostConfig()
	if err != nil {
		fatalf("%v", err)
	}

	var bars []engine.Bar
	if *barsPath != "" {
		bars = loadJSON[engine.Bar](*barsPath)
	} else {
		iv := *interval
		if iv == "" {
			iv = cfg.Backtest.Interval
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		store, err := clickhouse.NewClient(ctx, cfg.ClickHouse, zap.NewNop())
		if err != nil {
			fatalf("connect clickhouse: %v", err)
		}
		defer store.Close()
		bars, err = store.LoadEngineBars(ctx, *symbol, iv, parseMs(*from), parseMs(*to))
		if err != nil {
			fatalf("load bars: %v", err)
		}
	}

	var intents []engine.OrderIntent
	if *intentsPath != "" {
		intents = loadJSON[engine.OrderIntent](*intentsPath)
	} else {
		orderQty := *qty
		if orderQty <= 0 {
			orderQty = cfg.Backtest.OrderQty
		}
		intents, err = engine.FirstLastIntents(*symbol, bars, orderQty)
		if err != nil {
			fatalf("%v", err)
		}
	}

	result, err := engine.Run(*symbol, bars, intents, engine.RunConfig{
		Cost:        cost,
		InitialCash: cfg.Backtest.InitialCash,
	})
	if err != nil {
		fatalf("backtest: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fatalf("encode result: %v", err)
		}
		return
	}

	fmt.Printf("Symbol:          %s\n", result.Symbol)
	fmt.Printf("Bars:            %d\n", len(bars))
	fmt.Printf("Trades:          %d\n", result.TotalTrades)
	fmt.Printf("Final equity:    %.2f\n", result.FinalEquity)
	if result.Sharpe != nil {
		fmt.Printf("Sharpe:          %.4f\n", *result.Sharpe)
	} else {
		fmt.Printf("Sharpe:          n/a\n")
	}
	fmt.Printf("Max drawdown:    %.2f%%\n", result.MaxDrawdown*100)
	fmt.Printf("Commission:      %.2f\n", result.TotalCommission)
	fmt.Printf("Slippage cost:   %.2f\n", result.TotalSlippageCost)
	fmt.Printf("Avg cost (bps):  %.2f\n", result.AverageCostBps)
	fmt.Printf("Exposure peak:   %.2f\n", result.GrossExposurePeak)
	if result.UnfilledQty > 0 {
		fmt.Printf("Unfilled qty:    %.4f\n", result.UnfilledQty)
	}
}
