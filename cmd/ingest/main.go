// Package main loads Binance-format kline CSV files into ClickHouse.
package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"backtest-cost-engine/services/clickhouse"
	"backtest-cost-engine/services/config"
)

const insertChunk = 10_000

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	symbol := flag.String("symbol", "", "trading symbol for the ingested rows")
	interval := flag.String("interval", "1m", "bar interval of the source file")
	flag.Parse()

	if *symbol == "" {
		fatalf("-symbol is required")
	}
	if flag.NArg() == 0 {
		fatalf("usage: ingest -symbol SYM [-interval 1m] file.csv [file.csv ...]")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	store, err := clickhouse.NewClient(ctx, cfg.ClickHouse, logger)
	if err != nil {
		fatalf("connect clickhouse: %v", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		fatalf("ensure schema: %v", err)
	}

	start := time.Now()
	var total int
	for _, path := range flag.Args() {
		n, err := ingestFile(ctx, store, *symbol, *interval, path)
		if err != nil {
			// Non-fatal: continue with remaining files.
			logger.Warn("ingest failed", zap.String("file", path), zap.Error(err))
			continue
		}
		total += n
	}

	logger.Info("ingestion done",
		zap.String("symbol", *symbol),
		zap.String("interval", *interval),
		zap.Int("rows", total),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// ingestFile streams one Binance kline CSV into the store in chunks.
// Columns: 0 open time(ms), 1 open, 2 high, 3 low, 4 close, 5 volume,
// 6 close time(ms), 7 quote volume, 8 trades, 9 taker base, 10 taker quote,
// 11 ignore.
func ingestFile(ctx context.Context, store *clickhouse.Client, symbol, interval, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	reader := csv.NewReader(bufio.NewReader(f))
	reader.FieldsPerRecord = -1

	var (
		chunk []clickhouse.Kline
		total int
	)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := store.InsertKlines(ctx, symbol, interval, chunk); err != nil {
			return err
		}
		total += len(chunk)
		chunk = chunk[:0]
		return nil
	}

	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, fmt.Errorf("csv read: %w", err)
		}
		if len(rec) < 9 {
			continue
		}
		k, err := parseKline(rec)
		if err != nil {
			// Header row or malformed line.
			continue
		}
		chunk = append(chunk, k)
		if len(chunk) >= insertChunk {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	return total, flush()
}

func parseKline(rec []string) (clickhouse.Kline, error) {
	openMs, err := strconv.ParseUint(rec[0], 10, 64)
	if err != nil {
		return clickhouse.Kline{}, err
	}
	closeMs, err := strconv.ParseUint(rec[6], 10, 64)
	if err != nil {
		return clickhouse.Kline{}, err
	}
	trades, err := strconv.ParseUint(rec[8], 10, 64)
	if err != nil {
		return clickhouse.Kline{}, err
	}

	prices := make([]decimal.Decimal, 6)
	for i, idx := range []int{1, 2, 3, 4, 5, 7} {
		d, err := decimal.NewFromString(rec[idx])
		if err != nil {
			return clickhouse.Kline{}, err
		}
		prices[i] = d
	}

	return clickhouse.Kline{
		OpenTimeMs:  openMs,
		Open:        prices[0],
		High:        prices[1],
		Low:         prices[2],
		Close:       prices[3],
		Volume:      prices[4],
		QuoteVolume: prices[5],
		Trades:      trades,
		CloseTimeMs: closeMs,
	}, nil
}
