// Package clickhouse implements the ClickHouse-backed bar store that feeds
// the backtest engine.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"backtest-cost-engine/services/engine"
)

// Config holds the ClickHouse connection settings.
type Config struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Table    string `yaml:"table"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ApplyDefaults fills unset connection fields with local development values.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:9000"
	}
	if c.Database == "" {
		c.Database = "backtest"
	}
	if c.Table == "" {
		c.Table = "data"
	}
	if c.Username == "" {
		c.Username = "backtest"
	}
}

// Client wraps a native-protocol ClickHouse connection.
type Client struct {
	conn   driver.Conn
	cfg    Config
	logger *zap.Logger
}

// NewClient opens and pings a ClickHouse connection.
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := ch.Open(&ch.Options{
		Addr: []string{cfg.Addr},
		Auth: ch.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 10 * time.Second,
		Settings: ch.Settings{
			"max_execution_time": uint64(0),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	return &Client{conn: conn, cfg: cfg, logger: logger}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// EnsureSchema creates the database and the deduplicating kline table when
// missing. ReplacingMergeTree on (symbol, interval, open_time_ms) keeps
// re-ingestion idempotent.
func (c *Client) EnsureSchema(ctx context.Context) error {
	dbDDL := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", c.cfg.Database)
	if err := c.conn.Exec(ctx, dbDDL); err != nil {
		return fmt.Errorf("create database: %w", err)
	}

	tableDDL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			symbol String,
			interval LowCardinality(String),
			open_time_ms UInt64,
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			volume Float64,
			quote_volume Float64,
			trades UInt64,
			close_time_ms UInt64,
			ingested_at DateTime64(3),
			version UInt64
		)
		ENGINE = ReplacingMergeTree(version)
		ORDER BY (symbol, interval, open_time_ms)
		SETTINGS index_granularity = 8192
	`, c.cfg.Database, c.cfg.Table)
	return c.conn.Exec(ctx, tableDDL)
}

// Bar is a stored bar row. Prices stay decimal at the storage boundary and
// are converted to float64 only when handed to the engine.
type Bar struct {
	Symbol     string
	Timestamp  uint64
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     decimal.Decimal
	TradeCount uint64
}

// LoadBars returns the ordered bar series for one symbol and interval in
// [fromMs, toMs).
func (c *Client) LoadBars(ctx context.Context, symbol, interval string, fromMs, toMs uint64) ([]Bar, error) {
	query := fmt.Sprintf(`
		SELECT open_time_ms, open, high, low, close, volume, trades
		FROM %s.%s FINAL
		WHERE symbol = ? AND interval = ?
		  AND open_time_ms >= ? AND open_time_ms < ?
		ORDER BY open_time_ms
	`, c.cfg.Database, c.cfg.Table)

	rows, err := c.conn.Query(ctx, query, symbol, interval, fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("query bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []Bar
	for rows.Next() {
		var (
			ts                               uint64
			open, high, low, closePx, volume float64
			trades                           uint64
		)
		if err := rows.Scan(&ts, &open, &high, &low, &closePx, &volume, &trades); err != nil {
			return nil, fmt.Errorf("scan bar for %s: %w", symbol, err)
		}
		bars = append(bars, Bar{
			Symbol:     symbol,
			Timestamp:  ts,
			Open:       decimal.NewFromFloat(open),
			High:       decimal.NewFromFloat(high),
			Low:        decimal.NewFromFloat(low),
			Close:      decimal.NewFromFloat(closePx),
			Volume:     decimal.NewFromFloat(volume),
			TradeCount: trades,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bars for %s: %w", symbol, err)
	}

	c.logger.Debug("loaded bars",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("count", len(bars)),
	)
	return bars, nil
}

// LoadEngineBars loads and converts in one step.
func (c *Client) LoadEngineBars(ctx context.Context, symbol, interval string, fromMs, toMs uint64) ([]engine.Bar, error) {
	bars, err := c.LoadBars(ctx, symbol, interval, fromMs, toMs)
	if err != nil {
		return nil, err
	}
	return ToEngineBars(bars), nil
}

// ToEngineBars converts stored rows to the engine's float representation.
func ToEngineBars(rows []Bar) []engine.Bar {
	bars := make([]engine.Bar, len(rows))
	for i, r := range rows {
		bars[i] = engine.Bar{
			Ts:     r.Timestamp,
			Open:   r.Open.InexactFloat64(),
			High:   r.High.InexactFloat64(),
			Low:    r.Low.InexactFloat64(),
			Close:  r.Close.InexactFloat64(),
			Volume: r.Volume.InexactFloat64(),
		}
	}
	return bars
}
