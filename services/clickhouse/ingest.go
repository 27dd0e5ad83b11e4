package clickhouse

// Kline ingestion with dedup-safe batch inserts.

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Kline is one raw candle on its way into the store. Decimal fields preserve
// the exact values of the source feed until insertion.
type Kline struct {
	OpenTimeMs  uint64
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	QuoteVolume decimal.Decimal
	Trades      uint64
	CloseTimeMs uint64
}

// InsertKlines batch-inserts klines for one symbol/interval. The insert is
// deduplicated server-side, so replaying a source file is safe.
func (c *Client) InsertKlines(ctx context.Context, symbol, interval string, klines []Kline) error {
	if len(klines) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx,
		fmt.Sprintf(`INSERT INTO %s.%s SETTINGS insert_deduplicate=1`, c.cfg.Database, c.cfg.Table))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	now := time.Now().UTC()
	ver := uint64(now.UnixNano()) // same for the whole batch; ReplacingMergeTree keeps last

	for _, k := range klines {
		if err := batch.Append(
			symbol, interval,
			k.OpenTimeMs,
			k.Open.InexactFloat64(),
			k.High.InexactFloat64(),
			k.Low.InexactFloat64(),
			k.Close.InexactFloat64(),
			k.Volume.InexactFloat64(),
			k.QuoteVolume.InexactFloat64(),
			k.Trades,
			k.CloseTimeMs,
			now,
			ver,
		); err != nil {
			return fmt.Errorf("batch append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("batch send: %w", err)
	}

	c.logger.Info("inserted klines",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("rows", len(klines)),
	)
	return nil
}
