// Package arrowexport serializes backtest results to Apache Arrow IPC
// streams for downstream analysis tools.
package arrowexport

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"go.uber.org/zap"

	"backtest-cost-engine/services/engine"
)

// Exporter converts engine outputs to Arrow IPC byte streams.
type Exporter struct {
	pool   memory.Allocator
	logger *zap.Logger
}

// NewExporter creates an exporter. A nil logger is replaced with a no-op one.
func NewExporter(logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		pool:   memory.NewGoAllocator(),
		logger: logger,
	}
}

// TradesToArrow serializes the trade records of a result for one symbol.
func (e *Exporter) TradesToArrow(symbol string, result *engine.BacktestResult) ([]byte, error) {
	trades := result.Trades
	if len(trades) == 0 {
		return nil, fmt.Errorf("arrowexport: no trades to convert for %s", symbol)
	}

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "symbol", Type: arrow.BinaryTypes.String},
		{Name: "fill_ts", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "side", Type: arrow.BinaryTypes.String},
		{Name: "qty", Type: arrow.PrimitiveTypes.Float64},
		{Name: "ref_price", Type: arrow.PrimitiveTypes.Float64},
		{Name: "effective_price", Type: arrow.PrimitiveTypes.Float64},
		{Name: "commission", Type: arrow.PrimitiveTypes.Float64},
		{Name: "cum_participation", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	symbols := make([]string, len(trades))
	fillTs := make([]uint64, len(trades))
	sides := make([]string, len(trades))
	qtys := make([]float64, len(trades))
	refs := make([]float64, len(trades))
	effs := make([]float64, len(trades))
	commissions := make([]float64, len(trades))
	participations := make([]float64, len(trades))

	for i, tr := range trades {
		symbols[i] = symbol
		fillTs[i] = tr.Ts
		sides[i] = tr.Side.String()
		qtys[i] = tr.Qty
		refs[i] = tr.RefPrice
		effs[i] = tr.EffectivePrice
		commissions[i] = tr.Commission
		participations[i] = tr.CumParticipation
	}

	symbolBuilder := array.NewStringBuilder(e.pool)
	symbolBuilder.AppendValues(symbols, nil)
	symbolArray := symbolBuilder.NewStringArray()

	tsBuilder := array.NewUint64Builder(e.pool)
	tsBuilder.AppendValues(fillTs, nil)
	tsArray := tsBuilder.NewUint64Array()

	sideBuilder := array.NewStringBuilder(e.pool)
	sideBuilder.AppendValues(sides, nil)
	sideArray := sideBuilder.NewStringArray()

	qtyBuilder := array.NewFloat64Builder(e.pool)
	qtyBuilder.AppendValues(qtys, nil)
	qtyArray := qtyBuilder.NewFloat64Array()

	refBuilder := array.NewFloat64Builder(e.pool)
	refBuilder.AppendValues(refs, nil)
	refArray := refBuilder.NewFloat64Array()

	effBuilder := array.NewFloat64Builder(e.pool)
	effBuilder.AppendValues(effs, nil)
	effArray := effBuilder.NewFloat64Array()

	commissionBuilder := array.NewFloat64Builder(e.pool)
	commissionBuilder.AppendValues(commissions, nil)
	commissionArray := commissionBuilder.NewFloat64Array()

	participationBuilder := array.NewFloat64Builder(e.pool)
	participationBuilder.AppendValues(participations, nil)
	participationArray := participationBuilder.NewFloat64Array()

	record := array.NewRecord(schema, []arrow.Array{
		symbolArray,
		tsArray,
		sideArray,
		qtyArray,
		refArray,
		effArray,
		commissionArray,
		participationArray,
	}, int64(len(trades)))
	defer record.Release()

	return e.writeIPC(schema, record)
}

// EquityToArrow serializes the equity curve of a result.
func (e *Exporter) EquityToArrow(symbol string, result *engine.BacktestResult) ([]byte, error) {
	curve := result.EquityCurve
	if len(curve) == 0 {
		return nil, fmt.Errorf("arrowexport: empty equity curve for %s", symbol)
	}

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "symbol", Type: arrow.BinaryTypes.String},
		{Name: "ts", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "equity", Type: arrow.PrimitiveTypes.Float64},
		{Name: "gross_exposure", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	symbols := make([]string, len(curve))
	ts := make([]uint64, len(curve))
	equities := make([]float64, len(curve))
	exposures := make([]float64, len(curve))

	for i, pt := range curve {
		symbols[i] = symbol
		ts[i] = pt.Ts
		equities[i] = pt.Equity
		exposures[i] = pt.GrossExposure
	}

	symbolBuilder := array.NewStringBuilder(e.pool)
	symbolBuilder.AppendValues(symbols, nil)
	symbolArray := symbolBuilder.NewStringArray()

	tsBuilder := array.NewUint64Builder(e.pool)
	tsBuilder.AppendValues(ts, nil)
	tsArray := tsBuilder.NewUint64Array()

	equityBuilder := array.NewFloat64Builder(e.pool)
	equityBuilder.AppendValues(equities, nil)
	equityArray := equityBuilder.NewFloat64Array()

	exposureBuilder := array.NewFloat64Builder(e.pool)
	exposureBuilder.AppendValues(exposures, nil)
	exposureArray := exposureBuilder.NewFloat64Array()

	record := array.NewRecord(schema, []arrow.Array{
		symbolArray,
		tsArray,
		equityArray,
		exposureArray,
	}, int64(len(curve)))
	defer record.Release()

	return e.writeIPC(schema, record)
}

func (e *Exporter) writeIPC(schema *arrow.Schema, record arrow.Record) ([]byte, error) {
	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(schema))

	if err := writer.Write(record); err != nil {
		writer.Close()
		return nil, fmt.Errorf("arrowexport: write record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("arrowexport: close writer: %w", err)
	}

	e.logger.Debug("serialized arrow record",
		zap.Int64("rows", record.NumRows()),
		zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}
