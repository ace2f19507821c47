package backtest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-engine/internal/database"
	"upbit-trading-engine/internal/folds"
	"upbit-trading-engine/internal/sizing"
)

// fakeCandleSource serves candles from an in-memory ascending slice.
type fakeCandleSource struct {
	candles []database.Candle

	// entryOverride, when set, is returned by FindFirstAtOrAfter regardless
	// of the slice contents.
	entryOverride *database.Candle
}

func (f *fakeCandleSource) FindFirstAtOrAfter(ctx context.Context, market string, t time.Time) (*database.Candle, error) {
	if f.entryOverride != nil {
		c := *f.entryOverride
		return &c, nil
	}
	for _, c := range f.candles {
		if !c.Timestamp.Before(t) {
			out := c
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeCandleSource) FindLastAtOrBefore(ctx context.Context, market string, t time.Time) (*database.Candle, error) {
	for i := len(f.candles) - 1; i >= 0; i-- {
		if !f.candles[i].Timestamp.After(t) {
			out := f.candles[i]
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeCandleSource) FindRange(ctx context.Context, market string, start, end time.Time) ([]database.Candle, error) {
	var out []database.Candle
	for _, c := range f.candles {
		if !c.Timestamp.Before(start) && c.Timestamp.Before(end) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCandleSource) StreamRange(ctx context.Context, market string, start, end time.Time) (database.CandleIterator, error) {
	candles, _ := f.FindRange(ctx, market, start, end)
	return &sliceIterator{candles: candles}, nil
}

type sliceIterator struct {
	candles []database.Candle
	pos     int
	current database.Candle
	closed  bool
}

func (it *sliceIterator) Next() bool {
	if it.closed || it.pos >= len(it.candles) {
		return false
	}
	it.current = it.candles[it.pos]
	it.pos++
	return true
}

func (it *sliceIterator) Candle() database.Candle { return it.current }
func (it *sliceIterator) Err() error              { return nil }
func (it *sliceIterator) Close()                  { it.closed = true }

// fakePredictionSource returns a fixed prediction list and records the query.
type fakePredictionSource struct {
	preds     []database.Prediction
	gotFold   int
	gotModel  string
	gotMarket string
}

func (f *fakePredictionSource) FindByFoldModel(ctx context.Context, market string, foldNumber int, modelName string) ([]database.Prediction, error) {
	f.gotMarket = market
	f.gotFold = foldNumber
	f.gotModel = modelName
	return f.preds, nil
}

// stubSizer returns a constant fraction.
type stubSizer struct{ f float64 }

func (s stubSizer) Fraction(sizing.Inputs) float64 { return s.f }

func kstTime(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, folds.KST)
}

func candleAt(ts time.Time, open, high, low, close float64) database.Candle {
	return database.Candle{
		Market:    "KRW-ETH",
		Timestamp: ts,
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromInt(1),
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
