package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upbit-trading-engine/internal/database"
	"upbit-trading-engine/internal/signals"
	"upbit-trading-engine/internal/sizing"
)

func newTestEngine(candles CandleSource, preds PredictionSource, feeRate string, holdingDays int) *Engine {
	return NewEngine(candles, preds, signals.NewCusumCache(""), "KRW-ETH", dec(feeRate), holdingDays)
}

func upPrediction(date time.Time, probaUp float64, tp, sl string) database.Prediction {
	return database.Prediction{
		Date:            date,
		PredDirection:   1,
		PredProbaUp:     probaUp,
		Confidence:      probaUp - 0.5,
		TakeProfitPrice: dec(tp),
		StopLossPrice:   dec(sl),
	}
}

func TestRunTPSLFixedThresholdBoundary(t *testing.T) {
	day := kstTime(2024, 1, 2, 0, 0)
	preds := &fakePredictionSource{preds: []database.Prediction{
		upPrediction(day, 0.6, "110", "95"),
		upPrediction(day.AddDate(0, 0, 1), 0.59, "110", "95"),
		{Date: day.AddDate(0, 0, 2), PredDirection: 0, PredProbaUp: 0.9},
	}}
	open := kstTime(2024, 1, 2, 9, 0)
	src := &fakeCandleSource{candles: []database.Candle{
		candleAt(open, 100, 105, 99, 101),
		candleAt(open.Add(time.Minute), 101, 111, 100, 110),
	}}
	engine := newTestEngine(src, preds, "0", 1)

	resp, err := engine.RunTPSL(context.Background(), TPSLRequest{
		FoldNumber:          5,
		ModelName:           "GRU",
		InitialCapital:      dec("1000000"),
		Threshold:           0.6,
		PositionSizePercent: 100,
	})
	require.NoError(t, err)

	// the 0.6 prediction meets the threshold inclusively; 0.59 does not,
	// and the down-direction prediction is never a candidate
	require.Len(t, resp.Trades, 1)
	assert.Equal(t, 0, resp.SkippedSignals)
	assert.Equal(t, 5, preds.gotFold)
	assert.Equal(t, "GRU", preds.gotModel)
	assert.Equal(t, "KRW-ETH", preds.gotMarket)

	trade := resp.Trades[0]
	assert.Equal(t, ReasonTakeProfit, trade.ExitReason)
	assert.True(t, trade.Profit.Equal(dec("100000")), "profit %s", trade.Profit)
	assert.True(t, resp.FinalCapital.Equal(dec("1100000")), "final %s", resp.FinalCapital)
	assert.Equal(t, "TP_SL", resp.Variant)
	assert.Equal(t, "BULL", resp.Regime)
}

func TestRunTPSLCapitalChains(t *testing.T) {
	day1 := kstTime(2024, 1, 2, 0, 0)
	day2 := kstTime(2024, 1, 10, 0, 0)
	preds := &fakePredictionSource{preds: []database.Prediction{
		upPrediction(day1, 0.9, "110", "95"),
		upPrediction(day2, 0.9, "110", "95"),
	}}
	open1 := kstTime(2024, 1, 2, 9, 0)
	open2 := kstTime(2024, 1, 10, 9, 0)
	src := &fakeCandleSource{candles: []database.Candle{
		candleAt(open1, 100, 105, 99, 101),
		candleAt(open1.Add(time.Minute), 101, 111, 100, 110),
		candleAt(open2, 100, 105, 99, 101),
		candleAt(open2.Add(time.Minute), 101, 111, 100, 110),
	}}
	engine := newTestEngine(src, preds, "0", 1)

	resp, err := engine.RunTPSL(context.Background(), TPSLRequest{
		FoldNumber:          5,
		ModelName:           "GRU",
		InitialCapital:      dec("1000000"),
		PositionSizePercent: 100,
	})
	require.NoError(t, err)
	require.Len(t, resp.Trades, 2)

	assert.True(t, resp.Trades[0].PositionSize.Equal(dec("1000000")))
	// the second trade is sized off the grown capital
	assert.True(t, resp.Trades[1].PositionSize.Equal(dec("1100000")),
		"second position %s", resp.Trades[1].PositionSize)
	assert.True(t, resp.FinalCapital.Equal(dec("1210000")), "final %s", resp.FinalCapital)
}

func TestRunTPSLSkipsOverlappingSignals(t *testing.T) {
	day1 := kstTime(2024, 1, 2, 0, 0)
	day2 := kstTime(2024, 1, 3, 0, 0)
	preds := &fakePredictionSource{preds: []database.Prediction{
		upPrediction(day1, 0.9, "110", "95"),
		upPrediction(day2, 0.9, "110", "95"),
	}}
	open1 := kstTime(2024, 1, 2, 9, 0)
	exitTS := kstTime(2024, 1, 3, 10, 0) // after day2's 09:00 open
	src := &fakeCandleSource{candles: []database.Candle{
		candleAt(open1, 100, 105, 99, 101),
		candleAt(exitTS, 101, 111, 100, 110),
	}}
	engine := newTestEngine(src, preds, "0", 2)

	resp, err := engine.RunTPSL(context.Background(), TPSLRequest{
		FoldNumber:          5,
		ModelName:           "GRU",
		InitialCapital:      dec("1000000"),
		PositionSizePercent: 100,
	})
	require.NoError(t, err)

	require.Len(t, resp.Trades, 1)
	assert.Equal(t, 1, resp.SkippedSignals)
	assert.True(t, resp.Trades[0].ExitTime.Equal(exitTS))
}

func TestRunTPSLQuantileThreshold(t *testing.T) {
	day := kstTime(2024, 1, 2, 0, 0)
	preds := &fakePredictionSource{preds: []database.Prediction{
		upPrediction(day, 0.5, "110", "95"),
		upPrediction(day.AddDate(0, 0, 1), 0.6, "110", "95"),
		upPrediction(day.AddDate(0, 0, 2), 0.7, "110", "95"),
		upPrediction(day.AddDate(0, 0, 3), 0.8, "110", "95"),
	}}
	// no candles: every selected signal skips, exposing the selection count
	engine := newTestEngine(&fakeCandleSource{}, preds, "0", 1)

	resp, err := engine.RunTPSL(context.Background(), TPSLRequest{
		FoldNumber:          5,
		ModelName:           "GRU",
		InitialCapital:      dec("1000000"),
		Threshold:           50,
		ThresholdMode:       ThresholdModeQuantile,
		PositionSizePercent: 100,
	})
	require.NoError(t, err)

	// median of {0.5, 0.6, 0.7, 0.8} interpolates to 0.65: two survivors
	assert.Empty(t, resp.Trades)
	assert.Equal(t, 2, resp.SkippedSignals)
	assert.True(t, resp.FinalCapital.Equal(dec("1000000")))
}

func TestRunTPSLEmptySelectionKeepsCapital(t *testing.T) {
	preds := &fakePredictionSource{preds: []database.Prediction{
		upPrediction(kstTime(2024, 1, 2, 0, 0), 0.55, "110", "95"),
	}}
	engine := newTestEngine(&fakeCandleSource{}, preds, "0", 1)

	resp, err := engine.RunTPSL(context.Background(), TPSLRequest{
		FoldNumber:     5,
		ModelName:      "GRU",
		InitialCapital: dec("1000000"),
		Threshold:      0.9,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Trades)
	assert.Equal(t, 0, resp.Stats.TotalTrades)
	assert.True(t, resp.FinalCapital.Equal(resp.InitialCapital))
}

func TestRunTPSLValidation(t *testing.T) {
	engine := newTestEngine(&fakeCandleSource{}, &fakePredictionSource{}, "0", 1)
	valid := TPSLRequest{
		FoldNumber:     1,
		ModelName:      "GRU",
		InitialCapital: dec("1000000"),
		Threshold:      0.5,
	}

	tests := []struct {
		name   string
		mutate func(*TPSLRequest)
	}{
		{"fold too low", func(r *TPSLRequest) { r.FoldNumber = 0 }},
		{"fold too high", func(r *TPSLRequest) { r.FoldNumber = 9 }},
		{"zero capital", func(r *TPSLRequest) { r.InitialCapital = dec("0") }},
		{"missing model", func(r *TPSLRequest) { r.ModelName = "" }},
		{"unknown column", func(r *TPSLRequest) { r.ThresholdColumn = "MAX_PROBA" }},
		{"unknown mode", func(r *TPSLRequest) { r.ThresholdMode = "ADAPTIVE" }},
		{"fixed threshold above 1", func(r *TPSLRequest) { r.Threshold = 1.5 }},
		{"confidence threshold above 0.5", func(r *TPSLRequest) {
			r.ThresholdColumn = ColumnConfidence
			r.Threshold = 0.6
		}},
		{"quantile above 100", func(r *TPSLRequest) {
			r.ThresholdMode = ThresholdModeQuantile
			r.Threshold = 101
		}},
		{"position percent above 100", func(r *TPSLRequest) { r.PositionSizePercent = 150 }},
		{"unknown sizing strategy", func(r *TPSLRequest) { r.SizingStrategy = "MARTINGALE" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := engine.RunTPSL(context.Background(), req)
			require.Error(t, err)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr), "want validation error, got %v", err)
		})
	}
}

func TestRunTPSLDefaultsToConservativeKelly(t *testing.T) {
	req := TPSLRequest{}
	req.normalise()
	assert.Equal(t, ColumnPredProbaUp, req.ThresholdColumn)
	assert.Equal(t, ThresholdModeFixed, req.ThresholdMode)
	assert.Equal(t, sizing.ConservativeKelly, req.SizingStrategy)
}

func TestRunCusumValidation(t *testing.T) {
	engine := newTestEngine(&fakeCandleSource{}, &fakePredictionSource{}, "0", 1)

	_, err := engine.RunCusum(context.Background(), CusumRequest{InitialCapital: dec("0")})
	var verr *ValidationError
	require.Error(t, err)
	assert.True(t, errors.As(err, &verr))

	_, err = engine.RunCusum(context.Background(), CusumRequest{InitialCapital: dec("1000"), FoldNumber: 9})
	require.Error(t, err)
	assert.True(t, errors.As(err, &verr))
}

func TestRunCusumEmptyCache(t *testing.T) {
	engine := newTestEngine(&fakeCandleSource{}, &fakePredictionSource{}, "0", 1)

	resp, err := engine.RunCusum(context.Background(), CusumRequest{
		InitialCapital: dec("1000000"),
		Strategy:       "cusum_5pct",
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Trades)
	assert.True(t, resp.FinalCapital.Equal(dec("1000000")))
	assert.Equal(t, "CUSUM", resp.Variant)
	assert.Zero(t, resp.Stats.WinRate)
}
