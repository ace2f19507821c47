package backtest

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"upbit-trading-engine/internal/folds"
	"upbit-trading-engine/internal/metrics"
)

// RunBuyHold runs the degenerate single-trade benchmark: enter at the fold's
// first trading open, exit at its last available minute, full allocation,
// fees on both sides.
func (e *Engine) RunBuyHold(ctx context.Context, foldNumber int, initialCapital decimal.Decimal) (*Response, error) {
	fold, err := folds.Get(foldNumber)
	if err != nil {
		return nil, validationf("invalid fold number %d", foldNumber)
	}
	if initialCapital.LessThanOrEqual(decimal.Zero) {
		return nil, validationf("initial capital must be positive")
	}

	entryCandle, err := e.candles.FindFirstAtOrAfter(ctx, e.market, fold.EntryTime())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve entry candle: %w", err)
	}
	exitCandle, err := e.candles.FindLastAtOrBefore(ctx, e.market, fold.CloseTime())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve exit candle: %w", err)
	}

	resp := &Response{
		Market:         e.market,
		Variant:        "BUY_AND_HOLD",
		FoldNumber:     foldNumber,
		Regime:         string(fold.Regime),
		PeriodStart:    fold.EntryTime(),
		PeriodEnd:      fold.CloseTime(),
		InitialCapital: initialCapital,
		FinalCapital:   initialCapital,
	}
	if entryCandle == nil || exitCandle == nil || !exitCandle.Timestamp.After(entryCandle.Timestamp) {
		// no candles in the fold: zero-trade response
		return resp, nil
	}

	entryPrice := entryCandle.Open
	exitPrice := exitCandle.Close

	positionSize := initialCapital.RoundDown(2)
	entryFee := positionSize.Mul(e.feeRate).RoundUp(2)
	quantity := positionSize.Sub(entryFee).Div(entryPrice).RoundDown(8)

	proceeds := quantity.Mul(exitPrice)
	exitFee := proceeds.Mul(e.feeRate).RoundUp(2)
	profit := proceeds.Sub(exitFee).Sub(positionSize)
	returnPct := profit.Div(positionSize).Mul(decimal.NewFromInt(100)).Round(4)

	trade := Trade{
		Market:          e.market,
		EntryTime:       entryCandle.Timestamp,
		EntryPrice:      entryPrice,
		ExitTime:        exitCandle.Timestamp,
		ExitPrice:       exitPrice,
		PositionSize:    positionSize,
		Quantity:        quantity,
		InvestmentRatio: 1.0,
		EntryFee:        entryFee,
		Profit:          profit,
		ReturnPct:       returnPct,
		CapitalAfter:    initialCapital.Add(profit),
		ExitReason:      ReasonEndOfPeriod,
		HoldingDays:     exitCandle.Timestamp.Sub(entryCandle.Timestamp).Hours() / 24,
	}

	metrics.BacktestsRun.WithLabelValues("buy_and_hold").Inc()

	resp.FinalCapital = trade.CapitalAfter
	resp.Trades = []Trade{trade}
	resp.Stats = ComputeStats(resp.Trades, initialCapital)
	return resp, nil
}
