package backtest

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"upbit-trading-engine/internal/metrics"
	"upbit-trading-engine/internal/signals"
)

// fallback investment weight when a signal row carries none
const defaultCusumWeight = 0.8

// SimulateCusum runs the single-exit simulation for one CUSUM BUY signal.
// The CSV's TP/SL are quoted against a reference price; both are re-scaled to
// the actually resolved entry, and the window runs to the signal's explicit
// expiration instead of a fixed holding period.
func (s *Simulator) SimulateCusum(ctx context.Context, sig signals.CusumSignal, capital decimal.Decimal) (Outcome, error) {
	entryCandle, err := s.candles.FindFirstAtOrAfter(ctx, s.market, sig.SignalTime)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to resolve entry candle: %w", err)
	}
	if entryCandle == nil {
		return skip("no_entry_candle"), nil
	}
	if sig.EntryPriceRef.LessThanOrEqual(decimal.Zero) {
		return skip("invalid_reference_price"), nil
	}

	entryPrice := entryCandle.Open
	tp := entryPrice.Mul(sig.TakeProfitPrice).Div(sig.EntryPriceRef)
	sl := entryPrice.Mul(sig.StopLossPrice).Div(sig.EntryPriceRef)

	weight := sig.SuggestedWeight
	if weight <= 0 {
		weight = defaultCusumWeight
	}
	pos, skipped := s.buildPosition(entryCandle, weight, capital)
	if pos == nil {
		return skipped, nil
	}

	stream, err := s.candles.StreamRange(ctx, s.market, pos.entryTime, sig.ExpirationTime)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to open candle stream: %w", err)
	}
	defer stream.Close()

	var (
		seen      int
		lastClose decimal.Decimal
		exitPrice decimal.Decimal
		reason    string
	)
	lastTime := pos.entryTime
	exitTime := pos.entryTime

	for stream.Next() {
		c := stream.Candle()
		seen++
		lastClose = c.Close
		lastTime = c.Timestamp

		d := decideExit(c, seen == 1, pos.entryPrice, tp, sl)
		if d.exit {
			exitPrice = d.price
			exitTime = c.Timestamp
			reason = d.reason
			break
		}
	}
	if err := stream.Err(); err != nil {
		return Outcome{}, fmt.Errorf("candle stream failed: %w", err)
	}
	if seen == 0 {
		return skip("no_candles_in_window"), nil
	}
	if reason == "" {
		reason = ReasonTimeout
		exitPrice = lastClose
		exitTime = lastTime
	}

	trade := s.settle(Signal{
		TakeProfit: tp,
		StopLoss:   sl,
		Confidence: sig.Confidence,
		ModelName:  sig.Model,
	}, pos, exitTime, exitPrice, reason, capital)
	trade.Strategy = sig.Strategy
	trade.SelectivityPct = sig.SelectivityPct
	trade.Threshold = sig.Threshold

	metrics.TradesSimulated.WithLabelValues(reason).Inc()
	return Outcome{Trade: &trade}, nil
}
