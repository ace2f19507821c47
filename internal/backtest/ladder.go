package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-engine/internal/database"
	"upbit-trading-engine/internal/metrics"
	"upbit-trading-engine/internal/sizing"
)

// profit-ladder levels, checked highest first; tranche ratios are fractions
// of the initial quantity
var ladderLevels = []struct {
	level     int
	returnMin float64
	ratio     float64
}{
	{3, 0.20, 0.40},
	{2, 0.10, 0.30},
	{1, 0.05, 0.30},
}

// time-decay steps, checked highest first
var decaySteps = []struct {
	level   int
	daysMin float64
	ratio   float64
}{
	{2, 7, 0.40},
	{1, 6, 0.20},
}

// ladderState tracks which ladder levels and decay steps have fired. Firing a
// higher level implicitly marks all lower levels fired.
type ladderState struct {
	ladderFired int // highest profit-ladder level fired
	decayFired  int // highest time-decay step fired
}

// SimulateLaddered runs the laddered-exit simulation: partial exits on profit
// thresholds and holding-time decay, full exits on TP/SL, a timeout for any
// residual quantity. At most one exit event fires per candle.
func (s *Simulator) SimulateLaddered(ctx context.Context, sig Signal, sizer sizing.PositionSizer, capital decimal.Decimal) (Outcome, error) {
	entryCandle, err := s.candles.FindFirstAtOrAfter(ctx, s.market, sig.EntryTarget)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to resolve entry candle: %w", err)
	}
	if entryCandle == nil {
		return skip("no_entry_candle"), nil
	}

	fraction := sizer.Fraction(sizing.Inputs{
		Entry:      entryCandle.Open,
		TakeProfit: sig.TakeProfit,
		StopLoss:   sig.StopLoss,
		ProbaUp:    sig.ProbaUp,
		Confidence: sig.Confidence,
	})
	pos, skipped := s.buildPosition(entryCandle, fraction, capital)
	if pos == nil {
		return skipped, nil
	}

	windowEnd := pos.entryTime.AddDate(0, 0, s.holdingDays)
	stream, err := s.candles.StreamRange(ctx, s.market, pos.entryTime, windowEnd)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to open candle stream: %w", err)
	}
	defer stream.Close()

	var (
		events    []ExitEvent
		state     ladderState
		remaining = pos.quantity
		lastClose decimal.Decimal
		lastTime  time.Time
		seen      int
	)

	for stream.Next() {
		c := stream.Candle()
		seen++
		lastClose = c.Close
		lastTime = c.Timestamp

		ev, terminal := s.nextLadderEvent(c, pos, sig.TakeProfit, sig.StopLoss, remaining, &state)
		if ev != nil {
			events = append(events, *ev)
			remaining = remaining.Sub(ev.Quantity)
		}
		if terminal || remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
	}
	if err := stream.Err(); err != nil {
		return Outcome{}, fmt.Errorf("candle stream failed: %w", err)
	}
	if seen == 0 {
		return skip("no_candles_in_window"), nil
	}

	if remaining.GreaterThan(decimal.Zero) {
		events = append(events, s.exitEvent(pos, remaining, lastClose, lastTime, ReasonTimeout))
	}

	trade := s.settleLaddered(sig, pos, events, capital)
	metrics.TradesSimulated.WithLabelValues(trade.ExitReason).Inc()
	return Outcome{Trade: &trade}, nil
}

// nextLadderEvent evaluates one candle against the exit priority order:
// stop-loss, take-profit, profit ladder, time decay. The returned terminal
// flag closes the whole position.
func (s *Simulator) nextLadderEvent(c database.Candle, pos *position, tp, sl, remaining decimal.Decimal, state *ladderState) (*ExitEvent, bool) {
	if c.Low.LessThanOrEqual(sl) {
		ev := s.exitEvent(pos, remaining, sl, c.Timestamp, ReasonStopLoss)
		return &ev, true
	}
	if c.High.GreaterThanOrEqual(tp) {
		ev := s.exitEvent(pos, remaining, tp, c.Timestamp, ReasonTakeProfit)
		return &ev, true
	}

	unrealised, _ := c.Close.Sub(pos.entryPrice).Div(pos.entryPrice).Float64()
	for _, lvl := range ladderLevels {
		if unrealised >= lvl.returnMin && state.ladderFired < lvl.level {
			state.ladderFired = lvl.level
			qty := s.trancheQuantity(pos, remaining, lvl.ratio)
			ev := s.exitEvent(pos, qty, c.Close, c.Timestamp, ReasonProfitLadder)
			return &ev, false
		}
	}

	days := c.Timestamp.Sub(pos.entryTime).Hours() / 24
	for _, step := range decaySteps {
		if days >= step.daysMin && state.decayFired < step.level {
			state.decayFired = step.level
			qty := s.trancheQuantity(pos, remaining, step.ratio)
			ev := s.exitEvent(pos, qty, c.Close, c.Timestamp, ReasonTimeDecay)
			return &ev, false
		}
	}
	return nil, false
}

// trancheQuantity sizes a partial exit as a fraction of the initial quantity,
// capped at what is still held.
func (s *Simulator) trancheQuantity(pos *position, remaining decimal.Decimal, ratio float64) decimal.Decimal {
	qty := pos.quantity.Mul(decimal.NewFromFloat(ratio)).RoundDown(8)
	if qty.GreaterThan(remaining) {
		return remaining
	}
	return qty
}

// exitEvent settles one partial exit. Event profit is gross of the entry fee,
// which is deducted once at the trade level.
func (s *Simulator) exitEvent(pos *position, qty, price decimal.Decimal, t time.Time, reason string) ExitEvent {
	proceeds := qty.Mul(price)
	exitFee := proceeds.Mul(s.feeRate).RoundUp(2)
	profit := proceeds.Sub(exitFee).Sub(qty.Mul(pos.entryPrice))
	ratio, _ := qty.Div(pos.quantity).Float64()

	return ExitEvent{
		Time:        t,
		Price:       price,
		Quantity:    qty,
		ExitRatio:   ratio,
		Profit:      profit,
		Reason:      reason,
		HoldingDays: t.Sub(pos.entryTime).Hours() / 24,
	}
}

// settleLaddered folds the event list into one trade record. Exit price is
// the quantity-weighted average; holding days the mean over events; the
// trade's exit reason is the last event's reason.
func (s *Simulator) settleLaddered(sig Signal, pos *position, events []ExitEvent, capital decimal.Decimal) Trade {
	profit := pos.entryFee.Neg()
	weighted := decimal.Zero
	soldQty := decimal.Zero
	holdingSum := 0.0

	for _, ev := range events {
		profit = profit.Add(ev.Profit)
		weighted = weighted.Add(ev.Price.Mul(ev.Quantity))
		soldQty = soldQty.Add(ev.Quantity)
		holdingSum += ev.HoldingDays
	}

	avgExit := decimal.Zero
	if soldQty.GreaterThan(decimal.Zero) {
		avgExit = weighted.Div(soldQty).Round(8)
	}
	holdingDays := 0.0
	if len(events) > 0 {
		holdingDays = holdingSum / float64(len(events))
	}

	last := events[len(events)-1]
	returnPct := profit.Div(pos.positionSize).Mul(decimal.NewFromInt(100)).Round(4)

	return Trade{
		Market:          s.market,
		EntryTime:       pos.entryTime,
		EntryPrice:      pos.entryPrice,
		ExitTime:        last.Time,
		ExitPrice:       avgExit,
		TakeProfitPrice: sig.TakeProfit,
		StopLossPrice:   sig.StopLoss,
		PositionSize:    pos.positionSize,
		Quantity:        pos.quantity,
		InvestmentRatio: pos.fraction,
		EntryFee:        pos.entryFee,
		Profit:          profit,
		ReturnPct:       returnPct,
		CapitalAfter:    capital.Add(profit),
		ExitReason:      last.Reason,
		HoldingDays:     holdingDays,
		ModelName:       sig.ModelName,
		Confidence:      sig.Confidence,
		ExitEvents:      events,
	}
}
