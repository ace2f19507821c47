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

// Simulator runs one signal at a time against the minute-candle store. All
// money arithmetic is decimal; rounding follows the engine's contract:
// position size floor to 2 decimals, fees ceil to 2 decimals, base-asset
// quantity floor to 8 decimals.
type Simulator struct {
	candles     CandleSource
	market      string
	feeRate     decimal.Decimal
	holdingDays int
}

func NewSimulator(candles CandleSource, market string, feeRate decimal.Decimal, holdingDays int) *Simulator {
	return &Simulator{
		candles:     candles,
		market:      market,
		feeRate:     feeRate,
		holdingDays: holdingDays,
	}
}

// Signal is the simulator's input: where to try to enter and at what levels
// to exit, plus the model quantities the sizer needs.
type Signal struct {
	EntryTarget time.Time // earliest admissible entry time
	TakeProfit  decimal.Decimal
	StopLoss    decimal.Decimal
	ProbaUp     float64
	Confidence  float64
	ModelName   string
}

var one = decimal.NewFromInt(1)

func skip(reason string) Outcome {
	metrics.SignalsSkipped.WithLabelValues(reason).Inc()
	return Outcome{SkipReason: reason}
}

// buildPosition sizes the position for an already-resolved entry candle.
// Returns a skip outcome when the signal cannot be traded.
func (s *Simulator) buildPosition(entryCandle *database.Candle, fraction float64, capital decimal.Decimal) (*position, Outcome) {
	if fraction <= 0 {
		return nil, skip("zero_position_fraction")
	}

	positionSize := capital.Mul(decimal.NewFromFloat(fraction)).RoundDown(2)
	if positionSize.LessThan(one) {
		return nil, skip("position_below_minimum")
	}
	entryPrice := entryCandle.Open
	entryFee := positionSize.Mul(s.feeRate).RoundUp(2)
	quantity := positionSize.Sub(entryFee).Div(entryPrice).RoundDown(8)

	return &position{
		entryTime:    entryCandle.Timestamp,
		entryPrice:   entryPrice,
		positionSize: positionSize,
		entryFee:     entryFee,
		quantity:     quantity,
		fraction:     fraction,
	}, Outcome{}
}

type position struct {
	entryTime    time.Time
	entryPrice   decimal.Decimal
	positionSize decimal.Decimal
	entryFee     decimal.Decimal
	quantity     decimal.Decimal
	fraction     float64
}

// exitDecision is what one candle implies for a single-exit position.
type exitDecision struct {
	exit   bool
	price  decimal.Decimal
	reason string
}

// decideExit applies the TP/SL hit rules for one candle. On the entry candle a
// both-hit tie is broken by close vs entry price; on later candles by close vs
// the candle's own open.
func decideExit(c database.Candle, entryCandle bool, entryPrice, tp, sl decimal.Decimal) exitDecision {
	hitTP := c.High.GreaterThanOrEqual(tp)
	hitSL := c.Low.LessThanOrEqual(sl)

	switch {
	case hitTP && hitSL:
		ref := c.Open
		if entryCandle {
			ref = entryPrice
		}
		if c.Close.GreaterThanOrEqual(ref) {
			return exitDecision{exit: true, price: tp, reason: ReasonTakeProfit}
		}
		return exitDecision{exit: true, price: sl, reason: ReasonStopLoss}
	case hitTP:
		return exitDecision{exit: true, price: tp, reason: ReasonTakeProfit}
	case hitSL:
		return exitDecision{exit: true, price: sl, reason: ReasonStopLoss}
	}
	return exitDecision{}
}

// SimulateSingle runs the single-exit simulation for one signal.
func (s *Simulator) SimulateSingle(ctx context.Context, sig Signal, sizer sizing.PositionSizer, capital decimal.Decimal) (Outcome, error) {
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
	windowEnd := entryCandle.Timestamp.AddDate(0, 0, s.holdingDays)
	return s.runSingleExit(ctx, sig, entryCandle, fraction, capital, windowEnd)
}

// runSingleExit walks the candle stream from the entry candle and closes the
// whole position on the first TP/SL hit, or times out at the window end.
func (s *Simulator) runSingleExit(ctx context.Context, sig Signal, entryCandle *database.Candle, fraction float64, capital decimal.Decimal, windowEnd time.Time) (Outcome, error) {
	pos, skipped := s.buildPosition(entryCandle, fraction, capital)
	if pos == nil {
		return skipped, nil
	}

	stream, err := s.candles.StreamRange(ctx, s.market, pos.entryTime, windowEnd)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to open candle stream: %w", err)
	}
	defer stream.Close()

	var (
		seen      int
		lastClose decimal.Decimal
		lastTime  time.Time
		exitPrice decimal.Decimal
		exitTime  time.Time
		reason    string
	)

	for stream.Next() {
		c := stream.Candle()
		seen++
		lastClose = c.Close
		lastTime = c.Timestamp

		d := decideExit(c, seen == 1, pos.entryPrice, sig.TakeProfit, sig.StopLoss)
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

	trade := s.settle(sig, pos, exitTime, exitPrice, reason, capital)
	metrics.TradesSimulated.WithLabelValues(reason).Inc()
	return Outcome{Trade: &trade}, nil
}

// settle computes fees, profit and the resulting trade record for a
// single-exit close.
func (s *Simulator) settle(sig Signal, pos *position, exitTime time.Time, exitPrice decimal.Decimal, reason string, capital decimal.Decimal) Trade {
	proceeds := pos.quantity.Mul(exitPrice)
	exitFee := proceeds.Mul(s.feeRate).RoundUp(2)
	profit := proceeds.Sub(exitFee).Sub(pos.positionSize)
	returnPct := profit.Div(pos.positionSize).Mul(decimal.NewFromInt(100)).Round(4)

	return Trade{
		Market:          s.market,
		EntryTime:       pos.entryTime,
		EntryPrice:      pos.entryPrice,
		ExitTime:        exitTime,
		ExitPrice:       exitPrice,
		TakeProfitPrice: sig.TakeProfit,
		StopLossPrice:   sig.StopLoss,
		PositionSize:    pos.positionSize,
		Quantity:        pos.quantity,
		InvestmentRatio: pos.fraction,
		EntryFee:        pos.entryFee,
		Profit:          profit,
		ReturnPct:       returnPct,
		CapitalAfter:    capital.Add(profit),
		ExitReason:      reason,
		HoldingDays:     exitTime.Sub(pos.entryTime).Hours() / 24,
		ModelName:       sig.ModelName,
		Confidence:      sig.Confidence,
	}
}
