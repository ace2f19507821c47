package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-engine/internal/folds"
	"upbit-trading-engine/internal/indicators"
	"upbit-trading-engine/internal/metrics"
)

// rule-based strategy parameters
const (
	ruleBasedFraction    = 0.8
	ruleBasedVolumeK     = 1.2
	ruleBasedStopPct     = 0.95
	ruleBasedWarmupDays  = 30
	ruleBasedTrendPeriod = 20
	ruleBasedSlowPeriod  = 50
)

// RunRuleBased executes the indicator-driven backtest: entries on a 4-hour
// trend/volume filter, exits on EMA cross or a fixed 5% stop.
func (e *Engine) RunRuleBased(ctx context.Context, foldNumber int, initialCapital decimal.Decimal) (*Response, error) {
	fold, err := folds.Get(foldNumber)
	if err != nil {
		return nil, validationf("invalid fold number %d", foldNumber)
	}
	if initialCapital.LessThanOrEqual(decimal.Zero) {
		return nil, validationf("initial capital must be positive")
	}

	// 30 days of warmup so the slow SMA is defined at the fold start
	loadStart := fold.StartDate.AddDate(0, 0, -ruleBasedWarmupDays)
	loadEnd := fold.EndDate.AddDate(0, 0, 1)
	minutes, err := e.candles.FindRange(ctx, e.market, loadStart, loadEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to load candles: %w", err)
	}

	bars := make([]indicators.Bar, len(minutes))
	minuteOpen := make(map[time.Time]decimal.Decimal, len(minutes))
	for i, m := range minutes {
		bars[i] = indicators.Bar{
			Timestamp: m.Timestamp,
			Open:      m.Open.InexactFloat64(),
			High:      m.High.InexactFloat64(),
			Low:       m.Low.InexactFloat64(),
			Close:     m.Close.InexactFloat64(),
			Volume:    m.Volume.InexactFloat64(),
		}
		minuteOpen[m.Timestamp] = m.Open
	}

	bars4h := indicators.ResampleTo4h(bars)

	closes := make([]float64, len(bars4h))
	volumes := make([]float64, len(bars4h))
	for i, b := range bars4h {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}

	sma20 := indicators.SMA(closes, ruleBasedTrendPeriod)
	sma50 := indicators.SMA(closes, ruleBasedSlowPeriod)
	ema20 := indicators.EMA(closes, ruleBasedTrendPeriod)
	volMA := indicators.SMA(volumes, ruleBasedTrendPeriod)

	capital := initialCapital
	var trades []Trade
	skipped := 0

	for i := 1; i < len(bars4h); i++ {
		if !fold.Contains(bars4h[i].Timestamp) {
			continue
		}
		if !entrySignal(i-1, closes, volumes, sma20, sma50, volMA) {
			continue
		}

		entryPrice, ok := minuteOpen[bars4h[i].Timestamp]
		if !ok {
			entryPrice = decimal.NewFromFloat(bars4h[i].Open)
		}

		positionSize := capital.Mul(decimal.NewFromFloat(ruleBasedFraction)).RoundDown(2)
		if positionSize.LessThan(one) {
			skipped++
			continue
		}
		entryFee := positionSize.Mul(e.feeRate).RoundUp(2)
		quantity := positionSize.Sub(entryFee).Div(entryPrice).RoundDown(8)
		stopPrice := entryPrice.Mul(decimal.NewFromFloat(ruleBasedStopPct))

		exitIdx, exitPrice, reason := ruleBasedExit(i, bars4h, ema20, stopPrice)

		proceeds := quantity.Mul(exitPrice)
		exitFee := proceeds.Mul(e.feeRate).RoundUp(2)
		profit := proceeds.Sub(exitFee).Sub(positionSize)
		returnPct := profit.Div(positionSize).Mul(decimal.NewFromInt(100)).Round(4)

		trade := Trade{
			Market:          e.market,
			EntryTime:       bars4h[i].Timestamp,
			EntryPrice:      entryPrice,
			ExitTime:        bars4h[exitIdx].Timestamp,
			ExitPrice:       exitPrice,
			StopLossPrice:   stopPrice,
			PositionSize:    positionSize,
			Quantity:        quantity,
			InvestmentRatio: ruleBasedFraction,
			EntryFee:        entryFee,
			Profit:          profit,
			ReturnPct:       returnPct,
			CapitalAfter:    capital.Add(profit),
			ExitReason:      reason,
			HoldingDays:     bars4h[exitIdx].Timestamp.Sub(bars4h[i].Timestamp).Hours() / 24,
			Strategy:        "RULE_BASED_4H",
		}
		trades = append(trades, trade)
		capital = trade.CapitalAfter
		metrics.TradesSimulated.WithLabelValues(reason).Inc()

		// one position at a time: resume scanning after the exit bar
		i = exitIdx
	}

	metrics.BacktestsRun.WithLabelValues("rule_based").Inc()
	e.logger.Info("Rule-based backtest finished",
		"fold", foldNumber, "bars", len(bars4h), "trades", len(trades))

	return &Response{
		Market:         e.market,
		Variant:        "RULE_BASED",
		FoldNumber:     foldNumber,
		Strategy:       "RULE_BASED_4H",
		Regime:         string(fold.Regime),
		PeriodStart:    fold.EntryTime(),
		PeriodEnd:      fold.CloseTime(),
		InitialCapital: initialCapital,
		FinalCapital:   capital,
		Stats:          ComputeStats(trades, initialCapital),
		SkippedSignals: skipped,
		Trades:         trades,
	}, nil
}

// entrySignal checks the previous bar's trend and volume filter: close above
// both SMAs and volume above 1.2x its 20-bar average.
func entrySignal(i int, closes, volumes, sma20, sma50, volMA []float64) bool {
	if indicators.IsUndefined(sma20[i]) || indicators.IsUndefined(sma50[i]) || indicators.IsUndefined(volMA[i]) {
		return false
	}
	return closes[i] > sma20[i] &&
		closes[i] > sma50[i] &&
		volumes[i] > ruleBasedVolumeK*volMA[i]
}

// ruleBasedExit walks bars after the entry and returns the exit bar index,
// price and reason: EMA cross, hard stop, or end of period at the last bar.
func ruleBasedExit(entryIdx int, bars []indicators.Bar, ema20 []float64, stopPrice decimal.Decimal) (int, decimal.Decimal, string) {
	stop := stopPrice.InexactFloat64()
	for j := entryIdx + 1; j < len(bars); j++ {
		c := bars[j].Close
		if !indicators.IsUndefined(ema20[j]) && c < ema20[j] {
			return j, decimal.NewFromFloat(c), ReasonEMACross
		}
		if c < stop {
			return j, decimal.NewFromFloat(c), ReasonStopLoss
		}
	}
	last := len(bars) - 1
	return last, decimal.NewFromFloat(bars[last].Close), ReasonEndOfPeriod
}
