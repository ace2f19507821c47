package backtest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-engine/internal/metrics"
)

// CusumRequest parameterises one CUSUM-signal backtest. Empty strategy/model
// and fold 0 mean "all".
type CusumRequest struct {
	Strategy       string          `json:"strategy"`
	ModelName      string          `json:"modelName"`
	FoldNumber     int             `json:"foldNumber"`
	InitialCapital decimal.Decimal `json:"initialCapital"`
}

// RunCusum executes the CUSUM backtest over the cached BUY signals.
func (e *Engine) RunCusum(ctx context.Context, req CusumRequest) (*Response, error) {
	if req.InitialCapital.LessThanOrEqual(decimal.Zero) {
		return nil, validationf("initial capital must be positive")
	}
	if req.FoldNumber < 0 || req.FoldNumber > 8 {
		return nil, validationf("invalid fold number %d", req.FoldNumber)
	}

	buys := e.cusum.BuySignals(req.Strategy, req.ModelName, req.FoldNumber)

	sim := e.simulator()
	capital := req.InitialCapital
	var (
		trades       []Trade
		skipped      int
		lastExitTime time.Time
	)

	for _, sig := range buys {
		if sig.SignalTime.Before(lastExitTime) {
			skipped++
			continue
		}

		outcome, err := sim.SimulateCusum(ctx, sig, capital)
		if err != nil {
			return nil, err
		}
		if outcome.Skipped() {
			skipped++
			continue
		}

		trade := *outcome.Trade
		trades = append(trades, trade)
		capital = trade.CapitalAfter
		lastExitTime = trade.ExitTime
	}

	stats := ComputeStats(trades, req.InitialCapital)
	stats.WinRate = winRateExcludingTimeouts(stats)

	var confSum, selSum, ratioSum float64
	for _, t := range trades {
		confSum += t.Confidence
		selSum += t.SelectivityPct
		ratioSum += t.InvestmentRatio
	}
	n := float64(len(trades))

	periodStart, periodEnd := e.cusum.DateRange()
	if len(trades) > 0 {
		periodStart = trades[0].EntryTime
		periodEnd = trades[len(trades)-1].ExitTime
	}

	metrics.BacktestsRun.WithLabelValues("cusum").Inc()
	e.logger.Info("CUSUM backtest finished",
		"strategy", req.Strategy, "model", req.ModelName, "fold", req.FoldNumber,
		"signals", len(buys), "trades", len(trades), "skipped", skipped)

	resp := &Response{
		Market:         e.market,
		Variant:        "CUSUM",
		FoldNumber:     req.FoldNumber,
		ModelName:      req.ModelName,
		Strategy:       req.Strategy,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		InitialCapital: req.InitialCapital,
		FinalCapital:   capital,
		Stats:          stats,
		SkippedSignals: skipped,
		Trades:         trades,
	}
	if n > 0 {
		resp.MeanConfidence = confSum / n
		resp.MeanSelectivityPct = selSum / n
		resp.MeanInvestmentRatio = ratioSum / n
	}
	return resp, nil
}
