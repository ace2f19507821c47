package backtest

import (
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

// ComputeStats aggregates a chronologically ordered trade list.
func ComputeStats(trades []Trade, initialCapital decimal.Decimal) Stats {
	var s Stats
	s.TotalTrades = len(trades)
	if len(trades) == 0 {
		return s
	}

	var (
		returns    []float64
		wins       []float64
		losses     []float64
		holdingSum float64
	)

	for _, t := range trades {
		p, _ := t.Profit.Float64()
		r, _ := t.ReturnPct.Float64()
		returns = append(returns, r)
		holdingSum += t.HoldingDays

		if p > 0 {
			s.WinCount++
			wins = append(wins, p)
		} else if p < 0 {
			losses = append(losses, p)
		}

		switch t.ExitReason {
		case ReasonTakeProfit:
			s.TakeProfitCount++
		case ReasonStopLoss:
			s.StopLossCount++
		case ReasonTimeout:
			s.TimeoutCount++
		case ReasonProfitLadder:
			s.LadderCount++
		case ReasonTimeDecay:
			s.TimeDecayCount++
		}
	}

	s.WinRate = float64(s.WinCount) / float64(s.TotalTrades) * 100
	s.AvgHoldingDays = holdingSum / float64(s.TotalTrades)
	s.MaxDrawdownPct = maxDrawdown(trades, initialCapital)
	s.SharpeRatio = sharpe(returns)

	if len(wins) > 0 {
		s.AvgWin = stat.Mean(wins, nil)
	}
	if len(losses) > 0 {
		s.AvgLoss = stat.Mean(losses, nil)
	}
	if s.AvgLoss != 0 {
		s.WinLossRatio = s.AvgWin / -s.AvgLoss
	}

	if initialCapital.GreaterThan(decimal.Zero) {
		final := trades[len(trades)-1].CapitalAfter
		total, _ := final.Sub(initialCapital).Div(initialCapital).Mul(decimal.NewFromInt(100)).Round(4).Float64()
		s.TotalReturnPct = total
	}
	return s
}

// maxDrawdown walks the capital trajectory from the initial value and reports
// the largest peak-to-trough drop in percent.
func maxDrawdown(trades []Trade, initialCapital decimal.Decimal) float64 {
	peak, _ := initialCapital.Float64()
	if peak <= 0 {
		return 0
	}
	maxDD := 0.0
	for _, t := range trades {
		cur, _ := t.CapitalAfter.Float64()
		if cur > peak {
			peak = cur
		}
		dd := (peak - cur) / peak * 100
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// sharpe is the simplified risk-free-zero ratio over per-trade return
// percentages, using the population standard deviation. Returns 0 for fewer
// than two samples or zero variance.
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sd := stat.PopStdDev(returns, nil)
	if sd == 0 {
		return 0
	}
	return stat.Mean(returns, nil) / sd
}

// winRateExcludingTimeouts is the CUSUM convention: TP / (TP + SL) in
// percent, ignoring timed-out trades.
func winRateExcludingTimeouts(s Stats) float64 {
	decided := s.TakeProfitCount + s.StopLossCount
	if decided == 0 {
		return 0
	}
	return float64(s.TakeProfitCount) / float64(decided) * 100
}
