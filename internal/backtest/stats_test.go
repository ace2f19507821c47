package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func statsTrades() []Trade {
	return []Trade{
		{
			Profit: dec("100"), ReturnPct: dec("1"),
			ExitReason: ReasonTakeProfit, CapitalAfter: dec("10100"), HoldingDays: 1,
		},
		{
			Profit: dec("-50"), ReturnPct: dec("-0.5"),
			ExitReason: ReasonStopLoss, CapitalAfter: dec("10050"), HoldingDays: 2,
		},
		{
			Profit: dec("0"), ReturnPct: dec("0"),
			ExitReason: ReasonTimeout, CapitalAfter: dec("10050"), HoldingDays: 3,
		},
	}
}

func TestComputeStats(t *testing.T) {
	s := ComputeStats(statsTrades(), dec("10000"))

	assert.Equal(t, 3, s.TotalTrades)
	assert.Equal(t, 1, s.WinCount)
	assert.InDelta(t, 100.0/3.0, s.WinRate, 1e-9)
	assert.Equal(t, 1, s.TakeProfitCount)
	assert.Equal(t, 1, s.StopLossCount)
	assert.Equal(t, 1, s.TimeoutCount)
	assert.Equal(t, 0, s.LadderCount)

	assert.InDelta(t, 2.0, s.AvgHoldingDays, 1e-9)
	assert.InDelta(t, 100.0, s.AvgWin, 1e-9)
	assert.InDelta(t, -50.0, s.AvgLoss, 1e-9)
	assert.InDelta(t, 2.0, s.WinLossRatio, 1e-9)
	assert.InDelta(t, 0.5, s.TotalReturnPct, 1e-9)

	// capital path 10,000 -> 10,100 -> 10,050: drop of 50 from the 10,100 peak
	assert.InDelta(t, 50.0/10100.0*100, s.MaxDrawdownPct, 1e-9)
}

func TestComputeStatsSharpe(t *testing.T) {
	s := ComputeStats(statsTrades(), dec("10000"))
	// returns [1, -0.5, 0], mean 1/6, population stddev sqrt(7/18)
	assert.InDelta(t, 0.26726, s.SharpeRatio, 1e-4)
}

func TestComputeStatsEmpty(t *testing.T) {
	s := ComputeStats(nil, dec("10000"))
	assert.Equal(t, 0, s.TotalTrades)
	assert.Zero(t, s.WinRate)
	assert.Zero(t, s.SharpeRatio)
	assert.Zero(t, s.TotalReturnPct)
}

func TestComputeStatsSingleTradeHasNoSharpe(t *testing.T) {
	s := ComputeStats(statsTrades()[:1], dec("10000"))
	assert.Zero(t, s.SharpeRatio)
	assert.InDelta(t, 100.0, s.WinRate, 1e-9)
}

func TestComputeStatsZeroVarianceSharpe(t *testing.T) {
	trades := []Trade{
		{Profit: dec("10"), ReturnPct: dec("1"), ExitReason: ReasonTakeProfit, CapitalAfter: dec("1010")},
		{Profit: dec("10"), ReturnPct: dec("1"), ExitReason: ReasonTakeProfit, CapitalAfter: dec("1020")},
	}
	s := ComputeStats(trades, dec("1000"))
	assert.Zero(t, s.SharpeRatio)
}

func TestWinRateExcludingTimeouts(t *testing.T) {
	s := ComputeStats(statsTrades(), dec("10000"))
	assert.InDelta(t, 50.0, winRateExcludingTimeouts(s), 1e-9)

	onlyTimeouts := Stats{TimeoutCount: 4}
	assert.Zero(t, winRateExcludingTimeouts(onlyTimeouts))
}
