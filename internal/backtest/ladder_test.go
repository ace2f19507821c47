package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upbit-trading-engine/internal/database"
)

// ladderSignal has levels far enough out that only ladder and decay rules
// fire unless a candle is crafted to touch them.
func ladderSignal(entry time.Time) Signal {
	return Signal{
		EntryTarget: entry,
		TakeProfit:  dec("200"),
		StopLoss:    dec("50"),
	}
}

func TestSimulateLadderedFullLadder(t *testing.T) {
	entry := kstTime(2024, 1, 2, 9, 0)
	src := &fakeCandleSource{candles: []database.Candle{
		candleAt(entry, 100, 101, 99, 100),
		candleAt(entry.Add(1*time.Minute), 100, 107, 99, 106),  // +6%  -> level 1
		candleAt(entry.Add(2*time.Minute), 106, 113, 105, 112), // +12% -> level 2
		candleAt(entry.Add(3*time.Minute), 112, 123, 111, 122), // +22% -> level 3
	}}
	sim := newTestSimulator(src, "0", 10)

	out, err := sim.SimulateLaddered(context.Background(), ladderSignal(entry), stubSizer{f: 1.0}, dec("1000000"))
	require.NoError(t, err)
	require.False(t, out.Skipped())

	trade := out.Trade
	require.Len(t, trade.ExitEvents, 3)
	for _, ev := range trade.ExitEvents {
		assert.Equal(t, ReasonProfitLadder, ev.Reason)
	}

	// tranches of the initial 10,000 quantity: 30%, 30%, then 40% residual
	assert.True(t, trade.ExitEvents[0].Quantity.Equal(dec("3000")))
	assert.True(t, trade.ExitEvents[1].Quantity.Equal(dec("3000")))
	assert.True(t, trade.ExitEvents[2].Quantity.Equal(dec("4000")))

	sold := decimal.Zero
	for _, ev := range trade.ExitEvents {
		sold = sold.Add(ev.Quantity)
	}
	assert.True(t, sold.Equal(trade.Quantity), "events must sell exactly the initial quantity, sold %s of %s", sold, trade.Quantity)

	// 3000*6 + 3000*12 + 4000*22 with zero fees
	assert.True(t, trade.Profit.Equal(dec("142000")), "profit %s", trade.Profit)
	// weighted average exit: 1,142,000 / 10,000
	assert.True(t, trade.ExitPrice.Equal(dec("114.2")), "exit price %s", trade.ExitPrice)
	assert.Equal(t, ReasonProfitLadder, trade.ExitReason)
}

func TestSimulateLadderedHigherLevelMarksLower(t *testing.T) {
	entry := kstTime(2024, 1, 2, 9, 0)
	src := &fakeCandleSource{candles: []database.Candle{
		candleAt(entry, 100, 101, 99, 100),
		candleAt(entry.Add(1*time.Minute), 100, 126, 99, 125),  // +25% -> level 3 directly
		candleAt(entry.Add(2*time.Minute), 125, 126, 100, 106), // +6%, level 1 must not fire
		candleAt(entry.Add(3*time.Minute), 106, 107, 49, 52),   // stop hit, terminal
	}}
	sim := newTestSimulator(src, "0", 10)

	out, err := sim.SimulateLaddered(context.Background(), ladderSignal(entry), stubSizer{f: 1.0}, dec("1000000"))
	require.NoError(t, err)
	require.False(t, out.Skipped())

	trade := out.Trade
	require.Len(t, trade.ExitEvents, 2)

	first := trade.ExitEvents[0]
	assert.Equal(t, ReasonProfitLadder, first.Reason)
	assert.True(t, first.Quantity.Equal(dec("4000")), "level 3 tranche, got %s", first.Quantity)

	last := trade.ExitEvents[1]
	assert.Equal(t, ReasonStopLoss, last.Reason)
	assert.True(t, last.Quantity.Equal(dec("6000")), "stop closes the remainder, got %s", last.Quantity)
	assert.True(t, last.Price.Equal(dec("50")))

	assert.Equal(t, ReasonStopLoss, trade.ExitReason)
	// 4000*25 - 6000*50 = 100,000 - 300,000
	assert.True(t, trade.Profit.Equal(dec("-200000")), "profit %s", trade.Profit)
}

func TestSimulateLadderedResidualTimesOut(t *testing.T) {
	entry := kstTime(2024, 1, 2, 9, 0)
	lastTS := entry.Add(2 * time.Minute)
	src := &fakeCandleSource{candles: []database.Candle{
		candleAt(entry, 100, 101, 99, 100),
		candleAt(entry.Add(1*time.Minute), 100, 107, 99, 106), // level 1
		candleAt(lastTS, 106, 107, 103, 104),                  // +4%, below every level
	}}
	sim := newTestSimulator(src, "0", 10)

	out, err := sim.SimulateLaddered(context.Background(), ladderSignal(entry), stubSizer{f: 1.0}, dec("1000000"))
	require.NoError(t, err)
	require.False(t, out.Skipped())

	trade := out.Trade
	require.Len(t, trade.ExitEvents, 2)
	assert.Equal(t, ReasonProfitLadder, trade.ExitEvents[0].Reason)

	timeout := trade.ExitEvents[1]
	assert.Equal(t, ReasonTimeout, timeout.Reason)
	assert.True(t, timeout.Quantity.Equal(dec("7000")))
	assert.True(t, timeout.Price.Equal(dec("104")), "timeout settles at last close, got %s", timeout.Price)
	assert.True(t, timeout.Time.Equal(lastTS))

	assert.Equal(t, ReasonTimeout, trade.ExitReason)
	// 3000*6 + 7000*4
	assert.True(t, trade.Profit.Equal(dec("46000")), "profit %s", trade.Profit)
}

func TestSimulateLadderedTimeDecay(t *testing.T) {
	entry := kstTime(2024, 1, 2, 9, 0)
	daySeven := entry.AddDate(0, 0, 7).Add(12 * time.Hour)
	dayEight := entry.AddDate(0, 0, 8)
	src := &fakeCandleSource{candles: []database.Candle{
		candleAt(entry, 100, 101, 99, 100),
		candleAt(daySeven, 100, 101, 99, 100), // 7.5 days held, flat
		candleAt(dayEight, 100, 101, 99, 100),
	}}
	sim := newTestSimulator(src, "0", 10)

	out, err := sim.SimulateLaddered(context.Background(), ladderSignal(entry), stubSizer{f: 1.0}, dec("1000000"))
	require.NoError(t, err)
	require.False(t, out.Skipped())

	trade := out.Trade
	require.Len(t, trade.ExitEvents, 2)

	decay := trade.ExitEvents[0]
	assert.Equal(t, ReasonTimeDecay, decay.Reason)
	// past 7 days the step-2 tranche fires directly, skipping step 1
	assert.True(t, decay.Quantity.Equal(dec("4000")), "decay tranche %s", decay.Quantity)
	assert.True(t, decay.Time.Equal(daySeven))

	assert.Equal(t, ReasonTimeout, trade.ExitEvents[1].Reason)
	assert.True(t, trade.ExitEvents[1].Quantity.Equal(dec("6000")))
}

func TestSimulateLadderedEntryFeeChargedOnce(t *testing.T) {
	entry := kstTime(2024, 1, 2, 9, 0)
	src := &fakeCandleSource{candles: []database.Candle{
		candleAt(entry, 100, 101, 99, 100),
		candleAt(entry.Add(1*time.Minute), 100, 107, 99, 106),
		candleAt(entry.Add(2*time.Minute), 106, 113, 105, 112),
	}}
	sim := newTestSimulator(src, "0.0005", 10)

	out, err := sim.SimulateLaddered(context.Background(), ladderSignal(entry), stubSizer{f: 1.0}, dec("1000000"))
	require.NoError(t, err)
	require.False(t, out.Skipped())

	trade := out.Trade
	eventSum := trade.EntryFee.Neg()
	for _, ev := range trade.ExitEvents {
		eventSum = eventSum.Add(ev.Profit)
	}
	assert.True(t, trade.Profit.Equal(eventSum),
		"trade profit must be event profits minus the entry fee, got %s want %s", trade.Profit, eventSum)
}
