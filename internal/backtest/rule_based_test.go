package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upbit-trading-engine/internal/indicators"
)

func TestEntrySignal(t *testing.T) {
	closes := []float64{100}
	volumes := []float64{13}
	sma20 := []float64{90}
	sma50 := []float64{95}
	volMA := []float64{10}

	assert.True(t, entrySignal(0, closes, volumes, sma20, sma50, volMA))

	t.Run("volume at the multiple does not qualify", func(t *testing.T) {
		assert.False(t, entrySignal(0, closes, []float64{12}, sma20, sma50, volMA))
	})
	t.Run("close below slow sma", func(t *testing.T) {
		assert.False(t, entrySignal(0, closes, volumes, sma20, []float64{101}, volMA))
	})
	t.Run("close below trend sma", func(t *testing.T) {
		assert.False(t, entrySignal(0, closes, volumes, []float64{101}, sma50, volMA))
	})
	t.Run("undefined indicator blocks entry", func(t *testing.T) {
		assert.False(t, entrySignal(0, closes, volumes, []float64{indicators.Undefined}, sma50, volMA))
		assert.False(t, entrySignal(0, closes, volumes, sma20, []float64{indicators.Undefined}, volMA))
		assert.False(t, entrySignal(0, closes, volumes, sma20, sma50, []float64{indicators.Undefined}))
	})
}

func TestRuleBasedExit(t *testing.T) {
	ts := kstTime(2024, 1, 2, 9, 0)
	bars := []indicators.Bar{
		{Timestamp: ts, Close: 100},
		{Timestamp: ts.Add(4 * time.Hour), Close: 95},
		{Timestamp: ts.Add(8 * time.Hour), Close: 97},
	}

	t.Run("ema cross", func(t *testing.T) {
		ema := []float64{99, 96, 96}
		idx, price, reason := ruleBasedExit(0, bars, ema, dec("90"))
		assert.Equal(t, 1, idx)
		assert.True(t, price.Equal(dec("95")))
		assert.Equal(t, ReasonEMACross, reason)
	})

	t.Run("hard stop", func(t *testing.T) {
		ema := []float64{99, 90, 90}
		idx, price, reason := ruleBasedExit(0, bars, ema, dec("96"))
		assert.Equal(t, 1, idx)
		assert.True(t, price.Equal(dec("95")))
		assert.Equal(t, ReasonStopLoss, reason)
	})

	t.Run("end of period at last bar", func(t *testing.T) {
		ema := []float64{99, 90, 90}
		idx, price, reason := ruleBasedExit(0, bars, ema, dec("50"))
		assert.Equal(t, 2, idx)
		assert.True(t, price.Equal(dec("97")))
		assert.Equal(t, ReasonEndOfPeriod, reason)
	})

	t.Run("entry at last bar exits in place", func(t *testing.T) {
		ema := []float64{99, 90, 90}
		idx, _, reason := ruleBasedExit(2, bars, ema, dec("50"))
		assert.Equal(t, 2, idx)
		assert.Equal(t, ReasonEndOfPeriod, reason)
	})
}

func TestRunRuleBasedNoCandles(t *testing.T) {
	engine := newTestEngine(&fakeCandleSource{}, &fakePredictionSource{}, "0", 1)

	resp, err := engine.RunRuleBased(context.Background(), 1, dec("1000000"))
	require.NoError(t, err)
	assert.Empty(t, resp.Trades)
	assert.True(t, resp.FinalCapital.Equal(dec("1000000")))
	assert.Equal(t, "RULE_BASED", resp.Variant)
	assert.Equal(t, "RULE_BASED_4H", resp.Strategy)
}

func TestRunRuleBasedValidation(t *testing.T) {
	engine := newTestEngine(&fakeCandleSource{}, &fakePredictionSource{}, "0", 1)
	var verr *ValidationError

	_, err := engine.RunRuleBased(context.Background(), 0, dec("1000000"))
	require.Error(t, err)
	assert.True(t, errors.As(err, &verr))

	_, err = engine.RunRuleBased(context.Background(), 1, dec("-5"))
	require.Error(t, err)
	assert.True(t, errors.As(err, &verr))
}
