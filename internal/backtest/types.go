// Package backtest implements the minute-resolution backtesting engine:
// per-trade simulation, orchestration across signal sources, and result
// aggregation.
package backtest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-engine/internal/database"
)

// Exit reasons across all simulation variants.
const (
	ReasonTakeProfit   = "TAKE_PROFIT"
	ReasonStopLoss     = "STOP_LOSS"
	ReasonTimeout      = "TIMEOUT"
	ReasonProfitLadder = "PROFIT_LADDER"
	ReasonTimeDecay    = "TIME_DECAY"
	ReasonEMACross     = "EMA_CROSS"
	ReasonEndOfPeriod  = "END_OF_PERIOD"
)

// Threshold columns and modes for the prediction-driven orchestrator.
const (
	ColumnPredProbaUp = "PRED_PROBA_UP"
	ColumnConfidence  = "CONFIDENCE"

	ThresholdModeFixed    = "FIXED"
	ThresholdModeQuantile = "QUANTILE"
)

// CandleSource is the candle-store capability the engine needs. The
// database-backed repository satisfies it; tests use in-memory fakes.
type CandleSource interface {
	FindFirstAtOrAfter(ctx context.Context, market string, t time.Time) (*database.Candle, error)
	FindLastAtOrBefore(ctx context.Context, market string, t time.Time) (*database.Candle, error)
	FindRange(ctx context.Context, market string, start, end time.Time) ([]database.Candle, error)
	StreamRange(ctx context.Context, market string, start, end time.Time) (database.CandleIterator, error)
}

// PredictionSource is the prediction-store capability the engine needs.
type PredictionSource interface {
	FindByFoldModel(ctx context.Context, market string, foldNumber int, modelName string) ([]database.Prediction, error)
}

// ExitEvent is one partial or full exit within a laddered trade.
type ExitEvent struct {
	Time        time.Time       `json:"time"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	ExitRatio   float64         `json:"exit_ratio"` // fraction of initial quantity
	Profit      decimal.Decimal `json:"profit"`
	Reason      string          `json:"reason"`
	HoldingDays float64         `json:"holding_days"`
}

// Trade is one completed round trip.
type Trade struct {
	Market          string          `json:"market"`
	EntryTime       time.Time       `json:"entry_time"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	ExitTime        time.Time       `json:"exit_time"`
	ExitPrice       decimal.Decimal `json:"exit_price"` // weighted average for laddered exits
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`
	PositionSize    decimal.Decimal `json:"position_size"` // quote currency
	Quantity        decimal.Decimal `json:"quantity"`      // base asset
	InvestmentRatio float64         `json:"investment_ratio"`
	EntryFee        decimal.Decimal `json:"entry_fee"`
	Profit          decimal.Decimal `json:"profit"`
	ReturnPct       decimal.Decimal `json:"return_pct"`
	CapitalAfter    decimal.Decimal `json:"capital_after"`
	ExitReason      string          `json:"exit_reason"`
	HoldingDays     float64         `json:"holding_days"`

	// signal context
	ModelName      string  `json:"model_name,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	Strategy       string  `json:"strategy,omitempty"`
	SelectivityPct float64 `json:"selectivity_pct,omitempty"`
	Threshold      float64 `json:"threshold,omitempty"`

	ExitEvents []ExitEvent `json:"exit_events,omitempty"`
}

// Outcome is the result of simulating one signal: a trade, or a skip with a
// reason. Exactly one of the two is set.
type Outcome struct {
	Trade      *Trade
	SkipReason string
}

// Skipped reports whether the signal produced no trade.
func (o Outcome) Skipped() bool { return o.Trade == nil }

// Stats are the aggregates computed over one backtest's trade list.
type Stats struct {
	TotalTrades      int     `json:"total_trades"`
	WinCount         int     `json:"win_count"`
	WinRate          float64 `json:"win_rate"`
	TakeProfitCount  int     `json:"take_profit_count"`
	StopLossCount    int     `json:"stop_loss_count"`
	TimeoutCount     int     `json:"timeout_count"`
	LadderCount      int     `json:"ladder_count"`
	TimeDecayCount   int     `json:"time_decay_count"`
	AvgHoldingDays   float64 `json:"avg_holding_days"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	AvgWin           float64 `json:"avg_win"`
	AvgLoss          float64 `json:"avg_loss"`
	WinLossRatio     float64 `json:"win_loss_ratio"`
	TotalReturnPct   float64 `json:"total_return_pct"`
}

// Response is the common shape every orchestrator returns.
type Response struct {
	Market         string          `json:"market"`
	Variant        string          `json:"variant"`
	FoldNumber     int             `json:"fold_number,omitempty"`
	ModelName      string          `json:"model_name,omitempty"`
	Strategy       string          `json:"strategy,omitempty"`
	Regime         string          `json:"regime,omitempty"`
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	FinalCapital   decimal.Decimal `json:"final_capital"`
	Stats          Stats           `json:"stats"`
	SkippedSignals int             `json:"skipped_signals"`
	Trades         []Trade         `json:"trades"`

	// CUSUM-only aggregates
	MeanConfidence      float64 `json:"mean_confidence,omitempty"`
	MeanSelectivityPct  float64 `json:"mean_selectivity_pct,omitempty"`
	MeanInvestmentRatio float64 `json:"mean_investment_ratio,omitempty"`
}
