package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-engine/internal/database"
	"upbit-trading-engine/internal/folds"
	"upbit-trading-engine/internal/indicators"
	"upbit-trading-engine/internal/logging"
	"upbit-trading-engine/internal/metrics"
	"upbit-trading-engine/internal/signals"
	"upbit-trading-engine/internal/sizing"
)

// Engine runs backtests against the candle and prediction stores. One Engine
// serves all variants; each run is independent and single-threaded.
type Engine struct {
	candles     CandleSource
	predictions PredictionSource
	cusum       *signals.CusumCache
	market      string
	feeRate     decimal.Decimal
	holdingDays int
	logger      *logging.Logger
}

func NewEngine(candles CandleSource, predictions PredictionSource, cusum *signals.CusumCache, market string, feeRate decimal.Decimal, holdingDays int) *Engine {
	return &Engine{
		candles:     candles,
		predictions: predictions,
		cusum:       cusum,
		market:      market,
		feeRate:     feeRate,
		holdingDays: holdingDays,
		logger:      logging.Default().WithComponent("backtest"),
	}
}

func (e *Engine) simulator() *Simulator {
	return NewSimulator(e.candles, e.market, e.feeRate, e.holdingDays)
}

// TPSLRequest parameterises one prediction-driven backtest.
type TPSLRequest struct {
	FoldNumber      int             `json:"foldNumber"`
	ModelName       string          `json:"modelName"`
	InitialCapital  decimal.Decimal `json:"initialCapital"`
	Threshold       float64         `json:"threshold"`
	ThresholdColumn string          `json:"thresholdColumn"` // PRED_PROBA_UP / CONFIDENCE
	ThresholdMode   string          `json:"thresholdMode"`   // FIXED / QUANTILE
	SizingStrategy  sizing.Strategy `json:"sizingStrategy"`
	LadderedExits   bool            `json:"ladderedExits"`

	// PositionSizePercent > 0 bypasses the Kelly sizers with a fixed
	// fraction; used by the sequential fold chain.
	PositionSizePercent float64 `json:"positionSizePercent,omitempty"`
}

func (r *TPSLRequest) normalise() {
	if r.ThresholdColumn == "" {
		r.ThresholdColumn = ColumnPredProbaUp
	}
	if r.ThresholdMode == "" {
		r.ThresholdMode = ThresholdModeFixed
	}
	if r.SizingStrategy == "" {
		r.SizingStrategy = sizing.ConservativeKelly
	}
}

func (r *TPSLRequest) validate() error {
	if _, err := folds.Get(r.FoldNumber); err != nil {
		return validationf("invalid fold number %d", r.FoldNumber)
	}
	if r.InitialCapital.LessThanOrEqual(decimal.Zero) {
		return validationf("initial capital must be positive")
	}
	if r.ModelName == "" {
		return validationf("model name is required")
	}
	if r.ThresholdColumn != ColumnPredProbaUp && r.ThresholdColumn != ColumnConfidence {
		return validationf("unknown threshold column %q", r.ThresholdColumn)
	}
	switch r.ThresholdMode {
	case ThresholdModeFixed:
		max := 1.0
		if r.ThresholdColumn == ColumnConfidence {
			max = 0.5
		}
		if r.Threshold < 0 || r.Threshold > max {
			return validationf("threshold %g out of range [0, %g] for %s", r.Threshold, max, r.ThresholdColumn)
		}
	case ThresholdModeQuantile:
		if r.Threshold < 0 || r.Threshold > 100 {
			return validationf("quantile threshold %g out of range [0, 100]", r.Threshold)
		}
	default:
		return validationf("unknown threshold mode %q", r.ThresholdMode)
	}
	return nil
}

func thresholdColumnValue(p database.Prediction, column string) float64 {
	if column == ColumnConfidence {
		return p.Confidence
	}
	return p.PredProbaUp
}

// RunTPSL executes the prediction-driven TP/SL backtest for one (fold, model).
func (e *Engine) RunTPSL(ctx context.Context, req TPSLRequest) (*Response, error) {
	req.normalise()
	if err := req.validate(); err != nil {
		return nil, err
	}
	fold, _ := folds.Get(req.FoldNumber)

	var (
		sizer sizing.PositionSizer
		err   error
	)
	if req.PositionSizePercent > 0 {
		if req.PositionSizePercent > 100 {
			return nil, validationf("position size percent %g out of range (0, 100]", req.PositionSizePercent)
		}
		sizer = sizing.Fixed(req.PositionSizePercent / 100)
	} else {
		sizer, err = sizing.ForStrategy(req.SizingStrategy)
		if err != nil {
			return nil, validationf("%s", err.Error())
		}
	}

	preds, err := e.predictions.FindByFoldModel(ctx, e.market, req.FoldNumber, req.ModelName)
	if err != nil {
		return nil, fmt.Errorf("failed to load predictions: %w", err)
	}

	// up-direction predictions only
	var upward []database.Prediction
	for _, p := range preds {
		if p.PredDirection == 1 {
			upward = append(upward, p)
		}
	}

	threshold := req.Threshold
	if req.ThresholdMode == ThresholdModeQuantile {
		values := make([]float64, len(upward))
		for i, p := range upward {
			values[i] = thresholdColumnValue(p, req.ThresholdColumn)
		}
		threshold = indicators.Quantile(values, req.Threshold/100)
	}

	var selected []database.Prediction
	for _, p := range upward {
		if thresholdColumnValue(p, req.ThresholdColumn) >= threshold {
			selected = append(selected, p)
		}
	}

	sim := e.simulator()
	capital := req.InitialCapital
	var (
		trades       []Trade
		skipped      int
		lastExitTime time.Time
	)

	for _, p := range selected {
		entryTarget := folds.TradingOpen(p.Date)
		if entryTarget.Before(lastExitTime) {
			skipped++
			continue
		}

		sig := Signal{
			EntryTarget: entryTarget,
			TakeProfit:  p.TakeProfitPrice,
			StopLoss:    p.StopLossPrice,
			ProbaUp:     p.PredProbaUp,
			Confidence:  p.Confidence,
			ModelName:   req.ModelName,
		}

		var outcome Outcome
		if req.LadderedExits {
			outcome, err = sim.SimulateLaddered(ctx, sig, sizer, capital)
		} else {
			outcome, err = sim.SimulateSingle(ctx, sig, sizer, capital)
		}
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

	metrics.BacktestsRun.WithLabelValues("tp_sl").Inc()
	e.logger.Info("TP/SL backtest finished",
		"fold", req.FoldNumber, "model", req.ModelName,
		"trades", len(trades), "skipped", skipped)

	return &Response{
		Market:         e.market,
		Variant:        "TP_SL",
		FoldNumber:     req.FoldNumber,
		ModelName:      req.ModelName,
		Regime:         string(fold.Regime),
		PeriodStart:    fold.EntryTime(),
		PeriodEnd:      fold.CloseTime(),
		InitialCapital: req.InitialCapital,
		FinalCapital:   capital,
		Stats:          ComputeStats(trades, req.InitialCapital),
		SkippedSignals: skipped,
		Trades:         trades,
	}, nil
}
