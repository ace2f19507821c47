package backtest

import (
	"context"

	"github.com/shopspring/decimal"

	"upbit-trading-engine/internal/metrics"
)

// SequentialRequest chains folds [StartFold..EndFold]: the fixed-fraction
// strand feeds each fold's final capital into the next, while the
// buy-and-hold strand compounds independently.
type SequentialRequest struct {
	StartFold           int             `json:"startFold"`
	EndFold             int             `json:"endFold"`
	InitialCapital      decimal.Decimal `json:"initialCapital"`
	ModelName           string          `json:"modelName"`
	Threshold           float64         `json:"threshold"`
	ThresholdColumn     string          `json:"thresholdColumn"`
	ThresholdMode       string          `json:"thresholdMode"`
	PositionSizePercent float64         `json:"positionSizePercent"`
}

// SequentialFoldResult is one fold's slice of the chain.
type SequentialFoldResult struct {
	FoldNumber        int             `json:"fold_number"`
	Regime            string          `json:"regime"`
	InitialCapital    decimal.Decimal `json:"initial_capital"`
	FinalCapital      decimal.Decimal `json:"final_capital"`
	ReturnPct         float64         `json:"return_pct"`
	TradeCount        int             `json:"trade_count"`
	BuyHoldReturnPct  float64         `json:"buy_hold_return_pct"`
	BuyHoldFinalValue decimal.Decimal `json:"buy_hold_final_value"`
}

// SequentialResponse is the whole chain plus aggregates.
type SequentialResponse struct {
	Market              string                 `json:"market"`
	StartFold           int                    `json:"start_fold"`
	EndFold             int                    `json:"end_fold"`
	InitialCapital      decimal.Decimal        `json:"initial_capital"`
	FinalCapital        decimal.Decimal        `json:"final_capital"`
	TotalReturnPct      float64                `json:"total_return_pct"`
	BuyHoldFinalCapital decimal.Decimal        `json:"buy_hold_final_capital"`
	BuyHoldReturnPct    float64                `json:"buy_hold_return_pct"`
	FoldSharpe          float64                `json:"fold_sharpe"` // over per-fold returns, small n
	Folds               []SequentialFoldResult `json:"folds"`
}

// RunSequential executes the fold chain. With zero initial capital every
// return is reported as 0 and no fold is simulated.
func (e *Engine) RunSequential(ctx context.Context, req SequentialRequest) (*SequentialResponse, error) {
	if req.StartFold < 1 || req.EndFold > 8 || req.StartFold > req.EndFold {
		return nil, validationf("invalid fold range [%d, %d]", req.StartFold, req.EndFold)
	}
	if req.InitialCapital.LessThan(decimal.Zero) {
		return nil, validationf("initial capital must not be negative")
	}
	if req.PositionSizePercent <= 0 || req.PositionSizePercent > 100 {
		return nil, validationf("position size percent %g out of range (0, 100]", req.PositionSizePercent)
	}

	resp := &SequentialResponse{
		Market:              e.market,
		StartFold:           req.StartFold,
		EndFold:             req.EndFold,
		InitialCapital:      req.InitialCapital,
		FinalCapital:        req.InitialCapital,
		BuyHoldFinalCapital: req.InitialCapital,
	}
	if req.InitialCapital.IsZero() {
		return resp, nil
	}

	capital := req.InitialCapital
	buyHoldCapital := req.InitialCapital
	var foldReturns []float64

	for fold := req.StartFold; fold <= req.EndFold; fold++ {
		foldResp, err := e.RunTPSL(ctx, TPSLRequest{
			FoldNumber:          fold,
			ModelName:           req.ModelName,
			InitialCapital:      capital,
			Threshold:           req.Threshold,
			ThresholdColumn:     req.ThresholdColumn,
			ThresholdMode:       req.ThresholdMode,
			PositionSizePercent: req.PositionSizePercent,
		})
		if err != nil {
			return nil, err
		}

		bhResp, err := e.RunBuyHold(ctx, fold, buyHoldCapital)
		if err != nil {
			return nil, err
		}

		foldReturn := returnPct(capital, foldResp.FinalCapital)
		foldReturns = append(foldReturns, foldReturn)

		resp.Folds = append(resp.Folds, SequentialFoldResult{
			FoldNumber:        fold,
			Regime:            foldResp.Regime,
			InitialCapital:    capital,
			FinalCapital:      foldResp.FinalCapital,
			ReturnPct:         foldReturn,
			TradeCount:        len(foldResp.Trades),
			BuyHoldReturnPct:  returnPct(buyHoldCapital, bhResp.FinalCapital),
			BuyHoldFinalValue: bhResp.FinalCapital,
		})

		capital = foldResp.FinalCapital
		buyHoldCapital = bhResp.FinalCapital
	}

	resp.FinalCapital = capital
	resp.BuyHoldFinalCapital = buyHoldCapital
	resp.TotalReturnPct = returnPct(req.InitialCapital, capital)
	resp.BuyHoldReturnPct = returnPct(req.InitialCapital, buyHoldCapital)
	resp.FoldSharpe = sharpe(foldReturns)

	metrics.BacktestsRun.WithLabelValues("sequential").Inc()
	e.logger.Info("Sequential backtest finished",
		"start_fold", req.StartFold, "end_fold", req.EndFold,
		"final_capital", resp.FinalCapital.StringFixed(2))
	return resp, nil
}

func returnPct(before, after decimal.Decimal) float64 {
	if before.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	out, _ := after.Sub(before).Div(before).Mul(decimal.NewFromInt(100)).Round(4).Float64()
	return out
}
