// Package sizing implements the Kelly-family position sizers.
package sizing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Strategy identifies a position-sizing strategy.
type Strategy string

const (
	ConservativeKelly           Strategy = "CONSERVATIVE_KELLY"
	EstimationRiskKelly         Strategy = "ESTIMATION_RISK_KELLY"
	HalfKelly                   Strategy = "HALF_KELLY"
	Fixed100Percent             Strategy = "FIXED_100_PERCENT"
	CurrentKellyTimesConfidence Strategy = "CURRENT_KELLY_TIMES_CONFIDENCE"
)

// Inputs are the per-signal quantities a sizer may use.
type Inputs struct {
	Entry      decimal.Decimal
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
	ProbaUp    float64 // predicted up-move probability
	Confidence float64 // |probaUp - 0.5|, in [0, 0.5]
}

// PositionSizer turns signal inputs into a position fraction in [0, 1].
type PositionSizer interface {
	Fraction(in Inputs) float64
}

// estimation-risk shrinkage constants
const (
	estimationRiskLambda = 2.0
	effectiveSampleBase  = 99.0
)

// ForStrategy returns the sizer implementing the named strategy.
func ForStrategy(s Strategy) (PositionSizer, error) {
	switch s {
	case ConservativeKelly:
		return conservativeKelly{}, nil
	case EstimationRiskKelly:
		return estimationRiskKelly{}, nil
	case HalfKelly:
		return halfKelly{}, nil
	case Fixed100Percent:
		return fixedFraction{fraction: 1.0}, nil
	case CurrentKellyTimesConfidence:
		return kellyTimesConfidence{}, nil
	default:
		return nil, fmt.Errorf("unknown position sizing strategy: %s", s)
	}
}

// Fixed returns a sizer that always allocates the given fraction, clamped to
// [0, 1]. Used by the sequential fold chain's fixed-percentage mode.
func Fixed(fraction float64) PositionSizer {
	return fixedFraction{fraction: clamp01(fraction)}
}

// payoffRatio computes R = (TP - entry) / (entry - SL). Returns ok=false when
// entry - SL <= 0, in which case every Kelly sizer yields 0.
func payoffRatio(in Inputs) (float64, bool) {
	entry := in.Entry.InexactFloat64()
	risk := entry - in.StopLoss.InexactFloat64()
	if risk <= 0 {
		return 0, false
	}
	reward := in.TakeProfit.InexactFloat64() - entry
	return reward / risk, true
}

// kelly computes the pure Kelly fraction clamp((R*p - (1-p))/R, 0, 1).
func kelly(p, r float64) float64 {
	if r <= 0 {
		return 0
	}
	return clamp01((r*p - (1 - p)) / r)
}

type conservativeKelly struct{}

// Fraction shrinks p toward 0.5 in proportion to how little confidence the
// model has, then applies pure Kelly.
func (conservativeKelly) Fraction(in Inputs) float64 {
	r, ok := payoffRatio(in)
	if !ok {
		return 0
	}
	c := in.Confidence
	shrunk := in.ProbaUp*c + 0.5*(1-c)
	return kelly(shrunk, r)
}

type estimationRiskKelly struct{}

// Fraction discounts pure Kelly by an estimation-risk factor
// clamp(1 - lambda*p(1-p)/nEff, 0, 1) with nEff derived from confidence.
func (estimationRiskKelly) Fraction(in Inputs) float64 {
	r, ok := payoffRatio(in)
	if !ok {
		return 0
	}
	p := in.ProbaUp
	nEff := 1 + (in.Confidence/0.5)*effectiveSampleBase
	discount := clamp01(1 - estimationRiskLambda*p*(1-p)/nEff)
	return kelly(p, r) * discount
}

type halfKelly struct{}

func (halfKelly) Fraction(in Inputs) float64 {
	r, ok := payoffRatio(in)
	if !ok {
		return 0
	}
	return 0.5 * kelly(in.ProbaUp, r)
}

type kellyTimesConfidence struct{}

// Fraction is the legacy sizer kept for backward comparison.
func (kellyTimesConfidence) Fraction(in Inputs) float64 {
	r, ok := payoffRatio(in)
	if !ok {
		return 0
	}
	return kelly(in.ProbaUp, r) * in.Confidence
}

type fixedFraction struct {
	fraction float64
}

func (f fixedFraction) Fraction(in Inputs) float64 {
	if _, ok := payoffRatio(in); !ok {
		return 0
	}
	return f.fraction
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
