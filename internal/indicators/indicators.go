// Package indicators provides pure technical-indicator functions on ordered
// numeric series. Output series always have the same length as their input;
// positions without enough history hold NaN and must be filtered by callers.
package indicators

import (
	"math"
	"sort"
)

// Undefined is the sentinel for positions lacking sufficient history.
var Undefined = math.NaN()

// IsUndefined reports whether a value is the warm-up sentinel.
func IsUndefined(v float64) bool {
	return math.IsNaN(v)
}

// SMA computes the simple moving average over the given period.
func SMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = Undefined
	}
	if period <= 0 || len(values) < period {
		return out
	}

	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA computes the exponential moving average with smoothing 2/(period+1),
// seeded with the first value.
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = Undefined
	}
	if period <= 0 || len(values) == 0 {
		return out
	}

	k := 2.0 / (float64(period) + 1.0)
	ema := values[0]
	out[0] = ema
	for i := 1; i < len(values); i++ {
		ema = values[i]*k + ema*(1-k)
		out[i] = ema
	}
	return out
}

// RollingStdDev computes the rolling population standard deviation.
func RollingStdDev(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = Undefined
	}
	if period <= 0 || len(values) < period {
		return out
	}

	for i := period - 1; i < len(values); i++ {
		window := values[i-period+1 : i+1]
		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)

		variance := 0.0
		for _, v := range window {
			d := v - mean
			variance += d * d
		}
		out[i] = math.Sqrt(variance / float64(period))
	}
	return out
}

// BollingerBands holds the middle band, upper/lower bands and relative width.
type BollingerBands struct {
	Middle []float64
	Upper  []float64
	Lower  []float64
	Width  []float64 // (upper - lower) / middle
}

// Bollinger computes Bollinger bands with k standard deviations around the SMA.
func Bollinger(values []float64, period int, k float64) BollingerBands {
	middle := SMA(values, period)
	std := RollingStdDev(values, period)

	upper := make([]float64, len(values))
	lower := make([]float64, len(values))
	width := make([]float64, len(values))
	for i := range values {
		if IsUndefined(middle[i]) || IsUndefined(std[i]) {
			upper[i], lower[i], width[i] = Undefined, Undefined, Undefined
			continue
		}
		upper[i] = middle[i] + k*std[i]
		lower[i] = middle[i] - k*std[i]
		if middle[i] != 0 {
			width[i] = (upper[i] - lower[i]) / middle[i]
		} else {
			width[i] = Undefined
		}
	}
	return BollingerBands{Middle: middle, Upper: upper, Lower: lower, Width: width}
}

// TrueRange computes the true range series. The first element uses high-low only.
func TrueRange(highs, lows, closes []float64) []float64 {
	out := make([]float64, len(highs))
	for i := range highs {
		hl := highs[i] - lows[i]
		if i == 0 {
			out[i] = hl
			continue
		}
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		out[i] = math.Max(hl, math.Max(hc, lc))
	}
	return out
}

// ATR computes the average true range as SMA of the true range.
func ATR(highs, lows, closes []float64, period int) []float64 {
	return SMA(TrueRange(highs, lows, closes), period)
}

// NATR computes the normalized ATR: 100 * ATR / close.
func NATR(highs, lows, closes []float64, period int) []float64 {
	atr := ATR(highs, lows, closes, period)
	out := make([]float64, len(atr))
	for i := range atr {
		if IsUndefined(atr[i]) || closes[i] == 0 {
			out[i] = Undefined
			continue
		}
		out[i] = 100 * atr[i] / closes[i]
	}
	return out
}

// RollingMax computes the maximum over a trailing window of size period.
func RollingMax(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = Undefined
	}
	if period <= 0 || len(values) < period {
		return out
	}

	for i := period - 1; i < len(values); i++ {
		max := values[i-period+1]
		for _, v := range values[i-period+2 : i+1] {
			if v > max {
				max = v
			}
		}
		out[i] = max
	}
	return out
}

// Quantile returns the q-quantile (q in [0,1]) of values using linear
// interpolation between adjacent order statistics, matching the standard
// numerical-library convention.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return Undefined
	}
	if q < 0 {
		q = 0
	}
	if q > 1 {
		q = 1
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// RollingQuantile computes the q-quantile over a trailing window of size period.
func RollingQuantile(values []float64, period int, q float64) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = Undefined
	}
	if period <= 0 || len(values) < period {
		return out
	}

	for i := period - 1; i < len(values); i++ {
		out[i] = Quantile(values[i-period+1:i+1], q)
	}
	return out
}

// VolumeSpike flags positions where volume exceeds k times its moving average.
// Positions inside the MA warm-up are false.
func VolumeSpike(volumes []float64, period int, k float64) []bool {
	ma := SMA(volumes, period)
	out := make([]bool, len(volumes))
	for i := range volumes {
		if IsUndefined(ma[i]) {
			continue
		}
		out[i] = volumes[i] > k*ma[i]
	}
	return out
}
