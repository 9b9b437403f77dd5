// Package stats implements the time-series primitives used by the pair engine:
// return transforms, correlation, OLS hedge ratios, a simplified ADF
// stationarity test and rolling z-scores.
//
// Nothing in this package returns an error for short or degenerate input.
// Functions report an undefined result through a boolean or nil sentinel and
// the caller decides whether to skip the pair.
package stats

import "math"

func isUsable(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// LogReturns computes ln(p[i]/p[i-1]) for each adjacent pair of closes where
// both values are finite and positive. Pairs that do not qualify are skipped,
// not zero-filled, so the result may be shorter than len(prices)-1.
func LogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev, cur := prices[i-1], prices[i]
		if !isUsable(prev) || !isUsable(cur) {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
	}
	return returns
}

// LogPrices maps closes to natural logs, dropping non-positive or non-finite values.
func LogPrices(prices []float64) []float64 {
	out := make([]float64, 0, len(prices))
	for _, p := range prices {
		if isUsable(p) {
			out = append(out, math.Log(p))
		}
	}
	return out
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// SampleStd returns the standard deviation with an n-1 denominator. It
// returns 0 when fewer than two values are supplied.
func SampleStd(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	mean := Mean(values)
	ss := 0.0
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// SampleVariance is SampleStd squared; 0 for n<2.
func SampleVariance(values []float64) float64 {
	s := SampleStd(values)
	return s * s
}

// Tail returns the last n elements of values, or all of them when n is
// larger than the slice or non-positive.
func Tail(values []float64, n int) []float64 {
	if n <= 0 || n >= len(values) {
		return values
	}
	return values[len(values)-n:]
}

// AlignSeries right-aligns a and b to the shorter length by dropping the
// oldest excess values from the longer series.
//
// This is a positional alignment, not a timestamp join. It assumes both inputs
// already share the same sampling grid and end on the same bar.
func AlignSeries(a, b []float64) ([]float64, []float64, int) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	return a[len(a)-n:], b[len(b)-n:], n
}
