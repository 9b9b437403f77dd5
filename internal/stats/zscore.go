package stats

import "math"

// RollingZScore returns, for each index i >= window-1, the z-score of
// values[i] against the trailing window values[i-window+1..i] using the sample
// standard deviation. Leading entries, and windows with zero deviation, are NaN.
func RollingZScore(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if window < 2 || len(values) < window {
		return out
	}

	for i := window - 1; i < len(values); i++ {
		w := values[i-window+1 : i+1]
		std := SampleStd(w)
		if std == 0 {
			continue
		}
		out[i] = (values[i] - Mean(w)) / std
	}
	return out
}

// LatestZScore is the z-score of the last value against the whole series.
// It returns false for fewer than two values or zero deviation.
func LatestZScore(values []float64) (float64, bool) {
	if len(values) < 2 {
		return 0, false
	}
	std := SampleStd(values)
	if std == 0 {
		return 0, false
	}
	return (values[len(values)-1] - Mean(values)) / std, true
}
