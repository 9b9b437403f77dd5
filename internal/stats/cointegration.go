package stats

import "math"

const (
	// MinADFLength is the shortest spread ADFLikeTest accepts.
	MinADFLength = 10

	minHalfLife = 0.1
	maxHalfLife = 100.0
)

// CointegrationResult is the outcome of ADFLikeTest.
//
// PValue is a coarse bucket (0.01, 0.05, 0.10 or 0.50) looked up from |t|;
// it is not a Dickey-Fuller tail probability. HalfLife is measured in bars and
// is nil unless the spread is stationary with |phi| < 1.
type CointegrationResult struct {
	TestStatistic float64  `json:"test_statistic"`
	PValue        *float64 `json:"p_value"`
	IsStationary  bool     `json:"is_stationary"`
	HalfLife      *float64 `json:"half_life"`
	Beta          float64  `json:"beta"`
	Lags          int      `json:"lags"`
}

// ADFLikeTest runs a simplified stationarity test on spread: it regresses
// Δspread_t on spread_{t-1} with a single lag. The lag-count argument is
// unused.
//
// The spread is considered stationary iff the slope is negative. The half-life
// comes from the AR(1) coefficient phi = 1 + slope and is clamped to
// [0.1, 100] bars. Returns false when the spread has fewer than ten points or
// the regression is degenerate.
func ADFLikeTest(spread []float64, _ int) (*CointegrationResult, bool) {
	if len(spread) < MinADFLength {
		return nil, false
	}

	lagged := make([]float64, len(spread)-1)
	diffs := make([]float64, len(spread)-1)
	for i := 1; i < len(spread); i++ {
		lagged[i-1] = spread[i-1]
		diffs[i-1] = spread[i] - spread[i-1]
	}

	reg, ok := OLSRegression(diffs, lagged)
	if !ok {
		return nil, false
	}

	beta := reg.Slope
	result := &CointegrationResult{
		Beta:         beta,
		Lags:         1,
		IsStationary: beta < 0,
	}

	if reg.StandardError > 0 {
		t := beta / reg.StandardError
		if !math.IsNaN(t) && !math.IsInf(t, 0) {
			result.TestStatistic = t
			p := pValueBucket(t)
			result.PValue = &p
		}
	}

	if result.IsStationary {
		phi := 1 + beta
		if math.Abs(phi) < 1 {
			hl := -math.Ln2 / math.Log(math.Abs(phi))
			if math.IsNaN(hl) || math.IsInf(hl, 0) {
				hl = minHalfLife
			}
			hl = Clamp(hl, minHalfLife, maxHalfLife)
			result.HalfLife = &hl
		}
	}

	return result, true
}

// pValueBucket maps |t| onto the fixed 1%/5%/10% critical values.
func pValueBucket(t float64) float64 {
	abs := math.Abs(t)
	switch {
	case abs > 2.576:
		return 0.01
	case abs > 1.96:
		return 0.05
	case abs > 1.645:
		return 0.10
	default:
		return 0.50
	}
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
