package stats

import "math"

// singularTolerance bounds |n*Σx² - (Σx)²| below which the design matrix is
// treated as singular.
const singularTolerance = 1e-12

// RegressionResult holds a closed-form simple linear regression y = slope*x + intercept.
type RegressionResult struct {
	Slope         float64   `json:"slope"`
	Intercept     float64   `json:"intercept"`
	RSquared      float64   `json:"r_squared"`
	Residuals     []float64 `json:"residuals"`
	StandardError float64   `json:"standard_error"`
}

// PearsonCorrelation returns the correlation coefficient of x and y. The
// second return value is false when the lengths differ, fewer than two
// points are supplied, or either series has zero variance.
func PearsonCorrelation(x, y []float64) (float64, bool) {
	n := len(x)
	if n != len(y) || n < 2 {
		return 0, false
	}

	meanX, meanY := Mean(x), Mean(y)
	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		dy := y[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}

	denom := math.Sqrt(varX * varY)
	if denom == 0 || math.IsNaN(denom) {
		return 0, false
	}

	corr := cov / denom
	// Accumulated rounding can push |corr| a hair past 1.
	if corr > 1 {
		corr = 1
	} else if corr < -1 {
		corr = -1
	}
	return corr, true
}

// OLSRegression regresses y on x. It returns false when the inputs differ in
// length, have fewer than two points, or when x is (numerically) constant.
//
// StandardError is the standard error of the slope estimate,
// sqrt(SSres/(n-2)) / sqrt(Σ(x-x̄)²). It is 0 when n <= 2.
func OLSRegression(y, x []float64) (*RegressionResult, bool) {
	n := len(x)
	if n != len(y) || n < 2 {
		return nil, false
	}

	var sumX, sumY, sumXY, sumX2 float64
	for i := 0; i < n; i++ {
		sumX += x[i]
		sumY += y[i]
		sumXY += x[i] * y[i]
		sumX2 += x[i] * x[i]
	}

	fn := float64(n)
	denom := fn*sumX2 - sumX*sumX
	if math.Abs(denom) < singularTolerance {
		return nil, false
	}

	slope := (fn*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / fn
	meanY := sumY / fn
	meanX := sumX / fn

	residuals := make([]float64, n)
	var ssRes, ssTot, sxx float64
	for i := 0; i < n; i++ {
		fitted := slope*x[i] + intercept
		residuals[i] = y[i] - fitted
		ssRes += residuals[i] * residuals[i]
		dy := y[i] - meanY
		ssTot += dy * dy
		dx := x[i] - meanX
		sxx += dx * dx
	}

	rSquared := 0.0
	if ssTot > 0 {
		rSquared = 1 - ssRes/ssTot
		if rSquared < 0 {
			rSquared = 0
		} else if rSquared > 1 {
			rSquared = 1
		}
	}

	stdErr := 0.0
	if n > 2 && sxx > 0 {
		stdErr = math.Sqrt(ssRes/float64(n-2)) / math.Sqrt(sxx)
	}

	return &RegressionResult{
		Slope:         slope,
		Intercept:     intercept,
		RSquared:      rSquared,
		Residuals:     residuals,
		StandardError: stdErr,
	}, true
}

// HedgeRatio estimates the OLS slope of logA on logB. It is a thin wrapper
// kept for readability at call sites.
func HedgeRatio(logA, logB []float64) (float64, bool) {
	res, ok := OLSRegression(logA, logB)
	if !ok {
		return 0, false
	}
	return res.Slope, true
}

// Spread returns a[i] - beta*b[i] over the common (right-aligned) length.
func Spread(a, b []float64, beta float64) []float64 {
	a, b, n := AlignSeries(a, b)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] - beta*b[i]
	}
	return out
}
