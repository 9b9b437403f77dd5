package stats

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperties_Correlation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("correlation stays within [-1, 1]", prop.ForAll(
		func(x, y []float64) bool {
			c, ok := PearsonCorrelation(x, y)
			if !ok {
				return true
			}
			return c >= -1-1e-9 && c <= 1+1e-9
		},
		gen.SliceOfN(30, gen.Float64Range(-1000, 1000)),
		gen.SliceOfN(30, gen.Float64Range(-1000, 1000)),
	))

	properties.TestingRun(t)
}

func TestProperties_OLSRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("r squared matches 1 - SSres/SStot", prop.ForAll(
		func(x, y []float64) bool {
			res, ok := OLSRegression(y, x)
			if !ok {
				return true
			}

			meanY := Mean(y)
			var ssRes, ssTot float64
			for i := range x {
				fitted := res.Slope*x[i] + res.Intercept
				ssRes += (y[i] - fitted) * (y[i] - fitted)
				ssTot += (y[i] - meanY) * (y[i] - meanY)
			}
			if ssTot == 0 {
				return true
			}
			return math.Abs((1-ssRes/ssTot)-res.RSquared) < 1e-6
		},
		gen.SliceOfN(25, gen.Float64Range(-100, 100)),
		gen.SliceOfN(25, gen.Float64Range(-100, 100)),
	))

	properties.TestingRun(t)
}

func TestProperties_RollingZScore(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("recomputing gives identical results", prop.ForAll(
		func(values []float64, window int) bool {
			first := RollingZScore(values, window)
			second := RollingZScore(values, window)
			for i := range first {
				if math.IsNaN(first[i]) != math.IsNaN(second[i]) {
					return false
				}
				if !math.IsNaN(first[i]) && first[i] != second[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(40, gen.Float64Range(1, 500)),
		gen.IntRange(2, 40),
	))

	properties.Property("latest sign follows latest minus window mean", prop.ForAll(
		func(values []float64, window int) bool {
			z := RollingZScore(values, window)
			latest := z[len(z)-1]
			if math.IsNaN(latest) {
				return true
			}
			w := values[len(values)-window:]
			diff := values[len(values)-1] - Mean(w)
			if diff == 0 {
				return latest == 0
			}
			return (diff > 0) == (latest > 0)
		},
		gen.SliceOfN(40, gen.Float64Range(1, 500)),
		gen.IntRange(2, 40),
	))

	properties.TestingRun(t)
}

func TestProperties_AlignSeries(t *testing.T) {
	parameters := gopter.DefaultTestParameters()

	properties := gopter.NewProperties(parameters)

	properties.Property("aligned lengths equal the shorter input", prop.ForAll(
		func(a, b []float64) bool {
			a2, b2, n := AlignSeries(a, b)
			min := len(a)
			if len(b) < min {
				min = len(b)
			}
			return len(a2) == min && len(b2) == min && n == min
		},
		gen.SliceOf(gen.Float64()),
		gen.SliceOf(gen.Float64()),
	))

	properties.TestingRun(t)
}
