package stats

import (
	"fmt"
	"math"
)

const (
	MinQualityPoints   = 10
	MinRawPoints       = 50
	MinReturnPoints    = 30
	maxBadFraction     = 0.10
	outlierSigma       = 5.0
	flatRoundingFactor = 1e6
)

// QualityReport is the result of ValidateDataQuality.
type QualityReport struct {
	IsValid bool     `json:"is_valid"`
	Issues  []string `json:"issues"`
}

// Requirement is the result of EnsureMinimumRequirements.
type Requirement struct {
	IsValid bool   `json:"is_valid"`
	Reason  string `json:"reason,omitempty"`
}

// ValidateDataQuality inspects a raw price series and lists every problem it
// finds. The series is valid only when no issue was recorded.
func ValidateDataQuality(series []float64) QualityReport {
	issues := []string{}
	n := len(series)

	if n < MinQualityPoints {
		issues = append(issues, fmt.Sprintf("insufficient data points: %d < %d", n, MinQualityPoints))
	}

	if n > 0 {
		nonFinite, nonPositive := 0, 0
		finite := make([]float64, 0, n)
		for _, v := range series {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				nonFinite++
				continue
			}
			finite = append(finite, v)
			if v <= 0 {
				nonPositive++
			}
		}

		if float64(nonFinite)/float64(n) > maxBadFraction {
			issues = append(issues, fmt.Sprintf("too many non-finite values: %d of %d", nonFinite, n))
		}
		if float64(nonPositive)/float64(n) > maxBadFraction {
			issues = append(issues, fmt.Sprintf("too many non-positive values: %d of %d", nonPositive, n))
		}

		if len(finite) >= 2 {
			mean := Mean(finite)
			std := SampleStd(finite)
			if std > 0 {
				outliers := 0
				for _, v := range finite {
					if math.Abs(v-mean) > outlierSigma*std {
						outliers++
					}
				}
				if outliers > 0 {
					issues = append(issues, fmt.Sprintf("extreme outliers beyond %.0f sigma: %d", outlierSigma, outliers))
				}
			}

			if isFlat(finite) {
				issues = append(issues, "zero variance: all values equal")
			}
		}
	}

	return QualityReport{IsValid: len(issues) == 0, Issues: issues}
}

// isFlat reports whether every value is equal after rounding to 1e-6.
func isFlat(values []float64) bool {
	first := math.Round(values[0] * flatRoundingFactor)
	for _, v := range values[1:] {
		if math.Round(v*flatRoundingFactor) != first {
			return false
		}
	}
	return true
}

// EnsureMinimumRequirements checks that both price series carry at least 50
// raw points and at least 30 usable log returns.
func EnsureMinimumRequirements(a, b []float64) Requirement {
	if len(a) < MinRawPoints || len(b) < MinRawPoints {
		return Requirement{
			Reason: fmt.Sprintf("insufficient raw data: %d/%d points, need %d", len(a), len(b), MinRawPoints),
		}
	}

	ra, rb := LogReturns(a), LogReturns(b)
	if len(ra) < MinReturnPoints || len(rb) < MinReturnPoints {
		return Requirement{
			Reason: fmt.Sprintf("insufficient returns: %d/%d points, need %d", len(ra), len(rb), MinReturnPoints),
		}
	}

	return Requirement{IsValid: true}
}
