package services

import (
	"github.com/irfndi/statarb-engine/internal/models"
	"github.com/irfndi/statarb-engine/internal/stats"
)

// CorrelationMatrix holds return correlations for a selection pool computed
// once per group over a capped recent window.
type CorrelationMatrix struct {
	values map[models.PairKey]float64
}

// NewCorrelationMatrix correlates the last windowBars returns of every pair in
// pool. Pairs with fewer than minPoints aligned returns, or an undefined
// correlation, are left out.
func NewCorrelationMatrix(pool []RankedAsset, windowBars, minPoints int) *CorrelationMatrix {
	returns := make(map[string][]float64, len(pool))
	for _, a := range pool {
		if _, ok := returns[a.Asset.Symbol]; ok {
			continue
		}
		returns[a.Asset.Symbol] = stats.LogReturns(stats.Tail(a.Closes, windowBars+1))
	}

	m := &CorrelationMatrix{values: make(map[models.PairKey]float64)}
	for i := 0; i < len(pool); i++ {
		for j := i + 1; j < len(pool); j++ {
			a, b := pool[i].Asset.Symbol, pool[j].Asset.Symbol
			if a == b {
				continue
			}
			key, _ := models.CanonicalKey(a, b)
			if _, done := m.values[key]; done {
				continue
			}
			ra, rb, n := stats.AlignSeries(returns[a], returns[b])
			if n < minPoints {
				continue
			}
			if corr, ok := stats.PearsonCorrelation(ra, rb); ok {
				m.values[key] = corr
			}
		}
	}
	return m
}

// Get returns the correlation of a and b, if present.
func (m *CorrelationMatrix) Get(a, b string) (float64, bool) {
	key, _ := models.CanonicalKey(a, b)
	v, ok := m.values[key]
	return v, ok
}

// Len is the number of defined entries.
func (m *CorrelationMatrix) Len() int {
	return len(m.values)
}

// fallbackCorrelation correlates the full aligned return histories of a and b.
func fallbackCorrelation(closesA, closesB []float64, minPoints int) (float64, bool) {
	ra, rb, n := stats.AlignSeries(stats.LogReturns(closesA), stats.LogReturns(closesB))
	if n < minPoints {
		return 0, false
	}
	return stats.PearsonCorrelation(ra, rb)
}
