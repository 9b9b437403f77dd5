package services

import (
	"math"
	"sort"

	"github.com/irfndi/statarb-engine/internal/config"
	"github.com/irfndi/statarb-engine/internal/indicators"
	"github.com/irfndi/statarb-engine/internal/models"
	"github.com/irfndi/statarb-engine/internal/stats"
)

const rankZCap = 3.0

// RankedAsset is an asset with its rank score inside one group.
type RankedAsset struct {
	Asset  models.Asset
	Score  float64
	RSI    float64
	Closes []float64
	Klines []models.Kline
}

// RankAssets scores each asset by the weighted sum of its capped cross-sectional
// z-scores and returns them best first. Ties keep input order.
func RankAssets(assets []RankedAsset, w config.RankWeights) []RankedAsset {
	n := len(assets)
	if n == 0 {
		return nil
	}

	liquidity := make([]float64, n)
	volatility := make([]float64, n)
	funding := make([]float64, n)
	quoteVolume := make([]float64, n)
	rsi := make([]float64, n)
	for i, a := range assets {
		m := a.Asset.Metrics
		if m != nil {
			liquidity[i] = m.LiquidityScore
			volatility[i] = m.ATRPct14
			funding[i] = m.FundingMean
			quoteVolume[i] = m.QuoteVolume
		}
		rsi[i] = a.RSI
	}

	zLiq := cappedZ(liquidity)
	zVol := cappedZ(volatility)
	zFund := cappedZ(funding)
	zQV := cappedZ(quoteVolume)
	zRSI := cappedZ(rsi)

	ranked := make([]RankedAsset, n)
	copy(ranked, assets)
	for i := range ranked {
		ranked[i].Score = w.Liquidity*zLiq[i] +
			w.Volatility*zVol[i] +
			w.Funding*zFund[i] +
			w.QuoteVolume*zQV[i] +
			w.RSI*zRSI[i]
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked
}

// cappedZ standardises values across the group and clips to [-3, 3]. A
// constant column yields zeros.
func cappedZ(values []float64) []float64 {
	out := make([]float64, len(values))
	mean := stats.Mean(values)
	std := stats.SampleStd(values)
	if std == 0 || math.IsNaN(std) {
		return out
	}
	for i, v := range values {
		out[i] = stats.Clamp((v-mean)/std, -rankZCap, rankZCap)
	}
	return out
}

// assetRSI returns the enriched RSI, then one computed from closes, then neutral.
func assetRSI(asset models.Asset, closes []float64) float64 {
	if asset.Metrics != nil && asset.Metrics.RSI != nil {
		return *asset.Metrics.RSI
	}
	if v, ok := indicators.RSI(closes, indicators.DefaultRSIPeriod); ok {
		return v
	}
	return indicators.NeutralRSI
}

// validCloses keeps finite positive closes in order.
func validCloses(klines []models.Kline) []float64 {
	out := make([]float64, 0, len(klines))
	for _, k := range klines {
		if k.Close > 0 && !math.IsInf(k.Close, 0) && !math.IsNaN(k.Close) {
			out = append(out, k.Close)
		}
	}
	return out
}

// extremes returns the top n and bottom n of ranked. The bottom slice is
// ordered worst first. The two may overlap in small groups.
func extremes(ranked []RankedAsset, n int) (top, bottom []RankedAsset) {
	if n > len(ranked) {
		n = len(ranked)
	}
	top = ranked[:n]
	bottom = make([]RankedAsset, 0, n)
	for i := len(ranked) - 1; i >= len(ranked)-n; i-- {
		bottom = append(bottom, ranked[i])
	}
	return top, bottom
}
