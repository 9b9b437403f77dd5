// Package indicators computes the per-leg technical inputs used by the pair
// engine (RSI, RSI slope, volume ratio, ATR percent, ADX) and combines two
// legs into pair-level technicals.
package indicators

import (
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"

	"github.com/irfndi/statarb-engine/internal/models"
	"github.com/irfndi/statarb-engine/internal/stats"
)

const (
	DefaultRSIPeriod    = 14
	DefaultVolumePeriod = 14
	DefaultADXPeriod    = 14
	DefaultSlopeBars    = 5

	// NeutralRSI is assumed when an asset has no usable technical data.
	NeutralRSI = 50.0
)

// RSISeries returns the RSI values for closes. The warm-up period is dropped
// by the underlying indicator, so the output is shorter than the input.
func RSISeries(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) <= period {
		return nil
	}
	rsi := momentum.NewRsiWithPeriod[float64](period)
	return helper.ChanToSlice(rsi.Compute(helper.SliceToChan(closes)))
}

// RSI returns the latest RSI value for closes.
func RSI(closes []float64, period int) (float64, bool) {
	series := RSISeries(closes, period)
	if len(series) == 0 {
		return 0, false
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// RSISlope is the OLS slope of the last bars RSI values against their index,
// in RSI points per bar.
func RSISlope(closes []float64, period, bars int) (float64, bool) {
	series := RSISeries(closes, period)
	if len(series) < bars || bars < 2 {
		return 0, false
	}
	window := series[len(series)-bars:]
	idx := make([]float64, bars)
	for i := range idx {
		idx[i] = float64(i)
	}
	res, ok := stats.OLSRegression(window, idx)
	if !ok {
		return 0, false
	}
	return res.Slope, true
}

// VolumeRatio compares the latest volume to its simple moving average over period bars.
func VolumeRatio(volumes []float64, period int) (float64, bool) {
	if period <= 0 || len(volumes) < period {
		return 0, false
	}
	sma := trend.NewSmaWithPeriod[float64](period)
	avg := helper.ChanToSlice(sma.Compute(helper.SliceToChan(volumes)))
	if len(avg) == 0 || avg[len(avg)-1] <= 0 {
		return 0, false
	}
	return volumes[len(volumes)-1] / avg[len(avg)-1], true
}

// ATRPercent is ATR(14) of the klines as a percentage of the latest close.
func ATRPercent(klines []models.Kline) (float64, bool) {
	if len(klines) <= DefaultADXPeriod {
		return 0, false
	}
	high := make([]float64, len(klines))
	low := make([]float64, len(klines))
	closes := make([]float64, len(klines))
	for i, k := range klines {
		high[i], low[i], closes[i] = k.High, k.Low, k.Close
	}

	atr := volatility.NewAtr[float64]()
	values := helper.ChanToSlice(atr.Compute(
		helper.SliceToChan(high),
		helper.SliceToChan(low),
		helper.SliceToChan(closes),
	))
	last := closes[len(closes)-1]
	if len(values) == 0 || last <= 0 {
		return 0, false
	}
	return values[len(values)-1] / last * 100, true
}
