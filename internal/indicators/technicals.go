package indicators

import "github.com/irfndi/statarb-engine/internal/models"

const (
	volumeSpikeRatio = 1.2
	neutralADX       = 25.0
	neutralVolume    = 1.0
)

// LegTechnicals are the single-asset inputs to PairTechnicals.
type LegTechnicals struct {
	RSI         float64 `json:"rsi"`
	RSISlope    float64 `json:"rsi_slope"`
	VolumeRatio float64 `json:"volume_ratio"`
	ADX         float64 `json:"adx"`
}

// ComputeLeg derives a leg's technicals from its klines. Each value falls
// back to its neutral default when there is not enough history for it.
func ComputeLeg(klines []models.Kline) LegTechnicals {
	leg := LegTechnicals{RSI: NeutralRSI, VolumeRatio: neutralVolume, ADX: neutralADX}
	if len(klines) == 0 {
		return leg
	}

	closes := models.Closes(klines)
	if v, ok := RSI(closes, DefaultRSIPeriod); ok {
		leg.RSI = v
	}
	if v, ok := RSISlope(closes, DefaultRSIPeriod, DefaultSlopeBars); ok {
		leg.RSISlope = v
	}
	if v, ok := VolumeRatio(models.Volumes(klines), DefaultVolumePeriod); ok {
		leg.VolumeRatio = v
	}
	if v, ok := ADX(klines, DefaultADXPeriod); ok {
		leg.ADX = v
	}
	return leg
}

// PairTechnicals combines both legs into the pair-level technical signals.
// It returns models.NeutralTechnicals when either leg has no klines.
func PairTechnicals(klinesA, klinesB []models.Kline) models.PairTechnicals {
	if len(klinesA) == 0 || len(klinesB) == 0 {
		return models.NeutralTechnicals()
	}
	return Combine(ComputeLeg(klinesA), ComputeLeg(klinesB))
}

// Combine applies the fixed thresholds to two legs.
func Combine(a, b LegTechnicals) models.PairTechnicals {
	spikes := 0
	if a.VolumeRatio >= volumeSpikeRatio {
		spikes++
	}
	if b.VolumeRatio >= volumeSpikeRatio {
		spikes++
	}

	confirmation := 0.0
	switch spikes {
	case 2:
		confirmation = 1
	case 1:
		confirmation = 0.5
	}

	adxTrend := (a.ADX + b.ADX) / 2

	return models.PairTechnicals{
		RSIDivergence:      a.RSISlope - b.RSISlope,
		VolumeConfirmation: confirmation,
		RegimeScore:        RegimeScore(adxTrend),
		ADXTrend:           adxTrend,
		VolumeTrend:        (a.VolumeRatio + b.VolumeRatio) / 2,
	}
}

// RegimeScore favours range-bound markets, where spreads mean-revert, over trending ones.
func RegimeScore(adx float64) float64 {
	switch {
	case adx < 20:
		return 1
	case adx < 25:
		return 0.5
	case adx < 40:
		return 0
	default:
		return -0.5
	}
}
