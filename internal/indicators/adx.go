package indicators

import (
	"math"

	"github.com/irfndi/statarb-engine/internal/models"
)

// ADX computes the Average Directional Index of klines with Wilder smoothing.
//
//  1. TR  = max(high-low, |high-prevClose|, |low-prevClose|)
//  2. +DM = high-prevHigh when it is positive and larger than the down move
//  3. -DM = prevLow-low under the mirrored rule
//  4. TR, +DM and -DM are Wilder-smoothed over period
//  5. DX  = 100 * |+DI - -DI| / (+DI + -DI)
//  6. ADX = Wilder-smoothed DX
//
// At least 2*period+1 bars are needed for a value.
func ADX(klines []models.Kline, period int) (float64, bool) {
	if period <= 0 {
		period = DefaultADXPeriod
	}
	if len(klines) < 2*period+1 {
		return 0, false
	}

	p := float64(period)
	var smoothedTR, smoothedPlus, smoothedMinus float64
	var adx float64
	dxCount := 0

	for i := 1; i < len(klines); i++ {
		cur, prev := klines[i], klines[i-1]

		tr := math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
		upMove := cur.High - prev.High
		downMove := prev.Low - cur.Low

		var plusDM, minusDM float64
		if upMove > downMove && upMove > 0 {
			plusDM = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM = downMove
		}

		if i <= period {
			// Seed with plain sums over the first period moves.
			smoothedTR += tr
			smoothedPlus += plusDM
			smoothedMinus += minusDM
			if i < period {
				continue
			}
		} else {
			smoothedTR = smoothedTR - smoothedTR/p + tr
			smoothedPlus = smoothedPlus - smoothedPlus/p + plusDM
			smoothedMinus = smoothedMinus - smoothedMinus/p + minusDM
		}

		if smoothedTR <= 0 {
			continue
		}
		plusDI := 100 * smoothedPlus / smoothedTR
		minusDI := 100 * smoothedMinus / smoothedTR
		sum := plusDI + minusDI
		dx := 0.0
		if sum > 0 {
			dx = 100 * math.Abs(plusDI-minusDI) / sum
		}

		dxCount++
		switch {
		case dxCount < period:
			adx += dx
		case dxCount == period:
			adx = (adx + dx) / p
		default:
			adx = (adx*(p-1) + dx) / p
		}
	}

	if dxCount < period {
		return 0, false
	}
	return adx, true
}
