package services

import (
	"math"
	"math/rand"
	"time"

	"github.com/irfndi/statarb-engine/internal/config"
	"github.com/irfndi/statarb-engine/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func nullLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func ptr(v float64) *float64 { return &v }

// randomWalk returns n closes whose log steps are N(0, step²).
func randomWalk(n int, seed int64, start, step float64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	logP := math.Log(start)
	for i := range out {
		if i > 0 {
			logP += rng.NormFloat64() * step
		}
		out[i] = math.Exp(logP)
	}
	return out
}

// cointegratedPair builds log A = 0.5 + beta·log B + s where s is AR(1) with
// coefficient phi. shock is added to the last spread value.
func cointegratedPair(n int, seed int64, beta, phi, shock float64) ([]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	closesB := randomWalk(n, seed+1000, 50, 0.02)
	closesA := make([]float64, n)
	s := 0.0
	for i := 0; i < n; i++ {
		s = phi*s + rng.NormFloat64()*0.002
		spread := s
		if i == n-1 {
			spread += shock
		}
		closesA[i] = math.Exp(0.5 + beta*math.Log(closesB[i]) + spread)
	}
	return closesA, closesB
}

func klinesFromCloses(closes []float64, step time.Duration) []models.Kline {
	out := make([]models.Kline, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		out[i] = models.Kline{
			OpenTime: testStart.Add(time.Duration(i) * step),
			Open:     open,
			High:     math.Max(open, c) * 1.005,
			Low:      math.Min(open, c) * 0.995,
			Close:    c,
			Volume:   1000 + float64(i%7)*10,
		}
	}
	return out
}

func tradableAsset(symbol, sector string, liquidity float64) models.Asset {
	return models.Asset{
		Symbol:    symbol,
		Exchange:  "binance",
		Sector:    sector,
		Ecosystem: "Ethereum",
		AssetType: "Token",
		Metrics: &models.AssetMetrics{
			LiquidityScore: liquidity,
			LiquidityTier:  models.LiquidityTierHigh,
			ATRPct14:       2,
			QuoteVolume:    1e8,
			RSI:            ptr(50),
		},
	}
}

func testGeneratorConfig() config.GeneratorConfig {
	return config.Defaults().Generator
}
