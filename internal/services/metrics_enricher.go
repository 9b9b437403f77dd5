package services

import (
	"context"
	"math"
	"time"

	"github.com/irfndi/statarb-engine/internal/indicators"
	"github.com/irfndi/statarb-engine/internal/models"
	"github.com/irfndi/statarb-engine/internal/stats"
	"github.com/irfndi/statarb-engine/internal/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Liquidity tier boundaries on 24h quote volume.
const (
	HighTierQuoteVolume   = 50_000_000.0
	MediumTierQuoteVolume = 5_000_000.0

	// Log10 quote volume that maps to liquidity scores 0 and 10.
	liquidityScoreFloor   = 4.0
	liquidityScoreCeiling = 10.0
)

// FundingSource supplies historical funding rates for an asset.
type FundingSource interface {
	FetchFundingRates(ctx context.Context, exchange, symbol string) ([]float64, error)
}

// MetricsEnricher derives AssetMetrics from klines and funding history.
type MetricsEnricher struct {
	funding    FundingSource
	optimizer  *ResourceOptimizer
	barsPerDay int
	logger     *logrus.Logger
	now        func() time.Time
}

// NewMetricsEnricher creates an enricher. optimizer bounds the worker pool.
func NewMetricsEnricher(funding FundingSource, optimizer *ResourceOptimizer, barsPerDay int, logger *logrus.Logger) *MetricsEnricher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if barsPerDay < 1 {
		barsPerDay = 1
	}
	return &MetricsEnricher{
		funding:    funding,
		optimizer:  optimizer,
		barsPerDay: barsPerDay,
		logger:     logger,
		now:        time.Now,
	}
}

// Enrich returns copies of assets with Metrics filled in, in input order.
// Assets without klines or whose funding fetch fails are left out and
// reported as skip notes.
func (e *MetricsEnricher) Enrich(ctx context.Context, assets []models.Asset, klines map[string][]models.Kline) ([]models.Asset, []models.SkipNote) {
	results := make([]*models.Asset, len(assets))
	notes := make([]*models.SkipNote, len(assets))

	workers := 1
	if e.optimizer != nil {
		workers = e.optimizer.OptimalWorkers(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range assets {
		asset := assets[i]
		g.Go(func() error {
			enriched, err := e.enrichOne(gctx, asset, klines[asset.Symbol])
			if err != nil {
				notes[i] = &models.SkipNote{Subject: asset.Symbol, Reason: utils.SkipReason(err), Detail: err.Error()}
				e.logger.WithFields(logrus.Fields{
					"symbol": asset.Symbol,
					"reason": notes[i].Reason,
				}).Debug("Asset skipped during enrichment")
				return nil
			}
			results[i] = enriched
			return nil
		})
	}
	_ = g.Wait()

	out := make([]models.Asset, 0, len(assets))
	var skipped []models.SkipNote
	for i := range assets {
		if results[i] != nil {
			out = append(out, *results[i])
		}
		if notes[i] != nil {
			skipped = append(skipped, *notes[i])
		}
	}
	return out, skipped
}

func (e *MetricsEnricher) enrichOne(ctx context.Context, asset models.Asset, klines []models.Kline) (*models.Asset, error) {
	if len(klines) == 0 {
		return nil, utils.NewSkipError(asset.Symbol, utils.ReasonInsufficientHistory, nil)
	}

	var rates []float64
	if e.funding != nil {
		var err error
		rates, err = e.funding.FetchFundingRates(ctx, asset.Exchange, asset.Symbol)
		if err != nil {
			return nil, utils.NewSkipError(asset.Symbol, utils.ReasonFetchFailed, err)
		}
	}

	metrics := ComputeAssetMetrics(klines, rates, e.barsPerDay)
	metrics.UpdatedAt = e.now().UTC()

	enriched := asset
	enriched.Metrics = &metrics
	return &enriched, nil
}

// ComputeAssetMetrics derives an asset's metrics from its klines and funding history.
func ComputeAssetMetrics(klines []models.Kline, fundingRates []float64, barsPerDay int) models.AssetMetrics {
	var m models.AssetMetrics

	if atr, ok := indicators.ATRPercent(klines); ok {
		m.ATRPct14 = atr
	}

	m.FundingMean = stats.Mean(fundingRates)
	m.FundingVariance = stats.SampleVariance(fundingRates)

	m.QuoteVolume = QuoteVolume24h(klines, barsPerDay)
	m.LiquidityScore = LiquidityScore(m.QuoteVolume)
	m.LiquidityTier = LiquidityTier(m.QuoteVolume)

	if rsi, ok := indicators.RSI(models.Closes(klines), indicators.DefaultRSIPeriod); ok {
		m.RSI = &rsi
	}
	return m
}

// QuoteVolume24h sums close·volume over the last day of bars.
func QuoteVolume24h(klines []models.Kline, barsPerDay int) float64 {
	start := len(klines) - barsPerDay
	if start < 0 {
		start = 0
	}
	total := 0.0
	for _, k := range klines[start:] {
		if v := k.Close * k.Volume; v > 0 && !math.IsInf(v, 0) {
			total += v
		}
	}
	return total
}

// LiquidityScore maps quote volume onto 0..10 on a log10 scale.
func LiquidityScore(quoteVolume float64) float64 {
	if quoteVolume <= 0 {
		return 0
	}
	scaled := (math.Log10(quoteVolume) - liquidityScoreFloor) / (liquidityScoreCeiling - liquidityScoreFloor) * 10
	return stats.Clamp(scaled, 0, 10)
}

// LiquidityTier buckets 24h quote volume.
func LiquidityTier(quoteVolume float64) string {
	switch {
	case quoteVolume >= HighTierQuoteVolume:
		return models.LiquidityTierHigh
	case quoteVolume >= MediumTierQuoteVolume:
		return models.LiquidityTierMedium
	default:
		return models.LiquidityTierLow
	}
}
