package services

import (
	"context"
	"math"
	"time"

	"github.com/irfndi/statarb-engine/internal/config"
	"github.com/irfndi/statarb-engine/internal/models"
	"github.com/irfndi/statarb-engine/internal/stats"
	"github.com/irfndi/statarb-engine/internal/telemetry"
	"github.com/irfndi/statarb-engine/internal/utils"
	"github.com/sirupsen/logrus"
)

// MultiTimeframeScanner classifies fixed watchlist pairs each cycle.
//
// Each statistic has its own window: correlation, the cointegration test
// (with its own hedge ratio), a short sizing hedge ratio and the z-score
// (again with its own hedge ratio). The three hedge ratios are kept apart.
type MultiTimeframeScanner struct {
	cfg        config.ScannerConfig
	barsPerDay int
	logger     *logrus.Logger
	tracer     *telemetry.BusinessTracer
	now        func() time.Time
}

// NewMultiTimeframeScanner creates a scanner. barsPerDay converts the
// day-based windows in cfg into bar counts.
func NewMultiTimeframeScanner(cfg config.ScannerConfig, barsPerDay int, logger *logrus.Logger) *MultiTimeframeScanner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if barsPerDay < 1 {
		barsPerDay = 1
	}
	return &MultiTimeframeScanner{
		cfg:        cfg,
		barsPerDay: barsPerDay,
		logger:     logger,
		tracer:     telemetry.NewBusinessTracer(),
		now:        time.Now,
	}
}

// Scan returns one signal per watchlist pair, in watchlist order. Pairs
// without usable data get a WAIT signal with a reason instead of failing
// the scan.
func (s *MultiTimeframeScanner) Scan(ctx context.Context, watchlist []models.WatchPair, klines map[string][]models.Kline) []models.PairSignal {
	_, span := s.tracer.TraceScan(ctx, len(watchlist))
	defer span.End()

	signals := make([]models.PairSignal, 0, len(watchlist))
	counts := make(map[models.SignalAction]int)
	for _, pair := range watchlist {
		sig := s.ScanPair(pair, validCloses(klines[pair.SymbolA]), validCloses(klines[pair.SymbolB]))
		counts[sig.Action]++
		signals = append(signals, sig)
	}

	s.logger.WithFields(logrus.Fields{
		"pairs": len(watchlist),
		"enter": counts[models.ActionEnter],
		"exit":  counts[models.ActionExit],
		"watch": counts[models.ActionWatch],
		"wait":  counts[models.ActionWait],
	}).Info("Watchlist scan completed")
	return signals
}

// ScanPair computes the windowed metrics of one pair from its closes.
func (s *MultiTimeframeScanner) ScanPair(pair models.WatchPair, closesA, closesB []float64) models.PairSignal {
	sig := models.PairSignal{
		Pair:      pair,
		Action:    models.ActionWait,
		Timestamp: s.now().UTC(),
	}

	corrBars := s.cfg.CorrelationDays * s.barsPerDay
	ra, rb, _ := stats.AlignSeries(
		stats.LogReturns(stats.Tail(closesA, corrBars+1)),
		stats.LogReturns(stats.Tail(closesB, corrBars+1)),
	)
	if corr, ok := stats.PearsonCorrelation(ra, rb); ok {
		sig.Metrics.Correlation30d = &corr
	}

	if beta, spread, ok := s.windowSpread(closesA, closesB, s.cfg.CointegrationDays); ok {
		sig.Metrics.Hedge90d = &beta
		if coint, ok := stats.ADFLikeTest(spread, adfMaxLags); ok {
			sig.Metrics.Cointegration90d = coint
		}
	}

	if beta, _, ok := s.windowSpread(closesA, closesB, s.cfg.HedgeDays); ok {
		sig.Metrics.Hedge7d = &beta
		long := math.Abs(beta) / (1 + math.Abs(beta))
		sig.Sizing = &models.PositionSizing{
			LongPercent:  long * 100,
			ShortPercent: (1 - long) * 100,
		}
	}

	beta, spread, ok := s.windowSpread(closesA, closesB, s.cfg.ZScoreDays)
	if !ok {
		sig.Reason = utils.ReasonAlignmentFailed
		s.logSkip(pair, sig.Reason)
		return sig
	}
	sig.Metrics.Hedge30dZ = &beta

	z, ok := stats.LatestZScore(spread)
	if !ok {
		sig.Reason = utils.ReasonDegenerateRegression
		s.logSkip(pair, sig.Reason)
		return sig
	}
	sig.Metrics.ZScore30d = &z
	sig.Action = s.classify(z)

	switch {
	case z > 0:
		sig.Direction = &models.Direction{Long: pair.SymbolB, Short: pair.SymbolA}
	case z < 0:
		sig.Direction = &models.Direction{Long: pair.SymbolA, Short: pair.SymbolB}
	}
	return sig
}

// classify maps |z| to an action. Thresholds are checked entry first.
func (s *MultiTimeframeScanner) classify(z float64) models.SignalAction {
	absZ := math.Abs(z)
	switch {
	case absZ >= s.cfg.EntryThreshold:
		return models.ActionEnter
	case absZ <= s.cfg.ExitThreshold:
		return models.ActionExit
	case absZ >= s.cfg.WatchThreshold:
		return models.ActionWatch
	default:
		return models.ActionWait
	}
}

// windowSpread fits the hedge ratio of A on B over the last days of log
// prices and returns it with the resulting spread.
func (s *MultiTimeframeScanner) windowSpread(closesA, closesB []float64, days int) (float64, []float64, bool) {
	bars := days * s.barsPerDay
	logA, logB, n := stats.AlignSeries(
		stats.LogPrices(stats.Tail(closesA, bars)),
		stats.LogPrices(stats.Tail(closesB, bars)),
	)
	if n < 2 {
		return 0, nil, false
	}
	reg, ok := stats.OLSRegression(logA, logB)
	if !ok {
		return 0, nil, false
	}
	return reg.Slope, stats.Spread(logA, logB, reg.Slope), true
}

func (s *MultiTimeframeScanner) logSkip(pair models.WatchPair, reason string) {
	s.logger.WithFields(logrus.Fields{
		"symbol_a": pair.SymbolA,
		"symbol_b": pair.SymbolB,
		"reason":   reason,
	}).Debug("Watchlist pair has no z-score this cycle")
}

// LiveStatsFromSignal extracts the lifecycle inputs of a signal. It returns
// nil when the signal has no z-score.
func LiveStatsFromSignal(sig models.PairSignal) *LiveStats {
	if sig.Metrics.ZScore30d == nil {
		return nil
	}
	live := &LiveStats{SpreadZ: sig.Metrics.ZScore30d}
	if c := sig.Metrics.Cointegration90d; c != nil && c.HalfLife != nil {
		live.HalfLife = c.HalfLife
	}
	return live
}
