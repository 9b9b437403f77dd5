package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/irfndi/statarb-engine/internal/config"
	"github.com/irfndi/statarb-engine/internal/models"
	"github.com/irfndi/statarb-engine/pkg/ccxt"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// KlineCache is the read-through cache in front of OHLCV fetches.
type KlineCache interface {
	Get(ctx context.Context, exchange, symbol, timeframe string, limit int) ([]models.Kline, bool)
	Set(ctx context.Context, exchange, symbol, timeframe string, limit int, klines []models.Kline)
}

// MarketDataService fetches klines and funding history from the CCXT
// service. Calls to one exchange are paced by a token bucket, retried with
// backoff and guarded by that exchange's circuit breaker.
type MarketDataService struct {
	client   ccxt.MarketDataClient
	cache    KlineCache
	recovery *ErrorRecoveryManager
	breakers *CircuitBreakerManager
	cfg      config.MarketDataConfig
	logger   *logrus.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewMarketDataService wires the client with pacing, retry and breakers. cache may be nil.
func NewMarketDataService(client ccxt.MarketDataClient, cache KlineCache, cfg config.MarketDataConfig, logger *logrus.Logger) *MarketDataService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	recovery := NewErrorRecoveryManager(logger, ccxt.IsRetryable)
	recovery.RegisterRetryPolicy(PolicyMarketData, &RetryPolicy{
		MaxRetries:    cfg.MaxRetries,
		InitialDelay:  cfg.InitialBackoff,
		MaxDelay:      cfg.MaxBackoff,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	})

	breakers := NewCircuitBreakerManager(CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          cfg.MaxBackoff * 4,
		MaxRequests:      1,
		IsFailure:        ccxt.IsRetryable,
	}, logger)

	return &MarketDataService{
		client:   client,
		cache:    cache,
		recovery: recovery,
		breakers: breakers,
		cfg:      cfg,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (s *MarketDataService) limiter(exchange string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(exchange)
	if l, ok := s.limiters[key]; ok {
		return l
	}
	limit := rate.Inf
	if s.cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(s.cfg.RequestsPerSecond)
	}
	burst := s.cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	l := rate.NewLimiter(limit, burst)
	s.limiters[key] = l
	return l
}

// call paces, retries and breaks one upstream request.
func (s *MarketDataService) call(ctx context.Context, exchange string, fn func(ctx context.Context) error) error {
	breaker := s.breakers.Get(strings.ToLower(exchange))
	limiter := s.limiter(exchange)

	return breaker.Execute(ctx, func(ctx context.Context) error {
		return s.recovery.ExecuteWithRetry(ctx, PolicyMarketData, func() error {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			return fn(ctx)
		})
	})
}

// FetchKlines returns cfg.HistoryLimit bars of cfg.Timeframe in chronological order.
func (s *MarketDataService) FetchKlines(ctx context.Context, exchange, symbol string) ([]models.Kline, error) {
	if exchange == "" {
		exchange = s.cfg.Exchange
	}
	if s.cache != nil {
		if klines, ok := s.cache.Get(ctx, exchange, symbol, s.cfg.Timeframe, s.cfg.HistoryLimit); ok {
			return klines, nil
		}
	}

	var resp *ccxt.OHLCVResponse
	err := s.call(ctx, exchange, func(ctx context.Context) error {
		var err error
		resp, err = s.client.GetOHLCV(ctx, exchange, symbol, s.cfg.Timeframe, s.cfg.HistoryLimit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s: %w", symbol, err)
	}

	klines := make([]models.Kline, 0, len(resp.OHLCV))
	for _, bar := range resp.OHLCV {
		klines = append(klines, models.Kline{
			OpenTime: bar.Timestamp,
			Open:     bar.Open.InexactFloat64(),
			High:     bar.High.InexactFloat64(),
			Low:      bar.Low.InexactFloat64(),
			Close:    bar.Close.InexactFloat64(),
			Volume:   bar.Volume.InexactFloat64(),
		})
	}
	sort.SliceStable(klines, func(i, j int) bool { return klines[i].OpenTime.Before(klines[j].OpenTime) })

	if s.cache != nil {
		s.cache.Set(ctx, exchange, symbol, s.cfg.Timeframe, s.cfg.HistoryLimit, klines)
	}
	return klines, nil
}

// FetchFundingRates returns up to cfg.FundingLimit funding rates, oldest first.
func (s *MarketDataService) FetchFundingRates(ctx context.Context, exchange, symbol string) ([]float64, error) {
	if exchange == "" {
		exchange = s.cfg.Exchange
	}

	var resp *ccxt.FundingRateHistoryResponse
	err := s.call(ctx, exchange, func(ctx context.Context) error {
		var err error
		resp, err = s.client.GetFundingRateHistory(ctx, exchange, symbol, s.cfg.FundingLimit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch funding rates for %s: %w", symbol, err)
	}

	points := append([]ccxt.FundingRatePoint(nil), resp.FundingRates...)
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].FundingTimestamp.Time().Before(points[j].FundingTimestamp.Time())
	})

	rates := make([]float64, len(points))
	for i, p := range points {
		rates[i] = p.FundingRate.InexactFloat64()
	}
	return rates, nil
}

// HealthCheck pings the CCXT service.
func (s *MarketDataService) HealthCheck(ctx context.Context) error {
	_, err := s.client.HealthCheck(ctx)
	return err
}

// BreakerStates reports each exchange breaker's state.
func (s *MarketDataService) BreakerStates() map[string]string {
	return s.breakers.States()
}
