package ccxt

import "context"

// MarketDataClient is the subset of the CCXT sidecar API the engine consumes.
type MarketDataClient interface {
	HealthCheck(ctx context.Context) (*HealthResponse, error)
	GetOHLCV(ctx context.Context, exchange, symbol, timeframe string, limit int) (*OHLCVResponse, error)
	GetFundingRateHistory(ctx context.Context, exchange, symbol string, limit int) (*FundingRateHistoryResponse, error)
}

var _ MarketDataClient = (*Client)(nil)
