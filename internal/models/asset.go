package models

import (
	"strings"
	"time"
)

// LabelDimension names one of the independent ways assets are grouped.
type LabelDimension string

const (
	DimensionSector    LabelDimension = "sector"
	DimensionEcosystem LabelDimension = "ecosystem"
	DimensionAssetType LabelDimension = "asset_type"

	// UnknownLabel is the group for assets without a label in a dimension.
	UnknownLabel = "Unknown"
	// GlobalGroup is the label used for the opt-in cross-group pass.
	GlobalGroup = "Global"
)

// LabelDimensions lists the grouping dimensions in evaluation order.
var LabelDimensions = []LabelDimension{DimensionSector, DimensionEcosystem, DimensionAssetType}

// Liquidity tiers assigned by the metrics enricher.
const (
	LiquidityTierHigh   = "high"
	LiquidityTierMedium = "medium"
	LiquidityTierLow    = "low"
)

// Asset is a tradable instrument in the engine's universe.
type Asset struct {
	Symbol    string        `json:"symbol" mapstructure:"symbol"`
	Exchange  string        `json:"exchange" mapstructure:"exchange"`
	Sector    string        `json:"sector,omitempty" mapstructure:"sector"`
	Ecosystem string        `json:"ecosystem,omitempty" mapstructure:"ecosystem"`
	AssetType string        `json:"asset_type,omitempty" mapstructure:"asset_type"`
	Metrics   *AssetMetrics `json:"metrics,omitempty" mapstructure:"-"`
}

// Label returns the asset's label for dim, or UnknownLabel when empty.
func (a Asset) Label(dim LabelDimension) string {
	var v string
	switch dim {
	case DimensionSector:
		v = a.Sector
	case DimensionEcosystem:
		v = a.Ecosystem
	case DimensionAssetType:
		v = a.AssetType
	}
	if strings.TrimSpace(v) == "" {
		return UnknownLabel
	}
	return v
}

// AssetMetrics are the per-asset liquidity, volatility and funding figures
// used to rank assets.
type AssetMetrics struct {
	LiquidityScore  float64   `json:"liquidity_score"`
	LiquidityTier   string    `json:"liquidity_tier"`
	ATRPct14        float64   `json:"atr_pct_14"`
	FundingMean     float64   `json:"funding_mean"`
	FundingVariance float64   `json:"funding_variance"`
	QuoteVolume     float64   `json:"quote_volume"`
	RSI             *float64  `json:"rsi,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Kline is a single OHLCV bar.
type Kline struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Closes extracts the close prices of klines in order.
func Closes(klines []Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}

// Volumes extracts the base volumes of klines in order.
func Volumes(klines []Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Volume
	}
	return out
}
