package models

import (
	"time"

	"github.com/irfndi/statarb-engine/internal/stats"
)

// SignalAction is the scanner's classification of a watchlist pair.
type SignalAction string

const (
	ActionEnter SignalAction = "ENTER"
	ActionExit  SignalAction = "EXIT"
	ActionWatch SignalAction = "WATCH"
	ActionWait  SignalAction = "WAIT"
)

// WatchPair is a fixed (SymbolA, SymbolB) watchlist entry.
type WatchPair struct {
	SymbolA  string `json:"symbol_a" mapstructure:"symbol_a"`
	SymbolB  string `json:"symbol_b" mapstructure:"symbol_b"`
	Exchange string `json:"exchange" mapstructure:"exchange"`
}

// Key is the canonical key of the pair.
func (w WatchPair) Key() PairKey {
	key, _ := CanonicalKey(w.SymbolA, w.SymbolB)
	return key
}

// Direction describes which symbol to long and which to short.
type Direction struct {
	Long  string `json:"long"`
	Short string `json:"short"`
}

// PositionSizing splits notional between the legs from the short-window hedge ratio.
type PositionSizing struct {
	LongPercent  float64 `json:"long_percent"`
	ShortPercent float64 `json:"short_percent"`
}

// WindowMetrics are the scanner statistics, each tagged by its lookback.
type WindowMetrics struct {
	Correlation30d   *float64                   `json:"corr_30d"`
	Cointegration90d *stats.CointegrationResult `json:"coint_90d"`
	Hedge90d         *float64                   `json:"hedge_90d"`
	Hedge7d          *float64                   `json:"hedge_7d"`
	Hedge30dZ        *float64                   `json:"hedge_30d_z"`
	ZScore30d        *float64                   `json:"z_30d"`
}

// PairSignal is the per-cycle scanner output for one watchlist pair.
type PairSignal struct {
	Pair      WatchPair       `json:"pair"`
	Action    SignalAction    `json:"action"`
	Direction *Direction      `json:"direction,omitempty"`
	Sizing    *PositionSizing `json:"sizing,omitempty"`
	Metrics   WindowMetrics   `json:"metrics"`
	Reason    string          `json:"reason,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
