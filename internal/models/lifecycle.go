package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PairKey identifies a pair independent of which leg is long, e.g. "BTCUSDT|ETHUSDT".
type PairKey string

const pairKeySeparator = "|"

// CanonicalKey orders the two symbols alphabetically. The second return value
// is true when a is not the first canonical symbol.
func CanonicalKey(a, b string) (PairKey, bool) {
	if a <= b {
		return PairKey(a + pairKeySeparator + b), false
	}
	return PairKey(b + pairKeySeparator + a), true
}

// Symbols splits the key into its canonical first and second symbol.
func (k PairKey) Symbols() (string, string) {
	parts := strings.SplitN(string(k), pairKeySeparator, 2)
	if len(parts) != 2 {
		return string(k), ""
	}
	return parts[0], parts[1]
}

// PairStatus is the lifecycle state of an active pair record.
type PairStatus string

const (
	StatusOpen   PairStatus = "OPEN"
	StatusClosed PairStatus = "CLOSED"
)

// Trade sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// LegFill is an executed entry fill for one leg.
type LegFill struct {
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// SignedQuantity is positive for buys and negative for sells.
func (f LegFill) SignedQuantity() decimal.Decimal {
	if strings.EqualFold(f.Side, SideSell) {
		return f.Quantity.Neg()
	}
	return f.Quantity
}

// TradeEvent is a fill or close event reported by the execution collaborator.
type TradeEvent struct {
	Symbol   string          `json:"symbol" binding:"required"`
	Side     string          `json:"side" binding:"required"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Status   string          `json:"status"`
}

// HistoryRow is one evaluation of an open pair.
type HistoryRow struct {
	Timestamp     time.Time       `json:"ts" db:"ts"`
	SpreadZ       float64         `json:"spread_z" db:"spread_z"`
	HalfLife      float64         `json:"half_life" db:"half_life"`
	PnLUSD        decimal.Decimal `json:"pnl_usd" db:"pnl_usd"`
	DeltaSpreadZ  float64         `json:"delta_spread_z" db:"delta_spread_z"`
	DeltaHalfLife float64         `json:"delta_half_life" db:"delta_half_life"`
	ElapsedMs     int64           `json:"elapsed_ms" db:"elapsed_ms"`
}

// ActivePairState is the baseline and history of one traded pair.
//
// LongFirst records whether the canonical first symbol is currently the long leg.
type ActivePairState struct {
	ID            string          `json:"id" db:"id"`
	Key           PairKey         `json:"key" db:"pair_key"`
	Status        PairStatus      `json:"status" db:"status"`
	LongFirst     bool            `json:"long_first" db:"long_first"`
	EntryTime     time.Time       `json:"entry_time" db:"entry_time"`
	EntrySpreadZ  float64         `json:"entry_spread_z" db:"entry_spread_z"`
	EntryHalfLife float64         `json:"entry_half_life" db:"entry_half_life"`
	Legs          []LegFill       `json:"legs" db:"legs"`
	History       []HistoryRow    `json:"history" db:"-"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty" db:"closed_at"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
}

// LongShort returns the current long and short symbols.
func (s *ActivePairState) LongShort() (string, string) {
	first, second := s.Key.Symbols()
	if s.LongFirst {
		return first, second
	}
	return second, first
}

// LatestRow returns the most recent history row, if any.
func (s *ActivePairState) LatestRow() (HistoryRow, bool) {
	if len(s.History) == 0 {
		return HistoryRow{}, false
	}
	return s.History[len(s.History)-1], true
}

// ExitTriggers are surfaced to an external decision step; none is enforced.
type ExitTriggers struct {
	ProfitTarget  bool `json:"profit_target"`
	TimeStop      bool `json:"time_stop"`
	Convergence   bool `json:"convergence"`
	RiskReduction bool `json:"risk_reduction"`
	RiskExit      bool `json:"risk_exit"`
}

// Any reports whether at least one trigger fired.
func (t ExitTriggers) Any() bool {
	return t.ProfitTarget || t.TimeStop || t.Convergence || t.RiskReduction || t.RiskExit
}
