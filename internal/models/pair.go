package models

import (
	"time"

	"github.com/irfndi/statarb-engine/internal/stats"
)

// PairTechnicals are the pair-level technical signals derived from both legs.
type PairTechnicals struct {
	RSIDivergence      float64 `json:"rsi_divergence"`
	VolumeConfirmation float64 `json:"volume_confirmation"`
	RegimeScore        float64 `json:"regime_score"`
	ADXTrend           float64 `json:"adx_trend"`
	VolumeTrend        float64 `json:"volume_trend"`
}

// NeutralTechnicals is used when either leg has no kline history.
func NeutralTechnicals() PairTechnicals {
	return PairTechnicals{
		RSIDivergence:      0,
		VolumeConfirmation: 0,
		RegimeScore:        0,
		ADXTrend:           25,
		VolumeTrend:        1,
	}
}

// PairScores holds each leg's rank score and the pair composite.
type PairScores struct {
	Long      float64 `json:"long"`
	Short     float64 `json:"short"`
	Composite float64 `json:"composite"`
}

// PairCandidate is a scored long/short combination produced once per
// generation cycle. It is not modified after creation.
type PairCandidate struct {
	LongSymbol    string                     `json:"long_symbol"`
	ShortSymbol   string                     `json:"short_symbol"`
	Correlation   float64                    `json:"correlation"`
	Beta          float64                    `json:"beta"`
	Cointegration *stats.CointegrationResult `json:"cointegration,omitempty"`
	SpreadZ       float64                    `json:"spread_z"`
	SpreadVol     float64                    `json:"spread_vol"`
	RatioZ        float64                    `json:"ratio_z"`
	FundingNet    float64                    `json:"funding_net"`
	Technicals    PairTechnicals             `json:"technicals"`
	Scores        PairScores                 `json:"scores"`
	SectorLabel   string                     `json:"sector_label"`
	Tier          string                     `json:"tier"`
	Notes         []string                   `json:"notes"`
}

// HalfLife returns the cointegration half-life in bars, if defined.
func (p PairCandidate) HalfLife() (float64, bool) {
	if p.Cointegration == nil || p.Cointegration.HalfLife == nil {
		return 0, false
	}
	return *p.Cointegration.HalfLife, true
}

// SkipNote records why an asset or pair was excluded from a cycle.
type SkipNote struct {
	Subject string `json:"subject"`
	Reason  string `json:"reason"`
	Detail  string `json:"detail,omitempty"`
}

// CandidateSnapshot is a timestamped set of candidates as persisted.
type CandidateSnapshot struct {
	ID         string          `json:"id" db:"id"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	Candidates []PairCandidate `json:"candidates" db:"candidates"`
	Skipped    []SkipNote      `json:"skipped" db:"skipped"`
}
