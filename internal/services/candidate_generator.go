package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/irfndi/statarb-engine/internal/config"
	"github.com/irfndi/statarb-engine/internal/indicators"
	"github.com/irfndi/statarb-engine/internal/models"
	"github.com/irfndi/statarb-engine/internal/stats"
	"github.com/irfndi/statarb-engine/internal/telemetry"
	"github.com/irfndi/statarb-engine/internal/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Candidate tiers.
const (
	TierStrict     = "strict"
	TierRelaxed    = "relaxed"
	TierUnfiltered = "unfiltered"
)

const (
	adfMaxLags = 10

	minRatioZDays = 14
	maxRatioZDays = 30

	weightCorrelation = 0.20
	weightSpreadZ     = 0.20
	weightLegScore    = 0.15
	weightHalfLife    = 0.08
	halfLifeDivisor   = 5.0
	weightADF         = 0.08
	weightRatioZ      = 0.07
	weightVolumeConf  = 0.07
	weightRegime      = 0.08
)

// GenerationResult is the output of one generation run.
type GenerationResult struct {
	Candidates    []models.PairCandidate `json:"candidates"`
	Skipped       []models.SkipNote      `json:"skipped"`
	RelaxedGroups int                    `json:"relaxed_groups"`
}

// CandidateGenerator groups a universe, ranks each group and turns the best
// and worst ranked assets into statistically gated PairCandidates.
type CandidateGenerator struct {
	cfg        config.GeneratorConfig
	barsPerDay int
	logger     *logrus.Logger
	tracer     *telemetry.BusinessTracer
}

// NewCandidateGenerator creates a generator. barsPerDay converts the
// day-based lookbacks in cfg into bar counts.
func NewCandidateGenerator(cfg config.GeneratorConfig, barsPerDay int, logger *logrus.Logger) *CandidateGenerator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if barsPerDay < 1 {
		barsPerDay = 1
	}
	return &CandidateGenerator{
		cfg:        cfg,
		barsPerDay: barsPerDay,
		logger:     logger,
		tracer:     telemetry.NewBusinessTracer(),
	}
}

type assetGroup struct {
	dimension string
	label     string
	assets    []models.Asset
}

// pairEvaluation holds the group-independent statistics of an ordered pair.
type pairEvaluation struct {
	a, b                    RankedAsset
	correlation             float64
	correlationFromFallback bool
	beta                    float64
	cointegration           *stats.CointegrationResult
	spreadZ                 float64
	spreadVol               float64
	shortSpread             bool
	ratioZ                  float64
	fundingNet              float64
	technicals              models.PairTechnicals
}

func (e *pairEvaluation) halfLife() (float64, bool) {
	if e.cointegration == nil || e.cointegration.HalfLife == nil {
		return 0, false
	}
	return *e.cointegration.HalfLife, true
}

type evaluationOutcome struct {
	eval *pairEvaluation
	err  error
}

// generationRun is the mutable state of a single Generate call.
type generationRun struct {
	g          *CandidateGenerator
	prepared   map[string]RankedAsset
	evaluated  map[string]evaluationOutcome
	candidates []models.PairCandidate
	skipped    []models.SkipNote
	skipSeen   map[string]bool
	relaxed    int
}

// Generate runs the full pipeline over assets. klines is keyed by symbol.
// It never fails: every excluded asset or pair is reported in Skipped.
func (g *CandidateGenerator) Generate(ctx context.Context, assets []models.Asset, klines map[string][]models.Kline) *GenerationResult {
	ctx, span := g.tracer.TraceCandidateGeneration(ctx, len(assets))
	defer span.End()

	run := &generationRun{
		g:         g,
		prepared:  make(map[string]RankedAsset, len(assets)),
		evaluated: make(map[string]evaluationOutcome),
		skipSeen:  make(map[string]bool),
	}

	eligible := make([]models.Asset, 0, len(assets))
	for _, asset := range assets {
		if _, dup := run.prepared[asset.Symbol]; dup {
			continue
		}
		closes := validCloses(klines[asset.Symbol])
		if len(closes) < g.cfg.MinHistoryBars {
			run.skip(utils.NewSkipError(asset.Symbol, utils.ReasonInsufficientHistory,
				fmt.Errorf("%d valid closes, need %d", len(closes), g.cfg.MinHistoryBars)))
			continue
		}
		run.prepared[asset.Symbol] = RankedAsset{
			Asset:  asset,
			RSI:    assetRSI(asset, closes),
			Closes: closes,
			Klines: klines[asset.Symbol],
		}
		eligible = append(eligible, asset)
	}

	for _, grp := range g.groups(eligible) {
		if ctx.Err() != nil {
			g.logger.WithError(ctx.Err()).Warn("Candidate generation interrupted")
			break
		}
		run.processGroup(grp)
	}

	result := &GenerationResult{
		Candidates:    dedupeCandidates(run.candidates),
		Skipped:       run.skipped,
		RelaxedGroups: run.relaxed,
	}
	sort.SliceStable(result.Candidates, func(i, j int) bool {
		return result.Candidates[i].Scores.Composite > result.Candidates[j].Scores.Composite
	})

	g.tracer.RecordGeneration(span, telemetry.GenerationMetrics{
		Assets:     len(assets),
		Candidates: len(result.Candidates),
		Skipped:    len(result.Skipped),
		Relaxed:    result.RelaxedGroups,
	})
	g.logger.WithFields(logrus.Fields{
		"assets":         len(assets),
		"candidates":     len(result.Candidates),
		"skipped":        len(result.Skipped),
		"relaxed_groups": result.RelaxedGroups,
	}).Info("Candidate generation completed")

	return result
}

// groups partitions assets by each label dimension, labels in sorted order,
// followed by the global group when enabled.
func (g *CandidateGenerator) groups(assets []models.Asset) []assetGroup {
	titler := cases.Title(language.Und)
	var out []assetGroup

	for _, dim := range models.LabelDimensions {
		byLabel := make(map[string][]models.Asset)
		for _, a := range assets {
			label := titler.String(strings.ToLower(strings.TrimSpace(a.Label(dim))))
			byLabel[label] = append(byLabel[label], a)
		}
		labels := make([]string, 0, len(byLabel))
		for label := range byLabel {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			out = append(out, assetGroup{dimension: string(dim), label: label, assets: byLabel[label]})
		}
	}

	if g.cfg.IncludeGlobal {
		out = append(out, assetGroup{dimension: "global", label: models.GlobalGroup, assets: assets})
	}
	return out
}

func (g *CandidateGenerator) tradable(asset models.Asset) bool {
	if asset.Metrics == nil {
		return false
	}
	tierOK := false
	for _, tier := range g.cfg.TradableTiers {
		if strings.EqualFold(tier, asset.Metrics.LiquidityTier) {
			tierOK = true
			break
		}
	}
	return tierOK && strings.HasSuffix(strings.ToUpper(asset.Symbol), strings.ToUpper(g.cfg.QuoteSuffix))
}

func (r *generationRun) processGroup(grp assetGroup) {
	g := r.g
	members := make([]RankedAsset, 0, len(grp.assets))
	for _, a := range grp.assets {
		if !g.cfg.NoFilters && !g.tradable(a) {
			r.skip(utils.NewSkipError(a.Symbol, utils.ReasonNotTradable, nil))
			continue
		}
		members = append(members, r.prepared[a.Symbol])
	}
	if len(members) < 2 {
		return
	}

	ranked := RankAssets(members, g.cfg.RankWeights)
	top, bottom := extremes(ranked, g.cfg.TopN)
	if !g.cfg.NoFilters {
		top = r.rsiFilter(top, func(rsi float64) bool { return rsi <= g.cfg.MaxLongRSI }, "long")
		bottom = r.rsiFilter(bottom, func(rsi float64) bool { return rsi >= g.cfg.MinShortRSI }, "short")
	}

	combos, pool := g.combinations(ranked, top, bottom)
	if len(combos) == 0 {
		return
	}
	matrix := NewCorrelationMatrix(pool, g.cfg.CorrelationLookbackDays*g.barsPerDay, stats.MinReturnPoints)

	type accepted struct {
		eval *pairEvaluation
		tier string
	}
	var strict, relaxed []accepted
	seen := make(map[models.PairKey]bool)

	for _, c := range combos {
		key, _ := models.CanonicalKey(c[0].Asset.Symbol, c[1].Asset.Symbol)
		if seen[key] {
			continue
		}
		seen[key] = true

		eval, err := r.evaluate(c[0], c[1], matrix)
		if err != nil {
			r.skip(err)
			continue
		}

		tier, reason := g.classify(eval)
		switch tier {
		case TierStrict, TierUnfiltered:
			strict = append(strict, accepted{eval, tier})
		case TierRelaxed:
			relaxed = append(relaxed, accepted{eval, tier})
		default:
			r.skip(utils.NewSkipError(pairSubject(eval), reason, nil))
		}
	}

	chosen := strict
	if len(strict) == 0 && len(relaxed) > 0 {
		chosen = relaxed
		r.relaxed++
	} else {
		for _, rel := range relaxed {
			_, reason := g.strictFailure(rel.eval)
			r.skip(utils.NewSkipError(pairSubject(rel.eval), reason, fmt.Errorf("strict pairs accepted in %s:%s", grp.dimension, grp.label)))
		}
	}

	scores := make(map[string]float64, len(ranked))
	for _, ra := range ranked {
		scores[ra.Asset.Symbol] = ra.Score
	}
	for _, acc := range chosen {
		r.candidates = append(r.candidates, g.buildCandidate(acc.eval, acc.tier, grp, scores))
	}
}

func (r *generationRun) rsiFilter(legs []RankedAsset, keep func(float64) bool, side string) []RankedAsset {
	out := make([]RankedAsset, 0, len(legs))
	for _, leg := range legs {
		if keep(leg.RSI) {
			out = append(out, leg)
			continue
		}
		r.skip(utils.NewSkipError(leg.Asset.Symbol, utils.ReasonRSIGate,
			fmt.Errorf("RSI %.1f outside %s-leg bound", leg.RSI, side)))
	}
	return out
}

// combinations returns the ordered (A, B) legs to evaluate, A being the
// better ranked asset, and the symbol pool they draw from.
func (g *CandidateGenerator) combinations(ranked, top, bottom []RankedAsset) ([][2]RankedAsset, []RankedAsset) {
	inSelection := make(map[string]bool, len(top)+len(bottom))
	for _, a := range top {
		inSelection[a.Asset.Symbol] = true
	}
	for _, a := range bottom {
		inSelection[a.Asset.Symbol] = true
	}
	pool := make([]RankedAsset, 0, len(inSelection))
	position := make(map[string]int, len(ranked))
	for i, a := range ranked {
		position[a.Asset.Symbol] = i
		if inSelection[a.Asset.Symbol] {
			pool = append(pool, a)
		}
	}

	var combos [][2]RankedAsset
	if g.cfg.PairingStrategy == config.PairingPool {
		for i := 0; i < len(pool); i++ {
			for j := i + 1; j < len(pool); j++ {
				combos = append(combos, [2]RankedAsset{pool[i], pool[j]})
			}
		}
		return combos, pool
	}

	for _, t := range top {
		for _, b := range bottom {
			if t.Asset.Symbol == b.Asset.Symbol {
				continue
			}
			if position[t.Asset.Symbol] < position[b.Asset.Symbol] {
				combos = append(combos, [2]RankedAsset{t, b})
			} else {
				combos = append(combos, [2]RankedAsset{b, t})
			}
		}
	}
	return combos, pool
}

// evaluate computes the statistics of (a, b), memoised per run.
func (r *generationRun) evaluate(a, b RankedAsset, matrix *CorrelationMatrix) (*pairEvaluation, error) {
	memoKey := a.Asset.Symbol + ">" + b.Asset.Symbol
	if out, ok := r.evaluated[memoKey]; ok {
		return out.eval, out.err
	}
	eval, err := r.g.evaluatePair(a, b, matrix)
	r.evaluated[memoKey] = evaluationOutcome{eval: eval, err: err}
	return eval, err
}

func (g *CandidateGenerator) evaluatePair(a, b RankedAsset, matrix *CorrelationMatrix) (*pairEvaluation, error) {
	subject := a.Asset.Symbol + "/" + b.Asset.Symbol
	eval := &pairEvaluation{a: a, b: b}

	corr, ok := matrix.Get(a.Asset.Symbol, b.Asset.Symbol)
	if !ok {
		corr, ok = fallbackCorrelation(a.Closes, b.Closes, g.cfg.MinFallbackPoints)
		if !ok {
			return nil, utils.NewSkipError(subject, utils.ReasonAlignmentFailed, fmt.Errorf("correlation undefined"))
		}
		eval.correlationFromFallback = true
	}
	if corr < g.cfg.MinCorrelation {
		return nil, utils.NewSkipError(subject, utils.ReasonLowCorrelation,
			fmt.Errorf("correlation %.3f below %.3f", corr, g.cfg.MinCorrelation))
	}
	eval.correlation = corr

	hedgeBars := g.cfg.HedgeLookbackDays * g.barsPerDay
	logA, logB, n := stats.AlignSeries(
		stats.LogPrices(stats.Tail(a.Closes, hedgeBars)),
		stats.LogPrices(stats.Tail(b.Closes, hedgeBars)),
	)
	if n < 2 {
		return nil, utils.NewSkipError(subject, utils.ReasonAlignmentFailed, fmt.Errorf("%d aligned log prices", n))
	}
	reg, ok := stats.OLSRegression(logA, logB)
	if !ok {
		return nil, utils.NewSkipError(subject, utils.ReasonDegenerateRegression, nil)
	}
	eval.beta = reg.Slope

	spread := stats.Spread(logA, logB, eval.beta)
	if len(spread) >= g.cfg.MinSpreadPoints {
		eval.spreadVol = stats.SampleStd(spread)
		if z, ok := stats.LatestZScore(spread); ok {
			eval.spreadZ = z
		}
	} else {
		eval.shortSpread = true
	}

	eval.ratioZ = g.ratioZ(a.Closes, b.Closes)

	coint, ok := stats.ADFLikeTest(spread, adfMaxLags)
	if !g.cfg.NoFilters {
		if !ok {
			return nil, utils.NewSkipError(subject, utils.ReasonNotCointegrated, fmt.Errorf("stationarity test undefined"))
		}
		if coint.PValue == nil || *coint.PValue > g.cfg.MaxPValue {
			return nil, utils.NewSkipError(subject, utils.ReasonNotCointegrated,
				fmt.Errorf("ADF t=%.3f fails p<=%.2f", coint.TestStatistic, g.cfg.MaxPValue))
		}
	}
	if ok {
		eval.cointegration = coint
	}

	eval.fundingNet = -fundingMean(a.Asset) + eval.beta*fundingMean(b.Asset)
	eval.technicals = indicators.PairTechnicals(a.Klines, b.Klines)
	return eval, nil
}

// ratioZ is the z-score of the latest log price ratio over a window clamped to [14, 30] days.
func (g *CandidateGenerator) ratioZ(closesA, closesB []float64) float64 {
	days := g.cfg.RatioZLookbackDays
	if days < minRatioZDays {
		days = minRatioZDays
	}
	if days > maxRatioZDays {
		days = maxRatioZDays
	}
	window := days * g.barsPerDay
	logA, logB, n := stats.AlignSeries(stats.LogPrices(stats.Tail(closesA, window)), stats.LogPrices(stats.Tail(closesB, window)))
	ratio := make([]float64, n)
	for i := 0; i < n; i++ {
		ratio[i] = logA[i] - logB[i]
	}
	z, ok := stats.LatestZScore(ratio)
	if !ok {
		return 0
	}
	return z
}

// classify assigns the half-life / |z| tier. The reason is set when no tier applies.
func (g *CandidateGenerator) classify(e *pairEvaluation) (string, string) {
	if g.cfg.NoFilters {
		return TierUnfiltered, ""
	}
	if ok, _ := g.strictFailure(e); ok {
		return TierStrict, ""
	}
	hl, defined := e.halfLife()
	if !defined || hl > g.cfg.Relaxed.MaxHalfLife {
		return "", utils.ReasonHalfLifeGate
	}
	if math.Abs(e.spreadZ) < g.cfg.Relaxed.MinAbsZ {
		return "", utils.ReasonZScoreGate
	}
	return TierRelaxed, ""
}

// strictFailure reports whether e passes the strict tier and, if not, which gate failed.
func (g *CandidateGenerator) strictFailure(e *pairEvaluation) (bool, string) {
	hl, defined := e.halfLife()
	if !defined || hl > g.cfg.Strict.MaxHalfLife {
		return false, utils.ReasonHalfLifeGate
	}
	if math.Abs(e.spreadZ) < g.cfg.Strict.MinAbsZ {
		return false, utils.ReasonZScoreGate
	}
	return true, ""
}

// compositeScore blends the pair statistics with both legs' rank scores.
func (g *CandidateGenerator) compositeScore(e *pairEvaluation, scoreA, scoreB float64) float64 {
	hl, ok := e.halfLife()
	if !ok {
		hl = g.cfg.Relaxed.MaxHalfLife
	}
	adfT := 0.0
	if e.cointegration != nil {
		adfT = e.cointegration.TestStatistic
	}
	return weightCorrelation*e.correlation +
		weightSpreadZ*math.Abs(e.spreadZ) +
		weightLegScore*scoreA +
		weightLegScore*scoreB -
		weightHalfLife*hl/halfLifeDivisor +
		weightADF*stats.Clamp(adfT, -5, 0) +
		weightRatioZ*math.Abs(e.ratioZ) +
		weightVolumeConf*e.technicals.VolumeConfirmation +
		weightRegime*e.technicals.RegimeScore
}

// buildCandidate orients the pair by the sign of the spread z-score: a rich
// first leg (z > 0) is shorted against the second, a cheap one is bought.
func (g *CandidateGenerator) buildCandidate(e *pairEvaluation, tier string, grp assetGroup, scores map[string]float64) models.PairCandidate {
	a, b := e.a.Asset.Symbol, e.b.Asset.Symbol
	long, short := a, b
	if e.spreadZ > 0 {
		long, short = b, a
	}

	notes := []string{
		fmt.Sprintf("group=%s:%s", grp.dimension, grp.label),
		"tier=" + tier,
		fmt.Sprintf("spread=%s-beta*%s", a, b),
	}
	if e.correlationFromFallback {
		notes = append(notes, "correlation_fallback")
	}
	if e.shortSpread {
		notes = append(notes, "short_spread_window")
	}

	return models.PairCandidate{
		LongSymbol:    long,
		ShortSymbol:   short,
		Correlation:   e.correlation,
		Beta:          e.beta,
		Cointegration: e.cointegration,
		SpreadZ:       e.spreadZ,
		SpreadVol:     e.spreadVol,
		RatioZ:        e.ratioZ,
		FundingNet:    e.fundingNet,
		Technicals:    e.technicals,
		Scores: models.PairScores{
			Long:      scores[long],
			Short:     scores[short],
			Composite: g.compositeScore(e, scores[a], scores[b]),
		},
		SectorLabel: grp.label,
		Tier:        tier,
		Notes:       notes,
	}
}

func (r *generationRun) skip(err error) {
	note := models.SkipNote{Reason: utils.SkipReason(err), Detail: err.Error()}
	var skipErr *utils.SkipError
	if errors.As(err, &skipErr) {
		note.Subject = skipErr.Subject
		note.Detail = ""
		if skipErr.Err != nil {
			note.Detail = skipErr.Err.Error()
		}
	}
	key := note.Subject + "|" + note.Reason
	if r.skipSeen[key] {
		return
	}
	r.skipSeen[key] = true
	r.skipped = append(r.skipped, note)

	r.g.logger.WithFields(logrus.Fields{
		"subject": note.Subject,
		"reason":  note.Reason,
		"detail":  note.Detail,
	}).Debug("Skipped during candidate generation")
}

func dedupeCandidates(in []models.PairCandidate) []models.PairCandidate {
	seen := make(map[string]bool, len(in))
	out := make([]models.PairCandidate, 0, len(in))
	for _, c := range in {
		key := c.LongSymbol + "|" + c.ShortSymbol
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func pairSubject(e *pairEvaluation) string {
	return e.a.Asset.Symbol + "/" + e.b.Asset.Symbol
}

func fundingMean(a models.Asset) float64 {
	if a.Metrics == nil {
		return 0
	}
	return a.Metrics.FundingMean
}
