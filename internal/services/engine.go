package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/statarb-engine/internal/config"
	"github.com/irfndi/statarb-engine/internal/models"
	"github.com/irfndi/statarb-engine/internal/telemetry"
	"github.com/irfndi/statarb-engine/internal/utils"
	"github.com/sirupsen/logrus"
)

// KlineSource fetches an asset's kline history.
type KlineSource interface {
	FetchKlines(ctx context.Context, exchange, symbol string) ([]models.Kline, error)
}

// SnapshotStore persists candidate snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, snapshot *models.CandidateSnapshot) error
}

// LatestCache publishes the latest cycle outputs.
type LatestCache interface {
	SetLatestCandidates(ctx context.Context, snapshot *models.CandidateSnapshot) error
	SetLatestSignals(ctx context.Context, signals []models.PairSignal) error
}

// CycleReport summarises one engine cycle.
type CycleReport struct {
	RunID         string         `json:"run_id"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Assets        int            `json:"assets"`
	Enriched      int            `json:"enriched"`
	Candidates    int            `json:"candidates"`
	RelaxedGroups int            `json:"relaxed_groups"`
	SnapshotID    string         `json:"snapshot_id,omitempty"`
	Signals       int            `json:"signals"`
	Evaluated     int            `json:"evaluated"`
	Triggered     int            `json:"triggered"`
	SkipReasons   map[string]int `json:"skip_reasons"`
	Errors        []string       `json:"errors,omitempty"`
}

// EngineDeps are the collaborators of an Engine. Snapshots and Cache may be nil.
type EngineDeps struct {
	Market    KlineSource
	Enricher  *MetricsEnricher
	Generator *CandidateGenerator
	Scanner   *MultiTimeframeScanner
	Lifecycle *LifecycleManager
	Snapshots SnapshotStore
	Cache     LatestCache
}

// Engine runs the scheduler cycle: fetch, enrich, generate, scan and
// evaluate open pairs.
type Engine struct {
	universe  []models.Asset
	watchlist []models.WatchPair
	cfg       config.EngineConfig
	exchange  string
	deps      EngineDeps
	recovery  *ErrorRecoveryManager
	logger    *logrus.Logger
	tracer    *telemetry.BusinessTracer
	now       func() time.Time

	mu         sync.RWMutex
	lastReport *CycleReport
	candidates *models.CandidateSnapshot
	signals    []models.PairSignal
}

// NewEngine creates an engine over cfg's universe and watchlist.
func NewEngine(cfg *config.Config, deps EngineDeps, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		universe:  cfg.Universe,
		watchlist: cfg.Watchlist,
		cfg:       cfg.Engine,
		exchange:  cfg.MarketData.Exchange,
		deps:      deps,
		recovery:  NewErrorRecoveryManager(logger, isRetryableStoreError),
		logger:    logger,
		tracer:    telemetry.NewBusinessTracer(),
		now:       time.Now,
	}
}

// Run executes cycles every CycleInterval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.CycleInterval
	if interval <= 0 {
		interval = 4 * time.Hour
	}
	e.logger.WithField("interval", interval).Info("Starting engine")

	if e.cfg.RunOnStart {
		e.RunCycle(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine stopped")
			return nil
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// RunCycle executes one cycle. It never fails as a whole: problems are
// counted in the report and the rest of the cycle proceeds.
func (e *Engine) RunCycle(ctx context.Context) *CycleReport {
	report := &CycleReport{
		RunID:       uuid.New().String(),
		StartedAt:   e.now().UTC(),
		Assets:      len(e.universe),
		SkipReasons: make(map[string]int),
	}
	ctx, span := e.tracer.TraceCycle(ctx, report.RunID)
	defer span.End()

	log := e.logger.WithField("run_id", report.RunID)
	log.Info("Engine cycle started")

	open := e.openPairs()
	klines, fetchNotes := e.fetchAll(ctx, open)
	addSkips(report, fetchNotes)

	if e.deps.Generator != nil {
		e.generate(ctx, report, klines)
	}

	signals := e.scan(ctx, report, klines)
	e.evaluateOpen(ctx, report, open, signals, klines)

	report.FinishedAt = e.now().UTC()
	e.mu.Lock()
	e.lastReport = report
	e.mu.Unlock()

	log.WithFields(logrus.Fields{
		"candidates": report.Candidates,
		"signals":    report.Signals,
		"evaluated":  report.Evaluated,
		"triggered":  report.Triggered,
		"errors":     len(report.Errors),
		"duration":   report.FinishedAt.Sub(report.StartedAt),
	}).Info("Engine cycle completed")
	return report
}

func (e *Engine) openPairs() []*models.ActivePairState {
	if e.deps.Lifecycle == nil {
		return nil
	}
	return e.deps.Lifecycle.Open()
}

// fetchAll loads klines for the universe, the watchlist and open pair legs,
// one symbol at a time. Failed symbols are reported and left out.
func (e *Engine) fetchAll(ctx context.Context, open []*models.ActivePairState) (map[string][]models.Kline, []models.SkipNote) {
	type target struct{ exchange, symbol string }
	var targets []target
	seen := make(map[string]bool)
	add := func(exchange, symbol string) {
		if symbol == "" || seen[symbol] {
			return
		}
		seen[symbol] = true
		if exchange == "" {
			exchange = e.exchange
		}
		targets = append(targets, target{exchange, symbol})
	}
	for _, a := range e.universe {
		add(a.Exchange, a.Symbol)
	}
	for _, p := range e.watchlist {
		add(p.Exchange, p.SymbolA)
		add(p.Exchange, p.SymbolB)
	}
	for _, s := range open {
		first, second := s.Key.Symbols()
		add("", first)
		add("", second)
	}

	klines := make(map[string][]models.Kline, len(targets))
	var notes []models.SkipNote
	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		bars, err := e.deps.Market.FetchKlines(ctx, t.exchange, t.symbol)
		if err != nil {
			notes = append(notes, models.SkipNote{Subject: t.symbol, Reason: utils.ReasonFetchFailed, Detail: err.Error()})
			e.logger.WithFields(logrus.Fields{
				"symbol":   t.symbol,
				"exchange": t.exchange,
				"reason":   utils.ReasonFetchFailed,
			}).WithError(err).Warn("Kline fetch failed")
			continue
		}
		klines[t.symbol] = bars
	}
	return klines, notes
}

func (e *Engine) generate(ctx context.Context, report *CycleReport, klines map[string][]models.Kline) {
	assets := make([]models.Asset, 0, len(e.universe))
	for _, a := range e.universe {
		if _, ok := klines[a.Symbol]; ok {
			assets = append(assets, a)
		}
	}

	enriched := assets
	if e.deps.Enricher != nil {
		var notes []models.SkipNote
		enriched, notes = e.deps.Enricher.Enrich(ctx, assets, klines)
		addSkips(report, notes)
	}
	report.Enriched = len(enriched)

	result := e.deps.Generator.Generate(ctx, enriched, klines)
	report.Candidates = len(result.Candidates)
	report.RelaxedGroups = result.RelaxedGroups
	addSkips(report, result.Skipped)

	snapshot := &models.CandidateSnapshot{
		CreatedAt:  e.now().UTC(),
		Candidates: result.Candidates,
		Skipped:    result.Skipped,
	}
	if e.deps.Snapshots != nil {
		err := e.recovery.ExecuteWithRetry(ctx, PolicyDatabase, func() error {
			return e.deps.Snapshots.Save(ctx, snapshot)
		})
		if err != nil {
			e.recordError(report, "save candidate snapshot", err)
		} else {
			report.SnapshotID = snapshot.ID
		}
	}
	if e.deps.Cache != nil {
		if err := e.deps.Cache.SetLatestCandidates(ctx, snapshot); err != nil {
			e.recordError(report, "cache candidate snapshot", err)
		}
	}

	e.mu.Lock()
	e.candidates = snapshot
	e.mu.Unlock()
}

func (e *Engine) scan(ctx context.Context, report *CycleReport, klines map[string][]models.Kline) map[models.PairKey]models.PairSignal {
	byKey := make(map[models.PairKey]models.PairSignal)
	if e.deps.Scanner == nil {
		return byKey
	}

	signals := e.deps.Scanner.Scan(ctx, e.watchlist, klines)
	report.Signals = len(signals)
	for _, sig := range signals {
		byKey[sig.Pair.Key()] = sig
	}
	if e.deps.Cache != nil {
		if err := e.deps.Cache.SetLatestSignals(ctx, signals); err != nil {
			e.recordError(report, "cache signals", err)
		}
	}

	e.mu.Lock()
	e.signals = signals
	e.mu.Unlock()
	return byKey
}

// evaluateOpen appends a history row to every open pair. Pairs off the
// watchlist are scanned on the spot.
func (e *Engine) evaluateOpen(ctx context.Context, report *CycleReport, open []*models.ActivePairState, signals map[models.PairKey]models.PairSignal, klines map[string][]models.Kline) {
	if e.deps.Lifecycle == nil {
		return
	}
	for _, state := range open {
		if ctx.Err() != nil {
			return
		}
		first, second := state.Key.Symbols()

		var live *LiveStats
		sig, ok := signals[state.Key]
		if !ok && e.deps.Scanner != nil {
			sig = e.deps.Scanner.ScanPair(models.WatchPair{SymbolA: first, SymbolB: second},
				validCloses(klines[first]), validCloses(klines[second]))
			ok = true
		}
		if ok {
			live = LiveStatsFromSignal(sig)
		}

		marks := make(map[string]float64, 2)
		for _, sym := range []string{first, second} {
			if bars := klines[sym]; len(bars) > 0 {
				marks[sym] = bars[len(bars)-1].Close
			}
		}

		eval, err := e.deps.Lifecycle.Evaluate(ctx, state.Key, live, marks)
		if err != nil {
			e.recordError(report, "evaluate "+string(state.Key), err)
			continue
		}
		report.Evaluated++
		if eval.AnyTriggered {
			report.Triggered++
		}
	}
}

func (e *Engine) recordError(report *CycleReport, what string, err error) {
	report.Errors = append(report.Errors, what+": "+err.Error())
	e.logger.WithFields(logrus.Fields{
		"run_id": report.RunID,
		"step":   what,
	}).WithError(err).Error("Engine cycle step failed")
}

func addSkips(report *CycleReport, notes []models.SkipNote) {
	for _, n := range notes {
		report.SkipReasons[n.Reason]++
	}
}

// LastReport returns the report of the most recent cycle, or nil.
func (e *Engine) LastReport() *CycleReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastReport
}

// LatestCandidates returns the snapshot produced by the most recent cycle, or nil.
func (e *Engine) LatestCandidates() *models.CandidateSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.candidates
}

// LatestSignals returns the signals of the most recent scan.
func (e *Engine) LatestSignals() []models.PairSignal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]models.PairSignal(nil), e.signals...)
}
