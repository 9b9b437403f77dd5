package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/statarb-engine/internal/config"
	"github.com/irfndi/statarb-engine/internal/models"
	"github.com/irfndi/statarb-engine/internal/telemetry"
	"github.com/irfndi/statarb-engine/internal/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	// ErrPairNotOpen is returned when a key has no OPEN record.
	ErrPairNotOpen = errors.New("pair is not open")
	// ErrPairNotFound is returned when a key has never been entered.
	ErrPairNotFound = errors.New("pair not found")
	// ErrSymbolConflict is wrapped by SymbolConflictError.
	ErrSymbolConflict = errors.New("symbol already in an open pair")
)

// Sources of the spread statistics used in an evaluation.
const (
	StatsSourceLive    = "live"
	StatsSourceHistory = "history"
	StatsSourceEntry   = "entry"
)

// ActivePairStore persists lifecycle records.
type ActivePairStore interface {
	Upsert(ctx context.Context, state *models.ActivePairState) error
	AppendHistory(ctx context.Context, pairID string, row models.HistoryRow) error
	MarkClosed(ctx context.Context, pairID string, closedAt time.Time, realized decimal.Decimal) error
	ListOpen(ctx context.Context) ([]*models.ActivePairState, error)
}

// SymbolConflictError names the OPEN record that already holds Symbol.
type SymbolConflictError struct {
	Symbol string
	Key    models.PairKey
}

func (e *SymbolConflictError) Error() string {
	return fmt.Sprintf("symbol %s is already open in pair %s", e.Symbol, e.Key)
}

func (e *SymbolConflictError) Unwrap() error {
	return ErrSymbolConflict
}

// EntryRequest opens a pair, or flips the direction of an open one.
type EntryRequest struct {
	LongSymbol  string           `json:"long_symbol" binding:"required"`
	ShortSymbol string           `json:"short_symbol" binding:"required"`
	SpreadZ     float64          `json:"spread_z"`
	HalfLife    float64          `json:"half_life"`
	Legs        []models.LegFill `json:"legs"`
	EntryTime   time.Time        `json:"entry_time"`
}

// LiveStats are the current scanner statistics of a pair. Either field may be nil.
type LiveStats struct {
	SpreadZ  *float64
	HalfLife *float64
}

// Evaluation is the outcome of one lifecycle evaluation.
type Evaluation struct {
	Key          models.PairKey      `json:"key"`
	Row          models.HistoryRow   `json:"row"`
	Triggers     models.ExitTriggers `json:"triggers"`
	AnyTriggered bool                `json:"any_triggered"`
	Source       string              `json:"source"`
}

// LifecycleManager tracks entered pairs from OPEN to CLOSED, appends a history
// row per evaluation and flags exit triggers. It never closes a pair itself.
type LifecycleManager struct {
	cfg      config.LifecycleConfig
	barHours float64
	store    ActivePairStore
	recovery *ErrorRecoveryManager
	logger   *logrus.Logger
	tracer   *telemetry.BusinessTracer
	now      func() time.Time

	mu      sync.RWMutex
	records map[models.PairKey]*models.ActivePairState
}

// NewLifecycleManager creates a manager. store may be nil for in-memory use.
func NewLifecycleManager(cfg config.LifecycleConfig, barHours float64, store ActivePairStore, logger *logrus.Logger) *LifecycleManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if barHours <= 0 {
		barHours = 1
	}
	return &LifecycleManager{
		cfg:      cfg,
		barHours: barHours,
		store:    store,
		recovery: NewErrorRecoveryManager(logger, isRetryableStoreError),
		logger:   logger,
		tracer:   telemetry.NewBusinessTracer(),
		now:      time.Now,
		records:  make(map[models.PairKey]*models.ActivePairState),
	}
}

func isRetryableStoreError(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (m *LifecycleManager) persist(ctx context.Context, op func() error) error {
	if m.store == nil {
		return nil
	}
	return m.recovery.ExecuteWithRetry(ctx, PolicyDatabase, op)
}

// Restore loads OPEN records from the store, replacing any in memory.
func (m *LifecycleManager) Restore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	var open []*models.ActivePairState
	err := m.persist(ctx, func() error {
		var err error
		open, err = m.store.ListOpen(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to restore active pairs: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, state := range open {
		m.records[state.Key] = state
	}
	m.logger.WithField("open_pairs", len(open)).Info("Restored active pairs")
	return len(open), nil
}

// CheckSymbolIsolation reports a SymbolConflictError when long or short is
// already a leg of a different OPEN pair. Re-entering the same key is allowed.
func (m *LifecycleManager) CheckSymbolIsolation(long, short string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkIsolationLocked(long, short)
}

// checkIsolationLocked must be called with mu held.
func (m *LifecycleManager) checkIsolationLocked(long, short string) error {
	key, _ := models.CanonicalKey(long, short)
	for _, state := range m.sortedOpen() {
		if state.Key == key {
			continue
		}
		first, second := state.Key.Symbols()
		for _, sym := range []string{long, short} {
			if sym == first || sym == second {
				return &SymbolConflictError{Symbol: sym, Key: state.Key}
			}
		}
	}
	return nil
}

// OnEntry opens a pair. On an already OPEN key the direction changes and,
// when req carries legs, they replace the recorded fills; the entry baseline
// is kept.
func (m *LifecycleManager) OnEntry(ctx context.Context, req EntryRequest) (*models.ActivePairState, error) {
	state, _, err := m.enter(ctx, req, false)
	return state, err
}

// EnterIsolated is OnEntry with the symbol isolation check done under the
// same lock, so concurrent entries sharing a leg cannot both open. The bool
// reports whether a new record was created.
func (m *LifecycleManager) EnterIsolated(ctx context.Context, req EntryRequest) (*models.ActivePairState, bool, error) {
	return m.enter(ctx, req, true)
}

func (m *LifecycleManager) enter(ctx context.Context, req EntryRequest, isolated bool) (*models.ActivePairState, bool, error) {
	long := strings.TrimSpace(req.LongSymbol)
	short := strings.TrimSpace(req.ShortSymbol)
	if long == "" || short == "" {
		return nil, false, utils.NewValidationError("long and short symbols are required")
	}
	if long == short {
		return nil, false, utils.NewValidationErrorf("long and short symbols must differ, got %s twice", long)
	}
	for _, leg := range req.Legs {
		if leg.Symbol != long && leg.Symbol != short {
			return nil, false, utils.NewValidationErrorf("leg symbol %s is not part of the pair", leg.Symbol)
		}
	}

	key, swapped := models.CanonicalKey(long, short)

	m.mu.Lock()
	defer m.mu.Unlock()

	if isolated {
		if err := m.checkIsolationLocked(long, short); err != nil {
			return nil, false, err
		}
	}

	if existing, ok := m.records[key]; ok && existing.Status == models.StatusOpen {
		updated := cloneState(existing)
		updated.LongFirst = !swapped
		if len(req.Legs) > 0 {
			updated.Legs = append([]models.LegFill(nil), req.Legs...)
		}
		if err := m.persist(ctx, func() error { return m.store.Upsert(ctx, updated) }); err != nil {
			return nil, false, fmt.Errorf("failed to update pair %s: %w", key, err)
		}
		m.records[key] = updated
		m.logger.WithFields(logrus.Fields{
			"key":   key,
			"long":  long,
			"short": short,
			"legs":  len(updated.Legs),
		}).Info("Updated open pair direction")
		return cloneState(updated), false, nil
	}

	entryTime := req.EntryTime
	if entryTime.IsZero() {
		entryTime = m.now()
	}
	entryTime = entryTime.UTC()

	state := &models.ActivePairState{
		ID:            uuid.New().String(),
		Key:           key,
		Status:        models.StatusOpen,
		LongFirst:     !swapped,
		EntryTime:     entryTime,
		EntrySpreadZ:  req.SpreadZ,
		EntryHalfLife: req.HalfLife,
		Legs:          append([]models.LegFill(nil), req.Legs...),
		RealizedPnL:   decimal.Zero,
	}
	initial := models.HistoryRow{
		Timestamp: entryTime,
		SpreadZ:   req.SpreadZ,
		HalfLife:  req.HalfLife,
		PnLUSD:    decimal.Zero,
	}
	state.History = []models.HistoryRow{initial}

	stored := false
	err := m.persist(ctx, func() error {
		if err := m.store.Upsert(ctx, state); err != nil {
			return err
		}
		stored = true
		return m.store.AppendHistory(ctx, state.ID, initial)
	})
	if err != nil {
		if stored {
			m.releaseOrphan(ctx, state)
		}
		return nil, false, fmt.Errorf("failed to open pair %s: %w", key, err)
	}

	m.records[key] = state
	m.logger.WithFields(logrus.Fields{
		"key":       key,
		"long":      long,
		"short":     short,
		"spread_z":  req.SpreadZ,
		"half_life": req.HalfLife,
	}).Info("Opened pair")
	return cloneState(state), true, nil
}

// releaseOrphan closes a stored record whose initial history row could not be
// written. Left OPEN it would hold the key's unique open slot in the store
// while memory has no record for it.
func (m *LifecycleManager) releaseOrphan(ctx context.Context, state *models.ActivePairState) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.store.MarkClosed(cleanupCtx, state.ID, state.EntryTime, decimal.Zero); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"key": state.Key,
			"id":  state.ID,
		}).Error("Failed to close orphaned pair record")
	}
}

// Evaluate appends a history row for an OPEN pair and computes its exit
// triggers. live may be nil; missing statistics fall back to the latest
// history row and then to the entry baseline. marks maps symbols to prices
// for unrealized P&L; legs without a mark contribute nothing.
func (m *LifecycleManager) Evaluate(ctx context.Context, key models.PairKey, live *LiveStats, marks map[string]float64) (*Evaluation, error) {
	ctx, span := m.tracer.TraceLifecycleEvaluation(ctx, string(key))
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.records[key]
	if !ok || state.Status != models.StatusOpen {
		m.tracer.RecordError(span, ErrPairNotOpen)
		return nil, fmt.Errorf("%s: %w", key, ErrPairNotOpen)
	}

	z, hl, source := m.currentStats(state, live)
	now := m.now().UTC()
	elapsed := now.Sub(state.EntryTime)

	row := models.HistoryRow{
		Timestamp:     now,
		SpreadZ:       z,
		HalfLife:      hl,
		PnLUSD:        unrealizedPnL(state.Legs, marks),
		DeltaSpreadZ:  math.Abs(state.EntrySpreadZ) - math.Abs(z),
		DeltaHalfLife: state.EntryHalfLife - hl,
		ElapsedMs:     elapsed.Milliseconds(),
	}
	triggers := m.triggers(state, row, elapsed)

	if err := m.persist(ctx, func() error { return m.store.AppendHistory(ctx, state.ID, row) }); err != nil {
		m.tracer.RecordError(span, err)
		return nil, fmt.Errorf("failed to append history for %s: %w", key, err)
	}
	state.History = append(state.History, row)

	eval := &Evaluation{
		Key:          key,
		Row:          row,
		Triggers:     triggers,
		AnyTriggered: triggers.Any(),
		Source:       source,
	}
	if eval.AnyTriggered {
		m.logger.WithFields(logrus.Fields{
			"key":      key,
			"spread_z": z,
			"pnl_usd":  row.PnLUSD.String(),
			"triggers": triggers,
		}).Info("Exit trigger fired")
	}
	return eval, nil
}

func (m *LifecycleManager) currentStats(state *models.ActivePairState, live *LiveStats) (float64, float64, string) {
	z, hl := state.EntrySpreadZ, state.EntryHalfLife
	zSource := StatsSourceEntry
	if last, ok := state.LatestRow(); ok {
		z, hl = last.SpreadZ, last.HalfLife
		zSource = StatsSourceHistory
	}
	if live != nil {
		if live.SpreadZ != nil {
			z = *live.SpreadZ
			zSource = StatsSourceLive
		}
		if live.HalfLife != nil {
			hl = *live.HalfLife
		}
	}
	return z, hl, zSource
}

func (m *LifecycleManager) triggers(state *models.ActivePairState, row models.HistoryRow, elapsed time.Duration) models.ExitTriggers {
	var t models.ExitTriggers
	absZ := math.Abs(row.SpreadZ)
	t.ProfitTarget = absZ <= m.cfg.ProfitTargetZ

	if row.HalfLife > 0 {
		t.TimeStop = elapsed.Hours() >= m.cfg.TimeStopMultiple*row.HalfLife*m.barHours
	}

	if entryAbs := math.Abs(state.EntrySpreadZ); entryAbs > 0 {
		t.Convergence = (entryAbs-absZ)/entryAbs >= m.cfg.ConvergenceRatio
	}

	pnl := row.PnLUSD.InexactFloat64()
	t.RiskReduction = pnl <= m.cfg.RiskReductionUSD
	t.RiskExit = pnl <= m.cfg.RiskExitUSD
	return t
}

// unrealizedPnL is Σ signedQty·(mark − entry price).
func unrealizedPnL(legs []models.LegFill, marks map[string]float64) decimal.Decimal {
	total := decimal.Zero
	for _, leg := range legs {
		mark, ok := marks[leg.Symbol]
		if !ok || mark <= 0 || math.IsInf(mark, 0) || math.IsNaN(mark) {
			continue
		}
		total = total.Add(leg.SignedQuantity().Mul(decimal.NewFromFloat(mark).Sub(leg.Price)))
	}
	return total
}

// OnClose books realized P&L from close events and marks the pair CLOSED.
// Repeated calls accumulate realized P&L, so partial closes can be reported
// one by one; ClosedAt stays at the first close.
func (m *LifecycleManager) OnClose(ctx context.Context, key models.PairKey, events []models.TradeEvent) (*models.ActivePairState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.records[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrPairNotFound)
	}

	realized, err := realizedPnL(state.Legs, events)
	if err != nil {
		return nil, err
	}

	// Partial closes keep the first close time.
	closedAt := m.now().UTC()
	if state.ClosedAt != nil {
		closedAt = *state.ClosedAt
	}
	updated := cloneState(state)
	updated.Status = models.StatusClosed
	updated.ClosedAt = &closedAt
	updated.RealizedPnL = state.RealizedPnL.Add(realized)

	if err := m.persist(ctx, func() error {
		return m.store.MarkClosed(ctx, updated.ID, closedAt, updated.RealizedPnL)
	}); err != nil {
		return nil, fmt.Errorf("failed to close pair %s: %w", key, err)
	}

	m.records[key] = updated
	m.logger.WithFields(logrus.Fields{
		"key":          key,
		"realized":     realized.String(),
		"realized_sum": updated.RealizedPnL.String(),
	}).Info("Closed pair")
	return cloneState(updated), nil
}

func realizedPnL(legs []models.LegFill, events []models.TradeEvent) (decimal.Decimal, error) {
	entries := make(map[string]models.LegFill, len(legs))
	for _, leg := range legs {
		entries[leg.Symbol] = leg
	}

	total := decimal.Zero
	for _, ev := range events {
		switch strings.ToLower(ev.Status) {
		case "canceled", "cancelled", "rejected", "expired":
			continue
		}
		entry, ok := entries[ev.Symbol]
		if !ok {
			return decimal.Zero, utils.NewValidationErrorf("close event symbol %s has no entry fill", ev.Symbol)
		}
		closing := models.LegFill{Symbol: ev.Symbol, Side: ev.Side, Quantity: ev.Quantity, Price: ev.Price}
		total = total.Add(closing.SignedQuantity().Neg().Mul(ev.Price.Sub(entry.Price)))
	}
	return total, nil
}

// Get returns a copy of the latest record for key, open or closed.
func (m *LifecycleManager) Get(key models.PairKey) (*models.ActivePairState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.records[key]
	if !ok {
		return nil, false
	}
	return cloneState(state), true
}

// Open returns copies of all OPEN records ordered by key.
func (m *LifecycleManager) Open() []*models.ActivePairState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	open := m.sortedOpen()
	out := make([]*models.ActivePairState, len(open))
	for i, s := range open {
		out[i] = cloneState(s)
	}
	return out
}

// sortedOpen must be called with mu held.
func (m *LifecycleManager) sortedOpen() []*models.ActivePairState {
	var open []*models.ActivePairState
	for _, s := range m.records {
		if s.Status == models.StatusOpen {
			open = append(open, s)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].Key < open[j].Key })
	return open
}

func cloneState(s *models.ActivePairState) *models.ActivePairState {
	c := *s
	c.Legs = append([]models.LegFill(nil), s.Legs...)
	c.History = append([]models.HistoryRow(nil), s.History...)
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}
