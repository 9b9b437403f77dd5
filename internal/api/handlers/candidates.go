package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/statarb-engine/internal/database"
	"github.com/irfndi/statarb-engine/internal/middleware"
	"github.com/irfndi/statarb-engine/internal/models"
	"github.com/irfndi/statarb-engine/internal/services"
	"github.com/sirupsen/logrus"
)

// Where a response was served from.
const (
	sourceMemory   = "memory"
	sourceCache    = "cache"
	sourceDatabase = "database"
)

// CycleOutputs exposes the engine's most recent results.
type CycleOutputs interface {
	LatestCandidates() *models.CandidateSnapshot
	LatestSignals() []models.PairSignal
	LastReport() *services.CycleReport
}

// SnapshotCache is the shared cache of the latest cycle outputs.
type SnapshotCache interface {
	LatestCandidates(ctx context.Context) (*models.CandidateSnapshot, error)
	LatestSignals(ctx context.Context) ([]models.PairSignal, error)
}

// SnapshotReader loads persisted candidate snapshots.
type SnapshotReader interface {
	Latest(ctx context.Context) (*models.CandidateSnapshot, error)
}

type CandidateHandler struct {
	engine    CycleOutputs
	cache     SnapshotCache
	snapshots SnapshotReader
	logger    *logrus.Logger
}

type CandidatesResponse struct {
	SnapshotID string                 `json:"snapshot_id,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	Candidates []models.PairCandidate `json:"candidates"`
	Skipped    []models.SkipNote      `json:"skipped,omitempty"`
	Total      int                    `json:"total"`
	Source     string                 `json:"source"`
}

type SignalsResponse struct {
	Signals []models.PairSignal `json:"signals"`
	Total   int                 `json:"total"`
	Source  string              `json:"source"`
}

// NewCandidateHandler reads from the engine first, then cache, then the
// snapshot store. Any of the three may be nil.
func NewCandidateHandler(engine CycleOutputs, cache SnapshotCache, snapshots SnapshotReader, logger *logrus.Logger) *CandidateHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CandidateHandler{engine: engine, cache: cache, snapshots: snapshots, logger: logger}
}

// GetLatestCandidates handles GET /candidates/latest?tier=strict&limit=20&skipped=true.
func (h *CandidateHandler) GetLatestCandidates(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
			return
		}
		limit = n
	}
	tier := strings.ToLower(c.Query("tier"))
	withSkipped := c.Query("skipped") == "true"

	snapshot, source, err := h.latestSnapshot(c.Request.Context())
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No candidate snapshot available yet"})
		return
	}
	if err != nil {
		middleware.RecordError(c, err, "candidate snapshot lookup failed")
		h.logger.WithError(err).Error("Failed to load candidate snapshot")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load candidate snapshot"})
		return
	}

	candidates := make([]models.PairCandidate, 0, len(snapshot.Candidates))
	for _, cand := range snapshot.Candidates {
		if tier != "" && cand.Tier != tier {
			continue
		}
		candidates = append(candidates, cand)
		if limit > 0 && len(candidates) == limit {
			break
		}
	}

	response := CandidatesResponse{
		SnapshotID: snapshot.ID,
		CreatedAt:  snapshot.CreatedAt,
		Candidates: candidates,
		Total:      len(candidates),
		Source:     source,
	}
	if withSkipped {
		response.Skipped = snapshot.Skipped
	}
	middleware.AddSpanAttribute(c, "candidates.source", source)
	middleware.AddSpanAttribute(c, "candidates.count", len(candidates))
	c.JSON(http.StatusOK, response)
}

func (h *CandidateHandler) latestSnapshot(ctx context.Context) (*models.CandidateSnapshot, string, error) {
	if h.engine != nil {
		if snapshot := h.engine.LatestCandidates(); snapshot != nil {
			return snapshot, sourceMemory, nil
		}
	}
	if h.cache != nil {
		snapshot, err := h.cache.LatestCandidates(ctx)
		if err == nil {
			return snapshot, sourceCache, nil
		}
		h.logger.WithError(err).Debug("Candidate cache miss")
	}
	if h.snapshots == nil {
		return nil, "", database.ErrNotFound
	}
	snapshot, err := h.snapshots.Latest(ctx)
	if err != nil {
		return nil, "", err
	}
	return snapshot, sourceDatabase, nil
}

// GetSignals handles GET /signals?action=ENTER.
func (h *CandidateHandler) GetSignals(c *gin.Context) {
	action := models.SignalAction(strings.ToUpper(c.Query("action")))
	switch action {
	case "", models.ActionEnter, models.ActionExit, models.ActionWatch, models.ActionWait:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid action parameter"})
		return
	}

	var (
		signals []models.PairSignal
		source  = sourceMemory
	)
	if h.engine != nil {
		signals = h.engine.LatestSignals()
	}
	if len(signals) == 0 && h.cache != nil {
		cached, err := h.cache.LatestSignals(c.Request.Context())
		if err == nil {
			signals, source = cached, sourceCache
		} else {
			h.logger.WithError(err).Debug("Signal cache miss")
		}
	}

	filtered := make([]models.PairSignal, 0, len(signals))
	for _, sig := range signals {
		if action == "" || sig.Action == action {
			filtered = append(filtered, sig)
		}
	}
	c.JSON(http.StatusOK, SignalsResponse{Signals: filtered, Total: len(filtered), Source: source})
}

// GetLastCycle handles GET /cycles/last.
func (h *CandidateHandler) GetLastCycle(c *gin.Context) {
	if h.engine == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No cycle has run yet"})
		return
	}
	report := h.engine.LastReport()
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No cycle has run yet"})
		return
	}
	c.JSON(http.StatusOK, report)
}
