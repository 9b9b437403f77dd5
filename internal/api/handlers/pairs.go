package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/statarb-engine/internal/database"
	"github.com/irfndi/statarb-engine/internal/middleware"
	"github.com/irfndi/statarb-engine/internal/models"
	"github.com/irfndi/statarb-engine/internal/services"
	"github.com/irfndi/statarb-engine/internal/utils"
	"github.com/sirupsen/logrus"
)

// PairLifecycle is the subset of the lifecycle manager the API drives.
type PairLifecycle interface {
	Open() []*models.ActivePairState
	Get(key models.PairKey) (*models.ActivePairState, bool)
	EnterIsolated(ctx context.Context, req services.EntryRequest) (*models.ActivePairState, bool, error)
	OnClose(ctx context.Context, key models.PairKey, events []models.TradeEvent) (*models.ActivePairState, error)
}

// HistoryReader loads persisted history rows.
type HistoryReader interface {
	LatestHistory(ctx context.Context, key models.PairKey) (*models.HistoryRow, error)
}

type PairHandler struct {
	lifecycle PairLifecycle
	history   HistoryReader
	logger    *logrus.Logger
}

// ActivePairView adds the resolved legs and latest row to a record.
type ActivePairView struct {
	*models.ActivePairState
	Long   string             `json:"long"`
	Short  string             `json:"short"`
	Latest *models.HistoryRow `json:"latest,omitempty"`
}

type ClosePairRequest struct {
	Events []models.TradeEvent `json:"events" binding:"dive"`
}

// NewPairHandler creates the handler. history may be nil.
func NewPairHandler(lifecycle PairLifecycle, history HistoryReader, logger *logrus.Logger) *PairHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PairHandler{lifecycle: lifecycle, history: history, logger: logger}
}

func newActivePairView(state *models.ActivePairState) ActivePairView {
	long, short := state.LongShort()
	view := ActivePairView{ActivePairState: state, Long: long, Short: short}
	if row, ok := state.LatestRow(); ok {
		view.Latest = &row
	}
	return view
}

// parsePairKey accepts "A|B" or "A,B" in either order.
func parsePairKey(raw string) (models.PairKey, error) {
	sep := "|"
	if !strings.Contains(raw, sep) {
		sep = ","
	}
	parts := strings.Split(raw, sep)
	if len(parts) != 2 {
		return "", utils.NewValidationErrorf("pair key %q must name two symbols", raw)
	}
	a := strings.ToUpper(strings.TrimSpace(parts[0]))
	b := strings.ToUpper(strings.TrimSpace(parts[1]))
	if a == "" || b == "" || a == b {
		return "", utils.NewValidationErrorf("pair key %q must name two different symbols", raw)
	}
	key, _ := models.CanonicalKey(a, b)
	return key, nil
}

// GetActivePairs handles GET /pairs/active.
func (h *PairHandler) GetActivePairs(c *gin.Context) {
	open := h.lifecycle.Open()
	views := make([]ActivePairView, len(open))
	for i, state := range open {
		views[i] = newActivePairView(state)
	}
	c.JSON(http.StatusOK, gin.H{"pairs": views, "total": len(views)})
}

// GetPair handles GET /pairs/:key.
func (h *PairHandler) GetPair(c *gin.Context) {
	key, err := parsePairKey(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	state, ok := h.lifecycle.Get(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Pair not found"})
		return
	}
	c.JSON(http.StatusOK, newActivePairView(state))
}

// GetLatestHistory handles GET /pairs/:key/history/latest. The in-memory
// record wins; the store answers for pairs this process never saw.
func (h *PairHandler) GetLatestHistory(c *gin.Context) {
	key, err := parsePairKey(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if state, ok := h.lifecycle.Get(key); ok {
		if row, ok := state.LatestRow(); ok {
			c.JSON(http.StatusOK, gin.H{"key": key, "row": row, "source": sourceMemory})
			return
		}
	}
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No history for pair"})
		return
	}

	row, err := h.history.LatestHistory(c.Request.Context(), key)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No history for pair"})
		return
	}
	if err != nil {
		middleware.RecordError(c, err, "history lookup failed")
		h.logger.WithError(err).WithField("key", key).Error("Failed to load pair history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load pair history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "row": row, "source": sourceDatabase})
}

// EnterPair handles POST /pairs/entry. It answers 201 for a new pair, 200
// for a direction change and 409 when a leg is held by another open pair.
func (h *PairHandler) EnterPair(c *gin.Context) {
	var req services.EntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	req.LongSymbol = strings.ToUpper(strings.TrimSpace(req.LongSymbol))
	req.ShortSymbol = strings.ToUpper(strings.TrimSpace(req.ShortSymbol))

	state, created, err := h.lifecycle.EnterIsolated(c.Request.Context(), req)
	if err != nil {
		var conflict *services.SymbolConflictError
		if errors.As(err, &conflict) {
			c.JSON(http.StatusConflict, gin.H{
				"error":       err.Error(),
				"symbol":      conflict.Symbol,
				"open_pair":   conflict.Key,
				"long_symbol": req.LongSymbol,
			})
			return
		}
		h.writeLifecycleError(c, err, "Failed to open pair")
		return
	}

	middleware.AddSpanAttribute(c, "pair.key", string(state.Key))
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	c.JSON(code, newActivePairView(state))
}

// ClosePair handles POST /pairs/:key/close with the closing trade events.
func (h *PairHandler) ClosePair(c *gin.Context) {
	key, err := parsePairKey(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req ClosePairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	state, err := h.lifecycle.OnClose(c.Request.Context(), key, req.Events)
	if err != nil {
		h.writeLifecycleError(c, err, "Failed to close pair")
		return
	}
	c.JSON(http.StatusOK, newActivePairView(state))
}

func (h *PairHandler) writeLifecycleError(c *gin.Context, err error, message string) {
	var validation *utils.ValidationError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Message})
	case errors.Is(err, services.ErrPairNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Pair not found"})
	case errors.Is(err, services.ErrSymbolConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		middleware.RecordError(c, err, message)
		h.logger.WithError(err).Error(message)
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}
