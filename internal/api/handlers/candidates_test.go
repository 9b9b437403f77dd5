package handlers

import (
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/statarb-engine/internal/cache"
	"github.com/irfndi/statarb-engine/internal/database"
	"github.com/irfndi/statarb-engine/internal/models"
	"github.com/irfndi/statarb-engine/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() *models.CandidateSnapshot {
	return &models.CandidateSnapshot{
		ID:        "snap-42",
		CreatedAt: testTime,
		Candidates: []models.PairCandidate{
			{LongSymbol: "OPUSDT", ShortSymbol: "ARBUSDT", Tier: "strict", Scores: models.PairScores{Composite: 1.4}},
			{LongSymbol: "ETHUSDT", ShortSymbol: "SOLUSDT", Tier: "relaxed", Scores: models.PairScores{Composite: 0.9}},
			{LongSymbol: "LINKUSDT", ShortSymbol: "UNIUSDT", Tier: "strict", Scores: models.PairScores{Composite: 0.7}},
		},
		Skipped: []models.SkipNote{{Subject: "BTCUSDT|ETHUSDT", Reason: "low_correlation"}},
	}
}

func candidateRouter(h *CandidateHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/candidates/latest", h.GetLatestCandidates)
	router.GET("/signals", h.GetSignals)
	router.GET("/cycles/last", h.GetLastCycle)
	return router
}

func TestCandidateHandler_GetLatestCandidates(t *testing.T) {
	t.Run("from engine memory with filters", func(t *testing.T) {
		h := NewCandidateHandler(&fakeEngine{snapshot: sampleSnapshot()}, nil, nil, nullLogger())

		w := performRequest(candidateRouter(h), http.MethodGet, "/candidates/latest?tier=STRICT&limit=1&skipped=true", "")

		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[CandidatesResponse](t, w)
		assert.Equal(t, "snap-42", resp.SnapshotID)
		assert.Equal(t, sourceMemory, resp.Source)
		require.Len(t, resp.Candidates, 1)
		assert.Equal(t, "OPUSDT", resp.Candidates[0].LongSymbol)
		assert.Len(t, resp.Skipped, 1)
	})

	t.Run("falls back to cache", func(t *testing.T) {
		mockCache := new(MockSnapshotCache)
		mockCache.On("LatestCandidates", mock.Anything).Return(sampleSnapshot(), nil)
		h := NewCandidateHandler(&fakeEngine{}, mockCache, nil, nullLogger())

		w := performRequest(candidateRouter(h), http.MethodGet, "/candidates/latest", "")

		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[CandidatesResponse](t, w)
		assert.Equal(t, sourceCache, resp.Source)
		assert.Equal(t, 3, resp.Total)
		assert.Empty(t, resp.Skipped)
		mockCache.AssertExpectations(t)
	})

	t.Run("falls back to database", func(t *testing.T) {
		mockCache := new(MockSnapshotCache)
		mockCache.On("LatestCandidates", mock.Anything).Return(nil, cache.ErrNotCached)
		mockStore := new(MockSnapshotReader)
		mockStore.On("Latest", mock.Anything).Return(sampleSnapshot(), nil)
		h := NewCandidateHandler(&fakeEngine{}, mockCache, mockStore, nullLogger())

		w := performRequest(candidateRouter(h), http.MethodGet, "/candidates/latest?tier=relaxed", "")

		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[CandidatesResponse](t, w)
		assert.Equal(t, sourceDatabase, resp.Source)
		require.Len(t, resp.Candidates, 1)
		assert.Equal(t, "relaxed", resp.Candidates[0].Tier)
		mockStore.AssertExpectations(t)
	})

	t.Run("nothing yet", func(t *testing.T) {
		mockStore := new(MockSnapshotReader)
		mockStore.On("Latest", mock.Anything).Return(nil, database.ErrNotFound)
		h := NewCandidateHandler(nil, nil, mockStore, nullLogger())

		w := performRequest(candidateRouter(h), http.MethodGet, "/candidates/latest", "")

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		mockStore := new(MockSnapshotReader)
		mockStore.On("Latest", mock.Anything).Return(nil, errors.New("connection refused"))
		h := NewCandidateHandler(nil, nil, mockStore, nullLogger())

		w := performRequest(candidateRouter(h), http.MethodGet, "/candidates/latest", "")

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "connection refused")
	})

	t.Run("invalid limit", func(t *testing.T) {
		h := NewCandidateHandler(&fakeEngine{snapshot: sampleSnapshot()}, nil, nil, nil)

		for _, q := range []string{"limit=abc", "limit=0", "limit=-3"} {
			w := performRequest(candidateRouter(h), http.MethodGet, "/candidates/latest?"+q, "")
			assert.Equal(t, http.StatusBadRequest, w.Code, q)
		}
	})
}

func TestCandidateHandler_GetSignals(t *testing.T) {
	signals := []models.PairSignal{
		{Pair: models.WatchPair{SymbolA: "BTCUSDT", SymbolB: "ETHUSDT"}, Action: models.ActionEnter},
		{Pair: models.WatchPair{SymbolA: "ARBUSDT", SymbolB: "OPUSDT"}, Action: models.ActionWait},
	}

	t.Run("engine signals filtered by action", func(t *testing.T) {
		h := NewCandidateHandler(&fakeEngine{signals: signals}, nil, nil, nullLogger())

		w := performRequest(candidateRouter(h), http.MethodGet, "/signals?action=enter", "")

		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[SignalsResponse](t, w)
		require.Len(t, resp.Signals, 1)
		assert.Equal(t, "BTCUSDT", resp.Signals[0].Pair.SymbolA)
		assert.Equal(t, sourceMemory, resp.Source)
	})

	t.Run("cache when engine has none", func(t *testing.T) {
		mockCache := new(MockSnapshotCache)
		mockCache.On("LatestSignals", mock.Anything).Return(signals, nil)
		h := NewCandidateHandler(&fakeEngine{}, mockCache, nil, nullLogger())

		w := performRequest(candidateRouter(h), http.MethodGet, "/signals", "")

		resp := decode[SignalsResponse](t, w)
		assert.Equal(t, 2, resp.Total)
		assert.Equal(t, sourceCache, resp.Source)
	})

	t.Run("empty list when nothing cached", func(t *testing.T) {
		mockCache := new(MockSnapshotCache)
		mockCache.On("LatestSignals", mock.Anything).Return(nil, cache.ErrNotCached)
		h := NewCandidateHandler(&fakeEngine{}, mockCache, nil, nullLogger())

		w := performRequest(candidateRouter(h), http.MethodGet, "/signals", "")

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"signals":[],"total":0,"source":"memory"}`, w.Body.String())
	})

	t.Run("invalid action", func(t *testing.T) {
		h := NewCandidateHandler(&fakeEngine{}, nil, nil, nullLogger())
		w := performRequest(candidateRouter(h), http.MethodGet, "/signals?action=BUY", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCandidateHandler_GetLastCycle(t *testing.T) {
	h := NewCandidateHandler(&fakeEngine{}, nil, nil, nullLogger())
	assert.Equal(t, http.StatusNotFound, performRequest(candidateRouter(h), http.MethodGet, "/cycles/last", "").Code)

	report := &services.CycleReport{RunID: "run-1", Candidates: 4, SkipReasons: map[string]int{"low_correlation": 2}}
	h = NewCandidateHandler(&fakeEngine{report: report}, nil, nil, nullLogger())
	w := performRequest(candidateRouter(h), http.MethodGet, "/cycles/last", "")

	require.Equal(t, http.StatusOK, w.Code)
	got := decode[services.CycleReport](t, w)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 2, got.SkipReasons["low_correlation"])
}
