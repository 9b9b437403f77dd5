package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/statarb-engine/internal/models"
	"github.com/irfndi/statarb-engine/internal/services"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type MockSnapshotCache struct {
	mock.Mock
}

func (m *MockSnapshotCache) LatestCandidates(ctx context.Context) (*models.CandidateSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CandidateSnapshot), args.Error(1)
}

func (m *MockSnapshotCache) LatestSignals(ctx context.Context) ([]models.PairSignal, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PairSignal), args.Error(1)
}

type MockSnapshotReader struct {
	mock.Mock
}

func (m *MockSnapshotReader) Latest(ctx context.Context) (*models.CandidateSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CandidateSnapshot), args.Error(1)
}

type MockHistoryReader struct {
	mock.Mock
}

func (m *MockHistoryReader) LatestHistory(ctx context.Context, key models.PairKey) (*models.HistoryRow, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.HistoryRow), args.Error(1)
}

// fakeEngine serves fixed cycle outputs.
type fakeEngine struct {
	snapshot *models.CandidateSnapshot
	signals  []models.PairSignal
	report   *services.CycleReport
}

func (f *fakeEngine) LatestCandidates() *models.CandidateSnapshot { return f.snapshot }
func (f *fakeEngine) LatestSignals() []models.PairSignal { return f.signals }
func (f *fakeEngine) LastReport() *services.CycleReport { return f.report }

func nullLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func performRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}
