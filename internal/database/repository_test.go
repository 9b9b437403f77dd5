package database

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/irfndi/statarb-engine/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestCandidateSnapshotRepository_Save(t *testing.T) {
	mock := newMock(t)
	repo := NewCandidateSnapshotRepository(mock)

	snapshot := &models.CandidateSnapshot{
		Candidates: []models.PairCandidate{{LongSymbol: "ETHUSDT", ShortSymbol: "BTCUSDT"}},
	}

	mock.ExpectExec("INSERT INTO candidate_snapshots").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), []byte("[]")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Save(context.Background(), snapshot))
	assert.NotEmpty(t, snapshot.ID)
	assert.False(t, snapshot.CreatedAt.IsZero())
	assert.NotNil(t, snapshot.Skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandidateSnapshotRepository_SaveError(t *testing.T) {
	mock := newMock(t)
	repo := NewCandidateSnapshotRepository(mock)

	mock.ExpectExec("INSERT INTO candidate_snapshots").
		WithArgs("snap-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	err := repo.Save(context.Background(), &models.CandidateSnapshot{ID: "snap-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save candidate snapshot")
}

func TestCandidateSnapshotRepository_Latest(t *testing.T) {
	mock := newMock(t)
	repo := NewCandidateSnapshotRepository(mock)
	createdAt := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	candidates, _ := json.Marshal([]models.PairCandidate{{LongSymbol: "OPUSDT", ShortSymbol: "ARBUSDT", Correlation: 0.82}})
	skipped, _ := json.Marshal([]models.SkipNote{{Subject: "LINKUSDT", Reason: "insufficient_history"}})

	mock.ExpectQuery("SELECT id, created_at, candidates, skipped FROM candidate_snapshots").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "candidates", "skipped"}).
			AddRow("snap-9", createdAt, candidates, skipped))

	got, err := repo.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "snap-9", got.ID)
	assert.Equal(t, createdAt, got.CreatedAt)
	require.Len(t, got.Candidates, 1)
	assert.Equal(t, "OPUSDT", got.Candidates[0].LongSymbol)
	assert.Equal(t, "insufficient_history", got.Skipped[0].Reason)
}

func TestCandidateSnapshotRepository_LatestEmpty(t *testing.T) {
	mock := newMock(t)
	repo := NewCandidateSnapshotRepository(mock)

	mock.ExpectQuery("FROM candidate_snapshots").WillReturnError(pgx.ErrNoRows)

	_, err := repo.Latest(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func sampleState() *models.ActivePairState {
	return &models.ActivePairState{
		ID:            "9f0c1d2e-0000-4000-8000-000000000001",
		Key:           "BTCUSDT|ETHUSDT",
		Status:        models.StatusOpen,
		LongFirst:     false,
		EntryTime:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		EntrySpreadZ:  2.4,
		EntryHalfLife: 12,
		Legs: []models.LegFill{
			{Symbol: "ETHUSDT", Side: models.SideBuy, Quantity: decimal.NewFromInt(2), Price: decimal.NewFromInt(3000)},
		},
		RealizedPnL: decimal.Zero,
	}
}

func TestActivePairRepository_Upsert(t *testing.T) {
	mock := newMock(t)
	repo := NewActivePairRepository(mock)
	state := sampleState()
	legs, _ := json.Marshal(state.Legs)

	mock.ExpectExec("INSERT INTO active_pairs").
		WithArgs(state.ID, "BTCUSDT|ETHUSDT", "OPEN", false, state.EntryTime, 2.4, 12.0, legs, "0", (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Upsert(context.Background(), state))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivePairRepository_AppendHistory(t *testing.T) {
	mock := newMock(t)
	repo := NewActivePairRepository(mock)
	row := models.HistoryRow{
		Timestamp:     time.Date(2024, 3, 1, 4, 0, 0, 0, time.UTC),
		SpreadZ:       1.8,
		HalfLife:      11,
		PnLUSD:        decimal.RequireFromString("-12.5"),
		DeltaSpreadZ:  -0.6,
		DeltaHalfLife: -1,
		ElapsedMs:     14_400_000,
	}

	mock.ExpectExec("INSERT INTO active_pair_history").
		WithArgs("pair-1", row.Timestamp, 1.8, 11.0, "-12.5", -0.6, -1.0, int64(14_400_000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.AppendHistory(context.Background(), "pair-1", row))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivePairRepository_MarkClosed(t *testing.T) {
	closedAt := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	t.Run("closes record keeping first close time", func(t *testing.T) {
		mock := newMock(t)
		repo := NewActivePairRepository(mock)
		mock.ExpectExec(`UPDATE active_pairs\s+SET status = \$2, closed_at = COALESCE\(closed_at, \$3\)`).
			WithArgs("pair-1", "CLOSED", closedAt, "42.1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.MarkClosed(context.Background(), "pair-1", closedAt, decimal.RequireFromString("42.1")))
	})

	t.Run("unknown record", func(t *testing.T) {
		mock := newMock(t)
		repo := NewActivePairRepository(mock)
		mock.ExpectExec("UPDATE active_pairs").
			WithArgs("pair-1", "CLOSED", closedAt, "0").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.MarkClosed(context.Background(), "pair-1", closedAt, decimal.Zero)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

var historyColumns = []string{"ts", "spread_z", "half_life", "pnl_usd", "delta_spread_z", "delta_half_life", "elapsed_ms"}

func TestActivePairRepository_LatestHistory(t *testing.T) {
	mock := newMock(t)
	repo := NewActivePairRepository(mock)
	ts := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM active_pair_history h").
		WithArgs("BTCUSDT|ETHUSDT").
		WillReturnRows(pgxmock.NewRows(historyColumns).
			AddRow(ts, 1.2, 10.0, "35.25", -1.2, -2.0, int64(28_800_000)))

	row, err := repo.LatestHistory(context.Background(), "BTCUSDT|ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, ts, row.Timestamp)
	assert.Equal(t, 1.2, row.SpreadZ)
	assert.True(t, row.PnLUSD.Equal(decimal.RequireFromString("35.25")))
	assert.Equal(t, int64(28_800_000), row.ElapsedMs)

	mock.ExpectQuery("FROM active_pair_history h").
		WithArgs("ARBUSDT|OPUSDT").
		WillReturnError(pgx.ErrNoRows)
	_, err = repo.LatestHistory(context.Background(), "ARBUSDT|OPUSDT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActivePairRepository_ListOpen(t *testing.T) {
	mock := newMock(t)
	repo := NewActivePairRepository(mock)
	state := sampleState()
	legs, _ := json.Marshal(state.Legs)
	ts := time.Date(2024, 3, 1, 4, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM active_pairs").
		WithArgs("OPEN").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "pair_key", "status", "long_first", "entry_time", "entry_spread_z",
			"entry_half_life", "legs", "realized_pnl", "closed_at",
		}).
			AddRow(state.ID, "BTCUSDT|ETHUSDT", "OPEN", false, state.EntryTime, 2.4, 12.0, legs, "0", (*time.Time)(nil)).
			AddRow("pair-2", "ARBUSDT|OPUSDT", "OPEN", true, state.EntryTime, -1.9, 20.0, []byte("[]"), "5", (*time.Time)(nil)))

	mock.ExpectQuery("FROM active_pair_history").
		WithArgs(state.ID).
		WillReturnRows(pgxmock.NewRows(historyColumns).
			AddRow(ts, 2.0, 12.5, "-3", -0.4, 0.5, int64(14_400_000)))
	mock.ExpectQuery("FROM active_pair_history").
		WithArgs("pair-2").
		WillReturnError(pgx.ErrNoRows)

	states, err := repo.ListOpen(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 2)

	first := states[0]
	assert.Equal(t, models.PairKey("BTCUSDT|ETHUSDT"), first.Key)
	assert.Equal(t, models.StatusOpen, first.Status)
	require.Len(t, first.Legs, 1)
	assert.True(t, first.Legs[0].Price.Equal(decimal.NewFromInt(3000)))
	require.Len(t, first.History, 1)
	assert.Equal(t, 2.0, first.History[0].SpreadZ)

	second := states[1]
	assert.True(t, second.LongFirst)
	assert.True(t, second.RealizedPnL.Equal(decimal.NewFromInt(5)))
	assert.Empty(t, second.History)

	assert.NoError(t, mock.ExpectationsWereMet())
}
