package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/irfndi/statarb-engine/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a test Redis instance using miniredis
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

func sampleKlines() []models.Kline {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []models.Kline{
		{OpenTime: start, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10},
		{OpenTime: start.Add(4 * time.Hour), Open: 100.5, High: 102, Low: 100, Close: 101.5, Volume: 12},
	}
}

func TestRedisKlineCache_SetGet(t *testing.T) {
	_, client := setupTestRedis(t)
	logger, _ := test.NewNullLogger()
	c := NewRedisKlineCache(client, "statarb:", time.Minute, logger)
	ctx := context.Background()

	_, found := c.Get(ctx, "binance", "BTCUSDT", "4h", 600)
	assert.False(t, found)

	c.Set(ctx, "binance", "BTCUSDT", "4h", 600, sampleKlines())

	got, found := c.Get(ctx, "Binance", "BTCUSDT", "4h", 600)
	require.True(t, found)
	assert.Equal(t, sampleKlines(), got)

	// Different limit is a different key.
	_, found = c.Get(ctx, "binance", "BTCUSDT", "4h", 100)
	assert.False(t, found)

	stats := c.GetStats()
	assert.Equal(t, CacheStats{Hits: 1, Misses: 2, Sets: 1}, stats)
	assert.InDelta(t, 33.33, stats.HitRate(), 0.01)
}

func TestRedisKlineCache_Expiry(t *testing.T) {
	s, client := setupTestRedis(t)
	c := NewRedisKlineCache(client, "", time.Minute, nil)
	ctx := context.Background()

	c.Set(ctx, "binance", "ETHUSDT", "4h", 10, sampleKlines())
	s.FastForward(2 * time.Minute)

	_, found := c.Get(ctx, "binance", "ETHUSDT", "4h", 10)
	assert.False(t, found)
}

func TestRedisKlineCache_SkipsEmptyAndZeroTTL(t *testing.T) {
	s, client := setupTestRedis(t)
	ctx := context.Background()

	NewRedisKlineCache(client, "", time.Minute, nil).Set(ctx, "binance", "BTCUSDT", "4h", 10, nil)
	NewRedisKlineCache(client, "", 0, nil).Set(ctx, "binance", "BTCUSDT", "4h", 10, sampleKlines())

	assert.Empty(t, s.Keys())
}

func TestRedisKlineCache_CorruptEntryIsMiss(t *testing.T) {
	s, client := setupTestRedis(t)
	logger, hook := test.NewNullLogger()
	c := NewRedisKlineCache(client, "", time.Minute, logger)

	require.NoError(t, s.Set("klines:binance:BTCUSDT:4h:10", "{not json"))

	_, found := c.Get(context.Background(), "binance", "BTCUSDT", "4h", 10)
	assert.False(t, found)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestRedisKlineCache_Clear(t *testing.T) {
	s, client := setupTestRedis(t)
	c := NewRedisKlineCache(client, "statarb:", time.Minute, nil)
	ctx := context.Background()

	c.Set(ctx, "binance", "BTCUSDT", "4h", 10, sampleKlines())
	c.Set(ctx, "binance", "ETHUSDT", "4h", 10, sampleKlines())
	require.NoError(t, s.Set("statarb:other", "keep"))

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, []string{"statarb:other"}, s.Keys())

	require.NoError(t, c.Clear(ctx))
}

func TestRedisSnapshotCache(t *testing.T) {
	_, client := setupTestRedis(t)
	c := NewRedisSnapshotCache(client, "statarb:", time.Hour)
	ctx := context.Background()

	_, err := c.LatestCandidates(ctx)
	assert.ErrorIs(t, err, ErrNotCached)
	_, err = c.LatestSignals(ctx)
	assert.ErrorIs(t, err, ErrNotCached)

	snapshot := &models.CandidateSnapshot{
		ID:        "snap-1",
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Candidates: []models.PairCandidate{
			{LongSymbol: "ETHUSDT", ShortSymbol: "BTCUSDT", Correlation: 0.9, Notes: []string{"strict"}},
		},
		Skipped: []models.SkipNote{{Subject: "ARBUSDT", Reason: "insufficient_history"}},
	}
	require.NoError(t, c.SetLatestCandidates(ctx, snapshot))

	got, err := c.LatestCandidates(ctx)
	require.NoError(t, err)
	assert.Equal(t, snapshot, got)

	z := 2.5
	signals := []models.PairSignal{{
		Pair:      models.WatchPair{SymbolA: "BTCUSDT", SymbolB: "ETHUSDT"},
		Action:    models.ActionEnter,
		Direction: &models.Direction{Long: "ETHUSDT", Short: "BTCUSDT"},
		Metrics:   models.WindowMetrics{ZScore30d: &z},
		Timestamp: time.Date(2024, 1, 1, 4, 0, 0, 0, time.UTC),
	}}
	require.NoError(t, c.SetLatestSignals(ctx, signals))

	gotSignals, err := c.LatestSignals(ctx)
	require.NoError(t, err)
	assert.Equal(t, signals, gotSignals)
}

func TestRedisSnapshotCache_RedisDown(t *testing.T) {
	s, client := setupTestRedis(t)
	c := NewRedisSnapshotCache(client, "", 0)
	s.Close()

	err := c.SetLatestSignals(context.Background(), nil)
	assert.Error(t, err)
	_, err = c.LatestCandidates(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotCached)
}
