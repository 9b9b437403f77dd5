package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/irfndi/statarb-engine/internal/models"
	"github.com/redis/go-redis/v9"
)

// ErrNotCached is returned when no snapshot has been stored yet.
var ErrNotCached = errors.New("not cached")

// RedisSnapshotCache keeps the latest candidate snapshot and signal scan so
// the API can answer without touching Postgres.
type RedisSnapshotCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisSnapshotCache creates the cache. A zero ttl stores without expiry.
func NewRedisSnapshotCache(redisClient *redis.Client, keyPrefix string, ttl time.Duration) *RedisSnapshotCache {
	return &RedisSnapshotCache{redis: redisClient, ttl: ttl, prefix: keyPrefix}
}

func (c *RedisSnapshotCache) candidatesKey() string { return c.prefix + "candidates:latest" }
func (c *RedisSnapshotCache) signalsKey() string    { return c.prefix + "signals:latest" }

// SetLatestCandidates replaces the cached candidate snapshot.
func (c *RedisSnapshotCache) SetLatestCandidates(ctx context.Context, snapshot *models.CandidateSnapshot) error {
	return c.setJSON(ctx, c.candidatesKey(), snapshot)
}

// LatestCandidates returns the cached candidate snapshot or ErrNotCached.
func (c *RedisSnapshotCache) LatestCandidates(ctx context.Context) (*models.CandidateSnapshot, error) {
	var snapshot models.CandidateSnapshot
	if err := c.getJSON(ctx, c.candidatesKey(), &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// SetLatestSignals replaces the cached watchlist scan.
func (c *RedisSnapshotCache) SetLatestSignals(ctx context.Context, signals []models.PairSignal) error {
	return c.setJSON(ctx, c.signalsKey(), signals)
}

// LatestSignals returns the cached watchlist scan or ErrNotCached.
func (c *RedisSnapshotCache) LatestSignals(ctx context.Context) ([]models.PairSignal, error) {
	var signals []models.PairSignal
	if err := c.getJSON(ctx, c.signalsKey(), &signals); err != nil {
		return nil, err
	}
	return signals, nil
}

func (c *RedisSnapshotCache) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache %s: %w", key, err)
	}
	return nil
}

func (c *RedisSnapshotCache) getJSON(ctx context.Context, key string, v any) error {
	data, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotCached
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}
