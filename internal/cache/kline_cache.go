package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/irfndi/statarb-engine/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// KlineCacheEntry is the stored form of one kline series.
type KlineCacheEntry struct {
	Klines   []models.Kline `json:"klines"`
	CachedAt time.Time      `json:"cached_at"`
}

// CacheStats tracks cache performance.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
}

// HitRate returns hits as a percentage of lookups.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

type counters struct {
	hits, misses, sets atomic.Int64
}

func (c *counters) snapshot() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Sets: c.sets.Load()}
}

// RedisKlineCache caches fetched kline series for a short TTL so repeated
// cycles inside one bar do not refetch history.
type RedisKlineCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	stats  counters
	logger *logrus.Logger
}

// NewRedisKlineCache creates a new Redis-based kline cache. keyPrefix namespaces all keys.
func NewRedisKlineCache(redisClient *redis.Client, keyPrefix string, ttl time.Duration, logger *logrus.Logger) *RedisKlineCache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisKlineCache{
		redis:  redisClient,
		ttl:    ttl,
		prefix: keyPrefix + "klines:",
		logger: logger,
	}
}

func (c *RedisKlineCache) key(exchange, symbol, timeframe string, limit int) string {
	return fmt.Sprintf("%s%s:%s:%s:%d", c.prefix, strings.ToLower(exchange), symbol, timeframe, limit)
}

// Get returns the cached series. Redis errors are logged and reported as misses.
func (c *RedisKlineCache) Get(ctx context.Context, exchange, symbol, timeframe string, limit int) ([]models.Kline, bool) {
	data, err := c.redis.Get(ctx, c.key(exchange, symbol, timeframe, limit)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("symbol", symbol).Warn("Redis error getting klines")
		}
		c.stats.misses.Add(1)
		return nil, false
	}

	var entry KlineCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.WithError(err).WithField("symbol", symbol).Warn("Error deserializing cached klines")
		c.stats.misses.Add(1)
		return nil, false
	}

	c.stats.hits.Add(1)
	return entry.Klines, true
}

// Set stores a series. An empty series is not cached.
func (c *RedisKlineCache) Set(ctx context.Context, exchange, symbol, timeframe string, limit int, klines []models.Kline) {
	if len(klines) == 0 || c.ttl <= 0 {
		return
	}

	data, err := json.Marshal(KlineCacheEntry{Klines: klines, CachedAt: time.Now().UTC()})
	if err != nil {
		c.logger.WithError(err).WithField("symbol", symbol).Warn("Error serializing klines")
		return
	}
	if err := c.redis.Set(ctx, c.key(exchange, symbol, timeframe, limit), data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("symbol", symbol).Warn("Redis error setting klines")
		return
	}
	c.stats.sets.Add(1)
}

// GetStats returns current cache statistics
func (c *RedisKlineCache) GetStats() CacheStats {
	return c.stats.snapshot()
}

// Clear removes every cached series.
func (c *RedisKlineCache) Clear(ctx context.Context) error {
	var keys []string
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("error scanning cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("error clearing cache: %w", err)
	}
	c.logger.WithField("entries", len(keys)).Info("Cleared kline cache")
	return nil
}
