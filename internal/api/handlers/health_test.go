package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/irfndi/statarb-engine/internal/database"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func healthRouter(h *HealthHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", h.HealthCheck)
	return router
}

func TestHealthHandler_Healthy(t *testing.T) {
	s := miniredis.RunT(t)
	rdb := &database.RedisClient{Client: redis.NewClient(&redis.Options{Addr: s.Addr()})}
	t.Cleanup(rdb.Close)

	h := NewHealthHandler(map[string]HealthChecker{
		"redis":    rdb,
		"database": checkFunc(func(context.Context) error { return nil }),
	}, func() map[string]string { return map[string]string{"binance": "closed"} }, "1.2.3")
	h.startedAt = testTime
	h.now = func() time.Time { return testTime.Add(90 * time.Second) }

	w := performRequest(healthRouter(h), http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, statusHealthy, resp.Status)
	assert.Equal(t, map[string]string{"redis": statusHealthy, "database": statusHealthy}, resp.Services)
	assert.Equal(t, "closed", resp.Breakers["binance"])
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "1m30s", resp.Uptime)
}

func TestHealthHandler_Degraded(t *testing.T) {
	s := miniredis.RunT(t)
	rdb := &database.RedisClient{Client: redis.NewClient(&redis.Options{Addr: s.Addr()})}
	t.Cleanup(rdb.Close)
	s.Close()

	h := NewHealthHandler(map[string]HealthChecker{
		"redis": rdb,
		"ccxt":  checkFunc(func(context.Context) error { return errors.New("connection refused") }),
		"none":  nil,
	}, nil, "1.0.0")

	w := performRequest(healthRouter(h), http.MethodGet, "/health", "")

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, statusDegraded, resp.Status)
	assert.Contains(t, resp.Services["redis"], "unhealthy")
	assert.Equal(t, "unhealthy: connection refused", resp.Services["ccxt"])
	assert.Equal(t, "unhealthy: not configured", resp.Services["none"])
	assert.Nil(t, resp.Breakers)
}
