package api

import (
	"github.com/gin-gonic/gin"
	"github.com/irfndi/statarb-engine/internal/api/handlers"
	"github.com/irfndi/statarb-engine/internal/middleware"
)

// Handlers groups everything SetupRoutes mounts.
type Handlers struct {
	Health     *handlers.HealthHandler
	Candidates *handlers.CandidateHandler
	Pairs      *handlers.PairHandler
	Admin      *middleware.AdminMiddleware
}

func SetupRoutes(router *gin.Engine, h Handlers) {
	health := []gin.HandlerFunc{middleware.HealthCheckTelemetryMiddleware(), h.Health.HealthCheck}
	router.GET("/health", health...)

	admin := h.Admin
	if admin == nil {
		admin = middleware.NewAdminMiddleware("")
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", health...)

		v1.GET("/candidates/latest", h.Candidates.GetLatestCandidates)
		v1.GET("/signals", h.Candidates.GetSignals)
		v1.GET("/cycles/last", h.Candidates.GetLastCycle)

		pairs := v1.Group("/pairs")
		{
			pairs.GET("/active", h.Pairs.GetActivePairs)
			pairs.GET("/:key", h.Pairs.GetPair)
			pairs.GET("/:key/history/latest", h.Pairs.GetLatestHistory)
			pairs.POST("/entry", admin.RequireAdminAuth(), h.Pairs.EnterPair)
			pairs.POST("/:key/close", admin.RequireAdminAuth(), h.Pairs.ClosePair)
		}
	}
}
