package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

// HealthChecker is any dependency that can be pinged.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthHandler struct {
	checks    map[string]HealthChecker
	breakers  func() map[string]string
	version   string
	startedAt time.Time
	now       func() time.Time
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Breakers  map[string]string `json:"breakers,omitempty"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
}

// NewHealthHandler reports on each named dependency. breakers may be nil.
func NewHealthHandler(checks map[string]HealthChecker, breakers func() map[string]string, version string) *HealthHandler {
	return &HealthHandler{
		checks:    checks,
		breakers:  breakers,
		version:   version,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// HealthCheck answers 200 when every dependency responds and 503 otherwise.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	services := make(map[string]string, len(h.checks))
	overall := statusHealthy
	for name, check := range h.checks {
		if check == nil {
			services[name] = "unhealthy: not configured"
			overall = statusDegraded
			continue
		}
		if err := check.HealthCheck(ctx); err != nil {
			services[name] = "unhealthy: " + err.Error()
			overall = statusDegraded
			continue
		}
		services[name] = statusHealthy
	}

	response := HealthResponse{
		Status:    overall,
		Timestamp: h.now().UTC(),
		Services:  services,
		Version:   h.version,
		Uptime:    h.now().Sub(h.startedAt).Truncate(time.Second).String(),
	}
	if h.breakers != nil {
		response.Breakers = h.breakers()
	}

	code := http.StatusOK
	if overall != statusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response)
}
