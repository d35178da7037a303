package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"peaceseal.io/herald/internal/pkg/logger"
)

const (
	healthStatusOK       = "ok"
	healthStatusDegraded = "degraded"

	readinessTimeout = 2 * time.Second
)

type healthCheck struct {
	name string
	ping func(ctx context.Context) error
}

// HealthResponse is the body of both health endpoints.
type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]string      `json:"checks,omitempty"`
	Pools  map[string]interface{} `json:"pools,omitempty"`
}

// GetLiveness handles GET /health/live.
func (s *Server) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: healthStatusOK})
}

// GetReadiness handles GET /health/ready. Any failing backend turns the
// response into a 503 so the load balancer stops routing new streams here.
func (s *Server) GetReadiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	checks := make(map[string]string, len(s.checks))
	allHealthy := true
	for _, check := range s.checks {
		if err := check.ping(ctx); err != nil {
			logger.From(ctx).Warn("readiness check failed",
				zap.String("check", check.name),
				zap.Error(err),
			)
			checks[check.name] = "error"
			allHealthy = false
			continue
		}
		checks[check.name] = healthStatusOK
	}

	status := healthStatusOK
	httpStatus := http.StatusOK
	if !allHealthy {
		status = healthStatusDegraded
		httpStatus = http.StatusServiceUnavailable
	}

	resp := HealthResponse{Status: status, Checks: checks}
	if s.pools != nil {
		resp.Pools = s.pools.Metrics()
	}
	c.JSON(httpStatus, resp)
}
