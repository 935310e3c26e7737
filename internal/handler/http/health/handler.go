package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carelink-backend/pkg/logger"
	"carelink-backend/pkg/metrics"
)

const probeTimeout = 2 * time.Second

// Component status values reported by /health
const (
	StatusUp       = "up"
	StatusDown     = "down"
	StatusDegraded = "degraded"
)

// Check probes one backing dependency. A failing critical check makes the
// whole service unavailable; a failing optional one only degrades it.
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

// Handler serves the health endpoint
type Handler struct {
	checks  []Check
	metrics *metrics.Metrics
}

// NewHandler creates a health handler over the given checks
func NewHandler(m *metrics.Metrics, checks ...Check) *Handler {
	return &Handler{checks: checks, metrics: m}
}

// Health reports overall and per-dependency status
// GET /health
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
	defer cancel()

	overall, code := "ok", http.StatusOK
	components := make(map[string]string, len(h.checks))

	for _, check := range h.checks {
		err := check.Probe(ctx)
		h.metrics.SetDependencyUp(check.Name, err == nil)

		switch {
		case err == nil:
			components[check.Name] = StatusUp
		case check.Critical:
			components[check.Name] = StatusDown
			overall, code = "unavailable", http.StatusServiceUnavailable
		default:
			components[check.Name] = StatusDegraded
			if code == http.StatusOK {
				overall = StatusDegraded
			}
		}
		if err != nil {
			logger.Warn("Health check failed", zap.String("component", check.Name), zap.Error(err))
		}
	}

	c.JSON(code, gin.H{
		"status":     overall,
		"components": components,
		"time":       time.Now().UTC(),
	})
}
