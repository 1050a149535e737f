package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	app     string
	version string
	storage string
	started time.Time
	checks  map[string]CheckFunc
	info    func() map[string]any
}

// NewHealthHandler creates a health handler. checks are run by /health/ready;
// info, if set, adds dependency statistics to /health/info.
func NewHealthHandler(app, version, storage string, checks map[string]CheckFunc, info func() map[string]any) *HealthHandler {
	return &HealthHandler{
		app:     app,
		version: version,
		storage: storage,
		started: time.Now(),
		checks:  checks,
		info:    info,
	}
}

// Live handles the liveness check (is the process alive?).
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready handles the readiness check (is the service ready to accept traffic?).
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = "unhealthy: " + err.Error()
			continue
		}
		results[name] = "healthy"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "error"
	}
	c.JSON(status, gin.H{"status": state, "checks": results})
}

// Info returns application information.
// GET /health/info
func (h *HealthHandler) Info(c *gin.Context) {
	body := gin.H{
		"app":     h.app,
		"version": h.version,
		"storage": h.storage,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	}
	if h.info != nil {
		for k, v := range h.info() {
			body[k] = v
		}
	}
	c.JSON(http.StatusOK, body)
}
