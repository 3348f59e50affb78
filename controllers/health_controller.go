package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is any dependency the health check probes.
type Pinger func(ctx context.Context) error

type HealthController struct {
	checks map[string]Pinger
}

func NewHealthController(checks map[string]Pinger) *HealthController {
	return &HealthController{checks: checks}
}

// Health reports OK only when every dependency answers.
func (hc *HealthController) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(gin.H, len(hc.checks))
	for name, ping := range hc.checks {
		if err := ping(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	overall := "OK"
	if status != http.StatusOK {
		overall = "DEGRADED"
	}
	c.JSON(status, gin.H{"status": overall, "dependencies": deps})
}
