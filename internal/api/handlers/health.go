package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/marmos91/dittorpc/pkg/server"
)

// HealthCheckTimeout bounds dependency checks of the readiness probe.
const HealthCheckTimeout = 5 * time.Second

// Healthchecker is a dependency reported by the readiness probe.
type Healthchecker interface {
	Healthcheck(ctx context.Context) error
}

// HealthHandler handles the unauthenticated health endpoints.
type HealthHandler struct {
	srv       *server.Server
	checks    map[string]Healthchecker
	startTime time.Time
}

// NewHealthHandler creates a health handler. checks are probed by
// Readiness; nil entries are skipped.
func NewHealthHandler(srv *server.Server, checks map[string]Healthchecker) *HealthHandler {
	return &HealthHandler{srv: srv, checks: checks, startTime: time.Now()}
}

// Liveness handles GET /health.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	writeJSON(w, http.StatusOK, healthyResponse(map[string]any{
		"service":    "dittorpc",
		"started_at": h.startTime.UTC().Format(time.RFC3339),
		"uptime":     uptime.Round(time.Second).String(),
		"uptime_sec": int64(uptime.Seconds()),
	}))
}

// Readiness handles GET /health/ready.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.srv == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("server not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), HealthCheckTimeout)
	defer cancel()
	for name, c := range h.checks {
		if c == nil {
			continue
		}
		if err := c.Healthcheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(name+": "+err.Error()))
			return
		}
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]any{
		"sessions": len(h.srv.SessionInfos()),
	}))
}
