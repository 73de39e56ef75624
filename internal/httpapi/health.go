package httpapi

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/identity-onboarding/pkg/utils"
)

const readyCheckTimeout = 2 * time.Second

// Check is one dependency probed by /ready.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthResponse is the response structure for health check endpoints
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// handleHealth handles the /health endpoint for liveness probes
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "UP", Version: "1.0.0"})
}

// handleReady reports READY when every dependency answered its probe.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
	defer cancel()

	status := http.StatusOK
	resp := HealthResponse{
		Status: "READY",
		Details: map[string]string{
			"timestamp": utils.FormatISO8601(utils.Now()),
		},
	}
	for _, c := range s.checks {
		if err := c.Probe(ctx); err != nil {
			s.logger.Warn("Readiness check failed", zap.String("check", c.Name), zap.Error(err))
			resp.Details[c.Name] = err.Error()
			resp.Status = "NOT_READY"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Details[c.Name] = "ok"
	}
	writeJSON(w, status, resp)
}
