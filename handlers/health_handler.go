package handlers

import (
	"net/http"
	"time"

	"github.com/regenfab/regenops/app"
	"go.uber.org/zap"
)

// healthResponse is the payload for health and readiness probes.
type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Database  string `json:"database,omitempty"`
}

// HealthHandler handles GET /healthz. Liveness only; no dependencies checked.
func HealthHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, healthResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadinessHandler handles GET /readyz. Reports not-ready while the database
// is unreachable.
func ReadinessHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := healthResponse{
			Status:    "ready",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Database:  "ok",
		}

		if err := deps.RepoFactory.GetDB().HealthCheck(r.Context()); err != nil {
			deps.Logger.Warn("readiness check failed", zap.Error(err))
			response.Status = "not_ready"
			response.Database = "unreachable"
			respondJSON(w, http.StatusServiceUnavailable, response)
			return
		}

		respondJSON(w, http.StatusOK, response)
	}
}
