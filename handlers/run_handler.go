package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/regenfab/regenops/app"
	"github.com/regenfab/regenops/services/orchestrator"
	"github.com/regenfab/regenops/utils"
)

// startRunBody is the transport shape for run start requests.
type startRunBody struct {
	RunID           string `json:"run_id"`
	ProtocolID      string `json:"protocol_id"`
	ProtocolVersion int    `json:"protocol_version"`
	GatewayID       string `json:"gateway_id"`
	IdempotencyKey  string `json:"idempotency_key"`
}

// abortRunBody carries the operator-supplied abort reason.
type abortRunBody struct {
	Reason string `json:"reason"`
}

// StartRunHandler handles POST /api/v1/runs
func StartRunHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, actorID, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		var body startRunBody
		if !decodeBody(w, r, &body) {
			return
		}
		if body.IdempotencyKey == "" {
			body.IdempotencyKey = r.Header.Get("Idempotency-Key")
		}

		run, err := deps.Orchestrator.StartRun(r.Context(), tenantID, orchestrator.StartRunRequest{
			RunID:           body.RunID,
			ProtocolID:      body.ProtocolID,
			ProtocolVersion: body.ProtocolVersion,
			GatewayID:       body.GatewayID,
			OperatorID:      actorID,
			IdempotencyKey:  body.IdempotencyKey,
		})
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteCreated(w, run)
	}
}

// PauseRunHandler handles POST /api/v1/runs/{runID}/pause
func PauseRunHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, actorID, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		run, err := deps.Orchestrator.PauseRun(r.Context(), tenantID, chi.URLParam(r, "runID"), actorID)
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteOK(w, run)
	}
}

// AbortRunHandler handles POST /api/v1/runs/{runID}/abort
func AbortRunHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, actorID, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		var body abortRunBody
		if !decodeBody(w, r, &body) {
			return
		}

		run, err := deps.Orchestrator.AbortRun(r.Context(), tenantID, chi.URLParam(r, "runID"), actorID, body.Reason)
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteOK(w, run)
	}
}

// GetRunHandler handles GET /api/v1/runs/{runID}
func GetRunHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		run, err := deps.Orchestrator.GetRun(r.Context(), tenantID, chi.URLParam(r, "runID"))
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteOK(w, run)
	}
}

// StreamRunEventsHandler handles GET /api/v1/runs/{runID}/events.
// Cursor parameters: since_ms, since_seq, limit.
func StreamRunEventsHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		events, err := deps.Orchestrator.StreamRunEvents(r.Context(), tenantID, chi.URLParam(r, "runID"),
			queryInt64(r, "since_ms", 0),
			queryInt64(r, "since_seq", 0),
			queryInt(r, "limit", 100))
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteOK(w, events)
	}
}

// StreamTelemetryHandler handles GET /api/v1/runs/{runID}/telemetry with the
// same cursor parameters as the events stream.
func StreamTelemetryHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		points, err := deps.Orchestrator.StreamTelemetry(r.Context(), tenantID, chi.URLParam(r, "runID"),
			queryInt64(r, "since_ms", 0),
			queryInt64(r, "since_seq", 0),
			queryInt(r, "limit", 100))
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteOK(w, points)
	}
}

// GetReproducibilityScoreHandler handles GET /api/v1/runs/{runID}/score
func GetReproducibilityScoreHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		score, err := deps.Orchestrator.GetReproducibilityScore(r.Context(), tenantID, chi.URLParam(r, "runID"))
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteOK(w, score)
	}
}

// ExportRunReportHandler handles GET /api/v1/runs/{runID}/report
func ExportRunReportHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		report, err := deps.Orchestrator.ExportRunReport(r.Context(), tenantID, chi.URLParam(r, "runID"))
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteOK(w, report)
	}
}

// ListDriftAlertsHandler handles GET /api/v1/runs/{runID}/alerts
func ListDriftAlertsHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		alerts, err := deps.Orchestrator.ListDriftAlerts(r.Context(), tenantID, chi.URLParam(r, "runID"),
			queryInt(r, "limit", 100))
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteOK(w, alerts)
	}
}
