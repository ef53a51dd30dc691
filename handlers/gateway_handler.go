package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/regenfab/regenops/app"
	"github.com/regenfab/regenops/services/orchestrator"
	"github.com/regenfab/regenops/utils"
)

// registerGatewayBody is the transport shape for gateway enrollment.
type registerGatewayBody struct {
	Name       string `json:"name"`
	CertSerial string `json:"cert_serial"`
}

// RegisterGatewayHandler handles PUT /api/v1/gateways/{gatewayID}
func RegisterGatewayHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		var body registerGatewayBody
		if !decodeBody(w, r, &body) {
			return
		}

		gateway, err := deps.Orchestrator.RegisterGateway(r.Context(), tenantID, orchestrator.RegisterGatewayRequest{
			GatewayID:  chi.URLParam(r, "gatewayID"),
			Name:       body.Name,
			CertSerial: body.CertSerial,
		})
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteOK(w, gateway)
	}
}

// HeartbeatHandler handles POST /api/v1/gateways/{gatewayID}/heartbeat
func HeartbeatHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		if err := deps.Orchestrator.Heartbeat(r.Context(), tenantID, chi.URLParam(r, "gatewayID")); err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		utils.WriteNoContent(w)
	}
}

// FetchConfigHandler handles GET /api/v1/gateways/{gatewayID}/config
func FetchConfigHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		config, err := deps.Orchestrator.FetchConfig(r.Context(), tenantID, chi.URLParam(r, "gatewayID"))
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteOK(w, config)
	}
}

// PushRunEventsHandler handles POST /api/v1/gateways/{gatewayID}/events.
// The body is a JSON array of run events; items are accepted or rejected
// independently and the response reports both counts.
func PushRunEventsHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		var items []orchestrator.IngestRunEvent
		if !decodeBody(w, r, &items) {
			return
		}

		result, err := deps.Orchestrator.PushRunEvents(r.Context(), tenantID, chi.URLParam(r, "gatewayID"), items)
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteOK(w, result)
	}
}

// PushTelemetryHandler handles POST /api/v1/gateways/{gatewayID}/telemetry
// with the same batch semantics as the events endpoint.
func PushTelemetryHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		var items []orchestrator.IngestTelemetryPoint
		if !decodeBody(w, r, &items) {
			return
		}

		result, err := deps.Orchestrator.PushTelemetry(r.Context(), tenantID, chi.URLParam(r, "gatewayID"), items)
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteOK(w, result)
	}
}
