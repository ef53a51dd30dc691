// Package routes assembles the HTTP router.
package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/regenfab/regenops/app"
	"github.com/regenfab/regenops/handlers"
	"github.com/regenfab/regenops/utils"
)

// NewRouter creates the application router with all routes and middleware.
func NewRouter(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Probes are unauthenticated.
	r.Get("/healthz", handlers.HealthHandler(deps))
	r.Get("/readyz", handlers.ReadinessHandler(deps))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.Auth.RequireAuth)

		r.Route("/protocols", func(r chi.Router) {
			r.Get("/", handlers.ListProtocolsHandler(deps))
			r.Route("/{protocolID}", func(r chi.Router) {
				r.Post("/draft", handlers.CreateDraftHandler(deps))
				r.Put("/draft", handlers.UpdateDraftHandler(deps))
				r.Post("/approvals", handlers.RequestApprovalHandler(deps))
				r.Post("/publish", handlers.PublishVersionHandler(deps))
				r.Get("/versions/{version}", handlers.GetProtocolVersionHandler(deps))
				r.Get("/diff", handlers.DiffVersionsHandler(deps))
			})
		})

		r.Post("/approvals/{approvalID}/approve", handlers.ApproveApprovalHandler(deps))

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", handlers.StartRunHandler(deps))
			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", handlers.GetRunHandler(deps))
				r.Post("/pause", handlers.PauseRunHandler(deps))
				r.Post("/abort", handlers.AbortRunHandler(deps))
				r.Get("/events", handlers.StreamRunEventsHandler(deps))
				r.Get("/telemetry", handlers.StreamTelemetryHandler(deps))
				r.Get("/score", handlers.GetReproducibilityScoreHandler(deps))
				r.Get("/report", handlers.ExportRunReportHandler(deps))
				r.Get("/alerts", handlers.ListDriftAlertsHandler(deps))
			})
		})

		r.Route("/gateways/{gatewayID}", func(r chi.Router) {
			r.Put("/", handlers.RegisterGatewayHandler(deps))
			r.Post("/heartbeat", handlers.HeartbeatHandler(deps))
			r.Get("/config", handlers.FetchConfigHandler(deps))
			r.Post("/events", handlers.PushRunEventsHandler(deps))
			r.Post("/telemetry", handlers.PushTelemetryHandler(deps))
		})

		r.Get("/evidence/verify", handlers.VerifyEvidenceChainHandler(deps))

		r.Route("/outbox/dead-letter", func(r chi.Router) {
			r.Get("/", handlers.ListDeadLetterHandler(deps))
			r.Post("/{eventID}/replay", handlers.ReplayDeadLetterHandler(deps))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "Route not found")
	})

	return r
}
