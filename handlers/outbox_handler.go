package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/regenfab/regenops/app"
	"github.com/regenfab/regenops/utils"
)

// ListDeadLetterHandler handles GET /api/v1/outbox/dead-letter
func ListDeadLetterHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		events, err := deps.Dispatcher.ListDeadLetter(r.Context(), tenantID, queryInt(r, "limit", 100))
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteOK(w, events)
	}
}

// ReplayDeadLetterHandler handles POST /api/v1/outbox/dead-letter/{eventID}/replay
func ReplayDeadLetterHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		event, err := deps.Dispatcher.ReplayDeadLetter(r.Context(), chi.URLParam(r, "eventID"))
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteOK(w, event)
	}
}
