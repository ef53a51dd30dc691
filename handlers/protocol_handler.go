package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/regenfab/regenops/app"
	"github.com/regenfab/regenops/services/orchestrator"
	"github.com/regenfab/regenops/utils"
)

// draftBody is the transport shape for draft create/update requests.
type draftBody struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// publishBody is the transport shape for publish requests.
type publishBody struct {
	Changelog      string `json:"changelog"`
	Signature      string `json:"signature"`
	ApprovalID     string `json:"approval_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

// CreateDraftHandler handles POST /api/v1/protocols/{protocolID}/draft
func CreateDraftHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, actorID, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		var body draftBody
		if !decodeBody(w, r, &body) {
			return
		}

		draft, err := deps.Orchestrator.CreateDraft(r.Context(), tenantID, orchestrator.DraftRequest{
			ProtocolID: chi.URLParam(r, "protocolID"),
			Title:      body.Title,
			Content:    body.Content,
			ActorID:    actorID,
		})
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteCreated(w, draft)
	}
}

// UpdateDraftHandler handles PUT /api/v1/protocols/{protocolID}/draft
func UpdateDraftHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, actorID, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		var body draftBody
		if !decodeBody(w, r, &body) {
			return
		}

		draft, err := deps.Orchestrator.UpdateDraft(r.Context(), tenantID, orchestrator.DraftRequest{
			ProtocolID: chi.URLParam(r, "protocolID"),
			Title:      body.Title,
			Content:    body.Content,
			ActorID:    actorID,
		})
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteOK(w, draft)
	}
}

// RequestApprovalHandler handles POST /api/v1/protocols/{protocolID}/approvals
func RequestApprovalHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, actorID, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		approval, err := deps.Orchestrator.RequestPublishApproval(r.Context(), tenantID, orchestrator.ApprovalRequest{
			ProtocolID: chi.URLParam(r, "protocolID"),
			ActorID:    actorID,
		})
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteCreated(w, approval)
	}
}

// ApproveApprovalHandler handles POST /api/v1/approvals/{approvalID}/approve
func ApproveApprovalHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, actorID, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		approval, err := deps.Orchestrator.ApprovePublishApproval(r.Context(), tenantID,
			chi.URLParam(r, "approvalID"), actorID)
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteOK(w, approval)
	}
}

// PublishVersionHandler handles POST /api/v1/protocols/{protocolID}/publish.
// The idempotency key can come from the body or the Idempotency-Key header;
// the body wins when both are set.
func PublishVersionHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, actorID, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		var body publishBody
		if !decodeBody(w, r, &body) {
			return
		}
		if body.IdempotencyKey == "" {
			body.IdempotencyKey = r.Header.Get("Idempotency-Key")
		}

		version, err := deps.Orchestrator.PublishVersion(r.Context(), tenantID, orchestrator.PublishRequest{
			ProtocolID:     chi.URLParam(r, "protocolID"),
			PublisherID:    actorID,
			Changelog:      body.Changelog,
			Signature:      body.Signature,
			ApprovalID:     body.ApprovalID,
			IdempotencyKey: body.IdempotencyKey,
		})
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteCreated(w, version)
	}
}

// ListProtocolsHandler handles GET /api/v1/protocols
func ListProtocolsHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		summaries, err := deps.Orchestrator.ListProtocols(r.Context(), tenantID)
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteOK(w, summaries)
	}
}

// GetProtocolVersionHandler handles GET /api/v1/protocols/{protocolID}/versions/{version}
func GetProtocolVersionHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		versionNum := urlParamInt(r, "version")
		version, err := deps.Orchestrator.GetProtocolVersion(r.Context(), tenantID,
			chi.URLParam(r, "protocolID"), versionNum)
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteOK(w, version)
	}
}

// DiffVersionsHandler handles GET /api/v1/protocols/{protocolID}/diff?from=N&to=M
func DiffVersionsHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		from := queryInt(r, "from", 0)
		to := queryInt(r, "to", 0)
		if from <= 0 || to <= 0 {
			_ = utils.WriteBadRequest(w, "from and to query parameters are required", nil)
			return
		}

		diff, err := deps.Orchestrator.DiffVersions(r.Context(), tenantID,
			chi.URLParam(r, "protocolID"), from, to)
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteOK(w, diff)
	}
}
