package handlers

import (
	"net/http"

	"github.com/regenfab/regenops/app"
	"github.com/regenfab/regenops/utils"
)

// VerifyEvidenceChainHandler handles GET /api/v1/evidence/verify.
// Replays the tenant's hash chain and reports the first broken link, if any.
func VerifyEvidenceChainHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := requestIdentity(r)
		if !ok {
			_ = utils.WriteForbidden(w, "")
			return
		}

		verification, err := deps.Orchestrator.VerifyEvidenceChain(r.Context(), tenantID,
			queryInt(r, "limit", 0))
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		_ = utils.WriteOK(w, verification)
	}
}
