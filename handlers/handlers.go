package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/regenfab/regenops/middleware"
	"github.com/regenfab/regenops/utils"
)

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// requestIdentity resolves the tenant and actor from the authenticated
// claims. Handlers pass both explicitly into the orchestrator.
func requestIdentity(r *http.Request) (tenantID, actorID string, ok bool) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil || claims.TenantID == "" {
		return "", "", false
	}
	return claims.TenantID, claims.Subject, true
}

// decodeBody decodes a JSON request body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid JSON body", nil)
		return false
	}
	return true
}

// urlParamInt reads an integer URL parameter; 0 when missing or malformed.
func urlParamInt(r *http.Request, key string) int {
	value, err := strconv.Atoi(chi.URLParam(r, key))
	if err != nil {
		return 0
	}
	return value
}

// queryInt reads an integer query parameter with a default.
func queryInt(r *http.Request, key string, defaultValue int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

// queryInt64 reads an int64 query parameter with a default.
func queryInt64(r *http.Request, key string, defaultValue int64) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
