package handlers

import (
	"net/http"

	"github.com/regenfab/regenops/services"
	"github.com/regenfab/regenops/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses.
// Validation and protocol violations map to 400, missing resources to 404,
// state conflicts to 409, unsatisfied dependencies to 422, everything
// else to 500.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	details := services.GetErrorDetails(err)

	switch {
	case services.IsValidationError(err):
		if fields := utils.GetValidationFields(err); len(fields) > 0 {
			merged := make(map[string]interface{}, len(details)+len(fields))
			for k, v := range details {
				merged[k] = v
			}
			for field, message := range fields {
				merged[field] = message
			}
			details = merged
		}
		_ = utils.WriteBadRequest(w, err.Error(), details)

	case services.IsProtocolError(err):
		_ = utils.WriteBadRequest(w, err.Error(), details)

	case services.IsNotFoundError(err):
		_ = utils.WriteNotFound(w, err.Error())

	case services.IsUnauthorizedError(err):
		_ = utils.WriteUnauthorized(w, err.Error())

	case services.IsForbiddenError(err):
		_ = utils.WriteForbidden(w, err.Error())

	case services.IsConflictError(err):
		_ = utils.WriteConflict(w, err.Error(), details)

	case services.IsDependencyError(err):
		_ = utils.WriteUnprocessable(w, err.Error(), details)

	case services.IsInternalError(err):
		logger.Error("internal service error", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled service error", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "An internal error occurred")
	}
}
