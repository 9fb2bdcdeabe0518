package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"erpcore/internal/adapters/export"
	"erpcore/internal/blob"
	"erpcore/internal/core"
	"erpcore/internal/table"
	"erpcore/pkg/domain"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

func decodeJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}

// fail maps the error taxonomy onto a status code. Conflict messages are
// passed through verbatim; unexpected failures are logged and reported with
// the generic message.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *domain.ValidationError
		conflict   *domain.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  validation.Message,
			"code":   "VALIDATION_ERROR",
			"fields": validation.Fields,
		})
	case domain.IsAuthorization(err):
		writeError(w, http.StatusForbidden, "FORBIDDEN", table.MsgDenied)
	case domain.IsNotFound(err), errors.Is(err, blob.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "CONFLICT", conflict.Message)
	case errors.Is(err, core.ErrReorderUnsupported):
		writeError(w, http.StatusConflict, "REORDER_UNSUPPORTED", err.Error())
	case errors.Is(err, export.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "QUEUE_FULL", err.Error())
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", table.MsgFailed)
	}
}
