package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"PointsSettlement/internal/logger"
	"PointsSettlement/internal/services"
)

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Error: msg})
}

// writeServiceError renders logic errors with their code. Anything else is
// logged and hidden behind internal_error.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var le *services.LogicError
	if errors.As(err, &le) {
		writeError(w, statusFor(le.Code), le.Code, le.Message)
		return
	}
	logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}

func statusFor(code string) int {
	switch code {
	case services.CodeMaintenance:
		return http.StatusServiceUnavailable
	case services.CodeInvalidPayload:
		return http.StatusBadRequest
	case services.CodeNotFound:
		return http.StatusNotFound
	case services.CodeNotOwner:
		return http.StatusForbidden
	case services.CodeInvalidState, services.CodeOrderTooOld:
		return http.StatusConflict
	case services.CodeProductUnavailable, services.CodeLimitExceeded, services.CodeInsufficientPoints:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}
