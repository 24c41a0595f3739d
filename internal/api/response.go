package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"marketplace/internal/apperr"
	"marketplace/internal/constants"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	AttemptsRemaining *int   `json:"attemptsRemaining,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, constants.ErrCodeInvalidRequest, message)
}

func unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, constants.ErrCodeAuthFailed, message)
}

func forbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, constants.ErrCodeForbidden, message)
}

func notFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, constants.ErrCodeNotFound, message)
}

func internalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, constants.ErrCodeInternal, "An internal error occurred")
}

// writeAppError renders a service error. Uncategorised errors are logged and
// surface as a generic 500.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var code string
	switch apperr.KindOf(err) {
	case apperr.BadCredentials:
		status, code = http.StatusUnauthorized, constants.ErrCodeAuthFailed
	case apperr.AccountLocked:
		status, code = http.StatusLocked, constants.ErrCodeAccountLocked
	case apperr.EmailNotVerified:
		status, code = http.StatusForbidden, constants.ErrCodeEmailNotVerified
	case apperr.NotFound:
		status, code = http.StatusNotFound, constants.ErrCodeNotFound
	case apperr.IllegalState:
		status, code = http.StatusConflict, constants.ErrCodeIllegalState
	case apperr.Duplicate:
		status, code = http.StatusConflict, constants.ErrCodeConflict
	case apperr.Invalid:
		status, code = http.StatusBadRequest, constants.ErrCodeInvalidRequest
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		internalError(w)
		return
	}

	detail := ErrorDetail{Code: code, Message: apperr.Message(err)}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		detail.AttemptsRemaining = appErr.AttemptsRemaining
	}
	writeJSON(w, status, ErrorResponse{Error: detail})
}
