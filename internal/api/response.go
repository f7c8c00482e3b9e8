package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Machine-readable error codes. Clients switch on these, never on messages.
const (
	CodeValidation       = "validation_error"
	CodeNotFound         = "not_found"
	CodeConflict         = "conflict"
	CodeUnauthenticated  = "unauthenticated"
	CodeForbidden        = "forbidden"
	CodeRateLimited      = "rate_limited"
	CodeMethodNotAllowed = "method_not_allowed"
	CodeInternal         = "internal_error"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// RespondJSON writes data as a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			zap.L().Warn("Failed to encode JSON response", zap.Error(err))
		}
	}
}

// RespondError writes an error response with a machine-readable code.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// RespondValidationError writes field-level validation errors as a 400 response.
func RespondValidationError(w http.ResponseWriter, message string, fieldErrors map[string]string) {
	if message == "" {
		message = "Validation failed"
	}
	RespondJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   message,
		Code:    CodeValidation,
		Details: fieldErrors,
	})
}

// RespondUnauthenticated writes a 401 with a bearer challenge.
func RespondUnauthenticated(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Authentication credentials were not provided."
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="threatwatch"`)
	RespondError(w, http.StatusUnauthorized, CodeUnauthenticated, message)
}

// RespondForbidden writes a 403.
func RespondForbidden(w http.ResponseWriter) {
	RespondError(w, http.StatusForbidden, CodeForbidden, "You do not have permission to perform this action.")
}

// RespondNotFound writes a 404 naming the missing entity.
func RespondNotFound(w http.ResponseWriter, message string) {
	RespondError(w, http.StatusNotFound, CodeNotFound, message)
}

// RespondMethodNotAllowed writes a 405 and the Allow header.
func RespondMethodNotAllowed(w http.ResponseWriter, allow string) {
	if allow != "" {
		w.Header().Set("Allow", allow)
	}
	RespondError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed")
}

// RespondInternalError writes a 500 without leaking the cause.
func RespondInternalError(w http.ResponseWriter) {
	RespondError(w, http.StatusInternalServerError, CodeInternal, "Internal server error")
}
