package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/threatwatch/threatwatch/internal/api"
	"github.com/threatwatch/threatwatch/internal/authz"
	"github.com/threatwatch/threatwatch/internal/middleware"
	"github.com/threatwatch/threatwatch/internal/services"
	"go.uber.org/zap"
)

// authorize runs the policy for the caller and writes the 401/403 response
// when the decision is a denial. Handlers must stop when ok is false.
func authorize(w http.ResponseWriter, r *http.Request, op authz.Operation, res authz.Resource) (*authz.Identity, bool) {
	identity := middleware.IdentityFromContext(r.Context())
	switch authz.Decide(identity, op, res) {
	case authz.Allow:
		return identity, true
	case authz.DenyUnauthenticated:
		api.RespondUnauthenticated(w, "")
	default:
		api.RespondForbidden(w)
	}
	return nil, false
}

// allowMethods writes a 405 unless the request uses one of methods
func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	api.RespondMethodNotAllowed(w, strings.Join(methods, ", "))
	return false
}

// respondServiceError maps a service error kind to its status code. Anything
// else is logged and reported as a 500.
func respondServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	if svcErr, ok := services.AsError(err); ok {
		switch svcErr.Kind {
		case services.KindValidation:
			api.RespondValidationError(w, svcErr.Message, svcErr.Details)
		case services.KindNotFound:
			api.RespondNotFound(w, svcErr.Message)
		case services.KindConflict:
			api.RespondError(w, http.StatusConflict, api.CodeConflict, svcErr.Message)
		default:
			api.RespondError(w, http.StatusBadRequest, string(svcErr.Kind), svcErr.Message)
		}
		return
	}
	log.Error("Request failed", zap.Error(err))
	api.RespondInternalError(w)
}

// respondDecodeError reports a body that could not be decoded
func respondDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, api.ErrEmptyBody) {
		api.RespondValidationError(w, "Request body is required", nil)
		return
	}
	api.RespondValidationError(w, "Invalid request body: "+err.Error(), nil)
}
