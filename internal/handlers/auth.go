package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/threatwatch/threatwatch/internal/api"
	"github.com/threatwatch/threatwatch/internal/authz"
	"github.com/threatwatch/threatwatch/internal/database"
	"github.com/threatwatch/threatwatch/internal/middleware"
	"github.com/threatwatch/threatwatch/internal/services"
	"go.uber.org/zap"
)

// Authenticator checks credentials and resolves accounts
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*database.User, error)
	LoadIdentity(ctx context.Context, username string) (*authz.Identity, error)
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	accounts Authenticator
	jwtAuth  *middleware.JWTAuthMiddleware
	log      *zap.Logger
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(accounts Authenticator, jwtAuth *middleware.JWTAuthMiddleware, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		jwtAuth:  jwtAuth,
		log:      log.Named("auth"),
	}
}

// SetupRoutes sets up authentication routes
func (h *AuthHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/token", h.handleToken)
	mux.HandleFunc("/api/auth/token/refresh", h.handleRefresh)
	mux.HandleFunc("/api/auth/token/verify", h.handleVerify)
	mux.HandleFunc("/api/auth/me", h.handleMe)
}

// handleToken handles POST /api/auth/token
func (h *AuthHandler) handleToken(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}

	var req api.TokenRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, "", errs)
		return
	}

	user, err := h.accounts.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			middleware.LoggerFor(r.Context(), h.log).Info("Failed login attempt",
				zap.String("username", req.Username),
				zap.String("remote_addr", r.RemoteAddr))
			api.RespondUnauthenticated(w, "No active account found with the given credentials")
			return
		}
		respondServiceError(w, h.log, err)
		return
	}

	pair, err := h.jwtAuth.GenerateTokenPair(user.Username)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}

	middleware.LoggerFor(r.Context(), h.log).Info("User logged in", zap.String("username", user.Username), zap.String("remote_addr", r.RemoteAddr))
	api.RespondJSON(w, http.StatusOK, tokenPairResponse(pair))
}

// handleRefresh handles POST /api/auth/token/refresh. The refresh token is
// rotated: the response carries a new one.
func (h *AuthHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}

	var req api.RefreshRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, "", errs)
		return
	}

	claims, err := h.jwtAuth.ValidateToken(req.Refresh, middleware.TokenTypeRefresh)
	if err != nil {
		api.RespondUnauthenticated(w, "Token is invalid or expired")
		return
	}
	// the account may have been removed since the refresh token was issued
	if _, err := h.accounts.LoadIdentity(r.Context(), claims.Username); err != nil {
		if kind, ok := services.KindOf(err); ok && kind == services.KindNotFound {
			api.RespondUnauthenticated(w, "User not found")
			return
		}
		respondServiceError(w, h.log, err)
		return
	}

	pair, err := h.jwtAuth.GenerateTokenPair(claims.Username)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, tokenPairResponse(pair))
}

// handleVerify handles POST /api/auth/token/verify. Either token type verifies.
func (h *AuthHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}

	var req api.VerifyRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, "", errs)
		return
	}

	if _, err := h.jwtAuth.ValidateToken(req.Token, middleware.TokenTypeAccess); err != nil {
		if _, refreshErr := h.jwtAuth.ValidateToken(req.Token, middleware.TokenTypeRefresh); refreshErr != nil {
			api.RespondUnauthenticated(w, "Token is invalid or expired")
			return
		}
	}
	api.RespondJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// handleMe handles GET /api/auth/me
func (h *AuthHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}

	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil {
		api.RespondUnauthenticated(w, "")
		return
	}
	api.RespondJSON(w, http.StatusOK, api.IdentityToResponse(*identity))
}

func tokenPairResponse(pair *middleware.TokenPair) api.TokenPairResponse {
	return api.TokenPairResponse{
		Access:    pair.Access,
		Refresh:   pair.Refresh,
		TokenType: "Bearer",
		ExpiresIn: int(pair.ExpiresIn.Seconds()),
	}
}
