package handlers

import (
	"net/http"

	"github.com/threatwatch/threatwatch/internal/api"
	"github.com/threatwatch/threatwatch/internal/authz"
	"github.com/threatwatch/threatwatch/internal/services"
	"go.uber.org/zap"
)

// AccountHandler serves the admin account endpoints
type AccountHandler struct {
	accounts *services.AccountService
	log      *zap.Logger
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(accounts *services.AccountService, log *zap.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, log: log.Named("accounts")}
}

// SetupRoutes registers the account routes
func (h *AccountHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/accounts/analysts", h.handleProvisionAnalyst)
	mux.HandleFunc("/api/accounts/{username}", h.handleGetAccount)
	mux.HandleFunc("/api/accounts/{username}/role", h.handleUpdateRole)
}

// handleProvisionAnalyst handles POST /api/accounts/analysts. The body is
// optional; missing credentials are generated.
func (h *AccountHandler) handleProvisionAnalyst(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	identity, ok := authorize(w, r, authz.OpCreate, authz.ResourceAnalystAccount)
	if !ok {
		return
	}

	var req api.ProvisionAnalystRequest
	if err := api.DecodeOptionalJSON(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, "", errs)
		return
	}

	account, err := h.accounts.ProvisionAnalyst(r.Context(), *identity, services.ProvisionInput{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}

	api.RespondJSON(w, http.StatusCreated, api.ProvisionedAccountResponse{
		AccountResponse: api.AccountToResponse(*account.User),
		Password:        account.Password,
	})
}

// handleGetAccount handles GET /api/accounts/{username}
func (h *AccountHandler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	if _, ok := authorize(w, r, authz.OpRead, authz.ResourceAccount); !ok {
		return
	}

	user, err := h.accounts.Get(r.Context(), r.PathValue("username"))
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.AccountToResponse(*user))
}

// handleUpdateRole handles PATCH /api/accounts/{username}/role
func (h *AccountHandler) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPatch) {
		return
	}
	identity, ok := authorize(w, r, authz.OpUpdate, authz.ResourceAccount)
	if !ok {
		return
	}

	var req api.UpdateRoleRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, "", errs)
		return
	}

	user, err := h.accounts.UpdateRole(r.Context(), *identity, r.PathValue("username"), req.Role)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.AccountToResponse(*user))
}
