package handlers

import (
	"net/http"

	"github.com/threatwatch/threatwatch/internal/api"
	"github.com/threatwatch/threatwatch/internal/authz"
	"github.com/threatwatch/threatwatch/internal/services"
	"go.uber.org/zap"
)

// AlertHandler serves the alert listing and triage endpoints
type AlertHandler struct {
	alerts *services.AlertService
	limits api.PageLimits
	log    *zap.Logger
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(alerts *services.AlertService, limits api.PageLimits, log *zap.Logger) *AlertHandler {
	return &AlertHandler{alerts: alerts, limits: limits, log: log.Named("alerts")}
}

// SetupRoutes registers the alert routes
func (h *AlertHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/alerts", h.handleListAlerts)
	mux.HandleFunc("/api/alerts/{id}", h.handleGetAlert)
	mux.HandleFunc("/api/alerts/{id}/history", h.handleAlertHistory)
	mux.HandleFunc("/api/alerts/{id}/status", h.handleUpdateStatus)
}

// handleListAlerts handles GET /api/alerts?severity=&status=&ordering=&page=&page_size=
func (h *AlertHandler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	if _, ok := authorize(w, r, authz.OpRead, authz.ResourceAlert); !ok {
		return
	}

	p := api.ParsePagination(r, h.limits)
	q := r.URL.Query()
	alerts, total, err := h.alerts.List(r.Context(), services.AlertFilter{
		Severity: q.Get("severity"),
		Status:   q.Get("status"),
		Ordering: q.Get("ordering"),
		Page:     services.Page{Page: p.Page, PageSize: p.PageSize},
	})
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.PaginatedResponse{
		Data:       api.AlertsToResponses(alerts),
		Pagination: p.Meta(total),
	})
}

// handleGetAlert handles GET /api/alerts/{id}
func (h *AlertHandler) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	if _, ok := authorize(w, r, authz.OpRead, authz.ResourceAlert); !ok {
		return
	}

	id, ok := api.ParseID(r, "id")
	if !ok {
		api.RespondNotFound(w, "Alert not found")
		return
	}
	alert, err := h.alerts.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.AlertToResponse(*alert))
}

// handleAlertHistory handles GET /api/alerts/{id}/history
func (h *AlertHandler) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	if _, ok := authorize(w, r, authz.OpRead, authz.ResourceAlert); !ok {
		return
	}

	id, ok := api.ParseID(r, "id")
	if !ok {
		api.RespondNotFound(w, "Alert not found")
		return
	}
	entries, err := h.alerts.History(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.AlertHistoryResponse{AlertID: id, Entries: entries})
}

// handleUpdateStatus handles PATCH and POST /api/alerts/{id}/status.
// The policy runs before the alert is looked up, so analysts get 403 for
// alerts that do not exist.
func (h *AlertHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPatch, http.MethodPost) {
		return
	}
	identity, ok := authorize(w, r, authz.OpUpdate, authz.ResourceAlert)
	if !ok {
		return
	}

	id, ok := api.ParseID(r, "id")
	if !ok {
		api.RespondNotFound(w, "Alert not found")
		return
	}

	var req api.UpdateAlertStatusRequest
	if err := api.DecodeOptionalJSON(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}

	alert, err := h.alerts.UpdateStatus(r.Context(), *identity, id, req.Status)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.AlertToResponse(*alert))
}
