package handlers

import (
	"net/http"

	"github.com/threatwatch/threatwatch/internal/api"
	"github.com/threatwatch/threatwatch/internal/authz"
	"github.com/threatwatch/threatwatch/internal/services"
	"go.uber.org/zap"
)

// DemoHandler seeds a CRITICAL event and its alert for demonstrations
type DemoHandler struct {
	events *services.EventService
	log    *zap.Logger
}

// NewDemoHandler creates a new demo handler
func NewDemoHandler(events *services.EventService, log *zap.Logger) *DemoHandler {
	return &DemoHandler{events: events, log: log.Named("demo")}
}

// SetupRoutes registers the demo route
func (h *DemoHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/demo/critical-event", h.handleCriticalEvent)
}

// handleCriticalEvent handles POST /api/demo/critical-event
func (h *DemoHandler) handleCriticalEvent(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	identity, ok := authorize(w, r, authz.OpCreate, authz.ResourceDemo)
	if !ok {
		return
	}

	var req api.DemoEventRequest
	if err := api.DecodeOptionalJSON(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, "", errs)
		return
	}

	event, alert, err := h.events.CreateDemo(r.Context(), identity, services.DemoEventInput{
		SourceName:  req.SourceName,
		EventType:   req.EventType,
		Description: req.Description,
	})
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}

	alert.Event = event
	api.RespondJSON(w, http.StatusCreated, api.DemoEventResponse{
		Event: api.EventToResponse(*event),
		Alert: api.AlertToResponse(*alert),
	})
}
