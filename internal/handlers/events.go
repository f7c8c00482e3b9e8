package handlers

import (
	"net/http"

	"github.com/threatwatch/threatwatch/internal/api"
	"github.com/threatwatch/threatwatch/internal/authz"
	"github.com/threatwatch/threatwatch/internal/services"
	"go.uber.org/zap"
)

// EventHandler serves event ingestion and the admin event listing
type EventHandler struct {
	events *services.EventService
	limits api.PageLimits
	log    *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler(events *services.EventService, limits api.PageLimits, log *zap.Logger) *EventHandler {
	return &EventHandler{events: events, limits: limits, log: log.Named("events")}
}

// SetupRoutes registers the event routes
func (h *EventHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/events", h.handleEvents)
	mux.HandleFunc("/api/events/{id}", h.handleEventByID)
}

// handleEvents handles GET /api/events and POST /api/events
func (h *EventHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createEvent(w, r)
	case http.MethodGet:
		h.listEvents(w, r)
	default:
		api.RespondMethodNotAllowed(w, "GET, POST")
	}
}

func (h *EventHandler) createEvent(w http.ResponseWriter, r *http.Request) {
	identity, ok := authorize(w, r, authz.OpCreate, authz.ResourceEvent)
	if !ok {
		return
	}

	var req api.CreateEventRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, "", errs)
		return
	}

	event, err := h.events.Create(r.Context(), identity, services.CreateEventInput{
		SourceName:  req.SourceName,
		EventType:   req.EventType,
		Severity:    req.Severity,
		Description: req.Description,
	})
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, api.EventToResponse(*event))
}

func (h *EventHandler) listEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, authz.OpRead, authz.ResourceEvent); !ok {
		return
	}

	p := api.ParsePagination(r, h.limits)
	events, total, err := h.events.List(r.Context(), services.Page{Page: p.Page, PageSize: p.PageSize})
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.PaginatedResponse{
		Data:       api.EventsToResponses(events),
		Pagination: p.Meta(total),
	})
}

// handleEventByID handles GET /api/events/{id}
func (h *EventHandler) handleEventByID(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	if _, ok := authorize(w, r, authz.OpRead, authz.ResourceEvent); !ok {
		return
	}

	id, ok := api.ParseID(r, "id")
	if !ok {
		api.RespondNotFound(w, "Event not found")
		return
	}
	event, err := h.events.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.EventToResponse(*event))
}
