package api

import (
	"github.com/threatwatch/threatwatch/internal/authz"
	"github.com/threatwatch/threatwatch/internal/database"
)

// EventToResponse converts a database Event.
func EventToResponse(e database.Event) EventResponse {
	return EventResponse{
		ID:          e.ID,
		SourceName:  e.SourceName,
		EventType:   e.EventType,
		Severity:    e.Severity,
		Description: e.Description,
		Timestamp:   e.Timestamp,
		CreatedBy:   e.CreatedByID,
	}
}

// EventsToResponses converts a slice of events.
func EventsToResponses(events []database.Event) []EventResponse {
	out := make([]EventResponse, len(events))
	for i, e := range events {
		out[i] = EventToResponse(e)
	}
	return out
}

// AlertToResponse converts an alert whose Event has been loaded. A missing
// event yields an empty snapshot.
func AlertToResponse(a database.Alert) AlertResponse {
	resp := AlertResponse{
		ID:        a.ID,
		Status:    a.Status,
		CreatedAt: a.CreatedAt,
	}
	if a.Event != nil {
		resp.Severity = a.Event.Severity
		resp.Event = EventSnapshot{
			ID:          a.Event.ID,
			SourceName:  a.Event.SourceName,
			EventType:   a.Event.EventType,
			Severity:    a.Event.Severity,
			Description: a.Event.Description,
			Timestamp:   a.Event.Timestamp,
		}
	}
	return resp
}

// AlertsToResponses converts a slice of alerts.
func AlertsToResponses(alerts []database.Alert) []AlertResponse {
	out := make([]AlertResponse, len(alerts))
	for i, a := range alerts {
		out[i] = AlertToResponse(a)
	}
	return out
}

// AccountToResponse converts a user, dropping the credential hash.
func AccountToResponse(u database.User) AccountResponse {
	return AccountResponse{
		ID:          u.ID,
		Username:    u.Username,
		Role:        u.Role,
		IsSuperuser: u.IsSuperuser,
		IsStaff:     u.IsStaff,
		IsAdmin:     u.IsAdminRole(),
		CreatedAt:   u.CreatedAt,
	}
}

// IdentityToResponse converts the authenticated identity.
func IdentityToResponse(id authz.Identity) IdentityResponse {
	return IdentityResponse{
		ID:          id.UserID,
		Username:    id.Username,
		Role:        id.Role,
		IsSuperuser: id.IsSuperuser,
		IsStaff:     id.IsStaff,
		IsAdmin:     authz.HasAdminCapability(id),
	}
}
