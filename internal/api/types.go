package api

import (
	"time"

	"github.com/threatwatch/threatwatch/internal/authz"
	"github.com/threatwatch/threatwatch/internal/database"
)

// ========== Auth Types ==========

// TokenRequest is the request body for POST /api/auth/token.
type TokenRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest is the request body for POST /api/auth/token/refresh.
type RefreshRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

// VerifyRequest is the request body for POST /api/auth/token/verify.
type VerifyRequest struct {
	Token string `json:"token" validate:"required"`
}

// TokenPairResponse carries a fresh access token and its refresh token.
type TokenPairResponse struct {
	Access    string `json:"access"`
	Refresh   string `json:"refresh"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
}

// IdentityResponse describes the caller for GET /api/auth/me.
type IdentityResponse struct {
	ID          uint       `json:"id"`
	Username    string     `json:"username"`
	Role        authz.Role `json:"role"`
	IsSuperuser bool       `json:"is_superuser"`
	IsStaff     bool       `json:"is_staff"`
	IsAdmin     bool       `json:"is_admin"`
}

// ========== Event Types ==========

// CreateEventRequest is the request body for POST /api/events.
type CreateEventRequest struct {
	SourceName  string `json:"source_name" validate:"required,max=120"`
	EventType   string `json:"event_type" validate:"required"`
	Severity    string `json:"severity" validate:"required"`
	Description string `json:"description" validate:"required"`
}

// EventResponse is an event as returned by the event endpoints.
type EventResponse struct {
	ID          uint               `json:"id"`
	SourceName  string             `json:"source_name"`
	EventType   database.EventType `json:"event_type"`
	Severity    database.Severity  `json:"severity"`
	Description string             `json:"description"`
	Timestamp   time.Time          `json:"timestamp"`
	CreatedBy   *uint              `json:"created_by"`
}

// ========== Alert Types ==========

// UpdateAlertStatusRequest is the request body for PATCH /api/alerts/{id}/status.
// Status is checked by the service so the error can list the allowed values.
type UpdateAlertStatusRequest struct {
	Status string `json:"status"`
}

// EventSnapshot is the read-side copy of an alert's event.
type EventSnapshot struct {
	ID          uint               `json:"id"`
	SourceName  string             `json:"source_name"`
	EventType   database.EventType `json:"event_type"`
	Severity    database.Severity  `json:"severity"`
	Description string             `json:"description"`
	Timestamp   time.Time          `json:"timestamp"`
}

// AlertResponse is an alert with its event embedded.
type AlertResponse struct {
	ID        uint                 `json:"id"`
	Status    database.AlertStatus `json:"status"`
	Severity  database.Severity    `json:"severity"`
	CreatedAt time.Time            `json:"created_at"`
	Event     EventSnapshot        `json:"event"`
}

// AlertHistoryResponse lists the audit trail of one alert.
type AlertHistoryResponse struct {
	AlertID uint                       `json:"alert_id"`
	Entries []database.AlertAuditEntry `json:"entries"`
}

// ========== Account Types ==========

// ProvisionAnalystRequest is the optional request body for POST /api/accounts/analysts.
type ProvisionAnalystRequest struct {
	Username string `json:"username" validate:"omitempty,max=150"`
	Password string `json:"password"`
}

// UpdateRoleRequest is the request body for PATCH /api/accounts/{username}/role.
type UpdateRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

// AccountResponse never carries credentials.
type AccountResponse struct {
	ID          uint       `json:"id"`
	Username    string     `json:"username"`
	Role        authz.Role `json:"role"`
	IsSuperuser bool       `json:"is_superuser"`
	IsStaff     bool       `json:"is_staff"`
	IsAdmin     bool       `json:"is_admin"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ProvisionedAccountResponse is the only response that ever includes a
// plaintext password.
type ProvisionedAccountResponse struct {
	AccountResponse
	Password string `json:"password"`
}

// ========== Demo Types ==========

// DemoEventRequest is the optional request body for POST /api/demo/critical-event.
type DemoEventRequest struct {
	SourceName  string `json:"source_name" validate:"omitempty,max=120"`
	EventType   string `json:"event_type"`
	Description string `json:"description"`
}

// DemoEventResponse returns both records created by the demo endpoint.
type DemoEventResponse struct {
	Event EventResponse `json:"event"`
	Alert AlertResponse `json:"alert"`
}

// ========== Pagination Types ==========

// PaginationMeta contains pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// PaginatedResponse wraps a list response with pagination metadata.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}
