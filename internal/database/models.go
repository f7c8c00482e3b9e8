package database

import (
	"errors"
	"strings"
	"time"

	"github.com/threatwatch/threatwatch/internal/authz"
	"gorm.io/gorm"
)

// ErrEventImmutable is returned when something tries to update a stored event.
var ErrEventImmutable = errors.New("events are immutable once created")

// Severity is the ordinal classification of an event
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ValidSeverities returns severities ordered from lowest to highest
func ValidSeverities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// ParseSeverity normalizes s (trimmed, case-insensitive) into a Severity
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	for _, valid := range ValidSeverities() {
		if sev == valid {
			return sev, true
		}
	}
	return "", false
}

// Rank returns the ordinal position of the severity (LOW=0 ... CRITICAL=3), or -1.
func (s Severity) Rank() int {
	for i, valid := range ValidSeverities() {
		if s == valid {
			return i
		}
	}
	return -1
}

// TriggersAlert reports whether an event of this severity must spawn an alert
func (s Severity) TriggersAlert() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// EventType classifies what was observed
type EventType string

const (
	EventTypeIntrusion EventType = "INTRUSION"
	EventTypeMalware   EventType = "MALWARE"
	EventTypeAnomaly   EventType = "ANOMALY"
)

// ValidEventTypes returns every accepted event type
func ValidEventTypes() []EventType {
	return []EventType{EventTypeIntrusion, EventTypeMalware, EventTypeAnomaly}
}

// ParseEventType normalizes s (trimmed, case-insensitive) into an EventType
func ParseEventType(s string) (EventType, bool) {
	et := EventType(strings.ToUpper(strings.TrimSpace(s)))
	for _, valid := range ValidEventTypes() {
		if et == valid {
			return et, true
		}
	}
	return "", false
}

// AlertStatus is the triage state of an alert
type AlertStatus string

const (
	AlertStatusOpen         AlertStatus = "OPEN"
	AlertStatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertStatusResolved     AlertStatus = "RESOLVED"
)

// ValidAlertStatuses returns the closed set of alert statuses
func ValidAlertStatuses() []AlertStatus {
	return []AlertStatus{AlertStatusOpen, AlertStatusAcknowledged, AlertStatusResolved}
}

// ParseAlertStatus normalizes s (trimmed, case-insensitive) into an AlertStatus
func ParseAlertStatus(s string) (AlertStatus, bool) {
	st := AlertStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, valid := range ValidAlertStatuses() {
		if st == valid {
			return st, true
		}
	}
	return "", false
}

// User is an account that can authenticate against the API
type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Username     string     `gorm:"uniqueIndex;size:150;not null" json:"username"`
	PasswordHash string     `gorm:"type:varchar(255);not null" json:"-"` // bcrypt, never serialized
	Role         authz.Role `gorm:"type:varchar(20);not null;default:'ANALYST';index" json:"role"`
	IsSuperuser  bool       `gorm:"default:false" json:"is_superuser"`
	IsStaff      bool       `gorm:"default:false" json:"is_staff"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Identity returns the policy view of the user
func (u *User) Identity() authz.Identity {
	return authz.Identity{
		UserID:      u.ID,
		Username:    u.Username,
		Role:        u.Role,
		IsSuperuser: u.IsSuperuser,
		IsStaff:     u.IsStaff,
	}
}

// IsAdminRole reports whether the user holds admin capability
func (u *User) IsAdminRole() bool {
	return authz.HasAdminCapability(u.Identity())
}

// Event is an immutable record of an observed security-relevant occurrence
type Event struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SourceName  string    `gorm:"type:varchar(120);not null" json:"source_name"`
	EventType   EventType `gorm:"type:varchar(20);not null;index:idx_events_type_ts,priority:1" json:"event_type"`
	Severity    Severity  `gorm:"type:varchar(20);not null;index;index:idx_events_severity_ts,priority:1" json:"severity"`
	Description string    `gorm:"type:text;not null" json:"description"`
	Timestamp   time.Time `gorm:"not null;index;index:idx_events_severity_ts,priority:2;index:idx_events_type_ts,priority:2" json:"timestamp"`
	CreatedByID *uint     `gorm:"index" json:"created_by"`

	// Weak back-reference for audit; deleting the user nulls the column
	CreatedBy *User `gorm:"foreignKey:CreatedByID;constraint:OnDelete:SET NULL" json:"-"`
}

// BeforeCreate assigns the timestamp exactly once, at creation
func (e *Event) BeforeCreate(tx *gorm.DB) error {
	e.Timestamp = time.Now().UTC()
	return nil
}

// BeforeUpdate rejects every update of a stored event
func (e *Event) BeforeUpdate(tx *gorm.DB) error {
	return ErrEventImmutable
}

// Alert is the triage record derived from exactly one qualifying event
type Alert struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	EventID   uint        `gorm:"not null;uniqueIndex" json:"event_id"`
	Status    AlertStatus `gorm:"type:varchar(20);not null;default:'OPEN';index;index:idx_alerts_status_created,priority:1" json:"status"`
	CreatedAt time.Time   `gorm:"index;index:idx_alerts_status_created,priority:2" json:"created_at"`

	// Owned by its event: deleting the event deletes the alert
	Event *Event `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE" json:"-"`
}

// AlertAuditAction names what an audit entry records
type AlertAuditAction string

const (
	AlertAuditCreated       AlertAuditAction = "created"
	AlertAuditStatusChanged AlertAuditAction = "status_changed"
)

// SystemActor is recorded when no user caused the change
const SystemActor = "system"

// AlertAuditEntry is the persisted audit trail of an alert
type AlertAuditEntry struct {
	ID         uint             `gorm:"primaryKey" json:"id"`
	AlertID    uint             `gorm:"not null;index" json:"alert_id"`
	Action     AlertAuditAction `gorm:"type:varchar(32);not null" json:"action"`
	FromStatus AlertStatus      `gorm:"type:varchar(20)" json:"from_status,omitempty"`
	ToStatus   AlertStatus      `gorm:"type:varchar(20);not null" json:"to_status"`
	Actor      string           `gorm:"type:varchar(150);not null" json:"actor"`
	CreatedAt  time.Time        `json:"created_at"`

	Alert *Alert `gorm:"foreignKey:AlertID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName overrides for explicit table naming
func (User) TableName() string {
	return "users"
}

func (Event) TableName() string {
	return "events"
}

func (Alert) TableName() string {
	return "alerts"
}

func (AlertAuditEntry) TableName() string {
	return "alert_audit_entries"
}
