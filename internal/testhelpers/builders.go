package testhelpers

import (
	"testing"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/threatwatch/threatwatch/internal/authz"
	"github.com/threatwatch/threatwatch/internal/database"
)

// ========================================
// User Builder
// ========================================

// UserBuilder builds User instances for testing
type UserBuilder struct {
	user database.User
}

// NewUserBuilder creates an analyst with a placeholder hash
func NewUserBuilder() *UserBuilder {
	return &UserBuilder{
		user: database.User{
			Username:     "analyst",
			PasswordHash: "not-a-real-hash",
			Role:         authz.RoleAnalyst,
		},
	}
}

// WithUsername sets the username
func (b *UserBuilder) WithUsername(username string) *UserBuilder {
	b.user.Username = username
	return b
}

// WithPasswordHash sets the stored hash
func (b *UserBuilder) WithPasswordHash(hash string) *UserBuilder {
	b.user.PasswordHash = hash
	return b
}

// AsAdmin sets the ADMIN role
func (b *UserBuilder) AsAdmin() *UserBuilder {
	b.user.Role = authz.RoleAdmin
	return b
}

// AsStaff sets the staff flag
func (b *UserBuilder) AsStaff() *UserBuilder {
	b.user.IsStaff = true
	return b
}

// AsSuperuser sets the superuser flag
func (b *UserBuilder) AsSuperuser() *UserBuilder {
	b.user.IsSuperuser = true
	return b
}

// Build returns the constructed user
func (b *UserBuilder) Build() database.User {
	return b.user
}

// Create inserts the user and returns it with its id
func (b *UserBuilder) Create(t *testing.T, db *gorm.DB) *database.User {
	t.Helper()
	user := b.user
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to create user %q: %v", user.Username, err)
	}
	return &user
}

// ========================================
// Event Builder
// ========================================

// EventBuilder builds Event instances for testing
type EventBuilder struct {
	event database.Event
}

// NewEventBuilder creates a LOW intrusion event
func NewEventBuilder() *EventBuilder {
	return &EventBuilder{
		event: database.Event{
			SourceName:  "Camera-01",
			EventType:   database.EventTypeIntrusion,
			Severity:    database.SeverityLow,
			Description: "Test event",
		},
	}
}

// WithSource sets the source name
func (b *EventBuilder) WithSource(source string) *EventBuilder {
	b.event.SourceName = source
	return b
}

// WithType sets the event type
func (b *EventBuilder) WithType(eventType database.EventType) *EventBuilder {
	b.event.EventType = eventType
	return b
}

// WithSeverity sets the severity
func (b *EventBuilder) WithSeverity(severity database.Severity) *EventBuilder {
	b.event.Severity = severity
	return b
}

// WithDescription sets the description
func (b *EventBuilder) WithDescription(desc string) *EventBuilder {
	b.event.Description = desc
	return b
}

// CreatedBy attributes the event to a user
func (b *EventBuilder) CreatedBy(userID uint) *EventBuilder {
	id := userID
	b.event.CreatedByID = &id
	return b
}

// Build returns the constructed event
func (b *EventBuilder) Build() database.Event {
	return b.event
}

// Create inserts the event directly, bypassing the alert engine
func (b *EventBuilder) Create(t *testing.T, db *gorm.DB) *database.Event {
	t.Helper()
	event := b.event
	if err := db.Omit(clause.Associations).Create(&event).Error; err != nil {
		t.Fatalf("failed to create event: %v", err)
	}
	return &event
}

// CreateAlert inserts an event together with an alert in the given status
func CreateAlert(t *testing.T, db *gorm.DB, event *EventBuilder, status database.AlertStatus) *database.Alert {
	t.Helper()
	ev := event.Create(t, db)
	alert := database.Alert{EventID: ev.ID, Status: status}
	if err := db.Omit(clause.Associations).Create(&alert).Error; err != nil {
		t.Fatalf("failed to create alert: %v", err)
	}
	alert.Event = ev
	return &alert
}
