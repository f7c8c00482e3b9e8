package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/threatwatch/threatwatch/internal/authz"
	"github.com/threatwatch/threatwatch/internal/database"
)

const (
	maxSourceNameLength = 120

	DemoSourceName = "Demo-Source"
	DemoEventType  = database.EventTypeIntrusion
)

// IngestObserver is told about every stored event
type IngestObserver interface {
	ObserveEventIngested(severity string)
}

// CreateEventInput is the caller-supplied part of an event
type CreateEventInput struct {
	SourceName  string
	EventType   string
	Severity    string
	Description string
}

// DemoEventInput overrides the demo defaults when fields are set
type DemoEventInput struct {
	SourceName  string
	EventType   string
	Description string
}

// EventService stores and reads security events
type EventService struct {
	db       *gorm.DB
	engine   *AlertEngine
	observer IngestObserver
	log      *zap.Logger
	now      func() time.Time
}

// NewEventService creates an EventService
func NewEventService(db *gorm.DB, engine *AlertEngine, log *zap.Logger) *EventService {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventService{db: db, engine: engine, log: log.Named("events"), now: time.Now}
}

// SetObserver attaches an ingestion observer
func (s *EventService) SetObserver(o IngestObserver) {
	s.observer = o
}

// Create validates and stores an event attributed to actor. Qualifying events
// get their alert after the write commits.
func (s *EventService) Create(ctx context.Context, actor *authz.Identity, in CreateEventInput) (*database.Event, error) {
	event, err := buildEvent(in)
	if err != nil {
		return nil, err
	}
	attribute(event, actor)

	err = database.WithTransaction(ctx, s.db, func(tx *gorm.DB, hooks *database.CommitHooks) error {
		return s.createInTx(ctx, tx, hooks, event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	s.afterCreate(event)
	return event, nil
}

// CreateDemo stores a CRITICAL demo event and its alert in one transaction.
// Only the alert is guaranteed to exist when this returns.
func (s *EventService) CreateDemo(ctx context.Context, actor *authz.Identity, in DemoEventInput) (*database.Event, *database.Alert, error) {
	eventType := DemoEventType
	if strings.TrimSpace(in.EventType) != "" {
		parsed, ok := database.ParseEventType(in.EventType)
		if !ok {
			return nil, nil, FieldError("event_type", "must be one of "+joinEventTypes())
		}
		eventType = parsed
	}
	sourceName := strings.TrimSpace(in.SourceName)
	if sourceName == "" {
		sourceName = DemoSourceName
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		description = "Demo CRITICAL event at " + s.now().UTC().Format(time.RFC3339)
	}

	event, err := buildEvent(CreateEventInput{
		SourceName:  sourceName,
		EventType:   string(eventType),
		Severity:    string(database.SeverityCritical),
		Description: description,
	})
	if err != nil {
		return nil, nil, err
	}
	attribute(event, actor)

	var alert *database.Alert
	err = database.WithTransaction(ctx, s.db, func(tx *gorm.DB, hooks *database.CommitHooks) error {
		if err := s.createInTx(ctx, tx, hooks, event); err != nil {
			return err
		}
		var err error
		alert, _, err = s.engine.EnsureInTx(ctx, tx, hooks, event)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create demo event: %w", err)
	}
	s.afterCreate(event)
	return event, alert, nil
}

// List returns events newest first
func (s *EventService) List(ctx context.Context, page Page) ([]database.Event, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&database.Event{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	var events []database.Event
	err := s.db.WithContext(ctx).
		Order("timestamp DESC").Order("id DESC").
		Offset(page.Offset()).Limit(page.PageSize).
		Find(&events).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}
	return events, total, nil
}

// Get returns one event
func (s *EventService) Get(ctx context.Context, id uint) (*database.Event, error) {
	var event database.Event
	if err := s.db.WithContext(ctx).First(&event, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundError("Event")
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &event, nil
}

func (s *EventService) createInTx(ctx context.Context, tx *gorm.DB, hooks *database.CommitHooks, event *database.Event) error {
	if err := tx.Omit(clause.Associations).Create(event).Error; err != nil {
		return err
	}
	if s.engine != nil {
		s.engine.OnEventCreated(ctx, hooks, event)
	}
	return nil
}

func (s *EventService) afterCreate(event *database.Event) {
	s.log.Info("Event ingested",
		zap.Uint("event_id", event.ID),
		zap.String("source_name", event.SourceName),
		zap.String("event_type", string(event.EventType)),
		zap.String("severity", string(event.Severity)),
	)
	if s.observer != nil {
		s.observer.ObserveEventIngested(string(event.Severity))
	}
}

func attribute(event *database.Event, actor *authz.Identity) {
	if actor == nil || actor.UserID == 0 {
		return
	}
	id := actor.UserID
	event.CreatedByID = &id
}

// buildEvent validates input and normalizes enums. Every problem is reported,
// not just the first.
func buildEvent(in CreateEventInput) (*database.Event, error) {
	details := map[string]string{}

	sourceName := strings.TrimSpace(in.SourceName)
	switch {
	case sourceName == "":
		details["source_name"] = "is required"
	case utf8.RuneCountInString(sourceName) > maxSourceNameLength:
		details["source_name"] = fmt.Sprintf("must be at most %d characters", maxSourceNameLength)
	}

	eventType, ok := database.ParseEventType(in.EventType)
	if !ok {
		if strings.TrimSpace(in.EventType) == "" {
			details["event_type"] = "is required"
		} else {
			details["event_type"] = "must be one of " + joinEventTypes()
		}
	}

	severity, ok := database.ParseSeverity(in.Severity)
	if !ok {
		if strings.TrimSpace(in.Severity) == "" {
			details["severity"] = "is required"
		} else {
			details["severity"] = "must be one of " + joinSeverities()
		}
	}

	description := strings.TrimSpace(in.Description)
	if description == "" {
		details["description"] = "is required"
	}

	if len(details) > 0 {
		return nil, ValidationError("Invalid event", details)
	}
	return &database.Event{
		SourceName:  sourceName,
		EventType:   eventType,
		Severity:    severity,
		Description: description,
	}, nil
}

func joinEventTypes() string {
	types := database.ValidEventTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func joinSeverities() string {
	sevs := database.ValidSeverities()
	names := make([]string, len(sevs))
	for i, s := range sevs {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
