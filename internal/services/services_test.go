package services

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/threatwatch/threatwatch/internal/audit"
	"github.com/threatwatch/threatwatch/internal/authz"
	"github.com/threatwatch/threatwatch/internal/database"
	"github.com/threatwatch/threatwatch/internal/testhelpers"
)

// recordingSink captures audit records delivered by the recorder
type recordingSink struct {
	mu      sync.Mutex
	records []audit.Record
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Record(_ context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSink) byAction(action audit.Action) []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Record
	for _, r := range s.records {
		if r.Action == action {
			out = append(out, r)
		}
	}
	return out
}

type fixture struct {
	db       *gorm.DB
	sink     *recordingSink
	recorder *audit.Recorder
	engine   *AlertEngine
	events   *EventService
	alerts   *AlertService
	accounts *AccountService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithLogger(t, zap.NewNop())
}

func newFixtureWithLogger(t *testing.T, log *zap.Logger) *fixture {
	t.Helper()
	db := testhelpers.NewTestDB(t)
	sink := &recordingSink{}
	recorder := audit.NewRecorder(log, sink)
	engine := NewAlertEngine(db, recorder, log)
	return &fixture{
		db:       db,
		sink:     sink,
		recorder: recorder,
		engine:   engine,
		events:   NewEventService(db, engine, log),
		alerts:   NewAlertService(db, recorder, log),
		accounts: NewAccountService(db, PasswordPolicy{MinLength: 8}, log),
	}
}

func identityOf(user *database.User) *authz.Identity {
	id := user.Identity()
	return &id
}

func (f *fixture) alertCount(t *testing.T, eventID uint) int64 {
	t.Helper()
	var count int64
	if err := f.db.Model(&database.Alert{}).Where("event_id = ?", eventID).Count(&count).Error; err != nil {
		t.Fatalf("count alerts: %v", err)
	}
	return count
}

func (f *fixture) mustCreateEvent(t *testing.T, actor *authz.Identity, severity string) *database.Event {
	t.Helper()
	event, err := f.events.Create(context.Background(), actor, CreateEventInput{
		SourceName:  "Camera-01",
		EventType:   "INTRUSION",
		Severity:    severity,
		Description: "Door forced open",
	})
	if err != nil {
		t.Fatalf("create %s event: %v", severity, err)
	}
	return event
}

func assertKind(t *testing.T, err error, want ErrorKind) {
	t.Helper()
	kind, ok := KindOf(err)
	if !ok || kind != want {
		t.Fatalf("error = %v, want kind %s", err, want)
	}
}
