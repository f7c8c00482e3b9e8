package api

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/threatwatch/threatwatch/internal/authz"
	"github.com/threatwatch/threatwatch/internal/database"
)

func sampleEvent() database.Event {
	uid := uint(3)
	return database.Event{
		ID:          12,
		SourceName:  "Camera-01",
		EventType:   database.EventTypeIntrusion,
		Severity:    database.SeverityHigh,
		Description: "Door forced",
		Timestamp:   time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		CreatedByID: &uid,
	}
}

func TestAlertToResponse_EmbedsEventSnapshot(t *testing.T) {
	ev := sampleEvent()
	alert := database.Alert{ID: 5, EventID: ev.ID, Status: database.AlertStatusOpen, CreatedAt: time.Now(), Event: &ev}

	resp := AlertToResponse(alert)
	if resp.ID != 5 || resp.Status != database.AlertStatusOpen || resp.Severity != database.SeverityHigh {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Event.ID != 12 || resp.Event.SourceName != "Camera-01" || resp.Event.Description != "Door forced" {
		t.Errorf("snapshot = %+v", resp.Event)
	}

	data, _ := json.Marshal(resp)
	for _, key := range []string{`"event":{`, `"source_name":"Camera-01"`, `"severity":"HIGH"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("json %s missing %s", data, key)
		}
	}
}

func TestAlertToResponse_WithoutEvent(t *testing.T) {
	resp := AlertToResponse(database.Alert{ID: 1, Status: database.AlertStatusResolved})
	if resp.Event.ID != 0 || resp.Severity != "" {
		t.Errorf("resp = %+v, want empty snapshot", resp)
	}
}

func TestEventToResponse(t *testing.T) {
	resp := EventToResponse(sampleEvent())
	if resp.CreatedBy == nil || *resp.CreatedBy != 3 || resp.Timestamp.IsZero() {
		t.Errorf("resp = %+v", resp)
	}
	if got := EventsToResponses([]database.Event{sampleEvent(), sampleEvent()}); len(got) != 2 {
		t.Errorf("len = %d", len(got))
	}
}

func TestAccountToResponse_NoCredentials(t *testing.T) {
	user := database.User{ID: 9, Username: "jdoe", PasswordHash: "$2a$10$secret", Role: authz.RoleAnalyst, IsStaff: true}
	resp := AccountToResponse(user)
	if !resp.IsAdmin {
		t.Error("staff user should report admin capability")
	}
	data, _ := json.Marshal(resp)
	if strings.Contains(string(data), "secret") || strings.Contains(string(data), "password") {
		t.Errorf("account json leaks credentials: %s", data)
	}
}

func TestIdentityToResponse(t *testing.T) {
	resp := IdentityToResponse(authz.Identity{UserID: 1, Username: "root", Role: authz.RoleAnalyst, IsSuperuser: true})
	if !resp.IsAdmin || resp.Username != "root" || resp.ID != 1 {
		t.Errorf("resp = %+v", resp)
	}
}
