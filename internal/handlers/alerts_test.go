package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/threatwatch/threatwatch/internal/api"
	"github.com/threatwatch/threatwatch/internal/audit"
	"github.com/threatwatch/threatwatch/internal/database"
	"github.com/threatwatch/threatwatch/internal/testhelpers"
)

func TestAlerts_IngestAndTriageScenario(t *testing.T) {
	s := newTestServer(t)
	analystToken := s.token("analyst1")
	adminToken := s.token("admin")

	// analyst reports an intrusion
	var created api.EventResponse
	s.do(http.MethodPost, "/api/events", analystToken, api.CreateEventRequest{
		SourceName:  "Camera-01",
		EventType:   "INTRUSION",
		Severity:    "HIGH",
		Description: "Motion detected in server room after hours",
	}).AssertStatus(http.StatusCreated).DecodeJSON(&created)
	if created.ID == 0 {
		t.Fatal("created event has no id")
	}
	if created.CreatedBy == nil || *created.CreatedBy != s.analyst.ID {
		t.Errorf("created_by = %v, want %d", created.CreatedBy, s.analyst.ID)
	}

	// analyst sees exactly one open alert for it
	var list alertListResponse
	s.do(http.MethodGet, "/api/alerts", analystToken, nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&list)
	if len(list.Data) != 1 || list.Pagination.Total != 1 {
		t.Fatalf("alerts = %d (total %d), want 1", len(list.Data), list.Pagination.Total)
	}
	alert := list.Data[0]
	if alert.Status != database.AlertStatusOpen {
		t.Errorf("status = %s, want OPEN", alert.Status)
	}
	if alert.Event.ID != created.ID || alert.Event.SourceName != "Camera-01" ||
		alert.Event.EventType != database.EventTypeIntrusion || alert.Severity != database.SeverityHigh {
		t.Errorf("snapshot = %+v (severity %s), want Camera-01 INTRUSION HIGH", alert.Event, alert.Severity)
	}

	// admin resolves it
	var updated api.AlertResponse
	s.do(http.MethodPatch, fmt.Sprintf("/api/alerts/%d/status", alert.ID), adminToken,
		api.UpdateAlertStatusRequest{Status: "RESOLVED"}).
		AssertStatus(http.StatusOK).
		DecodeJSON(&updated)
	if updated.Status != database.AlertStatusResolved {
		t.Errorf("response status = %s, want RESOLVED", updated.Status)
	}

	var fetched api.AlertResponse
	s.do(http.MethodGet, fmt.Sprintf("/api/alerts/%d", alert.ID), analystToken, nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&fetched)
	if fetched.Status != database.AlertStatusResolved {
		t.Errorf("fetched status = %s, want RESOLVED", fetched.Status)
	}

	var history api.AlertHistoryResponse
	s.do(http.MethodGet, fmt.Sprintf("/api/alerts/%d/history", alert.ID), analystToken, nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&history)
	if len(history.Entries) != 2 {
		t.Fatalf("history entries = %d, want 2", len(history.Entries))
	}
	change := history.Entries[1]
	if change.Action != database.AlertAuditStatusChanged ||
		change.FromStatus != database.AlertStatusOpen ||
		change.ToStatus != database.AlertStatusResolved ||
		change.Actor != "admin" {
		t.Errorf("history entry = %+v, want admin OPEN->RESOLVED", change)
	}

	// the same transition reached the audit sinks
	var sawChange bool
	for _, rec := range s.sink.all() {
		if rec.Action == audit.ActionAlertStatusChanged && rec.AlertID == alert.ID &&
			rec.FromStatus == "OPEN" && rec.ToStatus == "RESOLVED" {
			sawChange = true
		}
	}
	if !sawChange {
		t.Errorf("no status change record in %+v", s.sink.all())
	}
}

func TestAlerts_OnlyHighAndCriticalRaiseAlerts(t *testing.T) {
	tests := []struct {
		severity   string
		wantAlerts int64
	}{
		{"LOW", 0},
		{"MEDIUM", 0},
		{"HIGH", 1},
		{"CRITICAL", 1},
		{"critical", 1},
	}
	for _, tt := range tests {
		t.Run(tt.severity, func(t *testing.T) {
			s := newTestServer(t)
			s.do(http.MethodPost, "/api/events", s.token("analyst1"), api.CreateEventRequest{
				SourceName:  "IDS-7",
				EventType:   "MALWARE",
				Severity:    tt.severity,
				Description: "signature match",
			}).AssertStatus(http.StatusCreated)

			if got := s.alertCount(); got != tt.wantAlerts {
				t.Errorf("alerts = %d, want %d", got, tt.wantAlerts)
			}
		})
	}
}

func TestAlerts_AccessMatrix(t *testing.T) {
	s := newTestServer(t)
	alert := testhelpers.CreateAlert(t, s.db, testhelpers.NewEventBuilder().CreatedBy(s.analyst.ID), database.AlertStatusOpen)
	staff := testhelpers.NewUserBuilder().WithUsername("staffer").AsStaff().Create(t, s.db)

	statusPath := fmt.Sprintf("/api/alerts/%d/status", alert.ID)
	body := api.UpdateAlertStatusRequest{Status: "ACKNOWLEDGED"}

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		wantStatus int
		wantCode   string
	}{
		{"anonymous list", http.MethodGet, "/api/alerts", "", http.StatusUnauthorized, api.CodeUnauthenticated},
		{"analyst list", http.MethodGet, "/api/alerts", s.token("analyst1"), http.StatusOK, ""},
		{"anonymous detail", http.MethodGet, fmt.Sprintf("/api/alerts/%d", alert.ID), "", http.StatusUnauthorized, api.CodeUnauthenticated},
		{"anonymous update", http.MethodPatch, statusPath, "", http.StatusUnauthorized, api.CodeUnauthenticated},
		{"analyst update", http.MethodPatch, statusPath, s.token("analyst1"), http.StatusForbidden, api.CodeForbidden},
		{"analyst update missing alert", http.MethodPatch, "/api/alerts/99999/status", s.token("analyst1"), http.StatusForbidden, api.CodeForbidden},
		{"admin update missing alert", http.MethodPatch, "/api/alerts/99999/status", s.token("admin"), http.StatusNotFound, api.CodeNotFound},
		{"admin detail missing alert", http.MethodGet, "/api/alerts/99999", s.token("admin"), http.StatusNotFound, api.CodeNotFound},
		{"non-numeric id", http.MethodGet, "/api/alerts/abc", s.token("admin"), http.StatusNotFound, api.CodeNotFound},
		{"staff update", http.MethodPatch, statusPath, s.token(staff.Username), http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payload interface{}
			if tt.method == http.MethodPatch {
				payload = body
			}
			ctx := s.do(tt.method, tt.path, tt.token, payload).AssertStatus(tt.wantStatus)
			if tt.wantCode != "" {
				ctx.AssertErrorCode(tt.wantCode)
			}
		})
	}
}

func TestAlerts_AnalystCannotChangeStatus(t *testing.T) {
	s := newTestServer(t)
	alert := testhelpers.CreateAlert(t, s.db, testhelpers.NewEventBuilder(), database.AlertStatusOpen)

	s.do(http.MethodPatch, fmt.Sprintf("/api/alerts/%d/status", alert.ID), s.token("analyst1"),
		api.UpdateAlertStatusRequest{Status: "RESOLVED"}).
		AssertStatus(http.StatusForbidden)

	if got := s.reloadAlert(alert.ID).Status; got != database.AlertStatusOpen {
		t.Errorf("status = %s, want OPEN", got)
	}
}

func TestAlerts_InvalidStatusLeavesAlertUnchanged(t *testing.T) {
	s := newTestServer(t)
	alert := testhelpers.CreateAlert(t, s.db, testhelpers.NewEventBuilder(), database.AlertStatusAcknowledged)
	path := fmt.Sprintf("/api/alerts/%d/status", alert.ID)

	tests := []struct {
		name string
		body interface{}
	}{
		{"unknown value", api.UpdateAlertStatusRequest{Status: "CLOSED"}},
		{"empty value", api.UpdateAlertStatusRequest{Status: ""}},
		{"no body", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.do(http.MethodPatch, path, s.token("admin"), tt.body).
				AssertStatus(http.StatusBadRequest).
				AssertErrorCode(api.CodeValidation).
				AssertBodyContains("status")

			if got := s.reloadAlert(alert.ID).Status; got != database.AlertStatusAcknowledged {
				t.Errorf("status = %s, want ACKNOWLEDGED", got)
			}
		})
	}
}

func TestAlerts_StatusUpdateAcceptsPostAndLowercase(t *testing.T) {
	s := newTestServer(t)
	alert := testhelpers.CreateAlert(t, s.db, testhelpers.NewEventBuilder(), database.AlertStatusOpen)

	var updated api.AlertResponse
	s.do(http.MethodPost, fmt.Sprintf("/api/alerts/%d/status", alert.ID), s.token("admin"),
		api.UpdateAlertStatusRequest{Status: "acknowledged"}).
		AssertStatus(http.StatusOK).
		DecodeJSON(&updated)
	if updated.Status != database.AlertStatusAcknowledged {
		t.Errorf("status = %s, want ACKNOWLEDGED", updated.Status)
	}
}

func TestAlerts_SeverityFilterIsCaseInsensitive(t *testing.T) {
	s := newTestServer(t)
	testhelpers.CreateAlert(t, s.db, testhelpers.NewEventBuilder().WithSeverity(database.SeverityCritical), database.AlertStatusOpen)
	testhelpers.CreateAlert(t, s.db, testhelpers.NewEventBuilder().WithSeverity(database.SeverityCritical), database.AlertStatusResolved)
	testhelpers.CreateAlert(t, s.db, testhelpers.NewEventBuilder().WithSeverity(database.SeverityHigh), database.AlertStatusOpen)
	token := s.token("analyst1")

	tests := []struct {
		query string
		want  int
	}{
		{"severity=critical", 2},
		{"severity=CRITICAL", 2},
		{"severity=Critical", 2},
		{"severity=high", 1},
		{"severity=low", 0},
		{"severity=bogus", 0},
		{"severity=critical&status=open", 1},
		{"status=RESOLVED", 1},
		{"", 3},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var list alertListResponse
			s.do(http.MethodGet, "/api/alerts?"+tt.query, token, nil).
				AssertStatus(http.StatusOK).
				DecodeJSON(&list)
			if len(list.Data) != tt.want {
				t.Errorf("got %d alerts, want %d", len(list.Data), tt.want)
			}
			for _, a := range list.Data {
				if tt.query == "severity=critical" && a.Severity != database.SeverityCritical {
					t.Errorf("alert %d severity = %s", a.ID, a.Severity)
				}
			}
		})
	}
}

func TestAlerts_OrderingAndPagination(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 12; i++ {
		testhelpers.CreateAlert(t, s.db, testhelpers.NewEventBuilder().WithSource(fmt.Sprintf("sensor-%02d", i)), database.AlertStatusOpen)
	}
	token := s.token("analyst1")

	var first alertListResponse
	s.do(http.MethodGet, "/api/alerts", token, nil).AssertStatus(http.StatusOK).DecodeJSON(&first)
	if len(first.Data) != 10 || first.Pagination.TotalPages != 2 || first.Pagination.Total != 12 {
		t.Errorf("page 1: %d items, meta %+v", len(first.Data), first.Pagination)
	}
	for i := 1; i < len(first.Data); i++ {
		if first.Data[i-1].ID < first.Data[i].ID {
			t.Errorf("default ordering not newest first at %d", i)
			break
		}
	}

	var second alertListResponse
	s.do(http.MethodGet, "/api/alerts?page=2", token, nil).AssertStatus(http.StatusOK).DecodeJSON(&second)
	if len(second.Data) != 2 {
		t.Errorf("page 2 items = %d, want 2", len(second.Data))
	}

	var beyond alertListResponse
	s.do(http.MethodGet, "/api/alerts?page=9", token, nil).AssertStatus(http.StatusOK).DecodeJSON(&beyond)
	if len(beyond.Data) != 0 {
		t.Errorf("out of range page items = %d, want 0", len(beyond.Data))
	}

	var asc alertListResponse
	s.do(http.MethodGet, "/api/alerts?ordering=created_at&page_size=3", token, nil).AssertStatus(http.StatusOK).DecodeJSON(&asc)
	if len(asc.Data) != 3 || asc.Data[0].ID > asc.Data[1].ID {
		t.Errorf("ascending ordering returned %+v", asc.Data)
	}

	s.do(http.MethodGet, "/api/alerts?ordering=description", token, nil).
		AssertStatus(http.StatusBadRequest).
		AssertErrorCode(api.CodeValidation)
}

func TestAlerts_HugePageReturnsEmptyData(t *testing.T) {
	s := newTestServer(t)
	testhelpers.CreateAlert(t, s.db, testhelpers.NewEventBuilder(), database.AlertStatusOpen)
	token := s.token("analyst1")

	for _, path := range []string{
		"/api/alerts?page=9223372036854775807&page_size=100",
		"/api/alerts?page=4611686018427387904&page_size=2",
	} {
		var resp alertListResponse
		s.do(http.MethodGet, path, token, nil).AssertStatus(http.StatusOK).DecodeJSON(&resp)
		if len(resp.Data) != 0 {
			t.Errorf("GET %s returned %d alerts, want none", path, len(resp.Data))
		}
		if resp.Pagination.Total != 1 || resp.Pagination.Page < 1 {
			t.Errorf("GET %s meta = %+v", path, resp.Pagination)
		}
	}

	var events eventListResponse
	s.do(http.MethodGet, "/api/events?page=9223372036854775807&page_size=100", s.token("admin"), nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&events)
	if len(events.Data) != 0 {
		t.Errorf("huge events page returned %d events, want none", len(events.Data))
	}
}

func TestAlerts_HistoryMissingAlert(t *testing.T) {
	s := newTestServer(t)

	s.do(http.MethodGet, "/api/alerts/424242/history", s.token("analyst1"), nil).
		AssertStatus(http.StatusNotFound).
		AssertBodyContains("Alert not found")
}

func TestAlerts_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t)

	s.do(http.MethodDelete, "/api/alerts/1", s.token("admin"), nil).
		AssertStatus(http.StatusMethodNotAllowed).
		AssertHeader("Allow", "GET").
		AssertErrorCode(api.CodeMethodNotAllowed)

	s.do(http.MethodPut, "/api/alerts/1/status", s.token("admin"), nil).
		AssertStatus(http.StatusMethodNotAllowed).
		AssertHeader("Allow", "PATCH, POST")
}
