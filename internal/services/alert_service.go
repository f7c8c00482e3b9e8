package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/threatwatch/threatwatch/internal/audit"
	"github.com/threatwatch/threatwatch/internal/authz"
	"github.com/threatwatch/threatwatch/internal/database"
)

// AlertFilter narrows an alert listing. Severity and Status are matched
// case-insensitively; Ordering is a field name with an optional "-" prefix.
type AlertFilter struct {
	Severity string
	Status   string
	Ordering string
	Page     Page
}

// severityRankSQL orders by severity rank instead of alphabetically
const severityRankSQL = "CASE events.severity WHEN 'LOW' THEN 0 WHEN 'MEDIUM' THEN 1 WHEN 'HIGH' THEN 2 WHEN 'CRITICAL' THEN 3 ELSE -1 END"

var alertOrderings = map[string]string{
	"created_at": "alerts.created_at",
	"status":     "alerts.status",
	"severity":   severityRankSQL,
}

// AlertService is the read and triage surface over alerts
type AlertService struct {
	db       *gorm.DB
	recorder *audit.Recorder
	log      *zap.Logger
}

// NewAlertService creates a new AlertService
func NewAlertService(db *gorm.DB, recorder *audit.Recorder, log *zap.Logger) *AlertService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AlertService{db: db, recorder: recorder, log: log.Named("alerts")}
}

// List returns alerts with their events, newest first unless ordered otherwise
func (s *AlertService) List(ctx context.Context, f AlertFilter) ([]database.Alert, int64, error) {
	order, err := alertOrderClause(f.Ordering)
	if err != nil {
		return nil, 0, err
	}

	filtered := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&database.Alert{}).
			Joins("JOIN events ON events.id = alerts.event_id")
		if sev := strings.ToUpper(strings.TrimSpace(f.Severity)); sev != "" {
			q = q.Where("events.severity = ?", sev)
		}
		if st := strings.ToUpper(strings.TrimSpace(f.Status)); st != "" {
			q = q.Where("alerts.status = ?", st)
		}
		return q
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	var alerts []database.Alert
	err = filtered().
		Preload("Event").
		Order(order).
		Offset(f.Page.Offset()).Limit(f.Page.PageSize).
		Find(&alerts).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, total, nil
}

// alertOrderClause turns "field" / "-field" into SQL, always ending with id
// as a tiebreaker.
func alertOrderClause(ordering string) (string, error) {
	ordering = strings.TrimSpace(ordering)
	if ordering == "" {
		return "alerts.created_at DESC, alerts.id DESC", nil
	}

	direction := "ASC"
	field := ordering
	if strings.HasPrefix(field, "-") {
		direction = "DESC"
		field = field[1:]
	}
	column, ok := alertOrderings[strings.ToLower(field)]
	if !ok {
		return "", FieldError("ordering", "must be one of created_at, status, severity (prefix with - for descending)")
	}
	return fmt.Sprintf("%s %s, alerts.id %s", column, direction, direction), nil
}

// Get returns one alert with its event
func (s *AlertService) Get(ctx context.Context, id uint) (*database.Alert, error) {
	var alert database.Alert
	if err := s.db.WithContext(ctx).Preload("Event").First(&alert, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundError("Alert")
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return &alert, nil
}

// History returns the persisted audit trail of an alert, oldest first
func (s *AlertService) History(ctx context.Context, id uint) ([]database.AlertAuditEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	var entries []database.AlertAuditEntry
	err := s.db.WithContext(ctx).
		Where("alert_id = ?", id).
		Order("created_at ASC").Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load alert history: %w", err)
	}
	return entries, nil
}

// ParseStatusInput validates a requested status against the closed set
func ParseStatusInput(raw string) (database.AlertStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return "", FieldError("status", "is required")
	}
	status, ok := database.ParseAlertStatus(raw)
	if !ok {
		allowed := make([]string, 0, len(database.ValidAlertStatuses()))
		for _, st := range database.ValidAlertStatuses() {
			allowed = append(allowed, string(st))
		}
		return "", ValidationError(
			"Invalid status. Allowed: "+strings.Join(allowed, ", "),
			map[string]string{"status": "must be one of " + strings.Join(allowed, ", ")},
		)
	}
	return status, nil
}

// UpdateStatus moves an alert to the requested status. Every transition is
// allowed, including to the current status.
func (s *AlertService) UpdateStatus(ctx context.Context, actor authz.Identity, id uint, rawStatus string) (*database.Alert, error) {
	status, err := ParseStatusInput(rawStatus)
	if err != nil {
		return nil, err
	}

	var alert database.Alert
	err = database.WithTransaction(ctx, s.db, func(tx *gorm.DB, hooks *database.CommitHooks) error {
		if err := tx.First(&alert, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NotFoundError("Alert")
			}
			return err
		}
		previous := alert.Status

		if err := tx.Model(&alert).Update("status", status).Error; err != nil {
			return err
		}
		entry := &database.AlertAuditEntry{
			AlertID:    alert.ID,
			Action:     database.AlertAuditStatusChanged,
			FromStatus: previous,
			ToStatus:   status,
			Actor:      actor.Username,
		}
		if err := tx.Omit(clause.Associations).Create(entry).Error; err != nil {
			return err
		}
		if err := tx.Preload("Event").First(&alert, id).Error; err != nil {
			return err
		}

		rec := audit.Record{
			Action:     audit.ActionAlertStatusChanged,
			AlertID:    alert.ID,
			EventID:    alert.EventID,
			FromStatus: string(previous),
			ToStatus:   string(status),
			Actor:      actor.Username,
			At:         entry.CreatedAt,
		}
		if alert.Event != nil {
			rec.Severity = string(alert.Event.Severity)
			rec.SourceName = alert.Event.SourceName
		}
		hooks.OnCommit(func() {
			s.recorder.Record(context.WithoutCancel(ctx), rec)
		})
		return nil
	})
	if err != nil {
		if _, ok := AsError(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update alert status: %w", err)
	}
	return &alert, nil
}
