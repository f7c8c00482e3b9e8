package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/threatwatch/threatwatch/internal/audit"
	"github.com/threatwatch/threatwatch/internal/database"
)

// AlertEngine turns newly stored HIGH and CRITICAL events into alerts.
// Each event yields at most one alert, enforced by the unique event_id
// column, and a failure here never fails the event write that triggered it.
type AlertEngine struct {
	db       *gorm.DB
	recorder *audit.Recorder
	log      *zap.Logger
}

// NewAlertEngine creates an engine
func NewAlertEngine(db *gorm.DB, recorder *audit.Recorder, log *zap.Logger) *AlertEngine {
	if log == nil {
		log = zap.NewNop()
	}
	return &AlertEngine{db: db, recorder: recorder, log: log.Named("alert_engine")}
}

// OnEventCreated registers alert generation to run once the transaction that
// stored event commits. Events below HIGH are ignored.
func (e *AlertEngine) OnEventCreated(ctx context.Context, hooks *database.CommitHooks, event *database.Event) {
	if !event.Severity.TriggersAlert() {
		return
	}
	snapshot := *event
	snapshot.CreatedBy = nil
	hooks.OnCommit(func() {
		e.Evaluate(context.WithoutCancel(ctx), &snapshot)
	})
}

// Evaluate makes sure a committed qualifying event has its alert. It is safe
// to call any number of times, concurrently, for the same event. Errors are
// logged and swallowed; the returned alert is nil in that case.
func (e *AlertEngine) Evaluate(ctx context.Context, event *database.Event) (*database.Alert, bool) {
	if !event.Severity.TriggersAlert() {
		return nil, false
	}

	var (
		alert   *database.Alert
		created bool
	)
	err := database.WithTransaction(ctx, e.db, func(tx *gorm.DB, hooks *database.CommitHooks) error {
		var err error
		alert, created, err = e.EnsureInTx(ctx, tx, hooks, event)
		return err
	})
	if err != nil {
		e.log.Error("Alert generation failed",
			zap.Uint("event_id", event.ID),
			zap.String("severity", string(event.Severity)),
			zap.Error(err),
		)
		return nil, false
	}
	return alert, created
}

// EnsureInTx gets or creates the alert for event inside tx. On creation it
// writes the "created" audit row and queues the audit record for after
// commit. created reports whether this call inserted the alert.
func (e *AlertEngine) EnsureInTx(ctx context.Context, tx *gorm.DB, hooks *database.CommitHooks, event *database.Event) (*database.Alert, bool, error) {
	alert, created, err := getOrCreateAlert(tx, event.ID)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return alert, false, nil
	}

	entry := &database.AlertAuditEntry{
		AlertID:  alert.ID,
		Action:   database.AlertAuditCreated,
		ToStatus: alert.Status,
		Actor:    database.SystemActor,
	}
	if err := tx.Omit(clause.Associations).Create(entry).Error; err != nil {
		return nil, false, fmt.Errorf("failed to write alert audit entry: %w", err)
	}

	rec := audit.Record{
		Action:     audit.ActionAlertCreated,
		AlertID:    alert.ID,
		EventID:    event.ID,
		Severity:   string(event.Severity),
		SourceName: event.SourceName,
		ToStatus:   string(alert.Status),
		Actor:      database.SystemActor,
		At:         alert.CreatedAt,
	}
	hooks.OnCommit(func() {
		e.recorder.Record(context.WithoutCancel(ctx), rec)
	})
	return alert, true, nil
}

// getOrCreateAlert inserts the alert unless one already exists for eventID.
// ON CONFLICT DO NOTHING makes concurrent inserts race-free; the loser of the
// race reads back the winner's row.
func getOrCreateAlert(tx *gorm.DB, eventID uint) (*database.Alert, bool, error) {
	alert := &database.Alert{EventID: eventID, Status: database.AlertStatusOpen}
	result := tx.Omit(clause.Associations).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(alert)
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return nil, false, fmt.Errorf("failed to create alert: %w", result.Error)
	}
	if result.Error == nil && result.RowsAffected == 1 {
		return alert, true, nil
	}

	var existing database.Alert
	if err := tx.Where("event_id = ?", eventID).First(&existing).Error; err != nil {
		return nil, false, fmt.Errorf("failed to load existing alert: %w", err)
	}
	return &existing, false, nil
}
