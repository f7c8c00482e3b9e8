package audit

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes records to the structured application log
type LogSink struct {
	log *zap.Logger
}

// NewLogSink creates a sink on the given logger
func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("audit")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Record(_ context.Context, rec Record) error {
	fields := []zap.Field{
		zap.String("action", string(rec.Action)),
		zap.Uint("alert_id", rec.AlertID),
		zap.Uint("event_id", rec.EventID),
		zap.String("severity", rec.Severity),
		zap.String("actor", rec.Actor),
		zap.Time("at", rec.At),
	}
	if rec.SourceName != "" {
		fields = append(fields, zap.String("source_name", rec.SourceName))
	}

	switch rec.Action {
	case ActionAlertCreated:
		s.log.Warn("Alert generated", append(fields, zap.String("status", rec.ToStatus))...)
	case ActionAlertStatusChanged:
		s.log.Info("Alert status updated", append(fields,
			zap.String("from_status", rec.FromStatus),
			zap.String("to_status", rec.ToStatus),
		)...)
	default:
		s.log.Info("Alert audit record", fields...)
	}
	return nil
}
