// Package audit fans alert lifecycle records out to every configured sink.
// The log sink is always present; network sinks (Slack, Kafka, the live
// stream) are best effort and never fail the operation that produced the
// record.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Action names the lifecycle change a record describes
type Action string

const (
	ActionAlertCreated       Action = "alert.created"
	ActionAlertStatusChanged Action = "alert.status_changed"
)

// Record is one auditable alert lifecycle change
type Record struct {
	Action     Action    `json:"action"`
	AlertID    uint      `json:"alert_id"`
	EventID    uint      `json:"event_id"`
	Severity   string    `json:"severity"`
	SourceName string    `json:"source_name,omitempty"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status"`
	Actor      string    `json:"actor"`
	At         time.Time `json:"at"`
}

// Sink receives audit records
type Sink interface {
	Name() string
	Record(ctx context.Context, rec Record) error
}

// Recorder delivers each record to the log sink and then to every extra sink.
// Sink failures are logged and swallowed.
type Recorder struct {
	log   *zap.Logger
	sinks []Sink
}

// NewRecorder creates a recorder whose first sink is the structured log
func NewRecorder(log *zap.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	all := make([]Sink, 0, len(sinks)+1)
	all = append(all, NewLogSink(log))
	all = append(all, sinks...)
	return &Recorder{log: log, sinks: all}
}

// Add registers another sink. Not safe to call concurrently with Record.
func (r *Recorder) Add(s Sink) {
	r.sinks = append(r.sinks, s)
}

// Sinks returns the names of the registered sinks in delivery order
func (r *Recorder) Sinks() []string {
	names := make([]string, len(r.sinks))
	for i, s := range r.sinks {
		names[i] = s.Name()
	}
	return names
}

// Record delivers rec to every sink
func (r *Recorder) Record(ctx context.Context, rec Record) {
	if r == nil {
		return
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	for _, s := range r.sinks {
		if err := s.Record(ctx, rec); err != nil {
			r.log.Warn("Audit sink failed",
				zap.String("sink", s.Name()),
				zap.String("action", string(rec.Action)),
				zap.Uint("alert_id", rec.AlertID),
				zap.Error(err),
			)
		}
	}
}
