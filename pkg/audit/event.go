// Package audit persists workflow records as an append-only JSON-lines log.
package audit

import (
	"strings"
	"time"

	"github.com/newtron-network/rosguard/pkg/workflow"
)

// Event is one workflow record flattened to a single log line.
type Event struct {
	ID          string     `json:"id"`
	User        string     `json:"user,omitempty"`
	DeviceID    string     `json:"device_id"`
	Command     string     `json:"command"`
	Tier        string     `json:"tier"`
	PatternID   string     `json:"pattern_id,omitempty"`
	Warnings    []string   `json:"warnings,omitempty"`
	Path        string     `json:"path"`
	Outcome     string     `json:"outcome"`
	StartedAt   time.Time  `json:"started_at"`
	EnteredAt   *time.Time `json:"entered_at,omitempty"`
	CompletedAt time.Time  `json:"completed_at"`
	Diagnostic  string     `json:"diagnostic,omitempty"`
}

// NewEvent flattens rec. Command output is not persisted; the diagnostic
// carries everything needed to explain the outcome.
func NewEvent(rec workflow.Record) *Event {
	e := &Event{
		ID:          rec.ID,
		DeviceID:    rec.DeviceID,
		Command:     rec.Command,
		Tier:        rec.Assessment.Tier.String(),
		PatternID:   rec.Assessment.PatternID,
		Warnings:    rec.Assessment.Warnings,
		Path:        string(rec.Path),
		Outcome:     string(rec.Outcome),
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
		Diagnostic:  rec.Diagnostic,
	}
	if !rec.EnteredAt.IsZero() {
		entered := rec.EnteredAt
		e.EnteredAt = &entered
	}
	return e
}

// Duration returns how long the workflow took.
func (e *Event) Duration() time.Duration {
	return e.CompletedAt.Sub(e.StartedAt)
}

// Filter selects events in Query. Empty fields match everything.
type Filter struct {
	Device    string
	Outcome   string
	Tier      string
	Path      string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

func (f Filter) matches(e *Event) bool {
	switch {
	case f.Device != "" && e.DeviceID != f.Device,
		f.Outcome != "" && e.Outcome != f.Outcome,
		f.Tier != "" && !strings.EqualFold(e.Tier, f.Tier),
		f.Path != "" && e.Path != f.Path,
		!f.StartTime.IsZero() && e.StartedAt.Before(f.StartTime),
		!f.EndTime.IsZero() && e.StartedAt.After(f.EndTime):
		return false
	}
	return true
}

// Sink adapts a Logger to workflow.Sink, stamping each event with User.
type Sink struct {
	Logger Logger
	User   string
}

// Append implements workflow.Sink.
func (s Sink) Append(rec workflow.Record) error {
	e := NewEvent(rec)
	e.User = s.User
	return s.Logger.Log(e)
}
