// Package workflow is the single entry point for running a command on a
// device: it classifies the command, gates risky ones behind an explicit
// approval, runs approved HIGH and CRITICAL commands inside a protective
// safe mode session, and records every attempt.
package workflow

import (
	"time"

	"github.com/newtron-network/rosguard/pkg/risk"
)

// Path is the execution route a workflow took.
type Path string

const (
	PathDirect  Path = "direct"
	PathPending Path = "pending"
	PathStaged  Path = "staged"
)

// Outcome is the final status of a workflow.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeFailed     Outcome = "failed"
	OutcomeRolledBack Outcome = "rolled-back"
	OutcomePending    Outcome = "pending"
)

// Request asks for command to run on DeviceID.
type Request struct {
	Command  string
	DeviceID string

	// Approved confirms the caller has seen the preview. Commands that need
	// a preview are never executed without it.
	Approved bool

	// Timeout overrides the tier's safe mode timeout. Zero keeps the default.
	Timeout time.Duration
}

// Result is what the caller gets back from Run.
type Result struct {
	Status     Outcome   `json:"status"`
	Tier       risk.Tier `json:"tier"`
	Preview    string    `json:"preview,omitempty"`
	Output     string    `json:"output,omitempty"`
	Warnings   []string  `json:"warnings,omitempty"`
	RecordID   string    `json:"record_id"`
	Diagnostic string    `json:"diagnostic,omitempty"`
}

// Record is the immutable audit entry for one Run call.
type Record struct {
	ID         string          `json:"id"`
	DeviceID   string          `json:"device_id"`
	Command    string          `json:"command"`
	Assessment risk.Assessment `json:"assessment"`
	Path       Path            `json:"path"`
	Outcome    Outcome         `json:"outcome"`

	StartedAt time.Time `json:"started_at"`
	// EnteredAt is when safe mode was entered; zero unless Path is staged
	// and entry succeeded.
	EnteredAt   time.Time `json:"entered_at,omitempty"`
	CompletedAt time.Time `json:"completed_at"`

	Output     string `json:"output,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// clone returns a copy that shares no slices with r.
func (r Record) clone() Record {
	r.Assessment.Warnings = append([]string(nil), r.Assessment.Warnings...)
	return r
}
