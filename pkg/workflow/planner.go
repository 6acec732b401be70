package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/newtron-network/rosguard/pkg/executor"
	"github.com/newtron-network/rosguard/pkg/risk"
	"github.com/newtron-network/rosguard/pkg/session"
	"github.com/newtron-network/rosguard/pkg/util"
)

// DefaultSnapshotWindow is how far back the pre-change log snapshot reaches
// for approved MEDIUM commands.
const DefaultSnapshotWindow = 5 * time.Minute

// Sink receives every finished record, e.g. an audit log file.
type Sink interface {
	Append(rec Record) error
}

// Config wires a Planner.
type Config struct {
	Catalog  *risk.Catalog
	Resolver executor.Resolver

	// Registry is shared with any other planner driving the same devices.
	// Nil creates a private one.
	Registry *session.Registry

	HistoryCapacity int
	Sink            Sink
	SnapshotWindow  time.Duration
}

// Planner runs workflows. It holds no per-request state and is safe for
// concurrent use.
type Planner struct {
	catalog  *risk.Catalog
	resolver executor.Resolver
	registry *session.Registry
	sessions *session.Manager
	history  *History
	sink     Sink
	window   time.Duration
}

// NewPlanner builds a planner from cfg. A nil catalog uses the built-in one.
func NewPlanner(cfg Config) *Planner {
	if cfg.Catalog == nil {
		cfg.Catalog = risk.DefaultCatalog()
	}
	if cfg.Registry == nil {
		cfg.Registry = session.NewRegistry()
	}
	if cfg.SnapshotWindow <= 0 {
		cfg.SnapshotWindow = DefaultSnapshotWindow
	}
	return &Planner{
		catalog:  cfg.Catalog,
		resolver: cfg.Resolver,
		registry: cfg.Registry,
		sessions: session.NewManager(cfg.Registry, cfg.Resolver, cfg.Catalog.SafeMode),
		history:  NewHistory(cfg.HistoryCapacity),
		sink:     cfg.Sink,
		window:   cfg.SnapshotWindow,
	}
}

// Catalog returns the risk catalog the planner classifies with.
func (p *Planner) Catalog() *risk.Catalog {
	return p.catalog
}

// Run classifies req.Command and then, depending on the tier and approval:
//
//   - LOW runs directly.
//   - MEDIUM, HIGH and CRITICAL without approval return a Pending preview and
//     send nothing to the device.
//   - Approved MEDIUM runs directly with log snapshots before and after.
//   - Approved HIGH and CRITICAL run inside a safe mode session.
//
// Exactly one record is appended to the history per call. The returned error
// is non-nil only for a malformed request; device failures are reported
// through Result.Status.
func (p *Planner) Run(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	rec := Record{
		ID:         uuid.NewString(),
		DeviceID:   req.DeviceID,
		Command:    req.Command,
		Assessment: p.catalog.Classify(req.Command),
		StartedAt:  p.registry.Now(),
	}
	log := util.WithWorkflow(rec.ID, rec.DeviceID)
	ctx = session.WithHolder(ctx, rec.ID)

	var preview string
	a := rec.Assessment
	switch {
	case !a.RequiresPreview:
		p.runDirect(ctx, &rec, false)
	case !req.Approved:
		preview = risk.RenderPreview(req.Command, a)
		rec.Path = PathPending
		rec.Outcome = OutcomePending
		log.Debugf("%s command held for approval", a.Tier)
	case a.RequiresSafeMode:
		timeout := req.Timeout
		if timeout <= 0 {
			timeout = a.TimeoutHint
		}
		p.runStaged(ctx, &rec, timeout)
	default:
		p.runDirect(ctx, &rec, true)
	}

	rec.CompletedAt = p.registry.Now()
	p.finish(log, rec)

	return &Result{
		Status:     rec.Outcome,
		Tier:       a.Tier,
		Preview:    preview,
		Output:     rec.Output,
		Warnings:   append([]string(nil), a.Warnings...),
		RecordID:   rec.ID,
		Diagnostic: rec.Diagnostic,
	}, nil
}

func validateRequest(req Request) error {
	v := &util.ValidationBuilder{}
	v.Add(strings.TrimSpace(req.Command) != "", "command is required")
	v.Add(strings.TrimSpace(req.DeviceID) != "", "device is required")
	v.Add(req.Timeout >= 0, "timeout must not be negative")
	if err := v.Build(); err != nil {
		return fmt.Errorf("%w: %v", util.ErrInvalidRequest, err)
	}
	return nil
}

// runDirect sends the command once, without a protective session. The device
// lease is still held so a direct command never interleaves with a safe mode
// session on the same device.
func (p *Planner) runDirect(ctx context.Context, rec *Record, snapshot bool) {
	rec.Path = PathDirect

	lease, err := p.registry.Acquire(ctx, rec.DeviceID, rec.ID, session.ModeDirect)
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.Diagnostic = err.Error()
		return
	}
	defer lease.Release()

	exec, err := p.resolver.ForDevice(ctx, rec.DeviceID)
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.Diagnostic = err.Error()
		return
	}

	var notes []string
	if snapshot {
		notes = append(notes, p.snapshot(ctx, exec, "pre-change", rec.StartedAt.Add(-p.window)))
	}

	out, err := executor.Call(ctx, exec, rec.Command)
	rec.Output = out
	if err != nil {
		rec.Outcome = OutcomeFailed
		notes = append(notes, (&util.CommandExecutionError{Device: rec.DeviceID, Command: rec.Command, Err: err}).Error())
	} else {
		rec.Outcome = OutcomeSuccess
	}

	if snapshot {
		notes = append(notes, p.snapshot(ctx, exec, "post-change", rec.StartedAt))
	}
	rec.Diagnostic = strings.Join(notes, "\n")
}

// snapshot captures device logs for the audit trail. A failed snapshot is
// noted and otherwise ignored.
func (p *Planner) snapshot(ctx context.Context, exec executor.Executor, label string, since time.Time) string {
	logs, err := executor.Call(ctx, exec, p.catalog.SafeMode.LogQuery(since))
	if err != nil {
		return fmt.Sprintf("%s log snapshot failed: %v", label, err)
	}
	logs = strings.TrimRight(logs, "\r\n")
	if logs == "" {
		return label + " log snapshot: (empty)"
	}
	return label + " log snapshot:\n" + logs
}

func (p *Planner) runStaged(ctx context.Context, rec *Record, timeout time.Duration) {
	rec.Path = PathStaged

	res := p.sessions.Run(ctx, rec.DeviceID, rec.Command, timeout)
	rec.EnteredAt = res.EnteredAt
	rec.Output = res.Output
	rec.Diagnostic = res.Diagnostic

	switch res.Outcome {
	case session.Committed:
		rec.Outcome = OutcomeSuccess
	case session.RolledBack:
		rec.Outcome = OutcomeRolledBack
	default:
		rec.Outcome = OutcomeFailed
	}
}

func (p *Planner) finish(log *logrus.Entry, rec Record) {
	p.history.Record(rec)
	observe(rec)

	entry := log.WithFields(logrus.Fields{
		"tier":    rec.Assessment.Tier.String(),
		"path":    rec.Path,
		"outcome": rec.Outcome,
	})
	if rec.Outcome == OutcomeFailed || rec.Outcome == OutcomeRolledBack {
		entry.Warn("Workflow did not succeed")
		entry.Debugf("Diagnostic:\n%s", rec.Diagnostic)
	} else {
		entry.Info("Workflow finished")
	}

	if p.sink != nil {
		if err := p.sink.Append(rec); err != nil {
			log.Warnf("Failed to write audit record: %v", err)
		}
	}
}

// History returns up to limit records, most recent first. limit <= 0 returns
// all retained records.
func (p *Planner) History(limit int) []Record {
	return p.history.Query(limit)
}

// PendingPreviewed reports whether the latest workflow for the same device and
// command is still an unapproved preview. It is a hint for callers; Run does
// not deduplicate.
func (p *Planner) PendingPreviewed(deviceID, command string) bool {
	for _, rec := range p.history.Query(0) {
		if rec.DeviceID == deviceID && strings.TrimSpace(rec.Command) == strings.TrimSpace(command) {
			return rec.Outcome == OutcomePending
		}
	}
	return false
}
