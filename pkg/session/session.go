package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/newtron-network/rosguard/pkg/executor"
	"github.com/newtron-network/rosguard/pkg/risk"
	"github.com/newtron-network/rosguard/pkg/util"
)

type holderKey struct{}

// WithHolder tags ctx with the identity that will own any lease taken while
// serving it. The workflow planner passes its record ID.
func WithHolder(ctx context.Context, holder string) context.Context {
	return context.WithValue(ctx, holderKey{}, holder)
}

// HolderFrom returns the holder set by WithHolder, or a fresh UUID.
func HolderFrom(ctx context.Context) string {
	if h, ok := ctx.Value(holderKey{}).(string); ok && h != "" {
		return h
	}
	return uuid.NewString()
}

// Result describes one session run.
type Result struct {
	Outcome Outcome

	// Output is what the mutating command printed, if it was sent.
	Output string

	// Diagnostic is the human-readable account of every step, including the
	// verbatim text of every error.
	Diagnostic string

	// Err is nil only for Committed.
	Err error

	// Reason is the first rollback cause, empty unless RolledBack.
	Reason string

	EnteredAt   time.Time
	Deadline    time.Time
	CompletedAt time.Time

	// Transitions lists every state the slot passed through, starting with
	// Inactive.
	Transitions []State
}

// Manager runs safe mode sessions against devices resolved through an
// executor.Resolver.
type Manager struct {
	registry *Registry
	resolver executor.Resolver
	commands risk.SafeModeCommands
}

// NewManager creates a manager. commands normally come from the risk catalog.
func NewManager(registry *Registry, resolver executor.Resolver, commands risk.SafeModeCommands) *Manager {
	return &Manager{registry: registry, resolver: resolver, commands: commands}
}

// Registry returns the slot registry the manager leases from.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// run carries the state of one Run call.
type run struct {
	m      *Manager
	lease  *Lease
	exec   executor.Executor
	device string
	log    *logrus.Entry
	res    Result
	notes  []string
}

// Run wraps command in a protective session on deviceID:
//
//	Inactive → Entering → Active → (Committing | RollingBack) → Inactive
//
// The mutating command is sent at most once. Committing is reached only if
// the command succeeded and verification found nothing wrong, and only while
// the lease still owns the slot. A rollback
// sends no exit command; the device reverts on its own when the session is
// abandoned. On return the device slot is always free again.
func (m *Manager) Run(ctx context.Context, deviceID, command string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = risk.DefaultSafeModeTimeout
	}
	holder := HolderFrom(ctx)
	r := &run{
		m:      m,
		device: deviceID,
		log:    util.WithWorkflow(holder, deviceID),
		res:    Result{Transitions: []State{Inactive}},
	}

	lease, err := m.registry.Acquire(ctx, deviceID, holder, ModeStaged)
	if err != nil {
		r.note("session slot unavailable: %v", err)
		return r.finish(Failed, err)
	}
	r.lease = lease
	defer lease.Release()

	r.exec, err = m.resolver.ForDevice(ctx, deviceID)
	if err != nil {
		entryErr := &util.SafeModeEntryError{Device: deviceID, Err: err}
		r.note("%v", entryErr)
		return r.finish(Failed, entryErr)
	}

	// Inactive → Entering → Active
	r.transition(Entering)
	if _, err := r.call(ctx, m.commands.Enter); err != nil {
		r.transition(Inactive)
		entryErr := &util.SafeModeEntryError{Device: deviceID, Err: err}
		r.note("%v", entryErr)
		return r.finish(Failed, entryErr)
	}
	r.res.EnteredAt = m.registry.Now()
	r.res.Deadline = r.res.EnteredAt.Add(timeout)
	if err := lease.SetDeadline(ctx, r.res.Deadline); err != nil {
		// Nothing has changed yet; dropping the session leaves the device as it was.
		r.transition(Inactive)
		entryErr := &util.SafeModeEntryError{Device: deviceID, Err: err}
		r.note("%v", entryErr)
		r.note("command not sent")
		return r.finish(Failed, entryErr)
	}
	r.transition(Active)
	r.note("safe mode entered at %s, deadline %s",
		r.res.EnteredAt.Format(time.RFC3339), r.res.Deadline.Format(time.RFC3339))

	// Active: execute once, then verify.
	reasons, cmdErr := r.executeAndVerify(ctx, command)
	if cmdErr != nil || len(reasons) > 0 {
		return r.rollback(cmdErr, reasons)
	}

	// Committing → Inactive. A lease lost to a stale reclaim means the device
	// may already belong to another session, so exit must not be sent.
	if err := r.lease.Transition(Committing); err != nil {
		return r.rollback(nil, []reason{{ReasonDeadline, fmt.Sprintf("session slot lost before commit: %v", err)}})
	}
	r.record(Committing)
	if _, err := r.call(ctx, m.commands.Exit); err != nil {
		r.transition(Inactive)
		r.res.Reason = ReasonExit
		rollbacks.WithLabelValues(ReasonExit).Inc()
		exitErr := fmt.Errorf("safe mode exit on %s not confirmed: %w", deviceID, err)
		r.note("%v", exitErr)
		r.note("changes are not confirmed permanent; treating session as rolled back")
		r.log.Warnf("Safe mode exit failed, reporting rollback: %v", err)
		return r.finish(RolledBack, exitErr)
	}
	r.transition(Inactive)
	r.note("verification passed; changes committed")
	return r.finish(Committed, nil)
}

// reason tags one verification failure with its metrics label.
type reason struct {
	kind string
	text string
}

func (r *run) executeAndVerify(ctx context.Context, command string) ([]reason, error) {
	if err := ctx.Err(); err != nil {
		return []reason{{ReasonCanceled, fmt.Sprintf("canceled before command was sent: %v", err)}}, nil
	}

	var cmdErr error
	out, err := r.call(ctx, command)
	r.res.Output = out
	if err != nil {
		cmdErr = &util.CommandExecutionError{Device: r.device, Command: command, Err: err}
		r.note("%v", cmdErr)
		if isPanic(err) {
			return []reason{{ReasonPanic, err.Error()}}, cmdErr
		}
	}

	var reasons []reason
	if err := ctx.Err(); err != nil {
		return append(reasons, reason{ReasonCanceled, fmt.Sprintf("canceled before verification: %v", err)}), cmdErr
	}

	logs, err := r.call(ctx, r.m.commands.LogQuery(r.res.EnteredAt))
	switch {
	case isPanic(err):
		return append(reasons, reason{ReasonPanic, err.Error()}), cmdErr
	case err != nil:
		reasons = append(reasons, reason{ReasonLogs, fmt.Sprintf("log query failed: %v", err)})
	default:
		for _, line := range r.m.commands.ScanErrors(logs) {
			reasons = append(reasons, reason{ReasonLogs, "log error: " + line})
		}
	}

	if _, err := r.call(ctx, r.m.commands.Probe); err != nil {
		kind := ReasonProbe
		if isPanic(err) {
			kind = ReasonPanic
		}
		reasons = append(reasons, reason{kind, fmt.Sprintf("probe failed: %v", err)})
	}

	if now := r.m.registry.Now(); now.After(r.res.Deadline) {
		reasons = append(reasons, reason{ReasonDeadline,
			fmt.Sprintf("deadline %s passed before verification finished", r.res.Deadline.Format(time.RFC3339))})
	}
	return reasons, cmdErr
}

// rollback abandons the session: Active → RollingBack → Inactive, with no
// command sent to the device.
func (r *run) rollback(cmdErr error, reasons []reason) Result {
	r.transition(RollingBack)

	kind := ReasonCommand
	if len(reasons) > 0 && (cmdErr == nil || reasons[0].kind == ReasonPanic || reasons[0].kind == ReasonCanceled) {
		kind = reasons[0].kind
	}
	r.res.Reason = kind
	rollbacks.WithLabelValues(kind).Inc()

	var texts []string
	for _, rs := range reasons {
		texts = append(texts, rs.text)
		r.note("%s", rs.text)
	}

	var err error
	switch {
	case cmdErr != nil && len(texts) > 0:
		err = errors.Join(cmdErr, &util.VerificationError{Device: r.device, Reasons: texts})
	case cmdErr != nil:
		err = cmdErr
	default:
		err = &util.VerificationError{Device: r.device, Reasons: texts}
	}

	r.note("safe mode abandoned; the device reverts the changes on its own")
	r.log.Warnf("Rolling back safe mode session (%s): %v", kind, err)
	r.transition(Inactive)
	return r.finish(RolledBack, err)
}

func (r *run) call(ctx context.Context, command string) (string, error) {
	r.log.Debugf("Sending %q", command)
	return executor.Call(ctx, r.exec, command)
}

func (r *run) transition(to State) {
	if err := r.lease.Transition(to); err != nil {
		r.log.Warnf("Slot transition: %v", err)
	}
	r.record(to)
}

func (r *run) record(to State) {
	r.log.Debugf("Safe mode %s → %s", r.res.Transitions[len(r.res.Transitions)-1], to)
	r.res.Transitions = append(r.res.Transitions, to)
}

func (r *run) note(format string, args ...interface{}) {
	r.notes = append(r.notes, fmt.Sprintf(format, args...))
}

func (r *run) finish(outcome Outcome, err error) Result {
	r.res.Outcome = outcome
	r.res.Err = err
	r.res.CompletedAt = r.m.registry.Now()
	r.res.Diagnostic = strings.Join(r.notes, "\n")
	return r.res
}

func isPanic(err error) bool {
	var p *executor.PanicError
	return errors.As(err, &p)
}
