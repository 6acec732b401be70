// Package executor defines the command transport the orchestrator drives and
// an SSH implementation of it.
//
// An Executor sends one literal command string to a device and returns the raw
// text the device printed. It makes no distinction between safe mode control
// commands, log queries, probes and user commands.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Sentinel errors for the transport failure classes.
var (
	ErrConnection    = errors.New("device connection failed")
	ErrAuth          = errors.New("device authentication failed")
	ErrCommand       = errors.New("device rejected command")
	ErrUnknownDevice = errors.New("unknown device")
)

// Executor runs a single command on a device.
type Executor interface {
	Execute(ctx context.Context, command string) (string, error)
}

// Func adapts an ordinary function to Executor.
type Func func(ctx context.Context, command string) (string, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, command string) (string, error) {
	return f(ctx, command)
}

// Resolver maps a device ID to the executor that reaches it.
type Resolver interface {
	ForDevice(ctx context.Context, deviceID string) (Executor, error)
}

// Static is a fixed device → executor map.
type Static map[string]Executor

// ForDevice implements Resolver.
func (s Static) ForDevice(_ context.Context, deviceID string) (Executor, error) {
	e, ok := s[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return e, nil
}

// ConnectionError reports that the device could not be reached or the
// connection dropped mid-command.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnection, e.Err}
}

// AuthError reports rejected credentials.
type AuthError struct {
	Host string
	User string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authenticating %s@%s: %v", e.User, e.Host, e.Err)
}

func (e *AuthError) Unwrap() []error {
	return []error{ErrAuth, e.Err}
}

// CommandError reports that the device ran the command and printed an error.
type CommandError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q failed", e.Command)
	if line := FailureLine(e.Output); line != "" {
		msg += ": " + line
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCommand}
	}
	return []error{ErrCommand, e.Err}
}

// failurePrefixes are the RouterOS console messages that mean the command was
// rejected even though the transport reported success.
var failurePrefixes = []string{
	"failure:",
	"bad command name",
	"syntax error",
	"expected end of command",
	"input does not match any value",
	"no such item",
	"invalid value for argument",
	"ambiguous value of argument",
	"expected command name",
}

// FailureLine returns the first output line that marks a rejected command, or
// "" when the output looks successful.
func FailureLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		lowered := strings.ToLower(trimmed)
		for _, prefix := range failurePrefixes {
			if strings.HasPrefix(lowered, prefix) {
				return trimmed
			}
		}
	}
	return ""
}

// PanicError reports an executor that panicked instead of returning.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("executor panic: %v", e.Value)
}

// Call runs e.Execute and converts a panic into *PanicError, so a crashing
// transport follows the same path as any other failure.
func Call(ctx context.Context, e Executor, command string) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p}
		}
	}()
	return e.Execute(ctx, command)
}

// Recorder wraps an Executor and keeps the ordered list of commands sent
// through it. It is safe for concurrent use.
type Recorder struct {
	Executor
	mu       sync.Mutex
	commands []string
}

// NewRecorder wraps e.
func NewRecorder(e Executor) *Recorder {
	return &Recorder{Executor: e}
}

// Execute records command and delegates.
func (r *Recorder) Execute(ctx context.Context, command string) (string, error) {
	r.mu.Lock()
	r.commands = append(r.commands, command)
	r.mu.Unlock()
	return r.Executor.Execute(ctx, command)
}

// Commands returns a copy of every command sent so far.
func (r *Recorder) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}
