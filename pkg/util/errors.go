// Package util provides the shared logger and the error taxonomy used by the
// orchestrator packages.
package util

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors. Every typed error below unwraps to exactly one of these.
var (
	ErrInvalidCatalog     = errors.New("invalid risk catalog")
	ErrInvalidRequest     = errors.New("invalid workflow request")
	ErrSafeModeEntry      = errors.New("safe mode entry failed")
	ErrCommandFailed      = errors.New("command execution failed")
	ErrVerificationFailed = errors.New("post-change verification failed")
	ErrDeviceBusy         = errors.New("device session slot in use")
	ErrIllegalTransition  = errors.New("illegal safe mode transition")
	ErrValidationFailed   = errors.New("validation failed")
)

// ClassificationError reports a malformed risk catalog or pattern list. It is
// never produced for a well-formed catalog, whatever the command.
type ClassificationError struct {
	Source string
	Err    error
}

func (e *ClassificationError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("risk catalog: %v", e.Err)
	}
	return fmt.Sprintf("risk catalog %s: %v", e.Source, e.Err)
}

func (e *ClassificationError) Unwrap() []error {
	return []error{ErrInvalidCatalog, e.Err}
}

// NewClassificationError wraps err as a catalog configuration error.
func NewClassificationError(source string, err error) *ClassificationError {
	return &ClassificationError{Source: source, Err: err}
}

// SafeModeEntryError is returned when the device refused or never
// acknowledged the safe mode enter command. No mutating command has been sent.
type SafeModeEntryError struct {
	Device string
	Err    error
}

func (e *SafeModeEntryError) Error() string {
	return fmt.Sprintf("entering safe mode on %s: %v", e.Device, e.Err)
}

func (e *SafeModeEntryError) Unwrap() []error {
	return []error{ErrSafeModeEntry, e.Err}
}

// CommandExecutionError reports that the device rejected the mutating command.
type CommandExecutionError struct {
	Device  string
	Command string
	Err     error
}

func (e *CommandExecutionError) Error() string {
	return fmt.Sprintf("command %q on %s: %v", e.Command, e.Device, e.Err)
}

func (e *CommandExecutionError) Unwrap() []error {
	return []error{ErrCommandFailed, e.Err}
}

// VerificationError lists every reason post-change verification failed.
type VerificationError struct {
	Device  string
	Reasons []string
}

func (e *VerificationError) Error() string {
	if len(e.Reasons) == 1 {
		return fmt.Sprintf("verification on %s failed: %s", e.Device, e.Reasons[0])
	}
	return fmt.Sprintf("verification on %s failed:\n  - %s", e.Device, strings.Join(e.Reasons, "\n  - "))
}

func (e *VerificationError) Unwrap() error {
	return ErrVerificationFailed
}

// ConcurrentSessionError is returned when another workflow holds the device's
// session slot. It is raised before the device is contacted.
type ConcurrentSessionError struct {
	Device   string
	Holder   string
	State    string
	Deadline time.Time
}

func (e *ConcurrentSessionError) Error() string {
	msg := fmt.Sprintf("device %s is busy", e.Device)
	if e.State != "" {
		msg += fmt.Sprintf(" (session %s", e.State)
		if e.Holder != "" {
			msg += " held by " + e.Holder
		}
		if !e.Deadline.IsZero() {
			msg += ", deadline " + e.Deadline.Format(time.RFC3339)
		}
		msg += ")"
	}
	return msg
}

func (e *ConcurrentSessionError) Unwrap() error {
	return ErrDeviceBusy
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}
