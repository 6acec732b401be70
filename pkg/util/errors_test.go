package util

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestClassificationError(t *testing.T) {
	inner := errors.New("duplicate pattern id \"fw-add\"")
	err := NewClassificationError("/etc/rosguard/catalog.yaml", inner)

	msg := err.Error()
	if !strings.Contains(msg, "catalog.yaml") {
		t.Errorf("Error message should contain source: %s", msg)
	}
	if !errors.Is(err, ErrInvalidCatalog) {
		t.Error("ClassificationError should unwrap to ErrInvalidCatalog")
	}
	if !errors.Is(err, inner) {
		t.Error("ClassificationError should unwrap to the wrapped cause")
	}

	if got := NewClassificationError("", inner).Error(); strings.Contains(got, "  ") {
		t.Errorf("Error message without source should not have double spaces: %q", got)
	}
}

func TestSafeModeEntryError(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := &SafeModeEntryError{Device: "core-rtr1", Err: cause}

	if !errors.Is(err, ErrSafeModeEntry) {
		t.Error("SafeModeEntryError should unwrap to ErrSafeModeEntry")
	}
	if !errors.Is(err, cause) {
		t.Error("SafeModeEntryError should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "core-rtr1") {
		t.Errorf("Error message should contain device: %s", err.Error())
	}
}

func TestCommandExecutionError(t *testing.T) {
	err := &CommandExecutionError{
		Device:  "core-rtr1",
		Command: "/ip address add address=10.0.0.1/24",
		Err:     errors.New("failure: already have such address"),
	}
	if !errors.Is(err, ErrCommandFailed) {
		t.Error("CommandExecutionError should unwrap to ErrCommandFailed")
	}
	if !strings.Contains(err.Error(), "already have such address") {
		t.Errorf("Error message should contain device output: %s", err.Error())
	}
}

func TestVerificationError(t *testing.T) {
	t.Run("single reason", func(t *testing.T) {
		err := &VerificationError{Device: "r1", Reasons: []string{"probe failed"}}
		if strings.Contains(err.Error(), "\n") {
			t.Errorf("single reason should render on one line: %q", err.Error())
		}
		if !errors.Is(err, ErrVerificationFailed) {
			t.Error("VerificationError should unwrap to ErrVerificationFailed")
		}
	})

	t.Run("multiple reasons", func(t *testing.T) {
		err := &VerificationError{Device: "r1", Reasons: []string{"probe failed", "deadline exceeded"}}
		msg := err.Error()
		if !strings.Contains(msg, "probe failed") || !strings.Contains(msg, "deadline exceeded") {
			t.Errorf("Error message should contain all reasons: %s", msg)
		}
	})
}

func TestConcurrentSessionError(t *testing.T) {
	deadline := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := &ConcurrentSessionError{Device: "r1", Holder: "wf-1", State: "active", Deadline: deadline}

	msg := err.Error()
	for _, want := range []string{"r1", "active", "wf-1", "2026-01-02T03:04:05Z"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error message should contain %q: %s", want, msg)
		}
	}
	if !errors.Is(err, ErrDeviceBusy) {
		t.Error("ConcurrentSessionError should unwrap to ErrDeviceBusy")
	}

	bare := &ConcurrentSessionError{Device: "r2"}
	if got := bare.Error(); got != "device r2 is busy" {
		t.Errorf("bare Error() = %q", got)
	}
}

func TestValidationError(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		err := NewValidationError("field is required")
		msg := err.Error()
		if !strings.Contains(msg, "field is required") {
			t.Errorf("Error message should contain the error: %s", msg)
		}
		if !errors.Is(err, ErrValidationFailed) {
			t.Errorf("ValidationError should unwrap to ErrValidationFailed")
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		err := NewValidationError("field1 is required", "field2 is invalid", "field3 out of range")
		msg := err.Error()
		if !strings.Contains(msg, "field1") || !strings.Contains(msg, "field2") || !strings.Contains(msg, "field3") {
			t.Errorf("Error message should contain all errors: %s", msg)
		}
	})
}

func TestValidationBuilder(t *testing.T) {
	t.Run("no errors", func(t *testing.T) {
		v := &ValidationBuilder{}
		v.Add(true, "this should not appear")

		if v.HasErrors() {
			t.Error("Should not have errors when all conditions are true")
		}
		if err := v.Build(); err != nil {
			t.Errorf("Build() should return nil when no errors: %v", err)
		}
	})

	t.Run("with errors", func(t *testing.T) {
		err := (&ValidationBuilder{}).
			Add(false, "first error").
			Add(true, "this passes").
			AddErrorf("formatted error: %d", 42).
			Build()

		validationErr, ok := err.(*ValidationError)
		if !ok {
			t.Fatalf("Expected *ValidationError, got %T", err)
		}
		if len(validationErr.Errors) != 2 {
			t.Errorf("Expected 2 errors, got %d", len(validationErr.Errors))
		}
	})
}

func TestSentinelErrors(t *testing.T) {
	sentinels := []error{
		ErrInvalidCatalog,
		ErrInvalidRequest,
		ErrSafeModeEntry,
		ErrCommandFailed,
		ErrVerificationFailed,
		ErrDeviceBusy,
		ErrIllegalTransition,
		ErrValidationFailed,
	}

	for i, err1 := range sentinels {
		for j, err2 := range sentinels {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("Sentinel errors should be distinct: %v == %v", err1, err2)
			}
		}
	}
}
