package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestFailureLine(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"empty", "", ""},
		{"clean print", "  name: core-rtr1\n", ""},
		{"failure", "failure: already have such address\n", "failure: already have such address"},
		{"syntax error", "\r\nsyntax error (line 1 column 5)\r\n", "syntax error (line 1 column 5)"},
		{"bad command", "bad command name fliter (line 1 column 14)", "bad command name fliter (line 1 column 14)"},
		{"case insensitive", "Expected end of command (line 1 column 20)", "Expected end of command (line 1 column 20)"},
		{"marker mid-line is not a failure", "comment: no failure: here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FailureLine(tt.output); got != tt.want {
				t.Errorf("FailureLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorTypes(t *testing.T) {
	cause := errors.New("boom")

	conn := &ConnectionError{Host: "10.0.0.1", Err: cause}
	if !errors.Is(conn, ErrConnection) || !errors.Is(conn, cause) {
		t.Error("ConnectionError should unwrap to ErrConnection and its cause")
	}

	auth := &AuthError{Host: "10.0.0.1", User: "admin", Err: cause}
	if !errors.Is(auth, ErrAuth) {
		t.Error("AuthError should unwrap to ErrAuth")
	}
	if !strings.Contains(auth.Error(), "admin@10.0.0.1") {
		t.Errorf("AuthError message = %q", auth.Error())
	}

	cmd := &CommandError{Command: "/ip address add", Output: "failure: already have such address"}
	if !errors.Is(cmd, ErrCommand) {
		t.Error("CommandError should unwrap to ErrCommand")
	}
	if !strings.Contains(cmd.Error(), "already have such address") {
		t.Errorf("CommandError message should carry the failure line: %q", cmd.Error())
	}
	if errors.Is(cmd, ErrConnection) {
		t.Error("CommandError must not look like a connection error")
	}
}

func TestStatic(t *testing.T) {
	e := Func(func(ctx context.Context, command string) (string, error) { return "ok", nil })
	s := Static{"r1": e}

	got, err := s.ForDevice(context.Background(), "r1")
	if err != nil {
		t.Fatalf("ForDevice(r1) error: %v", err)
	}
	if out, _ := got.Execute(context.Background(), "/x"); out != "ok" {
		t.Errorf("Execute() = %q", out)
	}

	if _, err := s.ForDevice(context.Background(), "r2"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("ForDevice(r2) error = %v, want ErrUnknownDevice", err)
	}
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder(Func(func(ctx context.Context, command string) (string, error) {
		if command == "/fail" {
			return "", &ConnectionError{Host: "r1", Err: errors.New("reset")}
		}
		return command + " done", nil
	}))

	out, err := rec.Execute(context.Background(), "/a")
	if err != nil || out != "/a done" {
		t.Errorf("Execute(/a) = %q, %v", out, err)
	}
	if _, err := rec.Execute(context.Background(), "/fail"); err == nil {
		t.Error("Execute(/fail) should return the wrapped error")
	}

	cmds := rec.Commands()
	if len(cmds) != 2 || cmds[0] != "/a" || cmds[1] != "/fail" {
		t.Errorf("Commands() = %q", cmds)
	}
	cmds[0] = "mutated"
	if rec.Commands()[0] != "/a" {
		t.Error("Commands() should return a copy")
	}
}

func TestCall_RecoversPanic(t *testing.T) {
	e := Func(func(ctx context.Context, command string) (string, error) { panic("channel closed") })
	_, err := Call(context.Background(), e, "/x")
	var p *PanicError
	if !errors.As(err, &p) || p.Value != "channel closed" {
		t.Errorf("Call() error = %v, want *PanicError", err)
	}
}
