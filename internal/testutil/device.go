// Package testutil provides test helpers shared across packages: a scripted
// device executor, a controllable clock, and Redis helpers for integration
// tests.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"
)

// Reply is a scripted device response.
type Reply func(ctx context.Context) (string, error)

// Output replies with fixed text.
func Output(text string) Reply {
	return func(context.Context) (string, error) { return text, nil }
}

// Error replies with err.
func Error(err error) Reply {
	return func(context.Context) (string, error) { return "", err }
}

// Panic makes the command panic, simulating a crashing executor.
func Panic(msg string) Reply {
	return func(context.Context) (string, error) { panic(msg) }
}

// FakeDevice is a scripted executor.Executor. Commands without a script get
// the default reply (empty output, no error). Every call is recorded.
type FakeDevice struct {
	mu       sync.Mutex
	scripts  map[string][]Reply
	def      Reply
	commands []string
	gates    map[string]*Gate
}

// NewFakeDevice returns a device that answers every command with "".
func NewFakeDevice() *FakeDevice {
	return &FakeDevice{
		scripts: make(map[string][]Reply),
		def:     Output(""),
		gates:   make(map[string]*Gate),
	}
}

// On scripts the replies for command. Successive calls consume the replies in
// order; the last one repeats.
func (d *FakeDevice) On(command string, replies ...Reply) *FakeDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripts[command] = replies
	return d
}

// Default sets the reply for unscripted commands.
func (d *FakeDevice) Default(r Reply) *FakeDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.def = r
	return d
}

// Hold makes the next call of command block until the returned gate is
// released. The gate's Reached channel closes once the call arrives.
func (d *FakeDevice) Hold(command string) *Gate {
	d.mu.Lock()
	defer d.mu.Unlock()
	g := &Gate{Reached: make(chan struct{}), release: make(chan struct{})}
	d.gates[command] = g
	return g
}

// Execute implements executor.Executor.
func (d *FakeDevice) Execute(ctx context.Context, command string) (string, error) {
	d.mu.Lock()
	d.commands = append(d.commands, command)
	reply := d.def
	if replies := d.scripts[command]; len(replies) > 0 {
		reply = replies[0]
		if len(replies) > 1 {
			d.scripts[command] = replies[1:]
		}
	}
	gate := d.gates[command]
	delete(d.gates, command)
	d.mu.Unlock()

	if gate != nil {
		close(gate.Reached)
		select {
		case <-gate.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return reply(ctx)
}

// Commands returns every command received, in order.
func (d *FakeDevice) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

// Count returns how many times command was received.
func (d *FakeDevice) Count(command string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.commands {
		if c == command {
			n++
		}
	}
	return n
}

// AssertSent fails the test unless the device received exactly want, in order.
func (d *FakeDevice) AssertSent(t *testing.T, want ...string) {
	t.Helper()
	got := d.Commands()
	if len(got) != len(want) {
		t.Fatalf("device received %d commands %q, want %d %q", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("command %d = %q, want %q (all: %q)", i, got[i], want[i], got)
		}
	}
}

// AssertNotSent fails the test if the device ever received command.
func (d *FakeDevice) AssertNotSent(t *testing.T, command string) {
	t.Helper()
	if n := d.Count(command); n > 0 {
		t.Fatalf("device received %q %d times, want none", command, n)
	}
}

// Gate pauses one scripted command.
type Gate struct {
	Reached chan struct{}
	release chan struct{}
	once    sync.Once
}

// Release lets the held command continue.
func (g *Gate) Release() {
	g.once.Do(func() { close(g.release) })
}

// Wait blocks until the held command arrives or the timeout passes.
func (g *Gate) Wait(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case <-g.Reached:
	case <-time.After(timeout):
		t.Fatalf("held command not reached within %v", timeout)
	}
}
