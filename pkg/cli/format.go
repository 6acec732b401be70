// Package cli provides shared formatting helpers for the rosguard CLI.
package cli

import (
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/newtron-network/rosguard/pkg/risk"
)

// colorEnabled is false when NO_COLOR is set (per no-color.org) or stdout is
// not a terminal.
var colorEnabled = os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(os.Stdout.Fd()))

// SetColor forces ANSI colors on or off.
func SetColor(enabled bool) {
	colorEnabled = enabled
}

func paint(code, s string) string {
	if !colorEnabled {
		return s
	}
	return code + s + "\033[0m"
}

// Green wraps s in ANSI green.
func Green(s string) string { return paint("\033[32m", s) }

// Yellow wraps s in ANSI yellow.
func Yellow(s string) string { return paint("\033[33m", s) }

// Red wraps s in ANSI red.
func Red(s string) string { return paint("\033[31m", s) }

// Bold wraps s in ANSI bold.
func Bold(s string) string { return paint("\033[1m", s) }

// Dim wraps s in ANSI dim.
func Dim(s string) string { return paint("\033[2m", s) }

// Tier renders a risk tier in its warning color.
func Tier(t risk.Tier) string {
	switch t {
	case risk.Low:
		return Green(t.String())
	case risk.Medium:
		return Yellow(t.String())
	case risk.High:
		return Red(t.String())
	case risk.Critical:
		return Bold(Red(t.String()))
	}
	return t.String()
}

// Outcome renders a workflow outcome ("success", "pending", ...).
func Outcome(s string) string {
	switch s {
	case "success":
		return Green(s)
	case "pending":
		return Yellow(s)
	case "failed", "rolled-back":
		return Red(s)
	}
	return s
}

// DotPad pads name with dots to the given width.
// Example: DotPad("pattern", 16) → "pattern ........"
func DotPad(name string, width int) string {
	if width <= 0 || len(name) >= width-1 {
		return name
	}
	dots := width - len(name) - 1
	return name + " " + strings.Repeat(".", dots)
}
