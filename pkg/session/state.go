// Package session drives protective safe mode sessions on a device and owns
// the per-device slot registry that keeps at most one of them alive.
package session

import "fmt"

// State is the safe mode state of one device slot.
type State int

const (
	Inactive State = iota
	Entering
	Active
	Committing
	RollingBack
)

var stateNames = map[State]string{
	Inactive:    "inactive",
	Entering:    "entering",
	Active:      "active",
	Committing:  "committing",
	RollingBack: "rolling-back",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions is the complete transition table. Entering falls back to
// Inactive when the device refuses the enter command.
var transitions = map[State][]State{
	Inactive:    {Entering},
	Entering:    {Active, Inactive},
	Active:      {Committing, RollingBack},
	Committing:  {Inactive},
	RollingBack: {Inactive},
}

// CanTransition reports whether the table allows s → to.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Outcome is how a session run ended.
type Outcome string

const (
	// Committed means the command and verification succeeded and the exit
	// command made the changes permanent.
	Committed Outcome = "committed"

	// RolledBack means the session was abandoned after safe mode was entered;
	// the device's watchdog reverts the changes.
	RolledBack Outcome = "rolled-back"

	// Failed means the session never reached Active: the slot was busy or
	// safe mode could not be entered. The mutating command was not sent.
	Failed Outcome = "failed"
)

// Rollback reasons, used as the metrics label and in diagnostics.
const (
	ReasonCommand  = "command"
	ReasonLogs     = "logs"
	ReasonProbe    = "probe"
	ReasonDeadline = "deadline"
	ReasonPanic    = "panic"
	ReasonCanceled = "canceled"
	ReasonExit     = "exit"
)
