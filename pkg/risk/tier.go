// Package risk classifies device commands into risk tiers using an ordered,
// data-driven pattern catalog.
package risk

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tier is an ordered risk classification: Low < Medium < High < Critical.
// The zero value is not a valid tier, so a catalog entry without a tier is
// rejected rather than silently treated as Low.
type Tier int

const (
	Low Tier = iota + 1
	Medium
	High
	Critical
)

var tierNames = map[Tier]string{
	Low:      "LOW",
	Medium:   "MEDIUM",
	High:     "HIGH",
	Critical: "CRITICAL",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// Valid reports whether t is one of the four defined tiers.
func (t Tier) Valid() bool {
	_, ok := tierNames[t]
	return ok
}

// ParseTier parses a tier name, case-insensitively.
func ParseTier(s string) (Tier, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for t, n := range tierNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown risk tier %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown risk tier %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// UnmarshalYAML accepts the tier name as a scalar.
func (t *Tier) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: risk tier must be a scalar", value.Line)
	}
	parsed, err := ParseTier(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*t = parsed
	return nil
}

// RequiresPreview reports whether commands of this tier must be previewed and
// explicitly approved before they run.
func (t Tier) RequiresPreview() bool {
	return t >= Medium
}

// RequiresSafeMode reports whether approved commands of this tier must run
// inside a protective safe mode session.
func (t Tier) RequiresSafeMode() bool {
	return t >= High
}
