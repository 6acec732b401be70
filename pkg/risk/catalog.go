package risk

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/rosguard/pkg/util"
)

// Default timeouts applied when a catalog file leaves them unset.
const (
	DefaultSafeModeTimeout = 15 * time.Minute
	DefaultCriticalTimeout = 30 * time.Minute
)

// SinceFormat is the layout used to expand {since} in the log query.
const SinceFormat = "15:04:05"

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// SafeModeCommands is the literal command set used to drive a protective
// session. They are sent through the same executor as every other command.
type SafeModeCommands struct {
	Enter string `yaml:"enter"`
	Exit  string `yaml:"exit"`
	Probe string `yaml:"probe"`

	// Logs is the log query issued during verification; {since} expands to
	// the session's entry time formatted with SinceFormat.
	Logs string `yaml:"logs"`

	// ErrorMarkers are matched case-insensitively against the log output.
	ErrorMarkers []string `yaml:"error_markers"`
}

// LogQuery renders the log query for the window starting at since.
func (s SafeModeCommands) LogQuery(since time.Time) string {
	return strings.ReplaceAll(s.Logs, "{since}", since.Format(SinceFormat))
}

// ScanErrors returns the log lines containing an error marker.
func (s SafeModeCommands) ScanErrors(logs string) []string {
	var hits []string
	for _, line := range strings.Split(logs, "\n") {
		lowered := strings.ToLower(line)
		for _, marker := range s.ErrorMarkers {
			if marker != "" && strings.Contains(lowered, strings.ToLower(marker)) {
				hits = append(hits, strings.TrimSpace(line))
				break
			}
		}
	}
	return hits
}

// Catalog is an immutable, validated pattern list plus the safe mode command
// set. Build one with LoadCatalog, ParseCatalog or DefaultCatalog.
type Catalog struct {
	Patterns        []Pattern        `yaml:"patterns"`
	DefaultTimeout  time.Duration    `yaml:"default_timeout"`
	CriticalTimeout time.Duration    `yaml:"critical_timeout"`
	SafeMode        SafeModeCommands `yaml:"safe_mode"`

	source string
}

// Source returns the file the catalog was loaded from, or "builtin".
func (c *Catalog) Source() string {
	return c.source
}

// LoadCatalog reads and validates a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, util.NewClassificationError(path, fmt.Errorf("reading catalog: %w", err))
	}
	return parseCatalog(data, path)
}

// ParseCatalog parses and validates YAML catalog content.
func ParseCatalog(data []byte) (*Catalog, error) {
	return parseCatalog(data, "")
}

// DefaultCatalog returns the built-in RouterOS catalog.
func DefaultCatalog() *Catalog {
	c, err := parseCatalog(defaultCatalogYAML, "builtin")
	if err != nil {
		panic(fmt.Sprintf("invalid builtin risk catalog: %v", err))
	}
	return c
}

func parseCatalog(data []byte, source string) (*Catalog, error) {
	c := &Catalog{source: source}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, util.NewClassificationError(source, fmt.Errorf("parsing catalog: %w", err))
	}
	applyDefaults(c)
	if err := c.validate(); err != nil {
		return nil, util.NewClassificationError(source, err)
	}
	if err := compilePatterns(source, c.Patterns); err != nil {
		return nil, err
	}
	return c, nil
}

func applyDefaults(c *Catalog) {
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = DefaultSafeModeTimeout
	}
	if c.CriticalTimeout == 0 {
		c.CriticalTimeout = DefaultCriticalTimeout
	}
	if c.SafeMode.Probe == "" {
		c.SafeMode.Probe = "/system identity print"
	}
	if len(c.SafeMode.ErrorMarkers) == 0 {
		c.SafeMode.ErrorMarkers = []string{"error", "failure", "critical", "invalid", "not allowed"}
	}
}

func (c *Catalog) validate() error {
	v := &util.ValidationBuilder{}
	v.Add(len(c.Patterns) > 0, "catalog must contain at least one pattern")
	v.Add(c.DefaultTimeout > 0, "default_timeout must be positive")
	v.Add(c.CriticalTimeout >= c.DefaultTimeout, "critical_timeout must not be shorter than default_timeout")
	v.Add(c.SafeMode.Enter != "", "safe_mode.enter is required")
	v.Add(c.SafeMode.Exit != "", "safe_mode.exit is required")
	v.Add(c.SafeMode.Logs != "", "safe_mode.logs is required")

	validatePatterns(v, c.Patterns)
	return v.Build()
}

func validatePatterns(v *util.ValidationBuilder, patterns []Pattern) {
	seen := make(map[string]bool, len(patterns))
	for i, p := range patterns {
		name := p.ID
		if name == "" {
			name = fmt.Sprintf("#%d", i)
			v.AddErrorf("pattern %s: id is required", name)
		} else if seen[p.ID] {
			v.AddErrorf("pattern %s: duplicate id", name)
		}
		seen[p.ID] = true

		if (p.Match == "") == (p.Regex == "") {
			v.AddErrorf("pattern %s: exactly one of match or regex is required", name)
		}
		if !p.Tier.Valid() {
			v.AddErrorf("pattern %s: tier is required", name)
		}
		if p.Specificity < 0 {
			v.AddErrorf("pattern %s: specificity must not be negative", name)
		}
	}
}

// compilePatterns compiles every regex pattern in place.
func compilePatterns(source string, patterns []Pattern) error {
	for i := range patterns {
		if err := patterns[i].compile(); err != nil {
			return util.NewClassificationError(source,
				fmt.Errorf("pattern %q: compiling regex: %w", patterns[i].ID, err))
		}
	}
	return nil
}

// TimeoutHint returns the protective session timeout for a tier, or zero for
// tiers that never enter safe mode.
func (c *Catalog) TimeoutHint(t Tier) time.Duration {
	switch {
	case t >= Critical:
		return c.CriticalTimeout
	case t.RequiresSafeMode():
		return c.DefaultTimeout
	}
	return 0
}
