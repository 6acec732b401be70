package risk

import (
	"strings"
	"time"

	"github.com/newtron-network/rosguard/pkg/util"
)

// UnrecognizedWarning is attached to any segment no catalog pattern matched.
const UnrecognizedWarning = "command not recognized by the risk catalog; treated as MEDIUM"

// Assessment is the deterministic classification of one command against one
// catalog.
type Assessment struct {
	Tier Tier `json:"tier"`

	// PatternID is the winning pattern, empty when nothing matched.
	PatternID string `json:"pattern_id,omitempty"`

	Warnings         []string `json:"warnings,omitempty"`
	RequiresPreview  bool     `json:"requires_preview"`
	RequiresSafeMode bool     `json:"requires_safe_mode"`

	// TimeoutHint is the default protective session timeout for the tier.
	// Critical commands get the catalog's extended timeout.
	TimeoutHint time.Duration `json:"timeout_hint,omitempty"`
}

type segmentMatch struct {
	tier     Tier
	pattern  *Pattern
	warnings []string
}

// Classify assesses command against the catalog. It has no side effects;
// the same command and catalog always yield an identical Assessment.
//
// Script lines with ';' separators are classified per segment and the
// riskiest segment decides the tier. Commands nested in '[...]'
// substitutions are classified as well; an embedded command no pattern
// recognizes does not raise the tier on its own.
func (c *Catalog) Classify(command string) Assessment {
	normalized := normalizeCommand(command)
	segments := splitSegments(normalized)
	if len(segments) == 0 {
		segments = []string{""}
	}

	var best *segmentMatch
	var warnings []string
	seen := make(map[string]bool)
	consider := func(m segmentMatch) {
		for _, w := range m.warnings {
			if !seen[w] {
				seen[w] = true
				warnings = append(warnings, w)
			}
		}
		if best == nil || m.tier > best.tier {
			best = &m
		}
	}

	for _, seg := range segments {
		consider(c.classifySegment(seg))
	}
	for _, sub := range substitutions(normalized) {
		for _, seg := range splitSegments(sub) {
			if m := c.classifySegment(seg); m.pattern != nil {
				consider(m)
			}
		}
	}

	a := Assessment{
		Tier:             best.tier,
		Warnings:         warnings,
		RequiresPreview:  best.tier.RequiresPreview(),
		RequiresSafeMode: best.tier.RequiresSafeMode(),
		TimeoutHint:      c.TimeoutHint(best.tier),
	}
	if best.pattern != nil {
		a.PatternID = best.pattern.ID
	}
	return a
}

// classifySegment picks the most specific matching pattern. Ties go to the
// higher tier, then to the earlier catalog entry.
func (c *Catalog) classifySegment(segment string) segmentMatch {
	lowered := strings.ToLower(segment)

	var matched []*Pattern
	var winner *Pattern
	for i := range c.Patterns {
		p := &c.Patterns[i]
		if !p.matches(segment, lowered) {
			continue
		}
		matched = append(matched, p)
		if winner == nil ||
			p.specificity() > winner.specificity() ||
			(p.specificity() == winner.specificity() && p.Tier > winner.Tier) {
			winner = p
		}
	}

	if winner == nil {
		return segmentMatch{tier: Medium, warnings: []string{UnrecognizedWarning}}
	}

	// Warnings come from the winner and any other match of the same tier.
	// Less specific matches of other tiers were outranked and stay silent.
	var warnings []string
	if w := winner.warning(segment); w != "" {
		warnings = append(warnings, w)
	}
	for _, p := range matched {
		if p == winner || p.Tier != winner.Tier {
			continue
		}
		if w := p.warning(segment); w != "" {
			warnings = append(warnings, w)
		}
	}
	return segmentMatch{tier: winner.Tier, pattern: winner, warnings: warnings}
}

// Classify assesses command against an ad hoc pattern list using the default
// timeouts. The list is validated the same way a catalog file is; a pattern
// without a tier or with a bad regex yields a ClassificationError.
func Classify(command string, patterns []Pattern) (Assessment, error) {
	c := &Catalog{
		Patterns:        make([]Pattern, len(patterns)),
		DefaultTimeout:  DefaultSafeModeTimeout,
		CriticalTimeout: DefaultCriticalTimeout,
	}
	copy(c.Patterns, patterns)

	v := &util.ValidationBuilder{}
	validatePatterns(v, c.Patterns)
	if err := v.Build(); err != nil {
		return Assessment{}, util.NewClassificationError("", err)
	}
	if err := compilePatterns("", c.Patterns); err != nil {
		return Assessment{}, err
	}
	return c.Classify(command), nil
}
