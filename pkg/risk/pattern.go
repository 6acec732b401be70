package risk

import (
	"regexp"
	"strings"
)

// Pattern is one catalog rule. Exactly one of Match (a literal substring) or
// Regex is set. Matching is case-insensitive.
type Pattern struct {
	ID      string `yaml:"id" json:"id"`
	Match   string `yaml:"match,omitempty" json:"match,omitempty"`
	Regex   string `yaml:"regex,omitempty" json:"regex,omitempty"`
	Tier    Tier   `yaml:"tier" json:"tier"`
	Warning string `yaml:"warning,omitempty" json:"warning,omitempty"`

	// Specificity overrides the matcher length used to rank overlapping
	// matches. Zero means len(Match) or len(Regex).
	Specificity int `yaml:"specificity,omitempty" json:"specificity,omitempty"`

	re *regexp.Regexp
}

func (p *Pattern) compile() error {
	if p.Regex == "" {
		p.re = nil
		return nil
	}
	re, err := regexp.Compile("(?i)" + p.Regex)
	if err != nil {
		return err
	}
	p.re = re
	return nil
}

// matches reports whether the pattern applies to an already normalized
// command. lowered is the lower-cased form of normalized.
func (p *Pattern) matches(normalized, lowered string) bool {
	if p.re != nil {
		return p.re.MatchString(normalized)
	}
	if p.Match == "" {
		return false
	}
	return strings.Contains(lowered, strings.ToLower(p.Match))
}

func (p *Pattern) specificity() int {
	if p.Specificity > 0 {
		return p.Specificity
	}
	if p.Regex != "" {
		return len(p.Regex)
	}
	return len(p.Match)
}

// warning renders the warning template. {command} expands to the segment
// that matched and {match} to the matcher text.
func (p *Pattern) warning(segment string) string {
	if p.Warning == "" {
		return ""
	}
	matcher := p.Match
	if matcher == "" {
		matcher = p.Regex
	}
	return strings.NewReplacer("{command}", segment, "{match}", matcher).Replace(p.Warning)
}

// normalizeCommand trims and collapses runs of whitespace outside quotes.
func normalizeCommand(cmd string) string {
	var sb strings.Builder
	sb.Grow(len(cmd))
	var quote rune
	space := false
	for _, r := range strings.TrimSpace(cmd) {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			space = true
			continue
		}
		if space {
			sb.WriteByte(' ')
			space = false
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// splitSegments splits a RouterOS script line on ';' separators that are not
// inside quotes or '[...]' substitutions. Empty segments are dropped.
func splitSegments(cmd string) []string {
	var segments []string
	var quote rune
	depth, start := 0, 0
	for i, r := range cmd {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '[':
			depth++
		case r == ']' && depth > 0:
			depth--
		case r == ';' && depth == 0:
			if s := strings.TrimSpace(cmd[start:i]); s != "" {
				segments = append(segments, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(cmd[start:]); s != "" {
		segments = append(segments, s)
	}
	return segments
}

// substitutions returns the bodies of the '[...]' command substitutions in
// cmd, nested ones included, in the order they close. Brackets inside quotes
// are literal text.
func substitutions(cmd string) []string {
	var subs []string
	var open []int
	var quote rune
	for i, r := range cmd {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '[':
			open = append(open, i)
		case r == ']' && len(open) > 0:
			start := open[len(open)-1]
			open = open[:len(open)-1]
			if s := strings.TrimSpace(cmd[start+1 : i]); s != "" {
				subs = append(subs, s)
			}
		}
	}
	return subs
}
