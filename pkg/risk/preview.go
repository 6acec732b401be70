package risk

import (
	"fmt"
	"strings"
	"time"
)

// RenderPreview describes what approving command would do without running
// anything: the command, its tier, every warning, and the safeguards that
// will wrap execution.
func RenderPreview(command string, a Assessment) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Command:   %s\n", normalizeCommand(command))
	if a.PatternID != "" {
		fmt.Fprintf(&sb, "Risk tier: %s (pattern %s)\n", a.Tier, a.PatternID)
	} else {
		fmt.Fprintf(&sb, "Risk tier: %s\n", a.Tier)
	}

	if len(a.Warnings) > 0 {
		sb.WriteString("Warnings:\n")
		for _, w := range a.Warnings {
			fmt.Fprintf(&sb, "  - %s\n", w)
		}
	}

	sb.WriteString("Safeguards:\n")
	if a.RequiresPreview {
		sb.WriteString("  - explicit approval required before execution\n")
	}
	if a.RequiresSafeMode {
		fmt.Fprintf(&sb, "  - runs inside safe mode; changes revert unless verified within %s\n",
			formatTimeout(a.TimeoutHint))
		sb.WriteString("  - device logs and responsiveness are checked before commit\n")
	} else if a.RequiresPreview {
		sb.WriteString("  - no protective session; device logs are captured before and after\n")
	}
	if !a.RequiresPreview {
		sb.WriteString("  - none (read-only)\n")
	}
	return sb.String()
}

func formatTimeout(d time.Duration) string {
	if d <= 0 {
		return "the device's safe mode timeout"
	}
	if d%time.Minute == 0 {
		return fmt.Sprintf("%dm", int(d/time.Minute))
	}
	return d.String()
}
