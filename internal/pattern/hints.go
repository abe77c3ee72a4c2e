package pattern

import (
	"fmt"
	"strings"
)

// RenderHints formats patterns for injection into a session's task
// context. Patterns with a known resolution lead with what worked;
// unresolved ones warn what to avoid.
func RenderHints(patterns []Pattern) []string {
	hints := make([]string, 0, len(patterns))
	for _, p := range patterns {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Failure seen before: %s", p.Signature)
		if p.Resolution != "" {
			fmt.Fprintf(&sb, "\n  What worked: %s", p.Resolution)
		}
		if p.FailureCount > p.SuccessCount {
			fmt.Fprintf(&sb, "\n  What didn't work: %d of %d attempts failed on this",
				p.FailureCount, p.FailureCount+p.SuccessCount)
		}
		hints = append(hints, sb.String())
	}
	return hints
}
