package notify

import (
	"fmt"
	"time"

	"github.com/jacklau/codereviewer/internal/workflow"
)

// maxErrorChars keeps alert bodies under chat message limits.
const maxErrorChars = 1000

// Headline is the one-line description of a failed run.
// Example: "generate-review failed at step post-comment after 3 attempts"
func Headline(a workflow.Alert) string {
	s := a.FunctionID + " failed"
	if a.Step != "" {
		s += " at step " + a.Step
	}
	if a.Attempts == 1 {
		return s + " after 1 attempt"
	}
	return fmt.Sprintf("%s after %d attempts", s, a.Attempts)
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// TimeAgo returns a human-readable relative time string.
func TimeAgo(t time.Time) string {
	d := time.Since(t)

	switch {
	case d < time.Minute:
		secs := int(d.Seconds())
		if secs <= 1 {
			return "just now"
		}
		return fmt.Sprintf("%d sec ago", secs)
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 min ago"
		}
		return fmt.Sprintf("%d min ago", mins)
	case d < 24*time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}
