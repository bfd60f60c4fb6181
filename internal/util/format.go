// Package util provides shared formatting helpers.
package util

import (
	"fmt"
	"time"
)

// FormatDuration formats a duration for human-readable display.
// - Under 1 minute: "45s"
// - 1 minute or more: "5m 30s"
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %02ds", minutes, seconds)
}

// FormatDurationCompact formats a duration compactly for tables.
// - Under 1 second: "500ms"
// - Under 1 minute: "45.5s"
// - Under 1 hour: "5m30s"
// - 1 hour or more: "1h23m"
func FormatDurationCompact(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", hours, mins)
}
