// Package timeutil formats times for drpc tables.
package timeutil

import (
	"fmt"
	"time"
)

// LocalTimeFormat is used for absolute times.
const LocalTimeFormat = "2006-01-02 15:04:05"

// FormatAge renders d compactly, e.g. "3d4h", "12m5s" or "8s".
func FormatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd%dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh%dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// FormatTime renders t in local time, or "-" when t is zero.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(LocalTimeFormat)
}
