package cli

import (
	"fmt"
	"strings"
)

// FormatDuration renders a millisecond count the way the console shows
// elapsed audio: "480ms", "3.2s", "1m12.5s".
func FormatDuration(ms int) string {
	switch {
	case ms < 1000:
		return fmt.Sprintf("%dms", ms)
	case ms < 60_000:
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60_000
	rem := float64(ms-mins*60_000) / 1000
	return fmt.Sprintf("%dm%.1fs", mins, rem)
}

// FormatBytes renders a byte count with a binary unit, two decimals.
// Counts beyond a terabyte stay in GB.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	value, suffix := float64(bytes), ""
	for _, s := range []string{"KB", "MB", "GB"} {
		value /= unit
		suffix = s
		if value < unit {
			break
		}
	}
	return fmt.Sprintf("%.2f %s", value, suffix)
}

// MaskAPIKey masks a credential for display. Short values are fully
// starred so their length leaks nothing useful.
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// IsSecretKey reports whether a config key name holds a credential that
// should be masked when displayed.
func IsSecretKey(name string) bool {
	name = strings.ToLower(name)
	for _, marker := range []string{"key", "token", "secret", "password"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}
