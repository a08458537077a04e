package textutil

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatBytes renders a byte count in IEC units ("4.2 MiB"). Negative
// values are rendered with a leading minus.
func FormatBytes(value int64) string {
	if value < 0 {
		return "-" + humanize.IBytes(uint64(-value))
	}
	return humanize.IBytes(uint64(value))
}

// FormatDuration renders a duration as compact clock units ("1h2m3s").
// Sub-second durations round to "0s"; zero and negative report "0s".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	d = d.Round(time.Second)
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	parts := make([]string, 0, 3)
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || hours > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 || (hours == 0 && minutes == 0) {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, "")
}

// FormatPercent renders a ratio percentage with one decimal, trimming a
// trailing ".0" so whole numbers stay short.
func FormatPercent(value float64) string {
	formatted := fmt.Sprintf("%.1f%%", value)
	return strings.Replace(formatted, ".0%", "%", 1)
}

// FormatSavings summarizes a size reduction as "2.0 MiB -> 512 KiB (75%)".
// A non-positive original size reports just the output size.
func FormatSavings(originalBytes, outputBytes int64) string {
	if originalBytes <= 0 {
		return FormatBytes(outputBytes)
	}
	percent := (1 - float64(outputBytes)/float64(originalBytes)) * 100
	return fmt.Sprintf("%s -> %s (%s)", FormatBytes(originalBytes), FormatBytes(outputBytes), FormatPercent(percent))
}

// Truncate shortens s to at most max runes, appending "..." when trimmed.
// A max below 4 returns the bare prefix.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max < 4 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
