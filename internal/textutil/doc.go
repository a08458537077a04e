// Package textutil formats byte counts, durations, and ratios for human
// display. Notifications, CLI tables, and log lines all render through the
// same helpers so sizes and times read consistently everywhere.
package textutil
