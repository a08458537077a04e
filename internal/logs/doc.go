// Package logs provides file tailing with byte offsets for the CLI and the
// IPC log surface.
//
// It reads log files with bounded memory, supports a negative offset for
// "last N lines", and can linger briefly in follow mode until new lines
// arrive. Callers carry the returned offset into the next call to resume
// where the previous read stopped; context deadlines bound the follow wait
// so `carousel logs --follow` exits cleanly.
package logs
