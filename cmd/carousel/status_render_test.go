package main

import (
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	line := renderStatusLine("Daemon", statusOK, "Running (pid 42)", false)
	want := fmt.Sprintf("%s%-*s [OK] Running (pid 42)", statusIndent, statusLabelWidth, "Daemon:")
	if line != want {
		t.Fatalf("unexpected line:\n got %q\nwant %q", line, want)
	}
}

func TestRenderStatusLineNoMessage(t *testing.T) {
	line := renderStatusLine("Engine", statusError, "", false)
	if !strings.HasSuffix(line, "[ERROR]") {
		t.Fatalf("expected bare status suffix, got %q", line)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	line := renderStatusLine("Queue", statusOK, "Running", true)
	if !strings.HasPrefix(line, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", line)
	}
	if !strings.HasSuffix(line, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", line)
	}

	warn := renderStatusLine("Queue", statusWarn, "Paused", true)
	if !strings.HasPrefix(warn, ansiYellow) {
		t.Fatalf("expected yellow prefix, got %q", warn)
	}
}

func TestStatusKindLabels(t *testing.T) {
	cases := map[statusKind]string{
		statusInfo:  "INFO",
		statusOK:    "OK",
		statusWarn:  "WARN",
		statusError: "ERROR",
	}
	for kind, want := range cases {
		if got := statusKindLabel(kind); got != want {
			t.Errorf("statusKindLabel(%d) = %q, want %q", kind, got, want)
		}
	}
}

func TestRenderSectionHeader(t *testing.T) {
	lines := renderSectionHeader("System Status", false)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "== System Status ==" {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	if lines[1] != strings.Repeat("-", len(lines[0])) {
		t.Fatalf("unexpected rule: %q", lines[1])
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatal("expected no color for non-file writer")
	}
}
