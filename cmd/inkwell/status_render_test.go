package main

import (
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Daemon:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusOK, "Running", true)
	if !strings.HasPrefix(got, statusKinds[statusOK].color) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestStatusKindFromSeverity(t *testing.T) {
	cases := map[string]statusKind{"ok": statusOK, "WARN": statusWarn, "error": statusError, "": statusInfo}
	for in, want := range cases {
		if got := statusKindFromSeverity(in); got != want {
			t.Fatalf("statusKindFromSeverity(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestStatusLabel(t *testing.T) {
	if got := statusLabel("writing_in_progress"); got != "Writing In Progress" {
		t.Fatalf("statusLabel = %q", got)
	}
	if got := statusLabel(""); got != "-" {
		t.Fatalf("empty statusLabel = %q", got)
	}
}

func TestProgressBar(t *testing.T) {
	if got := progressBar(50, 10); got != "[#####.....] 50%" {
		t.Fatalf("progressBar = %q", got)
	}
	if got := progressBar(140, 4); got != "[####] 100%" {
		t.Fatalf("clamped progressBar = %q", got)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}
