package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/agusx1211/grotto/internal/pane"
	"github.com/agusx1211/grotto/internal/state"
)

func TestStatusShowsLivePhases(t *testing.T) {
	dir := t.TempDir()
	if _, err := state.Create(dir, 2, "refactor storage", "amber-fox-reef"); err != nil {
		t.Fatalf("state.Create: %v", err)
	}
	fake := pane.NewFake()
	fake.Set(pane.Target("amber-fox-reef", 0), "Reading files\nThinking...")
	fake.Set(pane.Target("amber-fox-reef", 1), "Edit(internal/store.go)\n")

	prev := newPaneBackend
	newPaneBackend = func() pane.Backend { return fake }
	t.Cleanup(func() { newPaneBackend = prev })

	var out bytes.Buffer
	if err := runStatus(newDirCmd(&out, dir), nil); err != nil {
		t.Fatalf("runStatus: %v", err)
	}
	got := out.String()
	for _, want := range []string{"amber-fox-reef", "refactor storage", "live", "agent-1", "thinking", "agent-2", "editing", "main", "team_spawned"} {
		if !strings.Contains(got, want) {
			t.Fatalf("status missing %q:\n%s", want, got)
		}
	}
	if fake.Captures() != 2 {
		t.Fatalf("captures = %d, want 2", fake.Captures())
	}
}

func TestPrintStatusWithoutTerminal(t *testing.T) {
	dir := t.TempDir()
	s, err := state.Create(dir, 1, "x", "")
	if err != nil {
		t.Fatalf("state.Create: %v", err)
	}

	var out bytes.Buffer
	printStatus(&out, s, nil, time.Now())
	got := out.String()
	for _, want := range []string{"no tmux session", "[spawning]", "Starting up..."} {
		if !strings.Contains(got, want) {
			t.Fatalf("status missing %q:\n%s", want, got)
		}
	}
}

func TestPrintStatusCompletedSession(t *testing.T) {
	dir := t.TempDir()
	s, err := state.Create(dir, 1, "x", "gone")
	if err != nil {
		t.Fatalf("state.Create: %v", err)
	}
	snaps := pane.CaptureAll(t.Context(), pane.NewFake(), "gone", 1)

	var out bytes.Buffer
	printStatus(&out, s, snaps, time.Now())
	if !strings.Contains(out.String(), "completed") || !strings.Contains(out.String(), "finished") {
		t.Fatalf("status = %s", out.String())
	}
}

func TestStatusWithoutSession(t *testing.T) {
	var out bytes.Buffer
	err := runStatus(newDirCmd(&out, t.TempDir()), nil)
	if err == nil || !strings.Contains(err.Error(), "grotto init") {
		t.Fatalf("runStatus error = %v, want init hint", err)
	}
}
