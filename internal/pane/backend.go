// Package pane captures text from the terminal panes agents run in.
package pane

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/agusx1211/grotto/internal/phase"
)

// CaptureLines is how much scrollback each capture asks for.
const CaptureLines = 50

// Backend reads pane text. Implementations must be safe for concurrent use.
type Backend interface {
	// CapturePane returns the last lines of the pane at target.
	CapturePane(ctx context.Context, target string, lines int) (string, error)
	// HasSession reports whether the named session exists.
	HasSession(ctx context.Context, session string) (bool, error)
}

// Attacher is implemented by backends that can hand out a read-only view
// of a whole session as an interactive command.
type Attacher interface {
	AttachCommand(ctx context.Context, session string) *exec.Cmd
}

// Target addresses pane index i in window 0 of session.
func Target(session string, paneIndex int) string {
	return fmt.Sprintf("%s:0.%d", session, paneIndex)
}

// Snapshot is one capture of one agent's pane.
type Snapshot struct {
	AgentID          string      `json:"agent_id"`
	PaneIndex        int         `json:"pane_index"`
	RawContent       string      `json:"raw_content"`
	Phase            phase.Phase `json:"phase"`
	LastActivityLine string      `json:"last_activity_line"`
	Timestamp        time.Time   `json:"timestamp"`
}

// CaptureAll captures agents agent-1..agent-n of session. A failed capture
// yields a Finished snapshot with empty content.
func CaptureAll(ctx context.Context, b Backend, session string, n int) []Snapshot {
	now := time.Now().UTC()
	snaps := make([]Snapshot, 0, n)
	for i := 0; i < n; i++ {
		s := Snapshot{
			AgentID:   fmt.Sprintf("agent-%d", i+1),
			PaneIndex: i,
			Timestamp: now,
		}
		content, err := b.CapturePane(ctx, Target(session, i), CaptureLines)
		if err != nil {
			s.Phase = phase.Finished
		} else {
			s.RawContent = content
			s.Phase = phase.Infer(content)
			s.LastActivityLine = phase.LastActivityLine(content)
		}
		snaps = append(snaps, s)
	}
	return snaps
}

// AllFinishedEmpty reports whether every snapshot is Finished with no
// content, which is how a vanished terminal session looks. It is false for
// an empty set.
func AllFinishedEmpty(snaps []Snapshot) bool {
	if len(snaps) == 0 {
		return false
	}
	for _, s := range snaps {
		if s.Phase != phase.Finished || s.RawContent != "" {
			return false
		}
	}
	return true
}

// Live reports whether a session with these snapshots is still running.
func Live(snaps []Snapshot) bool {
	return len(snaps) > 0 && !AllFinishedEmpty(snaps)
}
