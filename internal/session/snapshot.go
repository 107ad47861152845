package session

import (
	"context"
	"time"

	"github.com/agusx1211/grotto/internal/pane"
	"github.com/agusx1211/grotto/internal/state"
)

// BuildSnapshot assembles the full state of the session in projectDir.
// Panes are captured under sessionName, the registry id the poller and
// List use too; the session_id in config.toml is not consulted. A session
// that cannot be loaded yields a not_found snapshot rather than an error.
func BuildSnapshot(ctx context.Context, projectDir string, backend pane.Backend, sessionName string) Snapshot {
	now := time.Now()
	s, err := state.Load(projectDir)
	if err != nil {
		return Snapshot{
			At:      now,
			Message: "No grotto state found",
			Agents:  map[string]state.AgentState{},
			Tasks:   []state.TaskInfo{},
			Active:  false,
			Status:  StatusNotFound,
		}
	}

	snaps := pane.CaptureAll(ctx, backend, sessionName, s.Config.AgentCount)
	agents := s.Agents
	for _, snap := range snaps {
		if a, ok := agents[snap.AgentID]; ok {
			a.Phase = snap.Phase.String()
			agents[snap.AgentID] = a
		}
	}

	active := pane.Live(snaps)
	status := StatusCompleted
	if active {
		status = StatusLive
	}
	return Snapshot{
		At:      now,
		Message: "Full state snapshot",
		Agents:  agents,
		Tasks:   state.ReadTaskBoard(s.Root),
		Config: &ConfigInfo{
			AgentCount: s.Config.AgentCount,
			Task:       s.Config.Task,
			ProjectDir: s.Config.ProjectDir,
		},
		Active: active,
		Status: status,
	}
}

// Liveness reports the status string for a session with agentCount panes.
// A session the backend positively reports as gone is completed without
// capturing its panes.
func Liveness(ctx context.Context, backend pane.Backend, sessionName string, agentCount int) string {
	if ok, err := backend.HasSession(ctx, sessionName); err == nil && !ok {
		return StatusCompleted
	}
	if pane.Live(pane.CaptureAll(ctx, backend, sessionName, agentCount)) {
		return StatusLive
	}
	return StatusCompleted
}
