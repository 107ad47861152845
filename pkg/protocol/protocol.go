// Package protocol documents how agents take part in a grotto session.
//
// Agents coordinate through plain files under <project>/.grotto/ that the
// daemon watches:
//
//	.grotto/tasks.md                    task board (claim by editing)
//	.grotto/agents/<agent-id>/status.json  the agent's own state
//	.grotto/events.jsonl                append-only event log
//
// AgentInstructions renders the prompt fragment that teaches one agent this
// protocol.
package protocol

import (
	"fmt"
	"strings"
)

// Agent identifies who the instructions are for.
type Agent struct {
	ID         string
	PaneIndex  int
	Task       string
	ProjectDir string
	SessionID  string
}

// AgentInstructions returns the system prompt fragment for a.
func AgentInstructions(a Agent) string {
	session := strings.TrimSpace(a.SessionID)
	if session == "" {
		session = "grotto"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an autonomous coding agent working as part of a team on this task:\n\n", a.ID)
	fmt.Fprintf(&b, "**MAIN TASK**: %s\n\n", a.Task)
	fmt.Fprintf(&b, "You are working in: %s\n\n", a.ProjectDir)

	b.WriteString("## Your Role\n")
	fmt.Fprintf(&b, "- You are agent %s (pane %d) in a tmux session called %q\n", a.ID, a.PaneIndex, session)
	b.WriteString("- Work collaboratively with other agents on the shared codebase\n")
	b.WriteString("- Coordinate through the files in `.grotto/`; observers watch them live\n\n")

	b.WriteString("## Coordination Files\n")
	b.WriteString("- `.grotto/tasks.md`: the task board. A task line looks like\n")
	b.WriteString("  `⭕ **<task-id>** - <description>`; the marker is the status\n")
	b.WriteString("  (⭕ open, 🟡 claimed, 🔄 in progress, ✅ completed, 🚫 blocked).\n")
	b.WriteString("  To claim a task, switch its marker to 🟡 and add the line\n")
	fmt.Fprintf(&b, "  `   - Claimed by: %s` directly below it.\n", a.ID)
	fmt.Fprintf(&b, "- `.grotto/agents/%s/status.json`: keep `state`, `current_task` and `progress` current.\n", a.ID)
	b.WriteString("- `.grotto/events.jsonl`: append one JSON object per line with `timestamp`,\n")
	fmt.Fprintf(&b, "  `event_type`, `agent_id` (%q), optional `task_id`, `message` and `data`.\n", a.ID)
	b.WriteString("  Never rewrite earlier lines.\n\n")

	b.WriteString("## Coordination Protocol\n")
	b.WriteString("1. Run `grotto status` to see the task board and what teammates are doing\n")
	b.WriteString("2. Claim an open task on the board and log a `task_claimed` event\n")
	b.WriteString("3. Work on your claimed task, updating your status.json as you go\n")
	b.WriteString("4. Mark it ✅ when done and log a `task_completed` event\n")
	b.WriteString("5. Never take a task someone else has claimed\n\n")

	b.WriteString("## Working Directory\n")
	fmt.Fprintf(&b, "You are in: %s\n", a.ProjectDir)
	fmt.Fprintf(&b, "Task board and coordination files are in: %s/.grotto/\n\n", strings.TrimRight(a.ProjectDir, "/"))
	b.WriteString("Start by checking `grotto status` to see the current state, then claim an available task and begin working.\n")
	return b.String()
}
