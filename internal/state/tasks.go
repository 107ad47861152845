package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TaskStatus is the lifecycle state of a task on the board.
type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskClaimed    TaskStatus = "claimed"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskBlocked    TaskStatus = "blocked"
)

var statusEmoji = map[TaskStatus]string{
	TaskOpen:       "⭕",
	TaskClaimed:    "🟡",
	TaskInProgress: "🔄",
	TaskCompleted:  "✅",
	TaskBlocked:    "🚫",
}

// Emoji returns the board marker for s, or "" for an unknown status.
func (s TaskStatus) Emoji() string {
	return statusEmoji[s]
}

// Task is the writer-side task record.
type Task struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	ClaimedBy   string     `json:"claimed_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TaskInfo is a task as parsed back from tasks.md.
type TaskInfo struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	ClaimedBy   string     `json:"claimed_by,omitempty"`
}

const taskBoardHeader = "# Task Board"

// RenderTaskBoard formats tasks as the tasks.md document.
func RenderTaskBoard(tasks []Task) string {
	var b strings.Builder
	b.WriteString(taskBoardHeader + "\n\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s **%s** - %s\n", t.Status.Emoji(), t.ID, t.Description)
		if t.ClaimedBy != "" {
			fmt.Fprintf(&b, "   - Claimed by: %s\n", t.ClaimedBy)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// WriteTaskBoard renders tasks into tasks.md under root.
func WriteTaskBoard(root string, tasks []Task) error {
	return os.WriteFile(filepath.Join(root, TaskBoardFile), []byte(RenderTaskBoard(tasks)), 0644)
}

// ReadTaskBoard parses tasks.md under root. A missing board is an empty list.
func ReadTaskBoard(root string) []TaskInfo {
	data, err := os.ReadFile(filepath.Join(root, TaskBoardFile))
	if err != nil {
		return []TaskInfo{}
	}
	return ParseTaskBoard(string(data))
}

// ParseTaskBoard extracts tasks from a tasks.md document. A task line may be
// followed directly by a "- Claimed by: <agent>" line. Anything else is
// ignored.
func ParseTaskBoard(content string) []TaskInfo {
	tasks := []TaskInfo{}
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	for i, line := range lines {
		status, rest, ok := cutStatus(strings.TrimSpace(line))
		if !ok {
			continue
		}
		t, ok := parseTaskLine(rest)
		if !ok {
			continue
		}
		t.Status = status
		if i+1 < len(lines) {
			next := strings.TrimSpace(lines[i+1])
			if agent, ok := strings.CutPrefix(next, "- Claimed by: "); ok {
				t.ClaimedBy = agent
			}
		}
		tasks = append(tasks, t)
	}
	return tasks
}

func cutStatus(line string) (TaskStatus, string, bool) {
	for status, emoji := range statusEmoji {
		if rest, ok := strings.CutPrefix(line, emoji); ok {
			return status, strings.TrimSpace(rest), true
		}
	}
	return "", "", false
}

// parseTaskLine reads `**id** - description`.
func parseTaskLine(s string) (TaskInfo, bool) {
	rest, ok := strings.CutPrefix(s, "**")
	if !ok {
		return TaskInfo{}, false
	}
	id, desc, found := strings.Cut(rest, "**")
	if !found {
		return TaskInfo{}, false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return TaskInfo{}, false
	}
	desc = strings.TrimPrefix(desc, " - ")
	return TaskInfo{ID: id, Description: strings.TrimSpace(desc)}, true
}
