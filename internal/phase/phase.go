// Package phase infers what an agent is doing from the text of its terminal.
package phase

import (
	"fmt"
	"strings"
)

// Phase is the live activity of an agent.
type Phase string

const (
	Starting Phase = "starting"
	Thinking Phase = "thinking"
	Editing  Phase = "editing"
	Running  Phase = "running"
	Idle     Phase = "idle"
	Finished Phase = "finished"
	Error    Phase = "error"
)

// All lists every phase in precedence-independent display order.
var All = []Phase{Starting, Thinking, Editing, Running, Idle, Finished, Error}

func (p Phase) String() string { return string(p) }

// Parse accepts the wire form of a phase.
func Parse(s string) (Phase, error) {
	for _, p := range All {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

const (
	windowSize = 20
	recentSize = 5
)

var finishedLast = []string{"/exit", "exited"}

var finishedWindow = []string{"Process exited", "session ended", "has been completed"}

var errorMarkers = []string{
	"Error:", "error:", "rate limit", "Rate limit", "APIError", "API error",
	"panic", "PANIC", "fatal:", "FATAL", "overloaded",
}

var thinkingMarkers = []string{
	"Thinking", "thinking", "⏳", "◐", "◓", "◑", "◒",
	"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏",
}

var editMarkers = []string{
	"Write(", "Edit(", "Created ", "Updated ", "Wrote ", "wrote ",
	"editing", "Creating ", "Modified ",
}

var runMarkers = []string{"$ ", "Running", "running", "Bash(", "bash("}

var promptEnds = []string{">", "$", "❯", "%"}

// Infer classifies captured pane text. Checks run in precedence order:
// finished, error, thinking, editing, running, idle, then starting.
func Infer(content string) Phase {
	window := recentLines(content, windowSize)
	if len(window) == 0 {
		return Starting
	}
	last := window[0]
	recent := window[:min(recentSize, len(window))]

	if containsAny(last, finishedLast) || containsAny(strings.Join(window, "\n"), finishedWindow) {
		return Finished
	}
	if anyLineContains(recent, errorMarkers) {
		return Error
	}
	if containsAny(last, thinkingMarkers) {
		return Thinking
	}
	if anyLineContains(recent, editMarkers) {
		return Editing
	}
	if anyLineContains(recent, runMarkers) {
		return Running
	}
	trimmed := strings.TrimSpace(last)
	for _, end := range promptEnds {
		if strings.HasSuffix(trimmed, end) {
			return Idle
		}
	}
	return Starting
}

// LastActivityLine returns the last non-blank line of content, untrimmed.
func LastActivityLine(content string) string {
	lines := recentLines(content, 1)
	if len(lines) == 0 {
		return ""
	}
	return lines[0]
}

// recentLines returns up to n non-blank lines, most recent first.
func recentLines(content string, n int) []string {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	out := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(out) < n; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		out = append(out, lines[i])
	}
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func anyLineContains(lines []string, subs []string) bool {
	for _, l := range lines {
		if containsAny(l, subs) {
			return true
		}
	}
	return false
}
