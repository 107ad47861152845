// Package theme holds the terminal palette shared by the CLI and the watch
// TUI.
package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/agusx1211/grotto/internal/phase"
	"github.com/agusx1211/grotto/internal/state"
)

// Color palette - dark theme inspired by Catppuccin Mocha
var (
	ColorBase     = lipgloss.Color("#1e1e2e")
	ColorSurface0 = lipgloss.Color("#313244")
	ColorSurface1 = lipgloss.Color("#45475a")
	ColorOverlay0 = lipgloss.Color("#6c7086")
	ColorText     = lipgloss.Color("#cdd6f4")
	ColorSubtext0 = lipgloss.Color("#a6adc8")

	ColorRed      = lipgloss.Color("#f38ba8")
	ColorGreen    = lipgloss.Color("#a6e3a1")
	ColorYellow   = lipgloss.Color("#f9e2af")
	ColorBlue     = lipgloss.Color("#89b4fa")
	ColorMauve    = lipgloss.Color("#cba6f7")
	ColorTeal     = lipgloss.Color("#94e2d5")
	ColorPeach    = lipgloss.Color("#fab387")
	ColorLavender = lipgloss.Color("#b4befe")
)

var (
	Title  = lipgloss.NewStyle().Foreground(ColorMauve).Bold(true)
	Header = lipgloss.NewStyle().Foreground(ColorLavender).Bold(true)
	Dim    = lipgloss.NewStyle().Foreground(ColorOverlay0)
	Text   = lipgloss.NewStyle().Foreground(ColorText)
	Error  = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
	Box    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(ColorSurface1).Padding(0, 1)
)

// PhaseColor maps an inferred phase to its color.
func PhaseColor(p phase.Phase) lipgloss.Color {
	switch p {
	case phase.Thinking:
		return ColorMauve
	case phase.Editing:
		return ColorBlue
	case phase.Running:
		return ColorPeach
	case phase.Idle:
		return ColorTeal
	case phase.Error:
		return ColorRed
	case phase.Finished:
		return ColorGreen
	default:
		return ColorOverlay0
	}
}

// PhaseBadge renders p as a colored label.
func PhaseBadge(p phase.Phase) string {
	return lipgloss.NewStyle().Foreground(PhaseColor(p)).Bold(true).Render(p.String())
}

// TaskColor maps a task board status to its color.
func TaskColor(s state.TaskStatus) lipgloss.Color {
	switch s {
	case state.TaskCompleted:
		return ColorGreen
	case state.TaskInProgress:
		return ColorYellow
	case state.TaskClaimed:
		return ColorPeach
	case state.TaskBlocked:
		return ColorRed
	default:
		return ColorSubtext0
	}
}

// SessionStatus renders a session liveness string (live, completed,
// not_found).
func SessionStatus(status string) string {
	c := ColorOverlay0
	switch status {
	case "live":
		c = ColorGreen
	case "not_found":
		c = ColorRed
	}
	return lipgloss.NewStyle().Foreground(c).Render(status)
}
