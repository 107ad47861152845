package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
)

// colorEnabled is decided once: ANSI codes only go to a terminal.
var colorEnabled = detectColor(os.Stdout)

func detectColor(f *os.File) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// paint returns code when color is enabled and "" otherwise.
func paint(code string) string {
	if !colorEnabled {
		return ""
	}
	return code
}

func colored(code, s string) string {
	if !colorEnabled {
		return s
	}
	return code + s + colorReset
}

// printHeader prints a formatted section header.
func printHeader(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n", colored(styleBoldCyan, title))
	fmt.Fprintln(w, colored(colorDim, strings.Repeat("-", len(title)+2)))
}

// printField prints a labeled field.
func printField(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", colored(colorBold, fmt.Sprintf("%-14s", label+":")), value)
}

// statusColor returns an ANSI color code for an agent state, task status or
// session status.
func statusColor(status string) string {
	switch strings.ToLower(status) {
	case "completed", "complete", "done", "live":
		return colorGreen
	case "in_progress", "working", "claimed":
		return colorYellow
	case "blocked", "error", "not_found":
		return colorRed
	case "open", "spawning":
		return colorBlue
	case "idle":
		return colorCyan
	default:
		return colorWhite
	}
}

// statusBadge returns a colored status badge.
func statusBadge(status string) string {
	return colored(statusColor(status), "["+status+"]")
}

// resolveDir makes dir absolute, defaulting to the working directory.
func resolveDir(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", dir, err)
	}
	return filepath.Clean(abs), nil
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
