// Package debug is the grotto diagnostic logger.
//
// When enabled via --debug (or inherited through GROTTO_DEBUG_* environment
// variables), every line is appended to a single file under ~/.grotto/debug/
// tagged with a timestamp, pid, process label, component and caller. The
// daemon child inherits the parent's log file so a whole start/serve/stop
// cycle lands in one place.
//
// When disabled, every function is a no-op.
package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/agusx1211/grotto/internal/ident"
)

const (
	// EnvEnabled toggles logger initialization in child processes.
	EnvEnabled = "GROTTO_DEBUG_ENABLED"
	// EnvLogPath points a child process at an existing log file.
	EnvLogPath = "GROTTO_DEBUG_LOG_PATH"
	// EnvProcess labels the current process in every line.
	EnvProcess = "GROTTO_DEBUG_PROCESS"
)

var (
	active   *Logger
	activeMu sync.RWMutex
)

// Logger appends formatted lines to one file.
type Logger struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	startedAt time.Time
	pid       int
	process   string
}

func current() *Logger {
	activeMu.RLock()
	defer activeMu.RUnlock()
	return active
}

// Init opens the log file and installs the global logger, returning its
// path. Repeated calls return the already-open path.
func Init() (string, error) {
	if l := current(); l != nil {
		return l.path, nil
	}

	path, inherited, err := resolveLogPath()
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("debug: open log %s: %w", path, err)
	}

	l := &Logger{
		file:      f,
		path:      path,
		startedAt: time.Now(),
		pid:       os.Getpid(),
		process:   processLabel(),
	}
	if inherited {
		l.banner("GROTTO DEBUG PROCESS ATTACHED")
	} else {
		l.banner("GROTTO DEBUG LOG", fmt.Sprintf("GOMAXPROCS: %d", runtime.GOMAXPROCS(0)))
	}

	activeMu.Lock()
	defer activeMu.Unlock()
	if active != nil {
		_ = f.Close()
		return active.path, nil
	}
	active = l
	return path, nil
}

func (l *Logger) banner(title string, extra ...string) {
	var b strings.Builder
	if fi, err := l.file.Stat(); err == nil && fi.Size() > 0 {
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "=== %s ===\n", title)
	fmt.Fprintf(&b, "Started: %s\n", l.startedAt.Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "PID: %d\n", l.pid)
	fmt.Fprintf(&b, "Process: %s\n", l.process)
	for _, line := range extra {
		b.WriteString(line + "\n")
	}
	fmt.Fprintf(&b, "File: %s\n===\n\n", l.path)
	_, _ = l.file.WriteString(b.String())
}

// Close writes a trailer and closes the log. Safe when not initialized.
func Close() {
	activeMu.Lock()
	l := active
	active = nil
	activeMu.Unlock()
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.file, "\n=== DEBUG LOG CLOSED === (pid=%d process=%s duration=%s)\n",
		l.pid, l.process, time.Since(l.startedAt).Truncate(time.Millisecond))
	_ = l.file.Close()
}

// Enabled reports whether the logger is active.
func Enabled() bool {
	return current() != nil
}

// Path returns the active log file, or "".
func Path() string {
	if l := current(); l != nil {
		return l.path
	}
	return ""
}

// ShouldEnableFromEnv reports whether inherited environment variables ask
// for debug logging. An explicit off value wins over an inherited path.
func ShouldEnableFromEnv() bool {
	hasPath := strings.TrimSpace(os.Getenv(EnvLogPath)) != ""
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvEnabled))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return hasPath
	}
}

// PropagatedEnv overlays the debug variables onto baseEnv so a child process
// appends to the same log. baseEnv is returned untouched when disabled.
func PropagatedEnv(baseEnv []string, process string) []string {
	path := Path()
	if path == "" {
		return baseEnv
	}
	env := append([]string(nil), baseEnv...)
	env = setEnv(env, EnvEnabled, "1")
	env = setEnv(env, EnvLogPath, path)
	if p := strings.TrimSpace(process); p != "" {
		env = setEnv(env, EnvProcess, p)
	}
	return env
}

// Log writes one line.
func Log(component, msg string) {
	if l := current(); l != nil {
		l.write(component, msg)
	}
}

// Logf writes one formatted line.
func Logf(component, format string, args ...any) {
	if l := current(); l != nil {
		l.write(component, fmt.Sprintf(format, args...))
	}
}

// LogKV writes msg followed by key=value pairs.
//
//	debug.LogKV("poller", "phase changed", "agent", "agent-2", "phase", "thinking")
func LogKV(component, msg string, kvs ...any) {
	l := current()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(kvs); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kvs[i], kvs[i+1])
	}
	l.write(component, b.String())
}

// write is always called two frames below the public entry point.
func (l *Logger) write(component, msg string) {
	now := time.Now()
	caller := "??:0"
	if _, file, line, ok := runtime.Caller(2); ok {
		caller = fmt.Sprintf("%s:%d", shortFile(file), line)
	}

	entry := fmt.Sprintf("%s +%12s [P%-6d] [%-18s] [%-10s] %-36s | %s\n",
		now.Format("15:04:05.000000"),
		now.Sub(l.startedAt).Truncate(time.Microsecond),
		l.pid,
		l.process,
		component,
		caller,
		msg,
	)

	l.mu.Lock()
	_, _ = l.file.WriteString(entry)
	l.mu.Unlock()
}

func shortFile(file string) string {
	for _, marker := range []string{"/internal/", "/cmd/", "/pkg/"} {
		if idx := strings.LastIndex(file, marker); idx >= 0 {
			return file[idx+1:]
		}
	}
	return filepath.Base(file)
}

func resolveLogPath() (path string, inherited bool, err error) {
	if p := strings.TrimSpace(os.Getenv(EnvLogPath)); p != "" {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return "", true, fmt.Errorf("debug: create dir for %s: %w", p, err)
		}
		return p, true, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("debug: user home dir: %w", err)
	}
	dir := filepath.Join(home, ".grotto", "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", false, fmt.Errorf("debug: create dir %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s_%s.log", time.Now().Format("20060102T150405"), ident.Hex())
	return filepath.Join(dir, name), false, nil
}

// processLabel is "grotto:<first non-flag arg>" unless overridden.
func processLabel() string {
	if p := strings.TrimSpace(os.Getenv(EnvProcess)); p != "" {
		return p
	}
	base := filepath.Base(os.Args[0])
	for _, arg := range os.Args[1:] {
		arg = strings.TrimSpace(arg)
		if arg != "" && !strings.HasPrefix(arg, "-") {
			return base + ":" + arg
		}
	}
	return base
}

func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i := range env {
		if strings.HasPrefix(env[i], prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
