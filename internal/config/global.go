// Package config locates grotto's per-user home (~/.grotto) and loads the
// daemon settings kept there.
package config

import (
	"os"
	"path/filepath"
)

const (
	sessionsFileName = "sessions.json"
	pidFileName      = "daemon.pid"
	stateFileName    = "daemon.json"
	settingsFileName = "daemon.yaml"
	logFileName      = "daemon.log"
)

// Dir returns the grotto home directory (~/.grotto), creating it if needed.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	dir := filepath.Join(home, ".grotto")
	os.MkdirAll(dir, 0755)
	return dir
}

// SessionsPath is the session registry file.
func SessionsPath() string {
	return filepath.Join(Dir(), sessionsFileName)
}

// PIDPath is the daemon pid file.
func PIDPath() string {
	return filepath.Join(Dir(), pidFileName)
}

// StatePath holds the running daemon's address for CLI clients.
func StatePath() string {
	return filepath.Join(Dir(), stateFileName)
}

// SettingsPath is the optional daemon settings file.
func SettingsPath() string {
	return filepath.Join(Dir(), settingsFileName)
}

// LogPath receives the output of a background daemon.
func LogPath() string {
	return filepath.Join(Dir(), logFileName)
}
