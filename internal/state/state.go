// Package state reads and writes a coordination session's on-disk layout:
//
//	<project>/.grotto/
//	  config.toml
//	  tasks.md
//	  events.jsonl
//	  agents/<agent-id>/status.json
//	  messages/
//
// The daemon only reads these files. The writer helpers exist for grotto
// init and for tests.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/agusx1211/grotto/internal/debug"
)

// File and directory names inside the session root.
const (
	DirName       = ".grotto"
	ConfigFile    = "config.toml"
	TaskBoardFile = "tasks.md"
	EventsFile    = "events.jsonl"
	StatusFile    = "status.json"
	AgentsDir     = "agents"
	MessagesDir   = "messages"
	MainTaskID    = "main"
)

const initialProgress = "Starting up..."

// ErrNoState is returned by Load when the project has no .grotto directory.
var ErrNoState = errors.New("no .grotto directory found")

// Config is the immutable session configuration.
type Config struct {
	AgentCount int    `toml:"agent_count" json:"agent_count"`
	Task       string `toml:"task" json:"task"`
	ProjectDir string `toml:"project_dir" json:"project_dir"`
	SessionID  string `toml:"session_id,omitempty" json:"session_id,omitempty"`
}

// AgentState is the contents of agents/<id>/status.json. Phase is never
// persisted; it is filled in memory from pane captures.
type AgentState struct {
	ID          string    `json:"id"`
	PaneIndex   int       `json:"pane_index"`
	State       string    `json:"state"`
	CurrentTask string    `json:"current_task,omitempty"`
	Progress    string    `json:"progress"`
	LastUpdate  time.Time `json:"last_update"`
	Phase       string    `json:"phase,omitempty"`
}

// Session is a loaded session directory.
type Session struct {
	Root   string // <project>/.grotto
	Config Config
	Agents map[string]AgentState
}

// Dir returns the session root for a project directory.
func Dir(projectDir string) string {
	return filepath.Join(projectDir, DirName)
}

// Exists reports whether projectDir has a session root.
func Exists(projectDir string) bool {
	info, err := os.Stat(Dir(projectDir))
	return err == nil && info.IsDir()
}

// AgentID is the id of the agent in pane index i.
func AgentID(paneIndex int) string {
	return fmt.Sprintf("agent-%d", paneIndex+1)
}

// ReadConfig decodes config.toml from a session root.
func ReadConfig(root string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(filepath.Join(root, ConfigFile), &cfg); err != nil {
		return Config{}, fmt.Errorf("reading session config: %w", err)
	}
	return cfg, nil
}

// WriteConfig encodes cfg into config.toml under root.
func WriteConfig(root string, cfg Config) error {
	f, err := os.Create(filepath.Join(root, ConfigFile))
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// Load reads the config and every decodable agent status of a project.
// Malformed or unreadable status files are skipped.
func Load(projectDir string) (*Session, error) {
	root := Dir(projectDir)
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w at %s", ErrNoState, projectDir)
	}
	cfg, err := ReadConfig(root)
	if err != nil {
		return nil, err
	}
	return &Session{
		Root:   root,
		Config: cfg,
		Agents: LoadAgents(root),
	}, nil
}

// LoadAgents reads agents/*/status.json under root.
func LoadAgents(root string) map[string]AgentState {
	agents := make(map[string]AgentState)
	entries, err := os.ReadDir(filepath.Join(root, AgentsDir))
	if err != nil {
		return agents
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(root, AgentsDir, e.Name(), StatusFile)
		agent, err := ReadAgentStatus(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				debug.LogKV("state", "skipping agent status", "path", path, "error", err)
			}
			continue
		}
		agents[e.Name()] = agent
	}
	return agents
}

// ReadAgentStatus decodes a single status.json file.
func ReadAgentStatus(path string) (AgentState, error) {
	var a AgentState
	data, err := os.ReadFile(path)
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return a, fmt.Errorf("decoding %s: %w", path, err)
	}
	return a, nil
}

// WriteAgentStatus writes agent to agents/<id>/status.json under root.
func WriteAgentStatus(root string, agent AgentState) error {
	dir := filepath.Join(root, AgentsDir, agent.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	agent.Phase = ""
	data, err := json.MarshalIndent(agent, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, StatusFile), data, 0644)
}

// SortedAgents returns the agents ordered by pane index, then id.
func (s *Session) SortedAgents() []AgentState {
	out := make([]AgentState, 0, len(s.Agents))
	for _, a := range s.Agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PaneIndex != out[j].PaneIndex {
			return out[i].PaneIndex < out[j].PaneIndex
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Create lays out a fresh session under projectDir, overwriting any existing
// config, statuses and task board. The event log is appended to.
func Create(projectDir string, agentCount int, task, sessionID string) (*Session, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, err
	}
	root := Dir(abs)
	for _, d := range []string{root, filepath.Join(root, AgentsDir), filepath.Join(root, MessagesDir)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", d, err)
		}
	}

	cfg := Config{
		AgentCount: agentCount,
		Task:       task,
		ProjectDir: abs,
		SessionID:  strings.TrimSpace(sessionID),
	}
	if err := WriteConfig(root, cfg); err != nil {
		return nil, fmt.Errorf("writing session config: %w", err)
	}

	now := time.Now().UTC()
	agents := make(map[string]AgentState, agentCount)
	for i := 0; i < agentCount; i++ {
		a := AgentState{
			ID:         AgentID(i),
			PaneIndex:  i,
			State:      "spawning",
			Progress:   initialProgress,
			LastUpdate: now,
		}
		if err := WriteAgentStatus(root, a); err != nil {
			return nil, fmt.Errorf("writing status for %s: %w", a.ID, err)
		}
		agents[a.ID] = a
	}

	tasks := []Task{{
		ID:          MainTaskID,
		Description: task,
		Status:      TaskOpen,
		CreatedAt:   now,
	}}
	if err := WriteTaskBoard(root, tasks); err != nil {
		return nil, fmt.Errorf("writing task board: %w", err)
	}

	err = AppendEvent(root, Event{
		Timestamp: now,
		EventType: "team_spawned",
		Message:   "Team initialized",
		Data:      mustJSON(map[string]any{"agent_count": agentCount, "task": task}),
	})
	if err != nil {
		return nil, fmt.Errorf("logging spawn event: %w", err)
	}

	return &Session{Root: root, Config: cfg, Agents: agents}, nil
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}
