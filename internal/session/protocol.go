package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/agusx1211/grotto/internal/phase"
	"github.com/agusx1211/grotto/internal/state"
)

// Wire message types sent to subscribers.
const (
	MsgSnapshot         = "snapshot"          // Full session state, sent first
	MsgEventRaw         = "event:raw"         // One new line of events.jsonl
	MsgAgentStatus      = "agent:status"      // An agent rewrote its status.json
	MsgTaskUpdated      = "task:updated"      // tasks.md changed
	MsgAgentPhase       = "agent:phase"       // Inferred phase changed
	MsgSessionCompleted = "session:completed" // Terminal session is gone
)

// Session status strings carried by snapshots and completion messages.
const (
	StatusLive      = "live"
	StatusCompleted = "completed"
	StatusNotFound  = "not_found"
)

// WireMessage is the JSON envelope every subscriber receives. Absent fields
// are omitted, never null.
type WireMessage struct {
	Type          string                      `json:"type"`
	Timestamp     string                      `json:"timestamp"`
	AgentID       string                      `json:"agent_id,omitempty"`
	TaskID        string                      `json:"task_id,omitempty"`
	Message       string                      `json:"message,omitempty"`
	Data          json.RawMessage             `json:"data,omitempty"`
	Agents        map[string]state.AgentState `json:"agents,omitzero"`
	Tasks         []state.TaskInfo            `json:"tasks,omitzero"`
	Config        *ConfigInfo                 `json:"config,omitempty"`
	SessionActive *bool                       `json:"session_active,omitempty"`
	SessionStatus string                      `json:"session_status,omitempty"`
}

// ConfigInfo is the config summary inside a snapshot.
type ConfigInfo struct {
	AgentCount int    `json:"agent_count"`
	Task       string `json:"task"`
	ProjectDir string `json:"project_dir"`
}

// Notification is one of the change kinds a supervisor emits.
type Notification interface {
	wire() (WireMessage, error)
}

// Snapshot is the full state of a session at one instant.
type Snapshot struct {
	At      time.Time
	Message string
	Agents  map[string]state.AgentState
	Tasks   []state.TaskInfo
	Config  *ConfigInfo
	Active  bool
	Status  string
}

// RawEvent relays one event log line.
type RawEvent struct {
	Event state.Event
}

// AgentStatusChanged carries a re-read status.json.
type AgentStatusChanged struct {
	At    time.Time
	Agent state.AgentState
}

// TasksUpdated carries the re-parsed task board.
type TasksUpdated struct {
	At    time.Time
	Tasks []state.TaskInfo
}

// PhaseChanged reports a new inferred phase for an agent.
type PhaseChanged struct {
	At           time.Time
	AgentID      string
	Phase        phase.Phase
	LastActivity string
}

// SessionCompleted reports that the session's terminal panes are all gone.
type SessionCompleted struct {
	At        time.Time
	SessionID string
}

// Encode renders n as a JSON wire message.
func Encode(n Notification) ([]byte, error) {
	msg, err := n.wire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// Decode parses a wire message.
func Decode(data []byte) (*WireMessage, error) {
	var msg WireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolPtr(b bool) *bool { return &b }

func (s Snapshot) wire() (WireMessage, error) {
	agents := s.Agents
	if agents == nil {
		agents = map[string]state.AgentState{}
	}
	tasks := s.Tasks
	if tasks == nil {
		tasks = []state.TaskInfo{}
	}
	return WireMessage{
		Type:          MsgSnapshot,
		Timestamp:     timestamp(s.At),
		Message:       s.Message,
		Agents:        agents,
		Tasks:         tasks,
		Config:        s.Config,
		SessionActive: boolPtr(s.Active),
		SessionStatus: s.Status,
	}, nil
}

func (e RawEvent) wire() (WireMessage, error) {
	data := e.Event.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return WireMessage{
		Type:      MsgEventRaw,
		Timestamp: timestamp(e.Event.Timestamp),
		AgentID:   e.Event.AgentID,
		TaskID:    e.Event.TaskID,
		Message:   e.Event.Message,
		Data:      data,
	}, nil
}

func (a AgentStatusChanged) wire() (WireMessage, error) {
	data, err := json.Marshal(a.Agent)
	if err != nil {
		return WireMessage{}, fmt.Errorf("encoding agent status: %w", err)
	}
	return WireMessage{
		Type:      MsgAgentStatus,
		Timestamp: timestamp(a.At),
		AgentID:   a.Agent.ID,
		TaskID:    a.Agent.CurrentTask,
		Message:   fmt.Sprintf("Agent %s is now %s", a.Agent.ID, a.Agent.State),
		Data:      data,
	}, nil
}

func (t TasksUpdated) wire() (WireMessage, error) {
	tasks := t.Tasks
	if tasks == nil {
		tasks = []state.TaskInfo{}
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return WireMessage{}, fmt.Errorf("encoding tasks: %w", err)
	}
	return WireMessage{
		Type:      MsgTaskUpdated,
		Timestamp: timestamp(t.At),
		Message:   "Task board updated",
		Data:      data,
		Tasks:     tasks,
	}, nil
}

func (p PhaseChanged) wire() (WireMessage, error) {
	data, err := json.Marshal(map[string]string{
		"phase":         p.Phase.String(),
		"last_activity": p.LastActivity,
	})
	if err != nil {
		return WireMessage{}, err
	}
	return WireMessage{
		Type:      MsgAgentPhase,
		Timestamp: timestamp(p.At),
		AgentID:   p.AgentID,
		Message:   fmt.Sprintf("Agent %s phase: %s", p.AgentID, p.Phase),
		Data:      data,
	}, nil
}

func (c SessionCompleted) wire() (WireMessage, error) {
	at := timestamp(c.At)
	data, err := json.Marshal(map[string]string{
		"reason":       "tmux_session_ended",
		"completed_at": at,
		"session_id":   c.SessionID,
	})
	if err != nil {
		return WireMessage{}, err
	}
	return WireMessage{
		Type:          MsgSessionCompleted,
		Timestamp:     at,
		Message:       "Session completed (tmux session ended)",
		Data:          data,
		SessionActive: boolPtr(false),
		SessionStatus: StatusCompleted,
	}, nil
}

// typeOf names the wire type of n without encoding it.
func typeOf(n Notification) string {
	switch n.(type) {
	case Snapshot:
		return MsgSnapshot
	case RawEvent:
		return MsgEventRaw
	case AgentStatusChanged:
		return MsgAgentStatus
	case TasksUpdated:
		return MsgTaskUpdated
	case PhaseChanged:
		return MsgAgentPhase
	case SessionCompleted:
		return MsgSessionCompleted
	default:
		return "unknown"
	}
}
