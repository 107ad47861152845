// Package tui renders a live view of one grotto session from the daemon's
// WebSocket stream.
package tui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/coder/websocket"

	"github.com/agusx1211/grotto/internal/debug"
	"github.com/agusx1211/grotto/internal/events"
	"github.com/agusx1211/grotto/internal/phase"
	"github.com/agusx1211/grotto/internal/session"
	"github.com/agusx1211/grotto/internal/state"
	"github.com/agusx1211/grotto/internal/theme"
)

const (
	maxEvents     = 200
	dialTimeout   = 10 * time.Second
	wsReadLimit   = 8 << 20
	minEventLines = 3
)

// Options tells the watch view where to subscribe.
type Options struct {
	SessionID  string
	URL        string // ws:// or wss:// subscription URL
	Header     http.Header
	HTTPClient *http.Client
}

// Model is the watch view.
type Model struct {
	opts    Options
	keys    WatchKeyMap
	spinner spinner.Model

	conn      *websocket.Conn
	connected bool
	err       error
	closed    string

	agents       map[string]state.AgentState
	lastActivity map[string]string
	tasks        []state.TaskInfo
	config       *session.ConfigInfo
	status       string
	active       bool

	events []string
	scroll int

	width  int
	height int
}

// New returns a disconnected model. Init dials.
func New(opts Options) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorMauve)
	return Model{
		opts:         opts,
		keys:         DefaultKeyMap(),
		spinner:      sp,
		agents:       map[string]state.AgentState{},
		lastActivity: map[string]string{},
		width:        100,
		height:       30,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tea.SetWindowTitle("grotto watch "+m.opts.SessionID),
		m.spinner.Tick,
		connect(m.opts),
	)
}

func connect(opts Options) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		conn, _, err := websocket.Dial(ctx, opts.URL, &websocket.DialOptions{
			HTTPHeader: opts.Header,
			HTTPClient: opts.HTTPClient,
		})
		if err != nil {
			return events.DisconnectedMsg{Err: fmt.Errorf("connecting to %s: %w", opts.URL, err)}
		}
		conn.SetReadLimit(wsReadLimit)
		debug.LogKV("tui", "watch connected", "session", opts.SessionID)
		return events.ConnectedMsg{Conn: conn}
	}
}

func read(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				var ce websocket.CloseError
				errors.As(err, &ce)
				return events.DisconnectedMsg{Normal: true, Reason: ce.Reason}
			}
			return events.DisconnectedMsg{Err: err}
		}
		msg, err := session.Decode(data)
		if err != nil {
			return events.DecodeErrorMsg{Err: err}
		}
		return events.WireMsg{Msg: msg}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			if m.conn != nil {
				m.conn.Close(websocket.StatusNormalClosure, "watch closed")
			}
			return m, tea.Quit
		case key.Matches(msg, m.keys.Reconnect):
			if !m.connected {
				m.err = nil
				m.closed = ""
				return m, connect(m.opts)
			}
		case key.Matches(msg, m.keys.Up):
			if m.scroll < len(m.events)-1 {
				m.scroll++
			}
		case key.Matches(msg, m.keys.Down):
			if m.scroll > 0 {
				m.scroll--
			}
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case events.ConnectedMsg:
		m.conn = msg.Conn
		m.connected = true
		m.err = nil
		return m, read(m.conn)

	case events.WireMsg:
		m.apply(msg.Msg)
		return m, read(m.conn)

	case events.DecodeErrorMsg:
		m.pushEvent(time.Now(), theme.Error.Render("undecodable message: "+msg.Err.Error()))
		return m, read(m.conn)

	case events.DisconnectedMsg:
		m.conn = nil
		m.connected = false
		if msg.Normal {
			m.closed = msg.Reason
			if m.closed == "" {
				m.closed = "closed by daemon"
			}
		} else {
			m.err = msg.Err
		}
		return m, nil
	}
	return m, nil
}

// apply folds one wire message into the view state.
func (m *Model) apply(w *session.WireMessage) {
	if w == nil {
		return
	}
	at := parseTimestamp(w.Timestamp)
	switch w.Type {
	case session.MsgSnapshot:
		m.agents = make(map[string]state.AgentState, len(w.Agents))
		for id, a := range w.Agents {
			m.agents[id] = a
		}
		m.tasks = w.Tasks
		m.config = w.Config
		m.status = w.SessionStatus
		m.active = w.SessionActive != nil && *w.SessionActive

	case session.MsgAgentStatus:
		var a state.AgentState
		if err := json.Unmarshal(w.Data, &a); err != nil || a.ID == "" {
			return
		}
		if prev, ok := m.agents[a.ID]; ok && a.Phase == "" {
			a.Phase = prev.Phase
		}
		m.agents[a.ID] = a
		m.pushEvent(at, w.Message)

	case session.MsgTaskUpdated:
		m.tasks = w.Tasks

	case session.MsgAgentPhase:
		var d struct {
			Phase        string `json:"phase"`
			LastActivity string `json:"last_activity"`
		}
		if err := json.Unmarshal(w.Data, &d); err != nil {
			return
		}
		a := m.agents[w.AgentID]
		if a.ID == "" {
			a.ID = w.AgentID
		}
		a.Phase = d.Phase
		m.agents[w.AgentID] = a
		m.lastActivity[w.AgentID] = d.LastActivity

	case session.MsgEventRaw:
		line := w.Message
		if w.AgentID != "" {
			line = lipgloss.NewStyle().Foreground(theme.ColorBlue).Render(w.AgentID) + " " + line
		}
		m.pushEvent(at, line)

	case session.MsgSessionCompleted:
		m.active = false
		m.status = session.StatusCompleted
		m.pushEvent(at, lipgloss.NewStyle().Foreground(theme.ColorGreen).Render(w.Message))
	}
}

func (m *Model) pushEvent(at time.Time, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	m.events = append(m.events, theme.Dim.Render(at.Local().Format("15:04:05"))+" "+line)
	if len(m.events) > maxEvents {
		m.events = m.events[len(m.events)-maxEvents:]
	}
	if m.scroll > 0 {
		m.scroll++
	}
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Now()
	}
	return t
}

func (m Model) sortedAgents() []state.AgentState {
	out := make([]state.AgentState, 0, len(m.agents))
	for _, a := range m.agents {
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

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n\n")

	if m.config != nil && m.config.Task != "" {
		b.WriteString(theme.Dim.Render("task ") + theme.Text.Render(ansi.Truncate(m.config.Task, m.width-6, "…")))
		b.WriteString("\n\n")
	}

	used := strings.Count(b.String(), "\n")
	agents := m.renderAgents()
	tasks := m.renderTasks()
	used += strings.Count(agents, "\n") + strings.Count(tasks, "\n") + 4

	b.WriteString(agents)
	b.WriteString("\n")
	b.WriteString(tasks)
	b.WriteString("\n")
	b.WriteString(m.renderEvents(m.height - used))
	b.WriteString("\n")
	b.WriteString(m.footer())
	return b.String()
}

func (m Model) header() string {
	title := theme.Title.Render("grotto watch") + " " + theme.Header.Render(m.opts.SessionID)
	var status string
	switch {
	case m.err != nil:
		status = theme.Error.Render("disconnected")
	case m.closed != "":
		status = theme.Dim.Render(m.closed)
	case !m.connected:
		status = m.spinner.View() + theme.Dim.Render(" connecting")
	case m.active:
		status = m.spinner.View() + " " + theme.SessionStatus(m.status)
	default:
		status = theme.SessionStatus(m.status)
	}
	return title + "  " + status
}

func (m Model) renderAgents() string {
	var b strings.Builder
	b.WriteString(theme.Header.Render("Agents"))
	b.WriteString("\n")
	agents := m.sortedAgents()
	if len(agents) == 0 {
		b.WriteString(theme.Dim.Render("  no agents yet"))
		b.WriteString("\n")
		return b.String()
	}
	for _, a := range agents {
		p, err := phase.Parse(a.Phase)
		if err != nil {
			p = phase.Starting
		}
		line := fmt.Sprintf("  %-9s %s %-12s %s",
			a.ID,
			lipgloss.NewStyle().Width(10).Render(theme.PhaseBadge(p)),
			a.State,
			a.Progress,
		)
		b.WriteString(ansi.Truncate(line, m.width, "…"))
		b.WriteString("\n")
		if act := strings.TrimSpace(m.lastActivity[a.ID]); act != "" {
			b.WriteString(ansi.Truncate(theme.Dim.Render("            "+act), m.width, "…"))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) renderTasks() string {
	var b strings.Builder
	b.WriteString(theme.Header.Render("Tasks"))
	b.WriteString("\n")
	if len(m.tasks) == 0 {
		b.WriteString(theme.Dim.Render("  task board is empty"))
		b.WriteString("\n")
		return b.String()
	}
	for _, t := range m.tasks {
		style := lipgloss.NewStyle().Foreground(theme.TaskColor(t.Status))
		line := fmt.Sprintf("  %s %s %s", t.Status.Emoji(), style.Render(t.ID), t.Description)
		if t.ClaimedBy != "" {
			line += theme.Dim.Render(" (" + t.ClaimedBy + ")")
		}
		b.WriteString(ansi.Truncate(line, m.width, "…"))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderEvents(lines int) string {
	if lines < minEventLines {
		lines = minEventLines
	}
	var b strings.Builder
	b.WriteString(theme.Header.Render("Events"))
	b.WriteString("\n")
	if len(m.events) == 0 {
		b.WriteString(theme.Dim.Render("  waiting for events"))
		b.WriteString("\n")
		return b.String()
	}
	end := len(m.events) - m.scroll
	start := max(0, end-lines)
	for _, e := range m.events[start:end] {
		b.WriteString("  ")
		b.WriteString(ansi.Truncate(e, m.width-2, "…"))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) footer() string {
	var parts []string
	if m.err != nil {
		parts = append(parts, theme.Error.Render(m.err.Error()))
	}
	help := []key.Binding{m.keys.Quit, m.keys.Up, m.keys.Down}
	if !m.connected {
		help = append(help, m.keys.Reconnect)
	}
	var keys []string
	for _, k := range help {
		keys = append(keys, theme.Text.Render(k.Help().Key)+" "+theme.Dim.Render(k.Help().Desc))
	}
	parts = append(parts, strings.Join(keys, theme.Dim.Render(" · ")))
	return strings.Join(parts, "\n")
}

// Run starts the watch view and blocks until the user quits.
func Run(opts Options) error {
	p := tea.NewProgram(New(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
