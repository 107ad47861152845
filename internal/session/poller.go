package session

import (
	"context"
	"time"

	"github.com/agusx1211/grotto/internal/debug"
	"github.com/agusx1211/grotto/internal/pane"
	"github.com/agusx1211/grotto/internal/phase"
)

// DefaultPollInterval is how often panes are captured.
const DefaultPollInterval = 750 * time.Millisecond

// completionPolls is how many consecutive all-gone polls must be exceeded
// before a session is declared completed.
const completionPolls = 5

// poller captures a session's panes on an interval and reports phase
// changes and session completion.
type poller struct {
	backend    pane.Backend
	session    string
	agentCount int
	interval   time.Duration
	emit       func(Notification)

	prev map[string]phase.Phase
	gone int
}

func (p *poller) run(ctx context.Context) {
	p.prev = make(map[string]phase.Phase)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if done := p.poll(ctx); done {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll runs one capture cycle. It reports true once the session is
// completed and polling should stop.
func (p *poller) poll(ctx context.Context) bool {
	snaps := pane.CaptureAll(ctx, p.backend, p.session, p.agentCount)
	if ctx.Err() != nil {
		return true
	}
	if len(snaps) == 0 {
		return false
	}

	if pane.AllFinishedEmpty(snaps) {
		p.gone++
		if p.gone > completionPolls {
			debug.LogKV("poller", "session completed", "session", p.session)
			p.emit(SessionCompleted{At: time.Now(), SessionID: p.session})
			return true
		}
	} else {
		p.gone = 0
	}

	for _, s := range snaps {
		if prev, ok := p.prev[s.AgentID]; ok && prev == s.Phase {
			continue
		}
		p.prev[s.AgentID] = s.Phase
		debug.LogKV("poller", "phase changed", "session", p.session, "agent", s.AgentID, "phase", s.Phase)
		p.emit(PhaseChanged{
			At:           s.Timestamp,
			AgentID:      s.AgentID,
			Phase:        s.Phase,
			LastActivity: s.LastActivityLine,
		})
	}
	return false
}
