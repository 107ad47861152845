// Package session supervises one coordination session. File changes and
// pane captures become notifications that are fanned out to subscribers.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/agusx1211/grotto/internal/debug"
	"github.com/agusx1211/grotto/internal/metrics"
	"github.com/agusx1211/grotto/internal/pane"
	"github.com/agusx1211/grotto/internal/state"
)

// Options configures a Supervisor.
type Options struct {
	// ID is the registry id. It is also the terminal session name polled.
	ID         string
	Dir        string // project directory holding .grotto/
	AgentCount int
	Backend    pane.Backend
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
}

// Supervisor owns the watcher and poller of one session.
type Supervisor struct {
	opts   Options
	b      *broadcaster
	w      *watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Start launches the watcher and poller and returns without waiting for
// either. A session root that cannot be watched still gets a poller.
func Start(ctx context.Context, opts Options) *Supervisor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Supervisor{
		opts:   opts,
		b:      newBroadcaster(),
		cancel: cancel,
	}

	w, err := newWatcher(state.Dir(opts.Dir), s.Publish)
	if err != nil {
		debug.LogKV("session", "file watcher unavailable", "id", opts.ID, "error", err)
	} else {
		s.w = w
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w.run(ctx)
		}()
	}

	p := &poller{
		backend:    opts.Backend,
		session:    opts.ID,
		agentCount: opts.AgentCount,
		interval:   opts.PollInterval,
		emit:       s.Publish,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		p.run(ctx)
	}()

	debug.LogKV("session", "supervisor started", "id", opts.ID, "dir", opts.Dir, "agents", opts.AgentCount)
	return s
}

// ID is the session's registry id.
func (s *Supervisor) ID() string { return s.opts.ID }

// Dir is the session's project directory.
func (s *Supervisor) Dir() string { return s.opts.Dir }

// AgentCount is the number of panes polled.
func (s *Supervisor) AgentCount() int { return s.opts.AgentCount }

// Subscribe registers a new subscriber. Messages published after this call
// returns are delivered to it.
func (s *Supervisor) Subscribe() *Subscription {
	return s.b.subscribe()
}

// Subscribers returns the current subscriber count.
func (s *Supervisor) Subscribers() int {
	return s.b.count()
}

// Publish encodes n and delivers it to every subscriber.
func (s *Supervisor) Publish(n Notification) {
	msg, err := Encode(n)
	if err != nil {
		debug.LogKV("session", "dropping unencodable notification", "id", s.opts.ID, "error", err)
		return
	}
	t := typeOf(n)
	metrics.RecordBroadcast(t)
	if _, ok := n.(SessionCompleted); ok {
		metrics.RecordCompletion()
	}
	s.b.publish(msg)
}

// Snapshot assembles the session's current full state.
func (s *Supervisor) Snapshot(ctx context.Context) Snapshot {
	return BuildSnapshot(ctx, s.opts.Dir, s.opts.Backend, s.opts.ID)
}

// Stop cancels both tasks and waits for them to exit, then closes every
// subscription. Safe to call more than once.
func (s *Supervisor) Stop() {
	s.once.Do(func() {
		s.cancel()
		if s.w != nil {
			if err := s.w.close(); err != nil {
				debug.LogKV("session", "closing watcher", "id", s.opts.ID, "error", err)
			}
		}
		s.wg.Wait()
		s.b.close()
		debug.LogKV("session", "supervisor stopped", "id", s.opts.ID)
	})
}
