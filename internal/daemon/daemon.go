// Package daemon keeps one session supervisor running for every session in
// the registry and answers the queries the HTTP surface needs.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agusx1211/grotto/internal/debug"
	"github.com/agusx1211/grotto/internal/metrics"
	"github.com/agusx1211/grotto/internal/pane"
	"github.com/agusx1211/grotto/internal/registry"
	"github.com/agusx1211/grotto/internal/session"
	"github.com/agusx1211/grotto/internal/state"
)

var (
	// ErrSessionNotFound is returned for ids the daemon does not track.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoSessionState is returned when a directory has no .grotto/.
	ErrNoSessionState = errors.New("no .grotto directory found at specified path")
	// ErrClosed is returned by Register after Close.
	ErrClosed = errors.New("daemon closed")
)

// Options configures a Daemon.
type Options struct {
	Store        *registry.Store
	Backend      pane.Backend
	PollInterval time.Duration
	// Context bounds every supervisor. Defaults to context.Background().
	Context context.Context
}

// SessionSummary is one row of List.
type SessionSummary struct {
	ID          string     `json:"id"`
	Dir         string     `json:"dir"`
	AgentCount  int        `json:"agent_count"`
	Task        string     `json:"task"`
	Status      string     `json:"status"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

type tracked struct {
	entry registry.Entry
	sup   *session.Supervisor
}

// Daemon is the set of running supervisors, kept in step with the registry
// file.
type Daemon struct {
	store    *registry.Store
	backend  pane.Backend
	interval time.Duration
	ctx      context.Context

	// opMu serializes every change to the tracked set (Sync, Register,
	// Unregister, Close) with the registry writes that go with it. A
	// supervisor being torn down is never restarted from the file.
	opMu   sync.Mutex
	closed bool

	mu       sync.RWMutex
	sessions map[string]*tracked
}

// New returns a daemon with no supervisors. Call Restore to start the
// registered sessions.
func New(opts Options) *Daemon {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return &Daemon{
		store:    opts.Store,
		backend:  opts.Backend,
		interval: opts.PollInterval,
		ctx:      ctx,
		sessions: make(map[string]*tracked),
	}
}

// Backend is the pane backend supervisors capture with.
func (d *Daemon) Backend() pane.Backend { return d.backend }

// Restore starts a supervisor for every registered session whose directory
// still has session state. Stale entries are skipped.
func (d *Daemon) Restore() {
	reg := d.Sync()
	debug.LogKV("daemon", "restored sessions", "registered", len(reg.Sessions), "running", d.Count())
}

// Sync starts supervisors for registry entries that are not yet tracked.
// Entries whose directory is gone are skipped but left in the file. It
// returns the registry it read.
func (d *Daemon) Sync() *registry.Registry {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	return d.syncLocked()
}

// syncLocked is Sync for callers holding opMu.
func (d *Daemon) syncLocked() *registry.Registry {
	reg := d.store.Load()
	if d.closed {
		return reg
	}
	for _, e := range reg.Entries() {
		d.mu.RLock()
		_, ok := d.sessions[e.ID]
		d.mu.RUnlock()
		if ok || !state.Exists(e.Dir) {
			continue
		}
		d.track(&tracked{entry: e, sup: d.start(e)})
		debug.LogKV("daemon", "tracking session from registry", "id", e.ID, "dir", e.Dir)
	}
	return reg
}

// track inserts t. Any supervisor already tracked under the same id is
// stopped so none is left running unreachable. Callers hold opMu.
func (d *Daemon) track(t *tracked) {
	d.mu.Lock()
	prev := d.sessions[t.entry.ID]
	d.sessions[t.entry.ID] = t
	metrics.SetSupervisors(len(d.sessions))
	d.mu.Unlock()
	if prev != nil && prev.sup != t.sup {
		prev.sup.Stop()
	}
}

// untrack removes id from the tracked set. Callers hold opMu.
func (d *Daemon) untrack(id string) (*tracked, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.sessions[id]
	if ok {
		delete(d.sessions, id)
	}
	metrics.SetSupervisors(len(d.sessions))
	return t, ok
}

func (d *Daemon) start(e registry.Entry) *session.Supervisor {
	return session.Start(d.ctx, session.Options{
		ID:           e.ID,
		Dir:          e.Dir,
		AgentCount:   e.AgentCount,
		Backend:      d.backend,
		PollInterval: d.interval,
	})
}

// Register starts supervising the session in dir under id and persists it.
// An existing supervisor with the same id is stopped first.
func (d *Daemon) Register(id, dir string) (registry.Entry, error) {
	id = strings.TrimSpace(id)
	dir = strings.TrimSpace(dir)
	if id == "" || dir == "" {
		return registry.Entry{}, fmt.Errorf("id and dir are required")
	}
	if !state.Exists(dir) {
		return registry.Entry{}, ErrNoSessionState
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}

	entry := registry.Entry{ID: id, Dir: dir}
	if cfg, err := state.ReadConfig(state.Dir(dir)); err == nil {
		entry.AgentCount = cfg.AgentCount
		entry.Task = cfg.Task
	} else {
		debug.LogKV("daemon", "registering without config", "id", id, "error", err)
	}

	d.opMu.Lock()
	defer d.opMu.Unlock()
	if d.closed {
		return registry.Entry{}, ErrClosed
	}

	if old, ok := d.untrack(id); ok {
		debug.LogKV("daemon", "replacing supervisor", "id", id, "old_dir", old.entry.Dir)
		old.sup.Stop()
	}
	d.track(&tracked{entry: entry, sup: d.start(entry)})

	if err := d.store.Update(func(r *registry.Registry) { r.Register(entry) }); err != nil {
		return entry, fmt.Errorf("saving registry: %w", err)
	}
	debug.LogKV("daemon", "registered session", "id", id, "dir", dir, "agents", entry.AgentCount)
	return entry, nil
}

// Unregister stops and forgets id. The registry entry is removed before
// the lock is released, so no reconcile can bring the session back.
func (d *Daemon) Unregister(id string) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	t, ok := d.untrack(id)
	if !ok {
		return ErrSessionNotFound
	}

	t.sup.Stop()
	if err := d.store.Update(func(r *registry.Registry) { r.Unregister(id) }); err != nil {
		return fmt.Errorf("saving registry: %w", err)
	}
	debug.LogKV("daemon", "unregistered session", "id", id)
	return nil
}

// List summarizes every registered session, most recently active first.
func (d *Daemon) List(ctx context.Context) []SessionSummary {
	reg := d.Sync()
	out := make([]SessionSummary, 0, len(reg.Sessions))
	for _, e := range reg.Entries() {
		s := SessionSummary{
			ID:         e.ID,
			Dir:        e.Dir,
			AgentCount: e.AgentCount,
			Task:       e.Task,
			Status:     session.StatusCompleted,
		}
		if e.AgentCount > 0 {
			s.Status = session.Liveness(ctx, d.backend, e.ID, e.AgentCount)
		}
		if ts, ok := state.LastEventTimestamp(state.Dir(e.Dir)); ok {
			s.LastUpdated = &ts
		}
		out = append(out, s)
	}
	sortSummaries(out)
	return out
}

func sortSummaries(s []SessionSummary) {
	sort.SliceStable(s, func(i, j int) bool {
		a, b := s[i].LastUpdated, s[j].LastUpdated
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return s[i].ID < s[j].ID
	})
}

// Events returns every parseable line of the session's event log.
func (d *Daemon) Events(id string) ([]json.RawMessage, error) {
	reg := d.Sync()
	e, ok := reg.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return state.ReadRawEvents(state.Dir(e.Dir)), nil
}

// Lookup returns the registry entry for a tracked session.
func (d *Daemon) Lookup(id string) (registry.Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.sessions[id]
	if !ok {
		return registry.Entry{}, false
	}
	return t.entry, true
}

// Snapshot builds the current snapshot of a registered session.
func (d *Daemon) Snapshot(ctx context.Context, id string) (session.Snapshot, error) {
	reg := d.Sync()
	e, ok := reg.Get(id)
	if !ok {
		return session.Snapshot{}, ErrSessionNotFound
	}
	return session.BuildSnapshot(ctx, e.Dir, d.backend, e.ID), nil
}

// Subscribe attaches to a session's notifications. The snapshot is built
// after the subscription exists so nothing published in between is lost.
func (d *Daemon) Subscribe(ctx context.Context, id string) ([]byte, *session.Subscription, error) {
	d.opMu.Lock()
	reg := d.syncLocked()
	if _, ok := reg.Get(id); !ok {
		d.opMu.Unlock()
		return nil, nil, ErrSessionNotFound
	}
	d.mu.RLock()
	t, ok := d.sessions[id]
	d.mu.RUnlock()
	if !ok {
		d.opMu.Unlock()
		return nil, nil, ErrSessionNotFound
	}
	sub := t.sup.Subscribe()
	d.opMu.Unlock()

	snap, err := session.Encode(t.sup.Snapshot(ctx))
	if err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return snap, sub, nil
}

// Count returns the number of running supervisors.
func (d *Daemon) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

// Close stops every supervisor. The registry file is left untouched and
// later calls no longer start supervisors.
func (d *Daemon) Close() {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	d.closed = true

	d.mu.Lock()
	all := d.sessions
	d.sessions = make(map[string]*tracked)
	metrics.SetSupervisors(0)
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range all {
		wg.Add(1)
		go func(s *session.Supervisor) {
			defer wg.Done()
			s.Stop()
		}(t.sup)
	}
	wg.Wait()
}
