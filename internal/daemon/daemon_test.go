package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agusx1211/grotto/internal/pane"
	"github.com/agusx1211/grotto/internal/registry"
	"github.com/agusx1211/grotto/internal/session"
	"github.com/agusx1211/grotto/internal/state"
)

type fixture struct {
	d     *Daemon
	store *registry.Store
	fake  *pane.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := registry.NewStore(filepath.Join(t.TempDir(), "sessions.json"))
	fake := pane.NewFake()
	d := New(Options{Store: store, Backend: fake, PollInterval: 10 * time.Millisecond})
	t.Cleanup(d.Close)
	return &fixture{d: d, store: store, fake: fake}
}

func newProject(t *testing.T, agents int, task string) string {
	t.Helper()
	dir := t.TempDir()
	if _, err := state.Create(dir, agents, task, ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return dir
}

func TestRegisterPersistsAndTracks(t *testing.T) {
	f := newFixture(t)
	dir := newProject(t, 2, "build api")

	entry, err := f.d.Register("amber-fox-reef", dir)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if entry.AgentCount != 2 || entry.Task != "build api" {
		t.Fatalf("entry = %+v", entry)
	}
	if f.d.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", f.d.Count())
	}
	got, ok := f.store.Load().Get("amber-fox-reef")
	if !ok || got.AgentCount != 2 || got.Task != "build api" {
		t.Fatalf("registry entry = %+v, %v", got, ok)
	}
}

func TestRegisterWithoutState(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.Register("x", t.TempDir())
	if !errors.Is(err, ErrNoSessionState) {
		t.Fatalf("Register() error = %v, want ErrNoSessionState", err)
	}
	if f.d.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", f.d.Count())
	}
}

func TestRegisterWithUnreadableConfig(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	if err := os.MkdirAll(state.Dir(dir), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	entry, err := f.d.Register("bare", dir)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if entry.AgentCount != 0 || entry.Task != "" {
		t.Fatalf("entry = %+v, want zero count and empty task", entry)
	}
}

func TestRegisterReplacesExisting(t *testing.T) {
	f := newFixture(t)
	first := newProject(t, 1, "first")
	second := newProject(t, 3, "second")

	if _, err := f.d.Register("same", first); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, sub, err := f.d.Subscribe(context.Background(), "same")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if _, err := f.d.Register("same", second); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// The old supervisor was stopped, which closes its subscriptions.
	select {
	case <-drain(sub):
	case <-time.After(5 * time.Second):
		t.Fatal("old subscription not closed")
	}

	e, _ := f.d.Lookup("same")
	if e.AgentCount != 3 || e.Task != "second" {
		t.Fatalf("Lookup() = %+v", e)
	}
	if f.d.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", f.d.Count())
	}
}

// drain returns a channel closed once sub.C is closed.
func drain(sub *session.Subscription) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for range sub.C {
		}
		close(done)
	}()
	return done
}

func TestUnregister(t *testing.T) {
	f := newFixture(t)
	dir := newProject(t, 1, "x")
	if _, err := f.d.Register("gone", dir); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := f.d.Unregister("gone"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, ok := f.store.Load().Get("gone"); ok {
		t.Fatal("entry still in registry")
	}
	if err := f.d.Unregister("gone"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second Unregister() = %v, want ErrSessionNotFound", err)
	}
	if _, _, err := f.d.Subscribe(context.Background(), "gone"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Subscribe() after unregister = %v, want ErrSessionNotFound", err)
	}
}

func TestSyncPicksUpExternalEntries(t *testing.T) {
	f := newFixture(t)
	live := newProject(t, 1, "live")
	err := f.store.Update(func(r *registry.Registry) {
		r.Register(registry.Entry{ID: "ext", Dir: live, AgentCount: 1, Task: "live"})
		r.Register(registry.Entry{ID: "stale", Dir: filepath.Join(t.TempDir(), "missing"), AgentCount: 1})
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	f.d.Restore()
	if f.d.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", f.d.Count())
	}
	if _, ok := f.d.Lookup("ext"); !ok {
		t.Fatal("external entry not tracked")
	}
	if _, ok := f.d.Lookup("stale"); ok {
		t.Fatal("stale entry tracked")
	}
	if _, ok := f.store.Load().Get("stale"); !ok {
		t.Fatal("Sync removed the stale entry from the registry")
	}
}

func TestListSortsAndReportsStatus(t *testing.T) {
	f := newFixture(t)
	older := newProject(t, 1, "older")
	newer := newProject(t, 1, "newer")
	empty := newProject(t, 0, "empty")

	for id, dir := range map[string]string{"older": older, "newer": newer, "empty": empty} {
		if _, err := f.d.Register(id, dir); err != nil {
			t.Fatalf("Register(%s): %v", id, err)
		}
	}
	// Push "older" back in time and "empty" out of the timestamp ordering.
	writeEvents(t, older, `{"timestamp":"2020-01-01T00:00:00Z","event_type":"x","data":{}}`)
	writeEvents(t, empty, "")
	f.fake.Set("newer:0.0", "claude>")

	list := f.d.List(context.Background())
	if len(list) != 3 {
		t.Fatalf("List() = %d entries, want 3", len(list))
	}
	order := []string{list[0].ID, list[1].ID, list[2].ID}
	want := []string{"newer", "older", "empty"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if list[0].Status != session.StatusLive {
		t.Errorf("newer status = %s, want live", list[0].Status)
	}
	if list[1].Status != session.StatusCompleted {
		t.Errorf("older status = %s, want completed", list[1].Status)
	}
	if list[2].Status != session.StatusCompleted || list[2].LastUpdated != nil {
		t.Errorf("empty = %+v", list[2])
	}
}

func writeEvents(t *testing.T, dir, body string) {
	t.Helper()
	if body != "" {
		body += "\n"
	}
	if err := os.WriteFile(filepath.Join(state.Dir(dir), state.EventsFile), []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestEvents(t *testing.T) {
	f := newFixture(t)
	dir := newProject(t, 1, "x")
	if _, err := f.d.Register("ev", dir); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := state.AppendEvent(state.Dir(dir), state.Event{EventType: "note"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	events, err := f.d.Events("ev")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if _, err := f.d.Events("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Events(nope) = %v", err)
	}
}

func TestSubscribeSnapshotFirst(t *testing.T) {
	f := newFixture(t)
	dir := newProject(t, 3, "x")
	for i := 0; i < 3; i++ {
		f.fake.Set(pane.Target("snap", i), "claude>")
	}
	if _, err := f.d.Register("snap", dir); err != nil {
		t.Fatalf("Register: %v", err)
	}

	snap, sub, err := f.d.Subscribe(context.Background(), "snap")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	msg, err := session.Decode(snap)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != session.MsgSnapshot || len(msg.Agents) != 3 {
		t.Fatalf("snapshot = %+v", msg)
	}
	if msg.SessionStatus != session.StatusLive {
		t.Fatalf("status = %s, want live", msg.SessionStatus)
	}
}

func TestSubscribeRequiresRegistryEntry(t *testing.T) {
	f := newFixture(t)
	dir := newProject(t, 1, "x")
	if _, err := f.d.Register("ghost", dir); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// Removing the entry behind the daemon's back makes the id invalid.
	if err := f.store.Replace(registry.New()); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if _, _, err := f.d.Subscribe(context.Background(), "ghost"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Subscribe() = %v, want ErrSessionNotFound", err)
	}
}

func TestCloseStopsEverything(t *testing.T) {
	f := newFixture(t)
	dir := newProject(t, 1, "x")
	if _, err := f.d.Register("c", dir); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, sub, err := f.d.Subscribe(context.Background(), "c")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	f.d.Close()
	select {
	case <-drain(sub):
	case <-time.After(5 * time.Second):
		t.Fatal("subscription not closed by Close")
	}
	if f.d.Count() != 0 {
		t.Fatalf("Count() = %d", f.d.Count())
	}
	if _, ok := f.store.Load().Get("c"); !ok {
		t.Fatal("Close removed registry entry")
	}
}

// slowBackend makes every capture take delay, so Stop blocks while the
// poller finishes its cycle.
type slowBackend struct {
	*pane.Fake
	delay time.Duration
}

func (b slowBackend) CapturePane(ctx context.Context, target string, lines int) (string, error) {
	time.Sleep(b.delay)
	return b.Fake.CapturePane(ctx, target, lines)
}

func newSlowFixture(t *testing.T, delay time.Duration) *fixture {
	t.Helper()
	store := registry.NewStore(filepath.Join(t.TempDir(), "sessions.json"))
	fake := pane.NewFake()
	d := New(Options{Store: store, Backend: slowBackend{Fake: fake, delay: delay}, PollInterval: 10 * time.Millisecond})
	t.Cleanup(d.Close)
	return &fixture{d: d, store: store, fake: fake}
}

// reconcileLoop runs Sync, List and Subscribe until the returned func is
// called.
func reconcileLoop(t *testing.T, d *Daemon, id string) func() {
	t.Helper()
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(kind int) {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				switch kind {
				case 0:
					d.Sync()
				case 1:
					d.List(context.Background())
				case 2:
					if _, sub, err := d.Subscribe(context.Background(), id); err == nil {
						sub.Close()
					}
				}
			}
		}(i)
	}
	return func() {
		close(done)
		wg.Wait()
	}
}

func TestUnregisterDuringReconcile(t *testing.T) {
	f := newSlowFixture(t, 100*time.Millisecond)
	dir := newProject(t, 1, "x")
	f.fake.Set(pane.Target("s1", 0), "claude>")
	if _, err := f.d.Register("s1", dir); err != nil {
		t.Fatalf("Register: %v", err)
	}

	stop := reconcileLoop(t, f.d, "s1")
	time.Sleep(20 * time.Millisecond)
	if err := f.d.Unregister("s1"); err != nil {
		stop()
		t.Fatalf("Unregister: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	stop()

	if n := f.d.Count(); n != 0 {
		t.Fatalf("Count() after Unregister = %d, want 0", n)
	}
	if _, ok := f.store.Load().Get("s1"); ok {
		t.Fatal("s1 still in registry file after Unregister")
	}
	f.d.Sync()
	if n := f.d.Count(); n != 0 {
		t.Fatalf("Count() after Sync = %d, want 0", n)
	}
	if _, _, err := f.d.Subscribe(context.Background(), "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Subscribe() = %v, want ErrSessionNotFound", err)
	}
}

func TestReplaceDuringReconcileLeavesNoOrphans(t *testing.T) {
	f := newSlowFixture(t, 20*time.Millisecond)
	first := newProject(t, 1, "first")
	second := newProject(t, 1, "second")
	f.fake.Set(pane.Target("s1", 0), "claude>")

	stop := reconcileLoop(t, f.d, "s1")
	for i := 0; i < 4; i++ {
		dir := first
		if i%2 == 1 {
			dir = second
		}
		if _, err := f.d.Register("s1", dir); err != nil {
			stop()
			t.Fatalf("Register: %v", err)
		}
	}
	stop()

	if n := f.d.Count(); n != 1 {
		t.Fatalf("Count() = %d, want 1", n)
	}
	if e, _ := f.d.Lookup("s1"); e.Task != "second" {
		t.Fatalf("Lookup() = %+v, want the last registration", e)
	}

	f.d.Close()
	before := f.fake.Captures()
	time.Sleep(150 * time.Millisecond)
	if after := f.fake.Captures(); after != before {
		t.Fatalf("captures after Close: before=%d after=%d, a supervisor is still polling", before, after)
	}
}

func TestCloseStopsReconcile(t *testing.T) {
	f := newFixture(t)
	dir := newProject(t, 1, "x")
	if err := f.store.Update(func(r *registry.Registry) {
		r.Register(registry.Entry{ID: "late", Dir: dir, AgentCount: 1})
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	f.d.Close()
	f.d.Sync()
	if n := f.d.Count(); n != 0 {
		t.Fatalf("Count() after Close+Sync = %d, want 0", n)
	}
	if _, err := f.d.Register("late", dir); !errors.Is(err, ErrClosed) {
		t.Fatalf("Register() after Close = %v, want ErrClosed", err)
	}
}

func TestUnregisterKeepsOtherEntries(t *testing.T) {
	f := newFixture(t)
	dir := newProject(t, 1, "x")
	if _, err := f.d.Register("keep", dir); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := f.d.Register("drop", dir); err != nil {
		t.Fatalf("Register: %v", err)
	}
	stale := registry.Entry{ID: "stale", Dir: filepath.Join(t.TempDir(), "missing")}
	if err := f.store.Update(func(r *registry.Registry) { r.Register(stale) }); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := f.d.Unregister("drop"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	reg := f.store.Load()
	if _, ok := reg.Get("keep"); !ok {
		t.Fatal("keep removed from registry")
	}
	if _, ok := reg.Get("stale"); !ok {
		t.Fatal("stale entry removed from registry")
	}
	if _, ok := reg.Get("drop"); ok {
		t.Fatal("drop still in registry")
	}
}

func TestStatusUsesRegistryID(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	if _, err := state.Create(dir, 1, "x", "cfg-name"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.d.Register("reg-name", dir); err != nil {
		t.Fatalf("Register: %v", err)
	}

	check := func(want string) {
		t.Helper()
		list := f.d.List(context.Background())
		if len(list) != 1 || list[0].Status != want {
			t.Fatalf("List() = %+v, want status %s", list, want)
		}
		snap, sub, err := f.d.Subscribe(context.Background(), "reg-name")
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		sub.Close()
		msg, err := session.Decode(snap)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if msg.SessionStatus != want {
			t.Fatalf("snapshot status = %s, list status = %s", msg.SessionStatus, want)
		}
	}

	// Only the config.toml name has a pane: neither view treats it as live.
	f.fake.Set(pane.Target("cfg-name", 0), "claude>")
	check(session.StatusCompleted)

	f.fake.Set(pane.Target("reg-name", 0), "claude>")
	check(session.StatusLive)
}
