package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agusx1211/grotto/internal/debug"
	"github.com/agusx1211/grotto/internal/state"
)

// watcher turns file changes under a session root into notifications.
type watcher struct {
	root string
	tail *EventTail
	emit func(Notification)
	fs   *fsnotify.Watcher
}

func newWatcher(root string, emit func(Notification)) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fs watcher: %w", err)
	}
	w := &watcher{
		root: root,
		tail: NewEventTail(root),
		emit: emit,
		fs:   fw,
	}
	if err := fw.Add(root); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", root, err)
	}
	w.addAgentsDir()
	return w, nil
}

// addAgentsDir watches agents/ and every agent directory under it. fsnotify
// is not recursive.
func (w *watcher) addAgentsDir() {
	agents := filepath.Join(w.root, state.AgentsDir)
	if err := w.fs.Add(agents); err != nil {
		return
	}
	entries, err := os.ReadDir(agents)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			w.addAgentDir(filepath.Join(agents, e.Name()))
		}
	}
}

func (w *watcher) addAgentDir(dir string) {
	if err := w.fs.Add(dir); err != nil {
		debug.LogKV("watcher", "watch failed", "dir", dir, "error", err)
	}
}

func (w *watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			debug.LogKV("watcher", "fs watcher error", "root", w.root, "error", err)
		}
	}
}

func (w *watcher) close() error {
	return w.fs.Close()
}

func (w *watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	if ev.Has(fsnotify.Create) && w.trackDir(ev.Name) {
		return
	}

	switch filepath.Base(ev.Name) {
	case state.EventsFile:
		for _, e := range w.tail.Next() {
			w.emit(RawEvent{Event: e})
		}
	case state.StatusFile:
		w.emitStatus(ev.Name)
	case state.TaskBoardFile:
		data, err := os.ReadFile(ev.Name)
		if err != nil {
			return
		}
		w.emit(TasksUpdated{At: time.Now(), Tasks: state.ParseTaskBoard(string(data))})
	}
}

// trackDir starts watching a newly created directory under the session
// root. It reports whether path was a directory.
func (w *watcher) trackDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	agents := filepath.Join(w.root, state.AgentsDir)
	switch {
	case path == agents:
		w.addAgentsDir()
	case filepath.Dir(path) == agents:
		w.addAgentDir(path)
		// The status file may have been written before the watch existed.
		status := filepath.Join(path, state.StatusFile)
		if _, err := os.Stat(status); err == nil {
			w.emitStatus(status)
		}
	}
	return true
}

func (w *watcher) emitStatus(path string) {
	agent, err := state.ReadAgentStatus(path)
	if err != nil {
		debug.LogKV("watcher", "skipping status", "path", path, "error", err)
		return
	}
	w.emit(AgentStatusChanged{At: time.Now(), Agent: agent})
}
