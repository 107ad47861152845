package pane

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
)

// ErrNoPane is returned by Fake for targets it has no content for.
var ErrNoPane = errors.New("no such pane")

// Fake is an in-memory Backend for tests and dry runs.
type Fake struct {
	// AttachArgv, when set, is the command AttachCommand runs. The session
	// name is appended as the last argument.
	AttachArgv []string

	mu       sync.Mutex
	panes    map[string]string
	captures int
}

// NewFake returns an empty fake; every capture fails until Set is called.
func NewFake() *Fake {
	return &Fake{panes: make(map[string]string)}
}

// Set makes target return content.
func (f *Fake) Set(target, content string) {
	f.mu.Lock()
	f.panes[target] = content
	f.mu.Unlock()
}

// Remove makes target fail again.
func (f *Fake) Remove(target string) {
	f.mu.Lock()
	delete(f.panes, target)
	f.mu.Unlock()
}

// Clear removes every pane, like a killed session.
func (f *Fake) Clear() {
	f.mu.Lock()
	f.panes = make(map[string]string)
	f.mu.Unlock()
}

// Captures returns how many CapturePane calls were made.
func (f *Fake) Captures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captures
}

func (f *Fake) CapturePane(_ context.Context, target string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	content, ok := f.panes[target]
	if !ok {
		return "", ErrNoPane
	}
	return content, nil
}

func (f *Fake) HasSession(_ context.Context, session string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for target := range f.panes {
		if strings.HasPrefix(target, session+":") {
			return true, nil
		}
	}
	return false, nil
}

// AttachCommand runs AttachArgv, or `true` when it is unset.
func (f *Fake) AttachCommand(ctx context.Context, session string) *exec.Cmd {
	if len(f.AttachArgv) == 0 {
		return exec.CommandContext(ctx, "true")
	}
	args := append(append([]string(nil), f.AttachArgv[1:]...), session)
	return exec.CommandContext(ctx, f.AttachArgv[0], args...)
}
