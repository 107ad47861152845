package pane

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/sync/singleflight"

	"github.com/agusx1211/grotto/internal/debug"
)

// ErrCaptureTimeout is returned when tmux does not answer in time.
var ErrCaptureTimeout = errors.New("tmux capture timed out")

const defaultTimeout = 3 * time.Second

// Tmux is the tmux-backed Backend. Concurrent captures of the same target
// share one subprocess.
type Tmux struct {
	Bin     string
	Timeout time.Duration

	sf singleflight.Group
}

// NewTmux returns a backend that runs the tmux binary from PATH.
func NewTmux() *Tmux {
	return &Tmux{Bin: "tmux", Timeout: defaultTimeout}
}

func (t *Tmux) bin() string {
	if t.Bin == "" {
		return "tmux"
	}
	return t.Bin
}

func (t *Tmux) timeout() time.Duration {
	if t.Timeout <= 0 {
		return defaultTimeout
	}
	return t.Timeout
}

// CapturePane runs `tmux capture-pane -t target -p -S -lines`. The shared
// subprocess is bounded only by the backend timeout, so one caller
// cancelling does not fail the others waiting on the same capture.
func (t *Tmux) CapturePane(ctx context.Context, target string, lines int) (string, error) {
	key := target + "/" + strconv.Itoa(lines)
	ch := t.sf.DoChan(key, func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout())
		defer cancel()
		cmd := exec.CommandContext(cctx, t.bin(), "capture-pane", "-t", target, "-p", "-S", "-"+strconv.Itoa(lines))
		out, err := cmd.Output()
		if err != nil {
			if errors.Is(cctx.Err(), context.DeadlineExceeded) {
				return "", ErrCaptureTimeout
			}
			return "", fmt.Errorf("capturing pane %s: %w", target, err)
		}
		return ansi.Strip(string(out)), nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			debug.LogKV("pane", "capture failed", "target", target, "shared", res.Shared, "error", res.Err)
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// HasSession runs `tmux has-session -t session`.
func (t *Tmux) HasSession(ctx context.Context, session string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, t.timeout())
	defer cancel()
	err := exec.CommandContext(cctx, t.bin(), "has-session", "-t", session).Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, fmt.Errorf("checking tmux session %s: %w", session, err)
}

// AttachCommand builds a read-only `tmux attach-session` for session.
func (t *Tmux) AttachCommand(ctx context.Context, session string) *exec.Cmd {
	return exec.CommandContext(ctx, t.bin(), "attach-session", "-r", "-t", session)
}
