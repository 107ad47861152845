package webserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/creack/pty"

	"github.com/agusx1211/grotto/internal/debug"
	"github.com/agusx1211/grotto/internal/pane"
)

const (
	terminalDefaultRows   = 24
	terminalDefaultCols   = 80
	terminalReadBufferLen = 4096
)

type terminalWSMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
	Code int    `json:"code,omitempty"`
}

// handleAttachWebSocket mirrors a session's tmux client read-only. Only
// resize frames from the browser are honoured.
func (srv *Server) handleAttachWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, ok := srv.daemon.Lookup(id)
	if !ok {
		http.Error(w, sessionNotFound(id), http.StatusNotFound)
		return
	}
	attacher, ok := srv.daemon.Backend().(pane.Attacher)
	if !ok {
		http.Error(w, "attach not supported by pane backend", http.StatusNotImplemented)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer ws.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := attacher.AttachCommand(ctx, entry.ID)
	cmd.Dir = entry.Dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithAttrs(cmd, &pty.Winsize{Rows: terminalDefaultRows, Cols: terminalDefaultCols}, &syscall.SysProcAttr{})
	if err != nil {
		debug.LogKV("webserver", "attach start failed", "session", id, "error", err)
		data, _ := json.Marshal(terminalWSMessage{Type: "exit", Code: 1})
		_ = ws.Write(ctx, websocket.MessageText, data)
		ws.Close(websocket.StatusInternalError, "pty start failed")
		return
	}
	debug.LogKV("webserver", "attach started", "session", id, "pid", cmd.Process.Pid)

	var (
		writeMu     sync.Mutex
		cleanupOnce sync.Once
	)

	send := func(msg terminalWSMessage) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		writeCtx, writeCancel := context.WithTimeout(ctx, wsWriteTimeout)
		defer writeCancel()
		return ws.Write(writeCtx, websocket.MessageText, data)
	}

	// The child leads its own session, so its pid is also its group id.
	cleanup := func() {
		cleanupOnce.Do(func() {
			_ = ptmx.Close()
			if cmd.Process != nil && cmd.Process.Pid > 0 {
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
		})
	}
	defer cleanup()

	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		buf := make([]byte, terminalReadBufferLen)
		for {
			n, readErr := ptmx.Read(buf)
			if n > 0 {
				out := terminalWSMessage{
					Type: "output",
					Data: base64.StdEncoding.EncodeToString(buf[:n]),
				}
				if err := send(out); err != nil {
					cleanup()
					return
				}
			}
			if readErr != nil {
				return
			}
		}
	}()

	go func() {
		err := cmd.Wait()
		// Flush what the pty still holds before reporting the exit.
		select {
		case <-outputDone:
		case <-time.After(2 * time.Second):
		}
		_ = send(terminalWSMessage{Type: "exit", Code: exitCode(err)})
		cleanup()
		ws.Close(websocket.StatusNormalClosure, "process exited")
	}()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}

		var msg terminalWSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "resize" || msg.Cols <= 0 || msg.Rows <= 0 {
			continue
		}
		_ = pty.Setsize(ptmx, &pty.Winsize{
			Rows: clampToUint16(msg.Rows),
			Cols: clampToUint16(msg.Cols),
		})
	}
}

func clampToUint16(value int) uint16 {
	if value < 1 {
		return 1
	}
	if value > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(value)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return 1
}
