package webserver

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/agusx1211/grotto/internal/debug"
)

const wsWriteTimeout = 15 * time.Second

// handleSessionWebSocket streams a session: one snapshot, then every
// broadcast in publish order. Inbound frames are ignored.
func (srv *Server) handleSessionWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	snapshot, sub, err := srv.daemon.Subscribe(r.Context(), id)
	if err != nil {
		http.Error(w, sessionNotFound(id), http.StatusNotFound)
		return
	}
	defer sub.Close()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer ws.CloseNow()

	debug.LogKV("webserver", "ws subscriber attached", "session", id, "remote", r.RemoteAddr)

	// CloseRead drains and discards client frames; ctx ends once the
	// client goes away.
	ctx := ws.CloseRead(r.Context())

	write := func(data []byte) error {
		writeCtx, writeCancel := context.WithTimeout(ctx, wsWriteTimeout)
		defer writeCancel()
		return ws.Write(writeCtx, websocket.MessageText, data)
	}

	if err := write(snapshot); err != nil {
		debug.LogKV("webserver", "ws snapshot write failed", "session", id, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			debug.LogKV("webserver", "ws subscriber detached", "session", id, "lagged", sub.Lagged())
			return
		case msg, ok := <-sub.C:
			if !ok {
				ws.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
			if err := write(msg); err != nil {
				debug.LogKV("webserver", "ws write failed", "session", id, "error", err)
				return
			}
		}
	}
}
