// Package events defines the bubbletea messages the watch TUI exchanges with
// its WebSocket reader.
package events

import (
	"github.com/coder/websocket"

	"github.com/agusx1211/grotto/internal/session"
)

// ConnectedMsg signals that the subscription socket is open.
type ConnectedMsg struct {
	Conn *websocket.Conn
}

// WireMsg carries one decoded message from the daemon.
type WireMsg struct {
	Msg *session.WireMessage
}

// DecodeErrorMsg reports a frame that was not a wire message. The stream
// keeps going.
type DecodeErrorMsg struct {
	Err error
}

// DisconnectedMsg signals that the socket is gone. Normal is set when the
// daemon closed it on purpose (the session was unregistered).
type DisconnectedMsg struct {
	Err    error
	Normal bool
	Reason string
}
