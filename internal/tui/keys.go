package tui

import "github.com/charmbracelet/bubbles/key"

// WatchKeyMap defines the key bindings of the watch view.
type WatchKeyMap struct {
	Quit      key.Binding
	Reconnect key.Binding
	Up        key.Binding
	Down      key.Binding
}

// DefaultKeyMap returns the default key map.
func DefaultKeyMap() WatchKeyMap {
	return WatchKeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Reconnect: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "reconnect"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("k/up", "older events"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("j/down", "newer events"),
		),
	}
}
