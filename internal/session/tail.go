package session

import (
	"sync"

	"github.com/agusx1211/grotto/internal/state"
)

// EventTail remembers how many lines of events.jsonl have been delivered.
type EventTail struct {
	mu     sync.Mutex
	root   string
	cursor int
}

// NewEventTail starts a tail at the current end of the log under root, so
// only lines appended afterwards are reported.
func NewEventTail(root string) *EventTail {
	return &EventTail{root: root, cursor: state.CountLines(root)}
}

// Cursor is the number of lines already consumed.
func (t *EventTail) Cursor() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor
}

// Next returns the events appended since the last call and advances the
// cursor. Blank and unparseable lines advance the cursor without producing
// an event. If the log shrank, it is read again from the start.
func (t *EventTail) Next() []state.Event {
	lines, err := state.ReadEventLines(t.root)
	if err != nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(lines) < t.cursor {
		t.cursor = 0
	}
	fresh := lines[t.cursor:]
	t.cursor = len(lines)

	events := make([]state.Event, 0, len(fresh))
	for _, line := range fresh {
		if e, ok := state.ParseEvent(line); ok {
			events = append(events, e)
		}
	}
	return events
}
