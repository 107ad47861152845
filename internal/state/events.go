package state

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Event is one line of events.jsonl.
type Event struct {
	Timestamp time.Time       `json:"timestamp"`
	EventType string          `json:"event_type"`
	AgentID   string          `json:"agent_id,omitempty"`
	TaskID    string          `json:"task_id,omitempty"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// AppendEvent appends e to events.jsonl under root.
func AppendEvent(root string, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if len(e.Data) == 0 {
		e.Data = json.RawMessage("{}")
	}
	f, err := os.OpenFile(filepath.Join(root, EventsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// ReadEventLines returns every line of events.jsonl under root, blank lines
// included, so indexes match the tail cursor.
func ReadEventLines(root string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(root, EventsFile))
	if err != nil {
		return nil, err
	}
	return splitLines(data), nil
}

// ReadEvents decodes every parseable event under root. A missing log is an
// empty list.
func ReadEvents(root string) []Event {
	lines, err := ReadEventLines(root)
	if err != nil {
		return []Event{}
	}
	events := make([]Event, 0, len(lines))
	for _, line := range lines {
		if e, ok := ParseEvent(line); ok {
			events = append(events, e)
		}
	}
	return events
}

// ReadRawEvents returns every line that is valid JSON, undecoded.
func ReadRawEvents(root string) []json.RawMessage {
	lines, err := ReadEventLines(root)
	if err != nil {
		return []json.RawMessage{}
	}
	out := make([]json.RawMessage, 0, len(lines))
	for _, line := range lines {
		b := bytes.TrimSpace([]byte(line))
		if len(b) == 0 || !json.Valid(b) {
			continue
		}
		out = append(out, json.RawMessage(b))
	}
	return out
}

// ParseEvent decodes a single log line.
func ParseEvent(line string) (Event, bool) {
	b := bytes.TrimSpace([]byte(line))
	if len(b) == 0 {
		return Event{}, false
	}
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, false
	}
	return e, true
}

// CountLines returns the number of lines in events.jsonl under root, or 0.
func CountLines(root string) int {
	lines, err := ReadEventLines(root)
	if err != nil {
		return 0
	}
	return len(lines)
}

// LastEventTimestamp returns the timestamp of the last non-blank line in the
// log, if it decodes.
func LastEventTimestamp(root string) (time.Time, bool) {
	lines, err := ReadEventLines(root)
	if err != nil {
		return time.Time{}, false
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if len(bytes.TrimSpace([]byte(lines[i]))) == 0 {
			continue
		}
		e, ok := ParseEvent(lines[i])
		if !ok || e.Timestamp.IsZero() {
			return time.Time{}, false
		}
		return e.Timestamp, true
	}
	return time.Time{}, false
}

// splitLines splits like a line reader: a trailing newline does not start a
// new line.
func splitLines(data []byte) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}
