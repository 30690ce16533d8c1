package observability

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName is the event log's name inside the .context-weave directory.
const FileName = "events.jsonl"

// Event is one line of the event log.
type Event struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"` // INFO, WARN
	Type    string         `json:"type"`  // e.g. "subagent.spawned", "workflow.completed"
	Message string         `json:"msg"`
	Data    map[string]any `json:"data,omitempty"`
}

// EventFilter selects events on read. Zero fields match everything.
type EventFilter struct {
	Since *time.Time
	Until *time.Time
	Type  string
	Level string
	Issue int
}

// EventLog writes and reads events.
type EventLog interface {
	Write(event Event) error
	Read(filter EventFilter) ([]Event, error)
	LogEvent(eventType string, data map[string]any) error
	Close() error
}

type jsonlEventLog struct {
	path string
	file *os.File
	now  func() time.Time
	mu   sync.Mutex
}

// NewJSONLEventLog opens (creating if needed) the JSONL log at path.
func NewJSONLEventLog(path string) (EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating event log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &jsonlEventLog{
		path: path,
		file: f,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Write appends event as one JSON line.
func (l *jsonlEventLog) Write(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

// LogEvent stamps and writes an event on behalf of a core service.
func (l *jsonlEventLog) LogEvent(eventType string, data map[string]any) error {
	return l.Write(Event{
		Time:    l.now(),
		Level:   levelFor(eventType, data),
		Type:    eventType,
		Message: messageFor(eventType, data),
		Data:    data,
	})
}

// Read scans the whole log and returns the events matching filter.
// Malformed lines are skipped.
func (l *jsonlEventLog) Read(filter EventFilter) ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening event log for reading: %w", err)
	}
	defer func() { _ = f.Close() }()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		if matchesEventFilter(event, filter) {
			events = append(events, event)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning event log: %w", err)
	}

	return events, nil
}

func (l *jsonlEventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("closing event log: %w", err)
	}
	return nil
}

func matchesEventFilter(event Event, filter EventFilter) bool {
	if filter.Since != nil && event.Time.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && event.Time.After(*filter.Until) {
		return false
	}
	if filter.Type != "" && event.Type != filter.Type {
		return false
	}
	if filter.Level != "" && event.Level != filter.Level {
		return false
	}
	if filter.Issue != 0 && eventIssue(event) != filter.Issue {
		return false
	}
	return true
}

// eventIssue returns the issue number carried in the event data, or 0.
// JSON decoding turns numbers into float64.
func eventIssue(event Event) int {
	return intValue(event.Data["issue"])
}

func levelFor(eventType string, data map[string]any) string {
	if ok, present := data["success"].(bool); present && !ok {
		return "WARN"
	}
	if eventType == "sync.push" {
		if intValue(data["failed"]) > 0 {
			return "WARN"
		}
	}
	return "INFO"
}

func messageFor(eventType string, data map[string]any) string {
	issue := eventIssue(Event{Data: data})
	switch eventType {
	case "subagent.spawned":
		return fmt.Sprintf("issue #%d spawned as %v", issue, data["role"])
	case "subagent.completed":
		return fmt.Sprintf("issue #%d completed", issue)
	case "subagent.recovered":
		return fmt.Sprintf("issue #%d worktree recovered", issue)
	case "subagent.handoff":
		return fmt.Sprintf("issue #%d handed off %v -> %v", issue, data["from"], data["to"])
	case "workflow.step":
		return fmt.Sprintf("issue #%d step %v", issue, data["role"])
	case "workflow.completed":
		return fmt.Sprintf("issue #%d workflow %v finished", issue, data["workflow"])
	case "sync.pull":
		return fmt.Sprintf("pulled %v issues", data["issues"])
	case "sync.push":
		return fmt.Sprintf("pushed %v branches", data["pushed"])
	}
	return eventType
}
