package core

// EventLogger is the subset of the observability event log that core
// services need. Defining it here avoids importing the observability package.
type EventLogger interface {
	LogEvent(eventType string, data map[string]any) error
}

// Event types written to .context-weave/events.jsonl.
const (
	EventSubagentSpawned   = "subagent.spawned"
	EventSubagentCompleted = "subagent.completed"
	EventSubagentRecovered = "subagent.recovered"
	EventSubagentHandoff   = "subagent.handoff"
	EventWorkflowStep      = "workflow.step"
	EventWorkflowCompleted = "workflow.completed"
	EventSyncPull          = "sync.pull"
	EventSyncPush          = "sync.push"
)

// logEvent writes an event when a logger is configured. Event log failures
// never fail the operation being recorded.
func logEvent(events EventLogger, eventType string, data map[string]any) {
	if events == nil {
		return
	}
	_ = events.LogEvent(eventType, data)
}
