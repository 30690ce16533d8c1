package observability

import (
	"fmt"
	"time"
)

// Metrics is the activity summary derived from the event log.
type Metrics struct {
	EventCount       int            `json:"event_count"`
	Spawned          int            `json:"spawned"`
	Completed        int            `json:"completed"`
	Recovered        int            `json:"recovered"`
	Handoffs         int            `json:"handoffs"`
	WorkflowRuns     int            `json:"workflow_runs"`
	WorkflowFailures int            `json:"workflow_failures"`
	StepsRun         int            `json:"steps_run"`
	StepFailures     int            `json:"step_failures"`
	StepsByRole      map[string]int `json:"steps_by_role"`
	BranchesPushed   int            `json:"branches_pushed"`
	OldestEvent      *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent      *time.Time     `json:"newest_event,omitempty"`
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a MetricsCalculator reading from eventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate aggregates every event at or after since.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{StepsByRole: make(map[string]int)}
	m.EventCount = len(events)

	for i, event := range events {
		if i == 0 {
			t := event.Time
			m.OldestEvent = &t
		}
		t := event.Time
		m.NewestEvent = &t

		success, _ := event.Data["success"].(bool)
		switch event.Type {
		case "subagent.spawned":
			m.Spawned++
		case "subagent.completed":
			m.Completed++
		case "subagent.recovered":
			m.Recovered++
		case "subagent.handoff":
			m.Handoffs++
		case "workflow.step":
			m.StepsRun++
			if role, ok := event.Data["role"].(string); ok {
				m.StepsByRole[role]++
			}
			if !success {
				m.StepFailures++
			}
		case "workflow.completed":
			m.WorkflowRuns++
			if !success {
				m.WorkflowFailures++
			}
		case "sync.push":
			m.BranchesPushed += intValue(event.Data["pushed"])
		}
	}

	return m, nil
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}
