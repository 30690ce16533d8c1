package observability

import (
	"fmt"
	"sort"
	"time"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert is a triggered condition about one issue or the repository.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Issue       int           `json:"issue,omitempty"`
	Role        string        `json:"role,omitempty"`
	Message     string        `json:"message"`
	Remediation string        `json:"remediation,omitempty"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when alerts fire.
type AlertThresholds struct {
	StaleDays           int `yaml:"stale_threshold_days" json:"stale_threshold_days"`
	ReviewDays          int `yaml:"review_threshold_days" json:"review_threshold_days"`
	ConsecutiveFailures int `yaml:"consecutive_failures" json:"consecutive_failures"`
	MaxActive           int `yaml:"max_active" json:"max_active"`
}

// DefaultAlertThresholds returns the thresholds used by cw events --alerts.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		StaleDays:           3,
		ReviewDays:          5,
		ConsecutiveFailures: 3,
		MaxActive:           10,
	}
}

// AlertEngine evaluates alert conditions against the event log.
type AlertEngine interface {
	Evaluate(now time.Time) ([]Alert, error)
}

type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
}

// NewAlertEngine creates an AlertEngine.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{eventLog: eventLog, thresholds: thresholds}
}

// issueActivity is the per-issue view replayed from the log.
type issueActivity struct {
	active       bool
	role         string
	roleSince    time.Time
	lastActivity time.Time
	failStreak   int
}

// Evaluate replays the log and returns alerts sorted by ID.
func (ae *alertEngine) Evaluate(now time.Time) ([]Alert, error) {
	events, err := ae.eventLog.Read(EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("reading events for alerts: %w", err)
	}
	issues := replay(events)

	var alerts []Alert
	active := 0
	for issue, a := range issues {
		if a.failStreak >= ae.thresholds.ConsecutiveFailures && ae.thresholds.ConsecutiveFailures > 0 {
			alerts = append(alerts, Alert{
				ID:          fmt.Sprintf("failing-%d", issue),
				Condition:   "workflow_failing",
				Severity:    SeverityHigh,
				Issue:       issue,
				Role:        a.role,
				Message:     fmt.Sprintf("issue #%d failed its last %d workflow runs", issue, a.failStreak),
				Remediation: fmt.Sprintf("cw run %d --dry-run", issue),
				TriggeredAt: now,
			})
		}
		if !a.active {
			continue
		}
		active++
		staleAfter := time.Duration(ae.thresholds.StaleDays) * 24 * time.Hour
		if now.Sub(a.lastActivity) > staleAfter {
			alerts = append(alerts, Alert{
				ID:          fmt.Sprintf("stale-%d", issue),
				Condition:   "subagent_stale",
				Severity:    SeverityMedium,
				Issue:       issue,
				Role:        a.role,
				Message:     fmt.Sprintf("issue #%d has had no activity for more than %d days", issue, ae.thresholds.StaleDays),
				Remediation: fmt.Sprintf("cw subagent status %d", issue),
				TriggeredAt: now,
			})
		}
		reviewAfter := time.Duration(ae.thresholds.ReviewDays) * 24 * time.Hour
		if a.role == "reviewer" && now.Sub(a.roleSince) > reviewAfter {
			alerts = append(alerts, Alert{
				ID:          fmt.Sprintf("review-%d", issue),
				Condition:   "review_too_long",
				Severity:    SeverityMedium,
				Issue:       issue,
				Role:        a.role,
				Message:     fmt.Sprintf("issue #%d has been in review for more than %d days", issue, ae.thresholds.ReviewDays),
				Remediation: fmt.Sprintf("cw subagent complete %d --pr", issue),
				TriggeredAt: now,
			})
		}
	}

	if ae.thresholds.MaxActive > 0 && active > ae.thresholds.MaxActive {
		alerts = append(alerts, Alert{
			ID:          "active-count",
			Condition:   "too_many_active",
			Severity:    SeverityLow,
			Message:     fmt.Sprintf("%d subagents are active, exceeding the maximum of %d", active, ae.thresholds.MaxActive),
			Remediation: "cw subagent list",
			TriggeredAt: now,
		})
	}

	sort.Slice(alerts, func(i, j int) bool { return alerts[i].ID < alerts[j].ID })
	return alerts, nil
}

func replay(events []Event) map[int]*issueActivity {
	issues := make(map[int]*issueActivity)
	get := func(n int) *issueActivity {
		a, ok := issues[n]
		if !ok {
			a = &issueActivity{}
			issues[n] = a
		}
		return a
	}
	for _, event := range events {
		n := eventIssue(event)
		if n == 0 {
			continue
		}
		a := get(n)
		if event.Time.After(a.lastActivity) {
			a.lastActivity = event.Time
		}
		switch event.Type {
		case "subagent.spawned":
			a.active = true
			a.role, _ = event.Data["role"].(string)
			a.roleSince = event.Time
		case "subagent.handoff":
			a.role, _ = event.Data["to"].(string)
			a.roleSince = event.Time
		case "subagent.completed":
			a.active = false
		case "workflow.completed":
			if ok, _ := event.Data["success"].(bool); ok {
				a.failStreak = 0
			} else {
				a.failStreak++
			}
		}
	}
	return issues
}
