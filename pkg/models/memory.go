package models

import "time"

// Outcome is the result of an execution or the outcome attached to a lesson.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// IsValid reports whether o is a known outcome.
func (o Outcome) IsValid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure || o == OutcomePartial
}

// Lesson is a piece of guidance learned from a past execution.
type Lesson struct {
	ID            string    `json:"id"`
	Issue         int       `json:"issue"`
	IssueType     IssueType `json:"issue_type"`
	Role          Role      `json:"role"`
	Category      string    `json:"category"`
	Lesson        string    `json:"lesson"`
	Context       string    `json:"context"`
	Outcome       Outcome   `json:"outcome"`
	AppliedCount  int       `json:"applied_count"`
	Effectiveness float64   `json:"effectiveness"`
	CreatedAt     time.Time `json:"created_at"`
}

// ExecutionRecord captures the outcome of one agent action.
type ExecutionRecord struct {
	Issue           int       `json:"issue"`
	Role            Role      `json:"role"`
	Action          string    `json:"action"`
	Outcome         Outcome   `json:"outcome"`
	ErrorType       string    `json:"error_type,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	DurationSeconds *float64  `json:"duration_seconds,omitempty"`
	TokensUsed      *int      `json:"tokens_used,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// RoleMetrics aggregates outcomes for a single role.
type RoleMetrics struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// Metrics aggregates outcomes across every recorded execution.
type Metrics struct {
	TotalExecutions int                  `json:"total_executions"`
	SuccessCount    int                  `json:"success_count"`
	FailureCount    int                  `json:"failure_count"`
	PartialCount    int                  `json:"partial_count"`
	ByRole          map[Role]RoleMetrics `json:"by_role"`
}

// Session is a continuity note left at the end of a working session.
type Session struct {
	Issue         int       `json:"issue"`
	SessionID     string    `json:"session_id"`
	Summary       string    `json:"summary"`
	Progress      string    `json:"progress"`
	Blockers      []string  `json:"blockers"`
	NextSteps     []string  `json:"next_steps"`
	FilesModified []string  `json:"files_modified"`
	Timestamp     time.Time `json:"timestamp"`
}

// Memory is the document persisted to .context-weave/memory.json.
type Memory struct {
	Version    string               `json:"version"`
	Lessons    []Lesson             `json:"lessons"`
	Executions []ExecutionRecord    `json:"executions"`
	Sessions   map[string][]Session `json:"sessions"`
	Metrics    Metrics              `json:"metrics"`
}

// NewMemory returns an empty memory document.
func NewMemory() *Memory {
	return &Memory{
		Version:    "1.0",
		Lessons:    []Lesson{},
		Executions: []ExecutionRecord{},
		Sessions:   map[string][]Session{},
		Metrics:    Metrics{ByRole: map[Role]RoleMetrics{}},
	}
}

// FailurePattern groups failures sharing an error classification.
type FailurePattern struct {
	ErrorType string `json:"error_type"`
	Count     int    `json:"count"`
	Example   string `json:"example"`
}
