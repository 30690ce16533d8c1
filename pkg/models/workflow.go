package models

// WorkflowType is the closed set of role sequences an issue can run through.
type WorkflowType string

const (
	WorkflowFullEpic    WorkflowType = "full_epic"
	WorkflowFeature     WorkflowType = "feature"
	WorkflowStory       WorkflowType = "story"
	WorkflowBugFix      WorkflowType = "bug_fix"
	WorkflowSpike       WorkflowType = "spike"
	WorkflowSingleAgent WorkflowType = "single_agent"
)

// ValidWorkflowTypes lists every workflow type.
var ValidWorkflowTypes = []WorkflowType{
	WorkflowFullEpic, WorkflowFeature, WorkflowStory,
	WorkflowBugFix, WorkflowSpike, WorkflowSingleAgent,
}

// IsValid reports whether w is a known workflow type.
func (w WorkflowType) IsValid() bool {
	for _, v := range ValidWorkflowTypes {
		if w == v {
			return true
		}
	}
	return false
}

// StepResult is the outcome of a single role's turn in a workflow.
type StepResult struct {
	Role            Role    `json:"role"`
	Output          string  `json:"output"`
	Success         bool    `json:"success"`
	Error           string  `json:"error,omitempty"`
	ErrorType       string  `json:"error_type,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// WorkflowResult is the in-memory outcome of a workflow run. It is never
// persisted; each step is recorded separately as an ExecutionRecord.
type WorkflowResult struct {
	Issue       int          `json:"issue"`
	Workflow    WorkflowType `json:"workflow"`
	Strategy    string       `json:"strategy"`
	Roles       []Role       `json:"roles"`
	Steps       []StepResult `json:"steps"`
	Success     bool         `json:"success"`
	FailedRole  Role         `json:"failed_role,omitempty"`
	Error       string       `json:"error,omitempty"`
	FinalOutput string       `json:"final_output"`
	Handoffs    []SideEffect `json:"handoffs,omitempty"`
}

// PromptAssessment scores how complete a role brief is, from 0 to 1.
// Issues make the brief invalid; warnings do not.
type PromptAssessment struct {
	Valid    bool     `json:"valid"`
	Issues   []string `json:"issues,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Score    float64  `json:"score"`
}

// PlannedStep describes one step of a dry-run preview.
type PlannedStep struct {
	Role              Role              `json:"role"`
	Action            string            `json:"action"`
	InstructionsChars int               `json:"instructions_chars"`
	HasEnvironment    bool              `json:"has_environment"`
	HasThread         bool              `json:"has_thread"`
	Prompt            *PromptAssessment `json:"prompt,omitempty"`
}

// WorkflowPlan is the dry-run preview of a workflow run.
type WorkflowPlan struct {
	Issue    int           `json:"issue"`
	Workflow WorkflowType  `json:"workflow"`
	Strategy string        `json:"strategy"`
	Steps    []PlannedStep `json:"steps"`
}

// DoDCheck is one item of a definition-of-done checklist.
type DoDCheck struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Passed      bool   `json:"passed"`
	Remediation string `json:"remediation,omitempty"`
}

// DoDReport is the evaluated checklist for a role.
type DoDReport struct {
	Issue  int        `json:"issue"`
	Role   Role       `json:"role"`
	Name   string     `json:"name"`
	Checks []DoDCheck `json:"checks"`
}

// Passed returns the number of passing checks.
func (r DoDReport) Passed() int {
	n := 0
	for _, c := range r.Checks {
		if c.Passed {
			n++
		}
	}
	return n
}

// OK reports whether every check passed.
func (r DoDReport) OK() bool {
	return r.Passed() == len(r.Checks)
}

// Failed returns the checks that did not pass.
func (r DoDReport) Failed() []DoDCheck {
	var out []DoDCheck
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// CheckStatus is the severity of a doctor check.
type CheckStatus string

const (
	CheckOK   CheckStatus = "ok"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// DoctorCheck is the result of one reconciliation check.
type DoctorCheck struct {
	Name   string      `json:"name"`
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
	Fix    string      `json:"fix,omitempty"`
	Fixed  bool        `json:"fixed,omitempty"`
}

// DoctorReport collects every doctor check.
type DoctorReport struct {
	Checks []DoctorCheck `json:"checks"`
}

// Healthy reports whether no check failed.
func (r DoctorReport) Healthy() bool {
	for _, c := range r.Checks {
		if c.Status == CheckFail {
			return false
		}
	}
	return true
}
