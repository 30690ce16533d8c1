// Package mcp exposes ContextWeave environments and memory as MCP tools so
// agents can read and update shared state while they work.
package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/valter-silva-au/context-weave/internal/core"
	"github.com/valter-silva-au/context-weave/internal/observability"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

// Services are the cw services the tools call into. Metrics and Alerts may
// be nil when the event log is unavailable.
type Services struct {
	Env          core.EnvironmentManager
	Memory       core.MemoryManager
	Orchestrator core.Orchestrator
	Metrics      observability.MetricsCalculator
	Alerts       observability.AlertEngine
}

// Server wraps cw services as MCP tools.
type Server struct {
	server *gomcp.Server
	svc    Services
}

// NewServer creates a Server and registers every tool.
func NewServer(svc Services, version string) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{svc: svc}
	s.server = gomcp.NewServer(&gomcp.Implementation{Name: "cw", Version: version}, nil)
	s.registerTools()
	return s
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying server for in-memory transports in tests.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type listSubagentsInput struct{}

type subagentOutput struct {
	Issue        int    `json:"issue"`
	Role         string `json:"role"`
	Branch       string `json:"branch"`
	Path         string `json:"path"`
	Exists       bool   `json:"exists"`
	ChangedFiles int    `json:"changed_files"`
	LastCommit   string `json:"last_commit,omitempty"`
	NoteStatus   string `json:"note_status,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type listSubagentsOutput struct {
	Subagents []subagentOutput `json:"subagents"`
	Count     int              `json:"count"`
}

type subagentStatusInput struct {
	Issue int `json:"issue" jsonschema:"required,the issue number whose environment to inspect"`
}

type memoryContextInput struct {
	Issue      int      `json:"issue,omitempty" jsonschema:"issue number used to find the latest session"`
	IssueType  string   `json:"issue_type,omitempty" jsonschema:"issue type (epic, feature, story, bug, spike, docs)"`
	Role       string   `json:"role,omitempty" jsonschema:"role the context is for (pm, ux, architect, engineer, reviewer)"`
	Categories []string `json:"categories,omitempty" jsonschema:"lesson categories to favour"`
}

type memoryContextOutput struct {
	Context string `json:"context"`
}

type addLessonInput struct {
	Category  string `json:"category" jsonschema:"required,short lesson category (e.g. testing, auth)"`
	Lesson    string `json:"lesson" jsonschema:"required,the lesson text"`
	Issue     int    `json:"issue,omitempty" jsonschema:"issue the lesson came from"`
	IssueType string `json:"issue_type,omitempty" jsonschema:"issue type the lesson applies to"`
	Role      string `json:"role,omitempty" jsonschema:"role the lesson applies to"`
	Context   string `json:"context,omitempty" jsonschema:"where the lesson was learned"`
	Outcome   string `json:"outcome,omitempty" jsonschema:"success, failure or partial. Defaults to success."`
}

type addLessonOutput struct {
	ID string `json:"id"`
}

type recordExecutionInput struct {
	Issue           int     `json:"issue" jsonschema:"required,issue number"`
	Role            string  `json:"role" jsonschema:"required,role that ran"`
	Action          string  `json:"action" jsonschema:"required,what was attempted"`
	Outcome         string  `json:"outcome" jsonschema:"required,success, failure or partial"`
	ErrorType       string  `json:"error_type,omitempty" jsonschema:"error classification for failures"`
	ErrorMessage    string  `json:"error_message,omitempty" jsonschema:"error detail for failures"`
	DurationSeconds float64 `json:"duration_seconds,omitempty" jsonschema:"how long the action took"`
	TokensUsed      int     `json:"tokens_used,omitempty" jsonschema:"tokens consumed, if known"`
}

type messageOutput struct {
	Message string `json:"message"`
}

type memoryMetricsInput struct{}

type roleMetricsOutput struct {
	Total       int     `json:"total"`
	Success     int     `json:"success"`
	Failure     int     `json:"failure"`
	SuccessRate float64 `json:"success_rate"`
}

type memoryMetricsOutput struct {
	TotalExecutions int                          `json:"total_executions"`
	SuccessCount    int                          `json:"success_count"`
	FailureCount    int                          `json:"failure_count"`
	PartialCount    int                          `json:"partial_count"`
	SuccessRate     float64                      `json:"success_rate"`
	ByRole          map[string]roleMetricsOutput `json:"by_role"`
	CommonFailures  []models.FailurePattern      `json:"common_failures"`
}

type determineWorkflowInput struct {
	IssueType string   `json:"issue_type,omitempty" jsonschema:"issue type (epic, feature, story, bug, spike, docs)"`
	Labels    []string `json:"labels,omitempty" jsonschema:"issue labels; a type:<x> label wins over issue_type"`
}

type determineWorkflowOutput struct {
	Workflow string   `json:"workflow"`
	Roles    []string `json:"roles"`
}

type eventMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window (e.g. 7d, 24h). Defaults to 7d."`
}

type eventMetricsOutput struct {
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
	OldestEvent      string         `json:"oldest_event,omitempty"`
	NewestEvent      string         `json:"newest_event,omitempty"`
}

type getAlertsInput struct{}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Issue       int    `json:"issue,omitempty"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_subagents",
		Description: "List active subagent environments with role, branch and on-disk state.",
	}, s.handleListSubagents)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "subagent_status",
		Description: "Get one subagent environment: role, branch, pending changes, last commit and handoff note.",
	}, s.handleSubagentStatus)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "memory_context",
		Description: "Render the memory section (ranked lessons, common failures, last session) for an issue and role.",
	}, s.handleMemoryContext)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "add_lesson",
		Description: "Record a lesson learned. Identical category and text merge into the existing lesson.",
	}, s.handleAddLesson)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "record_execution",
		Description: "Record the outcome of an agent action so metrics and failure patterns stay current.",
	}, s.handleRecordExecution)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "memory_metrics",
		Description: "Get execution metrics: totals, per-role success rates and the most common failures.",
	}, s.handleMemoryMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "determine_workflow",
		Description: "Pick the workflow and role sequence for an issue type and labels.",
	}, s.handleDetermineWorkflow)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "event_metrics",
		Description: "Get activity counts from the event log (spawns, handoffs, workflow runs and failures).",
	}, s.handleEventMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate alerts: stale subagents, long reviews, repeatedly failing workflows.",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

func (s *Server) handleListSubagents(ctx context.Context, _ *gomcp.CallToolRequest, _ listSubagentsInput) (*gomcp.CallToolResult, listSubagentsOutput, error) {
	statuses, err := s.svc.Env.List(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("listing subagents: %s", err)), listSubagentsOutput{}, nil
	}
	out := listSubagentsOutput{Subagents: make([]subagentOutput, len(statuses)), Count: len(statuses)}
	for i, st := range statuses {
		out.Subagents[i] = statusToOutput(st)
	}
	return nil, out, nil
}

func (s *Server) handleSubagentStatus(ctx context.Context, _ *gomcp.CallToolRequest, input subagentStatusInput) (*gomcp.CallToolResult, subagentOutput, error) {
	if input.Issue <= 0 {
		return errorResult("issue must be a positive number"), subagentOutput{}, nil
	}
	st, err := s.svc.Env.Status(ctx, input.Issue)
	if err != nil {
		return errorResult(withRemediation(fmt.Sprintf("issue #%d: %s", input.Issue, err), err)), subagentOutput{}, nil
	}
	return nil, statusToOutput(*st), nil
}

func (s *Server) handleMemoryContext(_ context.Context, _ *gomcp.CallToolRequest, input memoryContextInput) (*gomcp.CallToolResult, memoryContextOutput, error) {
	issueType := models.IssueType(input.IssueType)
	if issueType != "" && !issueType.IsValid() {
		return errorResult(fmt.Sprintf("invalid issue_type %q", input.IssueType)), memoryContextOutput{}, nil
	}
	role := models.Role(input.Role)
	if role != "" && !role.IsValid() {
		return errorResult(fmt.Sprintf("invalid role %q", input.Role)), memoryContextOutput{}, nil
	}
	text := s.svc.Memory.RenderContext(input.Issue, issueType, role, input.Categories)
	return nil, memoryContextOutput{Context: text}, nil
}

func (s *Server) handleAddLesson(_ context.Context, _ *gomcp.CallToolRequest, input addLessonInput) (*gomcp.CallToolResult, addLessonOutput, error) {
	if strings.TrimSpace(input.Category) == "" || strings.TrimSpace(input.Lesson) == "" {
		return errorResult("category and lesson are required"), addLessonOutput{}, nil
	}
	id, err := s.svc.Memory.AddLesson(models.Lesson{
		Issue:     input.Issue,
		IssueType: models.IssueType(input.IssueType),
		Role:      models.Role(input.Role),
		Category:  input.Category,
		Lesson:    input.Lesson,
		Context:   input.Context,
		Outcome:   models.Outcome(input.Outcome),
	})
	if err != nil {
		return errorResult(err.Error()), addLessonOutput{}, nil
	}
	return nil, addLessonOutput{ID: id}, nil
}

func (s *Server) handleRecordExecution(_ context.Context, _ *gomcp.CallToolRequest, input recordExecutionInput) (*gomcp.CallToolResult, messageOutput, error) {
	if input.Issue <= 0 || input.Action == "" {
		return errorResult("issue and action are required"), messageOutput{}, nil
	}
	role := models.Role(input.Role)
	if !role.IsValid() {
		return errorResult(fmt.Sprintf("invalid role %q", input.Role)), messageOutput{}, nil
	}
	outcome := models.Outcome(input.Outcome)
	if !outcome.IsValid() {
		return errorResult(fmt.Sprintf("invalid outcome %q: must be one of success, failure, partial", input.Outcome)), messageOutput{}, nil
	}

	rec := models.ExecutionRecord{
		Issue:        input.Issue,
		Role:         role,
		Action:       input.Action,
		Outcome:      outcome,
		ErrorType:    input.ErrorType,
		ErrorMessage: input.ErrorMessage,
	}
	if input.DurationSeconds > 0 {
		d := input.DurationSeconds
		rec.DurationSeconds = &d
	}
	if input.TokensUsed > 0 {
		n := input.TokensUsed
		rec.TokensUsed = &n
	}
	if err := s.svc.Memory.RecordExecution(rec); err != nil {
		return errorResult(fmt.Sprintf("recording execution: %s", err)), messageOutput{}, nil
	}
	return nil, messageOutput{Message: fmt.Sprintf("recorded %s %s for issue #%d", input.Role, input.Outcome, input.Issue)}, nil
}

func (s *Server) handleMemoryMetrics(_ context.Context, _ *gomcp.CallToolRequest, _ memoryMetricsInput) (*gomcp.CallToolResult, memoryMetricsOutput, error) {
	m := s.svc.Memory.Metrics()
	out := memoryMetricsOutput{
		TotalExecutions: m.TotalExecutions,
		SuccessCount:    m.SuccessCount,
		FailureCount:    m.FailureCount,
		PartialCount:    m.PartialCount,
		SuccessRate:     s.svc.Memory.RoleSuccessRate(""),
		ByRole:          make(map[string]roleMetricsOutput, len(m.ByRole)),
		CommonFailures:  s.svc.Memory.CommonFailures(5),
	}
	for role, rm := range m.ByRole {
		out.ByRole[string(role)] = roleMetricsOutput{
			Total:       rm.Total,
			Success:     rm.Success,
			Failure:     rm.Failure,
			SuccessRate: s.svc.Memory.RoleSuccessRate(role),
		}
	}
	if out.CommonFailures == nil {
		out.CommonFailures = []models.FailurePattern{}
	}
	return nil, out, nil
}

func (s *Server) handleDetermineWorkflow(_ context.Context, _ *gomcp.CallToolRequest, input determineWorkflowInput) (*gomcp.CallToolResult, determineWorkflowOutput, error) {
	wf := s.svc.Orchestrator.DetermineWorkflow(models.IssueType(strings.ToLower(input.IssueType)), input.Labels)
	roles := core.WorkflowRoles(wf)
	out := determineWorkflowOutput{Workflow: string(wf), Roles: make([]string, len(roles))}
	for i, r := range roles {
		out.Roles[i] = string(r)
	}
	return nil, out, nil
}

func (s *Server) handleEventMetrics(_ context.Context, _ *gomcp.CallToolRequest, input eventMetricsInput) (*gomcp.CallToolResult, eventMetricsOutput, error) {
	empty := eventMetricsOutput{StepsByRole: map[string]int{}}
	if s.svc.Metrics == nil {
		return errorResult("event log not available"), empty, nil
	}
	since := input.Since
	if since == "" {
		since = "7d"
	}
	sinceTime, err := ParseSince(since, time.Now().UTC())
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), empty, nil
	}
	m, err := s.svc.Metrics.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), empty, nil
	}

	out := eventMetricsOutput{
		EventCount:       m.EventCount,
		Spawned:          m.Spawned,
		Completed:        m.Completed,
		Recovered:        m.Recovered,
		Handoffs:         m.Handoffs,
		WorkflowRuns:     m.WorkflowRuns,
		WorkflowFailures: m.WorkflowFailures,
		StepsRun:         m.StepsRun,
		StepFailures:     m.StepFailures,
		StepsByRole:      m.StepsByRole,
		BranchesPushed:   m.BranchesPushed,
	}
	if m.OldestEvent != nil {
		out.OldestEvent = m.OldestEvent.Format(time.RFC3339)
	}
	if m.NewestEvent != nil {
		out.NewestEvent = m.NewestEvent.Format(time.RFC3339)
	}
	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, _ getAlertsInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.svc.Alerts == nil {
		return errorResult("event log not available"), getAlertsOutput{}, nil
	}
	alerts, err := s.svc.Alerts.Evaluate(time.Now().UTC())
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{}, nil
	}

	out := getAlertsOutput{Alerts: make([]alertOutput, len(alerts)), Count: len(alerts)}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Issue:       a.Issue,
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}
	return nil, out, nil
}

// --- Helpers ---

func statusToOutput(st models.WorktreeStatus) subagentOutput {
	out := subagentOutput{
		Issue:        st.Issue,
		Role:         string(st.Role),
		Branch:       st.Branch,
		Path:         st.Path,
		Exists:       st.Exists,
		ChangedFiles: st.ChangedFiles,
		CreatedAt:    st.CreatedAt.Format(time.RFC3339),
	}
	if st.LastCommit != nil {
		out.LastCommit = st.LastCommit.Format(time.RFC3339)
	}
	if st.Note != nil {
		out.NoteStatus = string(st.Note.Status)
	}
	return out
}

func withRemediation(msg string, err error) string {
	if hint := core.Remediation(err); hint != "" {
		return msg + " (try: " + hint + ")"
	}
	return msg
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// ParseSince turns "7d" or "24h" into the instant that long before now.
func ParseSince(s string, now time.Time) (time.Time, error) {
	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	var num int
	if _, err := fmt.Sscanf(s[:len(s)-1], "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d or h)", string(suffix))
	}
}
