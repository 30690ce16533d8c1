package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/valter-silva-au/context-weave/internal/core"
	"github.com/valter-silva-au/context-weave/internal/observability"
	"github.com/valter-silva-au/context-weave/internal/storage"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

// --- Fake implementations ---

type fakeEnv struct {
	core.EnvironmentManager
	statuses []models.WorktreeStatus
}

func (f *fakeEnv) List(context.Context) ([]models.WorktreeStatus, error) {
	return f.statuses, nil
}

func (f *fakeEnv) Status(_ context.Context, issue int) (*models.WorktreeStatus, error) {
	for _, st := range f.statuses {
		if st.Issue == issue {
			return &st, nil
		}
	}
	return nil, &core.SetupError{Op: "status", Msg: "no environment", Remediation: "cw subagent spawn 99 --role engineer", Err: core.ErrNoEnvironment}
}

type fakeMetricsCalculator struct {
	metrics *observability.Metrics
	since   time.Time
}

func (f *fakeMetricsCalculator) Calculate(since time.Time) (*observability.Metrics, error) {
	f.since = since
	return f.metrics, nil
}

type fakeAlertEngine struct {
	alerts []observability.Alert
}

func (f *fakeAlertEngine) Evaluate(time.Time) ([]observability.Alert, error) {
	return f.alerts, nil
}

// --- Test helpers ---

func sampleStatuses() []models.WorktreeStatus {
	last := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	return []models.WorktreeStatus{
		{
			Worktree: models.Worktree{
				Issue: 42, Branch: "issue-42-add-auth", Path: "/repo/.context-weave/worktrees/42",
				Role: models.RoleEngineer, CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
			},
			Exists:       true,
			LastCommit:   &last,
			ChangedFiles: 2,
			Note:         &models.HandoffNote{Issue: 42, Status: models.NoteInProgress},
		},
		{
			Worktree: models.Worktree{Issue: 43, Branch: "issue-43-docs", Path: "/repo/.context-weave/worktrees/43", Role: models.RolePM},
		},
	}
}

type testServer struct {
	srv    *Server
	memory core.MemoryManager
}

func newTestServer(t *testing.T, svc Services) *testServer {
	t.Helper()
	root := t.TempDir()
	state := storage.NewStateStore(root, nil)
	state.Load()
	store := storage.NewMemoryStore(root, nil)
	store.Load()
	memory := core.NewMemoryManager(store, models.MemoryConfig{}, nil)

	if svc.Env == nil {
		svc.Env = &fakeEnv{statuses: sampleStatuses()}
	}
	if svc.Memory == nil {
		svc.Memory = memory
	}
	if svc.Orchestrator == nil {
		svc.Orchestrator = core.NewOrchestrator(core.Deps{RepoRoot: root, State: state, Memory: memory}, nil, nil)
	}
	return &testServer{srv: NewServer(svc, "test"), memory: memory}
}

// callTool connects an in-memory client to the server and calls a tool.
func callTool(t *testing.T, srv *Server, toolName string, args map[string]any) *gomcp.CallToolResult {
	t.Helper()
	result, err := call(t, srv, toolName, args)
	if err != nil {
		t.Fatalf("call tool %s: %v", toolName, err)
	}
	return result
}

// callToolAllowError returns nil when the SDK rejects the call, e.g. on
// schema validation.
func callToolAllowError(t *testing.T, srv *Server, toolName string, args map[string]any) *gomcp.CallToolResult {
	t.Helper()
	result, err := call(t, srv, toolName, args)
	if err != nil {
		return nil
	}
	return result
}

func call(t *testing.T, srv *Server, toolName string, args map[string]any) (*gomcp.CallToolResult, error) {
	t.Helper()
	ctx := context.Background()
	client := gomcp.NewClient(&gomcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)

	t1, t2 := gomcp.NewInMemoryTransports()
	go func() {
		_ = srv.MCPServer().Run(ctx, t1)
	}()

	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer session.Close()

	return session.CallTool(ctx, &gomcp.CallToolParams{Name: toolName, Arguments: args})
}

// decode reads the tool output from the text content, falling back to the
// structured content.
func decode(t *testing.T, result *gomcp.CallToolResult, out any) {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}
	text := extractText(result)
	if err := json.Unmarshal([]byte(text), out); err == nil {
		return
	}
	if result.StructuredContent == nil {
		t.Fatalf("no decodable output (text was: %s)", text)
	}
	data, _ := json.Marshal(result.StructuredContent)
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("unmarshalling structured content: %v", err)
	}
}

func extractText(result *gomcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(*gomcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// --- Tests ---

func TestListSubagents(t *testing.T) {
	ts := newTestServer(t, Services{})

	var out listSubagentsOutput
	decode(t, callTool(t, ts.srv, "list_subagents", map[string]any{}), &out)

	if out.Count != 2 || len(out.Subagents) != 2 {
		t.Fatalf("expected 2 subagents, got %+v", out)
	}
	first := out.Subagents[0]
	if first.Issue != 42 || first.Role != "engineer" || !first.Exists || first.ChangedFiles != 2 {
		t.Errorf("first subagent = %+v", first)
	}
	if first.NoteStatus != "in_progress" || first.LastCommit != "2026-03-01T11:00:00Z" {
		t.Errorf("first subagent note/commit = %+v", first)
	}
	if out.Subagents[1].Exists || out.Subagents[1].LastCommit != "" {
		t.Errorf("second subagent = %+v", out.Subagents[1])
	}
}

func TestSubagentStatus(t *testing.T) {
	ts := newTestServer(t, Services{})

	var out subagentOutput
	decode(t, callTool(t, ts.srv, "subagent_status", map[string]any{"issue": 42}), &out)
	if out.Branch != "issue-42-add-auth" {
		t.Errorf("branch = %s", out.Branch)
	}

	missing := callTool(t, ts.srv, "subagent_status", map[string]any{"issue": 99})
	if !missing.IsError {
		t.Fatal("expected error for unknown issue")
	}
	if text := extractText(missing); !strings.Contains(text, "cw subagent spawn 99") {
		t.Errorf("error lacks remediation: %s", text)
	}
}

func TestSubagentStatusMissingIssue(t *testing.T) {
	ts := newTestServer(t, Services{})
	result := callToolAllowError(t, ts.srv, "subagent_status", map[string]any{})
	if result == nil {
		// Rejected by schema validation.
		return
	}
	if !result.IsError {
		t.Fatal("expected error result for missing issue")
	}
}

func TestAddLessonAndMemoryContext(t *testing.T) {
	ts := newTestServer(t, Services{})

	var added addLessonOutput
	decode(t, callTool(t, ts.srv, "add_lesson", map[string]any{
		"category":   "testing",
		"lesson":     "Run the integration suite before handoff",
		"role":       "engineer",
		"issue_type": "feature",
	}), &added)
	if !strings.HasPrefix(added.ID, "lesson-") {
		t.Errorf("lesson id = %q", added.ID)
	}

	var again addLessonOutput
	decode(t, callTool(t, ts.srv, "add_lesson", map[string]any{
		"category": "testing",
		"lesson":   "Run the integration suite before handoff",
	}), &again)
	if again.ID != added.ID {
		t.Errorf("duplicate lesson got new id %q, want %q", again.ID, added.ID)
	}

	var ctxOut memoryContextOutput
	decode(t, callTool(t, ts.srv, "memory_context", map[string]any{
		"issue": 42, "issue_type": "feature", "role": "engineer",
	}), &ctxOut)
	if !strings.Contains(ctxOut.Context, "Run the integration suite before handoff") {
		t.Errorf("context lacks the lesson:\n%s", ctxOut.Context)
	}

	bad := callTool(t, ts.srv, "memory_context", map[string]any{"role": "qa"})
	if !bad.IsError {
		t.Error("expected error for invalid role")
	}
}

func TestAddLessonInvalidOutcome(t *testing.T) {
	ts := newTestServer(t, Services{})
	result := callTool(t, ts.srv, "add_lesson", map[string]any{
		"category": "x", "lesson": "y", "outcome": "maybe",
	})
	if !result.IsError {
		t.Fatal("expected error for invalid outcome")
	}
}

func TestRecordExecutionAndMetrics(t *testing.T) {
	ts := newTestServer(t, Services{})

	for _, args := range []map[string]any{
		{"issue": 1, "role": "engineer", "action": "implement", "outcome": "success", "duration_seconds": 12.5},
		{"issue": 1, "role": "engineer", "action": "implement", "outcome": "failure", "error_type": "TimeoutError", "error_message": "model timed out"},
		{"issue": 2, "role": "reviewer", "action": "review", "outcome": "success"},
	} {
		var msg messageOutput
		decode(t, callTool(t, ts.srv, "record_execution", args), &msg)
	}

	var out memoryMetricsOutput
	decode(t, callTool(t, ts.srv, "memory_metrics", map[string]any{}), &out)
	if out.TotalExecutions != 3 || out.SuccessCount != 2 || out.FailureCount != 1 {
		t.Errorf("totals = %+v", out)
	}
	if eng := out.ByRole["engineer"]; eng.Total != 2 || eng.SuccessRate != 0.5 {
		t.Errorf("engineer metrics = %+v", eng)
	}
	if len(out.CommonFailures) != 1 || out.CommonFailures[0].ErrorType != "TimeoutError" {
		t.Errorf("common failures = %+v", out.CommonFailures)
	}
}

func TestRecordExecutionValidation(t *testing.T) {
	ts := newTestServer(t, Services{})
	tests := []map[string]any{
		{"issue": 1, "role": "qa", "action": "x", "outcome": "success"},
		{"issue": 1, "role": "engineer", "action": "x", "outcome": "great"},
	}
	for _, args := range tests {
		if result := callTool(t, ts.srv, "record_execution", args); !result.IsError {
			t.Errorf("expected error for %v", args)
		}
	}
	if m := ts.memory.Metrics(); m.TotalExecutions != 0 {
		t.Errorf("invalid calls were recorded: %+v", m)
	}
}

func TestDetermineWorkflow(t *testing.T) {
	ts := newTestServer(t, Services{})
	tests := []struct {
		args     map[string]any
		workflow string
		roles    int
	}{
		{map[string]any{"issue_type": "epic"}, "full_epic", 5},
		{map[string]any{"issue_type": "Bug"}, "bug_fix", 2},
		{map[string]any{"issue_type": "story", "labels": []string{"type:spike"}}, "spike", 1},
		{map[string]any{}, "story", 2},
	}
	for _, tc := range tests {
		var out determineWorkflowOutput
		decode(t, callTool(t, ts.srv, "determine_workflow", tc.args), &out)
		if out.Workflow != tc.workflow || len(out.Roles) != tc.roles {
			t.Errorf("determine_workflow(%v) = %+v, want %s with %d roles", tc.args, out, tc.workflow, tc.roles)
		}
	}
}

func TestEventMetrics(t *testing.T) {
	newest := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	calc := &fakeMetricsCalculator{metrics: &observability.Metrics{
		EventCount: 4, Spawned: 1, WorkflowRuns: 2, WorkflowFailures: 1,
		StepsByRole: map[string]int{"engineer": 2}, NewestEvent: &newest,
	}}
	ts := newTestServer(t, Services{Metrics: calc})

	var out eventMetricsOutput
	decode(t, callTool(t, ts.srv, "event_metrics", map[string]any{"since": "24h"}), &out)
	if out.EventCount != 4 || out.WorkflowFailures != 1 || out.StepsByRole["engineer"] != 2 {
		t.Errorf("metrics = %+v", out)
	}
	if out.NewestEvent != "2026-03-01T12:00:00Z" {
		t.Errorf("newest = %q", out.NewestEvent)
	}
	if time.Since(calc.since) < 23*time.Hour {
		t.Errorf("since = %v, want about 24h ago", calc.since)
	}

	bad := callTool(t, ts.srv, "event_metrics", map[string]any{"since": "3w"})
	if !bad.IsError {
		t.Error("expected error for unsupported suffix")
	}
}

func TestEventMetricsUnavailable(t *testing.T) {
	ts := newTestServer(t, Services{})
	if result := callTool(t, ts.srv, "event_metrics", map[string]any{}); !result.IsError {
		t.Error("expected error without a metrics calculator")
	}
	if result := callTool(t, ts.srv, "get_alerts", map[string]any{}); !result.IsError {
		t.Error("expected error without an alert engine")
	}
}

func TestGetAlerts(t *testing.T) {
	engine := &fakeAlertEngine{alerts: []observability.Alert{{
		ID: "stale-1", Condition: "subagent_stale", Severity: observability.SeverityMedium,
		Issue: 1, Message: "issue #1 has had no activity", TriggeredAt: time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
	}}}
	ts := newTestServer(t, Services{Alerts: engine})

	var out getAlertsOutput
	decode(t, callTool(t, ts.srv, "get_alerts", map[string]any{}), &out)
	if out.Count != 1 || out.Alerts[0].Severity != "medium" || out.Alerts[0].Issue != 1 {
		t.Errorf("alerts = %+v", out)
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"7d", now.AddDate(0, 0, -7), false},
		{"24h", now.Add(-24 * time.Hour), false},
		{"d", time.Time{}, true},
		{"xd", time.Time{}, true},
		{"5m", time.Time{}, true},
	}
	for _, tc := range tests {
		got, err := ParseSince(tc.in, now)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseSince(%q) err = %v", tc.in, err)
			continue
		}
		if !tc.wantErr && !got.Equal(tc.want) {
			t.Errorf("ParseSince(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
