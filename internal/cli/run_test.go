package cli

import (
	"encoding/json"
	"testing"

	"github.com/valter-silva-au/context-weave/pkg/models"
)

func TestRunDryRun_StoryPlan(t *testing.T) {
	env := newTestEnv(t)
	mustExecute(t, env, "issue", "create", "Small fix", "--type", "story")

	out := mustExecute(t, env, "run", "1", "--dry-run", "--json")
	var plan models.WorkflowPlan
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("plan JSON: %v\n%s", err, out)
	}
	if plan.Workflow != models.WorkflowStory || len(plan.Steps) != 2 {
		t.Fatalf("plan = %+v", plan)
	}
	if plan.Steps[0].Role != models.RoleEngineer || plan.Steps[1].Role != models.RoleReviewer {
		t.Errorf("roles = %s, %s", plan.Steps[0].Role, plan.Steps[1].Role)
	}
	for _, s := range plan.Steps {
		if s.InstructionsChars == 0 {
			t.Errorf("step %s has no instructions", s.Role)
		}
	}
}

func TestRunDryRun_WorkflowFromLabels(t *testing.T) {
	env := newTestEnv(t)
	out := mustExecute(t, env, "run", "7", "--dry-run", "--label", "type:epic")
	assertContains(t, out, "Plan for issue #7: full_epic", "pm", "ux", "architect", "engineer", "reviewer")
}

func TestRun_SingleAgent(t *testing.T) {
	env := newTestEnv(t)
	mustExecute(t, env, "issue", "create", "Echo me", "--body", "Say hello")

	out := mustExecute(t, env, "run", "1", "--role", "engineer")
	assertContains(t, out, "Workflow single_agent for issue #1", "[OK]", "Workflow completed (1 step(s))", "[engineer] received")

	m := env.Memory.Metrics()
	if m.TotalExecutions != 1 || m.SuccessCount != 1 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestRun_WorkflowJSON(t *testing.T) {
	env := newTestEnv(t)
	mustExecute(t, env, "issue", "create", "Two steps", "--type", "bug", "--body", "Reproduce and fix")

	out := mustExecute(t, env, "run", "1", "--json")
	var result models.WorkflowResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("result JSON: %v\n%s", err, out)
	}
	if !result.Success || result.Workflow != models.WorkflowBugFix || len(result.Steps) != 2 {
		t.Errorf("result = %+v", result)
	}
}

func TestRun_InvalidWorkflow(t *testing.T) {
	env := newTestEnv(t)
	_, err := execute(env, "run", "1", "--workflow", "waterfall")
	if _, ok := asValidationError(err); !ok {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}
