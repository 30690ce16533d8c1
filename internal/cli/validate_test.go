package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/valter-silva-au/context-weave/internal/storage"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

func TestValidateDoD_PassesAndWritesCertificate(t *testing.T) {
	env := newTestEnv(t)
	spawn(t, env, "Clean change")

	out := mustExecute(t, env, "validate", "dod", "1")
	assertContains(t, out, "[OK]", "checks passed")

	out = mustExecute(t, env, "validate", "dod", "1", "--certificate")
	assertContains(t, out, "Certificate CERT-1-")

	matches, err := filepath.Glob(filepath.Join(env.RepoRoot, storage.DirName, "certificates", "*"))
	if err != nil || len(matches) == 0 {
		t.Fatalf("no certificate written (err %v)", err)
	}
}

func TestValidateDoD_FailureNamesChecks(t *testing.T) {
	env := newTestEnv(t)
	mustExecute(t, env, "subagent", "spawn", "4", "--role", "architect", "--title", "Storage design")

	out, err := execute(env, "validate", "dod", "4")
	ve, ok := asValidationError(err)
	if !ok {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if !contains(ve.Failed, "adr_exists") || !contains(ve.Failed, "spec_exists") {
		t.Errorf("Failed = %v", ve.Failed)
	}
	assertContains(t, out, "[FAIL] ADR created at docs/adr/ADR-4.md")

	if _, err := execute(env, "validate", "dod", "4", "--certificate"); err == nil {
		t.Error("certificate written for a failing report")
	}
}

func TestValidateDoD_QuietPrintsNothing(t *testing.T) {
	env := newTestEnv(t)
	mustExecute(t, env, "subagent", "spawn", "4", "--role", "architect", "--title", "Storage design")

	out, err := execute(env, "validate", "dod", "4", "--quiet")
	if err == nil {
		t.Fatal("expected failure")
	}
	if out != "" {
		t.Errorf("quiet output = %q", out)
	}
}

func TestValidateDoD_RoleOverride(t *testing.T) {
	env := newTestEnv(t)
	wt := spawn(t, env, "Docs first")
	for _, doc := range []string{"docs/adr/ADR-1.md", "docs/specs/SPEC-1.md"} {
		path := filepath.Join(wt.Path, doc)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("# doc\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	out := mustExecute(t, env, "validate", "dod", "1", "--role", "architect", "--json")
	var report models.DoDReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("report JSON: %v\n%s", err, out)
	}
	if report.Role != models.RoleArchitect || !report.OK() {
		t.Errorf("report = %+v", report)
	}
}

func TestValidateTask(t *testing.T) {
	env := newTestEnv(t)
	mustExecute(t, env, "issue", "create", "Add export", "--body", "Export reports as CSV.\n\nAcceptance criteria:\n- [ ] CSV download works")
	mustExecute(t, env, "issue", "create", "Fix the thing", "--body", "as discussed")

	out := mustExecute(t, env, "validate", "task", "1")
	assertContains(t, out, "Task Quality", "4/4 checks passed")

	out, err := execute(env, "validate", "task", "2")
	if err == nil {
		t.Fatal("vague issue passed the task gate")
	}
	assertContains(t, out, "[FAIL] Acceptance criteria defined")
}

func TestValidateAll_ReportsEveryGate(t *testing.T) {
	env := newTestEnv(t)
	mustExecute(t, env, "issue", "create", "Fix the thing", "--body", "as discussed")

	out, err := execute(env, "validate", "all", "1")
	ve, ok := asValidationError(err)
	if !ok {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if !strings.Contains(ve.Msg, "Task Quality") {
		t.Errorf("Msg = %q", ve.Msg)
	}
	assertContains(t, out, "Task Quality")
}

func contains(items []string, want string) bool {
	for _, it := range items {
		if it == want {
			return true
		}
	}
	return false
}
