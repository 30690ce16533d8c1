package cli

import (
	"encoding/json"
	"testing"

	"github.com/valter-silva-au/context-weave/internal/core"
)

func TestSyncStatus_LocalMode(t *testing.T) {
	env := newTestEnv(t)
	spawn(t, env, "Sync me")

	out := mustExecute(t, env, "sync", "status")
	assertContains(t, out, "Mode:              local", "Last pull:         never", "Active subagents:  1", "Issue branches:    1")

	out = mustExecute(t, env, "sync", "status", "--json")
	var st core.SyncStatus
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("status JSON: %v\n%s", err, out)
	}
	if st.ActiveSubagents != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestSyncPull_RequiresRemote(t *testing.T) {
	env := newTestEnv(t)
	_, err := execute(env, "sync", "pull")
	se, ok := asSetupError(err)
	if !ok {
		t.Fatalf("err = %v, want SetupError", err)
	}
	if se.Remediation != "cw init --mode github" {
		t.Errorf("remediation = %q", se.Remediation)
	}
}

func TestSyncPush_DryRun(t *testing.T) {
	env := newTestEnv(t)

	out := mustExecute(t, env, "sync", "push", "--dry-run")
	assertContains(t, out, "Nothing to push.")

	wt := spawn(t, env, "Push me")
	mustExecute(t, env, "subagent", "complete", "1", "--keep-branch")

	out = mustExecute(t, env, "sync", "push", "--dry-run")
	assertContains(t, out, "Would push:", wt.Branch)
}

func TestSyncStatusUpdate(t *testing.T) {
	env := newTestEnv(t)

	_, err := execute(env, "sync", "status-update", "3", "Someday")
	if _, ok := asValidationError(err); !ok {
		t.Fatalf("invalid status err = %v, want ValidationError", err)
	}

	_, err = execute(env, "sync", "status-update", "3", "In", "Progress")
	if _, ok := asSetupError(err); !ok {
		t.Fatalf("local mode err = %v, want SetupError", err)
	}
}
