package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/valter-silva-au/context-weave/internal/core"
	"github.com/valter-silva-au/context-weave/internal/storage"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

func TestInitCommand_LocalMode(t *testing.T) {
	env := newBareEnv(t)
	out := mustExecute(t, env, "init")
	assertContains(t, out,
		"created  "+filepath.Join(storage.DirName, core.ConfigFileName),
		"hooks    pre-commit, prepare-commit-msg, post-commit, pre-push, post-merge",
		"ContextWeave initialised (mode local)",
		"Next steps:",
	)
	if !env.State.Exists() {
		t.Fatal("state.json was not written")
	}
	for _, hook := range core.HookNames {
		if _, err := os.Stat(filepath.Join(env.RepoRoot, ".git", "hooks", hook)); err != nil {
			t.Errorf("hook %s: %v", hook, err)
		}
	}

	out = mustExecute(t, env, "init")
	assertContains(t, out, "already initialised (mode local)", "cw init --force")
}

func TestInitCommand_RemoteModeNeedsOrigin(t *testing.T) {
	env := newBareEnv(t)
	_, err := execute(env, "init", "--mode", "github")
	se, ok := asSetupError(err)
	if !ok {
		t.Fatalf("err = %v, want SetupError", err)
	}
	if se.Remediation == "" {
		t.Error("missing remediation")
	}
	if env.State.Exists() {
		t.Error("state written despite the failure")
	}
}

func TestInitCommand_HybridUsesDetectedOrigin(t *testing.T) {
	env := newBareEnv(t)
	env.DetectOrigin = func(string) (string, string, error) { return "acme", "widgets", nil }

	out := mustExecute(t, env, "init", "--mode", "hybrid")
	assertContains(t, out, "ContextWeave initialised (mode hybrid)", "GitHub repository: acme/widgets", "cw auth set-token")

	gh := env.State.GitHub()
	if env.State.Mode() != models.ModeHybrid || gh.Owner == nil || *gh.Owner != "acme" || gh.Repo == nil || *gh.Repo != "widgets" {
		t.Errorf("mode = %s, github = %+v", env.State.Mode(), gh)
	}
}

func TestInitCommand_InvalidMode(t *testing.T) {
	env := newBareEnv(t)
	if _, err := execute(env, "init", "--mode", "cloud"); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}
