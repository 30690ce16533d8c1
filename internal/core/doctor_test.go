package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/valter-silva-au/context-weave/internal/storage"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

type staticTokens struct {
	token string
}

func (s staticTokens) Resolve(context.Context) (string, string, error) {
	if s.token == "" {
		return "", "", errors.New("no token")
	}
	return s.token, "env", nil
}

func findCheck(report models.DoctorReport, name string) (models.DoctorCheck, bool) {
	for _, c := range report.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return models.DoctorCheck{}, false
}

func newTestDoctor(repo *testRepo) Doctor {
	return NewDoctor(repo.deps, NewEnvironmentManager(repo.deps), NewConfigurationManager(repo.root), staticTokens{})
}

func TestDoctor_Uninitialised(t *testing.T) {
	repo := newTestRepo(t)
	report := newTestDoctor(repo).Run(context.Background(), false)
	if report.Healthy() || len(report.Checks) != 1 || report.Checks[0].Fix != "cw init" {
		t.Errorf("report = %+v", report)
	}
}

func TestDoctor_HealthyRepo(t *testing.T) {
	repo := newTestRepo(t)
	spawnFor(t, repo, 1, models.RoleEngineer)

	report := newTestDoctor(repo).Run(context.Background(), false)
	if !report.Healthy() {
		t.Fatalf("report = %+v", report)
	}
	for _, name := range []string{"state", "git", "worktree #1", "note #1", "orphan worktrees", "notes_ref", "config"} {
		c, ok := findCheck(report, name)
		if !ok {
			t.Errorf("check %q missing", name)
			continue
		}
		if c.Status != models.CheckOK {
			t.Errorf("check %q = %+v", name, c)
		}
	}
	if _, ok := findCheck(report, "github_token"); ok {
		t.Error("token check ran in local mode")
	}
}

func TestDoctor_MissingWorktreeRecoveredWithFix(t *testing.T) {
	repo := newTestRepo(t)
	wt := spawnFor(t, repo, 2, models.RoleEngineer)
	if err := os.RemoveAll(wt.Path); err != nil {
		t.Fatal(err)
	}
	doc := newTestDoctor(repo)

	report := doc.Run(context.Background(), false)
	c, _ := findCheck(report, "worktree #2")
	if c.Status != models.CheckFail || c.Fix != "cw subagent recover 2" || c.Fixed {
		t.Errorf("check without fix = %+v", c)
	}
	if pathExists(wt.Path) {
		t.Fatal("doctor repaired without --fix")
	}

	report = doc.Run(context.Background(), true)
	c, _ = findCheck(report, "worktree #2")
	if !c.Fixed {
		t.Errorf("check with fix = %+v", c)
	}
	if !pathExists(wt.Path) {
		t.Error("worktree was not recovered")
	}
}

func TestDoctor_StaleEntryRemovedWhenBranchGone(t *testing.T) {
	repo := newTestRepo(t)
	wt := spawnFor(t, repo, 3, models.RoleEngineer)
	if err := os.RemoveAll(wt.Path); err != nil {
		t.Fatal(err)
	}
	gitIn(t, repo.root, "worktree", "prune")
	gitIn(t, repo.root, "branch", "-D", wt.Branch)

	report := newTestDoctor(repo).Run(context.Background(), true)
	c, _ := findCheck(report, "worktree #3")
	if !c.Fixed || !strings.Contains(c.Detail, "removed stale entry") {
		t.Errorf("check = %+v", c)
	}
	if _, ok := repo.state.GetWorktree(3); ok {
		t.Error("stale entry still registered")
	}
	if _, ok := findCheck(report, "note #3"); ok {
		t.Error("note check ran for a removed entry")
	}
}

func TestDoctor_NoteDesync(t *testing.T) {
	repo := newTestRepo(t)
	wt := spawnFor(t, repo, 4, models.RoleEngineer)
	ctx := context.Background()

	note, _ := repo.notes.Get(ctx, wt.Branch)
	note.Role = models.RoleReviewer
	note.Status = models.NoteCompleted
	if err := repo.notes.Put(ctx, wt.Branch, *note); err != nil {
		t.Fatal(err)
	}
	doc := newTestDoctor(repo)

	c, _ := findCheck(doc.Run(ctx, false), "note #4")
	if c.Status != models.CheckFail || !strings.Contains(c.Detail, "note role reviewer, state role engineer") {
		t.Errorf("desync check = %+v", c)
	}
	if got, _ := repo.notes.Get(ctx, wt.Branch); got.Role != models.RoleReviewer {
		t.Fatal("note corrected without --fix")
	}

	c, _ = findCheck(doc.Run(ctx, true), "note #4")
	if !c.Fixed {
		t.Errorf("fixed check = %+v", c)
	}
	fixed, _ := repo.notes.Get(ctx, wt.Branch)
	if fixed.Role != models.RoleEngineer || fixed.Status != models.NoteInProgress {
		t.Errorf("note after fix = %+v", fixed)
	}
}

func TestDoctor_OrphanWorktree(t *testing.T) {
	repo := newTestRepo(t)
	spawnFor(t, repo, 5, models.RoleEngineer)
	orphan := filepath.Join(repo.root, storage.DirName, "worktrees", "6")
	gitIn(t, repo.root, "worktree", "add", "-b", "issue-6-orphan", orphan)

	doc := newTestDoctor(repo)
	c, _ := findCheck(doc.Run(context.Background(), false), "orphan worktrees")
	if c.Status != models.CheckWarn || !strings.Contains(c.Detail, orphan) {
		t.Errorf("orphan check = %+v", c)
	}

	c, _ = findCheck(doc.Run(context.Background(), true), "orphan worktrees")
	if !c.Fixed || pathExists(orphan) {
		t.Errorf("orphan not removed: %+v", c)
	}
}

func TestDoctor_TokenCheckOutsideLocalMode(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.state.Update(func() error { return repo.state.SetMode(models.ModeGitHub) }); err != nil {
		t.Fatal(err)
	}
	env := NewEnvironmentManager(repo.deps)

	c, _ := findCheck(NewDoctor(repo.deps, env, nil, staticTokens{}).Run(context.Background(), false), "github_token")
	if c.Status != models.CheckWarn || c.Fix != "cw auth set-token" {
		t.Errorf("missing token check = %+v", c)
	}
	c, _ = findCheck(NewDoctor(repo.deps, env, nil, staticTokens{token: "ghp_x"}).Run(context.Background(), false), "github_token")
	if c.Status != models.CheckOK || c.Detail != "from env" {
		t.Errorf("token check = %+v", c)
	}
}

// fakeTools reports fixed versions per tool; a missing entry is an error.
type fakeTools map[string]string

func (f fakeTools) CheckMinimumVersion(_ context.Context, tool, min string) (string, error) {
	v, ok := f[tool]
	if !ok {
		return "", errors.New(tool + ": executable file not found in $PATH")
	}
	if v < min {
		return v, errors.New(tool + " " + v + " is older than " + min)
	}
	return v, nil
}

func TestDoctor_ToolVersions(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.state.Update(func() error { return repo.state.SetMode(models.ModeLocal) }); err != nil {
		t.Fatal(err)
	}
	deps := repo.deps
	cfg := *DefaultConfig()
	deps.Config = &cfg

	deps.Tools = fakeTools{"git": "2.43.0", "claude": "2.1.50"}
	report := NewDoctor(deps, NewEnvironmentManager(deps), nil, nil).Run(context.Background(), false)
	if c, _ := findCheck(report, "git_version"); c.Status != models.CheckOK || c.Detail != "2.43.0" {
		t.Errorf("git_version = %+v", c)
	}
	if c, _ := findCheck(report, "agent"); c.Status != models.CheckOK || c.Detail != "claude 2.1.50" {
		t.Errorf("agent = %+v", c)
	}

	deps.Tools = fakeTools{"git": "2.16.0"}
	report = NewDoctor(deps, NewEnvironmentManager(deps), nil, nil).Run(context.Background(), false)
	if c, _ := findCheck(report, "git_version"); c.Status != models.CheckFail || !strings.Contains(c.Fix, MinGitVersion) {
		t.Errorf("old git = %+v", c)
	}
	if c, _ := findCheck(report, "agent"); c.Status != models.CheckWarn || !strings.Contains(c.Detail, "claude not usable") {
		t.Errorf("missing agent = %+v", c)
	}

	cfg.Agent.Provider = "echo"
	report = NewDoctor(deps, NewEnvironmentManager(deps), nil, nil).Run(context.Background(), false)
	if _, ok := findCheck(report, "agent"); ok {
		t.Error("agent check should only run for the cli provider")
	}
}
