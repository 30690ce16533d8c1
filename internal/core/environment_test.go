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

func TestSpawn_CreatesWorktreeNoteAndBrief(t *testing.T) {
	repo := newTestRepo(t)
	events := &recordingEvents{}
	repo.deps.Events = events
	em := NewEnvironmentManager(repo.deps)
	ctx := context.Background()

	wt, err := em.Spawn(ctx, 42, models.RoleEngineer, "Add JWT auth")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if wt.Branch != "issue-42-add-jwt-auth" {
		t.Errorf("Branch = %q", wt.Branch)
	}
	if want := filepath.Join(repo.root, storage.DirName, "worktrees", "42"); wt.Path != want {
		t.Errorf("Path = %q, want %q", wt.Path, want)
	}
	if !pathExists(wt.Path) {
		t.Fatal("worktree directory was not created")
	}
	if !pathExists(filepath.Join(wt.Path, storage.DirName, BriefFileName)) {
		t.Error("role brief was not written")
	}

	registered, ok := repo.state.GetWorktree(42)
	if !ok || registered.Role != models.RoleEngineer {
		t.Errorf("state worktree = %+v, %v", registered, ok)
	}

	note, err := repo.notes.Get(ctx, wt.Branch)
	if err != nil || note == nil {
		t.Fatalf("note missing: %v", err)
	}
	if note.Status != models.NoteSpawned || note.Role != models.RoleEngineer || note.Issue != 42 {
		t.Errorf("note = %+v", note)
	}

	changes, err := repo.deps.Git.PendingChanges(ctx, wt.Path)
	if err != nil {
		t.Fatalf("PendingChanges: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("fresh worktree reports pending changes: %v", changes)
	}

	if len(events.types) != 1 || events.types[0] != EventSubagentSpawned {
		t.Errorf("events = %v", events.types)
	}
}

func TestSpawn_SecondSpawnFailsAndLeavesExistingUntouched(t *testing.T) {
	repo := newTestRepo(t)
	em := NewEnvironmentManager(repo.deps)
	ctx := context.Background()

	wt, err := em.Spawn(ctx, 42, models.RoleEngineer, "jwt")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	marker := filepath.Join(wt.Path, "work-in-progress.txt")
	if err := os.WriteFile(marker, []byte("draft"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = em.Spawn(ctx, 42, models.RoleReviewer, "other title")
	if err == nil {
		t.Fatal("second spawn succeeded")
	}
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("error %v does not wrap ErrAlreadyExists", err)
	}
	var setup *SetupError
	if !errors.As(err, &setup) || !strings.Contains(setup.Msg, "already exists") {
		t.Errorf("error = %v, want SetupError naming the existing environment", err)
	}

	got, _ := repo.state.GetWorktree(42)
	if got.Role != models.RoleEngineer || got.Branch != wt.Branch || got.Path != wt.Path {
		t.Errorf("existing environment changed: %+v", got)
	}
	if !pathExists(marker) {
		t.Error("uncommitted work in the existing worktree was lost")
	}
	if repo.deps.Git.BranchExists(ctx, BranchName(42, "other title")) {
		t.Error("second spawn created a branch")
	}
}

func TestSpawn_RejectsInvalidInput(t *testing.T) {
	repo := newTestRepo(t)
	em := NewEnvironmentManager(repo.deps)
	ctx := context.Background()

	var verr *ValidationError
	if _, err := em.Spawn(ctx, 0, models.RoleEngineer, ""); !errors.As(err, &verr) {
		t.Errorf("issue 0: err = %v, want ValidationError", err)
	}
	if _, err := em.Spawn(ctx, 5, models.Role("qa"), ""); !errors.As(err, &verr) {
		t.Errorf("unknown role: err = %v, want ValidationError", err)
	}
	if len(repo.state.Worktrees()) != 0 {
		t.Error("invalid spawn registered a worktree")
	}
}

func TestSpawn_UsesLocalIssueTitle(t *testing.T) {
	repo := newTestRepo(t)
	var issue models.Issue
	if err := repo.state.Update(func() error {
		issue = repo.state.CreateIssue("Fix login crash", "Crash on empty password", models.IssueTypeBug, nil)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	wt, err := NewEnvironmentManager(repo.deps).Spawn(context.Background(), issue.Number, models.RoleEngineer, "")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if wt.Branch != BranchName(issue.Number, "Fix login crash") {
		t.Errorf("Branch = %q", wt.Branch)
	}
	local, _ := repo.state.GetIssue(issue.Number)
	if local.Role != models.RoleEngineer {
		t.Errorf("local issue role = %q, want engineer", local.Role)
	}
}

func TestComplete_PendingChangesRequireForce(t *testing.T) {
	repo := newTestRepo(t)
	em := NewEnvironmentManager(repo.deps)
	ctx := context.Background()

	wt, err := em.Spawn(ctx, 7, models.RoleEngineer, "dirty")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := os.WriteFile(filepath.Join(wt.Path, "scratch.go"), []byte("package x\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = em.Complete(ctx, 7, CompleteOptions{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Complete without force: err = %v, want ValidationError", err)
	}
	if len(verr.Failed) != 1 || !strings.Contains(verr.Failed[0], "scratch.go") {
		t.Errorf("Failed = %v, want the pending file", verr.Failed)
	}
	if _, ok := repo.state.GetWorktree(7); !ok {
		t.Fatal("failed complete deregistered the worktree")
	}
	if !pathExists(wt.Path) {
		t.Fatal("failed complete removed the worktree")
	}

	result, err := em.Complete(ctx, 7, CompleteOptions{Force: true, KeepBranch: true})
	if err != nil {
		t.Fatalf("Complete with force: %v", err)
	}
	if _, ok := repo.state.GetWorktree(7); ok {
		t.Error("forced complete left the worktree registered")
	}
	if pathExists(wt.Path) {
		t.Error("forced complete left the worktree on disk")
	}
	if result.BranchDeleted || !repo.deps.Git.BranchExists(ctx, wt.Branch) {
		t.Error("KeepBranch did not keep the branch")
	}

	note, _ := repo.notes.Get(ctx, wt.Branch)
	if note == nil || note.Status != models.NoteCompleted || note.CompletedAt == nil {
		t.Errorf("note after complete = %+v", note)
	}
	if m := repo.memory.Metrics(); m.PartialCount != 1 {
		t.Errorf("PartialCount = %d, want 1 for a forced complete", m.PartialCount)
	}
}

func TestComplete_DeletesMergedBranch(t *testing.T) {
	repo := newTestRepo(t)
	em := NewEnvironmentManager(repo.deps)
	ctx := context.Background()

	wt, err := em.Spawn(ctx, 8, models.RoleEngineer, "noop")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	result, err := em.Complete(ctx, 8, CompleteOptions{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !result.BranchDeleted {
		t.Errorf("branch at trunk tip was not deleted: %+v", result.SideEffects)
	}
	if repo.deps.Git.BranchExists(ctx, wt.Branch) {
		t.Error("branch still exists")
	}
	if m := repo.memory.Metrics(); m.SuccessCount != 1 {
		t.Errorf("SuccessCount = %d, want 1", m.SuccessCount)
	}
}

func TestComplete_KeepsUnmergedBranch(t *testing.T) {
	repo := newTestRepo(t)
	em := NewEnvironmentManager(repo.deps)
	ctx := context.Background()

	wt, err := em.Spawn(ctx, 9, models.RoleEngineer, "feature")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	commitIn(t, wt.Path, "feature.go", "package feature\n")

	result, err := em.Complete(ctx, 9, CompleteOptions{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result.BranchDeleted || !repo.deps.Git.BranchExists(ctx, wt.Branch) {
		t.Error("unmerged branch was deleted")
	}
	if len(models.Warnings(result.SideEffects)) == 0 {
		t.Error("expected a warning for the kept branch")
	}
}

func TestComplete_RemoteStatusIsBestEffort(t *testing.T) {
	repo := newTestRepo(t)
	remote := &fakeRemote{statusErr: errors.New("project not found")}
	repo.deps.Remote = remote
	repo.deps.Config.GitHub.ProjectNumber = 3
	if err := repo.state.Update(func() error { return repo.state.SetMode(models.ModeGitHub) }); err != nil {
		t.Fatal(err)
	}
	em := NewEnvironmentManager(repo.deps)
	ctx := context.Background()

	if _, err := em.Spawn(ctx, 11, models.RoleEngineer, "remote"); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	result, err := em.Complete(ctx, 11, CompleteOptions{})
	if err != nil {
		t.Fatalf("Complete should succeed despite remote failure: %v", err)
	}
	if len(remote.statuses) != 1 || remote.statuses[0] != "Done" {
		t.Errorf("statuses = %v, want [Done]", remote.statuses)
	}
	found := false
	for _, w := range models.Warnings(result.SideEffects) {
		if w.Name == "project_status" {
			found = true
		}
	}
	if !found {
		t.Errorf("remote failure not reported as a warning: %+v", result.SideEffects)
	}
}

func TestComplete_NoEnvironment(t *testing.T) {
	repo := newTestRepo(t)
	_, err := NewEnvironmentManager(repo.deps).Complete(context.Background(), 99, CompleteOptions{})
	if !errors.Is(err, ErrNoEnvironment) {
		t.Errorf("err = %v, want ErrNoEnvironment", err)
	}
}

func TestRecover_NoOpWhenWorktreePresent(t *testing.T) {
	repo := newTestRepo(t)
	events := &recordingEvents{}
	repo.deps.Events = events
	em := NewEnvironmentManager(repo.deps)
	ctx := context.Background()

	wt, err := em.Spawn(ctx, 12, models.RoleEngineer, "present")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := em.Recover(ctx, 12); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !pathExists(wt.Path) {
		t.Error("worktree missing after no-op recover")
	}
	for _, typ := range events.types {
		if typ == EventSubagentRecovered {
			t.Error("no-op recover emitted a recovered event")
		}
	}
}

func TestRecover_ReaddsMissingWorktree(t *testing.T) {
	repo := newTestRepo(t)
	em := NewEnvironmentManager(repo.deps)
	ctx := context.Background()

	wt, err := em.Spawn(ctx, 13, models.RoleArchitect, "lost")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := os.RemoveAll(wt.Path); err != nil {
		t.Fatal(err)
	}

	if err := em.Recover(ctx, 13); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !pathExists(filepath.Join(wt.Path, "README.md")) {
		t.Error("worktree was not re-checked out")
	}
	if !pathExists(filepath.Join(wt.Path, storage.DirName, BriefFileName)) {
		t.Error("brief was not rewritten")
	}
}

func TestRecover_MissingBranchFails(t *testing.T) {
	repo := newTestRepo(t)
	em := NewEnvironmentManager(repo.deps)
	ctx := context.Background()

	wt, err := em.Spawn(ctx, 14, models.RoleEngineer, "gone")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := os.RemoveAll(wt.Path); err != nil {
		t.Fatal(err)
	}
	gitIn(t, repo.root, "worktree", "prune")
	gitIn(t, repo.root, "branch", "-D", wt.Branch)

	err = em.Recover(ctx, 14)
	var setup *SetupError
	if !errors.As(err, &setup) {
		t.Fatalf("err = %v, want SetupError", err)
	}
	if !strings.Contains(setup.Msg, "not found") {
		t.Errorf("Msg = %q", setup.Msg)
	}
	if Remediation(err) != "cw subagent complete 14 --force" {
		t.Errorf("Remediation = %q", Remediation(err))
	}
	if _, ok := repo.state.GetWorktree(14); !ok {
		t.Error("failed recover deregistered the worktree")
	}
}

func TestRecordActivity_CountsCommits(t *testing.T) {
	repo := newTestRepo(t)
	em := NewEnvironmentManager(repo.deps)
	ctx := context.Background()

	wt, err := em.Spawn(ctx, 15, models.RoleEngineer, "activity")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	for i, name := range []string{"a.txt", "b.txt"} {
		commitIn(t, wt.Path, name, name)
		note, err := em.RecordActivity(ctx, 15)
		if err != nil {
			t.Fatalf("RecordActivity: %v", err)
		}
		if note.Commits != i+1 {
			t.Errorf("Commits = %d, want %d", note.Commits, i+1)
		}
	}

	note, err := repo.notes.Get(ctx, wt.Branch)
	if err != nil || note == nil {
		t.Fatalf("note missing after commits: %v", err)
	}
	if note.Commits != 2 {
		t.Errorf("stored Commits = %d, want 2", note.Commits)
	}
	if note.Status != models.NoteInProgress {
		t.Errorf("Status = %q, want in_progress", note.Status)
	}
	if !note.LastActivity.Equal(repo.deps.Now()) {
		t.Errorf("LastActivity = %v", note.LastActivity)
	}
	if note.Role != models.RoleEngineer || note.Issue != 15 {
		t.Errorf("note identity changed: %+v", note)
	}

	var setup *SetupError
	if _, err := em.RecordActivity(ctx, 99); !errors.As(err, &setup) {
		t.Errorf("no environment: err = %v, want SetupError", err)
	}
}

func TestStatusAndList(t *testing.T) {
	repo := newTestRepo(t)
	em := NewEnvironmentManager(repo.deps)
	ctx := context.Background()

	wt, err := em.Spawn(ctx, 15, models.RoleEngineer, "status")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if _, err := em.Spawn(ctx, 16, models.RoleReviewer, "other"); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := os.WriteFile(filepath.Join(wt.Path, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := em.Status(ctx, 15)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Exists || st.ChangedFiles != 1 || st.LastCommit == nil || st.Note == nil {
		t.Errorf("status = %+v", st)
	}

	all, err := em.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[0].Issue != 15 || all[1].Issue != 16 {
		t.Errorf("List = %+v", all)
	}

	if _, err := em.Status(ctx, 404); !errors.Is(err, ErrNoEnvironment) {
		t.Errorf("Status(404) err = %v", err)
	}
}
