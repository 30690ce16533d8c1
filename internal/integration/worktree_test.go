package integration

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// setupTestGitRepo creates a git repo with an initial commit in the given directory.
func setupTestGitRepo(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("creating dir: %v", err)
	}
	runGit(t, dir, "init", "-b", "main")
	runGit(t, dir, "config", "user.name", "Test User")
	runGit(t, dir, "config", "user.email", "test@example.com")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test\n"), 0o644); err != nil {
		t.Fatalf("writing README: %v", err)
	}
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "initial commit")
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("running git %v: %v\n%s", args, err, out)
	}
}

func newTestManager(t *testing.T) (GitWorktreeManager, string) {
	t.Helper()
	repo := filepath.Join(t.TempDir(), "repo")
	setupTestGitRepo(t, repo)
	return NewGitWorktreeManager(repo, NewGitRunner(nil)), repo
}

// =============================================================================
// Unit tests: parseWorktreeListOutput
// =============================================================================

func TestParseWorktreeListOutput_Basic(t *testing.T) {
	output := `worktree /repo
HEAD abc123
branch refs/heads/main

worktree /repo/.context-weave/worktrees/42
HEAD def456
branch refs/heads/issue-42-add-login
`

	worktrees := parseWorktreeListOutput(output)
	if len(worktrees) != 2 {
		t.Fatalf("got %d worktrees, want 2", len(worktrees))
	}
	if worktrees[0].Branch != "main" {
		t.Errorf("worktrees[0].Branch = %q, want main", worktrees[0].Branch)
	}
	if worktrees[1].Branch != "issue-42-add-login" {
		t.Errorf("worktrees[1].Branch = %q, want issue-42-add-login", worktrees[1].Branch)
	}
	if worktrees[1].Head != "def456" {
		t.Errorf("worktrees[1].Head = %q, want def456", worktrees[1].Head)
	}
}

func TestParseWorktreeListOutput_Empty(t *testing.T) {
	if got := parseWorktreeListOutput(""); len(got) != 0 {
		t.Errorf("got %d worktrees for empty output, want 0", len(got))
	}
}

func TestParseWorktreeListOutput_DetachedAndBare(t *testing.T) {
	output := `worktree /repo
HEAD abc123
bare

worktree /tmp/detached
HEAD 999999
detached
`
	worktrees := parseWorktreeListOutput(output)
	if len(worktrees) != 2 {
		t.Fatalf("got %d worktrees, want 2", len(worktrees))
	}
	if !worktrees[0].Bare {
		t.Error("expected first worktree to be bare")
	}
	if worktrees[1].Branch != "" {
		t.Errorf("detached worktree should have no branch, got %q", worktrees[1].Branch)
	}
}

func TestSplitBranchLines(t *testing.T) {
	got := splitBranchLines("* main\n  issue-1-a\n+ issue-2-b\n\n")
	want := []string{"main", "issue-1-a", "issue-2-b"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// =============================================================================
// Integration tests against a real repository
// =============================================================================

func TestAddWorktree_EmptyArgs_ReturnsError(t *testing.T) {
	mgr := NewGitWorktreeManager(t.TempDir(), NewGitRunner(nil))
	if err := mgr.AddWorktree(context.Background(), "", "b"); err == nil {
		t.Error("expected error for empty path")
	}
	if err := mgr.AddWorktree(context.Background(), "/tmp/x", ""); err == nil {
		t.Error("expected error for empty branch")
	}
}

func TestWorktreeLifecycle(t *testing.T) {
	ctx := context.Background()
	mgr, repo := newTestManager(t)
	branch := "issue-7-add-search"
	wtPath := filepath.Join(repo, ".context-weave", "worktrees", "7")

	if mgr.BranchExists(ctx, branch) {
		t.Fatal("branch should not exist yet")
	}
	if err := mgr.CreateBranch(ctx, branch); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if !mgr.BranchExists(ctx, branch) {
		t.Fatal("branch should exist after CreateBranch")
	}
	if err := mgr.AddWorktree(ctx, wtPath, branch); err != nil {
		t.Fatalf("AddWorktree: %v", err)
	}
	if _, err := os.Stat(filepath.Join(wtPath, "README.md")); err != nil {
		t.Fatalf("worktree checkout missing: %v", err)
	}

	worktrees, err := mgr.ListWorktrees(ctx)
	if err != nil {
		t.Fatalf("ListWorktrees: %v", err)
	}
	found := false
	for _, wt := range worktrees {
		if wt.Branch == branch {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s in worktree list %+v", branch, worktrees)
	}

	changes, err := mgr.PendingChanges(ctx, wtPath)
	if err != nil {
		t.Fatalf("PendingChanges: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("expected clean worktree, got %v", changes)
	}
	if err := os.WriteFile(filepath.Join(wtPath, "new.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	changes, _ = mgr.PendingChanges(ctx, wtPath)
	if len(changes) != 1 {
		t.Errorf("expected one pending change, got %v", changes)
	}

	ts, err := mgr.LastCommitTime(ctx, wtPath)
	if err != nil || ts == nil {
		t.Fatalf("LastCommitTime = %v, %v", ts, err)
	}

	if err := mgr.RemoveWorktree(ctx, wtPath, false); err == nil {
		t.Error("expected non-forced remove of dirty worktree to fail")
	}
	if err := mgr.RemoveWorktree(ctx, wtPath, true); err != nil {
		t.Fatalf("RemoveWorktree force: %v", err)
	}
	if _, err := os.Stat(wtPath); !os.IsNotExist(err) {
		t.Error("worktree directory should be gone")
	}

	merged, err := mgr.MergedBranches(ctx, "main")
	if err != nil {
		t.Fatalf("MergedBranches: %v", err)
	}
	if !contains(merged, branch) {
		t.Errorf("fresh branch should be merged into main, got %v", merged)
	}
	if err := mgr.DeleteBranch(ctx, branch); err != nil {
		t.Fatalf("DeleteBranch: %v", err)
	}
	if mgr.BranchExists(ctx, branch) {
		t.Error("branch should be gone after DeleteBranch")
	}
}

func TestListBranches_Pattern(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)
	for _, b := range []string{"issue-1-a", "issue-2-b", "feature-x"} {
		if err := mgr.CreateBranch(ctx, b); err != nil {
			t.Fatal(err)
		}
	}
	got, err := mgr.ListBranches(ctx, "issue-*")
	if err != nil {
		t.Fatalf("ListBranches: %v", err)
	}
	if len(got) != 2 || !contains(got, "issue-1-a") || !contains(got, "issue-2-b") {
		t.Errorf("ListBranches(issue-*) = %v", got)
	}
}

func TestPruneWorktrees_RemovesMissingDirectories(t *testing.T) {
	ctx := context.Background()
	mgr, repo := newTestManager(t)
	wtPath := filepath.Join(repo, ".context-weave", "worktrees", "3")
	if err := mgr.CreateBranch(ctx, "issue-3-x"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.AddWorktree(ctx, wtPath, "issue-3-x"); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(wtPath); err != nil {
		t.Fatal(err)
	}
	if err := mgr.PruneWorktrees(ctx); err != nil {
		t.Fatalf("PruneWorktrees: %v", err)
	}
	worktrees, _ := mgr.ListWorktrees(ctx)
	for _, wt := range worktrees {
		if wt.Branch == "issue-3-x" {
			t.Error("pruned worktree still listed")
		}
	}
}

func TestGitRunner_ErrorCarriesStderr(t *testing.T) {
	_, repo := newTestManager(t)
	_, err := NewGitRunner(nil).Run(context.Background(), repo, "checkout", "does-not-exist")
	var gitErr *GitError
	if !errors.As(err, &gitErr) {
		t.Fatalf("expected *GitError, got %T", err)
	}
	if gitErr.Stderr == "" {
		t.Error("expected stderr to be captured")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
