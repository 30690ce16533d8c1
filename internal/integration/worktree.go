package integration

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Worktree is one entry of `git worktree list --porcelain`.
type Worktree struct {
	Path   string
	Branch string
	Head   string
	Bare   bool
}

// GitWorktreeManager wraps the fixed vocabulary of git commands used to
// manage per-issue worktrees and their branches in a single repository.
type GitWorktreeManager interface {
	RepoRoot() string
	AddWorktree(ctx context.Context, path, branch string) error
	RemoveWorktree(ctx context.Context, path string, force bool) error
	PruneWorktrees(ctx context.Context) error
	ListWorktrees(ctx context.Context) ([]*Worktree, error)
	BranchExists(ctx context.Context, branch string) bool
	CreateBranch(ctx context.Context, branch string) error
	DeleteBranch(ctx context.Context, branch string) error
	ListBranches(ctx context.Context, pattern string) ([]string, error)
	MergedBranches(ctx context.Context, into string) ([]string, error)
	PendingChanges(ctx context.Context, dir string) ([]string, error)
	LastCommitTime(ctx context.Context, dir string) (*time.Time, error)
	PushBranch(ctx context.Context, branch string) error
}

// gitWorktreeManager implements GitWorktreeManager using git CLI commands.
type gitWorktreeManager struct {
	repoRoot string
	git      GitRunner
}

// NewGitWorktreeManager creates a GitWorktreeManager for the repository at
// repoRoot.
func NewGitWorktreeManager(repoRoot string, git GitRunner) GitWorktreeManager {
	return &gitWorktreeManager{repoRoot: repoRoot, git: git}
}

func (m *gitWorktreeManager) RepoRoot() string {
	return m.repoRoot
}

// AddWorktree checks out an existing branch into a new worktree at path.
func (m *gitWorktreeManager) AddWorktree(ctx context.Context, path, branch string) error {
	if path == "" {
		return fmt.Errorf("worktree path must not be empty")
	}
	if branch == "" {
		return fmt.Errorf("branch must not be empty")
	}
	if _, err := m.git.Run(ctx, m.repoRoot, "worktree", "add", path, branch); err != nil {
		return err
	}
	return nil
}

// RemoveWorktree removes the worktree at path. With force, uncommitted
// changes are discarded.
func (m *gitWorktreeManager) RemoveWorktree(ctx context.Context, path string, force bool) error {
	if path == "" {
		return fmt.Errorf("worktree path must not be empty")
	}
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	if _, err := m.git.Run(ctx, m.repoRoot, args...); err != nil {
		return err
	}
	return nil
}

// PruneWorktrees drops administrative entries for worktrees whose
// directories have disappeared.
func (m *gitWorktreeManager) PruneWorktrees(ctx context.Context) error {
	_, err := m.git.Run(ctx, m.repoRoot, "worktree", "prune")
	return err
}

// ListWorktrees parses `git worktree list --porcelain`.
func (m *gitWorktreeManager) ListWorktrees(ctx context.Context) ([]*Worktree, error) {
	out, err := m.git.Run(ctx, m.repoRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeListOutput(out), nil
}

// parseWorktreeListOutput parses the porcelain output of `git worktree list`.
// Each worktree block is separated by a blank line and contains lines like:
//
//	worktree /path/to/worktree
//	HEAD <sha>
//	branch refs/heads/branch-name
func parseWorktreeListOutput(output string) []*Worktree {
	var worktrees []*Worktree

	for _, block := range strings.Split(strings.TrimSpace(output), "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		wt := &Worktree{}
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "worktree "):
				wt.Path = filepath.Clean(strings.TrimPrefix(line, "worktree "))
			case strings.HasPrefix(line, "HEAD "):
				wt.Head = strings.TrimPrefix(line, "HEAD ")
			case strings.HasPrefix(line, "branch refs/heads/"):
				wt.Branch = strings.TrimPrefix(line, "branch refs/heads/")
			case line == "bare":
				wt.Bare = true
			}
		}
		if wt.Path != "" {
			worktrees = append(worktrees, wt)
		}
	}
	return worktrees
}

// BranchExists reports whether refs/heads/<branch> resolves. Any git failure
// is treated as absent.
func (m *gitWorktreeManager) BranchExists(ctx context.Context, branch string) bool {
	out, err := m.git.Run(ctx, m.repoRoot, "branch", "--list", branch)
	return err == nil && strings.TrimSpace(out) != ""
}

// CreateBranch creates branch at the current HEAD of the main checkout.
func (m *gitWorktreeManager) CreateBranch(ctx context.Context, branch string) error {
	_, err := m.git.Run(ctx, m.repoRoot, "branch", branch)
	return err
}

// DeleteBranch deletes a merged branch. Unmerged branches are refused by git.
func (m *gitWorktreeManager) DeleteBranch(ctx context.Context, branch string) error {
	_, err := m.git.Run(ctx, m.repoRoot, "branch", "-d", branch)
	return err
}

// ListBranches returns local branch names matching a glob pattern.
func (m *gitWorktreeManager) ListBranches(ctx context.Context, pattern string) ([]string, error) {
	args := []string{"branch", "--list", "--format=%(refname:short)"}
	if pattern != "" {
		args = append(args, pattern)
	}
	out, err := m.git.Run(ctx, m.repoRoot, args...)
	if err != nil {
		return nil, err
	}
	return splitBranchLines(out), nil
}

// MergedBranches returns the local branches fully merged into into.
func (m *gitWorktreeManager) MergedBranches(ctx context.Context, into string) ([]string, error) {
	out, err := m.git.Run(ctx, m.repoRoot, "branch", "--merged", into, "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	return splitBranchLines(out), nil
}

func splitBranchLines(out string) []string {
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "* "))
		line = strings.TrimPrefix(line, "+ ")
		if line != "" {
			branches = append(branches, line)
		}
	}
	return branches
}

// PendingChanges returns the porcelain status lines of the checkout at dir.
func (m *gitWorktreeManager) PendingChanges(ctx context.Context, dir string) ([]string, error) {
	out, err := m.git.Run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// LastCommitTime returns the author date of HEAD in dir, or nil when the
// checkout has no commits.
func (m *gitWorktreeManager) LastCommitTime(ctx context.Context, dir string) (*time.Time, error) {
	out, err := m.git.Run(ctx, dir, "log", "-1", "--format=%aI")
	if err != nil {
		return nil, err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, out)
	if err != nil {
		return nil, fmt.Errorf("parsing commit time %q: %w", out, err)
	}
	return &ts, nil
}

// PushBranch pushes branch to origin and sets its upstream.
func (m *gitWorktreeManager) PushBranch(ctx context.Context, branch string) error {
	_, err := m.git.Run(ctx, m.repoRoot, "push", "-u", "origin", branch)
	return err
}
