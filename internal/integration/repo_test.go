package integration

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseGitHubRemote(t *testing.T) {
	tests := []struct {
		url, owner, repo string
	}{
		{"git@github.com:acme/widgets.git", "acme", "widgets"},
		{"git@github.com:acme/widgets", "acme", "widgets"},
		{"https://github.com/acme/widgets.git", "acme", "widgets"},
		{"https://github.com/acme/widgets", "acme", "widgets"},
		{"https://gitlab.com/acme/widgets.git", "", ""},
		{"", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.url, func(t *testing.T) {
			owner, repo := parseGitHubRemote(tc.url)
			if owner != tc.owner || repo != tc.repo {
				t.Errorf("parseGitHubRemote(%q) = (%q, %q), want (%q, %q)", tc.url, owner, repo, tc.owner, tc.repo)
			}
		})
	}
}

func TestFindRepoRoot_FromSubdirectory(t *testing.T) {
	repo := filepath.Join(t.TempDir(), "repo")
	setupTestGitRepo(t, repo)
	sub := filepath.Join(repo, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	root, err := FindRepoRoot(sub)
	if err != nil {
		t.Fatalf("FindRepoRoot: %v", err)
	}
	want, _ := filepath.EvalSymlinks(repo)
	got, _ := filepath.EvalSymlinks(root)
	if got != want {
		t.Errorf("root = %q, want %q", got, want)
	}
}

func TestFindRepoRoot_FromLinkedWorktree(t *testing.T) {
	repo := filepath.Join(t.TempDir(), "repo")
	setupTestGitRepo(t, repo)
	linked := filepath.Join(repo, ".context-weave", "worktrees", "7")
	runGit(t, repo, "branch", "issue-7-login")
	runGit(t, repo, "worktree", "add", linked, "issue-7-login")

	root, err := FindRepoRoot(linked)
	if err != nil {
		t.Fatalf("FindRepoRoot: %v", err)
	}
	want, _ := filepath.EvalSymlinks(repo)
	got, _ := filepath.EvalSymlinks(root)
	if got != want {
		t.Errorf("root = %q, want main checkout %q", got, want)
	}
}

func TestFindRepoRoot_NotARepo(t *testing.T) {
	if _, err := FindRepoRoot(t.TempDir()); err == nil {
		t.Error("expected error outside a repository")
	}
}

func TestOriginRepo(t *testing.T) {
	repo := filepath.Join(t.TempDir(), "repo")
	setupTestGitRepo(t, repo)

	if _, _, err := OriginRepo(repo); !errors.Is(err, ErrNoOrigin) {
		t.Errorf("expected ErrNoOrigin without a remote, got %v", err)
	}

	runGit(t, repo, "remote", "add", "origin", "git@github.com:acme/widgets.git")
	owner, name, err := OriginRepo(repo)
	if err != nil {
		t.Fatalf("OriginRepo: %v", err)
	}
	if owner != "acme" || name != "widgets" {
		t.Errorf("got %s/%s, want acme/widgets", owner, name)
	}
}
