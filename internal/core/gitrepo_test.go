package core

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/context-weave/internal/integration"
	"github.com/valter-silva-au/context-weave/internal/storage"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

// worktreeGit adapts the integration worktree manager to GitOps.
type worktreeGit struct {
	integration.GitWorktreeManager
}

func (g worktreeGit) ListWorktrees(ctx context.Context) (map[string]string, error) {
	list, err := g.GitWorktreeManager.ListWorktrees(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(list))
	for _, wt := range list {
		out[wt.Path] = wt.Branch
	}
	return out, nil
}

// testRepo is a real git repository wired to the core services.
type testRepo struct {
	root   string
	deps   Deps
	state  storage.StateStore
	memory MemoryManager
	notes  NoteStore
}

func gitIn(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	root := t.TempDir()
	gitIn(t, root, "init", "-b", "main")
	gitIn(t, root, "config", "user.name", "Test User")
	gitIn(t, root, "config", "user.email", "test@example.com")
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("# test\n"), 0o644); err != nil {
		t.Fatalf("writing README: %v", err)
	}
	gitIn(t, root, "add", ".")
	gitIn(t, root, "commit", "-m", "initial commit")

	runner := integration.NewGitRunner(nil)
	state := storage.NewStateStore(root, nil)
	state.Load()
	memStore := storage.NewMemoryStore(root, nil)
	memStore.Load()
	memory := NewMemoryManager(memStore, models.MemoryConfig{}, nil)
	briefs, err := NewRoleBriefs(root, nil)
	if err != nil {
		t.Fatalf("NewRoleBriefs: %v", err)
	}
	notes := integration.NewNotesStore(root, runner)

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &testRepo{
		root:   root,
		state:  state,
		memory: memory,
		notes:  notes,
		deps: Deps{
			RepoRoot: root,
			Config:   DefaultConfig(),
			State:    state,
			Git:      worktreeGit{integration.NewGitWorktreeManager(root, runner)},
			Notes:    notes,
			Briefs:   briefs,
			Memory:   memory,
			Now:      func() time.Time { return clock },
		},
	}
}

// commitIn writes name in dir and commits it.
func commitIn(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	gitIn(t, dir, "add", name)
	gitIn(t, dir, "commit", "-m", "add "+name)
}

// recordingEvents captures events in memory.
type recordingEvents struct {
	types []string
	data  []map[string]any
}

func (r *recordingEvents) LogEvent(eventType string, data map[string]any) error {
	r.types = append(r.types, eventType)
	r.data = append(r.data, data)
	return nil
}

// fakeRemote records remote tracker calls.
type fakeRemote struct {
	issues    []models.RemoteIssueSnapshot
	listErr   error
	statusErr error
	statuses  []string
	prs       []string
}

func (f *fakeRemote) ListIssues(_ context.Context, _ string, _ []string) ([]models.RemoteIssueSnapshot, error) {
	return f.issues, f.listErr
}

func (f *fakeRemote) CreatePullRequest(_ context.Context, head, base, _, _ string) (string, error) {
	f.prs = append(f.prs, head+"->"+base)
	return "https://github.com/o/r/pull/1", nil
}

func (f *fakeRemote) UpdateProjectStatus(_ context.Context, _, issue int, status string) error {
	f.statuses = append(f.statuses, status)
	return f.statusErr
}
