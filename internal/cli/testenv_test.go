package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/context-weave/internal/agent"
	"github.com/valter-silva-au/context-weave/internal/core"
	"github.com/valter-silva-au/context-weave/internal/integration"
	"github.com/valter-silva-au/context-weave/internal/observability"
	"github.com/valter-silva-au/context-weave/internal/storage"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

// worktreeGit adapts the integration worktree manager to core.GitOps.
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

// fakeTokens keeps the token in memory instead of the OS keyring.
type fakeTokens struct {
	token  string
	source string
}

func (f *fakeTokens) Resolve(context.Context) (string, string, error) {
	if f.token == "" {
		return "", "", integration.ErrTokenNotFound
	}
	return f.token, f.source, nil
}

func (f *fakeTokens) Store(token string) error {
	f.token, f.source = token, integration.TokenSourceKeyring
	return nil
}

func (f *fakeTokens) Clear() error {
	f.token, f.source = "", ""
	return nil
}

// recordingNotifier captures alerts instead of posting them.
type recordingNotifier struct {
	sent [][]observability.Alert
}

func (r *recordingNotifier) Notify(_ context.Context, alerts []observability.Alert) error {
	r.sent = append(r.sent, alerts)
	return nil
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

func newGitRepo(t *testing.T) string {
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
	return root
}

// newBareEnv wires every service against a fresh repository that has not
// been initialised.
func newBareEnv(t *testing.T) *Env {
	t.Helper()
	root := newGitRepo(t)

	cfg := core.DefaultConfig()
	cfg.Agent.Provider = agent.ProviderEcho
	configMgr := core.NewConfigurationManager(root)

	state := storage.NewStateStore(root, nil)
	state.Load()
	memStore := storage.NewMemoryStore(root, nil)
	memStore.Load()
	memory := core.NewMemoryManager(memStore, cfg.Memory, nil)
	briefs, err := core.NewRoleBriefs(root, nil)
	if err != nil {
		t.Fatalf("NewRoleBriefs: %v", err)
	}
	runner := integration.NewGitRunner(nil)

	eventLog, err := observability.NewJSONLEventLog(filepath.Join(root, storage.DirName, observability.FileName))
	if err != nil {
		t.Fatalf("NewJSONLEventLog: %v", err)
	}
	t.Cleanup(func() { _ = eventLog.Close() })

	threads := storage.NewThreadStore(root, nil)

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deps := core.Deps{
		RepoRoot: root,
		Config:   cfg,
		State:    state,
		Git:      worktreeGit{integration.NewGitWorktreeManager(root, runner)},
		Notes:    integration.NewNotesStore(root, runner),
		Briefs:   briefs,
		Memory:   memory,
		Events:   eventLog,
		Threads:  threads,
	}
	tokens := &fakeTokens{}

	env := &Env{
		RepoRoot:  root,
		Config:    cfg,
		ConfigMgr: configMgr,
		State:     state,
		Memory:    memory,
		Tokens:    tokens,
		Threads:   threads,
		EventLog:  eventLog,
		Metrics:   observability.NewMetricsCalculator(eventLog),
		Alerts:    observability.NewAlertEngine(eventLog, observability.DefaultAlertThresholds()),
		DetectOrigin: func(string) (string, string, error) {
			return "", "", integration.ErrNoOrigin
		},
		Version: VersionInfo{Version: "1.2.3", Commit: "abc1234", Date: "2026-03-01"},
		Now:     func() time.Time { return clock },
	}
	env.Subagents = core.NewEnvironmentManager(deps)
	env.DoD = core.NewDoDChecker(deps)
	env.Handoffs = core.NewHandoffManager(deps, env.DoD)
	env.Orchestrator = core.NewOrchestrator(deps, agent.NewEcho(), env.Handoffs)
	env.Starter = core.NewStarter(deps, env.Subagents)
	env.Syncer = core.NewSyncer(deps)
	env.Doctor = core.NewDoctor(deps, env.Subagents, configMgr, tokens)
	env.Initializer = core.NewProjectInitializer(deps, configMgr)
	return env
}

// newTestEnv returns an environment initialised in local mode.
func newTestEnv(t *testing.T) *Env {
	t.Helper()
	env := newBareEnv(t)
	if _, err := execute(env, "init"); err != nil {
		t.Fatalf("cw init: %v", err)
	}
	return env
}

// execute runs cw with args and returns everything written to stdout.
func execute(env *Env, args ...string) (string, error) {
	cmd := NewRootCmd(env)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustExecute(t *testing.T, env *Env, args ...string) string {
	t.Helper()
	out, err := execute(env, args...)
	if err != nil {
		t.Fatalf("cw %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func assertContains(t *testing.T, out string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("output missing %q:\n%s", w, out)
		}
	}
}

func asSetupError(err error) (*core.SetupError, bool) {
	var se *core.SetupError
	ok := errors.As(err, &se)
	return se, ok
}

func asValidationError(err error) (*core.ValidationError, bool) {
	var ve *core.ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

// spawn creates a local issue and its engineer environment.
func spawn(t *testing.T, env *Env, title string) models.Worktree {
	t.Helper()
	res, err := env.Starter.Start(context.Background(), core.StartRequest{
		Title:     title,
		IssueType: models.IssueTypeStory,
		Role:      models.RoleEngineer,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return res.Worktree
}
