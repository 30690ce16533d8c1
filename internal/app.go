// Package internal wires the ContextWeave services together and hands them
// to the CLI layer.
package internal

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/valter-silva-au/context-weave/internal/agent"
	"github.com/valter-silva-au/context-weave/internal/cli"
	"github.com/valter-silva-au/context-weave/internal/core"
	"github.com/valter-silva-au/context-weave/internal/integration"
	"github.com/valter-silva-au/context-weave/internal/logging"
	"github.com/valter-silva-au/context-weave/internal/observability"
	"github.com/valter-silva-au/context-weave/internal/storage"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

// App owns the command environment and the resources behind it.
type App struct {
	Env *cli.Env

	eventLog  observability.EventLog
	auditFile *os.File
}

// Options tunes NewApp. Zero values select the process defaults.
type Options struct {
	// WorkDir is where the repository search starts. Defaults to the cwd.
	WorkDir string
	// LogOutput receives diagnostic logs. Defaults to stderr.
	LogOutput io.Writer
	// Getenv reads environment variables. Defaults to os.Getenv.
	Getenv  func(string) string
	Version cli.VersionInfo
}

// NewApp builds every service for the repository containing opts.WorkDir.
// Outside a git repository it still returns an App; commands that need the
// repository report Env.SetupErr.
func NewApp(ctx context.Context, opts Options) (*App, error) {
	if opts.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		opts.WorkDir = wd
	}
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stderr
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}

	executor := integration.NewCLIExecutor()
	env := &cli.Env{
		Tokens:       integration.NewTokenResolver(executor),
		DetectOrigin: integration.OriginRepo,
		Version:      opts.Version,
		Logger:       logging.Nop(),
	}
	app := &App{Env: env}

	root, err := integration.FindRepoRoot(opts.WorkDir)
	if err != nil {
		env.SetupErr = &core.SetupError{
			Op:          "cw",
			Msg:         "not inside a git repository",
			Remediation: "cd into a git repository (or run git init) and retry",
			Err:         err,
		}
		return app, nil
	}
	env.RepoRoot = root

	// --- Configuration ---
	configMgr := core.NewConfigurationManager(root)
	cfg, cfgErr := configMgr.Load()
	if cfgErr != nil {
		cfg = core.DefaultConfig()
	}
	env.ConfigMgr = configMgr
	env.Config = cfg

	logger := newLogger(cfg.Log, opts)
	env.Logger = logger
	if cfgErr != nil {
		logger.Warn("config could not be loaded, using defaults", zap.Error(cfgErr))
	}

	// --- Storage layer ---
	state := storage.NewStateStore(root, logger)
	state.Load()
	if rec := state.Recovered(); rec != nil {
		logger.Warn("state.json was unreadable and has been reset", zap.Error(rec))
	}
	memStore := storage.NewMemoryStore(root, logger)
	memStore.Load()
	if rec := memStore.Recovered(); rec != nil {
		logger.Warn("memory.json was unreadable and has been reset", zap.Error(rec))
	}
	env.State = state

	// --- Integration services ---
	gitRunner := integration.NewGitRunner(logger)
	worktrees := integration.NewGitWorktreeManager(root, gitRunner)
	notes := integration.NewNotesStore(root, gitRunner)

	briefs, err := core.NewRoleBriefs(root, cfg.SkillRouting)
	if err != nil {
		env.SetupErr = &core.SetupError{
			Op:          "cw",
			Msg:         "role templates could not be loaded",
			Remediation: "fix or remove " + filepath.Join(storage.DirName, core.RoleOverridesFile),
			Err:         err,
		}
		return app, nil
	}

	// --- Observability ---
	// The event log lives in .context-weave, so it is only opened once the
	// repository has been initialised.
	var events core.EventLogger
	if state.Exists() {
		eventLog, err := observability.NewJSONLEventLog(filepath.Join(root, storage.DirName, observability.FileName))
		if err != nil {
			logger.Warn("event log disabled", zap.Error(err))
		} else {
			app.eventLog = eventLog
			events = eventLog
			env.EventLog = eventLog
			env.Metrics = observability.NewMetricsCalculator(eventLog)
			env.Alerts = observability.NewAlertEngine(eventLog, observability.DefaultAlertThresholds())
			if url := opts.Getenv(cli.SlackWebhookEnv); url != "" {
				env.Notifier = observability.NewSlackNotifier(url, repoLabel(root, state.GitHub()))
			}
		}
	}

	// --- Command guard ---
	policy, err := core.NewCommandPolicy(cfg.Security)
	if err != nil {
		logger.Warn("security policy invalid, using defaults", zap.Error(err))
		policy, _ = core.NewCommandPolicy(core.DefaultSecurityConfig())
	}
	var audit *zap.Logger
	if state.Exists() {
		audit, app.auditFile = newAuditLogger(root, logger)
	}
	runner := core.NewGuardedRunner(&shellRunner{exec: executor}, policy, core.NewPathGuard(root), audit)

	threads := storage.NewThreadStore(root, logger)
	env.Threads = threads

	memory := core.NewMemoryManager(memStore, cfg.Memory, logger)
	deps := core.Deps{
		RepoRoot: root,
		Config:   cfg,
		State:    state,
		Git:      &gitOpsAdapter{GitWorktreeManager: worktrees},
		Notes:    notes,
		Briefs:   briefs,
		Memory:   memory,
		Remote:   newRemote(ctx, state, cfg, env.Tokens, logger),
		Runner:   runner,
		Threads:  threads,
		Events:   events,
		Tools:    integration.NewVersionChecker(executor),
		Logger:   logger,
	}

	// --- Core services ---
	ag, err := agent.New(cfg.Agent, executor, logger)
	if err != nil {
		logger.Warn("agent provider unavailable", zap.String("provider", cfg.Agent.Provider), zap.Error(err))
		ag = unavailableAgent{err: err}
	}

	env.Subagents = core.NewEnvironmentManager(deps)
	env.DoD = core.NewDoDChecker(deps)
	env.Handoffs = core.NewHandoffManager(deps, env.DoD)
	env.Memory = memory
	env.Orchestrator = core.NewOrchestrator(deps, ag, env.Handoffs)
	env.Starter = core.NewStarter(deps, env.Subagents)
	env.Syncer = core.NewSyncer(deps)
	env.Doctor = core.NewDoctor(deps, env.Subagents, configMgr, env.Tokens)
	env.Initializer = core.NewProjectInitializer(deps, configMgr)

	return app, nil
}

// Close releases the event log and audit file and flushes the logger.
func (a *App) Close() error {
	var err error
	if a.eventLog != nil {
		err = a.eventLog.Close()
	}
	if a.auditFile != nil {
		if cerr := a.auditFile.Close(); err == nil {
			err = cerr
		}
	}
	if a.Env != nil && a.Env.Logger != nil {
		_ = logging.Sync(a.Env.Logger)
	}
	return err
}

// newLogger builds the zap logger from config. CW_LOG_LEVEL overrides the
// configured level; an unusable setting falls back to warnings on stderr.
func newLogger(cfg models.LogConfig, opts Options) *zap.Logger {
	if lvl := opts.Getenv("CW_LOG_LEVEL"); lvl != "" {
		cfg.Level = lvl
	}
	logger, err := logging.New(logging.Config{Level: cfg.Level, Format: cfg.Format, Output: opts.LogOutput})
	if err == nil {
		return logger
	}
	fallback, ferr := logging.New(logging.Config{Level: "warn", Format: "console", Output: opts.LogOutput})
	if ferr != nil {
		return logging.Nop()
	}
	fallback.Warn("invalid log settings, using defaults", zap.Error(err))
	return fallback
}

// AuditFileName is the JSON-lines record of every command cw ran or refused
// on an agent's behalf.
const AuditFileName = "audit.log"

// newAuditLogger opens .context-weave/audit.log for appending. Failure
// disables auditing but never the command guard itself.
func newAuditLogger(root string, logger *zap.Logger) (*zap.Logger, *os.File) {
	path := filepath.Join(root, storage.DirName, AuditFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		logger.Warn("audit log disabled", zap.String("path", path), zap.Error(err))
		return nil, nil
	}
	audit, err := logging.New(logging.Config{Level: "info", Format: "json", Output: f})
	if err != nil {
		f.Close()
		logger.Warn("audit log disabled", zap.Error(err))
		return nil, nil
	}
	return audit, f
}

// newRemote returns the GitHub tracker for github and hybrid modes. Missing
// tokens or repository details leave it nil; cw doctor reports why.
func newRemote(ctx context.Context, state storage.StateStore, cfg *models.Config, tokens integration.TokenResolver, logger *zap.Logger) core.RemoteTracker {
	if !state.Exists() || state.Mode() == models.ModeLocal {
		return nil
	}
	gh := state.GitHub()
	if gh.Owner == nil || gh.Repo == nil {
		logger.Warn("github owner/repo not recorded; remote updates disabled")
		return nil
	}
	token, _, err := tokens.Resolve(ctx)
	if err != nil {
		logger.Warn("no GitHub token; remote updates disabled", zap.Error(err))
		return nil
	}
	client, err := integration.NewGitHubClient(ctx, token, *gh.Owner, *gh.Repo, integration.GitHubClientOptions{
		RatePerSec: cfg.GitHub.RateLimitPerSec,
		Logger:     logger,
	})
	if err != nil {
		logger.Warn("github client unavailable", zap.Error(err))
		return nil
	}
	return &remoteAdapter{client: client}
}

func repoLabel(root string, gh models.GitHubSettings) string {
	if gh.Owner != nil && gh.Repo != nil {
		return *gh.Owner + "/" + *gh.Repo
	}
	return filepath.Base(root)
}

// --- Adapters ---

// gitOpsAdapter adapts integration.GitWorktreeManager to core.GitOps.
type gitOpsAdapter struct {
	integration.GitWorktreeManager
}

func (a *gitOpsAdapter) ListWorktrees(ctx context.Context) (map[string]string, error) {
	list, err := a.GitWorktreeManager.ListWorktrees(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(list))
	for _, wt := range list {
		if wt.Bare {
			continue
		}
		out[filepath.Clean(wt.Path)] = wt.Branch
	}
	return out, nil
}

// remoteAdapter adapts integration.RemoteClient to core.RemoteTracker.
type remoteAdapter struct {
	client integration.RemoteClient
}

func (a *remoteAdapter) ListIssues(ctx context.Context, state string, labels []string) ([]models.RemoteIssueSnapshot, error) {
	return a.client.ListIssues(ctx, integration.IssueQuery{State: state, Labels: labels})
}

func (a *remoteAdapter) CreatePullRequest(ctx context.Context, head, base, title, body string) (string, error) {
	pr, err := a.client.CreatePullRequest(ctx, integration.PullRequestInput{Head: head, Base: base, Title: title, Body: body})
	if err != nil {
		return "", err
	}
	return pr.URL, nil
}

func (a *remoteAdapter) UpdateProjectStatus(ctx context.Context, projectNumber, issue int, status string) error {
	return a.client.UpdateProjectStatus(ctx, projectNumber, issue, status)
}

// shellRunner adapts integration.CLIExecutor to core.CommandRunner.
type shellRunner struct {
	exec integration.CLIExecutor
}

func (r *shellRunner) RunShell(ctx context.Context, dir, command string) (int, string, error) {
	res, err := r.exec.Exec(ctx, integration.CLIExecConfig{CLI: "sh", Args: []string{"-c", command}, Dir: dir})
	if err != nil {
		return -1, "", err
	}
	return res.ExitCode, res.Stdout + res.Stderr, nil
}

// unavailableAgent reports a provider that could not be constructed as a
// failure of every step, so cw run records it instead of refusing to start.
type unavailableAgent struct {
	err error
}

func (a unavailableAgent) Invoke(context.Context, models.Role, string, string) (string, error) {
	return "", a.err
}

var (
	_ core.GitOps        = (*gitOpsAdapter)(nil)
	_ core.RemoteTracker = (*remoteAdapter)(nil)
	_ core.CommandRunner = (*shellRunner)(nil)
	_ core.Agent         = unavailableAgent{}
)
