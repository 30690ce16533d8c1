package cli

import (
	"time"

	"go.uber.org/zap"

	"github.com/valter-silva-au/context-weave/internal/core"
	"github.com/valter-silva-au/context-weave/internal/integration"
	"github.com/valter-silva-au/context-weave/internal/observability"
	"github.com/valter-silva-au/context-weave/internal/storage"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

// VersionInfo is injected via ldflags at build time.
type VersionInfo struct {
	Version string
	Commit  string
	Date    string
}

// Env carries every service a command needs. It is built once per process
// and passed to NewRootCmd; commands never reach for package state.
type Env struct {
	RepoRoot string
	Config   *models.Config
	// SetupErr is set when the services could not be built, for example
	// outside a git repository. Commands that need the repository return it.
	SetupErr error

	ConfigMgr    core.ConfigurationManager
	State        storage.StateStore
	Subagents    core.EnvironmentManager
	Handoffs     core.HandoffManager
	DoD          core.DoDChecker
	Memory       core.MemoryManager
	Orchestrator core.Orchestrator
	Starter      core.Starter
	Syncer       core.Syncer
	Doctor       core.Doctor
	Initializer  core.ProjectInitializer
	Tokens       integration.TokenResolver
	Threads      storage.ThreadStore

	// Observability services are nil when the event log cannot be opened.
	EventLog observability.EventLog
	Metrics  observability.MetricsCalculator
	Alerts   observability.AlertEngine
	Notifier observability.Notifier

	// DetectOrigin returns the GitHub owner and repository of origin.
	DetectOrigin func(repoRoot string) (owner, repo string, err error)

	Logger  *zap.Logger
	Version VersionInfo
	Now     func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (e *Env) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

// requireRepo fails when the services could not be built.
func (e *Env) requireRepo() error {
	if e.SetupErr != nil {
		return e.SetupErr
	}
	if e.State == nil {
		return &core.SetupError{Op: "cw", Msg: "services not initialised", Remediation: "run cw inside a git repository"}
	}
	return nil
}

// requireInit additionally fails when cw init has not been run.
func (e *Env) requireInit() error {
	if err := e.requireRepo(); err != nil {
		return err
	}
	if !e.State.Exists() {
		return &core.SetupError{
			Op:          "cw",
			Msg:         "ContextWeave is not initialised in " + e.RepoRoot,
			Remediation: "cw init",
		}
	}
	return nil
}
