package core

import (
	"context"
	"time"

	"github.com/valter-silva-au/context-weave/pkg/models"
)

// GitOps is the git vocabulary core services need. It is defined locally so
// core does not import the integration package; app.go adapts the
// integration worktree manager to it.
type GitOps interface {
	AddWorktree(ctx context.Context, path, branch string) error
	RemoveWorktree(ctx context.Context, path string, force bool) error
	PruneWorktrees(ctx context.Context) error
	// ListWorktrees maps each checked-out worktree path to its branch.
	ListWorktrees(ctx context.Context) (map[string]string, error)
	BranchExists(ctx context.Context, branch string) bool
	CreateBranch(ctx context.Context, branch string) error
	DeleteBranch(ctx context.Context, branch string) error
	ListBranches(ctx context.Context, pattern string) ([]string, error)
	MergedBranches(ctx context.Context, into string) ([]string, error)
	PendingChanges(ctx context.Context, dir string) ([]string, error)
	LastCommitTime(ctx context.Context, dir string) (*time.Time, error)
	PushBranch(ctx context.Context, branch string) error
}

// NoteStore reads and writes per-branch handoff metadata.
type NoteStore interface {
	Get(ctx context.Context, branch string) (*models.HandoffNote, error)
	Put(ctx context.Context, branch string, note models.HandoffNote) error
	RefExists(ctx context.Context) bool
}

// RemoteTracker is the remote issue tracker used for sync and best-effort
// status updates. A nil RemoteTracker means local mode.
type RemoteTracker interface {
	ListIssues(ctx context.Context, state string, labels []string) ([]models.RemoteIssueSnapshot, error)
	CreatePullRequest(ctx context.Context, head, base, title, body string) (string, error)
	UpdateProjectStatus(ctx context.Context, projectNumber, issue int, status string) error
}

// CommandRunner runs a shell command line in dir for automated checks.
type CommandRunner interface {
	RunShell(ctx context.Context, dir, command string) (exitCode int, output string, err error)
}

// ToolChecker reports the installed version of a command-line tool. The
// error is non-nil when the tool is missing or older than min.
type ToolChecker interface {
	CheckMinimumVersion(ctx context.Context, tool, min string) (version string, err error)
}

// Agent produces text for a role given instructions and the previous
// role's output. Implementations live in internal/agent.
type Agent interface {
	Invoke(ctx context.Context, role models.Role, instructions, prior string) (string, error)
}
