package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/valter-silva-au/context-weave/internal/storage"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

// Deps bundles the collaborators shared by the environment, handoff,
// validation, orchestration and sync services. Remote, Events, Tools and
// Threads may be nil.
type Deps struct {
	RepoRoot string
	Config   *models.Config
	State    storage.StateStore
	Git      GitOps
	Notes    NoteStore
	Briefs   RoleBriefs
	Memory   MemoryManager
	Remote   RemoteTracker
	Runner   CommandRunner
	Events   EventLogger
	Tools    ToolChecker
	Threads  storage.ThreadStore
	Logger   *zap.Logger
	Now      func() time.Time
}

func (d *Deps) withDefaults() *Deps {
	out := *d
	if out.Config == nil {
		out.Config = DefaultConfig()
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.Now == nil {
		out.Now = func() time.Time { return time.Now().UTC() }
	}
	return &out
}

// worktreePath returns the absolute checkout path for issue.
func (d *Deps) worktreePath(issue int) string {
	base := d.Config.WorktreeBase
	if base == "" {
		base = filepath.Join(storage.DirName, "worktrees")
	}
	if !filepath.IsAbs(base) {
		base = filepath.Join(d.RepoRoot, base)
	}
	return filepath.Join(base, strconv.Itoa(issue))
}

func (d *Deps) trunk() string {
	if d.Config.TrunkBranch != "" {
		return d.Config.TrunkBranch
	}
	return "main"
}

// remoteEnabled reports whether best-effort remote updates should run.
func (d *Deps) remoteEnabled() bool {
	return d.Remote != nil && d.State.Mode() != models.ModeLocal
}

func (d *Deps) projectNumber() int {
	if n := d.Config.GitHub.ProjectNumber; n > 0 {
		return n
	}
	if p := d.State.GitHub().ProjectNumber; p != nil {
		return *p
	}
	return 0
}

// repoName returns the owner/repo recorded at init, for error messages.
func (d *Deps) repoName() string {
	gh := d.State.GitHub()
	if gh.Owner == nil || gh.Repo == nil {
		return "the GitHub repository"
	}
	return *gh.Owner + "/" + *gh.Repo
}

// updateRemoteStatus moves the issue's project card. The outcome is always
// reported as a side effect; failures never propagate.
func (d *Deps) updateRemoteStatus(ctx context.Context, issue int, status string) *models.SideEffect {
	if !d.remoteEnabled() {
		return nil
	}
	name := "project_status"
	project := d.projectNumber()
	if project == 0 {
		return &models.SideEffect{Name: name, Status: models.SideEffectWarning, Detail: "github.project_number is not configured"}
	}
	if err := d.Remote.UpdateProjectStatus(ctx, project, issue, status); err != nil {
		d.Logger.Warn("project status update failed",
			zap.Int("issue", issue), zap.String("status", status), zap.Error(err))
		return &models.SideEffect{Name: name, Status: models.SideEffectWarning, Detail: err.Error()}
	}
	return &models.SideEffect{Name: name, Status: models.SideEffectOK, Detail: status}
}

func (d *Deps) requireWorktree(op string, issue int) (models.Worktree, error) {
	wt, ok := d.State.GetWorktree(issue)
	if !ok {
		return wt, &SetupError{
			Op:          op,
			Msg:         fmt.Sprintf("No active SubAgent for issue #%d", issue),
			Remediation: fmt.Sprintf("cw subagent spawn %d --role <role>", issue),
			Err:         ErrNoEnvironment,
		}
	}
	return wt, nil
}

// issueInfo returns what is known locally about issue. Unknown issues
// default to a story without labels.
func (d *Deps) issueInfo(issue int) (title string, issueType models.IssueType, labels []string, body string) {
	if local, ok := d.State.GetIssue(issue); ok {
		return local.Title, local.Type, local.Labels, local.Body
	}
	if snap, ok := d.State.GitHub().IssueCache[strconv.Itoa(issue)]; ok {
		return snap.Title, issueTypeFromLabels(snap.Labels), snap.Labels, snap.Body
	}
	return "", models.IssueTypeStory, nil, ""
}

func issueTypeFromLabels(labels []string) models.IssueType {
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if t, ok := strings.CutPrefix(l, "type:"); ok {
			for _, v := range models.ValidIssueTypes {
				if string(v) == t {
					return v
				}
			}
		}
	}
	return models.IssueTypeStory
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureExcluded adds the .context-weave directory to the repository's
// info/exclude so briefs and state never show up as pending changes.
func EnsureExcluded(repoRoot string) error {
	gitDir := filepath.Join(repoRoot, ".git")
	info, err := os.Stat(gitDir)
	if err != nil || !info.IsDir() {
		// Linked worktrees and bare layouts are left alone.
		return nil
	}
	path := filepath.Join(gitDir, "info", "exclude")
	entry := "/" + storage.DirName + "/"

	f, err := os.Open(path)
	switch {
	case err == nil:
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == entry || line == storage.DirName+"/" || line == storage.DirName {
				_ = f.Close()
				return nil
			}
		}
		_ = f.Close()
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	out, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = out.Close() }()
	if _, err := fmt.Fprintf(out, "\n%s\n", entry); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
