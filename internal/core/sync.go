package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/valter-silva-au/context-weave/pkg/models"
)

// ProjectStatuses are the Status options of the Projects V2 board.
var ProjectStatuses = []string{"Backlog", "In Progress", "In Review", "Ready", "Done"}

// SyncStatus summarises the local view of the remote tracker.
type SyncStatus struct {
	Mode            models.Mode `json:"mode"`
	Owner           string      `json:"owner,omitempty"`
	Repo            string      `json:"repo,omitempty"`
	ProjectNumber   int         `json:"project_number,omitempty"`
	LastSync        *time.Time  `json:"last_sync,omitempty"`
	CachedIssues    int         `json:"cached_issues"`
	IssueBranches   int         `json:"issue_branches"`
	ActiveSubagents int         `json:"active_subagents"`
}

// PullResult lists the issues fetched by a pull.
type PullResult struct {
	Issues []models.RemoteIssueSnapshot `json:"issues"`
	DryRun bool                         `json:"dry_run"`
}

// PushResult reports which completed branches were pushed.
type PushResult struct {
	Pending []string            `json:"pending"`
	Pushed  []string            `json:"pushed"`
	Failed  []models.SideEffect `json:"failed,omitempty"`
	DryRun  bool                `json:"dry_run"`
}

// Syncer moves issue data between the remote tracker and local state.
type Syncer interface {
	// Pull caches the remote's open issues into state.
	Pull(ctx context.Context, dryRun bool) (*PullResult, error)
	// Push pushes issue branches whose note is completed but not pushed.
	Push(ctx context.Context, dryRun bool) (*PushResult, error)
	// UpdateStatus moves the issue's project card to status.
	UpdateStatus(ctx context.Context, issue int, status string) error
	Status(ctx context.Context) SyncStatus
}

type syncer struct {
	*Deps
}

// NewSyncer creates a Syncer. deps.Remote may be nil; Pull and
// UpdateStatus then fail with a SetupError.
func NewSyncer(deps Deps) Syncer {
	return &syncer{Deps: deps.withDefaults()}
}

func (s *syncer) requireRemote(op string) error {
	if s.Remote == nil {
		return &SetupError{
			Op:          op,
			Msg:         "GitHub sync not configured",
			Remediation: "cw init --mode github",
		}
	}
	return nil
}

func (s *syncer) Pull(ctx context.Context, dryRun bool) (*PullResult, error) {
	if err := s.requireRemote("sync pull"); err != nil {
		return nil, err
	}
	issues, err := s.Remote.ListIssues(ctx, "open", nil)
	if err != nil {
		return nil, classifyRemoteError(remoteFailure{
			op:     "sync pull",
			msg:    "fetching issues",
			retry:  "cw sync pull",
			target: s.repoName(),
		}, err)
	}
	result := &PullResult{Issues: issues, DryRun: dryRun}
	if dryRun {
		return result, nil
	}

	now := s.Now()
	err = s.State.Update(func() error {
		gh := s.State.GitHub()
		if gh.IssueCache == nil {
			gh.IssueCache = map[string]models.RemoteIssueSnapshot{}
		}
		for _, issue := range issues {
			issue.SyncedAt = now
			if issue.Labels == nil {
				issue.Labels = []string{}
			}
			gh.IssueCache[strconv.Itoa(issue.Number)] = issue
		}
		gh.LastSync = &now
		s.State.SetGitHub(gh)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sync pull: caching issues: %w", err)
	}

	s.Logger.Info("issues pulled", zap.Int("count", len(issues)))
	logEvent(s.Events, EventSyncPull, map[string]any{"issues": len(issues)})
	return result, nil
}

func (s *syncer) Push(ctx context.Context, dryRun bool) (*PushResult, error) {
	branches, err := s.Git.ListBranches(ctx, "issue-*")
	if err != nil {
		return nil, fmt.Errorf("sync push: listing branches: %w", err)
	}

	result := &PushResult{Pending: []string{}, Pushed: []string{}, DryRun: dryRun}
	for _, branch := range branches {
		note, err := s.Notes.Get(ctx, branch)
		if err != nil || note == nil {
			continue
		}
		if note.Status != models.NoteCompleted || note.Pushed {
			continue
		}
		result.Pending = append(result.Pending, branch)
		if dryRun {
			continue
		}

		if err := s.Git.PushBranch(ctx, branch); err != nil {
			s.Logger.Warn("push failed", zap.String("branch", branch), zap.Error(err))
			result.Failed = append(result.Failed, models.SideEffect{Name: branch, Status: models.SideEffectWarning, Detail: err.Error()})
			continue
		}
		now := s.Now()
		note.Pushed = true
		note.PushedAt = &now
		if err := s.Notes.Put(ctx, branch, *note); err != nil {
			result.Failed = append(result.Failed, models.SideEffect{Name: branch, Status: models.SideEffectWarning, Detail: "pushed, but the note was not updated: " + err.Error()})
		}
		result.Pushed = append(result.Pushed, branch)
	}

	if !dryRun {
		s.Logger.Info("branches pushed", zap.Int("pushed", len(result.Pushed)), zap.Int("failed", len(result.Failed)))
		logEvent(s.Events, EventSyncPush, map[string]any{
			"pushed": len(result.Pushed),
			"failed": len(result.Failed),
		})
	}
	return result, nil
}

func (s *syncer) UpdateStatus(ctx context.Context, issue int, status string) error {
	valid := false
	for _, st := range ProjectStatuses {
		if st == status {
			valid = true
			break
		}
	}
	if !valid {
		return &ValidationError{
			Op:  "status update",
			Msg: fmt.Sprintf("unknown status %q (valid: %s)", status, strings.Join(ProjectStatuses, ", ")),
		}
	}
	if err := s.requireRemote("status update"); err != nil {
		return err
	}
	project := s.projectNumber()
	if project == 0 {
		return &SetupError{
			Op:          "status update",
			Msg:         "No project configured",
			Remediation: "set github.project_number in .context-weave/config.yaml",
		}
	}
	if err := s.Remote.UpdateProjectStatus(ctx, project, issue, status); err != nil {
		return classifyRemoteError(remoteFailure{
			op:     "status update",
			msg:    fmt.Sprintf("moving issue #%d to %s", issue, status),
			retry:  fmt.Sprintf("cw sync status-update %d %q", issue, status),
			target: fmt.Sprintf("issue #%d in %s or project %d", issue, s.repoName(), project),
		}, err)
	}
	s.Logger.Info("project status updated", zap.Int("issue", issue), zap.String("status", status))
	return nil
}

func (s *syncer) Status(ctx context.Context) SyncStatus {
	gh := s.State.GitHub()
	st := SyncStatus{
		Mode:            s.State.Mode(),
		ProjectNumber:   s.projectNumber(),
		LastSync:        gh.LastSync,
		CachedIssues:    len(gh.IssueCache),
		ActiveSubagents: len(s.State.Worktrees()),
	}
	if gh.Owner != nil {
		st.Owner = *gh.Owner
	}
	if gh.Repo != nil {
		st.Repo = *gh.Repo
	}
	if branches, err := s.Git.ListBranches(ctx, "issue-*"); err == nil {
		st.IssueBranches = len(branches)
	}
	return st
}
