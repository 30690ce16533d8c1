package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/valter-silva-au/context-weave/pkg/models"
)

// CompleteOptions controls how an environment is torn down.
type CompleteOptions struct {
	// Force skips the pending-changes gate and removes the worktree even
	// when it is dirty.
	Force      bool
	KeepBranch bool
	Push       bool
	CreatePR   bool
}

// CompleteResult describes a finished environment.
type CompleteResult struct {
	Issue         int                 `json:"issue"`
	Branch        string              `json:"branch"`
	Path          string              `json:"path"`
	BranchDeleted bool                `json:"branch_deleted"`
	SideEffects   []models.SideEffect `json:"side_effects"`
}

// EnvironmentManager owns the lifecycle of per-issue worktrees: spawn,
// complete, recover and inspection. state.json is the authority for whether
// an environment exists.
type EnvironmentManager interface {
	Spawn(ctx context.Context, issue int, role models.Role, titleHint string) (*models.Worktree, error)
	Complete(ctx context.Context, issue int, opts CompleteOptions) (*CompleteResult, error)
	Recover(ctx context.Context, issue int) error
	RecordActivity(ctx context.Context, issue int) (*models.HandoffNote, error)
	Status(ctx context.Context, issue int) (*models.WorktreeStatus, error)
	List(ctx context.Context) ([]models.WorktreeStatus, error)
}

type environmentManager struct {
	*Deps
}

// NewEnvironmentManager creates an EnvironmentManager over deps.
func NewEnvironmentManager(deps Deps) EnvironmentManager {
	return &environmentManager{Deps: deps.withDefaults()}
}

func (em *environmentManager) Spawn(ctx context.Context, issue int, role models.Role, titleHint string) (*models.Worktree, error) {
	if issue <= 0 {
		return nil, &ValidationError{Op: "spawn", Msg: fmt.Sprintf("issue number must be positive, got %d", issue)}
	}
	if !role.IsValid() {
		return nil, &ValidationError{
			Op:  "spawn",
			Msg: fmt.Sprintf("unknown role %q (valid: pm, ux, architect, engineer, reviewer)", role),
		}
	}
	if existing, ok := em.State.GetWorktree(issue); ok {
		return nil, &SetupError{
			Op:          "spawn",
			Msg:         fmt.Sprintf("SubAgent for issue #%d already exists at %s. Use 'cw subagent complete %d' first", issue, existing.Path, issue),
			Remediation: fmt.Sprintf("cw subagent complete %d", issue),
			Err:         ErrAlreadyExists,
		}
	}

	title, issueType, labels, body := em.issueInfo(issue)
	if strings.TrimSpace(titleHint) == "" {
		titleHint = title
	}
	branch := BranchName(issue, titleHint)
	path := em.worktreePath(issue)
	if err := NewPathGuard(em.RepoRoot).Check("spawn", path); err != nil {
		return nil, err
	}

	if err := EnsureExcluded(em.RepoRoot); err != nil {
		em.Logger.Warn("could not exclude state directory from git", zap.Error(err))
	}

	if !em.Git.BranchExists(ctx, branch) {
		if err := em.Git.CreateBranch(ctx, branch); err != nil {
			return nil, &SetupError{Op: "spawn", Msg: fmt.Sprintf("creating branch %s", branch), Err: err}
		}
		em.Logger.Info("branch created", zap.String("branch", branch))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("spawn: creating worktree base: %w", err)
	}
	if err := em.Git.AddWorktree(ctx, path, branch); err != nil {
		return nil, &SetupError{
			Op:          "spawn",
			Msg:         fmt.Sprintf("adding worktree at %s", path),
			Remediation: "cw doctor",
			Err:         err,
		}
	}

	now := em.Now()
	wt := models.Worktree{Issue: issue, Branch: branch, Path: path, Role: role, CreatedAt: now}
	err := em.State.Update(func() error {
		if err := em.State.AddWorktree(wt); err != nil {
			return err
		}
		if local, ok := em.State.GetIssue(issue); ok {
			local.Role = role
			return em.State.UpdateIssue(local)
		}
		return nil
	})
	if err != nil {
		if rmErr := em.Git.RemoveWorktree(ctx, path, true); rmErr != nil {
			em.Logger.Warn("rollback of worktree failed", zap.String("path", path), zap.Error(rmErr))
		}
		return nil, fmt.Errorf("spawn: registering worktree: %w", err)
	}

	note := models.HandoffNote{
		Issue:        issue,
		Role:         role,
		Type:         issueType,
		Title:        title,
		Description:  body,
		Labels:       append([]string{}, labels...),
		Status:       models.NoteSpawned,
		CreatedAt:    now,
		LastActivity: now,
		Commits:      0,
	}
	if err := em.Notes.Put(ctx, branch, note); err != nil {
		em.Logger.Warn("writing handoff note failed", zap.String("branch", branch), zap.Error(err))
	}

	em.writeBrief(wt, issueType, labels, firstNonEmpty(body, title))

	em.Logger.Info("subagent spawned",
		zap.Int("issue", issue), zap.String("role", string(role)),
		zap.String("branch", branch), zap.String("path", path))
	logEvent(em.Events, EventSubagentSpawned, map[string]any{
		"issue":  issue,
		"role":   string(role),
		"branch": branch,
		"path":   path,
	})
	return &wt, nil
}

// writeBrief renders the role brief into the worktree. Brief failures are
// logged; the environment stays usable without one.
func (em *environmentManager) writeBrief(wt models.Worktree, issueType models.IssueType, labels []string, prompt string) {
	if em.Briefs == nil {
		return
	}
	req := BriefRequest{
		Issue:     wt.Issue,
		Role:      wt.Role,
		IssueType: issueType,
		Labels:    labels,
		Prompt:    prompt,
	}
	if em.Memory != nil {
		req.Memory = em.Memory.RenderContext(wt.Issue, issueType, wt.Role, labels)
	}
	if _, err := em.Briefs.WriteBrief(wt.Path, req); err != nil {
		em.Logger.Warn("writing role brief failed", zap.Int("issue", wt.Issue), zap.Error(err))
	}
}

func (em *environmentManager) Complete(ctx context.Context, issue int, opts CompleteOptions) (*CompleteResult, error) {
	wt, err := em.requireWorktree("complete", issue)
	if err != nil {
		return nil, err
	}
	result := &CompleteResult{Issue: issue, Branch: wt.Branch, Path: wt.Path}
	exists := pathExists(wt.Path)
	if err := NewPathGuard(em.RepoRoot).Check("complete", wt.Path); err != nil {
		em.Logger.Warn("worktree outside repository left in place", zap.String("path", wt.Path))
		result.SideEffects = append(result.SideEffects, models.SideEffect{Name: "remove_worktree", Status: models.SideEffectWarning, Detail: err.Error()})
		exists = false
	}

	if exists {
		changes, err := em.Git.PendingChanges(ctx, wt.Path)
		if err != nil && !opts.Force {
			return nil, &SetupError{
				Op:          "complete",
				Msg:         fmt.Sprintf("checking pending changes in %s", wt.Path),
				Remediation: fmt.Sprintf("cw subagent complete %d --force", issue),
				Err:         err,
			}
		}
		if len(changes) > 0 && !opts.Force {
			return nil, &ValidationError{
				Op:          "complete",
				Msg:         fmt.Sprintf("worktree has %d uncommitted change(s). Commit or stash them first", len(changes)),
				Remediation: fmt.Sprintf("cw subagent complete %d --force", issue),
				Failed:      changes,
			}
		}
	}

	pushed := false
	if opts.Push || opts.CreatePR {
		if err := em.Git.PushBranch(ctx, wt.Branch); err != nil {
			em.Logger.Warn("push failed", zap.String("branch", wt.Branch), zap.Error(err))
			result.SideEffects = append(result.SideEffects, models.SideEffect{Name: "push", Status: models.SideEffectWarning, Detail: err.Error()})
		} else {
			pushed = true
			result.SideEffects = append(result.SideEffects, models.SideEffect{Name: "push", Status: models.SideEffectOK, Detail: wt.Branch})
		}
	}
	if opts.CreatePR {
		result.SideEffects = append(result.SideEffects, em.createPullRequest(ctx, wt, pushed))
	}

	if exists {
		if err := em.Git.RemoveWorktree(ctx, wt.Path, opts.Force); err != nil {
			if !opts.Force {
				return nil, &SetupError{
					Op:          "complete",
					Msg:         fmt.Sprintf("removing worktree %s", wt.Path),
					Remediation: fmt.Sprintf("cw subagent complete %d --force", issue),
					Err:         err,
				}
			}
			result.SideEffects = append(result.SideEffects, models.SideEffect{Name: "remove_worktree", Status: models.SideEffectWarning, Detail: err.Error()})
		}
	}

	now := em.Now()
	note, err := em.Notes.Get(ctx, wt.Branch)
	if err != nil || note == nil {
		note = &models.HandoffNote{Issue: issue, Role: wt.Role, CreatedAt: wt.CreatedAt, Labels: []string{}}
	}
	note.Status = models.NoteCompleted
	note.CompletedAt = &now
	note.LastActivity = now
	if pushed {
		note.Pushed = true
		note.PushedAt = &now
	}
	if err := em.Notes.Put(ctx, wt.Branch, *note); err != nil {
		em.Logger.Warn("writing completion note failed", zap.String("branch", wt.Branch), zap.Error(err))
		result.SideEffects = append(result.SideEffects, models.SideEffect{Name: "note", Status: models.SideEffectWarning, Detail: err.Error()})
	}

	if err := em.State.Update(func() error {
		em.State.RemoveWorktree(issue)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("complete: deregistering worktree: %w", err)
	}

	if em.Memory != nil {
		outcome := models.OutcomeSuccess
		if opts.Force {
			outcome = models.OutcomePartial
		}
		if err := em.Memory.RecordExecution(models.ExecutionRecord{
			Issue:   issue,
			Role:    wt.Role,
			Action:  "subagent_complete",
			Outcome: outcome,
		}); err != nil {
			result.SideEffects = append(result.SideEffects, models.SideEffect{Name: "memory", Status: models.SideEffectWarning, Detail: err.Error()})
		}
	}

	if !opts.KeepBranch {
		result.SideEffects = append(result.SideEffects, em.deleteIfMerged(ctx, wt.Branch, result))
	}
	if effect := em.updateRemoteStatus(ctx, issue, "Done"); effect != nil {
		result.SideEffects = append(result.SideEffects, *effect)
	}

	em.Logger.Info("subagent completed", zap.Int("issue", issue), zap.Bool("force", opts.Force))
	logEvent(em.Events, EventSubagentCompleted, map[string]any{
		"issue":          issue,
		"branch":         wt.Branch,
		"force":          opts.Force,
		"branch_deleted": result.BranchDeleted,
		"warnings":       len(models.Warnings(result.SideEffects)),
	})
	return result, nil
}

func (em *environmentManager) createPullRequest(ctx context.Context, wt models.Worktree, pushed bool) models.SideEffect {
	const name = "pull_request"
	if em.Remote == nil {
		return models.SideEffect{Name: name, Status: models.SideEffectWarning, Detail: "no remote configured (local mode)"}
	}
	if !pushed {
		return models.SideEffect{Name: name, Status: models.SideEffectWarning, Detail: "branch was not pushed"}
	}
	title, _, _, _ := em.issueInfo(wt.Issue)
	if title == "" {
		title = wt.Branch
	}
	body := fmt.Sprintf("Closes #%d\n\nCompleted by the %s agent.", wt.Issue, wt.Role)
	url, err := em.Remote.CreatePullRequest(ctx, wt.Branch, em.trunk(), fmt.Sprintf("#%d: %s", wt.Issue, title), body)
	if err != nil {
		em.Logger.Warn("pull request creation failed", zap.String("branch", wt.Branch), zap.Error(err))
		return models.SideEffect{Name: name, Status: models.SideEffectWarning, Detail: err.Error()}
	}
	return models.SideEffect{Name: name, Status: models.SideEffectOK, Detail: url}
}

// deleteIfMerged deletes branch only when the trunk already contains it.
func (em *environmentManager) deleteIfMerged(ctx context.Context, branch string, result *CompleteResult) models.SideEffect {
	const name = "delete_branch"
	merged, err := em.Git.MergedBranches(ctx, em.trunk())
	if err != nil {
		return models.SideEffect{Name: name, Status: models.SideEffectWarning, Detail: fmt.Sprintf("kept branch %s: %v", branch, err)}
	}
	for _, b := range merged {
		if b != branch {
			continue
		}
		if err := em.Git.DeleteBranch(ctx, branch); err != nil {
			return models.SideEffect{Name: name, Status: models.SideEffectWarning, Detail: err.Error()}
		}
		result.BranchDeleted = true
		return models.SideEffect{Name: name, Status: models.SideEffectOK, Detail: "deleted merged branch " + branch}
	}
	return models.SideEffect{Name: name, Status: models.SideEffectWarning, Detail: fmt.Sprintf("kept unmerged branch %s", branch)}
}

func (em *environmentManager) Recover(ctx context.Context, issue int) error {
	wt, err := em.requireWorktree("recover", issue)
	if err != nil {
		return err
	}
	if err := em.Git.PruneWorktrees(ctx); err != nil {
		em.Logger.Debug("worktree prune failed", zap.Error(err))
	}
	if pathExists(wt.Path) {
		em.Logger.Info("worktree present, nothing to recover", zap.Int("issue", issue))
		return nil
	}
	if !em.Git.BranchExists(ctx, wt.Branch) {
		return &SetupError{
			Op:          "recover",
			Msg:         fmt.Sprintf("Branch %s not found. Cannot recover", wt.Branch),
			Remediation: fmt.Sprintf("cw subagent complete %d --force", issue),
		}
	}
	if err := os.MkdirAll(filepath.Dir(wt.Path), 0o755); err != nil {
		return fmt.Errorf("recover: creating worktree base: %w", err)
	}
	if err := em.Git.AddWorktree(ctx, wt.Path, wt.Branch); err != nil {
		return &SetupError{Op: "recover", Msg: fmt.Sprintf("re-adding worktree at %s", wt.Path), Err: err}
	}

	_, issueType, labels, body := em.issueInfo(issue)
	em.writeBrief(wt, issueType, labels, body)

	em.Logger.Info("worktree recovered", zap.Int("issue", issue), zap.String("path", wt.Path))
	logEvent(em.Events, EventSubagentRecovered, map[string]any{
		"issue":  issue,
		"branch": wt.Branch,
		"path":   wt.Path,
	})
	return nil
}

// RecordActivity counts one commit on the issue branch. The post-commit
// hook calls it through cw subagent activity.
func (em *environmentManager) RecordActivity(ctx context.Context, issue int) (*models.HandoffNote, error) {
	wt, err := em.requireWorktree("activity", issue)
	if err != nil {
		return nil, err
	}
	note, err := em.Notes.Get(ctx, wt.Branch)
	if err != nil || note == nil {
		note = &models.HandoffNote{Issue: issue, Role: wt.Role, CreatedAt: wt.CreatedAt, Labels: []string{}, Status: models.NoteSpawned}
	}
	note.Commits++
	note.LastActivity = em.Now()
	if note.Status == models.NoteSpawned {
		note.Status = models.NoteInProgress
	}
	if err := em.Notes.Put(ctx, wt.Branch, *note); err != nil {
		return nil, fmt.Errorf("activity: writing note for %s: %w", wt.Branch, err)
	}
	em.Logger.Debug("commit recorded", zap.Int("issue", issue), zap.Int("commits", note.Commits))
	return note, nil
}

func (em *environmentManager) Status(ctx context.Context, issue int) (*models.WorktreeStatus, error) {
	wt, err := em.requireWorktree("status", issue)
	if err != nil {
		return nil, err
	}
	st := em.status(ctx, wt)
	return &st, nil
}

func (em *environmentManager) status(ctx context.Context, wt models.Worktree) models.WorktreeStatus {
	st := models.WorktreeStatus{Worktree: wt, Exists: pathExists(wt.Path)}
	if st.Exists {
		if last, err := em.Git.LastCommitTime(ctx, wt.Path); err == nil {
			st.LastCommit = last
		}
		if changes, err := em.Git.PendingChanges(ctx, wt.Path); err == nil {
			st.ChangedFiles = len(changes)
		}
	}
	if note, err := em.Notes.Get(ctx, wt.Branch); err == nil {
		st.Note = note
	}
	return st
}

func (em *environmentManager) List(ctx context.Context) ([]models.WorktreeStatus, error) {
	worktrees := em.State.Worktrees()
	out := make([]models.WorktreeStatus, 0, len(worktrees))
	for _, wt := range worktrees {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out = append(out, em.status(ctx, wt))
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
