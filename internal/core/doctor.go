package core

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/valter-silva-au/context-weave/internal/storage"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

// TokenSource resolves the GitHub token and names where it came from.
type TokenSource interface {
	Resolve(ctx context.Context) (token, source string, err error)
}

// Doctor detects drift between state.json, git and the handoff notes, and
// optionally repairs it.
type Doctor interface {
	Run(ctx context.Context, fix bool) models.DoctorReport
}

type doctor struct {
	*Deps
	env    EnvironmentManager
	config ConfigurationManager
	tokens TokenSource
}

// NewDoctor creates a Doctor. config and tokens may be nil, which skips the
// corresponding checks.
func NewDoctor(deps Deps, env EnvironmentManager, config ConfigurationManager, tokens TokenSource) Doctor {
	return &doctor{Deps: deps.withDefaults(), env: env, config: config, tokens: tokens}
}

func (d *doctor) Run(ctx context.Context, fix bool) models.DoctorReport {
	var report models.DoctorReport
	add := func(c models.DoctorCheck) { report.Checks = append(report.Checks, c) }

	if !d.State.Exists() {
		add(models.DoctorCheck{Name: "state", Status: models.CheckFail, Detail: "ContextWeave not initialised", Fix: "cw init"})
		return report
	}
	if err := d.State.Recovered(); err != nil {
		add(models.DoctorCheck{Name: "state", Status: models.CheckWarn, Detail: "state.json unreadable, defaults in use: " + err.Error(), Fix: "cw init --force"})
	} else {
		add(models.DoctorCheck{Name: "state", Status: models.CheckOK, Detail: "initialised"})
	}

	checkedOut, err := d.Git.ListWorktrees(ctx)
	if err != nil {
		add(models.DoctorCheck{Name: "git", Status: models.CheckFail, Detail: "git repository not reachable: " + err.Error()})
		return report
	}
	add(models.DoctorCheck{Name: "git", Status: models.CheckOK, Detail: d.RepoRoot})
	if d.Tools != nil {
		add(d.checkGitVersion(ctx))
		if c, ok := d.checkAgentCLI(ctx); ok {
			add(c)
		}
	}

	for _, wt := range d.State.Worktrees() {
		add(d.checkWorktree(ctx, wt, fix))
	}
	for _, wt := range d.State.Worktrees() {
		if c, ok := d.checkNote(ctx, wt, fix); ok {
			add(c)
		}
	}
	add(d.checkOrphans(ctx, checkedOut, fix))

	if d.Notes.RefExists(ctx) {
		add(models.DoctorCheck{Name: "notes_ref", Status: models.CheckOK, Detail: "refs/notes/context"})
	} else {
		add(models.DoctorCheck{Name: "notes_ref", Status: models.CheckWarn, Detail: "refs/notes/context not initialised", Fix: "cw subagent spawn <issue> --role <role>"})
	}

	if d.config != nil {
		if err := d.config.ValidateConfig(d.Config); err != nil {
			add(models.DoctorCheck{Name: "config", Status: models.CheckFail, Detail: err.Error(), Fix: "edit " + d.config.Path()})
		} else {
			add(models.DoctorCheck{Name: "config", Status: models.CheckOK, Detail: "mode " + string(d.Config.Mode)})
		}
	}

	if mode := d.State.Mode(); mode != models.ModeLocal && d.tokens != nil {
		if _, source, err := d.tokens.Resolve(ctx); err != nil {
			add(models.DoctorCheck{Name: "github_token", Status: models.CheckWarn, Detail: fmt.Sprintf("no GitHub token for %s mode", mode), Fix: "cw auth set-token"})
		} else {
			add(models.DoctorCheck{Name: "github_token", Status: models.CheckOK, Detail: "from " + source})
		}
	}

	d.Logger.Debug("doctor finished", zap.Int("checks", len(report.Checks)), zap.Bool("healthy", report.Healthy()))
	return report
}

// MinGitVersion is the oldest git with `git worktree remove`.
const MinGitVersion = "2.17.0"

func (d *doctor) checkGitVersion(ctx context.Context) models.DoctorCheck {
	c := models.DoctorCheck{Name: "git_version"}
	version, err := d.Tools.CheckMinimumVersion(ctx, "git", MinGitVersion)
	if err != nil {
		c.Status = models.CheckFail
		c.Detail = err.Error()
		c.Fix = "install git " + MinGitVersion + " or later"
		return c
	}
	c.Status = models.CheckOK
	c.Detail = version
	return c
}

// checkAgentCLI looks for the agent command when the cli provider is
// configured. Other providers are not checked.
func (d *doctor) checkAgentCLI(ctx context.Context) (models.DoctorCheck, bool) {
	if d.Config.Agent.Provider != "cli" || d.Config.Agent.Command == "" {
		return models.DoctorCheck{}, false
	}
	command := d.Config.Agent.Command
	c := models.DoctorCheck{Name: "agent"}
	version, err := d.Tools.CheckMinimumVersion(ctx, command, "0.0.0")
	if err != nil {
		c.Status = models.CheckWarn
		c.Detail = fmt.Sprintf("%s not usable: %v", command, err)
		c.Fix = "install " + command + " or set agent.provider in " + filepath.Join(storage.DirName, ConfigFileName)
		return c, true
	}
	c.Status = models.CheckOK
	c.Detail = command + " " + version
	return c, true
}

func (d *doctor) checkWorktree(ctx context.Context, wt models.Worktree, fix bool) models.DoctorCheck {
	c := models.DoctorCheck{Name: fmt.Sprintf("worktree #%d", wt.Issue)}
	if pathExists(wt.Path) {
		c.Status = models.CheckOK
		c.Detail = wt.Path
		return c
	}
	c.Status = models.CheckFail
	c.Detail = "missing on disk: " + wt.Path
	c.Fix = fmt.Sprintf("cw subagent recover %d", wt.Issue)
	if !fix {
		return c
	}

	if err := d.Git.PruneWorktrees(ctx); err != nil {
		d.Logger.Debug("worktree prune failed", zap.Error(err))
	}
	if d.Git.BranchExists(ctx, wt.Branch) {
		if err := d.env.Recover(ctx, wt.Issue); err != nil {
			c.Detail += " (recover failed: " + err.Error() + ")"
			return c
		}
		c.Fixed = true
		c.Detail += " (recovered from branch)"
		return c
	}
	err := d.State.Update(func() error {
		d.State.RemoveWorktree(wt.Issue)
		return nil
	})
	if err != nil {
		c.Detail += " (removing entry failed: " + err.Error() + ")"
		return c
	}
	c.Fixed = true
	c.Detail += " (removed stale entry, branch gone)"
	return c
}

// checkNote compares the branch note with state. state.json wins.
func (d *doctor) checkNote(ctx context.Context, wt models.Worktree, fix bool) (models.DoctorCheck, bool) {
	if _, ok := d.State.GetWorktree(wt.Issue); !ok {
		// Removed by an earlier fix.
		return models.DoctorCheck{}, false
	}
	c := models.DoctorCheck{Name: fmt.Sprintf("note #%d", wt.Issue), Fix: "cw doctor --fix"}
	note, err := d.Notes.Get(ctx, wt.Branch)
	if err != nil || note == nil {
		c.Status = models.CheckWarn
		c.Detail = "no handoff note on " + wt.Branch
		note = &models.HandoffNote{Issue: wt.Issue, Status: models.NoteInProgress, CreatedAt: wt.CreatedAt, Labels: []string{}}
	} else {
		var problems []string
		if note.Role != wt.Role {
			problems = append(problems, fmt.Sprintf("note role %s, state role %s", note.Role, wt.Role))
		}
		if note.Status == models.NoteCompleted {
			problems = append(problems, "note is completed but the environment is still registered")
		}
		if len(problems) == 0 {
			c.Status = models.CheckOK
			c.Fix = ""
			c.Detail = string(note.Status)
			return c, true
		}
		desync := &DesyncError{
			Op:          "doctor",
			Msg:         fmt.Sprintf("issue #%d: %s", wt.Issue, strings.Join(problems, "; ")),
			Remediation: c.Fix,
		}
		c.Status = models.CheckFail
		c.Detail = desync.Error()
	}
	if !fix {
		return c, true
	}

	note.Role = wt.Role
	if note.Status == models.NoteCompleted {
		note.Status = models.NoteInProgress
		note.CompletedAt = nil
	}
	note.LastActivity = d.Now()
	if err := d.Notes.Put(ctx, wt.Branch, *note); err != nil {
		c.Detail += " (rewrite failed: " + err.Error() + ")"
		return c, true
	}
	c.Fixed = true
	c.Detail += " (note rewritten from state)"
	return c, true
}

func (d *doctor) checkOrphans(ctx context.Context, checkedOut map[string]string, fix bool) models.DoctorCheck {
	c := models.DoctorCheck{Name: "orphan worktrees"}
	base := canonicalPath(filepath.Dir(d.worktreePath(1)))

	registered := map[string]bool{}
	for _, wt := range d.State.Worktrees() {
		registered[canonicalPath(wt.Path)] = true
	}
	var orphans []string
	for path := range checkedOut {
		p := canonicalPath(path)
		if filepath.Dir(p) == base && !registered[p] {
			orphans = append(orphans, path)
		}
	}
	sort.Strings(orphans)

	if len(orphans) == 0 {
		c.Status = models.CheckOK
		c.Detail = "none"
		return c
	}
	c.Status = models.CheckWarn
	c.Detail = strings.Join(orphans, ", ")
	c.Fix = "git worktree remove " + orphans[0]
	if !fix {
		return c
	}
	var kept []string
	for _, path := range orphans {
		if err := d.Git.RemoveWorktree(ctx, path, false); err != nil {
			kept = append(kept, path)
		}
	}
	if len(kept) == 0 {
		c.Fixed = true
		c.Detail += " (removed)"
	} else {
		c.Detail = "could not remove (uncommitted changes?): " + strings.Join(kept, ", ")
	}
	return c
}

func canonicalPath(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return filepath.Clean(p)
}
