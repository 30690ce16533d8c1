package core

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/valter-silva-au/context-weave/pkg/models"
)

// handoffEdges is the role transition table. reviewer is terminal.
var handoffEdges = map[models.Role]models.Role{
	models.RolePM:        models.RoleArchitect,
	models.RoleArchitect: models.RoleEngineer,
	models.RoleEngineer:  models.RoleReviewer,
	models.RoleUX:        models.RoleEngineer,
}

// NextRole returns the role that follows role, if any.
func NextRole(role models.Role) (models.Role, bool) {
	next, ok := handoffEdges[role]
	return next, ok
}

// HandoffOptions controls a role transition. A zero To follows the edge
// table.
type HandoffOptions struct {
	To             models.Role
	SkipValidation bool
}

// HandoffResult describes a completed role transition.
type HandoffResult struct {
	Issue       int                 `json:"issue"`
	From        models.Role         `json:"from"`
	To          models.Role         `json:"to"`
	Report      *models.DoDReport   `json:"dod,omitempty"`
	BriefPath   string              `json:"brief_path,omitempty"`
	SideEffects []models.SideEffect `json:"side_effects,omitempty"`
}

// HandoffManager advances an issue's environment from one role to the next,
// gated by the definition of done of the outgoing role.
type HandoffManager interface {
	Handoff(ctx context.Context, issue int, opts HandoffOptions) (*HandoffResult, error)
}

type handoffManager struct {
	*Deps
	dod DoDChecker
}

// NewHandoffManager creates a HandoffManager. dod gates transitions unless
// the caller skips validation.
func NewHandoffManager(deps Deps, dod DoDChecker) HandoffManager {
	return &handoffManager{Deps: deps.withDefaults(), dod: dod}
}

func (hm *handoffManager) Handoff(ctx context.Context, issue int, opts HandoffOptions) (*HandoffResult, error) {
	wt, err := hm.requireWorktree("handoff", issue)
	if err != nil {
		return nil, err
	}
	from := wt.Role

	to := opts.To
	if to == "" {
		next, ok := NextRole(from)
		if !ok {
			return nil, &ValidationError{
				Op:          "handoff",
				Msg:         fmt.Sprintf("No next role after %s. Use 'cw subagent complete %d' instead", from, issue),
				Remediation: fmt.Sprintf("cw subagent complete %d", issue),
			}
		}
		to = next
	}
	if !to.IsValid() {
		return nil, &ValidationError{Op: "handoff", Msg: fmt.Sprintf("unknown target role %q", to)}
	}

	result := &HandoffResult{Issue: issue, From: from, To: to}

	if !opts.SkipValidation && hm.dod != nil {
		report := hm.dod.Check(ctx, issue, from)
		result.Report = &report
		if !report.OK() {
			failed := report.Failed()
			ids := make([]string, len(failed))
			for i, c := range failed {
				ids[i] = c.ID
			}
			return result, &ValidationError{
				Op:          "handoff",
				Msg:         fmt.Sprintf("definition of done for %s not met (%d/%d passed): %s", from, report.Passed(), len(report.Checks), strings.Join(ids, ", ")),
				Remediation: fmt.Sprintf("cw validate dod %d --verbose", issue),
				Failed:      ids,
			}
		}
	}

	if err := hm.State.Update(func() error {
		if err := hm.State.SetWorktreeRole(issue, to); err != nil {
			return err
		}
		if local, ok := hm.State.GetIssue(issue); ok {
			local.Role = to
			return hm.State.UpdateIssue(local)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("handoff: updating role: %w", err)
	}

	now := hm.Now()
	note, err := hm.Notes.Get(ctx, wt.Branch)
	if err != nil || note == nil {
		note = &models.HandoffNote{Issue: issue, CreatedAt: wt.CreatedAt, Labels: []string{}}
	}
	note.Role = to
	note.Status = models.NoteHandoff
	note.HandoffFrom = from
	note.HandoffTo = to
	note.HandoffAt = &now
	note.LastActivity = now
	if err := hm.Notes.Put(ctx, wt.Branch, *note); err != nil {
		hm.Logger.Warn("writing handoff note failed", zap.String("branch", wt.Branch), zap.Error(err))
		result.SideEffects = append(result.SideEffects, models.SideEffect{Name: "note", Status: models.SideEffectWarning, Detail: err.Error()})
	}

	if hm.Briefs != nil && pathExists(wt.Path) {
		_, issueType, labels, body := hm.issueInfo(issue)
		req := BriefRequest{Issue: issue, Role: to, IssueType: issueType, Labels: labels, Prompt: body}
		if hm.Memory != nil {
			req.Memory = hm.Memory.RenderContext(issue, issueType, to, labels)
		}
		path, err := hm.Briefs.WriteBrief(wt.Path, req)
		if err != nil {
			result.SideEffects = append(result.SideEffects, models.SideEffect{Name: "brief", Status: models.SideEffectWarning, Detail: err.Error()})
		} else {
			result.BriefPath = path
		}
	}

	status := "In Progress"
	if from == models.RoleEngineer && to == models.RoleReviewer {
		status = "In Review"
	}
	if effect := hm.updateRemoteStatus(ctx, issue, status); effect != nil {
		result.SideEffects = append(result.SideEffects, *effect)
	}

	hm.Logger.Info("handoff", zap.Int("issue", issue), zap.String("from", string(from)), zap.String("to", string(to)))
	logEvent(hm.Events, EventSubagentHandoff, map[string]any{
		"issue":           issue,
		"from":            string(from),
		"to":              string(to),
		"skip_validation": opts.SkipValidation,
	})
	return result, nil
}
