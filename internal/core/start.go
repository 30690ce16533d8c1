package core

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/valter-silva-au/context-weave/pkg/models"
)

// Limits applied to locally created issues.
const (
	MaxTitleLength = 256
	MaxBodyLength  = 65536
	MaxLabelLength = 50
)

// StartRequest describes a new local issue and the role that works on it.
type StartRequest struct {
	Title     string
	Body      string
	IssueType models.IssueType
	Role      models.Role
	Labels    []string
}

// StartResult is the issue and environment created by Start.
type StartResult struct {
	Issue    models.Issue    `json:"issue"`
	Worktree models.Worktree `json:"worktree"`
}

// Starter creates a local issue and immediately spawns its environment.
type Starter interface {
	CreateIssue(req StartRequest) (models.Issue, error)
	Start(ctx context.Context, req StartRequest) (*StartResult, error)
}

type starter struct {
	*Deps
	env EnvironmentManager
}

// NewStarter creates a Starter that spawns through env.
func NewStarter(deps Deps, env EnvironmentManager) Starter {
	return &starter{Deps: deps.withDefaults(), env: env}
}

func (s *starter) CreateIssue(req StartRequest) (models.Issue, error) {
	title := SanitizeText(req.Title, MaxTitleLength)
	if title == "" {
		return models.Issue{}, &ValidationError{Op: "create issue", Msg: "title must not be empty"}
	}
	issueType := req.IssueType
	if issueType == "" {
		issueType = models.IssueTypeStory
	}
	if !issueType.IsValid() {
		return models.Issue{}, &ValidationError{Op: "create issue", Msg: fmt.Sprintf("unknown issue type %q", issueType)}
	}
	var labels []string
	for _, l := range req.Labels {
		if l = SanitizeLabel(l); l != "" {
			labels = append(labels, l)
		}
	}

	var issue models.Issue
	err := s.State.Update(func() error {
		issue = s.State.CreateIssue(title, SanitizeText(req.Body, MaxBodyLength), issueType, labels)
		if req.Role != "" {
			issue.Role = req.Role
			return s.State.UpdateIssue(issue)
		}
		return nil
	})
	if err != nil {
		return models.Issue{}, fmt.Errorf("create issue: %w", err)
	}
	s.Logger.Info("local issue created", zap.Int("issue", issue.Number), zap.String("type", string(issueType)))
	return issue, nil
}

func (s *starter) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	if req.Role == "" {
		req.Role = models.RoleEngineer
	}
	if !req.Role.IsValid() {
		return nil, &ValidationError{Op: "start", Msg: fmt.Sprintf("unknown role %q", req.Role)}
	}
	issue, err := s.CreateIssue(req)
	if err != nil {
		return nil, err
	}
	wt, err := s.env.Spawn(ctx, issue.Number, req.Role, issue.Title)
	if err != nil {
		return nil, fmt.Errorf("start: issue #%d created but spawn failed: %w", issue.Number, err)
	}
	if refreshed, ok := s.State.GetIssue(issue.Number); ok {
		issue = refreshed
	}
	return &StartResult{Issue: issue, Worktree: *wt}, nil
}

// SanitizeText strips control characters other than newline and tab, trims
// surrounding space and truncates to max runes.
func SanitizeText(s string, max int) string {
	var b strings.Builder
	n := 0
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		if n == max {
			break
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}

// SanitizeLabel keeps letters, digits and the separators ":-_. " and caps the
// result at MaxLabelLength.
func SanitizeLabel(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(":-_. ", r) {
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if len(out) > MaxLabelLength {
		out = strings.TrimSpace(out[:MaxLabelLength])
	}
	return out
}
