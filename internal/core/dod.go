package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/valter-silva-au/context-weave/internal/storage"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

const manualCheck = "Manual verification required"

type checkSpec struct {
	id          string
	description string
}

type checklist struct {
	name   string
	checks []checkSpec
}

var dodChecklists = map[models.Role]checklist{
	models.RolePM: {name: "Product Manager", checks: []checkSpec{
		{"prd_exists", "PRD created at docs/prd/PRD-{issue}.md"},
		{"child_issues", "Child issues created (Features/Stories)"},
		{"acceptance_criteria", "Acceptance criteria defined"},
		{"success_metrics", "Success metrics specified"},
		{"timeline", "Timeline with phases documented"},
	}},
	models.RoleArchitect: {name: "Architect", checks: []checkSpec{
		{"adr_exists", "ADR created at docs/adr/ADR-{issue}.md"},
		{"spec_exists", "Tech Spec at docs/specs/SPEC-{issue}.md"},
		{"options_documented", "Options with pros/cons documented"},
		{"decision_rationale", "Decision rationale clear"},
		{"no_code_examples", "NO CODE EXAMPLES (diagrams only)"},
	}},
	models.RoleEngineer: {name: "Engineer", checks: []checkSpec{
		{"code_committed", "Code committed and pushed"},
		{"tests_written", "Tests written (>=80% coverage)"},
		{"tests_passing", "Tests passing"},
		{"docs_updated", "Documentation updated"},
		{"no_lint_errors", "No compiler warnings or linter errors"},
		{"security_scan", "Security scan passed"},
	}},
	models.RoleReviewer: {name: "Reviewer", checks: []checkSpec{
		{"review_doc", "Review document at docs/reviews/REVIEW-{issue}.md"},
		{"checklist_verified", "All checklist items verified"},
		{"decision_documented", "Approval or rejection documented"},
		{"feedback_provided", "Feedback provided for rejections"},
	}},
	models.RoleUX: {name: "UX Designer", checks: []checkSpec{
		{"ux_doc", "UX Design at docs/ux/UX-{issue}.md"},
		{"wireframes", "Wireframes complete"},
		{"user_flows", "User flows documented"},
		{"accessibility", "Accessibility considered"},
	}},
}

// Document checks map to docs/<dir>/<PREFIX>-N.md.
var docChecks = map[string]struct{ dir, prefix, kind string }{
	"prd_exists":  {"prd", "PRD", "PRD"},
	"adr_exists":  {"adr", "ADR", "ADR"},
	"spec_exists": {"specs", "SPEC", "Tech Spec"},
	"review_doc":  {"reviews", "REVIEW", "Review"},
	"ux_doc":      {"ux", "UX", "UX Design"},
}

// Phrases that fail the stranger test in a task description.
var implicitPhrases = []string{"as discussed", "like before", "you know", "as usual", "obviously"}

// Certificate records a passed definition of done.
type Certificate struct {
	ID        string           `json:"id"`
	Issue     int              `json:"issue"`
	Role      models.Role      `json:"role"`
	Timestamp string           `json:"timestamp"`
	Checklist []CertificateRow `json:"checklist"`
	AllPassed bool             `json:"all_passed"`
}

// CertificateRow is one check as recorded in a certificate.
type CertificateRow struct {
	Check  string `json:"check"`
	Passed bool   `json:"passed"`
}

// DoDChecker evaluates definition-of-done checklists and the related
// readiness checks.
type DoDChecker interface {
	// Check runs the checklist for role. An empty role uses the registered
	// environment's role, or engineer when none is registered. Unknown roles
	// use the engineer checklist.
	Check(ctx context.Context, issue int, role models.Role) models.DoDReport
	// Preflight verifies that an environment is ready for an agent run.
	Preflight(ctx context.Context, issue int) models.DoDReport
	// TaskQuality verifies that the task is described well enough for a
	// stranger to pick it up.
	TaskQuality(ctx context.Context, issue int) models.DoDReport
	// WriteCertificate records a passing report under
	// .context-weave/certificates and returns the path.
	WriteCertificate(report models.DoDReport) (string, *Certificate, error)
}

type dodChecker struct {
	*Deps
}

// NewDoDChecker creates a DoDChecker over deps.
func NewDoDChecker(deps Deps) DoDChecker {
	return &dodChecker{Deps: deps.withDefaults()}
}

// ChecklistFor returns the check ids for role, falling back to engineer.
func ChecklistFor(role models.Role) []string {
	cl, ok := dodChecklists[role]
	if !ok {
		cl = dodChecklists[models.RoleEngineer]
	}
	ids := make([]string, len(cl.checks))
	for i, c := range cl.checks {
		ids[i] = c.id
	}
	return ids
}

func (dc *dodChecker) Check(ctx context.Context, issue int, role models.Role) models.DoDReport {
	wt, registered := dc.State.GetWorktree(issue)
	if role == "" {
		role = models.RoleEngineer
		if registered {
			role = wt.Role
		}
	}
	cl, ok := dodChecklists[role]
	if !ok {
		cl = dodChecklists[models.RoleEngineer]
	}

	report := models.DoDReport{Issue: issue, Role: role, Name: cl.name}
	for _, spec := range cl.checks {
		passed, remediation := dc.runCheck(ctx, issue, spec.id, wt, registered)
		report.Checks = append(report.Checks, models.DoDCheck{
			ID:          spec.id,
			Description: strings.ReplaceAll(spec.description, "{issue}", strconv.Itoa(issue)),
			Passed:      passed,
			Remediation: remediation,
		})
	}
	dc.Logger.Debug("dod evaluated",
		zap.Int("issue", issue), zap.String("role", string(role)),
		zap.Int("passed", report.Passed()), zap.Int("total", len(report.Checks)))
	return report
}

func (dc *dodChecker) runCheck(ctx context.Context, issue int, id string, wt models.Worktree, registered bool) (bool, string) {
	if doc, ok := docChecks[id]; ok {
		rel := filepath.Join("docs", doc.dir, fmt.Sprintf("%s-%d.md", doc.prefix, issue))
		roots := []string{dc.RepoRoot}
		if registered {
			roots = append([]string{wt.Path}, roots...)
		}
		for _, root := range roots {
			if pathExists(filepath.Join(root, rel)) {
				return true, ""
			}
		}
		return false, fmt.Sprintf("Create %s at %s", doc.kind, rel)
	}

	switch id {
	case "code_committed":
		if !registered {
			return false, fmt.Sprintf("Spawn SubAgent first: cw subagent spawn %d --role <role>", issue)
		}
		if !pathExists(wt.Path) {
			return false, fmt.Sprintf("Worktree missing: cw subagent recover %d", issue)
		}
		changes, err := dc.Git.PendingChanges(ctx, wt.Path)
		if err != nil {
			return false, fmt.Sprintf("Could not check git status: %v", err)
		}
		if len(changes) > 0 {
			return false, fmt.Sprintf("Commit all changes (%d pending)", len(changes))
		}
		return true, ""
	case "tests_passing", "no_lint_errors":
		command := dc.Config.Validation.Commands[id]
		if command == "" || dc.Runner == nil {
			return true, manualCheck
		}
		dir := dc.RepoRoot
		if registered && pathExists(wt.Path) {
			dir = wt.Path
		}
		code, _, err := dc.Runner.RunShell(ctx, dir, command)
		if err != nil && code == 0 {
			return false, fmt.Sprintf("Could not run %q: %v", command, err)
		}
		if code != 0 {
			return false, fmt.Sprintf("Fix failures reported by: %s", command)
		}
		return true, ""
	}
	return true, manualCheck
}

func (dc *dodChecker) Preflight(ctx context.Context, issue int) models.DoDReport {
	report := models.DoDReport{Issue: issue, Name: "Pre-Flight"}
	add := func(id, desc string, passed bool, remediation string) {
		report.Checks = append(report.Checks, models.DoDCheck{ID: id, Description: desc, Passed: passed, Remediation: remediation})
	}

	wt, ok := dc.State.GetWorktree(issue)
	if !ok {
		spawn := fmt.Sprintf("cw subagent spawn %d --role <role>", issue)
		add("subagent_spawned", "SubAgent spawned", false, spawn)
		add("worktree_accessible", "Worktree accessible", false, "Spawn SubAgent first")
		add("branch_exists", "Branch exists", false, "Spawn SubAgent first")
		add("context_exists", "Role brief exists", false, "Spawn SubAgent first")
		return report
	}
	report.Role = wt.Role

	exists := pathExists(wt.Path)
	add("subagent_spawned", "SubAgent spawned", true, "")
	add("worktree_accessible", "Worktree accessible", exists, fmt.Sprintf("cw subagent recover %d", issue))
	add("branch_exists", "Branch exists", dc.Git.BranchExists(ctx, wt.Branch), fmt.Sprintf("Branch %s may need recovery", wt.Branch))
	brief := filepath.Join(wt.Path, storage.DirName, BriefFileName)
	add("context_exists", "Role brief exists", exists && pathExists(brief), fmt.Sprintf("cw subagent recover %d", issue))
	return report
}

func (dc *dodChecker) TaskQuality(ctx context.Context, issue int) models.DoDReport {
	report := models.DoDReport{Issue: issue, Name: "Task Quality"}

	title, _, _, description := dc.issueInfo(issue)
	if wt, ok := dc.State.GetWorktree(issue); ok {
		report.Role = wt.Role
		if note, err := dc.Notes.Get(ctx, wt.Branch); err == nil && note != nil {
			title = firstNonEmpty(note.Title, title)
			description = firstNonEmpty(note.Description, description)
		}
	}
	lower := strings.ToLower(description)

	implicit := false
	for _, phrase := range implicitPhrases {
		if strings.Contains(lower, phrase) {
			implicit = true
			break
		}
	}
	criteria := strings.Contains(lower, "acceptance criteria") || strings.Contains(description, "- [ ]")

	report.Checks = []models.DoDCheck{
		{ID: "title_exists", Description: "Title exists", Passed: strings.TrimSpace(title) != "", Remediation: "Add a descriptive title"},
		{ID: "description_exists", Description: "Description exists", Passed: strings.TrimSpace(description) != "", Remediation: "Add a task description"},
		{ID: "acceptance_criteria", Description: "Acceptance criteria defined", Passed: criteria, Remediation: "Add measurable acceptance criteria"},
		{ID: "no_implicit_knowledge", Description: "No implicit knowledge", Passed: !implicit, Remediation: "Remove vague references, add explicit details"},
	}
	return report
}

func (dc *dodChecker) WriteCertificate(report models.DoDReport) (string, *Certificate, error) {
	if !report.OK() {
		return "", nil, &ValidationError{
			Op:          "certificate",
			Msg:         fmt.Sprintf("definition of done not met (%d/%d passed)", report.Passed(), len(report.Checks)),
			Remediation: fmt.Sprintf("cw validate dod %d --verbose", report.Issue),
		}
	}
	now := dc.Now()
	cert := &Certificate{
		ID:        fmt.Sprintf("CERT-%d-%s", report.Issue, now.Format("200601021504")),
		Issue:     report.Issue,
		Role:      report.Role,
		Timestamp: now.Format("2006-01-02T15:04:05Z07:00"),
		AllPassed: true,
	}
	for _, c := range report.Checks {
		cert.Checklist = append(cert.Checklist, CertificateRow{Check: c.Description, Passed: c.Passed})
	}

	dir := filepath.Join(dc.RepoRoot, storage.DirName, "certificates")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("writing certificate: %w", err)
	}
	data, err := json.MarshalIndent(cert, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("writing certificate: marshaling: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("cert-%d.json", report.Issue))
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", nil, fmt.Errorf("writing certificate %s: %w", path, err)
	}
	return path, cert, nil
}
