package core

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/valter-silva-au/context-weave/internal/storage"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

// BriefFileName is the role brief written into every worktree.
const BriefFileName = "CONTEXT.md"

// RoleOverridesFile holds per-role template overrides under .context-weave.
const RoleOverridesFile = "roles.yaml"

// RoleTemplate is the guidance given to an agent playing a role. Outputs may
// contain {issue}, replaced by the issue number.
type RoleTemplate struct {
	Primer              string   `yaml:"primer"`
	Inputs              []string `yaml:"inputs,omitempty"`
	Outputs             []string `yaml:"outputs"`
	Constraints         []string `yaml:"constraints"`
	QualityChecklist    []string `yaml:"quality_checklist"`
	HandoffRequirements []string `yaml:"handoff_requirements,omitempty"`
}

// BriefRequest carries everything a brief is rendered from.
type BriefRequest struct {
	Issue     int
	Role      models.Role
	IssueType models.IssueType
	Labels    []string
	Prompt    string
	// Memory is the rendered memory context; empty omits the section.
	Memory string
}

// RoleBriefs renders role briefs from the built-in templates and the
// repository's overrides.
type RoleBriefs interface {
	Template(role models.Role) RoleTemplate
	Render(req BriefRequest) (string, error)
	// WriteBrief renders req into <worktreePath>/.context-weave/CONTEXT.md
	// and returns the written path.
	WriteBrief(worktreePath string, req BriefRequest) (string, error)
	// Assess scores the brief req would render.
	Assess(req BriefRequest) models.PromptAssessment
}

var defaultRoleTemplates = map[models.Role]RoleTemplate{
	models.RolePM: {
		Primer: "You are a **Product Manager Agent** responsible for defining clear, actionable product requirements. " +
			"Your outputs enable engineering teams to build exactly what users need without ambiguity.",
		Inputs: []string{"User request or problem statement", "Existing documentation and related issues"},
		Outputs: []string{
			"Product Requirements Document (PRD) at `docs/prd/PRD-{issue}.md`",
			"Child Feature/Story issues with complete context",
			"Success metrics and acceptance criteria",
			"Risk assessment and mitigation strategies",
		},
		Constraints: []string{
			"All requirements must pass the 'stranger test' and be executable by someone unfamiliar with the project",
			"No implementation details: focus on WHAT, not HOW",
			"Include measurable success criteria",
			"Reference existing documentation and related issues",
		},
		QualityChecklist: []string{
			"Problem statement is clear and specific",
			"User goals are defined with measurable outcomes",
			"Scope is bounded (in-scope and out-of-scope defined)",
			"Dependencies are identified with links",
			"Acceptance criteria are testable",
			"Child issues are standalone (no assumed context)",
		},
		HandoffRequirements: []string{
			"PRD document with complete context",
			"Clear success metrics",
			"Prioritized feature list",
			"Technical constraints identified (if any)",
		},
	},
	models.RoleArchitect: {
		Primer: "You are a **Solution Architect Agent** responsible for designing robust, scalable technical solutions. " +
			"Your designs enable engineers to implement features correctly the first time without architectural surprises.",
		Inputs: []string{"Product Requirements Document (PRD)"},
		Outputs: []string{
			"Architecture Decision Record (ADR) at `docs/adr/ADR-{issue}.md`",
			"Technical Specification at `docs/specs/SPEC-{issue}.md`",
			"Component diagrams and data flow (Mermaid/ASCII)",
			"API contracts (if applicable)",
		},
		Constraints: []string{
			"NO CODE EXAMPLES: use diagrams and descriptions only",
			"Follow existing architectural patterns in the codebase",
			"Consider security, performance, and scalability",
			"Document trade-offs and alternatives considered",
		},
		QualityChecklist: []string{
			"Solution addresses all requirements from PRD",
			"Trade-offs are documented with rationale",
			"Security implications considered",
			"Performance impact assessed",
			"Integration points clearly defined",
			"Rollback strategy documented",
		},
		HandoffRequirements: []string{
			"Complete technical specification",
			"Clear component boundaries",
			"Data models and API contracts",
			"Test strategy outline",
		},
	},
	models.RoleEngineer: {
		Primer: "You are a **Software Engineer Agent** responsible for implementing production-quality code. " +
			"Your code must be secure, tested, documented, and maintainable by other engineers.",
		Inputs: []string{"Technical Specification", "Existing codebase patterns"},
		Outputs: []string{
			"Production code implementing the specification",
			"Unit tests with >=80% coverage",
			"Integration tests for critical paths",
			"Updated documentation (inline + README)",
		},
		Constraints: []string{
			"Follow the technical specification exactly",
			"Minimum 80% test coverage for new code",
			"No hardcoded secrets or credentials",
			"All inputs must be validated",
			"SQL queries must use parameterization",
		},
		QualityChecklist: []string{
			"Code compiles without warnings",
			"All tests pass",
			"Coverage >=80% for new code",
			"Security checklist completed",
			"Documentation is updated",
			"Code review guidelines followed",
		},
		HandoffRequirements: []string{
			"All tests passing",
			"Coverage report generated",
			"Code committed with issue reference",
			"PR created (if applicable)",
		},
	},
	models.RoleReviewer: {
		Primer: "You are a **Code Reviewer Agent** responsible for ensuring code quality, security, and maintainability. " +
			"Your reviews catch issues before they reach production and help engineers improve.",
		Inputs: []string{"Code changes to review", "Technical Specification for validation", "Test coverage report"},
		Outputs: []string{
			"Review document at `docs/reviews/REVIEW-{issue}.md`",
			"Approval decision (APPROVE/REQUEST_CHANGES/COMMENT)",
			"Specific, actionable feedback",
			"Security and performance observations",
		},
		Constraints: []string{
			"Review against the specification, not personal preference",
			"Provide specific line references for issues",
			"Distinguish blocking issues from suggestions",
			"Be constructive and explain the reasoning",
		},
		QualityChecklist: []string{
			"Code matches specification requirements",
			"Tests are comprehensive and meaningful",
			"Security best practices followed",
			"Error handling is appropriate",
			"Code is readable and maintainable",
			"Documentation is accurate",
		},
	},
	models.RoleUX: {
		Primer: "You are a **UX Designer Agent** responsible for creating user-centered designs that are intuitive, accessible, and delightful. " +
			"Your designs enable engineers to build the right user experience.",
		Inputs: []string{"Product Requirements Document (PRD)", "User personas and goals"},
		Outputs: []string{
			"UX Design document at `docs/ux/UX-{issue}.md`",
			"Wireframes or mockups",
			"User flow diagrams",
			"Accessibility considerations",
		},
		Constraints: []string{
			"Follow accessibility guidelines (WCAG 2.1 AA)",
			"Consider mobile and desktop experiences",
			"Design for error states and edge cases",
			"Use existing design system components",
		},
		QualityChecklist: []string{
			"User goals are clearly supported",
			"Flow is intuitive and discoverable",
			"Error states are handled gracefully",
			"Accessibility requirements met",
			"Consistent with design system",
			"Edge cases considered",
		},
		HandoffRequirements: []string{
			"Complete wireframes/mockups",
			"User flow documentation",
			"Interaction specifications",
			"Accessibility requirements",
		},
	},
}

var taskPrefixes = map[models.IssueType]string{
	models.IssueTypeEpic:    "Define the complete scope and break down into deliverable features for",
	models.IssueTypeFeature: "Design and specify the implementation approach for",
	models.IssueTypeStory:   "Implement the following user story:",
	models.IssueTypeBug:     "Investigate and fix the following issue:",
	models.IssueTypeSpike:   "Research and document findings for",
	models.IssueTypeDocs:    "Create or update documentation for",
}

var successCriteria = map[models.IssueType][]string{
	models.IssueTypeEpic: {
		"All child features/stories are created and linked",
		"PRD document is complete and approved",
		"Success metrics are defined and measurable",
	},
	models.IssueTypeFeature: {
		"Technical specification is complete",
		"All acceptance criteria from PRD are addressed",
		"Integration points are clearly defined",
	},
	models.IssueTypeStory: {
		"All acceptance criteria are met",
		"Tests pass with >=80% coverage",
		"Code review is approved",
	},
	models.IssueTypeBug: {
		"Root cause is identified and documented",
		"Fix addresses the root cause",
		"Regression tests prevent recurrence",
	},
	models.IssueTypeSpike: {
		"Research question is answered",
		"Findings are documented",
		"Recommendations are actionable",
	},
}

// Phrases in a prompt that are lifted into the constraint list, at most two
// per pattern.
var promptConstraintPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)must\s+(.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)should\s+not\s+(.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)cannot\s+(.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)restricted\s+to\s+(.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)limited\s+to\s+(.+?)(?:\.|$)`),
}

var briefTemplate = template.Must(template.New("brief").Funcs(template.FuncMap{
	"title": roleTitle,
	"code": func(items []string) string {
		quoted := make([]string, len(items))
		for i, s := range items {
			quoted[i] = "`" + s + "`"
		}
		return strings.Join(quoted, ", ")
	},
}).Parse(`# Issue #{{.Issue}}: {{title .Role}} Brief

### Role

{{.Template.Primer}}

---

### Task

{{.TaskPrefix}}

**Issue #{{.Issue}}**: {{.Prompt}}

*Before starting, ensure you understand the full scope and have all required context.*

---

### Context

**Issue Type**: {{.IssueType}}
{{- if .Labels}}
**Labels**: {{code .Labels}}{{end}}
{{- if .Skills}}
**Skills**: {{code .Skills}}{{end}}
{{- with .Template.Inputs}}

---

### Inputs (What You Have)
{{range .}}
- {{.}}{{end}}{{end}}
{{- with .Outputs}}

---

### Expected Outputs
{{range .}}
- {{.}}{{end}}{{end}}
{{- with .Constraints}}

---

### Constraints
{{range .}}
- [!] {{.}}{{end}}{{end}}
{{- with .SuccessCriteria}}

---

### Success Criteria
{{range .}}
- [x] {{.}}{{end}}{{end}}
{{- with .Template.QualityChecklist}}

---

### Quality Checklist
{{range .}}
- [ ] {{.}}{{end}}{{end}}
{{- if and .NextRole .Template.HandoffRequirements}}

---

### Handoff to {{title .NextRole}}
{{range .Template.HandoffRequirements}}
- {{.}}{{end}}{{end}}
{{- if .Memory}}

---

## Memory

{{.Memory}}{{end}}
`))

type briefData struct {
	BriefRequest
	Template        RoleTemplate
	TaskPrefix      string
	Skills          []string
	Outputs         []string
	Constraints     []string
	SuccessCriteria []string
	NextRole        models.Role
}

type roleBriefs struct {
	templates    map[models.Role]RoleTemplate
	skillRouting map[string][]string
}

// NewRoleBriefs loads the built-in templates and applies any overrides from
// <repoRoot>/.context-weave/roles.yaml. A missing overrides file is not an
// error.
func NewRoleBriefs(repoRoot string, skillRouting map[string][]string) (RoleBriefs, error) {
	templates := make(map[models.Role]RoleTemplate, len(defaultRoleTemplates))
	for role, tmpl := range defaultRoleTemplates {
		templates[role] = tmpl
	}

	if repoRoot != "" {
		path := filepath.Join(repoRoot, storage.DirName, RoleOverridesFile)
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading role overrides: %w", err)
		default:
			var overrides map[models.Role]RoleTemplate
			if err := yaml.Unmarshal(data, &overrides); err != nil {
				return nil, fmt.Errorf("parsing role overrides %s: %w", path, err)
			}
			for role, o := range overrides {
				if !role.IsValid() {
					return nil, fmt.Errorf("parsing role overrides %s: unknown role %q", path, role)
				}
				templates[role] = mergeRoleTemplate(templates[role], o)
			}
		}
	}
	return &roleBriefs{templates: templates, skillRouting: skillRouting}, nil
}

// mergeRoleTemplate replaces each base field that the override sets.
func mergeRoleTemplate(base, o RoleTemplate) RoleTemplate {
	if o.Primer != "" {
		base.Primer = o.Primer
	}
	if len(o.Inputs) > 0 {
		base.Inputs = o.Inputs
	}
	if len(o.Outputs) > 0 {
		base.Outputs = o.Outputs
	}
	if len(o.Constraints) > 0 {
		base.Constraints = o.Constraints
	}
	if len(o.QualityChecklist) > 0 {
		base.QualityChecklist = o.QualityChecklist
	}
	if len(o.HandoffRequirements) > 0 {
		base.HandoffRequirements = o.HandoffRequirements
	}
	return base
}

// Template returns the template for role, falling back to the engineer's.
func (rb *roleBriefs) Template(role models.Role) RoleTemplate {
	if tmpl, ok := rb.templates[role]; ok {
		return tmpl
	}
	return rb.templates[models.RoleEngineer]
}

// noDescription stands in for an empty prompt.
const noDescription = "_No description provided._"

func (rb *roleBriefs) Render(req BriefRequest) (string, error) {
	if req.Issue <= 0 {
		return "", fmt.Errorf("rendering brief: issue must be positive, got %d", req.Issue)
	}
	data := rb.data(req)
	var buf bytes.Buffer
	if err := briefTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering brief for issue #%d: %w", req.Issue, err)
	}
	return buf.String(), nil
}

// data applies defaults to req and expands the role template.
func (rb *roleBriefs) data(req BriefRequest) briefData {
	if req.IssueType == "" {
		req.IssueType = models.IssueTypeStory
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		req.Prompt = noDescription
	}

	tmpl := rb.Template(req.Role)
	data := briefData{
		BriefRequest: req,
		Template:     tmpl,
		TaskPrefix:   taskPrefix(req.IssueType),
		Skills:       rb.skillsFor(req.Labels),
		Constraints:  append(append([]string(nil), tmpl.Constraints...), promptConstraints(req.Prompt)...),
	}
	data.NextRole, _ = NextRole(req.Role)
	for _, o := range tmpl.Outputs {
		data.Outputs = append(data.Outputs, strings.ReplaceAll(o, "{issue}", fmt.Sprint(req.Issue)))
	}
	data.SuccessCriteria = successCriteriaFor(req.IssueType, req.Prompt)
	return data
}

// minTaskChars is the shortest prompt accepted as a task statement.
const minTaskChars = 20

// briefElements weighs the parts of a brief for the completeness score.
var briefElements = []struct {
	weight  float64
	present func(d briefData) bool
}{
	{1, func(d briefData) bool { return d.Template.Primer != "" }},
	{2, func(d briefData) bool { return d.Prompt != noDescription }},
	{1, func(d briefData) bool { return d.Memory != "" || len(d.Labels) > 0 || len(d.Skills) > 0 }},
	{1, func(d briefData) bool { return len(d.Template.Inputs) > 0 }},
	{2, func(d briefData) bool { return len(d.Outputs) > 0 }},
	{1, func(d briefData) bool { return len(d.Constraints) > 0 }},
	{2, func(d briefData) bool { return len(d.SuccessCriteria) > 0 }},
	{1, func(d briefData) bool { return len(d.Template.QualityChecklist) > 0 }},
}

func (rb *roleBriefs) Assess(req BriefRequest) models.PromptAssessment {
	d := rb.data(req)
	var a models.PromptAssessment
	if d.Prompt == noDescription || len(d.Prompt) < minTaskChars {
		a.Issues = append(a.Issues, "Task statement is missing or too brief")
	}
	if len(d.Outputs) == 0 {
		a.Issues = append(a.Issues, "No expected outputs defined")
	}
	if len(d.SuccessCriteria) == 0 {
		a.Issues = append(a.Issues, "No success criteria defined")
	}
	if len(d.Constraints) == 0 {
		a.Warnings = append(a.Warnings, "No constraints defined")
	}
	if d.NextRole != "" && len(d.Template.HandoffRequirements) == 0 {
		a.Warnings = append(a.Warnings, fmt.Sprintf("Handoff to %s has no requirements", d.NextRole))
	}
	a.Valid = len(a.Issues) == 0

	var got, total float64
	for _, e := range briefElements {
		total += e.weight
		if e.present(d) {
			got += e.weight
		}
	}
	a.Score = got / total
	return a
}

func (rb *roleBriefs) WriteBrief(worktreePath string, req BriefRequest) (string, error) {
	content, err := rb.Render(req)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(worktreePath, storage.DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("writing brief: creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, BriefFileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing brief %s: %w", path, err)
	}
	return path, nil
}

// skillsFor maps labels through skill_routing. A type:X label is also
// looked up as X. The result keeps first-seen order without duplicates.
func (rb *roleBriefs) skillsFor(labels []string) []string {
	seen := map[string]bool{}
	var skills []string
	for _, label := range labels {
		key := strings.ToLower(strings.TrimSpace(label))
		for _, candidate := range []string{key, strings.TrimPrefix(key, "type:")} {
			for _, skill := range rb.skillRouting[candidate] {
				if !seen[skill] {
					seen[skill] = true
					skills = append(skills, skill)
				}
			}
		}
	}
	return skills
}

func taskPrefix(issueType models.IssueType) string {
	if p, ok := taskPrefixes[issueType]; ok {
		return p
	}
	return "Complete the following task:"
}

func successCriteriaFor(issueType models.IssueType, prompt string) []string {
	base, ok := successCriteria[issueType]
	if !ok {
		base = successCriteria[models.IssueTypeStory]
	}
	out := append([]string(nil), base...)
	if strings.Contains(strings.ToLower(prompt), "acceptance criteria") || strings.Contains(prompt, "- [ ]") {
		out = append(out, "All acceptance criteria from issue are satisfied")
	}
	return out
}

func promptConstraints(prompt string) []string {
	lower := strings.ToLower(prompt)
	var out []string
	for _, re := range promptConstraintPatterns {
		for _, m := range re.FindAllStringSubmatch(lower, 2) {
			c := strings.TrimSpace(m[1])
			if c == "" {
				continue
			}
			r, size := utf8.DecodeRuneInString(c)
			out = append(out, string(unicode.ToUpper(r))+c[size:])
		}
	}
	return out
}
