package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/valter-silva-au/context-weave/pkg/models"
)

// Execution strategies reported in WorkflowResult.Strategy.
const (
	StrategySingle     = "single"
	StrategySequential = "sequential"
	StrategyGraph      = "graph"
)

const singleAgentAction = "single_agent_run"

var workflowRoles = map[models.WorkflowType][]models.Role{
	models.WorkflowFullEpic: {models.RolePM, models.RoleUX, models.RoleArchitect, models.RoleEngineer, models.RoleReviewer},
	models.WorkflowFeature:  {models.RoleArchitect, models.RoleEngineer, models.RoleReviewer},
	models.WorkflowStory:    {models.RoleEngineer, models.RoleReviewer},
	models.WorkflowBugFix:   {models.RoleEngineer, models.RoleReviewer},
	models.WorkflowSpike:    {models.RoleArchitect},
}

var issueTypeWorkflows = map[string]models.WorkflowType{
	"epic":    models.WorkflowFullEpic,
	"feature": models.WorkflowFeature,
	"story":   models.WorkflowStory,
	"bug":     models.WorkflowBugFix,
	"spike":   models.WorkflowSpike,
	"docs":    models.WorkflowStory,
}

// WorkflowRoles returns the role sequence for wf. single_agent and unknown
// workflows have no fixed sequence.
func WorkflowRoles(wf models.WorkflowType) []models.Role {
	roles := workflowRoles[wf]
	out := make([]models.Role, len(roles))
	copy(out, roles)
	return out
}

// RunRequest selects what an orchestrated run does. A Role without a
// Workflow runs that role alone. Empty IssueType, Labels and Prompt are
// filled from the local issue or the sync cache.
type RunRequest struct {
	Issue     int
	IssueType models.IssueType
	Prompt    string
	Labels    []string
	Role      models.Role
	Workflow  models.WorkflowType
	// Resume prepends each role's stored conversation to its instructions.
	Resume    bool
}

// resumeMessages caps how much of a stored thread is replayed.
const resumeMessages = 20

// RunInfo identifies the issue and environment an agent invocation works
// on. Agents read it from the context passed to Invoke.
type RunInfo struct {
	Issue        int
	Branch       string
	WorktreePath string
}

type runInfoKey struct{}

// WithRunInfo returns a copy of ctx carrying info.
func WithRunInfo(ctx context.Context, info RunInfo) context.Context {
	return context.WithValue(ctx, runInfoKey{}, info)
}

// RunInfoFrom returns the RunInfo stored in ctx, if any.
func RunInfoFrom(ctx context.Context) (RunInfo, bool) {
	info, ok := ctx.Value(runInfoKey{}).(RunInfo)
	return info, ok
}

// PanicError is the error recorded when an agent panics mid-step.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("agent panic: %v", e.Value) }

// Orchestrator runs role sequences for an issue through an Agent.
type Orchestrator interface {
	// DetermineWorkflow maps labels and the issue type to a workflow. The
	// first label naming a known type wins over issueType.
	DetermineWorkflow(issueType models.IssueType, labels []string) models.WorkflowType
	// Run executes the request and never returns nil. Failures are reported
	// in the result rather than as an error.
	Run(ctx context.Context, req RunRequest) *models.WorkflowResult
	// Plan previews a run without invoking the agent.
	Plan(req RunRequest) models.WorkflowPlan
}

type orchestrator struct {
	*Deps
	agent    Agent
	handoffs HandoffManager
}

// NewOrchestrator creates an Orchestrator. handoffs may be nil, in which
// case environments are not advanced between steps.
func NewOrchestrator(deps Deps, agent Agent, handoffs HandoffManager) Orchestrator {
	return &orchestrator{Deps: deps.withDefaults(), agent: agent, handoffs: handoffs}
}

func (o *orchestrator) DetermineWorkflow(issueType models.IssueType, labels []string) models.WorkflowType {
	for _, l := range labels {
		key := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(l)), "type:")
		if wf, ok := issueTypeWorkflows[key]; ok {
			return wf
		}
	}
	if wf, ok := issueTypeWorkflows[strings.ToLower(string(issueType))]; ok {
		return wf
	}
	return models.WorkflowStory
}

// resolved is a RunRequest with defaults applied.
type resolved struct {
	RunRequest
	roles    []models.Role
	strategy string
}

func (o *orchestrator) resolve(req RunRequest) resolved {
	title, issueType, labels, body := o.issueInfo(req.Issue)
	if req.IssueType == "" {
		req.IssueType = issueType
	}
	if req.Labels == nil {
		req.Labels = labels
	}
	if req.Prompt == "" {
		req.Prompt = firstNonEmpty(body, title)
	}

	r := resolved{RunRequest: req}
	if req.Role != "" && req.Workflow == "" {
		r.Workflow = models.WorkflowSingleAgent
	}
	switch {
	case r.Workflow == models.WorkflowSingleAgent:
		role := req.Role
		if role == "" {
			role = models.RoleEngineer
		}
		r.Role = role
		r.roles = []models.Role{role}
		r.strategy = StrategySingle
		return r
	case r.Workflow == "" || workflowRoles[r.Workflow] == nil:
		r.Workflow = o.DetermineWorkflow(req.IssueType, req.Labels)
	}
	r.roles = WorkflowRoles(r.Workflow)
	r.strategy = StrategySequential
	if _, ok := o.agent.(PipelineBuilder); ok {
		r.strategy = StrategyGraph
	}
	return r
}

func actionFor(r resolved, role models.Role) string {
	if r.strategy == StrategySingle {
		return singleAgentAction
	}
	return "workflow_step_" + string(role)
}

// instructions assembles a step's input from the role brief, memory
// context, prompt and the previous role's output.
func (o *orchestrator) instructions(r resolved, role, prevRole models.Role, prior string) string {
	var memory string
	if o.Memory != nil {
		memory = o.Memory.RenderContext(r.Issue, r.IssueType, role, r.Labels)
	}

	var parts []string
	if r.Resume {
		if h := o.history(r.Issue, role); h != "" {
			parts = append(parts, h)
		}
	}
	brief := ""
	if o.Briefs != nil {
		rendered, err := o.Briefs.Render(BriefRequest{
			Issue: r.Issue, Role: role, IssueType: r.IssueType,
			Labels: r.Labels, Prompt: r.Prompt, Memory: memory,
		})
		if err != nil {
			o.Logger.Warn("rendering role brief failed", zap.Int("issue", r.Issue), zap.String("role", string(role)), zap.Error(err))
		}
		brief = rendered
	}
	if brief != "" {
		parts = append(parts, brief)
	} else {
		if memory != "" {
			parts = append(parts, memory)
		}
		if r.Prompt != "" {
			parts = append(parts, r.Prompt)
		}
	}
	if prior != "" {
		parts = append(parts, fmt.Sprintf("Previous agent (%s) output:\n\n%s\n\nContinue working on issue #%d.", prevRole, prior, r.Issue))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// history renders the last resumeMessages turns of the role's thread.
func (o *orchestrator) history(issue int, role models.Role) string {
	if o.Threads == nil {
		return ""
	}
	msgs := o.Threads.Load(issue, role).Messages
	if len(msgs) == 0 {
		return ""
	}
	if len(msgs) > resumeMessages {
		msgs = msgs[len(msgs)-resumeMessages:]
	}
	var b strings.Builder
	b.WriteString("### Conversation History\n")
	for _, m := range msgs {
		fmt.Fprintf(&b, "\n**%s**: %s\n", m.Role, m.Content)
	}
	return b.String()
}

// remember appends the step's exchange to the role's thread.
func (o *orchestrator) remember(r resolved, role models.Role, out string) {
	if o.Threads == nil {
		return
	}
	meta := map[string]string{"action": actionFor(r, role), "workflow": string(r.Workflow)}
	_, err := o.Threads.Append(r.Issue, role,
		models.ThreadMessage{Role: models.ThreadUser, Content: r.Prompt, Metadata: meta},
		models.ThreadMessage{Role: models.ThreadAssistant, Content: out, Metadata: meta},
	)
	if err != nil {
		o.Logger.Warn("saving thread failed", zap.Int("issue", r.Issue), zap.String("role", string(role)), zap.Error(err))
	}
}

func (o *orchestrator) Plan(req RunRequest) models.WorkflowPlan {
	r := o.resolve(req)
	_, hasEnv := o.State.GetWorktree(r.Issue)
	plan := models.WorkflowPlan{Issue: r.Issue, Workflow: r.Workflow, Strategy: r.strategy}
	for _, role := range r.roles {
		step := models.PlannedStep{
			Role:              role,
			Action:            actionFor(r, role),
			InstructionsChars: len(o.instructions(r, role, "", "")),
			HasEnvironment:    hasEnv,
			HasThread:         o.Threads != nil && o.Threads.Exists(r.Issue, role),
		}
		if o.Briefs != nil {
			a := o.Briefs.Assess(BriefRequest{Issue: r.Issue, Role: role, IssueType: r.IssueType, Labels: r.Labels, Prompt: r.Prompt})
			step.Prompt = &a
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan
}

func (o *orchestrator) Run(ctx context.Context, req RunRequest) *models.WorkflowResult {
	r := o.resolve(req)
	result := &models.WorkflowResult{
		Issue:    r.Issue,
		Workflow: r.Workflow,
		Strategy: r.strategy,
		Roles:    r.roles,
		Steps:    []models.StepResult{},
	}
	o.Logger.Info("workflow starting",
		zap.Int("issue", r.Issue), zap.String("workflow", string(r.Workflow)),
		zap.String("strategy", r.strategy), zap.Int("steps", len(r.roles)))

	info := RunInfo{Issue: r.Issue}
	if wt, ok := o.State.GetWorktree(r.Issue); ok {
		info.Branch = wt.Branch
		info.WorktreePath = wt.Path
	}
	ctx = WithRunInfo(ctx, info)

	var err error
	if r.strategy == StrategyGraph {
		err = o.runGraph(ctx, r, result)
	} else {
		err = o.runSequential(ctx, r, result)
	}
	o.finish(r, result, err)
	return result
}

func (o *orchestrator) runSequential(ctx context.Context, r resolved, result *models.WorkflowResult) error {
	prior := ""
	for i := range r.roles {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := o.step(ctx, r, result, i, prior, o.agent.Invoke)
		if err != nil {
			return err
		}
		prior = out
	}
	return nil
}

func (o *orchestrator) runGraph(ctx context.Context, r resolved, result *models.WorkflowResult) error {
	builder := o.agent.(PipelineBuilder)
	p := NewPipeline()
	for i, role := range r.roles {
		fn, err := builder.PipelineStep(role)
		if err != nil {
			o.Logger.Warn("pipeline unavailable, running sequentially", zap.String("role", string(role)), zap.Error(err))
			result.Strategy = StrategySequential
			return o.runSequential(ctx, r, result)
		}
		invoke := func(ctx context.Context, _ models.Role, instructions, prior string) (string, error) {
			return fn(ctx, instructions, prior)
		}
		node := PipelineNode{
			Name: string(role),
			Run: func(ctx context.Context, input string) (string, error) {
				return o.step(ctx, r, result, i, input, invoke)
			},
		}
		if err := p.AddNode(node); err != nil {
			return err
		}
		if i > 0 {
			if err := p.AddEdge(string(r.roles[i-1]), string(role)); err != nil {
				return err
			}
		}
	}
	if len(r.roles) == 0 {
		return nil
	}
	if err := p.SetStart(string(r.roles[0])); err != nil {
		return err
	}
	_, err := p.Execute(ctx, "")
	return err
}

type invokeFunc func(ctx context.Context, role models.Role, instructions, prior string) (string, error)

// stepError marks a failure already recorded as a failed step.
type stepError struct {
	role models.Role
	err  error
}

func (e *stepError) Error() string { return fmt.Sprintf("Step '%s' failed: %v", e.role, e.err) }
func (e *stepError) Unwrap() error { return e.err }

// step runs role i, records its outcome and advances the environment.
func (o *orchestrator) step(ctx context.Context, r resolved, result *models.WorkflowResult, i int, prior string, invoke invokeFunc) (string, error) {
	role := r.roles[i]
	var prevRole models.Role
	if i > 0 {
		prevRole = r.roles[i-1]
	}
	instructions := o.instructions(r, role, prevRole, prior)

	start := o.Now()
	out, err := safeInvoke(ctx, invoke, role, instructions, prior)
	duration := o.Now().Sub(start).Seconds()

	sr := models.StepResult{Role: role, Output: out, Success: err == nil, DurationSeconds: duration}
	rec := models.ExecutionRecord{
		Issue:           r.Issue,
		Role:            role,
		Action:          actionFor(r, role),
		Outcome:         models.OutcomeSuccess,
		DurationSeconds: &duration,
	}
	if err != nil {
		sr.Output = ""
		sr.Error = err.Error()
		sr.ErrorType = errorTypeName(err)
		rec.Outcome = models.OutcomeFailure
		rec.ErrorType = sr.ErrorType
		rec.ErrorMessage = sr.Error
	}
	result.Steps = append(result.Steps, sr)
	o.record(rec)

	o.Logger.Info("workflow step finished",
		zap.Int("issue", r.Issue), zap.String("role", string(role)),
		zap.Bool("success", sr.Success), zap.Duration("duration", time.Duration(duration*float64(time.Second))))
	logEvent(o.Events, EventWorkflowStep, map[string]any{
		"issue":    r.Issue,
		"workflow": string(r.Workflow),
		"role":     string(role),
		"success":  sr.Success,
		"duration": duration,
	})

	if err != nil {
		return "", &stepError{role: role, err: err}
	}
	result.FinalOutput = out
	o.remember(r, role, out)

	if i+1 < len(r.roles) {
		o.advance(ctx, r.Issue, r.roles[i+1], result)
	}
	return out, nil
}

func (o *orchestrator) record(rec models.ExecutionRecord) {
	if o.Memory == nil {
		return
	}
	if err := o.Memory.RecordExecution(rec); err != nil {
		o.Logger.Warn("recording execution failed", zap.Int("issue", rec.Issue), zap.Error(err))
	}
}

// advance hands the issue's environment to next. The completed step is
// the gate, so the definition of done is not re-checked.
func (o *orchestrator) advance(ctx context.Context, issue int, next models.Role, result *models.WorkflowResult) {
	if o.handoffs == nil {
		return
	}
	wt, ok := o.State.GetWorktree(issue)
	if !ok || wt.Role == next {
		return
	}
	name := fmt.Sprintf("handoff %s->%s", wt.Role, next)
	if _, err := o.handoffs.Handoff(ctx, issue, HandoffOptions{To: next, SkipValidation: true}); err != nil {
		o.Logger.Warn("advancing environment failed", zap.Int("issue", issue), zap.String("to", string(next)), zap.Error(err))
		result.Handoffs = append(result.Handoffs, models.SideEffect{Name: name, Status: models.SideEffectWarning, Detail: err.Error()})
		return
	}
	result.Handoffs = append(result.Handoffs, models.SideEffect{Name: name, Status: models.SideEffectOK})
}

func (o *orchestrator) finish(r resolved, result *models.WorkflowResult, err error) {
	var se *stepError
	switch {
	case err == nil:
		result.Success = true
	case errors.As(err, &se):
		result.FailedRole = se.role
		result.Error = se.Error()
	default:
		result.Error = err.Error()
	}

	o.Logger.Info("workflow finished",
		zap.Int("issue", r.Issue), zap.String("workflow", string(r.Workflow)),
		zap.Bool("success", result.Success), zap.Int("completed_steps", len(result.Steps)))
	logEvent(o.Events, EventWorkflowCompleted, map[string]any{
		"issue":       r.Issue,
		"workflow":    string(r.Workflow),
		"strategy":    result.Strategy,
		"success":     result.Success,
		"failed_role": string(result.FailedRole),
		"steps":       len(result.Steps),
	})
}

// safeInvoke calls invoke and converts a panic into a *PanicError.
func safeInvoke(ctx context.Context, invoke invokeFunc, role models.Role, instructions, prior string) (out string, err error) {
	defer func() {
		if v := recover(); v != nil {
			out, err = "", &PanicError{Value: v}
		}
	}()
	return invoke(ctx, role, instructions, prior)
}

// errorTypeName returns the dynamic type of err without the pointer marker,
// e.g. "agent.ExitError".
func errorTypeName(err error) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}
