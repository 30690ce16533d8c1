package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/context-weave/internal/core"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

func newRunCmd(env *Env) *cobra.Command {
	var (
		role      string
		workflow  string
		issueType string
		labels    []string
		prompt    string
		dryRun    bool
		resume    bool
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "run <issue>",
		Short: "Run the agent workflow for an issue",
		Long: `Run the role workflow for an issue through the configured agent provider.

The workflow is chosen from the issue's type:* labels and type unless
--workflow or --role is given:

  full_epic  pm -> ux -> architect -> engineer -> reviewer
  feature    architect -> engineer -> reviewer
  story      engineer -> reviewer
  bug_fix    engineer -> reviewer
  spike      architect

--role runs a single agent. Each step receives the role brief, the ranked
lessons from memory and the previous step's output. A failed step stops
the workflow; the failure is recorded in memory and the command still
exits 0. --dry-run prints the plan without invoking the agent and scores
each role brief for completeness.

Every successful step is appended to the role's thread under
.context-weave/threads/. --resume replays the last 20 messages of that
thread ahead of the brief.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			issue, err := parseIssue(args[0])
			if err != nil {
				return err
			}
			req := core.RunRequest{Issue: issue, Prompt: prompt, Labels: labels, Resume: resume}
			if role != "" {
				if req.Role, err = parseRole(role); err != nil {
					return err
				}
			}
			if workflow != "" {
				req.Workflow = models.WorkflowType(strings.ToLower(workflow))
				if !req.Workflow.IsValid() {
					return &core.ValidationError{
						Op:  "run",
						Msg: fmt.Sprintf("unknown workflow %q (valid: full_epic, feature, story, bug_fix, spike, single_agent)", workflow),
					}
				}
			}
			if issueType != "" {
				if req.IssueType, err = parseIssueType(issueType); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if dryRun {
				plan := env.Orchestrator.Plan(req)
				if asJSON {
					return writeJSON(out, plan)
				}
				printPlan(out, plan)
				return nil
			}

			result := env.Orchestrator.Run(cmd.Context(), req)
			if asJSON {
				return writeJSON(out, result)
			}
			printWorkflowResult(out, result)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Run a single agent with this role")
	cmd.Flags().StringVar(&workflow, "workflow", "", "Workflow to run (overrides detection)")
	cmd.Flags().StringVar(&issueType, "type", "", "Issue type used for workflow detection")
	cmd.Flags().StringSliceVar(&labels, "label", nil, "Issue label (repeatable)")
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Task prompt (defaults to the issue body)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the plan without invoking the agent")
	cmd.Flags().BoolVar(&resume, "resume", false, "Replay each role's stored conversation")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printPlan(out io.Writer, plan models.WorkflowPlan) {
	fmt.Fprintf(out, "Plan for issue #%d: %s (%s)\n", plan.Issue, plan.Workflow, plan.Strategy)
	for i, s := range plan.Steps {
		env := "no environment"
		if s.HasEnvironment {
			env = "in worktree"
		}
		if s.HasThread {
			env += ", thread stored"
		}
		fmt.Fprintf(out, "  %d. %-10s %s, %d chars of instructions, %s\n", i+1, s.Role, s.Action, s.InstructionsChars, env)
		if p := s.Prompt; p != nil {
			fmt.Fprintf(out, "     brief %.0f%% complete\n", p.Score*100)
			for _, issue := range p.Issues {
				fmt.Fprintf(out, "     %s %s\n", tagWarn(), issue)
			}
			for _, w := range p.Warnings {
				fmt.Fprintf(out, "     note: %s\n", w)
			}
		}
	}
}

func printWorkflowResult(out io.Writer, r *models.WorkflowResult) {
	fmt.Fprintf(out, "Workflow %s for issue #%d (%s)\n", r.Workflow, r.Issue, r.Strategy)
	for _, s := range r.Steps {
		if s.Success {
			fmt.Fprintf(out, "  %s %-10s %.1fs\n", tagOK(), s.Role, s.DurationSeconds)
			continue
		}
		fmt.Fprintf(out, "  %s %-10s %s\n", tagFail(), s.Role, s.Error)
	}
	for _, h := range r.Handoffs {
		if h.Status == models.SideEffectWarning {
			printWarn(out, "%s: %s", h.Name, h.Detail)
		}
	}
	if r.Success {
		printOK(out, "Workflow completed (%d step(s))", len(r.Steps))
		if r.FinalOutput != "" {
			fmt.Fprintf(out, "\n%s\n", r.FinalOutput)
		}
		return
	}
	printFail(out, "Workflow stopped: %s", r.Error)
	if r.FailedRole != "" {
		fmt.Fprintf(out, "  -> cw run %d --role %s\n", r.Issue, r.FailedRole)
	}
}
