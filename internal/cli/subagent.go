package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/context-weave/internal/core"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

func newSubagentCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subagent",
		Aliases: []string{"sa"},
		Short:   "Manage per-issue execution environments",
		Long: `Manage the isolated git worktree ("subagent") that carries an issue
through the pm -> ux -> architect -> engineer -> reviewer pipeline.`,
	}
	cmd.AddCommand(
		newSpawnCmd(env),
		newSubagentListCmd(env),
		newSubagentStatusCmd(env),
		newCompleteCmd(env),
		newRecoverCmd(env),
		newHandoffCmd(env),
		newActivityCmd(env),
	)
	return cmd
}

// parseIssue converts a positional issue argument, accepting an optional
// leading '#'.
func parseIssue(arg string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(arg), "#"))
	if err != nil || n <= 0 {
		return 0, &core.ValidationError{Op: "cw", Msg: fmt.Sprintf("invalid issue number %q", arg)}
	}
	return n, nil
}

func parseRole(s string) (models.Role, error) {
	role := models.Role(strings.ToLower(strings.TrimSpace(s)))
	if !role.IsValid() {
		return "", &core.ValidationError{
			Op:  "cw",
			Msg: fmt.Sprintf("unknown role %q (valid: pm, ux, architect, engineer, reviewer)", s),
		}
	}
	return role, nil
}

func newSpawnCmd(env *Env) *cobra.Command {
	var (
		role  string
		title string
	)
	cmd := &cobra.Command{
		Use:   "spawn <issue>",
		Short: "Create the isolated worktree for an issue",
		Long: `Create the issue-<n>-<slug> branch and its worktree, register it in
state.json, write the initial handoff note and the role brief
(.context-weave/CONTEXT.md inside the worktree).

The slug comes from --title, or from the local or cached remote issue.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			issue, err := parseIssue(args[0])
			if err != nil {
				return err
			}
			r, err := parseRole(role)
			if err != nil {
				return err
			}
			wt, err := env.Subagents.Spawn(cmd.Context(), issue, r, title)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printOK(out, "SubAgent spawned for issue #%d", issue)
			fmt.Fprintf(out, "  Role:     %s\n", wt.Role)
			fmt.Fprintf(out, "  Branch:   %s\n", wt.Branch)
			fmt.Fprintf(out, "  Worktree: %s\n", wt.Path)
			fmt.Fprintf(out, "\n  cd %s\n", wt.Path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&role, "role", "r", string(models.RoleEngineer), "Role to assign: pm, ux, architect, engineer, reviewer")
	cmd.Flags().StringVarP(&title, "title", "t", "", "Title used for the branch slug")
	return cmd
}

func newSubagentListCmd(env *Env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active environments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			statuses, err := env.Subagents.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				if statuses == nil {
					statuses = []models.WorktreeStatus{}
				}
				return writeJSON(out, statuses)
			}
			if len(statuses) == 0 {
				fmt.Fprintln(out, "No active subagents.")
				return nil
			}
			fmt.Fprintf(out, "%-7s %-10s %-7s %s\n", "ISSUE", "ROLE", "EXISTS", "BRANCH")
			for _, st := range statuses {
				exists := "yes"
				if !st.Exists {
					exists = failStyle.Render("no")
				}
				fmt.Fprintf(out, "#%-6d %-10s %-7s %s\n", st.Issue, st.Role, exists, st.Branch)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newSubagentStatusCmd(env *Env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <issue>",
		Short: "Show an environment, its changes and handoff note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			issue, err := parseIssue(args[0])
			if err != nil {
				return err
			}
			st, err := env.Subagents.Status(cmd.Context(), issue)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printStatus(out io.Writer, st *models.WorktreeStatus) {
	fmt.Fprintf(out, "Issue #%d\n", st.Issue)
	fmt.Fprintf(out, "  Role:     %s\n", st.Role)
	fmt.Fprintf(out, "  Branch:   %s\n", st.Branch)
	if st.Exists {
		fmt.Fprintf(out, "  Worktree: %s\n", st.Path)
	} else {
		fmt.Fprintf(out, "  Worktree: %s %s\n", st.Path, failStyle.Render("(missing)"))
		fmt.Fprintf(out, "  -> cw subagent recover %d\n", st.Issue)
	}
	fmt.Fprintf(out, "  Changed:  %d file(s)\n", st.ChangedFiles)
	if st.LastCommit != nil {
		fmt.Fprintf(out, "  Last commit: %s\n", st.LastCommit.Format("2006-01-02 15:04 MST"))
	}
	if n := st.Note; n != nil {
		fmt.Fprintf(out, "  Note:     %s, %d commit(s)", n.Status, n.Commits)
		if n.HandoffFrom != "" {
			fmt.Fprintf(out, ", last handoff %s -> %s", n.HandoffFrom, n.HandoffTo)
		}
		fmt.Fprintln(out)
	}
}

func newCompleteCmd(env *Env) *cobra.Command {
	var (
		opts    core.CompleteOptions
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "complete <issue>",
		Short: "Finish an issue and remove its worktree",
		Long: `Mark the handoff note completed, remove the worktree and unregister it.

Fails when the worktree has uncommitted changes unless --force is given.
The branch is deleted once merged into the trunk unless --keep-branch is
given. --push and --pr publish the branch; their failures are reported as
warnings.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			issue, err := parseIssue(args[0])
			if err != nil {
				return err
			}
			res, err := env.Subagents.Complete(cmd.Context(), issue, opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printOK(out, "SubAgent for issue #%d completed", issue)
			if res.BranchDeleted {
				fmt.Fprintf(out, "  Branch %s deleted\n", res.Branch)
			} else {
				fmt.Fprintf(out, "  Branch %s kept\n", res.Branch)
			}
			printSideEffects(out, res.SideEffects, verbose)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "Complete even with uncommitted changes")
	cmd.Flags().BoolVar(&opts.KeepBranch, "keep-branch", false, "Keep the issue branch")
	cmd.Flags().BoolVar(&opts.Push, "push", false, "Push the branch to origin")
	cmd.Flags().BoolVar(&opts.CreatePR, "pr", false, "Open a pull request (github and hybrid modes)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show every side effect")
	return cmd
}

func newRecoverCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "recover <issue>",
		Short: "Recreate a missing worktree from its branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			issue, err := parseIssue(args[0])
			if err != nil {
				return err
			}
			if err := env.Subagents.Recover(cmd.Context(), issue); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "Worktree for issue #%d is in place", issue)
			return nil
		},
	}
}

func newActivityCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:    "activity <issue>",
		Short:  "Record a commit on the issue branch (called by the post-commit hook)",
		Args:   cobra.ExactArgs(1),
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			issue, err := parseIssue(args[0])
			if err != nil {
				return err
			}
			note, err := env.Subagents.RecordActivity(cmd.Context(), issue)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Issue #%d: %d commits\n", issue, note.Commits)
			return nil
		},
	}
}

func newHandoffCmd(env *Env) *cobra.Command {
	var (
		to      string
		skip    bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "handoff <issue>",
		Short: "Pass an issue to the next role",
		Long: `Run the current role's definition of done and, when it passes, move the
issue to the next role (pm -> ux -> architect -> engineer -> reviewer).
--to picks the target role explicitly. --skip-validation bypasses the
checklist.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			issue, err := parseIssue(args[0])
			if err != nil {
				return err
			}
			opts := core.HandoffOptions{SkipValidation: skip}
			if to != "" {
				if opts.To, err = parseRole(to); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			res, err := env.Handoffs.Handoff(cmd.Context(), issue, opts)
			if err != nil {
				if res != nil && res.Report != nil {
					printDoDReport(out, *res.Report)
				}
				return err
			}
			if res.Report != nil && verbose {
				printDoDReport(out, *res.Report)
			}
			printOK(out, "Issue #%d handed off: %s -> %s", issue, res.From, res.To)
			if res.BriefPath != "" {
				fmt.Fprintf(out, "  Brief: %s\n", res.BriefPath)
			}
			printSideEffects(out, res.SideEffects, verbose)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Target role (defaults to the next role)")
	cmd.Flags().BoolVar(&skip, "skip-validation", false, "Skip the definition-of-done check")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show the checklist and every side effect")
	return cmd
}
