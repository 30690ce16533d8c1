package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/context-weave/internal/core"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

func newIssueCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Manage local issues",
		Long: `Manage issues tracked locally in state.json. Local issues are numbered
sequentially and are never deleted, only closed.`,
	}
	cmd.AddCommand(
		newIssueCreateCmd(env),
		newIssueListCmd(env),
		newIssueShowCmd(env),
		newIssueCloseCmd(env),
	)
	return cmd
}

func newIssueCreateCmd(env *Env) *cobra.Command {
	var flags issueFlags
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a local issue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			req, err := flags.request(strings.Join(args, " "))
			if err != nil {
				return err
			}
			issue, err := env.Starter.CreateIssue(req)
			if err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "Issue #%d created: %s", issue.Number, issue.Title)
			fmt.Fprintf(cmd.OutOrStdout(), "  -> cw subagent spawn %d --role <role>\n", issue.Number)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newIssueListCmd(env *Env) *cobra.Command {
	var (
		state     string
		issueType string
		role      string
		all       bool
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List local issues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			filter := models.IssueFilter{State: models.IssueState(state)}
			if all {
				filter.State = ""
			}
			var err error
			if issueType != "" {
				if filter.Type, err = parseIssueType(issueType); err != nil {
					return err
				}
			}
			if role != "" {
				if filter.Role, err = parseRole(role); err != nil {
					return err
				}
			}
			issues := env.State.ListIssues(filter)
			out := cmd.OutOrStdout()
			if asJSON {
				if issues == nil {
					issues = []models.Issue{}
				}
				return writeJSON(out, issues)
			}
			if len(issues) == 0 {
				fmt.Fprintln(out, "No issues found.")
				return nil
			}
			fmt.Fprintf(out, "%-6s %-8s %-8s %-10s %s\n", "#", "STATE", "TYPE", "ROLE", "TITLE")
			for _, is := range issues {
				assigned := string(is.Role)
				if assigned == "" {
					assigned = "-"
				}
				fmt.Fprintf(out, "%-6d %-8s %-8s %-10s %s\n", is.Number, is.State, is.Type, assigned, truncate(is.Title, 60))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", string(models.IssueOpen), "Issue state: open or closed")
	cmd.Flags().BoolVar(&all, "all", false, "Include closed issues")
	cmd.Flags().StringVar(&issueType, "type", "", "Only this issue type")
	cmd.Flags().StringVar(&role, "role", "", "Only issues assigned to this role")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newIssueShowCmd(env *Env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <issue>",
		Short: "Show a local issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			n, err := parseIssue(args[0])
			if err != nil {
				return err
			}
			issue, ok := env.State.GetIssue(n)
			if !ok {
				return &core.ValidationError{Op: "issue", Msg: fmt.Sprintf("issue #%d not found", n), Remediation: "cw issue list --all"}
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, issue)
			}
			fmt.Fprintf(out, "#%d %s\n", issue.Number, issue.Title)
			fmt.Fprintf(out, "  State:   %s\n", issue.State)
			fmt.Fprintf(out, "  Type:    %s\n", issue.Type)
			if issue.Role != "" {
				fmt.Fprintf(out, "  Role:    %s\n", issue.Role)
			}
			fmt.Fprintf(out, "  Labels:  %s\n", joinOrDash(issue.Labels))
			fmt.Fprintf(out, "  Created: %s\n", issue.CreatedAt.Format("2006-01-02 15:04 MST"))
			if issue.ClosedAt != nil {
				fmt.Fprintf(out, "  Closed:  %s\n", issue.ClosedAt.Format("2006-01-02 15:04 MST"))
			}
			if issue.Body != "" {
				fmt.Fprintf(out, "\n%s\n", issue.Body)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newIssueCloseCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "close <issue>",
		Short: "Close a local issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			n, err := parseIssue(args[0])
			if err != nil {
				return err
			}
			if _, ok := env.State.GetIssue(n); !ok {
				return &core.ValidationError{Op: "issue", Msg: fmt.Sprintf("issue #%d not found", n), Remediation: "cw issue list --all"}
			}
			if err := env.State.Update(func() error { return env.State.CloseIssue(n) }); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printOK(out, "Issue #%d closed", n)
			if _, active := env.State.GetWorktree(n); active {
				printWarn(out, "issue #%d still has an active environment", n)
				fmt.Fprintf(out, "  -> cw subagent complete %d\n", n)
			}
			return nil
		},
	}
}
