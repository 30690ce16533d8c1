package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/context-weave/internal/core"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

// issueFlags are shared by start and issue create.
type issueFlags struct {
	issueType string
	body      string
	labels    []string
}

func (f *issueFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.issueType, "type", string(models.IssueTypeStory), "Issue type: epic, feature, story, bug, spike, docs")
	cmd.Flags().StringVarP(&f.body, "body", "b", "", "Issue description")
	cmd.Flags().StringSliceVarP(&f.labels, "label", "l", nil, "Label (repeatable)")
}

func (f *issueFlags) request(title string) (core.StartRequest, error) {
	t, err := parseIssueType(f.issueType)
	if err != nil {
		return core.StartRequest{}, err
	}
	return core.StartRequest{Title: title, Body: f.body, IssueType: t, Labels: f.labels}, nil
}

func newStartCmd(env *Env) *cobra.Command {
	var (
		flags issueFlags
		role  string
	)
	cmd := &cobra.Command{
		Use:   "start <title>",
		Short: "Create a local issue and spawn its environment",
		Long: `Create a local issue in state.json and spawn its worktree in one step.

  cw start "Add login page" --type feature --role architect`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			req, err := flags.request(strings.Join(args, " "))
			if err != nil {
				return err
			}
			if req.Role, err = parseRole(role); err != nil {
				return err
			}
			res, err := env.Starter.Start(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printOK(out, "Issue #%d created: %s", res.Issue.Number, res.Issue.Title)
			fmt.Fprintf(out, "  Type:     %s\n", res.Issue.Type)
			fmt.Fprintf(out, "  Role:     %s\n", res.Worktree.Role)
			fmt.Fprintf(out, "  Branch:   %s\n", res.Worktree.Branch)
			fmt.Fprintf(out, "  Worktree: %s\n", res.Worktree.Path)
			fmt.Fprintf(out, "\n  cd %s\n", res.Worktree.Path)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&role, "role", "r", string(models.RoleEngineer), "Role to spawn")
	return cmd
}
