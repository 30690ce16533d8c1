package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/context-weave/internal/core"
)

func newSyncCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronise with GitHub",
		Long: `Synchronise local state with GitHub.

  pull           cache open GitHub issues in state.json
  push           push completed issue branches that were not pushed yet
  status         show the sync configuration and counts
  status-update  move an issue's Projects V2 card`,
	}
	cmd.AddCommand(
		newSyncPullCmd(env),
		newSyncPushCmd(env),
		newSyncStatusCmd(env),
		newSyncStatusUpdateCmd(env),
	)
	return cmd
}

func newSyncPullCmd(env *Env) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Cache open GitHub issues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			res, err := env.Syncer.Pull(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, is := range res.Issues {
				fmt.Fprintf(out, "  #%-6d %-50s %s\n", is.Number, truncate(is.Title, 50), dimStyle.Render(joinOrDash(is.Labels)))
			}
			if dryRun {
				printOK(out, "%d open issue(s) would be cached (dry run)", len(res.Issues))
				return nil
			}
			printOK(out, "%d open issue(s) cached", len(res.Issues))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List issues without writing the cache")
	return cmd
}

func newSyncPushCmd(env *Env) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push completed issue branches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			res, err := env.Syncer.Push(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dryRun {
				if len(res.Pending) == 0 {
					fmt.Fprintln(out, "Nothing to push.")
					return nil
				}
				fmt.Fprintln(out, "Would push:")
				for _, b := range res.Pending {
					fmt.Fprintf(out, "  %s\n", b)
				}
				return nil
			}
			for _, b := range res.Pushed {
				printOK(out, "pushed %s", b)
			}
			for _, f := range res.Failed {
				printFail(out, "%s: %s", f.Name, f.Detail)
			}
			if len(res.Pushed) == 0 && len(res.Failed) == 0 {
				fmt.Fprintln(out, "Nothing to push.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List branches without pushing")
	return cmd
}

func newSyncStatusCmd(env *Env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync configuration and counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			st := env.Syncer.Status(cmd.Context())
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, st)
			}
			fmt.Fprintf(out, "Mode:              %s\n", st.Mode)
			if st.Owner != "" {
				fmt.Fprintf(out, "Repository:        %s/%s\n", st.Owner, st.Repo)
			}
			if st.ProjectNumber > 0 {
				fmt.Fprintf(out, "Project:           #%d\n", st.ProjectNumber)
			}
			last := "never"
			if st.LastSync != nil {
				last = st.LastSync.Format("2006-01-02 15:04 MST")
			}
			fmt.Fprintf(out, "Last pull:         %s\n", last)
			fmt.Fprintf(out, "Cached issues:     %d\n", st.CachedIssues)
			fmt.Fprintf(out, "Issue branches:    %d\n", st.IssueBranches)
			fmt.Fprintf(out, "Active subagents:  %d\n", st.ActiveSubagents)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newSyncStatusUpdateCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "status-update <issue> <status>",
		Short: "Move an issue's Projects V2 card",
		Long: fmt.Sprintf(`Move an issue's card on the configured Projects V2 board.

Valid statuses: %s.`, strings.Join(core.ProjectStatuses, ", ")),
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			issue, err := parseIssue(args[0])
			if err != nil {
				return err
			}
			status := strings.Join(args[1:], " ")
			if err := env.Syncer.UpdateStatus(cmd.Context(), issue, status); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "Issue #%d moved to %s", issue, status)
			return nil
		},
	}
}
