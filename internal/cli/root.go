package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the cw command tree around env.
func NewRootCmd(env *Env) *cobra.Command {
	root := &cobra.Command{
		Use:   "cw",
		Short: "ContextWeave - coordinate role-specialised agents on git issues",
		Long: `ContextWeave (cw) coordinates role-specialised AI agents (pm, ux,
architect, engineer, reviewer) working on issues in a git repository.

Each issue gets an isolated git worktree on an issue-<n>-<slug> branch.
Handoffs between roles are gated by a per-role definition of done, and a
handoff note travels with the branch in refs/notes/context. Lessons and
execution outcomes are remembered across runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newInitCmd(env),
		newSubagentCmd(env),
		newValidateCmd(env),
		newMemoryCmd(env),
		newRunCmd(env),
		newThreadCmd(env),
		newStartCmd(env),
		newIssueCmd(env),
		newSyncCmd(env),
		newAuthCmd(env),
		newDoctorCmd(env),
		newDashboardCmd(env),
		newMCPCmd(env),
		newEventsCmd(env),
		newVersionCmd(env),
	)
	return root
}

func newVersionCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			v := env.Version
			if v.Version == "" {
				v = VersionInfo{Version: "dev", Commit: "none", Date: "unknown"}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cw %s\ncommit: %s\nbuilt:  %s\n", v.Version, v.Commit, v.Date)
		},
	}
}
