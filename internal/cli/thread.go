package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/context-weave/internal/core"
	"github.com/valter-silva-au/context-weave/internal/storage"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

func newThreadCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thread",
		Short: "Inspect stored agent conversations",
		Long: `Each successful workflow step is appended to a thread keyed by issue
and role under .context-weave/threads/. cw run --resume replays it.`,
	}
	cmd.AddCommand(newThreadListCmd(env), newThreadShowCmd(env), newThreadDeleteCmd(env))
	return cmd
}

// threadArgs parses "<issue> <role>".
func threadArgs(env *Env, args []string) (int, models.Role, error) {
	if err := env.requireRepo(); err != nil {
		return 0, "", err
	}
	issue, err := parseIssue(args[0])
	if err != nil {
		return 0, "", err
	}
	role, err := parseRole(args[1])
	if err != nil {
		return 0, "", err
	}
	return issue, role, nil
}

func newThreadListCmd(env *Env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored threads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireRepo(); err != nil {
				return err
			}
			threads, err := env.Threads.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, threads)
			}
			if len(threads) == 0 {
				fmt.Fprintln(out, "No threads stored.")
				return nil
			}
			for _, th := range threads {
				fmt.Fprintf(out, "#%-5d %-10s %3d messages  updated %s\n",
					th.Issue, th.Role, th.MessageCount, th.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newThreadShowCmd(env *Env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <issue> <role>",
		Short: "Print a thread's messages",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			issue, role, err := threadArgs(env, args)
			if err != nil {
				return err
			}
			if !env.Threads.Exists(issue, role) {
				return &core.ValidationError{
					Op:          "thread show",
					Msg:         fmt.Sprintf("no thread for issue #%d and role %s", issue, role),
					Remediation: "cw thread list",
				}
			}
			th := env.Threads.Load(issue, role)
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, th)
			}
			printThread(out, th)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newThreadDeleteCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <issue> <role>",
		Short: "Forget a thread",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			issue, role, err := threadArgs(env, args)
			if err != nil {
				return err
			}
			deleted, err := env.Threads.Delete(issue, role)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !deleted {
				printWarn(out, "No thread for issue #%d and role %s", issue, role)
				return nil
			}
			printOK(out, "Deleted thread %s", storage.ThreadID(issue, role))
			return nil
		},
	}
}

func printThread(out io.Writer, th *models.Thread) {
	fmt.Fprintf(out, "Thread %s (%d messages)\n", th.ThreadID, th.MessageCount)
	for _, m := range th.Messages {
		fmt.Fprintf(out, "\n[%s]\n%s\n", m.Role, m.Content)
	}
}
