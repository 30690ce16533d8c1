package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/context-weave/internal/core"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

func newInitCmd(env *Env) *cobra.Command {
	var (
		mode  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialise ContextWeave in the current repository",
		Long: `Initialise ContextWeave in the current git repository.

Creates .context-weave/ with config.yaml and state.json, excludes the
directory from git status, and installs the pre-commit, prepare-commit-msg,
post-commit, pre-push and post-merge hooks. In github and hybrid modes the owner and repository
are taken from the origin remote.

Running init again is a no-op unless --force is given. --force rewrites
the configuration and hooks but keeps registered environments and issues.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireRepo(); err != nil {
				return err
			}
			opts := core.InitOptions{Mode: models.Mode(mode), Force: force}
			if opts.Mode != models.ModeLocal && env.DetectOrigin != nil {
				owner, repo, err := env.DetectOrigin(env.RepoRoot)
				if err != nil {
					env.logger().Debug("origin not detected")
				} else {
					opts.Owner, opts.Repo = owner, repo
				}
			}

			result, err := env.Initializer.Init(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if result.AlreadyInitialized {
				printOK(out, "ContextWeave is already initialised (mode %s)", result.Mode)
				fmt.Fprintln(out, "  -> cw init --force to reinitialise")
				return nil
			}

			for _, p := range result.Created {
				fmt.Fprintf(out, "  created  %s\n", relTo(env.RepoRoot, p))
			}
			for _, p := range result.Skipped {
				fmt.Fprintf(out, "  kept     %s\n", relTo(env.RepoRoot, p))
			}
			for _, h := range result.BackedUp {
				printWarn(out, "existing %s hook moved to %s.backup", h, h)
			}
			if len(result.Hooks) > 0 {
				fmt.Fprintf(out, "  hooks    %s\n", joinOrDash(result.Hooks))
			}
			printOK(out, "ContextWeave initialised (mode %s)", result.Mode)
			if opts.Owner != "" {
				fmt.Fprintf(out, "  GitHub repository: %s/%s\n", opts.Owner, opts.Repo)
			}
			fmt.Fprintln(out, "\nNext steps:")
			fmt.Fprintln(out, "  cw start \"<title>\" --type story      create an issue and spawn an engineer")
			fmt.Fprintln(out, "  cw subagent spawn <issue> --role pm  work on an existing issue")
			if result.Mode != models.ModeLocal {
				fmt.Fprintln(out, "  cw auth set-token                    store a GitHub token")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(models.ModeLocal), "Operating mode: local, github or hybrid")
	cmd.Flags().BoolVar(&force, "force", false, "Reinitialise an initialised repository")
	return cmd
}

// relTo returns path relative to root when possible.
func relTo(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}
