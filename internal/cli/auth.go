package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/valter-silva-au/context-weave/internal/core"
	"github.com/valter-silva-au/context-weave/internal/integration"
)

func newAuthCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the GitHub token",
		Long: `Manage the GitHub token used in github and hybrid modes.

The token is looked up in the OS keyring, then GITHUB_TOKEN, then
` + "`gh auth token`" + `. It is never written to the repository.`,
	}
	cmd.AddCommand(newAuthStatusCmd(env), newAuthSetTokenCmd(env), newAuthClearCmd(env))
	return cmd
}

func newAuthStatusCmd(env *Env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show where the GitHub token comes from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if env.Tokens == nil {
				return &core.SetupError{Op: "auth", Msg: "token resolver unavailable"}
			}
			mode := ""
			if env.State != nil && env.State.Exists() {
				mode = string(env.State.Mode())
			}
			_, source, err := env.Tokens.Resolve(cmd.Context())
			authenticated := err == nil
			if err := recordTokenSource(env, source); err != nil {
				env.logger().Warn("recording token source failed", zap.Error(err))
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, map[string]any{
					"authenticated": authenticated,
					"source":        source,
					"mode":          mode,
				})
			}
			if authenticated {
				printOK(out, "GitHub token found (source: %s)", source)
			} else {
				printWarn(out, "no GitHub token found")
				fmt.Fprintln(out, "  -> cw auth set-token <token>, export GITHUB_TOKEN or run gh auth login")
			}
			if mode != "" {
				fmt.Fprintf(out, "  Mode: %s\n", mode)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newAuthSetTokenCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "set-token [token]",
		Short: "Store a GitHub token in the OS keyring",
		Long: `Store a GitHub token in the OS keyring. Without an argument the token
is read from the first line of stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if env.Tokens == nil {
				return &core.SetupError{Op: "auth", Msg: "token resolver unavailable"}
			}
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return &core.ValidationError{Op: "auth", Msg: "no token given", Remediation: "cw auth set-token <token>"}
				}
				token = line
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return &core.ValidationError{Op: "auth", Msg: "token is empty", Remediation: "cw auth set-token <token>"}
			}
			if err := env.Tokens.Store(token); err != nil {
				return &core.SetupError{Op: "auth", Msg: "could not store token", Remediation: "export GITHUB_TOKEN instead", Err: err}
			}
			if err := recordTokenSource(env, integration.TokenSourceKeyring); err != nil {
				env.logger().Warn("recording token source failed", zap.Error(err))
			}
			printOK(cmd.OutOrStdout(), "GitHub token stored in the OS keyring")
			return nil
		},
	}
}

func newAuthClearCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored GitHub token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if env.Tokens == nil {
				return &core.SetupError{Op: "auth", Msg: "token resolver unavailable"}
			}
			if err := env.Tokens.Clear(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printOK(out, "Stored GitHub token removed")
			_, source, err := env.Tokens.Resolve(cmd.Context())
			if err != nil && !errors.Is(err, integration.ErrTokenNotFound) {
				return err
			}
			if err := recordTokenSource(env, source); err != nil {
				env.logger().Warn("recording token source failed", zap.Error(err))
			}
			if source != "" {
				printWarn(out, "a token is still available from %s", source)
			}
			return nil
		},
	}
}

// recordTokenSource notes where the token was found in state.json. The token
// itself is never written. An empty source clears the entry.
func recordTokenSource(env *Env, source string) error {
	if env.State == nil || !env.State.Exists() || env.State.Auth(TokenSourceKey) == source {
		return nil
	}
	return env.State.Update(func() error {
		env.State.SetAuth(TokenSourceKey, source)
		return nil
	})
}

// TokenSourceKey is the state.json auth entry naming the token source.
const TokenSourceKey = "token_source"
