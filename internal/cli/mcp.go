package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cwmcp "github.com/valter-silva-au/context-weave/internal/mcp"
)

func newMCPCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "MCP server commands",
		Long:  "Commands for running the cw MCP (Model Context Protocol) server.",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the cw MCP server on stdio",
		Long: `Start the cw MCP server on stdio transport.

The server exposes read-mostly cw tools to AI coding assistants:
list_subagents, subagent_status, memory_context, add_lesson,
record_execution, memory_metrics, determine_workflow, event_metrics and
get_alerts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			srv := cwmcp.NewServer(cwmcp.Services{
				Env:          env.Subagents,
				Memory:       env.Memory,
				Orchestrator: env.Orchestrator,
				Metrics:      env.Metrics,
				Alerts:       env.Alerts,
			}, env.Version.Version)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := srv.Run(ctx); err != nil {
				return fmt.Errorf("running MCP server: %w", err)
			}
			return nil
		},
	})
	return cmd
}
