package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/context-weave/internal/core"
	cwmcp "github.com/valter-silva-au/context-weave/internal/mcp"
	"github.com/valter-silva-au/context-weave/internal/observability"
)

// SlackWebhookEnv names the variable holding the Slack incoming webhook used
// by cw events --alerts --notify.
const SlackWebhookEnv = "CW_SLACK_WEBHOOK"

func newEventsCmd(env *Env) *cobra.Command {
	var (
		eventType string
		since     string
		level     string
		issue     int
		limit     int
		summary   bool
		alerts    bool
		notify    bool
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the event log, activity metrics and alerts",
		Long: `Read .context-weave/events.jsonl, the append-only log of spawns,
completions, handoffs, workflow steps and pushes.

  cw events --since 24h --type workflow.step_failed
  cw events --summary --since 7d
  cw events --alerts --notify`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			if env.EventLog == nil {
				return &core.SetupError{Op: "events", Msg: "event log unavailable", Remediation: "cw doctor"}
			}
			out := cmd.OutOrStdout()
			now := env.now()

			if alerts || notify {
				found, err := env.Alerts.Evaluate(now)
				if err != nil {
					return err
				}
				if asJSON {
					if err := writeJSON(out, found); err != nil {
						return err
					}
				} else {
					printAlerts(out, found)
				}
				if !notify {
					return nil
				}
				if env.Notifier == nil {
					return &core.SetupError{
						Op:          "events",
						Msg:         "no notifier configured",
						Remediation: "export " + SlackWebhookEnv + "=<incoming webhook URL>",
					}
				}
				if err := env.Notifier.Notify(cmd.Context(), found); err != nil {
					return &core.TransientError{Op: "events", Msg: "sending alerts failed", Remediation: "retry later", Err: err}
				}
				if len(found) > 0 && !asJSON {
					printOK(out, "%d alert(s) sent", len(found))
				}
				return nil
			}

			start, err := cwmcp.ParseSince(since, now)
			if err != nil {
				return &core.ValidationError{Op: "events", Msg: err.Error(), Remediation: "use e.g. --since 7d or --since 24h"}
			}

			if summary {
				m, err := env.Metrics.Calculate(start)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, m)
				}
				printEventMetrics(out, since, m)
				return nil
			}

			events, err := env.EventLog.Read(observability.EventFilter{
				Since: &start,
				Type:  eventType,
				Level: level,
				Issue: issue,
			})
			if err != nil {
				return err
			}
			if limit > 0 && len(events) > limit {
				events = events[len(events)-limit:]
			}
			if asJSON {
				if events == nil {
					events = []observability.Event{}
				}
				return writeJSON(out, events)
			}
			if len(events) == 0 {
				fmt.Fprintln(out, "No events.")
				return nil
			}
			for _, e := range events {
				fmt.Fprintf(out, "%s %-5s %-24s %s\n", dimStyle.Render(e.Time.Format("2006-01-02 15:04:05")), e.Level, e.Type, e.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "Only events of this type")
	cmd.Flags().StringVar(&since, "since", "7d", "Time window, e.g. 7d or 24h")
	cmd.Flags().StringVar(&level, "level", "", "Only events of this level (INFO, WARN)")
	cmd.Flags().IntVar(&issue, "issue", 0, "Only events about this issue")
	cmd.Flags().IntVar(&limit, "limit", 50, "Show at most this many recent events (0 for all)")
	cmd.Flags().BoolVar(&summary, "summary", false, "Show aggregated activity metrics")
	cmd.Flags().BoolVar(&alerts, "alerts", false, "Evaluate alert conditions")
	cmd.Flags().BoolVar(&notify, "notify", false, "Send triggered alerts to Slack (implies --alerts)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printEventMetrics(out io.Writer, window string, m *observability.Metrics) {
	fmt.Fprintf(out, "Activity (%s)\n", window)
	fmt.Fprintf(out, "  %-18s %d\n", "Events", m.EventCount)
	fmt.Fprintf(out, "  %-18s %d\n", "Spawned", m.Spawned)
	fmt.Fprintf(out, "  %-18s %d\n", "Completed", m.Completed)
	fmt.Fprintf(out, "  %-18s %d\n", "Recovered", m.Recovered)
	fmt.Fprintf(out, "  %-18s %d\n", "Handoffs", m.Handoffs)
	fmt.Fprintf(out, "  %-18s %d (%d failed)\n", "Workflow runs", m.WorkflowRuns, m.WorkflowFailures)
	fmt.Fprintf(out, "  %-18s %d (%d failed)\n", "Steps", m.StepsRun, m.StepFailures)
	fmt.Fprintf(out, "  %-18s %d\n", "Branches pushed", m.BranchesPushed)
	if len(m.StepsByRole) == 0 {
		return
	}
	roles := make([]string, 0, len(m.StepsByRole))
	for r := range m.StepsByRole {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	fmt.Fprintln(out, "  Steps by role:")
	for _, r := range roles {
		fmt.Fprintf(out, "    %-16s %d\n", r, m.StepsByRole[r])
	}
}

func printAlerts(out io.Writer, alerts []observability.Alert) {
	if len(alerts) == 0 {
		printOK(out, "No alerts")
		return
	}
	for _, a := range alerts {
		var tag string
		switch a.Severity {
		case observability.SeverityHigh:
			tag = failStyle.Render("[HIGH]")
		case observability.SeverityMedium:
			tag = warnStyle.Render("[MEDIUM]")
		default:
			tag = dimStyle.Render("[LOW]")
		}
		fmt.Fprintf(out, "%s %s\n", tag, a.Message)
		if a.Remediation != "" {
			fmt.Fprintf(out, "  -> %s\n", a.Remediation)
		}
	}
}
