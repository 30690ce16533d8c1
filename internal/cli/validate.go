package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/context-weave/internal/core"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

type validateFlags struct {
	verbose bool
	quiet   bool
	asJSON  bool
}

func (f *validateFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Show every check")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Print nothing; report through the exit code")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "Output the report as JSON")
}

func newValidateCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run quality gates for an issue",
		Long: `Run the quality gates for an issue:

  task       the issue is described well enough to start
  preflight  the environment is ready for an agent run
  dod        the current role's definition of done
  all        all three, in that order

Each gate exits non-zero when a check fails.`,
	}
	cmd.AddCommand(
		newGateCmd(env, "task", nil, "Check the issue description quality",
			func(ctx context.Context, issue int) models.DoDReport { return env.DoD.TaskQuality(ctx, issue) }),
		newGateCmd(env, "preflight", []string{"pre-exec"}, "Check the environment before an agent run",
			func(ctx context.Context, issue int) models.DoDReport { return env.DoD.Preflight(ctx, issue) }),
		newDoDCmd(env),
		newValidateAllCmd(env),
	)
	return cmd
}

func newGateCmd(env *Env, name string, aliases []string, short string, gate func(context.Context, int) models.DoDReport) *cobra.Command {
	var flags validateFlags
	cmd := &cobra.Command{
		Use:     name + " <issue>",
		Aliases: aliases,
		Short:   short,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			issue, err := parseIssue(args[0])
			if err != nil {
				return err
			}
			return reportGate(cmd.OutOrStdout(), gate(cmd.Context(), issue), flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func newDoDCmd(env *Env) *cobra.Command {
	var (
		flags       validateFlags
		role        string
		certificate bool
	)
	cmd := &cobra.Command{
		Use:   "dod <issue>",
		Short: "Check the definition of done",
		Long: `Check the definition of done for the issue's current role, or for --role.

With --certificate a passing report is recorded as
.context-weave/certificates/cert-<issue>.json.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			issue, err := parseIssue(args[0])
			if err != nil {
				return err
			}
			var r models.Role
			if role != "" {
				if r, err = parseRole(role); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			report := env.DoD.Check(cmd.Context(), issue, r)
			if err := reportGate(out, report, flags); err != nil {
				return err
			}
			if !certificate {
				return nil
			}
			path, cert, err := env.DoD.WriteCertificate(report)
			if err != nil {
				return err
			}
			if !flags.quiet && !flags.asJSON {
				printOK(out, "Certificate %s written to %s", cert.ID, relTo(env.RepoRoot, path))
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&role, "role", "", "Role whose checklist to run (defaults to the current role)")
	cmd.Flags().BoolVar(&certificate, "certificate", false, "Write a completion certificate when all checks pass")
	return cmd
}

func newValidateAllCmd(env *Env) *cobra.Command {
	var flags validateFlags
	cmd := &cobra.Command{
		Use:   "all <issue>",
		Short: "Run task, preflight and dod in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			issue, err := parseIssue(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			reports := []models.DoDReport{
				env.DoD.TaskQuality(ctx, issue),
				env.DoD.Preflight(ctx, issue),
				env.DoD.Check(ctx, issue, ""),
			}
			out := cmd.OutOrStdout()
			printFlags := flags
			if flags.asJSON {
				if err := writeJSON(out, reports); err != nil {
					return err
				}
				printFlags = validateFlags{quiet: true}
			}
			var failed []string
			for i, r := range reports {
				if !printFlags.quiet && i > 0 {
					fmt.Fprintln(out)
				}
				if err := reportGate(out, r, printFlags); err != nil {
					failed = append(failed, reportTitle(r))
				}
			}
			if len(failed) > 0 {
				return &core.ValidationError{
					Op:          "validate",
					Msg:         fmt.Sprintf("issue #%d failed: %s", issue, strings.Join(failed, ", ")),
					Remediation: fmt.Sprintf("cw validate all %d --verbose", issue),
				}
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// reportGate prints report according to flags and returns a
// ValidationError naming the failed checks.
func reportGate(out io.Writer, report models.DoDReport, flags validateFlags) error {
	switch {
	case flags.asJSON:
		if err := writeJSON(out, report); err != nil {
			return err
		}
	case flags.quiet:
	case flags.verbose || !report.OK():
		printDoDReport(out, report)
	default:
		printOK(out, "%s: %d/%d checks passed", reportTitle(report), report.Passed(), len(report.Checks))
	}
	if report.OK() {
		return nil
	}
	failed := report.Failed()
	ids := make([]string, len(failed))
	for i, c := range failed {
		ids[i] = c.ID
	}
	return &core.ValidationError{
		Op:          "validate",
		Msg:         fmt.Sprintf("%s for #%d: %d/%d passed", reportTitle(report), report.Issue, report.Passed(), len(report.Checks)),
		Remediation: failed[0].Remediation,
		Failed:      ids,
	}
}

func reportTitle(r models.DoDReport) string {
	if r.Name != "" {
		return r.Name
	}
	return "Definition of Done"
}
