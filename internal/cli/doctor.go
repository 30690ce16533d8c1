package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/context-weave/internal/core"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

func newDoctorCmd(env *Env) *cobra.Command {
	var (
		fix    bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check state.json against git and the handoff notes",
		Long: `Run health checks over the ContextWeave setup: git version, config,
state.json, the worktrees it records, orphaned worktrees, handoff notes and
the GitHub token (in github and hybrid modes).

--fix repairs what can be repaired safely: stale state entries are dropped,
orphaned worktrees are removed and missing directories are recreated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireRepo(); err != nil {
				return err
			}
			report := env.Doctor.Run(cmd.Context(), fix)
			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, report); err != nil {
					return err
				}
			} else {
				printDoctorReport(out, report)
			}
			if report.Healthy() {
				return nil
			}
			var failed []string
			for _, c := range report.Checks {
				if c.Status == models.CheckFail && !c.Fixed {
					failed = append(failed, c.Name)
				}
			}
			if len(failed) == 0 {
				return nil
			}
			return &core.DesyncError{
				Op:          "doctor",
				Msg:         fmt.Sprintf("%d check(s) failed", len(failed)),
				Remediation: "cw doctor --fix",
			}
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "Repair what can be repaired")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printDoctorReport(out io.Writer, report models.DoctorReport) {
	for _, c := range report.Checks {
		tag := tagOK()
		switch c.Status {
		case models.CheckWarn:
			tag = tagWarn()
		case models.CheckFail:
			tag = tagFail()
		}
		line := fmt.Sprintf("%s %s", tag, c.Name)
		if c.Detail != "" {
			line += ": " + c.Detail
		}
		if c.Fixed {
			line += " " + okStyle.Render("(fixed)")
		}
		fmt.Fprintln(out, line)
		if c.Fix != "" && !c.Fixed && c.Status != models.CheckOK {
			fmt.Fprintf(out, "  -> %s\n", c.Fix)
		}
	}
}
