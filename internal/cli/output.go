package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/valter-silva-au/context-weave/internal/core"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func tagOK() string   { return okStyle.Render("[OK]") }
func tagFail() string { return failStyle.Render("[FAIL]") }
func tagWarn() string { return warnStyle.Render("[WARN]") }

func printOK(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", tagOK(), fmt.Sprintf(format, args...))
}

func printWarn(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", tagWarn(), fmt.Sprintf(format, args...))
}

func printFail(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", tagFail(), fmt.Sprintf(format, args...))
}

// printSideEffects lists the best-effort steps of a command. Successful
// entries are only shown when verbose is set.
func printSideEffects(w io.Writer, effects []models.SideEffect, verbose bool) {
	for _, e := range effects {
		switch {
		case e.Status == models.SideEffectWarning:
			printWarn(w, "%s: %s", e.Name, e.Detail)
		case verbose:
			detail := e.Name
			if e.Detail != "" {
				detail += ": " + e.Detail
			}
			fmt.Fprintf(w, "  %s\n", dimStyle.Render(detail))
		}
	}
}

// printDoDReport prints a pass/fail line per check followed by the tally.
func printDoDReport(w io.Writer, report models.DoDReport) {
	title := report.Name
	if title == "" {
		title = "Definition of Done"
	}
	fmt.Fprintf(w, "%s for #%d (%s)\n", title, report.Issue, report.Role)
	for _, c := range report.Checks {
		if c.Passed {
			fmt.Fprintf(w, "  %s %s\n", tagOK(), c.Description)
			continue
		}
		fmt.Fprintf(w, "  %s %s\n", tagFail(), c.Description)
		if c.Remediation != "" {
			fmt.Fprintf(w, "       -> %s\n", c.Remediation)
		}
	}
	fmt.Fprintf(w, "%d/%d checks passed\n", report.Passed(), len(report.Checks))
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

// PrintError writes err and its remediation command, if any.
func PrintError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(w, "%s %s\n", tagFail(), err)
	if fix := core.Remediation(err); fix != "" {
		fmt.Fprintf(w, "  -> %s\n", fix)
	}
}

// ExitCode maps a command error to the process exit status. A workflow
// whose step failed is recorded in its result and is not an error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
