package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/context-weave/internal/core"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

func newMemoryCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Lessons, execution history and session notes",
		Long: `Inspect and record what agents learned across runs.

Lessons are ranked by role, issue type, category and effectiveness and
are embedded in every role brief. Execution records feed per-role success
rates. Session notes capture where work on an issue left off.`,
	}
	session := &cobra.Command{
		Use:   "session",
		Short: "Save and show per-issue session notes",
	}
	session.AddCommand(newSessionSaveCmd(env), newSessionShowCmd(env))

	cmd.AddCommand(
		newLessonsCmd(env),
		newAddLessonCmd(env),
		newUpdateLessonCmd(env),
		newRecordCmd(env),
		newMemoryMetricsCmd(env),
		newFailuresCmd(env),
		newMemoryContextCmd(env),
		session,
	)
	return cmd
}

func parseOutcome(s string) (models.Outcome, error) {
	o := models.Outcome(strings.ToLower(strings.TrimSpace(s)))
	if !o.IsValid() {
		return "", &core.ValidationError{Op: "memory", Msg: fmt.Sprintf("invalid outcome %q (valid: success, failure, partial)", s)}
	}
	return o, nil
}

func parseIssueType(s string) (models.IssueType, error) {
	t := models.IssueType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", &core.ValidationError{Op: "cw", Msg: fmt.Sprintf("unknown issue type %q (valid: epic, feature, story, bug, spike, docs)", s)}
	}
	return t, nil
}

func newLessonsCmd(env *Env) *cobra.Command {
	var (
		role      string
		issueType string
		category  string
		limit     int
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "lessons",
		Short: "List lessons ranked for a role and issue type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireRepo(); err != nil {
				return err
			}
			var (
				r   models.Role
				t   models.IssueType
				err error
			)
			if role != "" {
				if r, err = parseRole(role); err != nil {
					return err
				}
			}
			if issueType != "" {
				if t, err = parseIssueType(issueType); err != nil {
					return err
				}
			}
			var cats []string
			if category != "" {
				cats = []string{category}
			}
			lessons := env.Memory.RankLessons(t, r, cats, limit)
			if category != "" {
				lessons = filterLessons(lessons, category)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if lessons == nil {
					lessons = []models.Lesson{}
				}
				return writeJSON(out, lessons)
			}
			if len(lessons) == 0 {
				fmt.Fprintln(out, "No lessons learned yet. Use 'cw memory add-lesson' to add one.")
				return nil
			}
			for i, l := range lessons {
				fmt.Fprintf(out, "%d. [%s] %s\n", i+1, l.Category, l.Lesson)
				fmt.Fprintf(out, "   %s  effectiveness %.0f%% | applied %dx | role %s | type %s\n",
					dimStyle.Render(l.ID), l.Effectiveness*100, l.AppliedCount, l.Role, l.IssueType)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Rank for this role")
	cmd.Flags().StringVar(&issueType, "type", "", "Rank for this issue type")
	cmd.Flags().StringVar(&category, "category", "", "Only lessons in this category")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of lessons")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func filterLessons(lessons []models.Lesson, category string) []models.Lesson {
	var out []models.Lesson
	for _, l := range lessons {
		if strings.EqualFold(l.Category, category) {
			out = append(out, l)
		}
	}
	return out
}

func newAddLessonCmd(env *Env) *cobra.Command {
	var (
		lesson    models.Lesson
		role      string
		issueType string
		outcome   string
	)
	cmd := &cobra.Command{
		Use:   "add-lesson",
		Short: "Record a lesson learned",
		Long: `Record a lesson learned. A lesson with the same category and text as an
existing one is merged into it and its applied count goes up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireRepo(); err != nil {
				return err
			}
			var err error
			if lesson.Role, err = parseRole(role); err != nil {
				return err
			}
			if lesson.IssueType, err = parseIssueType(issueType); err != nil {
				return err
			}
			if lesson.Outcome, err = parseOutcome(outcome); err != nil {
				return err
			}
			if strings.TrimSpace(lesson.Category) == "" || strings.TrimSpace(lesson.Lesson) == "" {
				return &core.ValidationError{Op: "memory", Msg: "--category and --lesson are required"}
			}
			id, err := env.Memory.AddLesson(lesson)
			if err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "Lesson %s recorded [%s]", id, lesson.Category)
			return nil
		},
	}
	cmd.Flags().IntVar(&lesson.Issue, "issue", 0, "Related issue number")
	cmd.Flags().StringVar(&issueType, "issue-type", string(models.IssueTypeStory), "Issue type")
	cmd.Flags().StringVar(&role, "role", string(models.RoleEngineer), "Role that learned this")
	cmd.Flags().StringVar(&lesson.Category, "category", "", "Category (security, testing, api, ...)")
	cmd.Flags().StringVar(&lesson.Lesson, "lesson", "", "The lesson learned")
	cmd.Flags().StringVar(&lesson.Context, "context", "", "What triggered this lesson")
	cmd.Flags().StringVar(&outcome, "outcome", string(models.OutcomeSuccess), "success, failure or partial")
	return cmd
}

func newUpdateLessonCmd(env *Env) *cobra.Command {
	var outcome string
	cmd := &cobra.Command{
		Use:   "update <lesson-id>",
		Short: "Adjust a lesson's effectiveness after applying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireRepo(); err != nil {
				return err
			}
			o, err := parseOutcome(outcome)
			if err != nil {
				return err
			}
			found, err := env.Memory.UpdateEffectiveness(args[0], o)
			if err != nil {
				return err
			}
			if !found {
				return &core.ValidationError{
					Op:          "memory",
					Msg:         fmt.Sprintf("no lesson with id %q", args[0]),
					Remediation: "cw memory lessons --json",
				}
			}
			printOK(cmd.OutOrStdout(), "Lesson %s updated (%s)", args[0], o)
			return nil
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", string(models.OutcomeSuccess), "Outcome of applying the lesson")
	return cmd
}

func newRecordCmd(env *Env) *cobra.Command {
	var (
		rec      models.ExecutionRecord
		role     string
		outcome  string
		duration float64
		tokens   int
	)
	cmd := &cobra.Command{
		Use:   "record <issue>",
		Short: "Record the outcome of an agent action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireRepo(); err != nil {
				return err
			}
			var err error
			if rec.Issue, err = parseIssue(args[0]); err != nil {
				return err
			}
			if rec.Role, err = parseRole(role); err != nil {
				return err
			}
			if rec.Outcome, err = parseOutcome(outcome); err != nil {
				return err
			}
			if strings.TrimSpace(rec.Action) == "" {
				return &core.ValidationError{Op: "memory", Msg: "--action is required"}
			}
			if cmd.Flags().Changed("duration") {
				rec.DurationSeconds = &duration
			}
			if cmd.Flags().Changed("tokens") {
				rec.TokensUsed = &tokens
			}
			rec.Timestamp = env.now()
			if err := env.Memory.RecordExecution(rec); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printOK(out, "Execution recorded for issue #%d", rec.Issue)
			fmt.Fprintf(out, "  %s success rate: %.1f%%\n", rec.Role, env.Memory.RoleSuccessRate(rec.Role)*100)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Role performing the action")
	cmd.Flags().StringVar(&rec.Action, "action", "", "What was attempted")
	cmd.Flags().StringVar(&outcome, "outcome", "", "success, failure or partial")
	cmd.Flags().StringVar(&rec.ErrorType, "error-type", "", "Error classification if failed")
	cmd.Flags().StringVar(&rec.ErrorMessage, "error-message", "", "Error message if failed")
	cmd.Flags().Float64Var(&duration, "duration", 0, "Duration in seconds")
	cmd.Flags().IntVar(&tokens, "tokens", 0, "Tokens used")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

func newMemoryMetricsCmd(env *Env) *cobra.Command {
	var (
		role   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show execution success rates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireRepo(); err != nil {
				return err
			}
			m := env.Memory.Metrics()
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, m)
			}
			if role != "" {
				r, err := parseRole(role)
				if err != nil {
					return err
				}
				rm := m.ByRole[r]
				fmt.Fprintf(out, "%s success rate: %.1f%% (%d executions)\n", r, env.Memory.RoleSuccessRate(r)*100, rm.Total)
				return nil
			}
			printMemoryMetrics(out, m, env.Memory.RoleSuccessRate(""))
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Only this role")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printMemoryMetrics(out io.Writer, m models.Metrics, overall float64) {
	fmt.Fprintf(out, "Total executions: %d\n", m.TotalExecutions)
	if m.TotalExecutions == 0 {
		return
	}
	fmt.Fprintf(out, "Success rate:     %.1f%% (%d success, %d failure, %d partial)\n",
		overall*100, m.SuccessCount, m.FailureCount, m.PartialCount)
	roles := make([]string, 0, len(m.ByRole))
	for r := range m.ByRole {
		roles = append(roles, string(r))
	}
	sort.Strings(roles)
	if len(roles) > 0 {
		fmt.Fprintln(out, "By role:")
	}
	for _, r := range roles {
		rm := m.ByRole[models.Role(r)]
		rate := 0.0
		if rm.Total > 0 {
			rate = float64(rm.Success) / float64(rm.Total)
		}
		fmt.Fprintf(out, "  %-10s %5.1f%% (%d executions)\n", r, rate*100, rm.Total)
	}
}

func newFailuresCmd(env *Env) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "Show the most common failure types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireRepo(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failures := env.Memory.CommonFailures(limit)
			if len(failures) == 0 {
				fmt.Fprintln(out, "No failures recorded.")
				return nil
			}
			for _, f := range failures {
				fmt.Fprintf(out, "  %-30s %d occurrence(s)\n", f.ErrorType, f.Count)
				if f.Example != "" {
					fmt.Fprintf(out, "    %s\n", dimStyle.Render(truncate(f.Example, 72)))
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "Maximum number of failure types")
	return cmd
}

func newMemoryContextCmd(env *Env) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "context <issue>",
		Short: "Print the memory section embedded in role briefs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireRepo(); err != nil {
				return err
			}
			issue, err := parseIssue(args[0])
			if err != nil {
				return err
			}
			issueType, labels := models.IssueTypeStory, []string(nil)
			if local, ok := env.State.GetIssue(issue); ok {
				issueType, labels = local.Type, local.Labels
			}
			r := models.RoleEngineer
			if wt, ok := env.State.GetWorktree(issue); ok {
				r = wt.Role
			}
			if role != "" {
				if r, err = parseRole(role); err != nil {
					return err
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), env.Memory.RenderContext(issue, issueType, r, labels))
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Role to render for (defaults to the environment's role)")
	return cmd
}

func newSessionSaveCmd(env *Env) *cobra.Command {
	var s models.Session
	cmd := &cobra.Command{
		Use:   "save <issue>",
		Short: "Save where work on an issue left off",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireRepo(); err != nil {
				return err
			}
			var err error
			if s.Issue, err = parseIssue(args[0]); err != nil {
				return err
			}
			if strings.TrimSpace(s.Summary) == "" {
				return &core.ValidationError{Op: "memory", Msg: "--summary is required"}
			}
			saved, err := env.Memory.SaveSession(s)
			if err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "Session %s saved for issue #%d", saved.SessionID, saved.Issue)
			return nil
		},
	}
	cmd.Flags().StringVar(&s.Summary, "summary", "", "Brief summary of what was done")
	cmd.Flags().StringVar(&s.Progress, "progress", "", "Where work left off")
	cmd.Flags().StringArrayVar(&s.Blockers, "blocker", nil, "Current blocker (repeatable)")
	cmd.Flags().StringArrayVar(&s.NextSteps, "next", nil, "Next step (repeatable)")
	cmd.Flags().StringArrayVar(&s.FilesModified, "file", nil, "File modified (repeatable)")
	return cmd
}

func newSessionShowCmd(env *Env) *cobra.Command {
	var (
		history bool
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "show <issue>",
		Short: "Show the latest session note, or the history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireRepo(); err != nil {
				return err
			}
			issue, err := parseIssue(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if history {
				sessions := env.Memory.SessionHistory(issue, limit)
				if len(sessions) == 0 {
					fmt.Fprintf(out, "No session history for issue #%d\n", issue)
					return nil
				}
				for i, s := range sessions {
					fmt.Fprintf(out, "%d. %s\n", i+1, s.Timestamp.Format("2006-01-02 15:04 MST"))
					fmt.Fprintf(out, "   Summary:  %s\n", s.Summary)
					fmt.Fprintf(out, "   Progress: %s\n", s.Progress)
				}
				return nil
			}
			s := env.Memory.LatestSession(issue)
			if s == nil {
				fmt.Fprintf(out, "No session context for issue #%d\n", issue)
				return nil
			}
			fmt.Fprintf(out, "Session %s (%s)\n", s.SessionID, s.Timestamp.Format("2006-01-02 15:04 MST"))
			fmt.Fprintf(out, "  Summary:  %s\n", s.Summary)
			fmt.Fprintf(out, "  Progress: %s\n", s.Progress)
			printList(out, "Blockers", s.Blockers)
			printList(out, "Next steps", s.NextSteps)
			printList(out, "Files modified", s.FilesModified)
			return nil
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "Show every saved session")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum sessions with --history")
	return cmd
}

func printList(out io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(out, "  %s:\n", title)
	for _, it := range items {
		fmt.Fprintf(out, "    - %s\n", it)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
