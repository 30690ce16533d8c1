package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/context-weave/pkg/models"
)

// Dashboard panel indices.
const (
	panelSubagents = iota
	panelMemory
	panelLessons
	panelCount
)

const dashboardLessonLimit = 8

type dashboardModel struct {
	ctx         context.Context
	env         *Env
	activePanel int
	width       int
	height      int

	subagents []models.WorktreeStatus
	metrics   models.Metrics
	lessons   []models.Lesson

	loading bool
	err     error
}

// dataLoadedMsg carries loaded data back to the model.
type dataLoadedMsg struct {
	subagents []models.WorktreeStatus
	metrics   models.Metrics
	lessons   []models.Lesson
	err       error
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(1, 2)

	activePanelStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(1, 2)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			MarginBottom(1)

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newDashboardModel(ctx context.Context, env *Env) dashboardModel {
	return dashboardModel{ctx: ctx, env: env, activePanel: panelSubagents, loading: true}
}

func (m dashboardModel) Init() tea.Cmd {
	return m.load
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activePanel = (m.activePanel + 1) % panelCount
			return m, nil
		case "shift+tab":
			m.activePanel = (m.activePanel - 1 + panelCount) % panelCount
			return m, nil
		case "r":
			m.loading = true
			return m, m.load
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case dataLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.subagents = msg.subagents
		m.metrics = msg.metrics
		m.lessons = msg.lessons
		m.err = nil
		return m, nil
	}

	return m, nil
}

func (m dashboardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" ContextWeave ")
	help := helpStyle.Render("tab: switch panel | r: refresh | q: quit")

	if m.loading {
		return fmt.Sprintf("%s\n\n  Loading data...\n\n%s", title, help)
	}
	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}

	panels := []string{m.renderSubagentsPanel(), m.renderMemoryPanel(), m.renderLessonsPanel()}
	availableWidth := m.width - 2

	var body string
	if availableWidth > 120 {
		colWidth := availableWidth / panelCount
		for i := range panels {
			panels[i] = m.applyPanelStyle(i, panels[i], colWidth-4)
		}
		body = lipgloss.JoinHorizontal(lipgloss.Top, panels...)
	} else {
		panelWidth := availableWidth - 4
		if panelWidth < 20 {
			panelWidth = 20
		}
		for i := range panels {
			panels[i] = m.applyPanelStyle(i, panels[i], panelWidth)
		}
		body = lipgloss.JoinVertical(lipgloss.Left, panels...)
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, body, help)
}

func (m dashboardModel) applyPanelStyle(panel int, content string, width int) string {
	style := panelStyle
	if m.activePanel == panel {
		style = activePanelStyle
	}
	return style.Width(width).Render(content)
}

func (m dashboardModel) renderSubagentsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Subagents"))
	b.WriteString("\n")

	if len(m.subagents) == 0 {
		b.WriteString("  No active subagents.")
		return b.String()
	}
	for _, s := range m.subagents {
		tag := tagOK()
		if !s.Exists {
			tag = tagWarn()
		}
		b.WriteString(fmt.Sprintf("  %s #%-5d %-10s %s\n", tag, s.Issue, s.Role, dimStyle.Render(s.Branch)))
	}
	b.WriteString(fmt.Sprintf("\n  Total: %d", len(m.subagents)))
	return b.String()
}

func (m dashboardModel) renderMemoryPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Executions"))
	b.WriteString("\n")

	if m.metrics.TotalExecutions == 0 {
		b.WriteString("  No executions recorded.")
		return b.String()
	}
	b.WriteString(fmt.Sprintf("  %-12s %d\n", "Total", m.metrics.TotalExecutions))
	b.WriteString(okStyle.Render(fmt.Sprintf("  %-12s %d", "Success", m.metrics.SuccessCount)) + "\n")
	b.WriteString(failStyle.Render(fmt.Sprintf("  %-12s %d", "Failure", m.metrics.FailureCount)) + "\n")
	b.WriteString(warnStyle.Render(fmt.Sprintf("  %-12s %d", "Partial", m.metrics.PartialCount)) + "\n\n")

	roles := make([]string, 0, len(m.metrics.ByRole))
	for r := range m.metrics.ByRole {
		roles = append(roles, string(r))
	}
	sort.Strings(roles)
	for _, r := range roles {
		rm := m.metrics.ByRole[models.Role(r)]
		rate := 0.0
		if rm.Total > 0 {
			rate = float64(rm.Success) / float64(rm.Total) * 100
		}
		b.WriteString(fmt.Sprintf("  %-10s %3.0f%% (%d/%d)\n", r, rate, rm.Success, rm.Total))
	}
	return b.String()
}

func (m dashboardModel) renderLessonsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Top lessons"))
	b.WriteString("\n")

	if len(m.lessons) == 0 {
		b.WriteString("  No lessons yet.")
		return b.String()
	}
	for _, l := range m.lessons {
		b.WriteString(fmt.Sprintf("  %3.0f%% %-10s %s\n", l.Effectiveness*100, l.Role, truncate(l.Lesson, 48)))
	}
	return b.String()
}

func (m dashboardModel) load() tea.Msg {
	var msg dataLoadedMsg
	subagents, err := m.env.Subagents.List(m.ctx)
	if err != nil {
		msg.err = fmt.Errorf("loading subagents: %w", err)
		return msg
	}
	msg.subagents = subagents
	msg.metrics = m.env.Memory.Metrics()
	msg.lessons = m.env.Memory.RankLessons("", "", nil, dashboardLessonLimit)
	return msg
}

func newDashboardCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Interactive view of subagents, executions and lessons",
		Long: `Launch an interactive terminal dashboard showing the active subagents,
execution outcomes per role and the most effective lessons.

Navigate between panels with Tab, refresh with r, quit with q.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.requireInit(); err != nil {
				return err
			}
			p := tea.NewProgram(newDashboardModel(cmd.Context(), env), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err := p.Run()
			return err
		},
	}
}
