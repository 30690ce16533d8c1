package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/valter-silva-au/context-weave/internal/storage"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

// Effectiveness bounds for lessons.
const (
	MinEffectiveness = 0.1
	MaxEffectiveness = 1.0
)

// Render limits for the memory context section of a brief.
const (
	contextLessonLimit  = 5
	contextFailureLimit = 3
	noMemoryContext     = "_No memory context available yet._"
)

// MemoryManager applies the learning rules on top of the persisted memory
// document: lesson ranking and decay, the execution ring buffer with its
// aggregate counters, and per-issue session continuity.
type MemoryManager interface {
	// RecordExecution appends rec to the ring buffer and folds it into the
	// aggregate metrics.
	RecordExecution(rec models.ExecutionRecord) error

	// AddLesson stores a lesson and returns its id. A lesson with the same
	// category and text is merged into the existing row instead.
	AddLesson(lesson models.Lesson) (string, error)

	// RankLessons scores lessons against the current context and returns
	// the best limit of them. A non-positive limit returns all.
	RankLessons(issueType models.IssueType, role models.Role, categories []string, limit int) []models.Lesson

	// UpdateEffectiveness adjusts a lesson after it was applied. It reports
	// false when no lesson has the id.
	UpdateEffectiveness(id string, outcome models.Outcome) (bool, error)

	CommonFailures(limit int) []models.FailurePattern

	SaveSession(session models.Session) (models.Session, error)
	LatestSession(issue int) *models.Session
	SessionHistory(issue, limit int) []models.Session

	// RoleSuccessRate returns the success ratio for role, or the overall
	// ratio when role is empty. It is 0 when nothing was recorded.
	RoleSuccessRate(role models.Role) float64
	Metrics() models.Metrics

	// RenderContext produces the markdown memory section embedded in role
	// briefs and agent instructions.
	RenderContext(issue int, issueType models.IssueType, role models.Role, categories []string) string
}

type memoryManager struct {
	store  storage.MemoryStore
	caps   models.MemoryConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewMemoryManager creates a MemoryManager over store. Zero caps fall back
// to the defaults.
func NewMemoryManager(store storage.MemoryStore, caps models.MemoryConfig, logger *zap.Logger) MemoryManager {
	defaults := DefaultConfig().Memory
	if caps.MaxLessons <= 0 {
		caps.MaxLessons = defaults.MaxLessons
	}
	if caps.MaxExecutions <= 0 {
		caps.MaxExecutions = defaults.MaxExecutions
	}
	if caps.MaxSessionsPerIssue <= 0 {
		caps.MaxSessionsPerIssue = defaults.MaxSessionsPerIssue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &memoryManager{
		store:  store,
		caps:   caps,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// --- Executions ---

func (mm *memoryManager) RecordExecution(rec models.ExecutionRecord) error {
	if rec.Outcome == "" {
		rec.Outcome = models.OutcomeSuccess
	}
	if !rec.Outcome.IsValid() {
		return fmt.Errorf("recording execution: invalid outcome %q", rec.Outcome)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = mm.now()
	}

	err := mm.store.Update(func(m *models.Memory) error {
		m.Executions = append(m.Executions, rec)
		if over := len(m.Executions) - mm.caps.MaxExecutions; over > 0 {
			m.Executions = append([]models.ExecutionRecord(nil), m.Executions[over:]...)
		}
		foldMetrics(&m.Metrics, rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("recording execution: %w", err)
	}
	mm.logger.Debug("execution recorded",
		zap.Int("issue", rec.Issue),
		zap.String("role", string(rec.Role)),
		zap.String("action", rec.Action),
		zap.String("outcome", string(rec.Outcome)))
	return nil
}

func foldMetrics(metrics *models.Metrics, rec models.ExecutionRecord) {
	if metrics.ByRole == nil {
		metrics.ByRole = map[models.Role]models.RoleMetrics{}
	}
	metrics.TotalExecutions++
	rm := metrics.ByRole[rec.Role]
	rm.Total++
	switch rec.Outcome {
	case models.OutcomeSuccess:
		metrics.SuccessCount++
		rm.Success++
	case models.OutcomeFailure:
		metrics.FailureCount++
		rm.Failure++
	default:
		metrics.PartialCount++
	}
	metrics.ByRole[rec.Role] = rm
}

func (mm *memoryManager) Metrics() models.Metrics {
	src := mm.store.Data().Metrics
	out := src
	out.ByRole = make(map[models.Role]models.RoleMetrics, len(src.ByRole))
	for k, v := range src.ByRole {
		out.ByRole[k] = v
	}
	return out
}

func (mm *memoryManager) RoleSuccessRate(role models.Role) float64 {
	metrics := mm.store.Data().Metrics
	total, success := metrics.TotalExecutions, metrics.SuccessCount
	if role != "" {
		rm := metrics.ByRole[role]
		total, success = rm.Total, rm.Success
	}
	if total == 0 {
		return 0
	}
	return float64(success) / float64(total)
}

func (mm *memoryManager) CommonFailures(limit int) []models.FailurePattern {
	var patterns []models.FailurePattern
	index := map[string]int{}
	for _, rec := range mm.store.Data().Executions {
		if rec.Outcome != models.OutcomeFailure || rec.ErrorType == "" {
			continue
		}
		if i, ok := index[rec.ErrorType]; ok {
			patterns[i].Count++
			continue
		}
		example := rec.ErrorMessage
		if example == "" {
			example = "No message"
		}
		index[rec.ErrorType] = len(patterns)
		patterns = append(patterns, models.FailurePattern{ErrorType: rec.ErrorType, Count: 1, Example: example})
	}
	sort.SliceStable(patterns, func(i, j int) bool { return patterns[i].Count > patterns[j].Count })
	if limit > 0 && len(patterns) > limit {
		patterns = patterns[:limit]
	}
	return patterns
}

// --- Lessons ---

func (mm *memoryManager) AddLesson(lesson models.Lesson) (string, error) {
	lesson.Category = strings.TrimSpace(lesson.Category)
	lesson.Lesson = strings.TrimSpace(lesson.Lesson)
	if lesson.Category == "" || lesson.Lesson == "" {
		return "", fmt.Errorf("adding lesson: category and lesson text are required")
	}
	if lesson.Outcome == "" {
		lesson.Outcome = models.OutcomeSuccess
	}
	if !lesson.Outcome.IsValid() {
		return "", fmt.Errorf("adding lesson: invalid outcome %q", lesson.Outcome)
	}
	if lesson.ID == "" {
		lesson.ID = "lesson-" + uuid.NewString()[:8]
	}
	if lesson.AppliedCount <= 0 {
		lesson.AppliedCount = 1
	}
	if lesson.Effectiveness == 0 {
		lesson.Effectiveness = MaxEffectiveness
	}
	lesson.Effectiveness = clampEffectiveness(lesson.Effectiveness)
	if lesson.CreatedAt.IsZero() {
		lesson.CreatedAt = mm.now()
	}

	id := lesson.ID
	merged := false
	err := mm.store.Update(func(m *models.Memory) error {
		for i := range m.Lessons {
			if m.Lessons[i].Category == lesson.Category && m.Lessons[i].Lesson == lesson.Lesson {
				m.Lessons[i].AppliedCount++
				id = m.Lessons[i].ID
				merged = true
				return nil
			}
		}
		m.Lessons = append(m.Lessons, lesson)
		if len(m.Lessons) > mm.caps.MaxLessons {
			sort.SliceStable(m.Lessons, func(i, j int) bool {
				return lessonWeight(m.Lessons[i]) > lessonWeight(m.Lessons[j])
			})
			m.Lessons = m.Lessons[:mm.caps.MaxLessons]
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("adding lesson: %w", err)
	}
	mm.logger.Info("lesson stored",
		zap.String("id", id),
		zap.String("category", lesson.Category),
		zap.Bool("merged", merged))
	return id, nil
}

func lessonWeight(l models.Lesson) float64 {
	return l.Effectiveness * float64(l.AppliedCount)
}

func clampEffectiveness(e float64) float64 {
	if e < MinEffectiveness {
		return MinEffectiveness
	}
	if e > MaxEffectiveness {
		return MaxEffectiveness
	}
	return e
}

// nextEffectiveness moves e towards 1 on success and decays it on failure.
// Partial outcomes leave it unchanged.
func nextEffectiveness(e float64, outcome models.Outcome) float64 {
	switch outcome {
	case models.OutcomeSuccess:
		e += (1 - e) * 0.1
	case models.OutcomeFailure:
		e *= 0.9
	}
	return clampEffectiveness(e)
}

func (mm *memoryManager) UpdateEffectiveness(id string, outcome models.Outcome) (bool, error) {
	if !outcome.IsValid() {
		return false, fmt.Errorf("updating lesson %s: invalid outcome %q", id, outcome)
	}
	found := false
	var after float64
	err := mm.store.Update(func(m *models.Memory) error {
		for i := range m.Lessons {
			if m.Lessons[i].ID != id {
				continue
			}
			m.Lessons[i].AppliedCount++
			m.Lessons[i].Effectiveness = nextEffectiveness(m.Lessons[i].Effectiveness, outcome)
			after = m.Lessons[i].Effectiveness
			found = true
			return nil
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("updating lesson %s: %w", id, err)
	}
	if found {
		mm.logger.Debug("lesson effectiveness updated",
			zap.String("id", id),
			zap.String("outcome", string(outcome)),
			zap.Float64("effectiveness", after))
	}
	return found, nil
}

func (mm *memoryManager) RankLessons(issueType models.IssueType, role models.Role, categories []string, limit int) []models.Lesson {
	type scored struct {
		score  float64
		lesson models.Lesson
	}
	lessons := mm.store.Data().Lessons
	ranked := make([]scored, 0, len(lessons))
	for _, l := range lessons {
		score := l.Effectiveness * float64(l.AppliedCount+1)
		if issueType != "" && l.IssueType == issueType {
			score *= 1.5
		}
		if role != "" && l.Role == role {
			score *= 1.5
		}
		if containsString(categories, l.Category) {
			score *= 2.0
		}
		ranked = append(ranked, scored{score: score, lesson: l})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := make([]models.Lesson, len(ranked))
	for i, s := range ranked {
		out[i] = s.lesson
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// --- Sessions ---

func (mm *memoryManager) SaveSession(session models.Session) (models.Session, error) {
	if session.Issue <= 0 {
		return session, fmt.Errorf("saving session: issue must be positive, got %d", session.Issue)
	}
	if session.SessionID == "" {
		session.SessionID = uuid.NewString()
	}
	if session.Timestamp.IsZero() {
		session.Timestamp = mm.now()
	}
	key := strconv.Itoa(session.Issue)
	err := mm.store.Update(func(m *models.Memory) error {
		if m.Sessions == nil {
			m.Sessions = map[string][]models.Session{}
		}
		list := append(m.Sessions[key], session)
		if over := len(list) - mm.caps.MaxSessionsPerIssue; over > 0 {
			list = append([]models.Session(nil), list[over:]...)
		}
		m.Sessions[key] = list
		return nil
	})
	if err != nil {
		return session, fmt.Errorf("saving session: %w", err)
	}
	return session, nil
}

func (mm *memoryManager) SessionHistory(issue, limit int) []models.Session {
	list := mm.store.Data().Sessions[strconv.Itoa(issue)]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]models.Session, len(list))
	copy(out, list)
	return out
}

func (mm *memoryManager) LatestSession(issue int) *models.Session {
	history := mm.SessionHistory(issue, 1)
	if len(history) == 0 {
		return nil
	}
	return &history[0]
}

// --- Rendering ---

func (mm *memoryManager) RenderContext(issue int, issueType models.IssueType, role models.Role, categories []string) string {
	var sections []string

	if s := mm.LatestSession(issue); s != nil {
		sections = append(sections, fmt.Sprintf("### Previous Session\n**Last Active**: %s\n**Progress**: %s\n**Summary**: %s\n",
			s.Timestamp.Format(time.RFC3339), s.Progress, s.Summary))
		if len(s.Blockers) > 0 {
			sections = append(sections, "**Blockers**:\n"+bulletList(s.Blockers))
		}
		if len(s.NextSteps) > 0 {
			sections = append(sections, "**Next Steps**:\n"+bulletList(s.NextSteps))
		}
	}

	if lessons := mm.RankLessons(issueType, role, categories, contextLessonLimit); len(lessons) > 0 {
		lines := []string{"### Lessons Learned"}
		for _, l := range lessons {
			lines = append(lines, fmt.Sprintf("- **[%s]** %s _(applied %dx, %.0f%% effective)_",
				l.Category, l.Lesson, l.AppliedCount, l.Effectiveness*100))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	if rate := mm.RoleSuccessRate(role); rate > 0 {
		sections = append(sections, fmt.Sprintf("\n### Performance\n- **%s Success Rate**: %.1f%%", roleTitle(role), rate*100))
	}

	if failures := mm.CommonFailures(contextFailureLimit); len(failures) > 0 {
		lines := []string{"### Common Pitfalls to Avoid"}
		for _, f := range failures {
			lines = append(lines, fmt.Sprintf("- **%s** (%d occurrences)", f.ErrorType, f.Count))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	if len(sections) == 0 {
		return noMemoryContext
	}
	return strings.Join(sections, "\n\n")
}

func bulletList(items []string) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + item
	}
	return strings.Join(lines, "\n")
}

func roleTitle(role models.Role) string {
	if role == "" {
		return "Overall"
	}
	return cases.Title(language.English).String(string(role))
}
