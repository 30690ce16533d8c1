// Package storage persists the durable record (state.json) and the memory
// document (memory.json) under a repository's .context-weave directory.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/valter-silva-au/context-weave/pkg/models"
	"go.uber.org/zap"
)

// DirName is the per-repository directory holding all tool state.
const DirName = ".context-weave"

// StateStore manages the durable record persisted to .context-weave/state.json.
// Accessors operate on the loaded document; Save or Update persists it.
type StateStore interface {
	Load()
	Save() error
	Update(fn func() error) error
	Exists() bool
	Path() string
	Recovered() error
	Snapshot() models.State

	Worktrees() []models.Worktree
	GetWorktree(issue int) (models.Worktree, bool)
	AddWorktree(wt models.Worktree) error
	RemoveWorktree(issue int) bool
	SetWorktreeRole(issue int, role models.Role) error

	CreateIssue(title, body string, issueType models.IssueType, labels []string) models.Issue
	GetIssue(number int) (models.Issue, bool)
	ListIssues(filter models.IssueFilter) []models.Issue
	UpdateIssue(issue models.Issue) error
	CloseIssue(number int) error

	Mode() models.Mode
	SetMode(mode models.Mode) error
	GitHub() models.GitHubSettings
	SetGitHub(settings models.GitHubSettings)
	Auth(key string) string
	SetAuth(key, value string)
}

type fileStateStore struct {
	dir       string
	data      *models.State
	recovered error
	logger    *zap.Logger
	now       func() time.Time
}

// NewStateStore creates a StateStore rooted at repoRoot/.context-weave. The
// document starts as the default until Load is called.
func NewStateStore(repoRoot string, logger *zap.Logger) StateStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &fileStateStore{
		dir:    filepath.Join(repoRoot, DirName),
		data:   models.DefaultState(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *fileStateStore) Path() string {
	return filepath.Join(s.dir, "state.json")
}

func (s *fileStateStore) lockPath() string {
	return filepath.Join(s.dir, "state.lock")
}

// Exists reports whether state.json is present on disk.
func (s *fileStateStore) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// Recovered returns the error that forced the last Load to fall back to
// defaults, or nil when the document was read cleanly or was absent.
func (s *fileStateStore) Recovered() error {
	return s.recovered
}

// Load reads state.json. A missing or unparseable file yields the default
// document; startup is never blocked by a corrupt record.
func (s *fileStateStore) Load() {
	s.recovered = nil
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.recovered = fmt.Errorf("reading state: %w", err)
			s.logger.Warn("state unreadable, using defaults", zap.String("path", s.Path()), zap.Error(err))
		}
		s.data = models.DefaultState()
		return
	}

	var st models.State
	if err := json.Unmarshal(data, &st); err != nil {
		s.recovered = fmt.Errorf("parsing state: %w", err)
		s.logger.Warn("state corrupt, using defaults", zap.String("path", s.Path()), zap.Error(err))
		s.data = models.DefaultState()
		return
	}
	normalizeState(&st)
	s.data = &st
}

// normalizeState fills in collections and scalars a hand-edited or older
// document may lack.
func normalizeState(st *models.State) {
	def := models.DefaultState()
	if st.Schema == "" {
		st.Schema = def.Schema
	}
	if st.Version == "" {
		st.Version = def.Version
	}
	if !st.Mode.IsValid() {
		st.Mode = def.Mode
	}
	if st.Worktrees == nil {
		st.Worktrees = []models.Worktree{}
	}
	if st.LocalIssues == nil {
		st.LocalIssues = map[string]models.Issue{}
	}
	if st.Auth == nil {
		st.Auth = map[string]string{}
	}
	if st.GitHub.IssueCache == nil {
		st.GitHub.IssueCache = map[string]models.RemoteIssueSnapshot{}
	}
}

// Save writes the document atomically.
func (s *fileStateStore) Save() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("saving state: marshaling JSON: %w", err)
	}
	if err := writeFileAtomic(s.Path(), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	return nil
}

// Update reloads the document under an exclusive file lock, applies fn, and
// saves the result. When fn fails nothing is written and the in-memory
// document is reloaded from disk.
func (s *fileStateStore) Update(fn func() error) error {
	unlock, err := lockFile(s.lockPath())
	if err != nil {
		return fmt.Errorf("updating state: %w", err)
	}
	defer func() { _ = unlock() }()

	s.Load()
	if err := fn(); err != nil {
		s.Load()
		return err
	}
	return s.Save()
}

// Snapshot returns a deep copy of the loaded document.
func (s *fileStateStore) Snapshot() models.State {
	raw, err := json.Marshal(s.data)
	if err != nil {
		return *models.DefaultState()
	}
	var out models.State
	if err := json.Unmarshal(raw, &out); err != nil {
		return *models.DefaultState()
	}
	normalizeState(&out)
	return out
}

// --- Worktrees ---

func (s *fileStateStore) Worktrees() []models.Worktree {
	out := make([]models.Worktree, len(s.data.Worktrees))
	copy(out, s.data.Worktrees)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Issue < out[j].Issue })
	return out
}

func (s *fileStateStore) GetWorktree(issue int) (models.Worktree, bool) {
	for _, wt := range s.data.Worktrees {
		if wt.Issue == issue {
			return wt, true
		}
	}
	return models.Worktree{}, false
}

// AddWorktree registers a worktree. At most one entry exists per issue.
func (s *fileStateStore) AddWorktree(wt models.Worktree) error {
	if wt.Issue <= 0 {
		return fmt.Errorf("adding worktree: issue must be positive, got %d", wt.Issue)
	}
	if _, ok := s.GetWorktree(wt.Issue); ok {
		return fmt.Errorf("adding worktree: issue #%d already registered", wt.Issue)
	}
	s.data.Worktrees = append(s.data.Worktrees, wt)
	return nil
}

// RemoveWorktree deregisters the issue's worktree and reports whether one
// was present.
func (s *fileStateStore) RemoveWorktree(issue int) bool {
	kept := s.data.Worktrees[:0]
	removed := false
	for _, wt := range s.data.Worktrees {
		if wt.Issue == issue {
			removed = true
			continue
		}
		kept = append(kept, wt)
	}
	s.data.Worktrees = kept
	return removed
}

func (s *fileStateStore) SetWorktreeRole(issue int, role models.Role) error {
	for i := range s.data.Worktrees {
		if s.data.Worktrees[i].Issue == issue {
			s.data.Worktrees[i].Role = role
			return nil
		}
	}
	return fmt.Errorf("setting worktree role: issue #%d not registered", issue)
}

// --- Local issues ---

// CreateIssue adds a local issue numbered one past the highest existing
// number and tags it with a type:<t> label.
func (s *fileStateStore) CreateIssue(title, body string, issueType models.IssueType, labels []string) models.Issue {
	if issueType == "" {
		issueType = models.IssueTypeStory
	}
	next := 1
	for key, issue := range s.data.LocalIssues {
		n := issue.Number
		if n == 0 {
			n, _ = strconv.Atoi(key)
		}
		if n >= next {
			next = n + 1
		}
	}

	typeLabel := "type:" + string(issueType)
	all := make([]string, 0, len(labels)+1)
	hasType := false
	for _, l := range labels {
		if strings.EqualFold(l, typeLabel) {
			hasType = true
		}
		all = append(all, l)
	}
	if !hasType {
		all = append(all, typeLabel)
	}

	now := s.now()
	issue := models.Issue{
		Number:    next,
		Title:     title,
		Body:      body,
		Type:      issueType,
		Labels:    all,
		State:     models.IssueOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.data.LocalIssues[strconv.Itoa(next)] = issue
	return issue
}

func (s *fileStateStore) GetIssue(number int) (models.Issue, bool) {
	issue, ok := s.data.LocalIssues[strconv.Itoa(number)]
	return issue, ok
}

// ListIssues returns matching local issues ordered by number.
func (s *fileStateStore) ListIssues(filter models.IssueFilter) []models.Issue {
	var out []models.Issue
	for _, issue := range s.data.LocalIssues {
		if filter.Matches(issue) {
			out = append(out, issue)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (s *fileStateStore) UpdateIssue(issue models.Issue) error {
	key := strconv.Itoa(issue.Number)
	if _, ok := s.data.LocalIssues[key]; !ok {
		return fmt.Errorf("updating issue: #%d not found", issue.Number)
	}
	issue.UpdatedAt = s.now()
	s.data.LocalIssues[key] = issue
	return nil
}

func (s *fileStateStore) CloseIssue(number int) error {
	issue, ok := s.GetIssue(number)
	if !ok {
		return fmt.Errorf("closing issue: #%d not found", number)
	}
	now := s.now()
	issue.State = models.IssueClosed
	issue.ClosedAt = &now
	return s.UpdateIssue(issue)
}

// --- Settings ---

func (s *fileStateStore) Mode() models.Mode {
	return s.data.Mode
}

func (s *fileStateStore) SetMode(mode models.Mode) error {
	if !mode.IsValid() {
		return fmt.Errorf("invalid mode %q: must be local, github, or hybrid", mode)
	}
	s.data.Mode = mode
	return nil
}

func (s *fileStateStore) GitHub() models.GitHubSettings {
	return s.data.GitHub
}

func (s *fileStateStore) SetGitHub(settings models.GitHubSettings) {
	if settings.IssueCache == nil {
		settings.IssueCache = map[string]models.RemoteIssueSnapshot{}
	}
	s.data.GitHub = settings
}

func (s *fileStateStore) Auth(key string) string {
	return s.data.Auth[key]
}

func (s *fileStateStore) SetAuth(key, value string) {
	if value == "" {
		delete(s.data.Auth, key)
		return
	}
	s.data.Auth[key] = value
}
