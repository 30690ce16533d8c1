package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/valter-silva-au/context-weave/pkg/models"
	"go.uber.org/zap"
)

// MemoryStore persists the memory document to .context-weave/memory.json.
// The ranking and decay rules live in core; this type only loads and saves.
type MemoryStore interface {
	Load()
	Save() error
	Update(fn func(m *models.Memory) error) error
	Data() *models.Memory
	Path() string
	Recovered() error
}

type fileMemoryStore struct {
	dir       string
	data      *models.Memory
	recovered error
	logger    *zap.Logger
}

// NewMemoryStore creates a MemoryStore rooted at repoRoot/.context-weave.
func NewMemoryStore(repoRoot string, logger *zap.Logger) MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &fileMemoryStore{
		dir:    filepath.Join(repoRoot, DirName),
		data:   models.NewMemory(),
		logger: logger,
	}
}

func (s *fileMemoryStore) Path() string {
	return filepath.Join(s.dir, "memory.json")
}

func (s *fileMemoryStore) lockPath() string {
	return filepath.Join(s.dir, "memory.lock")
}

func (s *fileMemoryStore) Recovered() error {
	return s.recovered
}

// Data returns the loaded document. Callers mutate it only through Update.
func (s *fileMemoryStore) Data() *models.Memory {
	return s.data
}

// Load reads memory.json, falling back to an empty document when the file is
// missing or corrupt.
func (s *fileMemoryStore) Load() {
	s.recovered = nil
	raw, err := os.ReadFile(s.Path())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.recovered = fmt.Errorf("reading memory: %w", err)
			s.logger.Warn("memory unreadable, starting fresh", zap.String("path", s.Path()), zap.Error(err))
		}
		s.data = models.NewMemory()
		return
	}

	var m models.Memory
	if err := json.Unmarshal(raw, &m); err != nil {
		s.recovered = fmt.Errorf("parsing memory: %w", err)
		s.logger.Warn("memory corrupt, starting fresh", zap.String("path", s.Path()), zap.Error(err))
		s.data = models.NewMemory()
		return
	}
	normalizeMemory(&m)
	s.data = &m
}

func normalizeMemory(m *models.Memory) {
	if m.Version == "" {
		m.Version = "1.0"
	}
	if m.Lessons == nil {
		m.Lessons = []models.Lesson{}
	}
	if m.Executions == nil {
		m.Executions = []models.ExecutionRecord{}
	}
	if m.Sessions == nil {
		m.Sessions = map[string][]models.Session{}
	}
	if m.Metrics.ByRole == nil {
		m.Metrics.ByRole = map[models.Role]models.RoleMetrics{}
	}
}

func (s *fileMemoryStore) Save() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("saving memory: marshaling JSON: %w", err)
	}
	if err := writeFileAtomic(s.Path(), append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("saving memory: %w", err)
	}
	return nil
}

// Update reloads memory under an exclusive lock, applies fn, and saves.
func (s *fileMemoryStore) Update(fn func(m *models.Memory) error) error {
	unlock, err := lockFile(s.lockPath())
	if err != nil {
		return fmt.Errorf("updating memory: %w", err)
	}
	defer func() { _ = unlock() }()

	s.Load()
	if err := fn(s.data); err != nil {
		s.Load()
		return err
	}
	return s.Save()
}
