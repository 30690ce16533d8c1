package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/valter-silva-au/context-weave/pkg/models"
	"go.uber.org/zap"
)

// ThreadsDir holds one JSON file per (issue, role) conversation.
const ThreadsDir = "threads"

// ThreadStore persists agent conversation threads under
// .context-weave/threads/thread-<issue>-<role>.json.
type ThreadStore interface {
	// Load returns the thread for issue and role. A missing or corrupt file
	// yields an empty thread.
	Load(issue int, role models.Role) *models.Thread
	// Append adds messages to the thread and writes it back.
	Append(issue int, role models.Role, messages ...models.ThreadMessage) (*models.Thread, error)
	List() ([]models.ThreadSummary, error)
	// Delete removes the thread file and reports whether one existed.
	Delete(issue int, role models.Role) (bool, error)
	Exists(issue int, role models.Role) bool
}

type fileThreadStore struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// NewThreadStore creates a ThreadStore rooted at repoRoot/.context-weave.
func NewThreadStore(repoRoot string, logger *zap.Logger) ThreadStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &fileThreadStore{
		dir:    filepath.Join(repoRoot, DirName, ThreadsDir),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ThreadID names the thread for issue and role.
func ThreadID(issue int, role models.Role) string {
	return fmt.Sprintf("thread-%d-%s", issue, role)
}

func (s *fileThreadStore) path(issue int, role models.Role) string {
	return filepath.Join(s.dir, ThreadID(issue, role)+".json")
}

func (s *fileThreadStore) Exists(issue int, role models.Role) bool {
	_, err := os.Stat(s.path(issue, role))
	return err == nil
}

func (s *fileThreadStore) Load(issue int, role models.Role) *models.Thread {
	empty := &models.Thread{
		ThreadID:  ThreadID(issue, role),
		Issue:     issue,
		Role:      role,
		CreatedAt: s.now(),
		Messages:  []models.ThreadMessage{},
	}
	data, err := os.ReadFile(s.path(issue, role))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("thread unreadable, starting fresh", zap.String("thread", empty.ThreadID), zap.Error(err))
		}
		return empty
	}
	var th models.Thread
	if err := json.Unmarshal(data, &th); err != nil {
		s.logger.Warn("thread corrupt, starting fresh", zap.String("thread", empty.ThreadID), zap.Error(err))
		return empty
	}
	if th.Messages == nil {
		th.Messages = []models.ThreadMessage{}
	}
	th.ThreadID, th.Issue, th.Role = empty.ThreadID, issue, role
	return &th
}

func (s *fileThreadStore) Append(issue int, role models.Role, messages ...models.ThreadMessage) (*models.Thread, error) {
	unlock, err := lockFile(filepath.Join(s.dir, "threads.lock"))
	if err != nil {
		return nil, fmt.Errorf("appending to thread: %w", err)
	}
	defer func() { _ = unlock() }()

	th := s.Load(issue, role)
	th.Messages = append(th.Messages, messages...)
	th.MessageCount = len(th.Messages)
	th.UpdatedAt = s.now()

	data, err := json.MarshalIndent(th, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding thread %s: %w", th.ThreadID, err)
	}
	if err := writeFileAtomic(s.path(issue, role), data, 0o644); err != nil {
		return nil, fmt.Errorf("writing thread %s: %w", th.ThreadID, err)
	}
	s.logger.Debug("thread persisted", zap.String("thread", th.ThreadID), zap.Int("messages", th.MessageCount))
	return th, nil
}

// List returns every readable thread ordered by issue, then role.
// Unparseable files are skipped.
func (s *fileThreadStore) List() ([]models.ThreadSummary, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, "thread-*.json"))
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	out := []models.ThreadSummary{}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		var th models.Thread
		if err := json.Unmarshal(data, &th); err != nil {
			s.logger.Debug("skipping corrupt thread", zap.String("path", f), zap.Error(err))
			continue
		}
		out = append(out, models.ThreadSummary{
			ThreadID:     th.ThreadID,
			Issue:        th.Issue,
			Role:         th.Role,
			MessageCount: len(th.Messages),
			UpdatedAt:    th.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Issue != out[j].Issue {
			return out[i].Issue < out[j].Issue
		}
		return out[i].Role < out[j].Role
	})
	return out, nil
}

func (s *fileThreadStore) Delete(issue int, role models.Role) (bool, error) {
	err := os.Remove(s.path(issue, role))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("deleting thread %s: %w", ThreadID(issue, role), err)
	}
	return true, nil
}
