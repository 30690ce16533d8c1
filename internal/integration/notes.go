package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/valter-silva-au/context-weave/pkg/models"
)

// NotesRef is the git notes namespace holding per-branch handoff metadata.
const NotesRef = "context"

// anchorPrefix seeds the blob each branch's note is attached to.
const anchorPrefix = "context-weave:"

// NotesStore reads and writes the per-branch metadata blob kept in git notes.
type NotesStore interface {
	Get(ctx context.Context, branch string) (*models.HandoffNote, error)
	Put(ctx context.Context, branch string, note models.HandoffNote) error
	RefExists(ctx context.Context) bool
}

// Notes are attached to a blob derived from the branch name rather than the
// branch tip. Branches spawned from the same commit get distinct notes, and
// commits on the branch do not move the note.
type gitNotesStore struct {
	repoRoot string
	git      GitRunner

	mu      sync.Mutex
	anchors map[string]plumbing.Hash
}

// NewNotesStore creates a NotesStore for the repository at repoRoot.
func NewNotesStore(repoRoot string, git GitRunner) NotesStore {
	return &gitNotesStore{repoRoot: repoRoot, git: git, anchors: make(map[string]plumbing.Hash)}
}

// NoteAnchor returns the object id the note for branch is attached to. It is
// the id git hash-object gives the text "context-weave:<branch>".
func NoteAnchor(branch string) plumbing.Hash {
	return plumbing.ComputeHash(plumbing.BlobObject, []byte(anchorPrefix+branch))
}

// anchor writes the anchor blob for branch into the object database so git
// notes can resolve it, and returns its id.
func (s *gitNotesStore) anchor(branch string) (plumbing.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.anchors[branch]; ok {
		return h, nil
	}
	repo, err := git.PlainOpen(s.repoRoot)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("opening repository %s: %w", s.repoRoot, err)
	}
	obj := repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("writing note anchor for %s: %w", branch, err)
	}
	if _, err := w.Write([]byte(anchorPrefix + branch)); err != nil {
		_ = w.Close()
		return plumbing.ZeroHash, fmt.Errorf("writing note anchor for %s: %w", branch, err)
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("writing note anchor for %s: %w", branch, err)
	}
	h, err := repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("storing note anchor for %s: %w", branch, err)
	}
	s.anchors[branch] = h
	return h, nil
}

// Get returns the note for branch. A missing note or an unparseable blob
// yields nil without error.
func (s *gitNotesStore) Get(ctx context.Context, branch string) (*models.HandoffNote, error) {
	h, err := s.anchor(branch)
	if err != nil {
		return nil, err
	}
	out, err := s.git.Run(ctx, s.repoRoot, "notes", "--ref="+NotesRef, "show", h.String())
	if err != nil {
		return nil, nil
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}
	var note models.HandoffNote
	if err := json.Unmarshal([]byte(out), &note); err != nil {
		return nil, nil
	}
	if note.Labels == nil {
		note.Labels = []string{}
	}
	return &note, nil
}

// Put replaces the note for branch.
func (s *gitNotesStore) Put(ctx context.Context, branch string, note models.HandoffNote) error {
	if note.Labels == nil {
		note.Labels = []string{}
	}
	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("writing note for %s: marshaling JSON: %w", branch, err)
	}
	h, err := s.anchor(branch)
	if err != nil {
		return err
	}
	if _, err := s.git.Run(ctx, s.repoRoot, "notes", "--ref="+NotesRef, "add", "-f", "-m", string(data), h.String()); err != nil {
		return fmt.Errorf("writing note for %s: %w", branch, err)
	}
	return nil
}

// RefExists reports whether refs/notes/context has been created.
func (s *gitNotesStore) RefExists(ctx context.Context) bool {
	_, err := s.git.Run(ctx, s.repoRoot, "rev-parse", "--verify", "--quiet", "refs/notes/"+NotesRef)
	return err == nil
}
