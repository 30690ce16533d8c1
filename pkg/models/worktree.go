package models

import "time"

// Worktree is the registry entry for an issue's isolated git checkout.
// state.json is the authority for whether one exists; the filesystem may
// drift and is reconciled by the doctor.
type Worktree struct {
	Issue     int       `json:"issue"`
	Branch    string    `json:"branch"`
	Path      string    `json:"path"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// NoteStatus is the audit-trail status stored in git notes.
type NoteStatus string

const (
	NoteSpawned    NoteStatus = "spawned"
	NoteInProgress NoteStatus = "in_progress"
	NoteHandoff    NoteStatus = "handoff"
	NoteCompleted  NoteStatus = "completed"
)

// HandoffNote is the per-branch metadata blob kept under refs/notes/context.
type HandoffNote struct {
	Issue        int        `json:"issue"`
	Role         Role       `json:"role"`
	Type         IssueType  `json:"type,omitempty"`
	Title        string     `json:"title,omitempty"`
	Description  string     `json:"description,omitempty"`
	Labels       []string   `json:"labels"`
	Status       NoteStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActivity time.Time  `json:"last_activity"`
	Commits      int        `json:"commits"`
	HandoffFrom  Role       `json:"handoff_from,omitempty"`
	HandoffTo    Role       `json:"handoff_to,omitempty"`
	HandoffAt    *time.Time `json:"handoff_at,omitempty"`
	Pushed       bool       `json:"pushed,omitempty"`
	PushedAt     *time.Time `json:"pushed_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// WorktreeStatus is a read-only snapshot of an environment.
type WorktreeStatus struct {
	Worktree
	Exists       bool         `json:"exists"`
	LastCommit   *time.Time   `json:"last_commit,omitempty"`
	ChangedFiles int          `json:"changed_files"`
	Note         *HandoffNote `json:"note,omitempty"`
}

// SideEffectStatus tags the outcome of a best-effort side effect.
type SideEffectStatus string

const (
	SideEffectOK      SideEffectStatus = "ok"
	SideEffectWarning SideEffectStatus = "warning"
)

// SideEffect reports a non-critical action performed alongside a primary
// state transition. Warnings never abort the transition.
type SideEffect struct {
	Name   string           `json:"name"`
	Status SideEffectStatus `json:"status"`
	Detail string           `json:"detail,omitempty"`
}

// Warnings returns only the side effects tagged as warnings.
func Warnings(effects []SideEffect) []SideEffect {
	var out []SideEffect
	for _, e := range effects {
		if e.Status == SideEffectWarning {
			out = append(out, e)
		}
	}
	return out
}
