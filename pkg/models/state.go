package models

import "time"

// Mode selects whether the tool works purely locally or also against GitHub.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeGitHub Mode = "github"
	ModeHybrid Mode = "hybrid"
)

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool {
	return m == ModeLocal || m == ModeGitHub || m == ModeHybrid
}

// StateSchemaURL is written into every state document.
const StateSchemaURL = "https://context-weave.dev/schemas/state.schema.json"

// State is the durable record persisted to .context-weave/state.json.
type State struct {
	Schema      string            `json:"$schema"`
	Version     string            `json:"version"`
	Mode        Mode              `json:"mode"`
	Worktrees   []Worktree        `json:"worktrees"`
	LocalIssues map[string]Issue  `json:"local_issues"`
	Auth        map[string]string `json:"auth"`
	GitHub      GitHubSettings    `json:"github"`
}

// GitHubSettings holds remote-integration settings and a snapshot cache.
type GitHubSettings struct {
	Enabled       bool                           `json:"enabled"`
	Owner         *string                        `json:"owner"`
	Repo          *string                        `json:"repo"`
	ProjectNumber *int                           `json:"project_number"`
	LastSync      *time.Time                     `json:"last_sync"`
	IssueCache    map[string]RemoteIssueSnapshot `json:"issue_cache"`
}

// RemoteIssueSnapshot is a cached copy of a remote issue.
type RemoteIssueSnapshot struct {
	Number   int       `json:"number"`
	Title    string    `json:"title"`
	State    string    `json:"state"`
	Labels   []string  `json:"labels"`
	Body     string    `json:"body"`
	SyncedAt time.Time `json:"synced_at"`
}

// DefaultState returns a structurally valid empty document.
func DefaultState() *State {
	return &State{
		Schema:      StateSchemaURL,
		Version:     "1.0",
		Mode:        ModeLocal,
		Worktrees:   []Worktree{},
		LocalIssues: map[string]Issue{},
		Auth:        map[string]string{},
		GitHub: GitHubSettings{
			IssueCache: map[string]RemoteIssueSnapshot{},
		},
	}
}
