package models

import "time"

// IssueType classifies the kind of work an issue describes.
type IssueType string

const (
	IssueTypeEpic    IssueType = "epic"
	IssueTypeFeature IssueType = "feature"
	IssueTypeStory   IssueType = "story"
	IssueTypeBug     IssueType = "bug"
	IssueTypeSpike   IssueType = "spike"
	IssueTypeDocs    IssueType = "docs"
)

// ValidIssueTypes lists every accepted issue type in display order.
var ValidIssueTypes = []IssueType{
	IssueTypeEpic, IssueTypeFeature, IssueTypeStory,
	IssueTypeBug, IssueTypeSpike, IssueTypeDocs,
}

// IsValid reports whether t is one of the known issue types.
func (t IssueType) IsValid() bool {
	for _, v := range ValidIssueTypes {
		if t == v {
			return true
		}
	}
	return false
}

// IssueState is the lifecycle state of an issue.
type IssueState string

const (
	IssueOpen   IssueState = "open"
	IssueClosed IssueState = "closed"
)

// Role identifies an agent specialisation.
type Role string

const (
	RolePM        Role = "pm"
	RoleArchitect Role = "architect"
	RoleEngineer  Role = "engineer"
	RoleReviewer  Role = "reviewer"
	RoleUX        Role = "ux"
)

// ValidRoles lists every role in workflow order.
var ValidRoles = []Role{RolePM, RoleUX, RoleArchitect, RoleEngineer, RoleReviewer}

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Issue is a unit of work tracked locally in state.json. Issues are never
// deleted, only closed.
type Issue struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body,omitempty"`
	Type      IssueType  `json:"type"`
	Labels    []string   `json:"labels"`
	State     IssueState `json:"state"`
	Role      Role       `json:"role,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// IssueFilter selects local issues. Zero-valued fields match everything.
type IssueFilter struct {
	State IssueState
	Type  IssueType
	Role  Role
}

// Matches reports whether the issue satisfies every set criterion.
func (f IssueFilter) Matches(issue Issue) bool {
	if f.State != "" && issue.State != f.State {
		return false
	}
	if f.Type != "" && issue.Type != f.Type {
		return false
	}
	if f.Role != "" && issue.Role != f.Role {
		return false
	}
	return true
}
