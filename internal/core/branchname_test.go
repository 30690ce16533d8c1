package core

import (
	"regexp"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestBranchName(t *testing.T) {
	tests := []struct {
		issue int
		title string
		want  string
	}{
		{42, "Add JWT auth", "issue-42-add-jwt-auth"},
		{42, "jwt-auth", "issue-42-jwt-auth"},
		{7, "", "issue-7-task-7"},
		{7, "!!!", "issue-7-task-7"},
		{3, "Fix: crash on  save.", "issue-3-fix--crash-on--save"},
		{1, "ÜBER feature", "issue-1--ber-feature"},
	}
	for _, tc := range tests {
		t.Run(tc.title, func(t *testing.T) {
			if got := BranchName(tc.issue, tc.title); got != tc.want {
				t.Errorf("BranchName(%d, %q) = %q, want %q", tc.issue, tc.title, got, tc.want)
			}
		})
	}
}

func TestBranchName_TruncatesLongTitle(t *testing.T) {
	title := strings.Repeat("a", 50) + " " + strings.Repeat("b", 50)
	got := BranchName(42, title)
	if len(got) > MaxBranchLength {
		t.Errorf("len = %d, want <= %d", len(got), MaxBranchLength)
	}
	if !strings.HasPrefix(got, "issue-42-") {
		t.Errorf("got %q, want issue-42- prefix", got)
	}
	if strings.HasSuffix(got, "-") {
		t.Errorf("got %q, must not end with a dash", got)
	}
}

var safeBranch = regexp.MustCompile(`^[a-z0-9-]+$`)

// TestProperty_BranchNameShape checks that any title yields a name of at most
// MaxBranchLength characters that starts with issue-<N>-, contains only safe
// characters and never ends with a dash.
func TestProperty_BranchNameShape(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		issue := rapid.IntRange(1, 1_000_000).Draw(t, "issue")
		title := rapid.String().Draw(t, "title")

		got := BranchName(issue, title)
		if len(got) > MaxBranchLength {
			t.Fatalf("BranchName(%d, %q) = %q has length %d", issue, title, got, len(got))
		}
		if !strings.HasPrefix(got, BranchPrefix(issue)) {
			t.Fatalf("BranchName(%d, %q) = %q lacks prefix", issue, title, got)
		}
		if !safeBranch.MatchString(got) {
			t.Fatalf("BranchName(%d, %q) = %q has unsafe characters", issue, title, got)
		}
		if strings.HasSuffix(got, "-") {
			t.Fatalf("BranchName(%d, %q) = %q ends with a dash", issue, title, got)
		}
	})
}
