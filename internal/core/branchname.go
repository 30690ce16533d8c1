package core

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxBranchLength caps generated branch names.
const MaxBranchLength = 80

var branchUnsafe = regexp.MustCompile(`[^a-zA-Z0-9-]`)

// BranchPrefix returns the prefix every branch for issue starts with.
func BranchPrefix(issue int) string {
	return fmt.Sprintf("issue-%d-", issue)
}

// BranchName derives the branch for issue from an optional title hint.
// Unsafe characters become dashes, the suffix is trimmed so the whole name
// fits MaxBranchLength, and an empty suffix falls back to task-<issue>.
func BranchName(issue int, title string) string {
	prefix := BranchPrefix(issue)
	maxSuffix := MaxBranchLength - len(prefix)

	suffix := sanitizeSuffix(title, maxSuffix)
	if suffix == "" {
		suffix = sanitizeSuffix(fmt.Sprintf("task-%d", issue), maxSuffix)
	}
	return prefix + suffix
}

func sanitizeSuffix(s string, max int) string {
	s = branchUnsafe.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	if max < 0 {
		max = 0
	}
	if len(s) > max {
		s = s[:max]
	}
	return strings.TrimRight(s, "-")
}
