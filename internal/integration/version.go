package integration

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// ErrVersionTooOld is returned by CheckMinimumVersion when the installed tool
// is older than required.
var ErrVersionTooOld = errors.New("version too old")

// ToolVersion is the MAJOR.MINOR.PATCH version reported by an external tool.
type ToolVersion struct {
	Major int
	Minor int
	Patch int
}

// String returns the version in semver format (e.g., "2.43.0").
func (v ToolVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1 if v < other, 0 if v == other, 1 if v > other.
func (v ToolVersion) Compare(other ToolVersion) int {
	switch {
	case v.Major != other.Major:
		return cmpInt(v.Major, other.Major)
	case v.Minor != other.Minor:
		return cmpInt(v.Minor, other.Minor)
	default:
		return cmpInt(v.Patch, other.Patch)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

var versionPattern = regexp.MustCompile(`v?(\d+)\.(\d+)(?:\.(\d+))?`)

// ParseToolVersion extracts the first version number from --version output
// such as "git version 2.39.3 (Apple Git-146)" or "2.1.50 (Claude Code)".
// A missing patch component is 0.
func ParseToolVersion(s string) (ToolVersion, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return ToolVersion{}, fmt.Errorf("no version number in %q", strings.TrimSpace(s))
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch := 0
	if m[3] != "" {
		patch, _ = strconv.Atoi(m[3])
	}
	return ToolVersion{Major: major, Minor: minor, Patch: patch}, nil
}

// VersionChecker detects and validates the versions of command-line tools
// cw shells out to.
type VersionChecker interface {
	// DetectVersion runs `<tool> --version` and parses the output.
	DetectVersion(ctx context.Context, tool string) (ToolVersion, error)
	// CheckMinimumVersion returns the detected version. The error wraps
	// ErrVersionTooOld when it is below min.
	CheckMinimumVersion(ctx context.Context, tool, min string) (string, error)
}

type versionChecker struct {
	exec CLIExecutor

	mu     sync.Mutex
	cached map[string]ToolVersion
}

// NewVersionChecker creates a VersionChecker that runs tools through exec.
// Detected versions are cached per tool.
func NewVersionChecker(exec CLIExecutor) VersionChecker {
	return &versionChecker{exec: exec, cached: make(map[string]ToolVersion)}
}

func (c *versionChecker) DetectVersion(ctx context.Context, tool string) (ToolVersion, error) {
	c.mu.Lock()
	v, ok := c.cached[tool]
	c.mu.Unlock()
	if ok {
		return v, nil
	}

	res, err := c.exec.Exec(ctx, CLIExecConfig{CLI: tool, Args: []string{"--version"}})
	if err != nil {
		return ToolVersion{}, fmt.Errorf("detecting %s version: %w", tool, err)
	}
	if res.ExitCode != 0 {
		return ToolVersion{}, fmt.Errorf("detecting %s version: exit code %d: %s", tool, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	v, err = ParseToolVersion(res.Stdout)
	if err != nil {
		return ToolVersion{}, fmt.Errorf("detecting %s version: %w", tool, err)
	}

	c.mu.Lock()
	c.cached[tool] = v
	c.mu.Unlock()
	return v, nil
}

func (c *versionChecker) CheckMinimumVersion(ctx context.Context, tool, min string) (string, error) {
	want, err := ParseToolVersion(min)
	if err != nil {
		return "", fmt.Errorf("minimum version for %s: %w", tool, err)
	}
	got, err := c.DetectVersion(ctx, tool)
	if err != nil {
		return "", err
	}
	if got.Compare(want) < 0 {
		return got.String(), fmt.Errorf("%s %s is older than %s: %w", tool, got, want, ErrVersionTooOld)
	}
	return got.String(), nil
}
