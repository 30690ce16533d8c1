package integration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
)

// ErrNoOrigin is returned when the repository has no usable GitHub origin.
var ErrNoOrigin = errors.New("no GitHub origin remote")

var (
	sshRemotePattern   = regexp.MustCompile(`git@github\.com:([^/]+)/([^/]+?)(?:\.git)?/?$`)
	httpsRemotePattern = regexp.MustCompile(`github\.com/([^/]+)/([^/]+?)(?:\.git)?/?$`)
)

// FindRepoRoot returns the top-level directory of the main working tree of
// the repository containing start, searching parent directories. From inside
// a linked worktree it returns the main checkout, where .context-weave lives.
func FindRepoRoot(start string) (string, error) {
	repo, err := git.PlainOpenWithOptions(start, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return "", fmt.Errorf("finding git repository from %s: %w", start, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("finding git repository from %s: %w", start, err)
	}
	return mainWorktreeRoot(wt.Filesystem.Root()), nil
}

// mainWorktreeRoot follows the .git file of a linked worktree back to the
// main checkout. Any other layout returns root unchanged.
func mainWorktreeRoot(root string) string {
	data, err := os.ReadFile(filepath.Join(root, ".git"))
	if err != nil {
		return root
	}
	gitDir, ok := strings.CutPrefix(strings.TrimSpace(string(data)), "gitdir:")
	if !ok {
		return root
	}
	gitDir = strings.TrimSpace(gitDir)
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(root, gitDir)
	}
	common, err := os.ReadFile(filepath.Join(gitDir, "commondir"))
	if err != nil {
		return root
	}
	commonDir := strings.TrimSpace(string(common))
	if !filepath.IsAbs(commonDir) {
		commonDir = filepath.Join(gitDir, commonDir)
	}
	commonDir = filepath.Clean(commonDir)
	if filepath.Base(commonDir) != ".git" {
		return root
	}
	return filepath.Dir(commonDir)
}

// OriginRepo returns the GitHub owner and repository name of the origin
// remote of the repository at repoRoot.
func OriginRepo(repoRoot string) (owner, name string, err error) {
	repo, err := git.PlainOpen(repoRoot)
	if err != nil {
		return "", "", fmt.Errorf("opening repository %s: %w", repoRoot, err)
	}
	remote, err := repo.Remote("origin")
	if err != nil {
		return "", "", ErrNoOrigin
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", "", ErrNoOrigin
	}
	owner, name = parseGitHubRemote(urls[0])
	if owner == "" || name == "" {
		return "", "", fmt.Errorf("%w: %s", ErrNoOrigin, urls[0])
	}
	return owner, name, nil
}

// parseGitHubRemote extracts owner and repository from a GitHub URL.
// Supports: git@github.com:owner/repo.git, https://github.com/owner/repo.git
func parseGitHubRemote(url string) (string, string) {
	url = strings.TrimSpace(url)
	if m := sshRemotePattern.FindStringSubmatch(url); len(m) == 3 {
		return m[1], m[2]
	}
	if m := httpsRemotePattern.FindStringSubmatch(url); len(m) == 3 {
		return m[1], m[2]
	}
	return "", ""
}
