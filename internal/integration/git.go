package integration

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// GitError reports a failed git invocation together with git's own message.
type GitError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *GitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("git %s failed: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("git %s failed: %s: %v", strings.Join(e.Args, " "), msg, e.Err)
}

func (e *GitError) Unwrap() error { return e.Err }

// GitRunner executes git subcommands in a working directory.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

type execGitRunner struct {
	logger *zap.Logger
}

// NewGitRunner creates a GitRunner that shells out to the git binary on PATH.
func NewGitRunner(logger *zap.Logger) GitRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &execGitRunner{logger: logger}
}

// Run executes git with args in dir and returns stdout with trailing
// whitespace removed. A non-zero exit is returned as *GitError.
func (r *execGitRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("git", zap.String("dir", dir), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		return "", &GitError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return strings.TrimRight(stdout.String(), " \t\r\n"), nil
}
