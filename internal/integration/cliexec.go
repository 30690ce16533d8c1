package integration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// CLIAlias maps a short alias name to a full CLI command with optional default arguments.
type CLIAlias struct {
	Name        string   `yaml:"name" mapstructure:"name"`
	Command     string   `yaml:"command" mapstructure:"command"`
	DefaultArgs []string `yaml:"default_args,omitempty" mapstructure:"default_args"`
}

// CLIExecConfig holds all parameters needed to execute an external CLI tool.
type CLIExecConfig struct {
	CLI      string
	Args     []string
	Dir      string
	AgentCtx *AgentEnvContext // nil outside an agent invocation
	Aliases  []CLIAlias
	Stdin    io.Reader
	Stdout   io.Writer
	Stderr   io.Writer
}

// AgentEnvContext carries issue-specific information to inject as environment variables.
type AgentEnvContext struct {
	Issue        int
	Role         string
	Branch       string
	WorktreePath string
}

// CLIExecResult captures the outcome of an external CLI invocation.
type CLIExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// CLIExecutor defines the interface for invoking external CLI tools with
// alias resolution and agent context injection.
type CLIExecutor interface {
	// Exec invokes an external CLI, resolving aliases and injecting agent env vars.
	Exec(ctx context.Context, config CLIExecConfig) (*CLIExecResult, error)
	// ResolveAlias returns the expanded command and args for an alias, or the original if not aliased.
	ResolveAlias(name string, aliases []CLIAlias) (command string, defaultArgs []string, found bool)
	// BuildEnv constructs the subprocess environment with agent context variables injected.
	BuildEnv(base []string, agentCtx *AgentEnvContext) []string
	// LogFailure records a CLI failure in the worktree's context file if one is active.
	LogFailure(agentCtx *AgentEnvContext, cli string, args []string, result *CLIExecResult) error
}

// cliExecutor implements CLIExecutor.
type cliExecutor struct{}

// NewCLIExecutor creates a new CLIExecutor.
func NewCLIExecutor() CLIExecutor {
	return &cliExecutor{}
}

// ResolveAlias scans the aliases list for a matching name. If found, it returns
// the expanded command and default args. If not found, it returns the original
// name with nil default args.
func (e *cliExecutor) ResolveAlias(name string, aliases []CLIAlias) (string, []string, bool) {
	for _, a := range aliases {
		if a.Name == name {
			return a.Command, a.DefaultArgs, true
		}
	}
	return name, nil, false
}

// BuildEnv appends CW_* environment variables to the base environment when
// an agent context is provided. When agentCtx is nil, the base is returned unchanged.
func (e *cliExecutor) BuildEnv(base []string, agentCtx *AgentEnvContext) []string {
	if agentCtx == nil {
		return base
	}
	env := make([]string, len(base), len(base)+4)
	copy(env, base)
	env = append(env,
		"CW_ISSUE="+strconv.Itoa(agentCtx.Issue),
		"CW_ROLE="+agentCtx.Role,
		"CW_BRANCH="+agentCtx.Branch,
		"CW_WORKTREE_PATH="+agentCtx.WorktreePath,
	)
	return env
}

// containsPipe returns true if any argument is the pipe character "|".
func containsPipe(args []string) bool {
	for _, a := range args {
		if a == "|" {
			return true
		}
	}
	return false
}

// Exec resolves aliases, builds the environment, and runs the external CLI.
// If the arguments contain a pipe character, the full command is delegated to
// the system shell (sh -c on Linux/Mac, cmd /c on Windows). A non-zero exit
// is reported through ExitCode, not the error.
func (e *cliExecutor) Exec(ctx context.Context, config CLIExecConfig) (*CLIExecResult, error) {
	command, defaultArgs, _ := e.ResolveAlias(config.CLI, config.Aliases)

	fullArgs := make([]string, 0, len(defaultArgs)+len(config.Args))
	fullArgs = append(fullArgs, defaultArgs...)
	fullArgs = append(fullArgs, config.Args...)

	var cmd *exec.Cmd
	if containsPipe(fullArgs) {
		parts := append([]string{command}, fullArgs...)
		cmdLine := strings.Join(parts, " ")
		if runtime.GOOS == "windows" {
			cmd = exec.CommandContext(ctx, "cmd", "/c", cmdLine)
		} else {
			cmd = exec.CommandContext(ctx, "sh", "-c", cmdLine)
		}
	} else {
		cmd = exec.CommandContext(ctx, command, fullArgs...)
	}

	cmd.Dir = config.Dir
	cmd.Env = e.BuildEnv(os.Environ(), config.AgentCtx)

	// Always capture stdout/stderr for the result, teeing to the provided
	// writers if set.
	var stdoutBuf, stderrBuf bytes.Buffer
	if config.Stdout != nil {
		cmd.Stdout = io.MultiWriter(&stdoutBuf, config.Stdout)
	} else {
		cmd.Stdout = &stdoutBuf
	}
	if config.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderrBuf, config.Stderr)
	} else {
		cmd.Stderr = &stderrBuf
	}
	if config.Stdin != nil {
		cmd.Stdin = config.Stdin
	}

	err := cmd.Run()

	result := &CLIExecResult{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
		} else if ctx.Err() != nil {
			return result, fmt.Errorf("executing %s: %w", command, ctx.Err())
		} else {
			// Command could not be started (e.g., not found).
			return result, fmt.Errorf("executing %s: %w", command, err)
		}
	}

	if result.ExitCode != 0 && config.AgentCtx != nil {
		if logErr := e.LogFailure(config.AgentCtx, command, fullArgs, result); logErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to log CLI failure to context: %v\n", logErr)
		}
	}

	return result, nil
}

// LogFailure appends a failure entry to the worktree's .context-weave/CONTEXT.md
// so the next invocation sees what went wrong.
func (e *cliExecutor) LogFailure(agentCtx *AgentEnvContext, cli string, args []string, result *CLIExecResult) error {
	if agentCtx == nil || agentCtx.WorktreePath == "" {
		return nil
	}

	contextPath := filepath.Join(agentCtx.WorktreePath, ".context-weave", "CONTEXT.md")
	if err := os.MkdirAll(filepath.Dir(contextPath), 0o755); err != nil {
		return fmt.Errorf("creating context dir: %w", err)
	}

	entry := fmt.Sprintf("\n\n## Agent Failure (%s)\n\n- **Command:** `%s %s`\n- **Exit Code:** %d\n- **Stderr:**\n```\n%s\n```\n",
		agentCtx.Role, cli, strings.Join(args, " "), result.ExitCode, strings.TrimSpace(result.Stderr))

	f, err := os.OpenFile(contextPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening context file %s: %w", contextPath, err)
	}
	defer f.Close()

	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("writing to context file %s: %w", contextPath, err)
	}
	return nil
}
