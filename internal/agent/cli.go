package agent

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/valter-silva-au/context-weave/internal/core"
	"github.com/valter-silva-au/context-weave/internal/integration"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

// ExitError reports a non-zero exit from the agent command.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// CLI runs an external agent command. Instructions are written to stdin
// and stdout is the step output.
type CLI struct {
	cfg    models.AgentConfig
	exec   integration.CLIExecutor
	logger *zap.Logger
}

// NewCLI creates a CLI agent.
func NewCLI(cfg models.AgentConfig, exec integration.CLIExecutor, logger *zap.Logger) (*CLI, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, &core.SetupError{
			Op:          "agent",
			Msg:         "agent.command is empty",
			Remediation: "set agent.command in .context-weave/config.yaml",
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CLI{cfg: cfg, exec: exec, logger: logger}, nil
}

func (a *CLI) Invoke(ctx context.Context, role models.Role, instructions, _ string) (string, error) {
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	agentCtx := &integration.AgentEnvContext{Role: string(role)}
	var dir string
	if info, ok := core.RunInfoFrom(ctx); ok {
		agentCtx.Issue = info.Issue
		agentCtx.Branch = info.Branch
		agentCtx.WorktreePath = info.WorktreePath
		if fi, err := os.Stat(info.WorktreePath); err == nil && fi.IsDir() {
			dir = info.WorktreePath
		}
	}

	a.logger.Debug("invoking agent command",
		zap.String("command", a.cfg.Command),
		zap.String("role", string(role)),
		zap.Int("issue", agentCtx.Issue),
		zap.String("dir", dir))

	result, err := a.exec.Exec(ctx, integration.CLIExecConfig{
		CLI:      a.cfg.Command,
		Args:     a.cfg.Args,
		Dir:      dir,
		AgentCtx: agentCtx,
		Stdin:    strings.NewReader(instructions),
	})
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", role, err)
	}
	if result.ExitCode != 0 {
		return "", &ExitError{Command: a.cfg.Command, Code: result.ExitCode, Stderr: result.Stderr}
	}
	return strings.TrimSpace(result.Stdout), nil
}
