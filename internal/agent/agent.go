// Package agent provides the core.Agent implementations selected by the
// agent.provider configuration key.
package agent

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/valter-silva-au/context-weave/internal/core"
	"github.com/valter-silva-au/context-weave/internal/integration"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

// Provider names accepted in agent.provider.
const (
	ProviderCLI       = "cli"
	ProviderEcho      = "echo"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// DefaultTimeout bounds a single agent invocation when agent.timeout is unset.
const DefaultTimeout = 30 * time.Minute

// New returns the agent for cfg.Provider. exec is only used by the cli
// provider and may be nil otherwise.
func New(cfg models.AgentConfig, exec integration.CLIExecutor, logger *zap.Logger) (core.Agent, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	switch cfg.Provider {
	case ProviderEcho:
		return NewEcho(), nil
	case ProviderCLI, "":
		if exec == nil {
			exec = integration.NewCLIExecutor()
		}
		return NewCLI(cfg, exec, logger)
	case ProviderOpenAI, ProviderAnthropic, ProviderOllama:
		return NewLLM(cfg, logger)
	default:
		return nil, &core.SetupError{
			Op:          "agent",
			Msg:         fmt.Sprintf("unknown agent provider %q", cfg.Provider),
			Remediation: "set agent.provider to one of: cli, echo, openai, anthropic, ollama",
		}
	}
}
