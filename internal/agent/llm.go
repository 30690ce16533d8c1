package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/valter-silva-au/context-weave/internal/core"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

var rolePreambles = map[models.Role]string{
	models.RolePM:        "You are the product manager. Write or refine the PRD: problem, users, scope and acceptance criteria.",
	models.RoleUX:        "You are the UX designer. Describe flows, states and edge cases the interface must handle.",
	models.RoleArchitect: "You are the architect. Produce the technical spec and any ADRs, naming components and interfaces.",
	models.RoleEngineer:  "You are the engineer. Describe the implementation and tests you would commit for this issue.",
	models.RoleReviewer:  "You are the reviewer. Review the work so far and list concrete findings, then give a verdict.",
}

// LLM calls a langchaingo model. It implements core.PipelineBuilder so the
// orchestrator runs each role as a named pipeline node.
type LLM struct {
	provider string
	model    llms.Model
	timeout  time.Duration
	logger   *zap.Logger
}

// NewLLM builds the langchaingo client for cfg.Provider. API keys are read
// by langchaingo from OPENAI_API_KEY and ANTHROPIC_API_KEY.
func NewLLM(cfg models.AgentConfig, logger *zap.Logger) (*LLM, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	case ProviderAnthropic:
		opts := []anthropic.Option{}
		if cfg.Model != "" {
			opts = append(opts, anthropic.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		model, err = anthropic.New(opts...)
	case ProviderOllama:
		opts := []ollama.Option{}
		if cfg.Model != "" {
			opts = append(opts, ollama.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("agent: %q is not a langchaingo provider", cfg.Provider)
	}
	if err != nil {
		return nil, &core.SetupError{
			Op:          "agent",
			Msg:         fmt.Sprintf("creating %s client", cfg.Provider),
			Remediation: "check the provider API key and agent.base_url",
			Err:         err,
		}
	}
	return NewLLMWithModel(cfg.Provider, model, logger).WithTimeout(cfg.Timeout), nil
}

// NewLLMWithModel wraps an existing model.
func NewLLMWithModel(provider string, model llms.Model, logger *zap.Logger) *LLM {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLM{provider: provider, model: model, logger: logger}
}

// WithTimeout bounds every model call by d. Zero means no limit.
func (a *LLM) WithTimeout(d time.Duration) *LLM {
	a.timeout = d
	return a
}

func (a *LLM) Invoke(ctx context.Context, role models.Role, instructions, _ string) (string, error) {
	prompt := instructions
	if preamble, ok := rolePreambles[role]; ok {
		prompt = preamble + "\n\n" + instructions
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	a.logger.Debug("calling model", zap.String("provider", a.provider), zap.String("role", string(role)), zap.Int("prompt_chars", len(prompt)))
	out, err := llms.GenerateFromSinglePrompt(ctx, a.model, prompt)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", a.provider, role, err)
	}
	return strings.TrimSpace(out), nil
}

// PipelineStep returns the node body for role.
func (a *LLM) PipelineStep(role models.Role) (core.StepFunc, error) {
	if !role.IsValid() {
		return nil, fmt.Errorf("agent: no pipeline step for role %q", role)
	}
	return func(ctx context.Context, instructions, prior string) (string, error) {
		return a.Invoke(ctx, role, instructions, prior)
	}, nil
}
