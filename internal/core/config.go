// Package core contains the coordination logic for ContextWeave: execution
// environments, role handoffs, definition-of-done gates, cross-session
// memory and the workflow orchestrator.
package core

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/valter-silva-au/context-weave/internal/storage"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

// ConfigFileName is the configuration file inside the .context-weave directory.
const ConfigFileName = "config.yaml"

// Known agent providers.
var validProviders = map[string]bool{
	"cli":       true,
	"echo":      true,
	"openai":    true,
	"anthropic": true,
	"ollama":    true,
}

// ConfigurationManager loads, validates and writes the repository
// configuration at .context-weave/config.yaml.
type ConfigurationManager interface {
	Load() (*models.Config, error)
	ValidateConfig(cfg *models.Config) error
	WriteDefault(mode models.Mode, force bool) (string, error)
	Path() string
}

// viperConfigManager implements ConfigurationManager using Viper for
// reading YAML configuration files and CW_* environment overrides.
type viperConfigManager struct {
	repoRoot string
}

// NewConfigurationManager creates a ConfigurationManager rooted at repoRoot.
func NewConfigurationManager(repoRoot string) ConfigurationManager {
	return &viperConfigManager{repoRoot: repoRoot}
}

func (cm *viperConfigManager) Path() string {
	return filepath.Join(cm.repoRoot, storage.DirName, ConfigFileName)
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *models.Config {
	return &models.Config{
		Mode:         models.ModeLocal,
		WorktreeBase: filepath.Join(storage.DirName, "worktrees"),
		TrunkBranch:  "main",
		Agent: models.AgentConfig{
			Provider: "cli",
			Command:  "claude",
			Args:     []string{"-p"},
			Timeout:  30 * time.Minute,
		},
		Memory: models.MemoryConfig{
			MaxLessons:          100,
			MaxExecutions:       500,
			MaxSessionsPerIssue: 10,
		},
		Validation: models.ValidationConfig{Commands: map[string]string{}},
		GitHub:     models.GitHubConfig{RateLimitPerSec: 5},
		Security:   DefaultSecurityConfig(),
		Log:        models.LogConfig{Level: "warn", Format: "console"},
		SkillRouting: map[string][]string{
			"api":      {"api-design", "rest-conventions"},
			"database": {"sql", "migrations"},
			"security": {"threat-modeling", "secrets-handling"},
			"frontend": {"accessibility", "component-design"},
		},
	}
}

func newViper(cfg *models.Config) *viper.Viper {
	v := viper.New()
	v.SetConfigName(strings.TrimSuffix(ConfigFileName, filepath.Ext(ConfigFileName)))
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set Viper defaults so missing keys fall back gracefully.
	v.SetDefault("mode", string(cfg.Mode))
	v.SetDefault("worktree_base", cfg.WorktreeBase)
	v.SetDefault("trunk_branch", cfg.TrunkBranch)
	v.SetDefault("agent.provider", cfg.Agent.Provider)
	v.SetDefault("agent.model", cfg.Agent.Model)
	v.SetDefault("agent.command", cfg.Agent.Command)
	v.SetDefault("agent.args", cfg.Agent.Args)
	v.SetDefault("agent.base_url", cfg.Agent.BaseURL)
	v.SetDefault("agent.timeout", cfg.Agent.Timeout)
	v.SetDefault("memory.max_lessons", cfg.Memory.MaxLessons)
	v.SetDefault("memory.max_executions", cfg.Memory.MaxExecutions)
	v.SetDefault("memory.max_sessions_per_issue", cfg.Memory.MaxSessionsPerIssue)
	v.SetDefault("validation.commands.tests_passing", "")
	v.SetDefault("validation.commands.no_lint_errors", "")
	v.SetDefault("github.project_number", cfg.GitHub.ProjectNumber)
	v.SetDefault("github.rate_limit_per_sec", cfg.GitHub.RateLimitPerSec)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	return v
}

// Load reads config.yaml. If the file does not exist, defaults (plus any
// CW_* environment overrides) are returned.
func (cm *viperConfigManager) Load() (*models.Config, error) {
	defaults := DefaultConfig()
	v := newViper(defaults)
	v.AddConfigPath(filepath.Join(cm.repoRoot, storage.DirName))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading %s: %w", cm.Path(), err)
		}
	}

	cfg := &models.Config{
		Mode:         models.Mode(v.GetString("mode")),
		WorktreeBase: v.GetString("worktree_base"),
		TrunkBranch:  v.GetString("trunk_branch"),
		Agent: models.AgentConfig{
			Provider: v.GetString("agent.provider"),
			Model:    v.GetString("agent.model"),
			Command:  v.GetString("agent.command"),
			Args:     v.GetStringSlice("agent.args"),
			BaseURL:  v.GetString("agent.base_url"),
			Timeout:  v.GetDuration("agent.timeout"),
		},
		Memory: models.MemoryConfig{
			MaxLessons:          v.GetInt("memory.max_lessons"),
			MaxExecutions:       v.GetInt("memory.max_executions"),
			MaxSessionsPerIssue: v.GetInt("memory.max_sessions_per_issue"),
		},
		Validation: models.ValidationConfig{Commands: map[string]string{}},
		GitHub: models.GitHubConfig{
			ProjectNumber:   v.GetInt("github.project_number"),
			RateLimitPerSec: v.GetFloat64("github.rate_limit_per_sec"),
		},
		Log: models.LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		SkillRouting: defaults.SkillRouting,
		Security:     defaults.Security,
	}

	for k, val := range v.GetStringMapString("validation.commands") {
		if strings.TrimSpace(val) != "" {
			cfg.Validation.Commands[k] = val
		}
	}

	if v.IsSet("security") {
		if err := v.UnmarshalKey("security", &cfg.Security); err != nil {
			return nil, fmt.Errorf("reading security: %w", err)
		}
	}

	if v.IsSet("skill_routing") {
		routing := map[string][]string{}
		if err := v.UnmarshalKey("skill_routing", &routing); err != nil {
			return nil, fmt.Errorf("reading skill_routing: %w", err)
		}
		cfg.SkillRouting = routing
	}

	return cfg, nil
}

// ValidateConfig checks the configuration for invalid values and returns a
// clear error message identifying every problem.
func (cm *viperConfigManager) ValidateConfig(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string

	if !cfg.Mode.IsValid() {
		errs = append(errs, fmt.Sprintf("mode %q is invalid, must be one of: local, github, hybrid", cfg.Mode))
	}
	if !validProviders[cfg.Agent.Provider] {
		errs = append(errs, fmt.Sprintf(
			"agent.provider %q is invalid, must be one of: cli, echo, openai, anthropic, ollama",
			cfg.Agent.Provider,
		))
	}
	if cfg.Agent.Provider == "cli" && strings.TrimSpace(cfg.Agent.Command) == "" {
		errs = append(errs, "agent.command must not be empty when agent.provider is cli")
	}
	if cfg.Agent.Timeout < 0 {
		errs = append(errs, fmt.Sprintf("agent.timeout must be non-negative, got %s", cfg.Agent.Timeout))
	}
	if cfg.Memory.MaxLessons <= 0 {
		errs = append(errs, fmt.Sprintf("memory.max_lessons must be positive, got %d", cfg.Memory.MaxLessons))
	}
	if cfg.Memory.MaxExecutions <= 0 {
		errs = append(errs, fmt.Sprintf("memory.max_executions must be positive, got %d", cfg.Memory.MaxExecutions))
	}
	if cfg.Memory.MaxSessionsPerIssue <= 0 {
		errs = append(errs, fmt.Sprintf("memory.max_sessions_per_issue must be positive, got %d", cfg.Memory.MaxSessionsPerIssue))
	}
	if strings.TrimSpace(cfg.WorktreeBase) == "" {
		errs = append(errs, "worktree_base must not be empty")
	}
	if strings.TrimSpace(cfg.TrunkBranch) == "" {
		errs = append(errs, "trunk_branch must not be empty")
	}
	if cfg.GitHub.RateLimitPerSec < 0 {
		errs = append(errs, fmt.Sprintf("github.rate_limit_per_sec must be non-negative, got %g", cfg.GitHub.RateLimitPerSec))
	}
	for _, p := range cfg.Security.BlockedPatterns {
		if _, err := regexp.Compile("(?i)" + p); err != nil {
			errs = append(errs, fmt.Sprintf("security.blocked_patterns entry %q is not a valid pattern: %v", p, err))
		}
	}
	switch cfg.Log.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is invalid, must be console or json", cfg.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// WriteDefault writes the default configuration. An existing file is kept
// unless force is set. It returns the path written or kept.
func (cm *viperConfigManager) WriteDefault(mode models.Mode, force bool) (string, error) {
	path := cm.Path()
	if _, err := os.Stat(path); err == nil && !force {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("writing config: creating directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# ContextWeave configuration. Environment variables CW_<KEY> override values,\n")
	buf.WriteString("# e.g. CW_AGENT_PROVIDER=echo or CW_LOG_LEVEL=debug.\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	cfg := DefaultConfig()
	if mode != "" {
		cfg.Mode = mode
	}
	if err := enc.Encode(cfg); err != nil {
		return "", fmt.Errorf("writing config: encoding yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("writing config: encoding yaml: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("writing config: %w", err)
	}
	return path, nil
}
