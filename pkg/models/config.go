package models

import "time"

// AgentConfig selects and configures the agent provider.
type AgentConfig struct {
	Provider string        `yaml:"provider" mapstructure:"provider"`
	Model    string        `yaml:"model,omitempty" mapstructure:"model"`
	Command  string        `yaml:"command,omitempty" mapstructure:"command"`
	Args     []string      `yaml:"args,omitempty" mapstructure:"args"`
	BaseURL  string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout  time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout"`
}

// MemoryConfig holds the caps applied by the memory store.
type MemoryConfig struct {
	MaxLessons          int `yaml:"max_lessons" mapstructure:"max_lessons"`
	MaxExecutions       int `yaml:"max_executions" mapstructure:"max_executions"`
	MaxSessionsPerIssue int `yaml:"max_sessions_per_issue" mapstructure:"max_sessions_per_issue"`
}

// ValidationConfig holds optional shell commands backing automated DoD checks.
type ValidationConfig struct {
	Commands map[string]string `yaml:"commands,omitempty" mapstructure:"commands"`
}

// GitHubConfig holds remote-integration tuning.
type GitHubConfig struct {
	ProjectNumber   int     `yaml:"project_number,omitempty" mapstructure:"project_number"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
}

// SecurityConfig restricts the shell commands cw runs on an agent's behalf.
// An empty subcommand list allows every subcommand. Strict refuses commands
// missing from AllowedCommands.
type SecurityConfig struct {
	AllowedCommands map[string][]string `yaml:"allowed_commands,omitempty" mapstructure:"allowed_commands"`
	BlockedPatterns []string            `yaml:"blocked_patterns,omitempty" mapstructure:"blocked_patterns"`
	BlockedCommands []string            `yaml:"blocked_commands,omitempty" mapstructure:"blocked_commands"`
	Strict          bool                `yaml:"strict,omitempty" mapstructure:"strict"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Config is the repository configuration read from .context-weave/config.yaml.
type Config struct {
	Mode         Mode                `yaml:"mode" mapstructure:"mode"`
	WorktreeBase string              `yaml:"worktree_base" mapstructure:"worktree_base"`
	TrunkBranch  string              `yaml:"trunk_branch" mapstructure:"trunk_branch"`
	Agent        AgentConfig         `yaml:"agent" mapstructure:"agent"`
	Memory       MemoryConfig        `yaml:"memory" mapstructure:"memory"`
	Validation   ValidationConfig    `yaml:"validation" mapstructure:"validation"`
	GitHub       GitHubConfig        `yaml:"github" mapstructure:"github"`
	Security     SecurityConfig      `yaml:"security" mapstructure:"security"`
	Log          LogConfig           `yaml:"log" mapstructure:"log"`
	SkillRouting map[string][]string `yaml:"skill_routing,omitempty" mapstructure:"skill_routing"`
}
