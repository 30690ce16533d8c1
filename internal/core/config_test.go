package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/context-weave/internal/storage"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

// --- Helper ---

func writeConfig(t *testing.T, repoRoot, content string) {
	t.Helper()
	dir := filepath.Join(repoRoot, storage.DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func TestLoadConfig_Defaults_WhenNoFile(t *testing.T) {
	cm := NewConfigurationManager(t.TempDir())

	cfg, err := cm.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mode != models.ModeLocal {
		t.Errorf("Mode = %q, want local", cfg.Mode)
	}
	if cfg.WorktreeBase != filepath.Join(".context-weave", "worktrees") {
		t.Errorf("WorktreeBase = %q", cfg.WorktreeBase)
	}
	if cfg.TrunkBranch != "main" {
		t.Errorf("TrunkBranch = %q, want main", cfg.TrunkBranch)
	}
	if cfg.Memory.MaxLessons != 100 || cfg.Memory.MaxExecutions != 500 || cfg.Memory.MaxSessionsPerIssue != 10 {
		t.Errorf("Memory caps = %+v, want 100/500/10", cfg.Memory)
	}
	if cfg.Agent.Provider != "cli" || cfg.Agent.Command != "claude" {
		t.Errorf("Agent = %+v", cfg.Agent)
	}
	if cfg.Agent.Timeout != 30*time.Minute {
		t.Errorf("Agent.Timeout = %s, want 30m", cfg.Agent.Timeout)
	}
	if err := cm.ValidateConfig(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadConfig_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
mode: hybrid
trunk_branch: develop
agent:
  provider: openai
  model: gpt-4o-mini
  timeout: 2m
memory:
  max_lessons: 20
validation:
  commands:
    tests_passing: "go test ./..."
github:
  project_number: 7
skill_routing:
  payments: [pci, idempotency]
`)

	cfg, err := NewConfigurationManager(dir).Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mode != models.ModeHybrid {
		t.Errorf("Mode = %q, want hybrid", cfg.Mode)
	}
	if cfg.TrunkBranch != "develop" {
		t.Errorf("TrunkBranch = %q, want develop", cfg.TrunkBranch)
	}
	if cfg.Agent.Provider != "openai" || cfg.Agent.Model != "gpt-4o-mini" {
		t.Errorf("Agent = %+v", cfg.Agent)
	}
	if cfg.Agent.Timeout != 2*time.Minute {
		t.Errorf("Agent.Timeout = %s, want 2m", cfg.Agent.Timeout)
	}
	if cfg.Memory.MaxLessons != 20 || cfg.Memory.MaxExecutions != 500 {
		t.Errorf("Memory = %+v, want max_lessons 20 and default executions", cfg.Memory)
	}
	if cfg.Validation.Commands["tests_passing"] != "go test ./..." {
		t.Errorf("Validation.Commands = %v", cfg.Validation.Commands)
	}
	if _, ok := cfg.Validation.Commands["no_lint_errors"]; ok {
		t.Error("unset validation commands should be omitted")
	}
	if cfg.GitHub.ProjectNumber != 7 {
		t.Errorf("GitHub.ProjectNumber = %d, want 7", cfg.GitHub.ProjectNumber)
	}
	if got := cfg.SkillRouting["payments"]; len(got) != 2 || got[0] != "pci" {
		t.Errorf("SkillRouting = %v", cfg.SkillRouting)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "agent:\n  provider: cli\n")
	t.Setenv("CW_AGENT_PROVIDER", "echo")
	t.Setenv("CW_LOG_LEVEL", "debug")

	cfg, err := NewConfigurationManager(dir).Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Agent.Provider != "echo" {
		t.Errorf("Agent.Provider = %q, want echo from env", cfg.Agent.Provider)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug from env", cfg.Log.Level)
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "mode: [unterminated\n")

	if _, err := NewConfigurationManager(dir).Load(); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestValidateConfig_ReportsEveryProblem(t *testing.T) {
	cm := NewConfigurationManager(t.TempDir())
	cfg := DefaultConfig()
	cfg.Mode = "cloud"
	cfg.Agent.Provider = "gpt"
	cfg.Memory.MaxLessons = 0
	cfg.Log.Format = "xml"

	err := cm.ValidateConfig(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"mode", "agent.provider", "memory.max_lessons", "log.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
	if err := cm.ValidateConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestWriteDefault_RoundTripsThroughLoad(t *testing.T) {
	dir := t.TempDir()
	cm := NewConfigurationManager(dir)

	path, err := cm.WriteDefault("", false)
	if err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	if path != cm.Path() {
		t.Errorf("path = %q, want %q", path, cm.Path())
	}

	cfg, err := cm.Load()
	if err != nil {
		t.Fatalf("Load after WriteDefault: %v", err)
	}
	if err := cm.ValidateConfig(cfg); err != nil {
		t.Errorf("written default should validate: %v", err)
	}
	if cfg.Agent.Timeout != 30*time.Minute {
		t.Errorf("Agent.Timeout = %s after round trip", cfg.Agent.Timeout)
	}

	// An existing file is preserved without force.
	if err := os.WriteFile(path, []byte("mode: github\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := cm.WriteDefault("", false); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "mode: github\n" {
		t.Error("WriteDefault without force must not overwrite")
	}
}
