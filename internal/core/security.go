package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/valter-silva-au/context-weave/pkg/models"
)

// DefaultSecurityConfig is the command policy used when config.yaml has no
// security section. Commands outside the allowlist run unless strict is set.
func DefaultSecurityConfig() models.SecurityConfig {
	return models.SecurityConfig{
		AllowedCommands: map[string][]string{
			"git":           {"status", "add", "commit", "push", "pull", "fetch", "branch", "checkout", "log", "diff"},
			"go":            {"build", "test", "vet", "fmt", "mod", "run", "generate"},
			"make":          {},
			"npm":           {"install", "test", "run", "build"},
			"dotnet":        {"build", "test", "run", "restore", "publish"},
			"python":        {"-m"},
			"pip":           {"install", "list"},
			"pytest":        {},
			"golangci-lint": {},
			"cw":            {},
		},
		BlockedPatterns: []string{
			`rm -rf /(\s|\*|$)`,
			`del /s /q`,
			`git reset --hard`,
			`git push (--force|-f)\b`,
			`drop (database|table)`,
			`truncate table`,
			`chmod 777`,
			`curl.*\|.*sh`,
			`wget.*\|.*(ba)?sh`,
		},
		BlockedCommands: []string{"format", "fdisk", "mkfs", "shutdown", "reboot"},
	}
}

// CommandDecision is the verdict on one command line.
type CommandDecision struct {
	Allowed bool
	Reason  string
}

// CommandPolicy decides whether a command line may run. Every segment of a
// chained command (&&, ||, ;, |) is checked on its own.
type CommandPolicy struct {
	allowed  map[string][]string
	blocked  map[string]bool
	patterns []*regexp.Regexp
	strict   bool
}

var commandSeparators = regexp.MustCompile(`&&|\|\||;|\|`)

// NewCommandPolicy compiles cfg. Patterns match case-insensitively.
func NewCommandPolicy(cfg models.SecurityConfig) (*CommandPolicy, error) {
	p := &CommandPolicy{
		allowed: map[string][]string{},
		blocked: map[string]bool{},
		strict:  cfg.Strict,
	}
	for cmd, subs := range cfg.AllowedCommands {
		p.allowed[strings.ToLower(cmd)] = subs
	}
	for _, cmd := range cfg.BlockedCommands {
		p.blocked[strings.ToLower(cmd)] = true
	}
	for _, pat := range cfg.BlockedPatterns {
		re, err := regexp.Compile("(?i)" + pat)
		if err != nil {
			return nil, fmt.Errorf("compiling blocked pattern %q: %w", pat, err)
		}
		p.patterns = append(p.patterns, re)
	}
	return p, nil
}

// Check evaluates command.
func (p *CommandPolicy) Check(command string) CommandDecision {
	command = strings.TrimSpace(command)
	if command == "" {
		return CommandDecision{Reason: "empty command"}
	}
	for _, re := range p.patterns {
		if re.MatchString(command) {
			return CommandDecision{Reason: "blocked pattern: " + strings.TrimPrefix(re.String(), "(?i)")}
		}
	}
	reason := "allowed"
	for _, segment := range commandSeparators.Split(command, -1) {
		d := p.checkSegment(strings.Fields(segment))
		if !d.Allowed {
			return d
		}
		if d.Reason != "allowed" {
			reason = d.Reason
		}
	}
	return CommandDecision{Allowed: true, Reason: reason}
}

func (p *CommandPolicy) checkSegment(fields []string) CommandDecision {
	if len(fields) == 0 {
		return CommandDecision{Allowed: true, Reason: "allowed"}
	}
	base := strings.ToLower(filepath.Base(fields[0]))
	if p.blocked[base] {
		return CommandDecision{Reason: fmt.Sprintf("command %q is blocked", base)}
	}
	subs, ok := p.allowed[base]
	switch {
	case !ok && p.strict:
		return CommandDecision{Reason: fmt.Sprintf("command %q is not in the allowlist", base)}
	case !ok:
		return CommandDecision{Allowed: true, Reason: "allowed (not in blocklist)"}
	case len(subs) == 0 || len(fields) == 1:
		return CommandDecision{Allowed: true, Reason: "allowed"}
	}
	sub := strings.ToLower(fields[1])
	for _, s := range subs {
		if s == sub {
			return CommandDecision{Allowed: true, Reason: "allowed"}
		}
	}
	return CommandDecision{Reason: fmt.Sprintf("subcommand %q is not in the allowlist for %q", sub, base)}
}

// PathGuard keeps filesystem operations inside the repository.
type PathGuard struct {
	root string
}

// NewPathGuard creates a guard rooted at repoRoot.
func NewPathGuard(repoRoot string) PathGuard {
	return PathGuard{root: resolvePath(repoRoot)}
}

// Check returns a ValidationError when path resolves outside the root.
func (g PathGuard) Check(op, path string) error {
	resolved := resolvePath(path)
	rel, err := filepath.Rel(g.root, resolved)
	if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	return &ValidationError{
		Op:          op,
		Msg:         fmt.Sprintf("path %s is outside the repository %s", path, g.root),
		Remediation: "keep worktree_base inside the repository in .context-weave/config.yaml",
	}
}

// resolvePath returns the absolute, symlink-free form of path. Components
// that do not exist yet are appended to their nearest existing parent.
func resolvePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	var missing []string
	cur := abs
	for {
		if real, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(append([]string{real}, missing...)...)
		}
		if _, err := os.Lstat(cur); err == nil {
			return abs
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return abs
		}
		missing = append([]string{filepath.Base(cur)}, missing...)
		cur = parent
	}
}

// guardedRunner checks every command against a CommandPolicy and the
// working directory against a PathGuard before delegating. Each decision
// is written to the audit logger.
type guardedRunner struct {
	next   CommandRunner
	policy *CommandPolicy
	paths  PathGuard
	audit  *zap.Logger
}

// NewGuardedRunner wraps next. audit may be nil.
func NewGuardedRunner(next CommandRunner, policy *CommandPolicy, paths PathGuard, audit *zap.Logger) CommandRunner {
	if audit == nil {
		audit = zap.NewNop()
	}
	return &guardedRunner{next: next, policy: policy, paths: paths, audit: audit}
}

func (g *guardedRunner) RunShell(ctx context.Context, dir, command string) (int, string, error) {
	decision := g.policy.Check(command)
	if decision.Allowed && dir != "" {
		if err := g.paths.Check("run command", dir); err != nil {
			decision = CommandDecision{Reason: "working directory outside the repository"}
		}
	}

	fields := []zap.Field{
		zap.String("command", command),
		zap.String("dir", dir),
		zap.Bool("allowed", decision.Allowed),
		zap.String("reason", decision.Reason),
	}
	if info, ok := RunInfoFrom(ctx); ok {
		fields = append(fields, zap.Int("issue", info.Issue))
	}
	if !decision.Allowed {
		g.audit.Warn("command blocked", fields...)
		return -1, "", &ValidationError{
			Op:          "run command",
			Msg:         fmt.Sprintf("%q refused: %s", command, decision.Reason),
			Remediation: "adjust security in .context-weave/config.yaml",
		}
	}
	g.audit.Info("command allowed", fields...)
	return g.next.RunShell(ctx, dir, command)
}
