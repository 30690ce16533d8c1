package core

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/valter-silva-au/context-weave/internal/storage"
	"github.com/valter-silva-au/context-weave/pkg/models"
)

// hookMarker identifies hook scripts written by cw init.
const hookMarker = "# Installed by cw init"

// InitOptions holds the parameters for initializing ContextWeave in a
// repository.
type InitOptions struct {
	Mode  models.Mode
	Force bool
	// Owner and Repo identify the GitHub repository for github and hybrid
	// modes. They are usually detected from the origin remote.
	Owner string
	Repo  string
	// Binary is the command the git hooks call back into. Defaults to "cw".
	Binary string
}

// InitResult holds a summary of what was created vs. skipped.
type InitResult struct {
	AlreadyInitialized bool
	Mode               models.Mode
	Created            []string
	Skipped            []string
	Hooks              []string
	BackedUp           []string
}

// ProjectInitializer prepares a repository for ContextWeave: the
// .context-weave directory, config.yaml, state.json and the git hooks.
type ProjectInitializer interface {
	Init(opts InitOptions) (*InitResult, error)
}

type projectInitializer struct {
	*Deps
	config ConfigurationManager
}

// NewProjectInitializer creates a new ProjectInitializer.
func NewProjectInitializer(deps Deps, config ConfigurationManager) ProjectInitializer {
	if config == nil {
		config = NewConfigurationManager(deps.RepoRoot)
	}
	return &projectInitializer{Deps: deps.withDefaults(), config: config}
}

// Init is safe to run on an initialised repository: without Force it reports
// AlreadyInitialized and changes nothing. With Force the config file and the
// hooks are rewritten; registered environments and issues in state.json are
// kept.
func (pi *projectInitializer) Init(opts InitOptions) (*InitResult, error) {
	if opts.Mode == "" {
		opts.Mode = models.ModeLocal
	}
	if !opts.Mode.IsValid() {
		return nil, &SetupError{
			Op:          "init",
			Msg:         fmt.Sprintf("invalid mode %q", opts.Mode),
			Remediation: "cw init --mode local",
		}
	}
	if opts.Mode != models.ModeLocal && (opts.Owner == "" || opts.Repo == "") {
		return nil, &SetupError{
			Op:          "init",
			Msg:         fmt.Sprintf("%s mode needs a GitHub origin remote", opts.Mode),
			Remediation: "git remote add origin git@github.com:<owner>/<repo>.git",
		}
	}
	if opts.Binary == "" {
		opts.Binary = "cw"
	}

	if pi.State.Exists() && !opts.Force {
		return &InitResult{AlreadyInitialized: true, Mode: pi.State.Mode()}, nil
	}

	result := &InitResult{Mode: opts.Mode}
	dir := filepath.Join(pi.RepoRoot, storage.DirName)
	created, err := ensureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("initializing project: creating directory %s: %w", dir, err)
	}
	result.record(dir, created)

	configExisted := pathExists(pi.config.Path())
	if _, err := pi.config.WriteDefault(opts.Mode, opts.Force); err != nil {
		return nil, fmt.Errorf("initializing project: %w", err)
	}
	result.record(pi.config.Path(), !configExisted || opts.Force)

	stateExisted := pi.State.Exists()
	err = pi.State.Update(func() error {
		if err := pi.State.SetMode(opts.Mode); err != nil {
			return err
		}
		gh := pi.State.GitHub()
		gh.Enabled = opts.Mode != models.ModeLocal
		if opts.Owner != "" {
			owner, repo := opts.Owner, opts.Repo
			gh.Owner, gh.Repo = &owner, &repo
		}
		pi.State.SetGitHub(gh)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("initializing project: writing state: %w", err)
	}
	result.record(pi.State.Path(), !stateExisted)

	if err := EnsureExcluded(pi.RepoRoot); err != nil {
		pi.Logger.Warn("could not update info/exclude", zap.Error(err))
	}

	if err := pi.installHooks(opts.Binary, result); err != nil {
		return nil, err
	}

	pi.Logger.Info("initialised", zap.String("mode", string(opts.Mode)), zap.Strings("hooks", result.Hooks))
	return result, nil
}

func (r *InitResult) record(path string, created bool) {
	if created {
		r.Created = append(r.Created, path)
	} else {
		r.Skipped = append(r.Skipped, path)
	}
}

// ensureDir creates a directory if it does not exist. Returns true if created.
func ensureDir(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return false, err
	}
	return true, nil
}

type hookData struct {
	Binary string
	Brief  string
}

var hookTemplates = map[string]string{
	"pre-commit": `#!/bin/bash
` + hookMarker + `: warn when the role brief is missing. Never blocks.
BRANCH=$(git rev-parse --abbrev-ref HEAD 2>/dev/null)
if [[ ! $BRANCH =~ ^issue-([0-9]+) ]]; then
    exit 0
fi
ISSUE_NUM="${BASH_REMATCH[1]}"
TOPLEVEL=$(git rev-parse --show-toplevel 2>/dev/null)

if [ ! -f "$TOPLEVEL/{{.Brief}}" ]; then
    echo "[WARN] Role brief not found: {{.Brief}}"
    echo "  -> {{.Binary}} subagent recover $ISSUE_NUM"
fi
exit 0
`,
	"post-commit": `#!/bin/bash
` + hookMarker + `: count commits on issue branches.
BRANCH=$(git rev-parse --abbrev-ref HEAD 2>/dev/null)
if [[ $BRANCH =~ ^issue-([0-9]+) ]]; then
    ISSUE_NUM="${BASH_REMATCH[1]}"
    if command -v {{.Binary}} >/dev/null 2>&1; then
        {{.Binary}} subagent activity "$ISSUE_NUM" >/dev/null 2>&1 || true
    fi
fi
exit 0
`,
	"prepare-commit-msg": `#!/bin/bash
` + hookMarker + `: append the issue reference from the branch name.
COMMIT_MSG_FILE=$1
COMMIT_SOURCE=$2

if [ "$COMMIT_SOURCE" = "merge" ] || [ "$COMMIT_SOURCE" = "squash" ]; then
    exit 0
fi

BRANCH=$(git rev-parse --abbrev-ref HEAD 2>/dev/null)
if [[ $BRANCH =~ ^issue-([0-9]+) ]]; then
    ISSUE_NUM="${BASH_REMATCH[1]}"
    if ! grep -q "#$ISSUE_NUM" "$COMMIT_MSG_FILE"; then
        sed -i.bak "1s/$/ (#$ISSUE_NUM)/" "$COMMIT_MSG_FILE"
        rm -f "$COMMIT_MSG_FILE.bak"
    fi
fi
exit 0
`,
	"pre-push": `#!/bin/bash
` + hookMarker + `: block pushes that fail the definition of done.
BRANCH=$(git rev-parse --abbrev-ref HEAD 2>/dev/null)
if [[ ! $BRANCH =~ ^issue-([0-9]+) ]]; then
    exit 0
fi
ISSUE_NUM="${BASH_REMATCH[1]}"

if command -v {{.Binary}} >/dev/null 2>&1; then
    if ! {{.Binary}} validate dod "$ISSUE_NUM" --quiet; then
        echo "[FAIL] Definition of Done validation failed for #$ISSUE_NUM"
        echo "  -> {{.Binary}} validate dod $ISSUE_NUM"
        echo "  To bypass: git push --no-verify"
        exit 1
    fi
fi
exit 0
`,
	"post-merge": `#!/bin/bash
` + hookMarker + `: issue a completion certificate for merged issue branches.
MERGED_BRANCH=$(git reflog -1 | sed -n 's/.*merge \([^:]*\):.*/\1/p')
if [[ $MERGED_BRANCH =~ ^issue-([0-9]+) ]]; then
    ISSUE_NUM="${BASH_REMATCH[1]}"
    if command -v {{.Binary}} >/dev/null 2>&1; then
        {{.Binary}} validate dod "$ISSUE_NUM" --certificate --quiet >/dev/null 2>&1 || true
    fi
fi
exit 0
`,
}

// HookNames lists the git hooks cw init installs, in install order.
var HookNames = []string{"pre-commit", "prepare-commit-msg", "post-commit", "pre-push", "post-merge"}

// installHooks writes the hook scripts. A foreign hook already in place is
// renamed to <name>.backup; a previously installed cw hook is overwritten.
// Linked worktrees and bare layouts have no .git directory and are skipped.
func (pi *projectInitializer) installHooks(binary string, result *InitResult) error {
	gitDir := filepath.Join(pi.RepoRoot, ".git")
	if info, err := os.Stat(gitDir); err != nil || !info.IsDir() {
		pi.Logger.Debug("no .git directory, hooks skipped", zap.String("repo", pi.RepoRoot))
		return nil
	}
	hooksDir := filepath.Join(gitDir, "hooks")
	if _, err := ensureDir(hooksDir); err != nil {
		return fmt.Errorf("initializing project: creating hooks directory: %w", err)
	}

	for _, name := range HookNames {
		content, err := renderTemplate(name, hookTemplates[name], hookData{Binary: binary, Brief: filepath.ToSlash(filepath.Join(storage.DirName, BriefFileName))})
		if err != nil {
			return fmt.Errorf("initializing project: %w", err)
		}
		path := filepath.Join(hooksDir, name)
		if existing, err := os.ReadFile(path); err == nil && !strings.Contains(string(existing), hookMarker) {
			if err := os.Rename(path, path+".backup"); err != nil {
				return fmt.Errorf("initializing project: backing up hook %s: %w", name, err)
			}
			result.BackedUp = append(result.BackedUp, name)
		}
		if err := os.WriteFile(path, content, 0o755); err != nil { //nolint:gosec // hooks must be executable
			return fmt.Errorf("initializing project: writing hook %s: %w", name, err)
		}
		result.Hooks = append(result.Hooks, name)
	}
	return nil
}

// renderTemplate renders a text/template with the given data.
func renderTemplate(name, tmplContent string, data interface{}) ([]byte, error) {
	tmpl, err := template.New(name).Parse(tmplContent)
	if err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering template %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
