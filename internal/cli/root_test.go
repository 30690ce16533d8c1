package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/valter-silva-au/context-weave/internal/core"
)

func TestVersionCommand(t *testing.T) {
	env := &Env{Version: VersionInfo{Version: "1.2.3", Commit: "abc1234", Date: "2026-03-01"}}
	out := mustExecute(t, env, "version")
	assertContains(t, out, "cw 1.2.3", "commit: abc1234", "built:  2026-03-01")
}

func TestVersionCommand_Defaults(t *testing.T) {
	out := mustExecute(t, &Env{}, "version")
	assertContains(t, out, "cw dev", "commit: none", "built:  unknown")
}

func TestUnknownCommand(t *testing.T) {
	_, err := execute(&Env{}, "nonexistent-command")
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("err = %v, want unknown command", err)
	}
}

func TestCommandsOutsideRepositoryReportSetupError(t *testing.T) {
	setupErr := &core.SetupError{Op: "cw", Msg: "not inside a git repository", Remediation: "cd into a git repository"}
	env := &Env{SetupErr: setupErr}
	for _, args := range [][]string{
		{"init"},
		{"subagent", "list"},
		{"issue", "list"},
		{"doctor"},
	} {
		_, err := execute(env, args...)
		if !errors.Is(err, setupErr) {
			t.Errorf("cw %s: err = %v, want the setup error", strings.Join(args, " "), err)
		}
	}
}

func TestCommandsRequireInit(t *testing.T) {
	env := newBareEnv(t)
	for _, args := range [][]string{
		{"subagent", "list"},
		{"memory", "lessons"},
		{"run", "1", "--dry-run"},
		{"sync", "status"},
	} {
		_, err := execute(env, args...)
		se, ok := asSetupError(err)
		if !ok || se.Remediation != "cw init" {
			t.Errorf("cw %s: err = %v, want setup error with cw init", strings.Join(args, " "), err)
		}
	}
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, &core.SetupError{Op: "spawn", Msg: "No active SubAgent for issue #4", Remediation: "cw subagent spawn 4 --role <role>"})
	assertContains(t, buf.String(), "[FAIL]", "No active SubAgent for issue #4", "-> cw subagent spawn 4 --role <role>")

	buf.Reset()
	PrintError(&buf, nil)
	if buf.Len() != 0 {
		t.Errorf("nil error printed %q", buf.String())
	}
}

func TestExitCode(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Error("nil error should exit 0")
	}
	if ExitCode(errors.New("boom")) != 1 {
		t.Error("error should exit 1")
	}
}
