package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/valter-silva-au/context-weave/internal/integration"
)

func TestAuthStatus_NoToken(t *testing.T) {
	env := newTestEnv(t)
	out := mustExecute(t, env, "auth", "status")
	assertContains(t, out, "no GitHub token found", "cw auth set-token", "Mode: local")
}

func TestAuthSetToken_FromArgument(t *testing.T) {
	env := newTestEnv(t)
	tokens := env.Tokens.(*fakeTokens)

	out := mustExecute(t, env, "auth", "set-token", "ghp_example")
	assertContains(t, out, "GitHub token stored in the OS keyring")
	if tokens.token != "ghp_example" {
		t.Errorf("stored token = %q", tokens.token)
	}
	if got := env.State.Auth(TokenSourceKey); got != integration.TokenSourceKeyring {
		t.Errorf("recorded source = %q", got)
	}

	out = mustExecute(t, env, "auth", "status", "--json")
	var status struct {
		Authenticated bool   `json:"authenticated"`
		Source        string `json:"source"`
		Mode          string `json:"mode"`
	}
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("status JSON: %v\n%s", err, out)
	}
	if !status.Authenticated || status.Source != integration.TokenSourceKeyring || status.Mode != "local" {
		t.Errorf("status = %+v", status)
	}
}

func TestAuthSetToken_FromStdin(t *testing.T) {
	env := newTestEnv(t)
	cmd := NewRootCmd(env)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader("  ghp_from_stdin  \nignored\n"))
	cmd.SetArgs([]string{"auth", "set-token"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("set-token: %v\n%s", err, out.String())
	}
	if got := env.Tokens.(*fakeTokens).token; got != "ghp_from_stdin" {
		t.Errorf("stored token = %q", got)
	}
}

func TestAuthSetToken_Empty(t *testing.T) {
	env := newTestEnv(t)
	_, err := execute(env, "auth", "set-token")
	if _, ok := asValidationError(err); !ok {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	_, err = execute(env, "auth", "set-token", "   ")
	if _, ok := asValidationError(err); !ok {
		t.Fatalf("blank token err = %v, want ValidationError", err)
	}
}

func TestAuthClear(t *testing.T) {
	env := newTestEnv(t)
	mustExecute(t, env, "auth", "set-token", "ghp_example")

	out := mustExecute(t, env, "auth", "clear")
	assertContains(t, out, "Stored GitHub token removed")
	if strings.Contains(out, "still available") {
		t.Errorf("unexpected fallback warning:\n%s", out)
	}
	if got := env.State.Auth(TokenSourceKey); got != "" {
		t.Errorf("recorded source after clear = %q", got)
	}
}
