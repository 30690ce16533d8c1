package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "context-weave"
	keyringUser    = "github_token"
)

// Token sources reported by TokenResolver.
const (
	TokenSourceKeyring = "keyring"
	TokenSourceEnv     = "env"
	TokenSourceGHCLI   = "gh"
)

// ErrTokenNotFound is returned when no source yields a GitHub token.
var ErrTokenNotFound = errors.New("no GitHub token found")

// TokenResolver locates the GitHub token. The token itself is never
// persisted by the tool; only the name of its source is recorded.
type TokenResolver interface {
	Resolve(ctx context.Context) (token, source string, err error)
	Store(token string) error
	Clear() error
}

type tokenResolver struct {
	exec   CLIExecutor
	getenv func(string) string
}

// NewTokenResolver creates a TokenResolver that checks the OS keyring, then
// GITHUB_TOKEN, then `gh auth token`.
func NewTokenResolver(exec CLIExecutor) TokenResolver {
	return &tokenResolver{exec: exec, getenv: os.Getenv}
}

func (r *tokenResolver) Resolve(ctx context.Context) (string, string, error) {
	if tok, err := keyring.Get(keyringService, keyringUser); err == nil && tok != "" {
		return tok, TokenSourceKeyring, nil
	}
	if tok := strings.TrimSpace(r.getenv("GITHUB_TOKEN")); tok != "" {
		return tok, TokenSourceEnv, nil
	}
	if r.exec != nil {
		res, err := r.exec.Exec(ctx, CLIExecConfig{CLI: "gh", Args: []string{"auth", "token"}})
		if err == nil && res.ExitCode == 0 {
			if tok := strings.TrimSpace(res.Stdout); tok != "" {
				return tok, TokenSourceGHCLI, nil
			}
		}
	}
	return "", "", ErrTokenNotFound
}

// Store saves token in the OS keyring.
func (r *tokenResolver) Store(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("storing token: token is empty")
	}
	if err := keyring.Set(keyringService, keyringUser, token); err != nil {
		return fmt.Errorf("storing token in keyring: %w", err)
	}
	return nil
}

// Clear removes the keyring entry. A missing entry is not an error.
func (r *tokenResolver) Clear() error {
	if err := keyring.Delete(keyringService, keyringUser); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("clearing token from keyring: %w", err)
	}
	return nil
}
