package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/valter-silva-au/context-weave/pkg/models"
)

// Echo summarises its input instead of calling a model. Output depends only
// on the arguments.
type Echo struct{}

// NewEcho creates an Echo agent.
func NewEcho() *Echo { return &Echo{} }

func (Echo) Invoke(ctx context.Context, role models.Role, instructions, prior string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] received %d characters of instructions", role, len(instructions))
	if first := firstLine(instructions); first != "" {
		fmt.Fprintf(&b, "\nfirst line: %s", first)
	}
	if prior != "" {
		fmt.Fprintf(&b, "\nbuilding on %d characters from the previous step", len(prior))
	}
	return b.String(), nil
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
