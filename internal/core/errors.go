package core

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	// ErrNoEnvironment means the issue has no registered execution environment.
	ErrNoEnvironment = errors.New("no active environment")
	// ErrAlreadyExists means an execution environment is already registered.
	ErrAlreadyExists = errors.New("environment already exists")
)

// SetupError reports a precondition that a command cannot proceed without:
// no repository, no environment, missing branch, bad configuration.
type SetupError struct {
	Op          string
	Msg         string
	Remediation string
	Err         error
}

func (e *SetupError) Error() string { return formatError(e.Op, e.Msg, e.Err) }
func (e *SetupError) Unwrap() error { return e.Err }
func (e *SetupError) RemediationHint() string { return e.Remediation }

// ValidationError reports a gate that refused a transition, such as a
// failed definition-of-done check or uncommitted changes.
type ValidationError struct {
	Op          string
	Msg         string
	Remediation string
	Failed      []string
	Err         error
}

func (e *ValidationError) Error() string { return formatError(e.Op, e.Msg, e.Err) }
func (e *ValidationError) Unwrap() error { return e.Err }
func (e *ValidationError) RemediationHint() string { return e.Remediation }

// TransientError reports a retryable external failure that persisted.
type TransientError struct {
	Op          string
	Msg         string
	Remediation string
	Err         error
}

func (e *TransientError) Error() string { return formatError(e.Op, e.Msg, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }
func (e *TransientError) RemediationHint() string { return e.Remediation }

// StepFailure reports that an agent step failed inside a workflow.
type StepFailure struct {
	Op          string
	Msg         string
	Remediation string
	Err         error
}

func (e *StepFailure) Error() string { return formatError(e.Op, e.Msg, e.Err) }
func (e *StepFailure) Unwrap() error { return e.Err }
func (e *StepFailure) RemediationHint() string { return e.Remediation }

// DesyncError reports disagreement between state.json, git notes and the
// filesystem.
type DesyncError struct {
	Op          string
	Msg         string
	Remediation string
	Err         error
}

func (e *DesyncError) Error() string { return formatError(e.Op, e.Msg, e.Err) }
func (e *DesyncError) Unwrap() error { return e.Err }
func (e *DesyncError) RemediationHint() string { return e.Remediation }

// Remediable is implemented by errors that carry a one-line fix command.
type Remediable interface {
	RemediationHint() string
}

// Remediation returns the fix command attached anywhere in err's chain.
func Remediation(err error) string {
	var r Remediable
	if errors.As(err, &r) {
		return r.RemediationHint()
	}
	return ""
}

func formatError(op, msg string, err error) string {
	var b strings.Builder
	if op != "" {
		b.WriteString(op)
		b.WriteString(": ")
	}
	b.WriteString(msg)
	if err != nil && !errors.Is(err, ErrNoEnvironment) && !errors.Is(err, ErrAlreadyExists) {
		fmt.Fprintf(&b, ": %v", err)
	}
	return b.String()
}

// remoteFailure describes a failed tracker call for classifyRemoteError.
type remoteFailure struct {
	op     string
	msg    string
	retry  string
	target string
}

// classifyRemoteError maps a tracker failure to the error class the CLI
// reports. Only exhausted retries and network failures are transient.
func classifyRemoteError(f remoteFailure, err error) error {
	var temp interface{ Temporary() bool }
	var netErr net.Error
	if (errors.As(err, &temp) && temp.Temporary()) || errors.As(err, &netErr) {
		return &TransientError{Op: f.op, Msg: f.msg, Remediation: f.retry, Err: err}
	}

	var status interface{ HTTPStatus() int }
	if errors.As(err, &status) {
		switch code := status.HTTPStatus(); {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return &SetupError{
				Op:          f.op,
				Msg:         fmt.Sprintf("%s: GitHub rejected the token (HTTP %d)", f.msg, code),
				Remediation: "cw auth set-token",
				Err:         err,
			}
		case code == http.StatusNotFound:
			return &SetupError{
				Op:          f.op,
				Msg:         fmt.Sprintf("%s: %s not found", f.msg, f.target),
				Remediation: "check the repository with cw init --mode github and github.project_number in .context-weave/config.yaml",
				Err:         err,
			}
		case code == http.StatusUnprocessableEntity:
			return &ValidationError{Op: f.op, Msg: f.msg, Err: err}
		}
	}
	return fmt.Errorf("%s: %s: %w", f.op, f.msg, err)
}
