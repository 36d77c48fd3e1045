// Package sandbox provisions and addresses the ephemeral execution environment
// a workflow run builds its agent in.
//
// A sandbox is identified by its id only. Callers never hold a live session across
// tool calls: every operation reconnects by id, and the environment keeps files and
// processes between connects.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentforge/internal/logging"
)

// Status is the lifecycle state of a sandbox.
type Status string

const (
	StatusReady      Status = "Ready"
	StatusTerminated Status = "Terminated"
)

// Handle identifies one sandbox. It is owned by exactly one workflow run.
type Handle struct {
	ID string `json:"id"`
}

// CommandResult is the captured output of one command.
type CommandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Manager creates, reconnects to and kills sandboxes.
type Manager interface {
	Create(ctx context.Context) (Handle, error)
	Connect(ctx context.Context, id string) (Session, error)
	Kill(ctx context.Context, id string) error
}

// Session is a live connection to one sandbox.
type Session interface {
	ID() string
	// RunCommand runs cmd through the shell. onStdout/onStderr receive output
	// incrementally and may be nil.
	RunCommand(ctx context.Context, cmd string, onStdout, onStderr func(string)) (CommandResult, error)
	WriteFile(ctx context.Context, path, content string) error
	ReadFile(ctx context.Context, path string) (string, error)
	GetHost(port int) string
}

// ProvisionError means the platform could not allocate a sandbox. It is fatal for the run.
type ProvisionError struct {
	Template string
	Err      error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("sandbox provision failed (template %q): %v", e.Template, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// ConnectionError means a sandbox could not be reached. Callers may retry.
type ConnectionError struct {
	ID  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("sandbox %s unreachable: %v", e.ID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CommandExitError is returned by RunCommand when the command exits non-zero.
type CommandExitError struct {
	Command string
	Result  CommandResult
}

func (e *CommandExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Result.ExitCode)
}

// ErrNotFound is returned for unknown sandbox ids.
var ErrNotFound = errors.New("sandbox not found")

// ErrTerminated is returned when connecting to a killed sandbox.
var ErrTerminated = errors.New("sandbox terminated")

// ConnectWithRetry connects to id, retrying ConnectionErrors up to attempts times
// with a linear backoff. Any other error is returned immediately.
func ConnectWithRetry(ctx context.Context, m Manager, id string, attempts int, backoff time.Duration) (Session, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		sess, err := m.Connect(ctx, id)
		if err == nil {
			return sess, nil
		}

		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			return nil, err
		}
		lastErr = err

		if i == attempts-1 {
			break
		}
		logging.SandboxWarn("connect %s attempt %d/%d failed: %v", id, i+1, attempts, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff * time.Duration(i+1)):
		}
	}
	return nil, lastErr
}

// Terminate kills the sandbox. Failures are logged and swallowed; the platform
// reclaims anything left behind on its own TTL.
func Terminate(ctx context.Context, m Manager, id string) {
	if id == "" {
		return
	}
	if err := m.Kill(ctx, id); err != nil {
		logging.SandboxWarn("terminate %s failed (ignored): %v", id, err)
		return
	}
	logging.Sandbox("terminated sandbox %s", id)
}
