package port

import (
	"context"
	"time"
)

// ExecResult is the captured output of one command run in a sandbox.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Container is a running ephemeral sandbox. Stop must be called on every
// exit path; callers defer it immediately after Start.
type Container interface {
	// Exec runs argv inside the container and captures its output.
	Exec(ctx context.Context, argv []string) (*ExecResult, error)

	// ExecWithTimeout runs argv with a hard wall clock. On expiry the
	// command is killed and ErrSandboxTimeout is returned.
	ExecWithTimeout(ctx context.Context, argv []string, timeout time.Duration) (*ExecResult, error)

	// WriteFile writes content to path inside the container.
	WriteFile(ctx context.Context, path, content string) error

	// ReadFile reads a file from inside the container.
	ReadFile(ctx context.Context, path string) (string, error)

	// Stop tears the container down. Safe to call more than once.
	Stop(ctx context.Context) error
}

// Sandbox creates one-shot ephemeral containers with git and the LLM agent
// CLI available, each with a per-job working copy at a stable path.
type Sandbox interface {
	Start(ctx context.Context) (Container, error)
}
