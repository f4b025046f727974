package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/arturoeanton/go-pr-sentinel/internal/port"
	"github.com/google/uuid"
)

// DockerSandbox implements port.Sandbox using the docker CLI. Each Start
// produces a fresh container with git and the agent CLI available and a
// stable working-copy path at /repo.
type DockerSandbox struct {
	image string
}

// NewDockerSandbox creates a sandbox factory for the given image.
func NewDockerSandbox(image string) *DockerSandbox {
	return &DockerSandbox{image: image}
}

// Start launches a detached container. The caller must defer Stop.
func (s *DockerSandbox) Start(ctx context.Context) (port.Container, error) {
	name := "sentinel-job-" + uuid.NewString()[:8]

	cmd := exec.CommandContext(ctx, "docker", "run", "-d", "--rm",
		"--name", name,
		"--network", "bridge",
		s.image,
		"sleep", "infinity",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("docker run %s: %w: %s", s.image, err, stderr.String())
	}

	return &dockerContainer{name: name}, nil
}

type dockerContainer struct {
	name string
}

// Exec runs argv inside the container and captures its output.
func (c *dockerContainer) Exec(ctx context.Context, argv []string) (*port.ExecResult, error) {
	return c.run(ctx, argv)
}

// ExecWithTimeout runs argv under a hard wall clock. On expiry the process
// gets SIGTERM with a short grace window before the kill, and the caller
// sees ErrSandboxTimeout.
func (c *dockerContainer) ExecWithTimeout(ctx context.Context, argv []string, timeout time.Duration) (*port.ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := c.run(ctx, argv)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("%w: after %s", port.ErrSandboxTimeout, timeout)
	}
	return res, err
}

func (c *dockerContainer) run(ctx context.Context, argv []string) (*port.ExecResult, error) {
	args := append([]string{"exec", c.name}, argv...)
	cmd := exec.CommandContext(ctx, "docker", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// SIGTERM first so the agent CLI can flush; SIGKILL after the delay.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	result := &port.ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, fmt.Errorf("exec %v: exit %d: %s", argv, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	if err != nil {
		return result, fmt.Errorf("exec %v: %w", argv, err)
	}
	return result, nil
}

// WriteFile writes content to a path inside the container via a heredoc.
// The sentinel is randomized so prompt content can never terminate the doc
// early.
func (c *dockerContainer) WriteFile(ctx context.Context, path, content string) error {
	sentinel := "EOF_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	script := fmt.Sprintf("cat > %s << '%s'\n%s\n%s", path, sentinel, content, sentinel)

	if _, err := c.run(ctx, []string{"sh", "-c", script}); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadFile reads a file from inside the container.
func (c *dockerContainer) ReadFile(ctx context.Context, path string) (string, error) {
	res, err := c.run(ctx, []string{"cat", path})
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return res.Stdout, nil
}

// Stop force-removes the container. Safe to call after the container has
// already exited.
func (c *dockerContainer) Stop(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "docker", "rm", "-f", c.name)
	if out, err := cmd.CombinedOutput(); err != nil {
		if strings.Contains(string(out), "No such container") {
			return nil
		}
		return fmt.Errorf("docker rm %s: %w: %s", c.name, err, strings.TrimSpace(string(out)))
	}
	return nil
}
