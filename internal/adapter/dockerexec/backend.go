// Package dockerexec implements the executor.Backend interface by running
// agent CLIs inside one-shot docker containers.
package dockerexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/philippe-eecs/orchestra/internal/agent"
	"github.com/philippe-eecs/orchestra/internal/domain/execution"
	"github.com/philippe-eecs/orchestra/internal/port/executor"
)

const backendName = "docker"

// credentialEnvVars are forwarded from the host process into containers.
// They are read at execute time and never persisted.
var credentialEnvVars = []string{
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
	"GOOGLE_API_KEY",
	"CLAUDE_CODE_OAUTH_TOKEN",
}

// Defaults fills in container settings a node's config leaves blank.
type Defaults struct {
	Image   string
	Memory  string
	CPUs    string
	Network string
}

// Backend runs agents synchronously via docker run --rm.
type Backend struct {
	log      *slog.Logger
	defaults Defaults
	timeout  time.Duration

	// runDocker and getenv are injectable for tests.
	runDocker RunDockerFunc
	getenv    func(string) string
}

// RunDockerFunc executes the docker CLI with the given args, streaming
// output, and returns combined output plus the exit code.
type RunDockerFunc func(ctx context.Context, args []string, onOutput func(string)) (string, int, error)

// New creates a docker backend.
func New(log *slog.Logger, defaults Defaults, timeout time.Duration) *Backend {
	return &Backend{
		log:       log,
		defaults:  defaults,
		timeout:   timeout,
		runDocker: runDockerCLI,
		getenv:    os.Getenv,
	}
}

// Register registers the docker backend factory.
func Register(log *slog.Logger, defaults Defaults, timeout time.Duration) {
	executor.Register(backendName, func(_ map[string]string) (executor.Backend, error) {
		return New(log, defaults, timeout), nil
	})
}

// Name returns "docker".
func (b *Backend) Name() string { return backendName }

// Capabilities returns what the docker backend supports. The container is
// removed on exit, so there is nothing to attach to afterwards.
func (b *Backend) Capabilities() executor.Capabilities {
	return executor.Capabilities{}
}

// Execute runs the agent inside a container and blocks until it exits.
func (b *Backend) Execute(ctx context.Context, req *executor.Request) (*executor.Result, error) {
	args, err := b.buildRunArgs(req)
	if err != nil {
		return &executor.Result{Status: executor.StatusError, Message: err.Error()}, nil
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if b.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	b.log.Info("running agent in docker", "agent", req.Agent, "image", b.image(req))

	start := time.Now()
	output, exitCode, err := b.runDocker(runCtx, args, req.OnOutput)
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, &executor.TimeoutError{Backend: backendName, Seconds: time.Since(start).Seconds()}
	}
	if err != nil {
		return &executor.Result{
			Status:  executor.StatusError,
			Message: fmt.Sprintf("docker run: %v", err),
			Output:  output,
		}, nil
	}
	if exitCode != 0 {
		return &executor.Result{
			Status:   executor.StatusError,
			Message:  fmt.Sprintf("docker process exited with code %d", exitCode),
			Output:   output,
			ExitCode: exitCode,
		}, nil
	}
	return &executor.Result{Status: executor.StatusDone, Output: output}, nil
}

func (b *Backend) image(req *executor.Request) string {
	if d := req.Config.Docker; d != nil && d.Image != "" {
		return d.Image
	}
	return b.defaults.Image
}

// buildRunArgs assembles the docker run argv. The agent invocation itself
// is a shell command with every argument escaped; it is the only string
// that crosses a shell boundary.
func (b *Backend) buildRunArgs(req *executor.Request) ([]string, error) {
	shellCmd, err := agent.BuildShellCommand(req.Agent, req.Prompt, req.Options)
	if err != nil {
		return nil, err
	}

	args := []string{"run", "--rm"}

	dockerCfg := req.Config.Docker
	if dockerCfg == nil {
		dockerCfg = &execution.DockerConfig{}
	}
	if mem := firstNonEmpty(dockerCfg.Memory, b.defaults.Memory); mem != "" {
		args = append(args, "--memory", mem)
	}
	if cpus := firstNonEmpty(dockerCfg.CPUs, b.defaults.CPUs); cpus != "" {
		args = append(args, "--cpus", cpus)
	}
	if network := firstNonEmpty(dockerCfg.Network, b.defaults.Network); network != "" {
		args = append(args, "--network", network)
	}

	if req.ProjectPath != "" {
		args = append(args, "-v", req.ProjectPath+":/workspace", "-w", "/workspace")
	}
	for _, mount := range dockerCfg.Mounts {
		args = append(args, "-v", mount)
	}

	for _, name := range credentialEnvVars {
		if value := b.getenv(name); value != "" {
			args = append(args, "-e", name+"="+value)
		}
	}

	args = append(args, b.image(req), "sh", "-c", shellCmd)
	return args, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
