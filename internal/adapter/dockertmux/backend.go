// Package dockertmux implements the executor.Backend interface for
// interactive agent sessions: a detached container runs the agent inside a
// tmux session a human can attach to, inject keystrokes into, and inspect
// after the agent finishes.
package dockertmux

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/philippe-eecs/orchestra/internal/agent"
	"github.com/philippe-eecs/orchestra/internal/port/cache"
	"github.com/philippe-eecs/orchestra/internal/port/executor"
	"github.com/philippe-eecs/orchestra/internal/shell"
)

const backendName = "docker-interactive"

// innerSession is the tmux session name inside every container.
const innerSession = "agent"

// sendKeysChunk bounds one send-keys argument to stay clear of argv
// length limits on very large prompts.
const sendKeysChunk = 2000

var credentialEnvVars = []string{
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
	"GOOGLE_API_KEY",
	"CLAUDE_CODE_OAUTH_TOKEN",
}

// DockerRunFunc executes the docker CLI and returns stdout, the exit code,
// and a spawn error. Injectable for tests.
type DockerRunFunc func(ctx context.Context, args ...string) (string, int, error)

// Options configures the interactive backend.
type Options struct {
	Image        string
	CaptureLines int
	PollInterval time.Duration
	// OutputTTL bounds how long a captured pane is served from cache.
	OutputTTL time.Duration
}

// Backend runs agents in detached containers with an inner tmux session.
type Backend struct {
	log     *slog.Logger
	opts    Options
	tracker *Tracker
	outputs cache.Cache

	runDocker DockerRunFunc
	getenv    func(string) string
}

// New creates a docker-interactive backend. The cache may be nil, in which
// case every output read hits the container.
func New(log *slog.Logger, opts Options, outputs cache.Cache) *Backend {
	if opts.CaptureLines <= 0 {
		opts.CaptureLines = 200
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.OutputTTL <= 0 {
		opts.OutputTTL = 2 * time.Second
	}
	return &Backend{
		log:       log,
		opts:      opts,
		tracker:   NewTracker(),
		outputs:   outputs,
		runDocker: runDockerCLI,
		getenv:    os.Getenv,
	}
}

// Register registers the docker-interactive backend factory.
func Register(log *slog.Logger, opts Options, outputs cache.Cache) {
	executor.Register(backendName, func(_ map[string]string) (executor.Backend, error) {
		return New(log, opts, outputs), nil
	})
}

// Name returns "docker-interactive".
func (b *Backend) Name() string { return backendName }

// Capabilities: everything the detached contract offers.
func (b *Backend) Capabilities() executor.Capabilities {
	return executor.Capabilities{Attach: true, Output: true, Stop: true, Detach: true}
}

// Tracker exposes the session tracker for the monitor.
func (b *Backend) Tracker() *Tracker { return b.tracker }

// Execute starts a detached container running the agent inside tmux and
// returns immediately with the container name as the session id.
func (b *Backend) Execute(ctx context.Context, req *executor.Request) (*executor.Result, error) {
	containerName := "orchestra-" + uuid.NewString()

	inner, err := agent.BuildTmuxCommand(containerName, req.Agent, req.Prompt, req.Options)
	if err != nil {
		return &executor.Result{Status: executor.StatusError, Message: err.Error()}, nil
	}

	// The container's main process holds it alive exactly as long as the
	// inner tmux session exists.
	containerCmd := fmt.Sprintf(
		"tmux new-session -d -s %s %s && while tmux has-session -t %s 2>/dev/null; do sleep 2; done",
		innerSession, shell.Escape(inner), innerSession,
	)

	args := []string{"run", "-d", "--name", containerName}
	if req.ProjectPath != "" {
		args = append(args, "-v", req.ProjectPath+":/workspace", "-w", "/workspace")
	}
	for _, name := range credentialEnvVars {
		if value := b.getenv(name); value != "" {
			args = append(args, "-e", name+"="+value)
		}
	}

	image := b.opts.Image
	if d := req.Config.Docker; d != nil && d.Image != "" {
		image = d.Image
	}
	args = append(args, image, "sh", "-c", containerCmd)

	out, exitCode, err := b.runDocker(ctx, args...)
	if err != nil || exitCode != 0 {
		msg := strings.TrimSpace(out)
		if err != nil {
			msg = err.Error()
		}
		return &executor.Result{
			Status:  executor.StatusError,
			Message: fmt.Sprintf("failed to start container: %s", msg),
		}, nil
	}

	b.tracker.Add(containerName, req.Agent)
	b.log.Info("interactive session started", "container", containerName, "agent", req.Agent)

	return &executor.Result{
		Status:        executor.StatusRunning,
		SessionID:     containerName,
		AttachCommand: b.AttachCommand(containerName),
	}, nil
}

// AttachCommand returns the command a human runs to join the session.
func (b *Backend) AttachCommand(sessionID string) string {
	return fmt.Sprintf("docker exec -it %s tmux attach -t %s", sessionID, innerSession)
}

// Output captures the last n pane lines from the session's tmux pane.
// Reads within OutputTTL of each other are served from cache.
func (b *Backend) Output(ctx context.Context, sessionID string, lines int) (string, error) {
	if lines <= 0 {
		lines = b.opts.CaptureLines
	}
	key := fmt.Sprintf("pane:%s:%d", sessionID, lines)
	if b.outputs != nil {
		if data, found, err := b.outputs.Get(ctx, key); err == nil && found {
			return string(data), nil
		}
	}

	out, exitCode, err := b.runDocker(ctx, "exec", sessionID,
		"tmux", "capture-pane", "-t", innerSession, "-p", "-S", fmt.Sprintf("-%d", lines))
	if err != nil {
		return "", fmt.Errorf("capture pane: %w", err)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("capture pane: %w", executor.ErrSessionGone)
	}

	if b.outputs != nil {
		_ = b.outputs.Set(ctx, key, []byte(out), b.opts.OutputTTL)
	}
	return out, nil
}

// SessionStatus reports container and inner-session liveness plus the
// agent's exit code once the sentinel file exists.
func (b *Backend) SessionStatus(ctx context.Context, sessionID string) (*executor.SessionStatus, error) {
	out, exitCode, err := b.runDocker(ctx, "inspect", "-f", "{{.State.Running}}", sessionID)
	if err != nil {
		return nil, fmt.Errorf("inspect: %w", err)
	}
	if exitCode != 0 {
		return &executor.SessionStatus{Alive: false, Detail: "container not found"}, nil
	}
	if strings.TrimSpace(out) != "true" {
		return &executor.SessionStatus{Alive: false, Detail: "container stopped"}, nil
	}

	status := &executor.SessionStatus{Alive: true}

	// A finished agent ends the inner tmux session before the container
	// necessarily stops.
	_, hasSession, err := b.runDocker(ctx, "exec", sessionID, "tmux", "has-session", "-t", innerSession)
	if err == nil && hasSession == 0 {
		status.AgentRunning = true
	}

	exitOut, exitCode2, err := b.runDocker(ctx, "exec", sessionID, "cat", agent.ExitFile(sessionID))
	if err == nil && exitCode2 == 0 {
		if code, parseErr := strconv.Atoi(strings.TrimSpace(exitOut)); parseErr == nil {
			status.ExitCode = &code
			status.AgentRunning = false
		}
	}
	return status, nil
}

// SendKeys injects literal text into the session followed by Enter,
// chunked to respect argv limits.
func (b *Backend) SendKeys(ctx context.Context, sessionID, text string) error {
	runes := []rune(text)
	for start := 0; start < len(runes); start += sendKeysChunk {
		end := min(start+sendKeysChunk, len(runes))
		chunk := string(runes[start:end])
		out, exitCode, err := b.runDocker(ctx, "exec", sessionID,
			"tmux", "send-keys", "-t", innerSession, "-l", chunk)
		if err != nil {
			return fmt.Errorf("send keys: %w", err)
		}
		if exitCode != 0 {
			return fmt.Errorf("send keys: %s", strings.TrimSpace(out))
		}
	}

	out, exitCode, err := b.runDocker(ctx, "exec", sessionID,
		"tmux", "send-keys", "-t", innerSession, "Enter")
	if err != nil {
		return fmt.Errorf("send enter: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("send enter: %s", strings.TrimSpace(out))
	}
	return nil
}

// Stop terminates the container.
func (b *Backend) Stop(ctx context.Context, sessionID string) error {
	out, exitCode, err := b.runDocker(ctx, "stop", sessionID)
	if err != nil {
		return fmt.Errorf("stop container: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("stop container: %s", strings.TrimSpace(out))
	}
	b.tracker.Remove(sessionID)
	return nil
}

// Sessions lists the containers this backend started that are still up.
func (b *Backend) Sessions(ctx context.Context) ([]string, error) {
	out, exitCode, err := b.runDocker(ctx, "ps",
		"--filter", "name=orchestra-", "--format", "{{.Names}}")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("list sessions: %s", strings.TrimSpace(out))
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// Wait polls until the agent finishes (exit sentinel written or the inner
// session gone), captures the final output, then stops the container.
func (b *Backend) Wait(ctx context.Context, sessionID string) (*executor.Result, error) {
	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		status, err := b.SessionStatus(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if !status.Alive {
			b.tracker.Remove(sessionID)
			return &executor.Result{
				Status:    executor.StatusError,
				Message:   "session terminated",
				SessionID: sessionID,
				ExitCode:  -1,
			}, nil
		}
		if status.AgentRunning {
			continue
		}

		// Agent finished; capture before tearing the container down.
		output, captureErr := b.Output(ctx, sessionID, 1000)
		if captureErr != nil {
			output = ""
		}
		_ = b.Stop(ctx, sessionID)

		exitCode := -1
		if status.ExitCode != nil {
			exitCode = *status.ExitCode
		}
		result := &executor.Result{
			Output:    strings.TrimSpace(output),
			SessionID: sessionID,
			ExitCode:  exitCode,
		}
		if exitCode == 0 {
			result.Status = executor.StatusDone
		} else {
			result.Status = executor.StatusError
			result.Message = fmt.Sprintf("agent exited with code %d", exitCode)
		}
		return result, nil
	}
}
