// Package sshexec implements the executor.Backend interface against a
// remote Docker host reached over SSH. It runs the same detached
// container+tmux invocation as the docker-interactive backend, but every
// docker command is tunnelled through the SSH connection, and the attach
// command is wrapped in an outer ssh invocation.
package sshexec

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/philippe-eecs/orchestra/internal/agent"
	"github.com/philippe-eecs/orchestra/internal/domain/execution"
	"github.com/philippe-eecs/orchestra/internal/port/executor"
	"github.com/philippe-eecs/orchestra/internal/shell"
)

const backendName = "remote"

// innerSession is the tmux session name inside every remote container.
const innerSession = "agent"

const defaultScratchPath = "/tmp/orchestra-remote"

var credentialEnvVars = []string{
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
	"GOOGLE_API_KEY",
	"CLAUDE_CODE_OAUTH_TOKEN",
}

// DialFunc opens an SSH connection to the host described by cfg.
type DialFunc func(cfg *execution.RemoteConfig) (Runner, error)

// SyncFunc mirrors the local project tree to destPath on the remote host.
type SyncFunc func(ctx context.Context, cfg *execution.RemoteConfig, projectPath, destPath string) error

// Options configures the remote backend.
type Options struct {
	Image        string
	CaptureLines int
	PollInterval time.Duration
}

// remoteSession is the live state for one detached remote container.
type remoteSession struct {
	runner Runner
	cfg    *execution.RemoteConfig
}

// Backend runs agents in detached containers on a remote Docker host.
type Backend struct {
	log  *slog.Logger
	opts Options

	mu       sync.RWMutex
	sessions map[string]*remoteSession

	dial     DialFunc
	syncTree SyncFunc
	getenv   func(string) string
}

// New creates a remote backend.
func New(log *slog.Logger, opts Options) *Backend {
	if opts.CaptureLines <= 0 {
		opts.CaptureLines = 200
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	return &Backend{
		log:      log,
		opts:     opts,
		sessions: make(map[string]*remoteSession),
		dial:     Dial,
		syncTree: rsyncTree,
		getenv:   os.Getenv,
	}
}

// Register registers the remote backend factory.
func Register(log *slog.Logger, opts Options) {
	executor.Register(backendName, func(_ map[string]string) (executor.Backend, error) {
		return New(log, opts), nil
	})
}

// Name returns "remote".
func (b *Backend) Name() string { return backendName }

// Capabilities: the full detached contract, same as docker-interactive.
func (b *Backend) Capabilities() executor.Capabilities {
	return executor.Capabilities{Attach: true, Output: true, Stop: true, Detach: true}
}

// Execute connects to the remote host, optionally syncs the project tree,
// and starts a detached container running the agent inside tmux.
func (b *Backend) Execute(ctx context.Context, req *executor.Request) (*executor.Result, error) {
	cfg := req.Config.Remote
	if cfg == nil || cfg.Host == "" {
		return &executor.Result{
			Status:  executor.StatusError,
			Message: "remote backend requires a host",
		}, nil
	}

	containerName := "orchestra-" + uuid.NewString()

	inner, err := agent.BuildTmuxCommand(containerName, req.Agent, req.Prompt, req.Options)
	if err != nil {
		return &executor.Result{Status: executor.StatusError, Message: err.Error()}, nil
	}

	runner, err := b.dial(cfg)
	if err != nil {
		return &executor.Result{
			Status:  executor.StatusError,
			Message: fmt.Sprintf("connect to %s: %s", cfg.Host, err),
		}, nil
	}

	workDir := ""
	if cfg.SyncProject && req.ProjectPath != "" {
		workDir = remoteWorkDir(cfg, containerName)
		if err := b.syncTree(ctx, cfg, req.ProjectPath, workDir); err != nil {
			_ = runner.Close()
			return &executor.Result{
				Status:  executor.StatusError,
				Message: fmt.Sprintf("sync project: %s", err),
			}, nil
		}
	}

	containerCmd := fmt.Sprintf(
		"tmux new-session -d -s %s %s && while tmux has-session -t %s 2>/dev/null; do sleep 2; done",
		innerSession, shell.Escape(inner), innerSession,
	)

	args := []string{"docker", "run", "-d", "--name", containerName}
	if workDir != "" {
		args = append(args, "-v", workDir+":/workspace", "-w", "/workspace")
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

	out, exitCode, err := runner.Run(ctx, shell.Join(args))
	if err != nil || exitCode != 0 {
		_ = runner.Close()
		msg := strings.TrimSpace(out)
		if err != nil {
			msg = err.Error()
		}
		return &executor.Result{
			Status:  executor.StatusError,
			Message: fmt.Sprintf("failed to start remote container: %s", msg),
		}, nil
	}

	b.mu.Lock()
	b.sessions[containerName] = &remoteSession{runner: runner, cfg: cfg}
	b.mu.Unlock()
	b.log.Info("remote session started",
		"container", containerName, "host", cfg.Host, "agent", req.Agent)

	return &executor.Result{
		Status:        executor.StatusRunning,
		SessionID:     containerName,
		AttachCommand: attachCommand(cfg, containerName),
	}, nil
}

// AttachCommand returns the ssh-wrapped command a human runs to join the
// session, or "" for an unknown session.
func (b *Backend) AttachCommand(sessionID string) string {
	sess, ok := b.session(sessionID)
	if !ok {
		return ""
	}
	return attachCommand(sess.cfg, sessionID)
}

// Output captures the last n pane lines from the remote tmux pane.
func (b *Backend) Output(ctx context.Context, sessionID string, lines int) (string, error) {
	sess, ok := b.session(sessionID)
	if !ok {
		return "", executor.ErrSessionGone
	}
	if lines <= 0 {
		lines = b.opts.CaptureLines
	}

	cmd := shell.Join([]string{
		"docker", "exec", sessionID,
		"tmux", "capture-pane", "-t", innerSession, "-p", "-S", fmt.Sprintf("-%d", lines),
	})
	out, exitCode, err := sess.runner.Run(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("capture pane: %w", err)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("capture pane: %w", executor.ErrSessionGone)
	}
	return out, nil
}

// SessionStatus reports container and inner-session liveness plus the
// agent's exit code once the sentinel file exists, all over the tunnel.
func (b *Backend) SessionStatus(ctx context.Context, sessionID string) (*executor.SessionStatus, error) {
	sess, ok := b.session(sessionID)
	if !ok {
		return &executor.SessionStatus{Alive: false, Detail: "session not tracked"}, nil
	}

	out, exitCode, err := sess.runner.Run(ctx,
		shell.Join([]string{"docker", "inspect", "-f", "{{.State.Running}}", sessionID}))
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

	_, hasSession, err := sess.runner.Run(ctx,
		shell.Join([]string{"docker", "exec", sessionID, "tmux", "has-session", "-t", innerSession}))
	if err == nil && hasSession == 0 {
		status.AgentRunning = true
	}

	exitOut, exitCode2, err := sess.runner.Run(ctx,
		shell.Join([]string{"docker", "exec", sessionID, "cat", agent.ExitFile(sessionID)}))
	if err == nil && exitCode2 == 0 {
		if code, parseErr := strconv.Atoi(strings.TrimSpace(exitOut)); parseErr == nil {
			status.ExitCode = &code
			status.AgentRunning = false
		}
	}
	return status, nil
}

// Stop terminates the remote container and closes the SSH connection.
func (b *Backend) Stop(ctx context.Context, sessionID string) error {
	sess, ok := b.session(sessionID)
	if !ok {
		return executor.ErrSessionGone
	}

	out, exitCode, err := sess.runner.Run(ctx,
		shell.Join([]string{"docker", "stop", sessionID}))
	if err != nil {
		return fmt.Errorf("stop container: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("stop container: %s", strings.TrimSpace(out))
	}

	b.mu.Lock()
	delete(b.sessions, sessionID)
	b.mu.Unlock()
	return sess.runner.Close()
}

// Sessions lists still-running containers across all connected hosts.
func (b *Backend) Sessions(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	runners := make(map[string]Runner)
	for id, sess := range b.sessions {
		runners[id] = sess.runner
	}
	b.mu.RUnlock()

	seen := make(map[string]bool)
	var names []string
	for _, runner := range runners {
		out, exitCode, err := runner.Run(ctx,
			shell.Join([]string{"docker", "ps", "--filter", "name=orchestra-", "--format", "{{.Names}}"}))
		if err != nil || exitCode != 0 {
			continue
		}
		for _, line := range strings.Split(out, "\n") {
			if line = strings.TrimSpace(line); line != "" && !seen[line] {
				seen[line] = true
				names = append(names, line)
			}
		}
	}
	return names, nil
}

// Wait polls until the agent finishes, captures the final output, then
// stops the remote container.
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
			b.forget(sessionID)
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

func (b *Backend) session(sessionID string) (*remoteSession, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sess, ok := b.sessions[sessionID]
	return sess, ok
}

func (b *Backend) forget(sessionID string) {
	b.mu.Lock()
	sess, ok := b.sessions[sessionID]
	delete(b.sessions, sessionID)
	b.mu.Unlock()
	if ok {
		_ = sess.runner.Close()
	}
}

// remoteWorkDir is the per-session scratch directory on the remote host.
func remoteWorkDir(cfg *execution.RemoteConfig, sessionID string) string {
	scratch := cfg.ScratchPath
	if scratch == "" {
		scratch = defaultScratchPath
	}
	return path.Join(scratch, sessionID)
}

// attachCommand wraps the in-container attach in an outer ssh invocation.
func attachCommand(cfg *execution.RemoteConfig, sessionID string) string {
	var b strings.Builder
	b.WriteString("ssh -t")
	if cfg.Port != 0 && cfg.Port != 22 {
		fmt.Fprintf(&b, " -p %d", cfg.Port)
	}
	if cfg.KeyPath != "" {
		fmt.Fprintf(&b, " -i %s", cfg.KeyPath)
	}
	user := cfg.User
	if user == "" {
		user = "root"
	}
	fmt.Fprintf(&b, " %s@%s docker exec -it %s tmux attach -t %s",
		user, cfg.Host, sessionID, innerSession)
	return b.String()
}
