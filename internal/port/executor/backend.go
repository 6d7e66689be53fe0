// Package executor defines the execution backend port (interface) and its
// capability surface.
package executor

import (
	"context"

	"github.com/philippe-eecs/orchestra/internal/agent"
	"github.com/philippe-eecs/orchestra/internal/domain/execution"
)

// Status is the outcome class of an execute call.
type Status string

const (
	// StatusDone means the agent ran to completion synchronously.
	StatusDone Status = "done"
	// StatusRunning means a detached session was created; the caller must
	// poll or attach to observe progress.
	StatusRunning Status = "running"
	// StatusError means the execution failed.
	StatusError Status = "error"
)

// Request describes one agent invocation handed to a backend.
type Request struct {
	// Agent is the CLI to run: claude, codex, or gemini.
	Agent string
	// Prompt is the fully compiled prompt, context already spliced in.
	Prompt string
	// Options carries model and reasoning parameters.
	Options agent.Options
	// ProjectPath is the working directory (or the sandbox worktree).
	ProjectPath string
	// Config is the resolved execution config for this node.
	Config execution.Config
	// SessionID identifies the owning session; detached backends derive
	// container and terminal names from it.
	SessionID string
	// OnOutput, when non-nil, receives streamed output chunks.
	OnOutput func(chunk string)
}

// Result is the uniform outcome of an execute call.
type Result struct {
	Status Status `json:"status"`
	// Output is the captured combined output for synchronous outcomes.
	Output string `json:"output,omitempty"`
	// Message carries the error description when Status is error.
	Message string `json:"message,omitempty"`
	// SessionID echoes the backend handle for detached outcomes.
	SessionID string `json:"session_id,omitempty"`
	// AttachCommand is a ready-to-run command line that joins a detached
	// session's terminal.
	AttachCommand string `json:"attach_command,omitempty"`
	// ExitCode is the agent process exit code, when known.
	ExitCode int `json:"exit_code,omitempty"`
	// Command is the argv that was run, recorded for the audit trail.
	Command []string `json:"command,omitempty"`
}

// Capabilities declares which optional operations a backend supports.
type Capabilities struct {
	Attach bool `json:"attach"`
	Output bool `json:"output"`
	Stop   bool `json:"stop"`
	Detach bool `json:"detach"`
}

// Backend is the port interface for one isolation substrate.
type Backend interface {
	// Name returns the unique identifier for this backend (e.g. "local", "docker").
	Name() string

	// Capabilities returns what this backend supports beyond Execute.
	Capabilities() Capabilities

	// Execute runs the agent. Synchronous backends block until the agent
	// exits; detached backends return a running result immediately.
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// SessionStatus describes a detached session's liveness.
type SessionStatus struct {
	Alive bool `json:"alive"`
	// AgentRunning is false once the inner terminal session has ended,
	// even while the container is still up.
	AgentRunning bool   `json:"agent_running"`
	ExitCode     *int   `json:"exit_code,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

// OutputReader captures recent output from a detached session.
type OutputReader interface {
	Output(ctx context.Context, sessionID string, lines int) (string, error)
}

// Attacher produces a command line a human can run to join the session.
type Attacher interface {
	AttachCommand(sessionID string) string
}

// Stopper terminates a detached session.
type Stopper interface {
	Stop(ctx context.Context, sessionID string) error
}

// Waiter blocks until a detached session finishes, returning its final
// captured output.
type Waiter interface {
	Wait(ctx context.Context, sessionID string) (*Result, error)
}

// KeySender injects synthetic keystrokes into a detached session.
type KeySender interface {
	SendKeys(ctx context.Context, sessionID, text string) error
}

// Lister enumerates the live sessions a backend knows about.
type Lister interface {
	Sessions(ctx context.Context) ([]string, error)
}

// StatusChecker reports liveness of a detached session.
type StatusChecker interface {
	SessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error)
}
