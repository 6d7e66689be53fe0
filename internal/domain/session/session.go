// Package session defines the Session and NodeRun entities for node
// execution attempts.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the live state of an execution attempt.
type Status string

const (
	StatusStarting         Status = "starting"
	StatusRunning          Status = "running"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// IsTerminal returns true if the session is in a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DeliverableState tracks one declared deliverable within a session.
type DeliverableState string

const (
	DeliverablePending  DeliverableState = "pending"
	DeliverableProduced DeliverableState = "produced"
)

// CheckState tracks one check within a session.
type CheckState string

const (
	CheckPending CheckState = "pending"
	CheckPassed  CheckState = "passed"
	CheckFailed  CheckState = "failed"
)

// Session is one execution attempt of a node. A re-run supersedes the
// session with a fresh one; sessions are never mutated back to life.
type Session struct {
	ID      string `json:"id"`
	NodeID  string `json:"node_id"`
	Backend string `json:"backend"`
	// Handle is the backend-specific identifier: a container name for the
	// docker backends, the tmux session id for remote, "local" otherwise.
	Handle string `json:"handle,omitempty"`

	Status             Status                      `json:"status"`
	DeliverablesStatus map[string]DeliverableState `json:"deliverables_status"`
	CheckResults       map[string]CheckState       `json:"check_results"`
	CheckMessages      map[string]string           `json:"check_messages,omitempty"`
	RetryAttempts      map[string]int              `json:"retry_attempts,omitempty"`

	ExitCode    int        `json:"exit_code"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New creates a starting session for the given node and backend.
func New(nodeID, backend string) *Session {
	return &Session{
		ID:                 "sess-" + uuid.NewString(),
		NodeID:             nodeID,
		Backend:            backend,
		Status:             StatusStarting,
		DeliverablesStatus: make(map[string]DeliverableState),
		CheckResults:       make(map[string]CheckState),
		CheckMessages:      make(map[string]string),
		RetryAttempts:      make(map[string]int),
		StartedAt:          time.Now().UTC(),
	}
}

// NodeRun is the immutable historical record of one execution, retained for
// audit and replay after the session's live state is gone.
type NodeRun struct {
	ID              string    `json:"id"`
	NodeID          string    `json:"node_id"`
	SessionID       string    `json:"session_id"`
	Backend         string    `json:"backend"`
	Command         []string  `json:"command,omitempty"`
	CompiledContext string    `json:"compiled_context,omitempty"`
	Prompt          string    `json:"prompt"`
	Output          string    `json:"output,omitempty"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
}

// NewRunID allocates an id for a NodeRun.
func NewRunID() string {
	return "run-" + uuid.NewString()
}
