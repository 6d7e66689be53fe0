package executor

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownBackend = errors.New("executor: unknown backend")
	ErrSessionGone    = errors.New("executor: session no longer exists")
)

// ValidationError reports a request whose execution config or agent
// settings failed validation before any backend was dispatched.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("executor: invalid request: %s", e.Reason)
}

// CapabilityError reports an operation a backend does not support.
type CapabilityError struct {
	Backend   string
	Operation string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("executor: backend %q does not support %s", e.Backend, e.Operation)
}

// TimeoutError reports an execution that hit its deadline and was killed.
type TimeoutError struct {
	Backend string
	Seconds float64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("executor: %s execution timed out after %.0fs", e.Backend, e.Seconds)
}

// ProcessError reports a spawned process that exited nonzero.
type ProcessError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("executor: %s exited with code %d", e.Command, e.ExitCode)
}
