package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/philippe-eecs/orchestra/internal/domain/execution"
	"github.com/philippe-eecs/orchestra/internal/port/executor"
)

// Router dispatches execution requests to the backend named by the
// resolved execution config, and exposes capability-checked facades over
// the optional backend operations. Backend instances are created once and
// reused, so detached backends keep their session tracking across calls.
type Router struct {
	log *slog.Logger

	mu       sync.Mutex
	backends map[string]executor.Backend
}

// NewRouter creates a router over the registered backend factories.
func NewRouter(log *slog.Logger) *Router {
	return &Router{
		log:      log.With("component", "router"),
		backends: make(map[string]executor.Backend),
	}
}

// Backend returns the shared instance for the named backend.
func (r *Router) Backend(name string) (executor.Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.backends[name]; ok {
		return b, nil
	}
	b, err := executor.New(name, nil)
	if err != nil {
		return nil, err
	}
	r.backends[name] = b
	return b, nil
}

// Execute validates the request's resolved config and dispatches to the
// matching backend.
func (r *Router) Execute(ctx context.Context, req *executor.Request) (*executor.Result, error) {
	if err := req.Config.Validate(); err != nil {
		return nil, &executor.ValidationError{Reason: fmt.Sprintf("execution config: %s", err)}
	}

	name := string(req.Config.Backend)
	if name == "" {
		name = string(execution.BackendLocal)
	}
	b, err := r.Backend(name)
	if err != nil {
		return nil, err
	}

	r.log.Info("dispatching execution",
		"backend", name, "agent", req.Agent, "session_id", req.SessionID)
	return b.Execute(ctx, req)
}

// AttachCommand returns the command line that joins a detached session's
// terminal. Raises a CapabilityError for backends without attach support.
func (r *Router) AttachCommand(backend, sessionID string) (string, error) {
	b, err := r.Backend(backend)
	if err != nil {
		return "", err
	}
	att, ok := b.(executor.Attacher)
	if !ok || !b.Capabilities().Attach {
		return "", &executor.CapabilityError{Backend: backend, Operation: "attach"}
	}
	return att.AttachCommand(sessionID), nil
}

// Output captures the last lines of a detached session's output.
func (r *Router) Output(ctx context.Context, backend, sessionID string, lines int) (string, error) {
	b, err := r.Backend(backend)
	if err != nil {
		return "", err
	}
	reader, ok := b.(executor.OutputReader)
	if !ok || !b.Capabilities().Output {
		return "", &executor.CapabilityError{Backend: backend, Operation: "output"}
	}
	return reader.Output(ctx, sessionID, lines)
}

// Stop terminates a detached session.
func (r *Router) Stop(ctx context.Context, backend, sessionID string) error {
	b, err := r.Backend(backend)
	if err != nil {
		return err
	}
	stopper, ok := b.(executor.Stopper)
	if !ok || !b.Capabilities().Stop {
		return &executor.CapabilityError{Backend: backend, Operation: "stop"}
	}
	return stopper.Stop(ctx, sessionID)
}

// Wait blocks until a detached session finishes and returns its final
// result. Backends without detached sessions never need this.
func (r *Router) Wait(ctx context.Context, backend, sessionID string) (*executor.Result, error) {
	b, err := r.Backend(backend)
	if err != nil {
		return nil, err
	}
	waiter, ok := b.(executor.Waiter)
	if !ok {
		return nil, &executor.CapabilityError{Backend: backend, Operation: "wait"}
	}
	return waiter.Wait(ctx, sessionID)
}

// SendKeys injects synthetic keystrokes into a detached session.
func (r *Router) SendKeys(ctx context.Context, backend, sessionID, text string) error {
	b, err := r.Backend(backend)
	if err != nil {
		return err
	}
	sender, ok := b.(executor.KeySender)
	if !ok {
		return &executor.CapabilityError{Backend: backend, Operation: "send-keys"}
	}
	return sender.SendKeys(ctx, sessionID, text)
}
