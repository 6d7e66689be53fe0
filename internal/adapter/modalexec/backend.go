// Package modalexec implements the executor.Backend interface on top of the
// Modal serverless CLI. Synchronous only: a bounded snapshot of the project
// tree plus the prompt is shipped as a JSON payload to a remote function,
// and the captured output comes back when the function returns. No attach.
package modalexec

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/philippe-eecs/orchestra/internal/agent"
	"github.com/philippe-eecs/orchestra/internal/port/executor"
)

const backendName = "modal"

const defaultFunction = "orchestra_runner.py::run_agent"

// gpuFunctions maps a GPU class to the remote function variant serving it.
var gpuFunctions = map[string]string{
	"T4":   "run_agent_gpu",
	"A10G": "run_agent_gpu_a10g",
	"A100": "run_agent_gpu_a100",
}

// RunModalFunc executes the modal CLI and returns combined output, the exit
// code, and a spawn error. Injectable for tests.
type RunModalFunc func(ctx context.Context, args []string, onOutput func(string)) (string, int, error)

// Options configures the modal backend.
type Options struct {
	// Function is "script.py::function", the default remote entry point.
	Function string
	Timeout  time.Duration
	Limits   Limits
}

// Backend runs agents on Modal serverless infrastructure.
type Backend struct {
	log  *slog.Logger
	opts Options

	runModal RunModalFunc
	lookPath func(string) (string, error)
	snapshot func(string, Limits) (map[string]string, error)
}

// payload is the JSON document handed to the remote function.
type payload struct {
	Executor string            `json:"executor"`
	Prompt   string            `json:"prompt"`
	Options  payloadOptions    `json:"options"`
	Files    map[string]string `json:"files,omitempty"`
}

// payloadOptions uses the field names the remote runner reads.
type payloadOptions struct {
	Model           string `json:"model,omitempty"`
	ReasoningEffort string `json:"reasoningEffort,omitempty"`
	ThinkingBudget  int    `json:"thinkingBudget,omitempty"`
}

// New creates a modal backend.
func New(log *slog.Logger, opts Options) *Backend {
	if opts.Function == "" {
		opts.Function = defaultFunction
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Minute
	}
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits
	}
	return &Backend{
		log:      log,
		opts:     opts,
		runModal: runModalCLI,
		lookPath: exec.LookPath,
		snapshot: Snapshot,
	}
}

// Register registers the modal backend factory.
func Register(log *slog.Logger, opts Options) {
	executor.Register(backendName, func(_ map[string]string) (executor.Backend, error) {
		return New(log, opts), nil
	})
}

// Name returns "modal".
func (b *Backend) Name() string { return backendName }

// Capabilities: synchronous only, nothing to attach to or stop.
func (b *Backend) Capabilities() executor.Capabilities {
	return executor.Capabilities{}
}

// Execute bundles the project snapshot and prompt, invokes the remote
// function through the modal CLI, and blocks until it returns.
func (b *Backend) Execute(ctx context.Context, req *executor.Request) (*executor.Result, error) {
	if !agent.Allowed(req.Agent) {
		return nil, fmt.Errorf("unknown agent type %q", req.Agent)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt must not be empty")
	}

	function, err := b.resolveFunction(req)
	if err != nil {
		return &executor.Result{Status: executor.StatusError, Message: err.Error()}, nil
	}

	if _, err := b.lookPath("modal"); err != nil {
		return &executor.Result{
			Status:  executor.StatusError,
			Message: "modal CLI not found, install with: pip install modal",
		}, nil
	}

	p := payload{
		Executor: req.Agent,
		Prompt:   req.Prompt,
		Options: payloadOptions{
			Model:           req.Options.Model,
			ReasoningEffort: req.Options.ReasoningEffort,
			ThinkingBudget:  req.Options.ThinkingBudget,
		},
	}
	if req.ProjectPath != "" {
		files, err := b.snapshot(req.ProjectPath, b.opts.Limits)
		if err != nil {
			return &executor.Result{
				Status:  executor.StatusError,
				Message: fmt.Sprintf("bundle project: %s", err),
			}, nil
		}
		p.Files = files
		b.log.Debug("bundled project snapshot",
			"files", len(files), "paths", snapshotPaths(files))
	}

	doc, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	timeout := b.opts.Timeout
	if m := req.Config.Modal; m != nil && m.Timeout > 0 {
		timeout = m.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"run", function, "--payload", string(doc)}
	b.log.Info("executing on modal", "function", function, "agent", req.Agent)

	out, exitCode, err := b.runModal(runCtx, args, req.OnOutput)
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, &executor.TimeoutError{
			Backend: backendName,
			Seconds: timeout.Seconds(),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("run modal: %w", err)
	}
	if exitCode != 0 {
		return &executor.Result{
			Status:   executor.StatusError,
			Message:  fmt.Sprintf("modal execution failed with code %d", exitCode),
			Output:   strings.TrimSpace(out),
			ExitCode: exitCode,
			Command:  append([]string{"modal"}, args...),
		}, nil
	}

	return &executor.Result{
		Status:  executor.StatusDone,
		Output:  strings.TrimSpace(out),
		Command: append([]string{"modal"}, args...),
	}, nil
}

// resolveFunction picks the remote entry point: the configured function,
// swapped for a GPU variant when a GPU class is requested.
func (b *Backend) resolveFunction(req *executor.Request) (string, error) {
	function := b.opts.Function
	if m := req.Config.Modal; m != nil && m.Function != "" {
		function = m.Function
	}

	m := req.Config.Modal
	if m == nil || m.GPU == "" {
		return function, nil
	}

	variant, ok := gpuFunctions[strings.ToUpper(m.GPU)]
	if !ok {
		return "", fmt.Errorf("unknown GPU class %q", m.GPU)
	}
	script, _, found := strings.Cut(function, "::")
	if !found {
		return "", fmt.Errorf("invalid modal function %q, want script.py::function", function)
	}
	return script + "::" + variant, nil
}
