// Package localexec implements the executor.Backend interface by spawning
// agent CLIs directly on the host.
package localexec

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/philippe-eecs/orchestra/internal/agent"
	"github.com/philippe-eecs/orchestra/internal/port/executor"
)

const backendName = "local"

// Backend runs agents as direct child processes.
type Backend struct {
	log     *slog.Logger
	timeout time.Duration

	// lookPath and startCommand are injectable for tests.
	lookPath     func(file string) (string, error)
	startCommand func(ctx context.Context, name string, args []string, dir string) runningProcess
}

// New creates a local backend with the given per-execution timeout.
func New(log *slog.Logger, timeout time.Duration) *Backend {
	return &Backend{
		log:          log,
		timeout:      timeout,
		lookPath:     exec.LookPath,
		startCommand: startOSProcess,
	}
}

// Register registers the local backend factory.
func Register(log *slog.Logger, timeout time.Duration) {
	executor.Register(backendName, func(_ map[string]string) (executor.Backend, error) {
		return New(log, timeout), nil
	})
}

// Name returns "local".
func (b *Backend) Name() string { return backendName }

// Capabilities returns what the local backend supports. Execution is
// synchronous, so there is no session to attach to or stop.
func (b *Backend) Capabilities() executor.Capabilities {
	return executor.Capabilities{}
}

// Execute spawns the agent CLI and blocks until it exits or times out.
// A "model unavailable" failure triggers one retry against the same-tier
// fallback model, with a warning prefixed to the output.
func (b *Backend) Execute(ctx context.Context, req *executor.Request) (*executor.Result, error) {
	res, err := b.runOnce(ctx, req, req.Options)
	if err != nil {
		return nil, err
	}
	if res.Status != executor.StatusError || !agent.IsModelUnavailable(res.Output+res.Message) {
		return res, nil
	}

	fallback, ok := agent.FallbackModel(req.Agent, req.Options.Model)
	if !ok {
		return res, nil
	}

	b.log.Warn("model unavailable, retrying with fallback",
		"agent", req.Agent, "model", req.Options.Model, "fallback", fallback)

	opts := req.Options
	opts.Model = fallback
	retry, err := b.runOnce(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	retry.Output = fmt.Sprintf("[warning: model unavailable, fell back to %s]\n%s", fallback, retry.Output)
	return retry, nil
}

func (b *Backend) runOnce(ctx context.Context, req *executor.Request, opts agent.Options) (*executor.Result, error) {
	args, err := agent.BuildArgs(req.Agent, req.Prompt, opts)
	if err != nil {
		return &executor.Result{Status: executor.StatusError, Message: err.Error()}, nil
	}

	executable, err := b.lookPath(args[0])
	if err != nil {
		return &executor.Result{
			Status:  executor.StatusError,
			Message: fmt.Sprintf("agent CLI %q not found in PATH", args[0]),
		}, nil
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if b.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := time.Now()
	proc := b.startCommand(runCtx, executable, args[1:], req.ProjectPath)

	var mu sync.Mutex
	var out strings.Builder
	capture := func(r *bufio.Scanner) error {
		for r.Scan() {
			line := r.Text() + "\n"
			mu.Lock()
			out.WriteString(line)
			mu.Unlock()
			if req.OnOutput != nil {
				req.OnOutput(line)
			}
		}
		return r.Err()
	}

	if err := proc.Start(); err != nil {
		return &executor.Result{
			Status:  executor.StatusError,
			Message: fmt.Sprintf("spawn %s: %v", args[0], err),
		}, nil
	}

	var g errgroup.Group
	g.Go(func() error { return capture(bufio.NewScanner(proc.Stdout())) })
	g.Go(func() error { return capture(bufio.NewScanner(proc.Stderr())) })
	_ = g.Wait()
	exitCode, waitErr := proc.Wait()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, &executor.TimeoutError{Backend: backendName, Seconds: time.Since(start).Seconds()}
	}

	result := &executor.Result{
		Output:   out.String(),
		ExitCode: exitCode,
		Command:  args,
	}
	if waitErr != nil && exitCode == 0 {
		result.Status = executor.StatusError
		result.Message = waitErr.Error()
		return result, nil
	}
	if exitCode != 0 {
		result.Status = executor.StatusError
		result.Message = fmt.Sprintf("%s exited with code %d", args[0], exitCode)
		return result, nil
	}
	result.Status = executor.StatusDone
	return result, nil
}
