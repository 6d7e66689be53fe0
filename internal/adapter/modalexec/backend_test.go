package modalexec

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/philippe-eecs/orchestra/internal/agent"
	"github.com/philippe-eecs/orchestra/internal/domain/execution"
	"github.com/philippe-eecs/orchestra/internal/port/executor"
)

// fakeModal records the one CLI invocation and replays a canned response.
type fakeModal struct {
	args []string
	out  string
	code int
}

func (f *fakeModal) run(_ context.Context, args []string, onOutput func(string)) (string, int, error) {
	f.args = args
	if onOutput != nil {
		for _, line := range strings.Split(strings.TrimSpace(f.out), "\n") {
			onOutput(line)
		}
	}
	return f.out, f.code, nil
}

func testBackend(t *testing.T, fake *fakeModal) *Backend {
	t.Helper()
	b := New(slog.New(slog.DiscardHandler), Options{})
	b.runModal = fake.run
	b.lookPath = func(string) (string, error) { return "/usr/bin/modal", nil }
	b.snapshot = func(string, Limits) (map[string]string, error) {
		return map[string]string{"main.go": "package main\n"}, nil
	}
	return b
}

func decodePayload(t *testing.T, args []string) payload {
	t.Helper()
	for i, a := range args {
		if a == "--payload" && i+1 < len(args) {
			var p payload
			if err := json.Unmarshal([]byte(args[i+1]), &p); err != nil {
				t.Fatalf("decode payload: %v", err)
			}
			return p
		}
	}
	t.Fatalf("no --payload in args %v", args)
	return payload{}
}

func TestExecuteInvokesDefaultFunction(t *testing.T) {
	t.Parallel()

	fake := &fakeModal{out: "done\n"}
	b := testBackend(t, fake)

	res, err := b.Execute(context.Background(), &executor.Request{
		Agent:       "claude",
		Prompt:      "summarize the repo",
		ProjectPath: "/proj",
		Options:     agent.Options{Model: "claude-sonnet-4", ThinkingBudget: 2000},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != executor.StatusDone {
		t.Fatalf("status = %q: %s", res.Status, res.Message)
	}
	if res.Output != "done" {
		t.Errorf("output = %q", res.Output)
	}

	if fake.args[0] != "run" || fake.args[1] != "orchestra_runner.py::run_agent" {
		t.Errorf("args = %v", fake.args[:2])
	}
	p := decodePayload(t, fake.args)
	if p.Executor != "claude" || p.Prompt != "summarize the repo" {
		t.Errorf("payload = %+v", p)
	}
	if p.Options.Model != "claude-sonnet-4" || p.Options.ThinkingBudget != 2000 {
		t.Errorf("payload options = %+v", p.Options)
	}
	if p.Files["main.go"] != "package main\n" {
		t.Errorf("payload files = %v", p.Files)
	}
}

func TestExecuteGPUVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		gpu  string
		want string
	}{
		{"T4", "orchestra_runner.py::run_agent_gpu"},
		{"A10G", "orchestra_runner.py::run_agent_gpu_a10g"},
		{"A100", "orchestra_runner.py::run_agent_gpu_a100"},
		{"a100", "orchestra_runner.py::run_agent_gpu_a100"},
	}
	for _, tt := range tests {
		t.Run(tt.gpu, func(t *testing.T) {
			t.Parallel()

			fake := &fakeModal{}
			b := testBackend(t, fake)

			res, err := b.Execute(context.Background(), &executor.Request{
				Agent:  "codex",
				Prompt: "train the probe",
				Config: execution.Config{
					Backend: execution.BackendModal,
					Modal:   &execution.ModalConfig{GPU: tt.gpu},
				},
			})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if res.Status != executor.StatusDone {
				t.Fatalf("status = %q: %s", res.Status, res.Message)
			}
			if fake.args[1] != tt.want {
				t.Errorf("function = %q, want %q", fake.args[1], tt.want)
			}
		})
	}
}

func TestExecuteUnknownGPU(t *testing.T) {
	t.Parallel()

	b := testBackend(t, &fakeModal{})
	res, err := b.Execute(context.Background(), &executor.Request{
		Agent:  "claude",
		Prompt: "do it",
		Config: execution.Config{
			Modal: &execution.ModalConfig{GPU: "H100"},
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != executor.StatusError || !strings.Contains(res.Message, "H100") {
		t.Errorf("result = %+v, want unknown GPU error", res)
	}
}

func TestExecuteValidation(t *testing.T) {
	t.Parallel()

	b := testBackend(t, &fakeModal{})

	if _, err := b.Execute(context.Background(), &executor.Request{
		Agent: "cursor", Prompt: "x",
	}); err == nil {
		t.Error("unknown agent should fail fast")
	}
	if _, err := b.Execute(context.Background(), &executor.Request{
		Agent: "claude", Prompt: "   ",
	}); err == nil {
		t.Error("empty prompt should fail fast")
	}
}

func TestExecuteCLIMissing(t *testing.T) {
	t.Parallel()

	b := testBackend(t, &fakeModal{})
	b.lookPath = func(string) (string, error) { return "", context.Canceled }

	res, err := b.Execute(context.Background(), &executor.Request{
		Agent: "claude", Prompt: "do it",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != executor.StatusError || !strings.Contains(res.Message, "modal CLI not found") {
		t.Errorf("result = %+v", res)
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	t.Parallel()

	fake := &fakeModal{out: "Traceback: boom\n", code: 1}
	b := testBackend(t, fake)

	res, err := b.Execute(context.Background(), &executor.Request{
		Agent: "gemini", Prompt: "do it",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != executor.StatusError {
		t.Fatalf("status = %q", res.Status)
	}
	if !strings.Contains(res.Message, "code 1") {
		t.Errorf("message = %q", res.Message)
	}
	if res.Output != "Traceback: boom" {
		t.Errorf("output = %q", res.Output)
	}
}

func TestExecuteTimeout(t *testing.T) {
	t.Parallel()

	b := testBackend(t, &fakeModal{})
	b.runModal = func(ctx context.Context, _ []string, _ func(string)) (string, int, error) {
		<-ctx.Done()
		return "", -1, ctx.Err()
	}

	_, err := b.Execute(context.Background(), &executor.Request{
		Agent:  "claude",
		Prompt: "do it",
		Config: execution.Config{
			Modal: &execution.ModalConfig{Timeout: time.Millisecond},
		},
	})
	var timeoutErr *executor.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if timeoutErr.Backend != "modal" || timeoutErr.Seconds <= 0 {
		t.Errorf("timeout error = %+v", timeoutErr)
	}
}

func TestExecuteStreamsOutput(t *testing.T) {
	t.Parallel()

	fake := &fakeModal{out: "line one\nline two\n"}
	b := testBackend(t, fake)

	var streamed []string
	_, err := b.Execute(context.Background(), &executor.Request{
		Agent:    "claude",
		Prompt:   "do it",
		OnOutput: func(line string) { streamed = append(streamed, line) },
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(streamed) != 2 || streamed[0] != "line one" {
		t.Errorf("streamed = %v", streamed)
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()

	caps := testBackend(t, &fakeModal{}).Capabilities()
	if caps.Attach || caps.Output || caps.Stop || caps.Detach {
		t.Errorf("capabilities = %+v, want none", caps)
	}
}
