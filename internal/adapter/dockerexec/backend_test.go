package dockerexec

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/philippe-eecs/orchestra/internal/agent"
	"github.com/philippe-eecs/orchestra/internal/domain/execution"
	"github.com/philippe-eecs/orchestra/internal/port/executor"
)

func testBackend() *Backend {
	b := New(slog.New(slog.DiscardHandler), Defaults{Image: "orchestra-agent:latest"}, time.Minute)
	b.getenv = func(string) string { return "" }
	return b
}

func TestBuildRunArgsBasic(t *testing.T) {
	t.Parallel()

	b := testBackend()
	args, err := b.buildRunArgs(&executor.Request{
		Agent:       agent.TypeClaude,
		Prompt:      "fix it",
		ProjectPath: "/home/dev/proj",
	})
	if err != nil {
		t.Fatalf("buildRunArgs: %v", err)
	}

	if args[0] != "run" || args[1] != "--rm" {
		t.Errorf("prefix = %v", args[:2])
	}
	i := slices.Index(args, "-v")
	if i < 0 || args[i+1] != "/home/dev/proj:/workspace" {
		t.Errorf("workspace mount missing: %v", args)
	}
	if !slices.Contains(args, "-w") || !slices.Contains(args, "/workspace") {
		t.Errorf("workdir missing: %v", args)
	}
	// Trailing: image sh -c <cmd>
	n := len(args)
	if args[n-3] != "sh" || args[n-2] != "-c" {
		t.Errorf("shell invocation missing: %v", args[n-4:])
	}
	if !strings.Contains(args[n-1], "claude '-p' 'fix it'") {
		t.Errorf("agent command not escaped into shell arg: %s", args[n-1])
	}
	if args[n-4] != "orchestra-agent:latest" {
		t.Errorf("default image not used: %s", args[n-4])
	}
}

func TestBuildRunArgsResourceLimits(t *testing.T) {
	t.Parallel()

	b := testBackend()
	args, err := b.buildRunArgs(&executor.Request{
		Agent:  agent.TypeCodex,
		Prompt: "go",
		Config: execution.Config{Docker: &execution.DockerConfig{
			Image:   "custom:1",
			Memory:  "8g",
			CPUs:    "4",
			Network: "none",
			Mounts:  []string{"/data:/data:ro"},
		}},
	})
	if err != nil {
		t.Fatalf("buildRunArgs: %v", err)
	}

	for _, pair := range [][2]string{
		{"--memory", "8g"},
		{"--cpus", "4"},
		{"--network", "none"},
		{"-v", "/data:/data:ro"},
	} {
		i := slices.Index(args, pair[0])
		found := false
		for ; i >= 0 && i < len(args)-1; i++ {
			if args[i] == pair[0] && args[i+1] == pair[1] {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing %s %s in %v", pair[0], pair[1], args)
		}
	}
	if !slices.Contains(args, "custom:1") {
		t.Errorf("custom image not used: %v", args)
	}
}

func TestBuildRunArgsForwardsCredentials(t *testing.T) {
	t.Parallel()

	b := testBackend()
	b.getenv = func(name string) string {
		if name == "ANTHROPIC_API_KEY" {
			return "sk-test"
		}
		return ""
	}

	args, err := b.buildRunArgs(&executor.Request{Agent: agent.TypeClaude, Prompt: "x"})
	if err != nil {
		t.Fatalf("buildRunArgs: %v", err)
	}
	i := slices.Index(args, "-e")
	if i < 0 || args[i+1] != "ANTHROPIC_API_KEY=sk-test" {
		t.Errorf("credential not forwarded: %v", args)
	}
	for _, a := range args {
		if strings.HasPrefix(a, "OPENAI_API_KEY=") {
			t.Errorf("unset credential forwarded: %v", args)
		}
	}
}

func TestExecuteReportsNonzeroExit(t *testing.T) {
	t.Parallel()

	b := testBackend()
	b.runDocker = func(_ context.Context, _ []string, _ func(string)) (string, int, error) {
		return "agent blew up\n", 3, nil
	}

	res, err := b.Execute(t.Context(), &executor.Request{Agent: agent.TypeClaude, Prompt: "x"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != executor.StatusError {
		t.Errorf("status = %s, want error", res.Status)
	}
	if !strings.Contains(res.Message, "exited with code 3") {
		t.Errorf("message = %q", res.Message)
	}
	if res.Output != "agent blew up\n" {
		t.Errorf("output = %q", res.Output)
	}
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()

	b := testBackend()
	var gotArgs []string
	b.runDocker = func(_ context.Context, args []string, onOutput func(string)) (string, int, error) {
		gotArgs = args
		if onOutput != nil {
			onOutput("done\n")
		}
		return "done\n", 0, nil
	}

	var streamed strings.Builder
	res, err := b.Execute(t.Context(), &executor.Request{
		Agent:    agent.TypeGemini,
		Prompt:   "summarize",
		OnOutput: func(s string) { streamed.WriteString(s) },
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != executor.StatusDone || res.Output != "done\n" {
		t.Errorf("res = %+v", res)
	}
	if streamed.String() != "done\n" {
		t.Errorf("streamed = %q", streamed.String())
	}
	if gotArgs[0] != "run" {
		t.Errorf("args = %v", gotArgs)
	}
}

func TestExecuteInvalidAgent(t *testing.T) {
	t.Parallel()

	b := testBackend()
	res, err := b.Execute(t.Context(), &executor.Request{Agent: "sh", Prompt: "x"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != executor.StatusError {
		t.Errorf("status = %s, want error", res.Status)
	}
}
