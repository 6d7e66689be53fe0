package dockertmux

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/philippe-eecs/orchestra/internal/agent"
	"github.com/philippe-eecs/orchestra/internal/port/executor"
)

type call struct {
	args []string
}

// scriptedDocker replays canned responses keyed by the docker subcommand
// (exec calls additionally by container name) and records every invocation.
type scriptedDocker struct {
	calls     []call
	responses map[string]struct {
		out  string
		code int
	}
}

func (s *scriptedDocker) run(_ context.Context, args ...string) (string, int, error) {
	s.calls = append(s.calls, call{args: args})
	key := args[0]
	if key == "exec" && len(args) > 1 {
		key = "exec " + args[1]
	}
	if r, ok := s.responses[key]; ok {
		return r.out, r.code, nil
	}
	return "", 0, nil
}

func newTestBackend(script *scriptedDocker) *Backend {
	b := New(slog.New(slog.DiscardHandler), Options{Image: "orchestra-agent:latest"}, nil)
	b.runDocker = script.run
	b.getenv = func(string) string { return "" }
	return b
}

func TestExecuteStartsDetachedContainer(t *testing.T) {
	t.Parallel()

	script := &scriptedDocker{}
	b := newTestBackend(script)

	res, err := b.Execute(t.Context(), &executor.Request{
		Agent:       agent.TypeClaude,
		Prompt:      "build the feature",
		ProjectPath: "/home/dev/proj",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != executor.StatusRunning {
		t.Fatalf("status = %s, want running", res.Status)
	}
	if !strings.HasPrefix(res.SessionID, "orchestra-") {
		t.Errorf("session id = %q", res.SessionID)
	}
	wantAttach := "docker exec -it " + res.SessionID + " tmux attach -t agent"
	if res.AttachCommand != wantAttach {
		t.Errorf("attach = %q, want %q", res.AttachCommand, wantAttach)
	}

	if len(script.calls) != 1 {
		t.Fatalf("expected 1 docker call, got %d", len(script.calls))
	}
	args := script.calls[0].args
	joined := strings.Join(args, " ")
	if args[0] != "run" || args[1] != "-d" {
		t.Errorf("not detached: %v", args[:2])
	}
	if !strings.Contains(joined, "--name "+res.SessionID) {
		t.Errorf("container name missing: %s", joined)
	}
	if !strings.Contains(joined, "/home/dev/proj:/workspace") {
		t.Errorf("workspace mount missing: %s", joined)
	}
	last := args[len(args)-1]
	if !strings.Contains(last, "tmux new-session -d -s agent") {
		t.Errorf("tmux bootstrap missing: %s", last)
	}
	if !strings.Contains(last, res.SessionID+".exit") {
		t.Errorf("exit sentinel missing: %s", last)
	}

	if _, ok := b.Tracker().Get(res.SessionID); !ok {
		t.Error("session not tracked")
	}
}

func TestExecuteStartFailure(t *testing.T) {
	t.Parallel()

	script := &scriptedDocker{responses: map[string]struct {
		out  string
		code int
	}{
		"run": {out: "no such image", code: 125},
	}}
	b := newTestBackend(script)

	res, err := b.Execute(t.Context(), &executor.Request{Agent: agent.TypeClaude, Prompt: "x"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != executor.StatusError || !strings.Contains(res.Message, "no such image") {
		t.Errorf("res = %+v", res)
	}
}

func TestSessionStatusRunningAgent(t *testing.T) {
	t.Parallel()

	script := &scriptedDocker{responses: map[string]struct {
		out  string
		code int
	}{
		"inspect":     {out: "true\n", code: 0},
		"exec sess-1": {out: "", code: 0},
	}}
	b := newTestBackend(script)

	status, err := b.SessionStatus(t.Context(), "sess-1")
	if err != nil {
		t.Fatalf("SessionStatus: %v", err)
	}
	if !status.Alive {
		t.Error("expected alive")
	}
	if !status.AgentRunning {
		t.Error("expected agent running while tmux session exists")
	}
	if status.ExitCode != nil {
		t.Errorf("unexpected exit code %v", *status.ExitCode)
	}
}

func TestSessionStatusAgentFinished(t *testing.T) {
	t.Parallel()

	// has-session and cat both route through "exec sess-2"; a written exit
	// file means the sentinel content parses and overrides AgentRunning.
	script := &scriptedDocker{responses: map[string]struct {
		out  string
		code int
	}{
		"inspect":     {out: "true\n", code: 0},
		"exec sess-2": {out: "0\n", code: 0},
	}}
	b := newTestBackend(script)

	status, err := b.SessionStatus(t.Context(), "sess-2")
	if err != nil {
		t.Fatalf("SessionStatus: %v", err)
	}
	if !status.Alive {
		t.Error("expected container alive")
	}
	if status.AgentRunning {
		t.Error("expected agent finished once exit file parses")
	}
	if status.ExitCode == nil || *status.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", status.ExitCode)
	}
}

func TestSessionStatusStoppedContainer(t *testing.T) {
	t.Parallel()

	script := &scriptedDocker{responses: map[string]struct {
		out  string
		code int
	}{
		"inspect": {out: "false\n", code: 0},
	}}
	b := newTestBackend(script)

	status, err := b.SessionStatus(t.Context(), "sess-1")
	if err != nil {
		t.Fatalf("SessionStatus: %v", err)
	}
	if status.Alive {
		t.Error("expected not alive")
	}
}

func TestSendKeysChunksLargeInput(t *testing.T) {
	t.Parallel()

	script := &scriptedDocker{}
	b := newTestBackend(script)

	text := strings.Repeat("a", sendKeysChunk*2+10)
	if err := b.SendKeys(t.Context(), "sess-1", text); err != nil {
		t.Fatalf("SendKeys: %v", err)
	}

	// 3 literal chunks plus the trailing Enter.
	if len(script.calls) != 4 {
		t.Fatalf("expected 4 docker calls, got %d", len(script.calls))
	}
	for i := 0; i < 3; i++ {
		args := script.calls[i].args
		joined := strings.Join(args, " ")
		if !strings.Contains(joined, "send-keys -t agent -l") {
			t.Errorf("call %d not a literal send: %s", i, joined)
		}
	}
	lastArgs := script.calls[3].args
	if lastArgs[len(lastArgs)-1] != "Enter" {
		t.Errorf("missing trailing Enter: %v", lastArgs)
	}
}

func TestStopRemovesFromTracker(t *testing.T) {
	t.Parallel()

	script := &scriptedDocker{}
	b := newTestBackend(script)
	b.Tracker().Add("sess-1", "claude")

	if err := b.Stop(t.Context(), "sess-1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, ok := b.Tracker().Get("sess-1"); ok {
		t.Error("session still tracked after stop")
	}
	if script.calls[0].args[0] != "stop" {
		t.Errorf("args = %v", script.calls[0].args)
	}
}

func TestSessionsParsesNames(t *testing.T) {
	t.Parallel()

	script := &scriptedDocker{responses: map[string]struct {
		out  string
		code int
	}{
		"ps": {out: "orchestra-a\norchestra-b\n", code: 0},
	}}
	b := newTestBackend(script)

	names, err := b.Sessions(t.Context())
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(names) != 2 || names[0] != "orchestra-a" || names[1] != "orchestra-b" {
		t.Errorf("names = %v", names)
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()

	b := newTestBackend(&scriptedDocker{})
	caps := b.Capabilities()
	if !caps.Attach || !caps.Output || !caps.Stop || !caps.Detach {
		t.Errorf("caps = %+v", caps)
	}
}
