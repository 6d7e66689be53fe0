package sshexec

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/philippe-eecs/orchestra/internal/domain/execution"
	"github.com/philippe-eecs/orchestra/internal/port/executor"
)

// response is one scripted reply from the fake remote host.
type response struct {
	match string // substring of the tunnelled command
	out   string
	code  int
	err   error
}

// fakeRunner records every tunnelled command and answers from a script.
type fakeRunner struct {
	script   []response
	commands []string
	closed   bool
}

func (f *fakeRunner) Run(_ context.Context, command string) (string, int, error) {
	f.commands = append(f.commands, command)
	for _, r := range f.script {
		if strings.Contains(command, r.match) {
			return r.out, r.code, r.err
		}
	}
	return "", 0, nil
}

func (f *fakeRunner) Close() error {
	f.closed = true
	return nil
}

func testBackend(t *testing.T, runner *fakeRunner) *Backend {
	t.Helper()
	b := New(slog.New(slog.DiscardHandler), Options{Image: "orchestra-agent:latest"})
	b.dial = func(*execution.RemoteConfig) (Runner, error) { return runner, nil }
	b.syncTree = func(context.Context, *execution.RemoteConfig, string, string) error { return nil }
	b.getenv = func(string) string { return "" }
	return b
}

func remoteRequest() *executor.Request {
	return &executor.Request{
		Agent:  "claude",
		Prompt: "fix the bug",
		Config: execution.Config{
			Backend: execution.BackendRemote,
			Remote:  &execution.RemoteConfig{Host: "10.0.0.5", User: "deploy", Port: 2222},
		},
	}
}

func TestExecuteStartsDetachedContainer(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	b := testBackend(t, runner)

	res, err := b.Execute(context.Background(), remoteRequest())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != executor.StatusRunning {
		t.Fatalf("status = %q, want running: %s", res.Status, res.Message)
	}
	if !strings.HasPrefix(res.SessionID, "orchestra-") {
		t.Errorf("session id %q missing orchestra- prefix", res.SessionID)
	}

	if len(runner.commands) != 1 {
		t.Fatalf("commands = %d, want 1", len(runner.commands))
	}
	cmd := runner.commands[0]
	if !strings.HasPrefix(cmd, "docker 'run' '-d' '--name'") {
		t.Errorf("unexpected command prefix: %q", cmd)
	}
	if !strings.Contains(cmd, "orchestra-agent:latest") {
		t.Errorf("command missing image: %q", cmd)
	}
	if !strings.Contains(cmd, "tmux new-session -d -s agent") {
		t.Errorf("command missing tmux bootstrap: %q", cmd)
	}
	if !strings.Contains(cmd, res.SessionID+".exit") {
		t.Errorf("command missing exit sentinel: %q", cmd)
	}

	want := "ssh -t -p 2222 deploy@10.0.0.5 docker exec -it " + res.SessionID + " tmux attach -t agent"
	if res.AttachCommand != want {
		t.Errorf("attach command = %q, want %q", res.AttachCommand, want)
	}
}

func TestExecuteRequiresHost(t *testing.T) {
	t.Parallel()

	b := testBackend(t, &fakeRunner{})
	res, err := b.Execute(context.Background(), &executor.Request{
		Agent:  "claude",
		Prompt: "fix the bug",
		Config: execution.Config{Backend: execution.BackendRemote},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != executor.StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}
	if !strings.Contains(res.Message, "host") {
		t.Errorf("message %q should mention the missing host", res.Message)
	}
}

func TestExecuteDialFailure(t *testing.T) {
	t.Parallel()

	b := testBackend(t, &fakeRunner{})
	b.dial = func(*execution.RemoteConfig) (Runner, error) {
		return nil, errors.New("connection refused")
	}

	res, err := b.Execute(context.Background(), remoteRequest())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != executor.StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}
	if !strings.Contains(res.Message, "connect to 10.0.0.5") {
		t.Errorf("message %q should name the host", res.Message)
	}
}

func TestExecuteSyncsProjectTree(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	b := testBackend(t, runner)

	var syncedDest string
	b.syncTree = func(_ context.Context, _ *execution.RemoteConfig, projectPath, destPath string) error {
		if projectPath != "/home/dev/proj" {
			t.Errorf("sync source = %q", projectPath)
		}
		syncedDest = destPath
		return nil
	}

	req := remoteRequest()
	req.ProjectPath = "/home/dev/proj"
	req.Config.Remote.SyncProject = true
	req.Config.Remote.ScratchPath = "/srv/scratch"

	res, err := b.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != executor.StatusRunning {
		t.Fatalf("status = %q: %s", res.Status, res.Message)
	}
	if !strings.HasPrefix(syncedDest, "/srv/scratch/orchestra-") {
		t.Errorf("sync dest = %q, want under /srv/scratch", syncedDest)
	}
	if !strings.Contains(runner.commands[0], "'"+syncedDest+":/workspace'") {
		t.Errorf("command missing workspace mount: %q", runner.commands[0])
	}
}

func TestExecuteSyncFailureClosesConnection(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	b := testBackend(t, runner)
	b.syncTree = func(context.Context, *execution.RemoteConfig, string, string) error {
		return errors.New("rsync: connection unexpectedly closed")
	}

	req := remoteRequest()
	req.ProjectPath = "/home/dev/proj"
	req.Config.Remote.SyncProject = true

	res, err := b.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != executor.StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}
	if !runner.closed {
		t.Error("runner should be closed after sync failure")
	}
}

func TestExecuteForwardsCredentials(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	b := testBackend(t, runner)
	b.getenv = func(name string) string {
		if name == "ANTHROPIC_API_KEY" {
			return "sk-test"
		}
		return ""
	}

	if _, err := b.Execute(context.Background(), remoteRequest()); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	cmd := runner.commands[0]
	if !strings.Contains(cmd, "'ANTHROPIC_API_KEY=sk-test'") {
		t.Errorf("command missing forwarded credential: %q", cmd)
	}
	if strings.Contains(cmd, "OPENAI_API_KEY") {
		t.Errorf("unset credential should not be forwarded: %q", cmd)
	}
}

func TestExecuteStartFailure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{script: []response{
		{match: "docker 'run'", out: "Unable to find image", code: 125},
	}}
	b := testBackend(t, runner)

	res, err := b.Execute(context.Background(), remoteRequest())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != executor.StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}
	if !strings.Contains(res.Message, "Unable to find image") {
		t.Errorf("message = %q", res.Message)
	}
	if !runner.closed {
		t.Error("runner should be closed after start failure")
	}
}

func startSession(t *testing.T, b *Backend) string {
	t.Helper()
	res, err := b.Execute(context.Background(), remoteRequest())
	if err != nil || res.Status != executor.StatusRunning {
		t.Fatalf("Execute: %v (%+v)", err, res)
	}
	return res.SessionID
}

func TestSessionStatusRunningAgent(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{script: []response{
		{match: "'inspect'", out: "true\n", code: 0},
		{match: "'has-session'", code: 0},
		{match: "'cat'", out: "cat: no such file", code: 1},
	}}
	b := testBackend(t, runner)
	id := startSession(t, b)

	status, err := b.SessionStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("SessionStatus: %v", err)
	}
	if !status.Alive || !status.AgentRunning {
		t.Errorf("status = %+v, want alive running agent", status)
	}
	if status.ExitCode != nil {
		t.Errorf("exit code should be nil while the agent runs")
	}
}

func TestSessionStatusAgentFinished(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{script: []response{
		{match: "'inspect'", out: "true\n", code: 0},
		// Quoted so the match skips the bare has-session inside the
		// docker run bootstrap loop.
		{match: "'has-session'", code: 1},
		{match: "'cat'", out: "0\n", code: 0},
	}}
	b := testBackend(t, runner)
	id := startSession(t, b)

	status, err := b.SessionStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("SessionStatus: %v", err)
	}
	if !status.Alive {
		t.Error("container should still be alive")
	}
	if status.AgentRunning {
		t.Error("agent should be reported finished")
	}
	if status.ExitCode == nil || *status.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", status.ExitCode)
	}
}

func TestSessionStatusUntracked(t *testing.T) {
	t.Parallel()

	b := testBackend(t, &fakeRunner{})
	status, err := b.SessionStatus(context.Background(), "orchestra-unknown")
	if err != nil {
		t.Fatalf("SessionStatus: %v", err)
	}
	if status.Alive {
		t.Error("untracked session should not be alive")
	}
}

func TestOutputTunnelsCapturePane(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{script: []response{
		{match: "capture-pane", out: "agent says hi\n", code: 0},
	}}
	b := testBackend(t, runner)
	id := startSession(t, b)

	out, err := b.Output(context.Background(), id, 50)
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if out != "agent says hi\n" {
		t.Errorf("output = %q", out)
	}

	last := runner.commands[len(runner.commands)-1]
	if !strings.Contains(last, "'-50'") {
		t.Errorf("capture command missing line bound: %q", last)
	}
}

func TestOutputUnknownSession(t *testing.T) {
	t.Parallel()

	b := testBackend(t, &fakeRunner{})
	if _, err := b.Output(context.Background(), "orchestra-unknown", 10); !errors.Is(err, executor.ErrSessionGone) {
		t.Fatalf("err = %v, want ErrSessionGone", err)
	}
}

func TestStopRemovesSessionAndClosesConnection(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	b := testBackend(t, runner)
	id := startSession(t, b)

	if err := b.Stop(context.Background(), id); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !runner.closed {
		t.Error("runner should be closed after stop")
	}
	if _, ok := b.session(id); ok {
		t.Error("session should be forgotten after stop")
	}
	if err := b.Stop(context.Background(), id); !errors.Is(err, executor.ErrSessionGone) {
		t.Errorf("second stop err = %v, want ErrSessionGone", err)
	}
}

func TestSessionsListsAcrossHosts(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{script: []response{
		{match: "'ps'", out: "orchestra-aaa\norchestra-bbb\n", code: 0},
	}}
	b := testBackend(t, runner)
	startSession(t, b)

	names, err := b.Sessions(context.Background())
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("names = %v, want 2 entries", names)
	}
}

func TestAttachCommandDefaults(t *testing.T) {
	t.Parallel()

	cfg := &execution.RemoteConfig{Host: "build.example.com", KeyPath: "/keys/ci"}
	got := attachCommand(cfg, "orchestra-xyz")
	want := "ssh -t -i /keys/ci root@build.example.com docker exec -it orchestra-xyz tmux attach -t agent"
	if got != want {
		t.Errorf("attach command = %q, want %q", got, want)
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()

	caps := testBackend(t, &fakeRunner{}).Capabilities()
	if !caps.Attach || !caps.Output || !caps.Stop || !caps.Detach {
		t.Errorf("capabilities = %+v, want full detached contract", caps)
	}
}
