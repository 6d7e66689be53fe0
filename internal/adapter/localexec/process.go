package localexec

import (
	"context"
	"io"
	"os/exec"
	"strings"
)

// runningProcess abstracts a spawned agent process so tests can substitute
// a fake without a real CLI on PATH.
type runningProcess interface {
	Stdout() io.Reader
	Stderr() io.Reader
	Start() error
	// Wait blocks until exit and returns the exit code.
	Wait() (int, error)
}

type osProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func startOSProcess(ctx context.Context, name string, args []string, dir string) runningProcess {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdout = nil
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stderr = nil
	}

	p := &osProcess{cmd: cmd}
	p.stdout = orEmpty(stdout)
	p.stderr = orEmpty(stderr)
	return p
}

func orEmpty(r io.Reader) io.Reader {
	if r == nil {
		return strings.NewReader("")
	}
	return r
}

func (p *osProcess) Stdout() io.Reader { return p.stdout }
func (p *osProcess) Stderr() io.Reader { return p.stderr }
func (p *osProcess) Start() error      { return p.cmd.Start() }

func (p *osProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
