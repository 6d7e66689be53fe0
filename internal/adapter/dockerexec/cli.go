package dockerexec

import (
	"bufio"
	"context"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// runDockerCLI spawns the docker binary, streams stdout and stderr line by
// line, and returns the combined output with the exit code.
func runDockerCLI(ctx context.Context, args []string, onOutput func(string)) (string, int, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", -1, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", -1, err
	}
	if err := cmd.Start(); err != nil {
		return "", -1, err
	}

	var mu sync.Mutex
	var out strings.Builder
	capture := func(s *bufio.Scanner) error {
		for s.Scan() {
			line := s.Text() + "\n"
			mu.Lock()
			out.WriteString(line)
			mu.Unlock()
			if onOutput != nil {
				onOutput(line)
			}
		}
		return s.Err()
	}

	var g errgroup.Group
	g.Go(func() error { return capture(bufio.NewScanner(stdout)) })
	g.Go(func() error { return capture(bufio.NewScanner(stderr)) })
	_ = g.Wait()

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return out.String(), exitErr.ExitCode(), nil
		}
		return out.String(), -1, err
	}
	return out.String(), 0, nil
}
