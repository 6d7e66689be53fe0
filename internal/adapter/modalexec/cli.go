package modalexec

import (
	"bufio"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// runModalCLI spawns the modal CLI, streaming every output line through
// onOutput while accumulating the combined output.
func runModalCLI(ctx context.Context, args []string, onOutput func(string)) (string, int, error) {
	cmd := exec.CommandContext(ctx, "modal", args...)

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
	capture := func(line string) {
		mu.Lock()
		out.WriteString(line)
		out.WriteByte('\n')
		mu.Unlock()
		if onOutput != nil {
			onOutput(line)
		}
	}

	var g errgroup.Group
	for _, r := range []struct{ s *bufio.Scanner }{
		{bufio.NewScanner(stdout)}, {bufio.NewScanner(stderr)},
	} {
		scanner := r.s
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		g.Go(func() error {
			for scanner.Scan() {
				capture(scanner.Text())
			}
			return scanner.Err()
		})
	}
	scanErr := g.Wait()

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out.String(), exitErr.ExitCode(), nil
		}
		return out.String(), -1, err
	}
	if scanErr != nil {
		return out.String(), -1, scanErr
	}
	return out.String(), 0, nil
}
