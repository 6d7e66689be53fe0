package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// RunFunc executes one git (or gh) invocation in dir and returns its
// combined output. Injectable so services are testable without a repo.
type RunFunc func(ctx context.Context, dir string, args ...string) (string, error)

// Run is the default RunFunc backed by the git CLI.
func Run(ctx context.Context, dir string, args ...string) (string, error) {
	return runCommand(ctx, dir, "git", args...)
}

// RunGH invokes the GitHub CLI, used for PR creation.
func RunGH(ctx context.Context, dir string, args ...string) (string, error) {
	return runCommand(ctx, dir, "gh", args...)
}

func runCommand(ctx context.Context, dir, program string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = dir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Run(); err != nil {
		out := strings.TrimSpace(buf.String())
		return out, fmt.Errorf("%s %s: %w: %s", program, args[0], err, out)
	}
	return strings.TrimSpace(buf.String()), nil
}

// HasChanges reports whether the working tree at dir has uncommitted
// changes (staged, unstaged, or untracked).
func HasChanges(ctx context.Context, run RunFunc, dir string) (bool, error) {
	out, err := run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}
