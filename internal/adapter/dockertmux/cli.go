package dockertmux

import (
	"bytes"
	"context"
	"os/exec"
)

// runDockerCLI executes the docker binary and returns stdout, the exit
// code, and a spawn error. A nonzero exit is not an error here so callers
// can distinguish "docker said no" from "docker is missing".
func runDockerCLI(ctx context.Context, args ...string) (string, int, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			out := stdout.String()
			if out == "" {
				out = stderr.String()
			}
			return out, exitErr.ExitCode(), nil
		}
		return "", -1, err
	}
	return stdout.String(), 0, nil
}
