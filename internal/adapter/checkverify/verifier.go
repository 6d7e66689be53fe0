// Package checkverify implements the local check verifier. It evaluates
// the mechanical check kinds (file_exists, command, contains, test_runner)
// against a working directory. Human approval and LLM-judged checks are
// handled by their own collaborators and never reach this package.
package checkverify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/philippe-eecs/orchestra/internal/domain/graph"
	"github.com/philippe-eecs/orchestra/internal/port/verifier"
)

// testCommands maps a test_runner framework to the argv that runs it.
var testCommands = map[string][]string{
	"npm":    {"npm", "test"},
	"pytest": {"pytest"},
	"jest":   {"npx", "jest"},
	"cargo":  {"cargo", "test"},
	"go":     {"go", "test", "./..."},
}

// Verifier runs checks locally against the node's working directory.
type Verifier struct {
	log *slog.Logger
}

var _ verifier.Verifier = (*Verifier)(nil)

func New(log *slog.Logger) *Verifier {
	return &Verifier{log: log.With("component", "checkverify")}
}

// Verify evaluates one check. A failed check is data, not an error; the
// error return is reserved for checks this verifier cannot evaluate at all.
func (v *Verifier) Verify(ctx context.Context, check graph.Check, workDir string) (verifier.Outcome, error) {
	switch check.Kind {
	case graph.CheckFileExists:
		return v.fileExists(check, workDir), nil
	case graph.CheckCommand:
		return v.runCommand(ctx, check.Cmd, workDir, "command"), nil
	case graph.CheckContains:
		return v.contains(check, workDir), nil
	case graph.CheckTestRunner:
		return v.testRunner(ctx, check, workDir)
	default:
		return verifier.Outcome{}, fmt.Errorf("check kind %q is not verifiable locally", check.Kind)
	}
}

func (v *Verifier) fileExists(check graph.Check, workDir string) verifier.Outcome {
	full := resolvePath(check.Path, workDir)
	if _, err := os.Stat(full); err != nil {
		return verifier.Outcome{Passed: false, Message: fmt.Sprintf("file not found: %s", check.Path)}
	}
	return verifier.Outcome{Passed: true}
}

func (v *Verifier) contains(check graph.Check, workDir string) verifier.Outcome {
	full := resolvePath(check.Path, workDir)
	data, err := os.ReadFile(full)
	if err != nil {
		return verifier.Outcome{Passed: false, Message: fmt.Sprintf("failed to read file %s: %v", check.Path, err)}
	}
	if !strings.Contains(string(data), check.Pattern) {
		return verifier.Outcome{Passed: false, Message: fmt.Sprintf("pattern %q not found in %s", check.Pattern, check.Path)}
	}
	return verifier.Outcome{Passed: true}
}

func (v *Verifier) runCommand(ctx context.Context, cmdline, workDir, label string) verifier.Outcome {
	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)
	if workDir != "" {
		cmd.Dir = workDir
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return verifier.Outcome{Passed: true}
	}

	v.log.Debug("check command failed", "kind", label, "cmd", cmdline, "error", err)

	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return verifier.Outcome{Passed: false, Message: msg}
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return verifier.Outcome{Passed: false, Message: fmt.Sprintf("command exited with code %d", exitErr.ExitCode())}
	}
	return verifier.Outcome{Passed: false, Message: fmt.Sprintf("failed to execute command: %v", err)}
}

func (v *Verifier) testRunner(ctx context.Context, check graph.Check, workDir string) (verifier.Outcome, error) {
	argv, ok := testCommands[check.Framework]
	if !ok {
		return verifier.Outcome{Passed: false, Message: fmt.Sprintf("unknown test framework: %s", check.Framework)}, nil
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return verifier.Outcome{Passed: true}, nil
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return verifier.Outcome{Passed: false, Message: msg}, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return verifier.Outcome{Passed: false, Message: fmt.Sprintf("tests exited with code %d", exitErr.ExitCode())}, nil
	}
	return verifier.Outcome{Passed: false, Message: fmt.Sprintf("failed to run %s: %v", strings.Join(argv, " "), err)}, nil
}

func resolvePath(path, workDir string) string {
	if filepath.IsAbs(path) || workDir == "" {
		return path
	}
	return filepath.Join(workDir, path)
}
