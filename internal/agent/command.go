// Package agent builds the command lines for the supported coding-agent
// CLIs. All backends share this so the three flag conventions live in
// exactly one place.
package agent

import (
	"fmt"
	"strings"

	"github.com/philippe-eecs/orchestra/internal/shell"
)

// Supported agent CLI types.
const (
	TypeClaude = "claude"
	TypeCodex  = "codex"
	TypeGemini = "gemini"
)

// DefaultGeminiModel is used when a gemini node does not pin a model.
const DefaultGeminiModel = "gemini-3-pro-preview"

var allowedTypes = map[string]bool{
	TypeClaude: true,
	TypeCodex:  true,
	TypeGemini: true,
}

var reasoningLevels = map[string]bool{
	"low":    true,
	"medium": true,
	"high":   true,
	"xhigh":  true,
}

// geminiFallbacks maps preview models to their same-tier stable release,
// used for the single automatic retry when the preview model is unavailable.
var geminiFallbacks = map[string]string{
	"gemini-3-pro-preview":   "gemini-2.5-pro",
	"gemini-3-flash-preview": "gemini-2.5-flash",
}

// Allowed reports whether agentType is on the executor allow-list.
func Allowed(agentType string) bool { return allowedTypes[agentType] }

// AllowedTypes returns the allow-list for error messages.
func AllowedTypes() string { return TypeClaude + ", " + TypeCodex + ", " + TypeGemini }

// Options carries the per-node model parameters.
type Options struct {
	Model           string `json:"model,omitempty"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
	ThinkingBudget  int    `json:"thinking_budget,omitempty"`
}

// ValidateModel rejects model names that could break out of a flag value.
func ValidateModel(model string) error {
	if model == "" {
		return fmt.Errorf("model must not be empty")
	}
	if len(model) > 128 {
		return fmt.Errorf("model is too long")
	}
	for _, c := range model {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-' || c == ':' || c == '/':
		default:
			return fmt.Errorf("model contains invalid character %q", c)
		}
	}
	return nil
}

// BuildArgs returns the one-shot argv vector for the given agent. The
// vector is passed directly to the spawn primitive; nothing here goes
// through a shell.
func BuildArgs(agentType, prompt string, opts Options) ([]string, error) {
	if !Allowed(agentType) {
		return nil, fmt.Errorf("invalid agent type %q, allowed: %s", agentType, AllowedTypes())
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("prompt must not be empty")
	}
	switch agentType {
	case TypeClaude:
		if opts.Model != "" {
			if err := ValidateModel(opts.Model); err != nil {
				return nil, err
			}
		}
		args := []string{
			"claude",
			"-p", prompt,
			"--output-format", "text",
			"--no-session-persistence",
			"--permission-mode", "dontAsk",
			"--tools", "",
		}
		if opts.Model != "" {
			args = append(args, "--model", opts.Model)
		}
		if opts.ThinkingBudget > 0 {
			// Soft budget: claude has no hard flag for this, so it is
			// expressed as an appended system-prompt instruction.
			args = append(args, "--append-system-prompt",
				fmt.Sprintf("Think for at most %d tokens.", opts.ThinkingBudget))
		}
		return args, nil

	case TypeCodex:
		if opts.Model != "" {
			if err := ValidateModel(opts.Model); err != nil {
				return nil, err
			}
		}
		args := []string{"codex", "exec", "--skip-git-repo-check"}
		if reasoningLevels[opts.ReasoningEffort] {
			args = append(args, "-c", "reasoning.effort="+opts.ReasoningEffort)
		}
		if opts.Model != "" {
			args = append(args, "-m", opts.Model)
		}
		args = append(args, prompt)
		return args, nil

	case TypeGemini:
		model := sanitizeGeminiModel(opts.Model)
		if model == "" {
			model = DefaultGeminiModel
		}
		return []string{"gemini", prompt, "-m", model, "-o", "text"}, nil
	}
	return nil, fmt.Errorf("invalid agent type %q", agentType)
}

// sanitizeGeminiModel strips anything that is not alphanumeric, a dash, or
// a dot. The gemini CLI treats the model as a bare token; filtering keeps a
// hostile value from becoming extra flags.
func sanitizeGeminiModel(model string) string {
	var b strings.Builder
	for _, c := range model {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == '-' || c == '.':
			b.WriteRune(c)
		}
	}
	return b.String()
}

// BuildShellCommand renders the one-shot invocation as a shell command line
// for the container and SSH hops, with every argument escaped.
func BuildShellCommand(agentType, prompt string, opts Options) (string, error) {
	argv, err := BuildArgs(agentType, prompt, opts)
	if err != nil {
		return "", err
	}
	return shell.Join(argv), nil
}

// BuildInteractiveArgs returns the interactive argv for use inside a tmux
// session: no -p / exec subcommand, prompt as the initial message.
func BuildInteractiveArgs(agentType, prompt string, opts Options) ([]string, error) {
	if !Allowed(agentType) {
		return nil, fmt.Errorf("invalid agent type %q, allowed: %s", agentType, AllowedTypes())
	}
	if opts.Model != "" {
		if err := ValidateModel(opts.Model); err != nil {
			return nil, err
		}
	}
	prompt = strings.TrimSpace(prompt)

	var argv []string
	switch agentType {
	case TypeClaude:
		argv = []string{"claude", "--allowedTools", "Bash,Read,Write,Edit,Glob,Grep"}
		if opts.Model != "" {
			argv = append(argv, "--model", opts.Model)
		}
		if prompt != "" {
			argv = append(argv, prompt)
		}
	case TypeCodex:
		argv = []string{"codex"}
		if opts.Model != "" {
			argv = append(argv, "--model", opts.Model)
		}
		if prompt != "" {
			argv = append(argv, prompt)
		}
	case TypeGemini:
		argv = []string{"gemini"}
		if opts.Model != "" {
			argv = append(argv, "-m", opts.Model)
		}
		if prompt != "" {
			argv = append(argv, "-i", prompt)
		}
	}
	return argv, nil
}

// ExitFile is the sentinel path the tmux wrapper writes the agent's exit
// code to; the monitor polls it to distinguish completion from death.
func ExitFile(sessionID string) string {
	return "/tmp/orchestra-sessions/" + sessionID + ".exit"
}

// BuildTmuxCommand wraps the interactive invocation so the wrapper creates
// the exit directory, runs the agent, records the exit code, and drops into
// a shell so the pane stays inspectable after the agent finishes.
func BuildTmuxCommand(sessionID, agentType, prompt string, opts Options) (string, error) {
	argv, err := BuildInteractiveArgs(agentType, prompt, opts)
	if err != nil {
		return "", err
	}
	agentCmd := shell.Join(argv)
	return fmt.Sprintf(
		"mkdir -p /tmp/orchestra-sessions && %s ; echo $? > %s && echo 'Session ended. Type exit to close.' && exec ${SHELL:-/bin/bash}",
		agentCmd, shell.Escape(ExitFile(sessionID)),
	), nil
}

// FallbackModel returns the same-tier fallback for an unavailable model,
// if one is known for this agent type.
func FallbackModel(agentType, model string) (string, bool) {
	if agentType != TypeGemini {
		return "", false
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	fb, ok := geminiFallbacks[model]
	return fb, ok
}

// IsModelUnavailable reports whether captured CLI output indicates the
// requested model does not exist or is not served.
func IsModelUnavailable(output string) bool {
	lower := strings.ToLower(output)
	if !strings.Contains(lower, "model") {
		return false
	}
	return strings.Contains(lower, "not found") ||
		strings.Contains(lower, "not available") ||
		strings.Contains(lower, "unavailable")
}
