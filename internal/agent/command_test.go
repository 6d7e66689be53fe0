package agent

import (
	"slices"
	"strings"
	"testing"
)

func TestBuildArgsClaude(t *testing.T) {
	t.Parallel()

	args, err := BuildArgs(TypeClaude, "analyze this code", Options{})
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}
	if args[0] != "claude" || args[1] != "-p" || args[2] != "analyze this code" {
		t.Errorf("unexpected prefix: %v", args[:3])
	}
	for _, flag := range []string{"--output-format", "--no-session-persistence", "--permission-mode"} {
		if !slices.Contains(args, flag) {
			t.Errorf("missing %s in %v", flag, args)
		}
	}
	if slices.Contains(args, "--model") {
		t.Errorf("model flag present without a model: %v", args)
	}
}

func TestBuildArgsClaudeModelAndBudget(t *testing.T) {
	t.Parallel()

	args, err := BuildArgs(TypeClaude, "task", Options{Model: "claude-opus-4-5", ThinkingBudget: 16000})
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}
	i := slices.Index(args, "--model")
	if i < 0 || args[i+1] != "claude-opus-4-5" {
		t.Errorf("model not wired: %v", args)
	}
	j := slices.Index(args, "--append-system-prompt")
	if j < 0 || args[j+1] != "Think for at most 16000 tokens." {
		t.Errorf("thinking budget not wired: %v", args)
	}
}

func TestBuildArgsCodex(t *testing.T) {
	t.Parallel()

	args, err := BuildArgs(TypeCodex, "do it", Options{Model: "gpt-5", ReasoningEffort: "xhigh"})
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}
	if args[0] != "codex" || args[1] != "exec" {
		t.Errorf("unexpected prefix: %v", args[:2])
	}
	if !slices.Contains(args, "--skip-git-repo-check") {
		t.Errorf("missing --skip-git-repo-check: %v", args)
	}
	if !slices.Contains(args, "reasoning.effort=xhigh") {
		t.Errorf("reasoning effort not wired: %v", args)
	}
	if args[len(args)-1] != "do it" {
		t.Errorf("prompt must be last: %v", args)
	}
}

func TestBuildArgsCodexIgnoresUnknownReasoningLevel(t *testing.T) {
	t.Parallel()

	args, err := BuildArgs(TypeCodex, "do it", Options{ReasoningEffort: "maximum"})
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}
	for _, a := range args {
		if strings.HasPrefix(a, "reasoning.effort=") {
			t.Errorf("unknown reasoning level leaked: %v", args)
		}
	}
}

func TestBuildArgsGemini(t *testing.T) {
	t.Parallel()

	args, err := BuildArgs(TypeGemini, "summarize", Options{})
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}
	want := []string{"gemini", "summarize", "-m", DefaultGeminiModel, "-o", "text"}
	if !slices.Equal(args, want) {
		t.Errorf("args = %v, want %v", args, want)
	}
}

func TestBuildArgsGeminiSanitizesModel(t *testing.T) {
	t.Parallel()

	args, err := BuildArgs(TypeGemini, "go", Options{Model: "gemini-2.5-pro; rm -rf /"})
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}
	i := slices.Index(args, "-m")
	if i < 0 || args[i+1] != "gemini-2.5-prorm-rf" {
		t.Errorf("model not sanitized: %v", args)
	}
}

func TestBuildArgsRejects(t *testing.T) {
	t.Parallel()

	if _, err := BuildArgs("bash", "x", Options{}); err == nil {
		t.Error("expected error for disallowed agent type")
	}
	if _, err := BuildArgs(TypeClaude, "   ", Options{}); err == nil {
		t.Error("expected error for empty prompt")
	}
	if _, err := BuildArgs(TypeClaude, "x", Options{Model: "bad model name"}); err == nil {
		t.Error("expected error for model with spaces")
	}
}

func TestValidateModel(t *testing.T) {
	t.Parallel()

	valid := []string{"claude-opus-4-5", "gpt-5", "org/model:tag", "m_1.2"}
	for _, m := range valid {
		if err := ValidateModel(m); err != nil {
			t.Errorf("ValidateModel(%q) = %v, want nil", m, err)
		}
	}
	invalid := []string{"", "has space", "semi;colon", "quote'inside", strings.Repeat("a", 200)}
	for _, m := range invalid {
		if err := ValidateModel(m); err == nil {
			t.Errorf("ValidateModel(%q) = nil, want error", m)
		}
	}
}

func TestBuildTmuxCommand(t *testing.T) {
	t.Parallel()

	cmd, err := BuildTmuxCommand("orchestra-abc", TypeClaude, "it's urgent", Options{Model: "sonnet"})
	if err != nil {
		t.Fatalf("BuildTmuxCommand: %v", err)
	}
	if !strings.HasPrefix(cmd, "mkdir -p /tmp/orchestra-sessions && ") {
		t.Errorf("missing exit dir setup: %s", cmd)
	}
	if !strings.Contains(cmd, "/tmp/orchestra-sessions/orchestra-abc.exit") {
		t.Errorf("missing exit file: %s", cmd)
	}
	if !strings.Contains(cmd, `'it'\''s urgent'`) {
		t.Errorf("prompt not escaped: %s", cmd)
	}
	if !strings.Contains(cmd, "'--model' 'sonnet'") {
		t.Errorf("model not wired: %s", cmd)
	}
	if !strings.Contains(cmd, "exec ${SHELL:-/bin/bash}") {
		t.Errorf("missing trailing shell: %s", cmd)
	}
}

func TestBuildInteractiveArgsCodexHasNoExecSubcommand(t *testing.T) {
	t.Parallel()

	args, err := BuildInteractiveArgs(TypeCodex, "do it", Options{})
	if err != nil {
		t.Fatalf("BuildInteractiveArgs: %v", err)
	}
	if slices.Contains(args, "exec") {
		t.Errorf("interactive codex must not use exec: %v", args)
	}
	if args[len(args)-1] != "do it" {
		t.Errorf("prompt must be positional: %v", args)
	}
}

func TestBuildInteractiveArgsGeminiUsesInteractiveFlag(t *testing.T) {
	t.Parallel()

	args, err := BuildInteractiveArgs(TypeGemini, "hello", Options{})
	if err != nil {
		t.Fatalf("BuildInteractiveArgs: %v", err)
	}
	i := slices.Index(args, "-i")
	if i < 0 || args[i+1] != "hello" {
		t.Errorf("gemini interactive prompt not wired: %v", args)
	}
}

func TestFallbackModel(t *testing.T) {
	t.Parallel()

	fb, ok := FallbackModel(TypeGemini, "gemini-3-pro-preview")
	if !ok || fb != "gemini-2.5-pro" {
		t.Errorf("fallback = %q, %v", fb, ok)
	}
	fb, ok = FallbackModel(TypeGemini, "")
	if !ok || fb != "gemini-2.5-pro" {
		t.Errorf("default-model fallback = %q, %v", fb, ok)
	}
	if _, ok := FallbackModel(TypeClaude, "claude-opus-4-5"); ok {
		t.Error("claude must not have a fallback")
	}
	if _, ok := FallbackModel(TypeGemini, "gemini-2.5-pro"); ok {
		t.Error("stable model must not have a fallback")
	}
}

func TestIsModelUnavailable(t *testing.T) {
	t.Parallel()

	positives := []string{
		"Error: model gemini-3-pro-preview not found",
		"The requested MODEL is not available in your region",
		"model temporarily unavailable",
	}
	for _, s := range positives {
		if !IsModelUnavailable(s) {
			t.Errorf("IsModelUnavailable(%q) = false", s)
		}
	}
	negatives := []string{
		"file not found",
		"everything worked",
		"",
	}
	for _, s := range negatives {
		if IsModelUnavailable(s) {
			t.Errorf("IsModelUnavailable(%q) = true", s)
		}
	}
}
