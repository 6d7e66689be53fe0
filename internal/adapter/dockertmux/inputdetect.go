package dockertmux

import "strings"

// InputDetection is the outcome of analyzing pane output for signs the
// agent stopped to ask the human something.
type InputDetection struct {
	WaitingForInput  bool
	DetectedQuestion string
	Confidence       float64
}

// confirmIndicators are explicit yes/no confirmations. They score at the
// waiting threshold on their own because an agent that printed one has
// nothing left to do but wait, regardless of which agent it is.
var confirmIndicators = []string{
	"[y/n]",
	"[Y/n]",
	"[y/N]",
	"(yes/no)",
	"(y/n)",
	"[yes/no]",
}

var promptIndicators = []string{
	"> ",
	">> ",
	">>> ",
	"Press Enter",
	"press enter",
	"Continue?",
	"Proceed?",
	"confirm",
	"Confirm",
}

var claudePatterns = []string{
	"What would you like",
	"Would you like me to",
	"Should I",
	"Do you want",
	"How would you like",
	"Which option",
	"Please choose",
	"Select one",
	"Enter your",
	"Type your",
	"Provide the",
}

// DetectInputWaiting analyzes recent terminal output for patterns that
// indicate the agent is waiting for user input. Only fires once output has
// gone stale; a streaming agent also prints question marks.
func DetectInputWaiting(output, agentType string) InputDetection {
	lines := strings.Split(output, "\n")
	start := max(len(lines)-15, 0)
	recent := strings.Join(lines[start:], "\n")
	recentLower := strings.ToLower(recent)

	var confidence float64
	var question string

	// Trailing question mark in the last few non-empty lines.
	seen := 0
	for i := len(lines) - 1; i >= 0 && seen < 5; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		seen++
		if strings.HasSuffix(trimmed, "?") {
			confidence += 0.4
			if question == "" {
				question = trimmed
			}
			break
		}
	}

	if containsAny(recentLower, confirmIndicators) {
		confidence += 0.5
	} else if containsAny(recentLower, promptIndicators) {
		confidence += 0.3
	}

	if agentType == "claude" && containsAny(recentLower, claudePatterns) {
		confidence += 0.35
	}

	if hasNumberedChoices(recent) {
		confidence += 0.25
	}

	if question == "" && confidence > 0.3 {
		question = extractQuestion(recent)
	}
	if confidence > 1.0 {
		confidence = 1.0
	}

	return InputDetection{
		WaitingForInput:  confidence >= 0.5,
		DetectedQuestion: question,
		Confidence:       confidence,
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// hasNumberedChoices reports whether the text contains at least two lines
// that look like enumerated options ("1. ...", "2) ...").
func hasNumberedChoices(text string) bool {
	count := 0
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		digits := 0
		for _, c := range trimmed {
			if c >= '0' && c <= '9' {
				digits++
				continue
			}
			break
		}
		if digits == 0 {
			continue
		}
		rest := trimmed[digits:]
		if len(rest) >= 2 {
			switch rest[0] {
			case '.', ')', ':':
				if rest[1] == ' ' || rest[1] == '\t' {
					count++
				}
			}
		}
	}
	return count >= 2
}

// extractQuestion walks backwards and returns the last non-empty line that
// looks like a prompt.
func extractQuestion(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if strings.HasSuffix(trimmed, "?") {
			return trimmed
		}
		for _, p := range confirmIndicators {
			if strings.Contains(trimmed, p) {
				return trimmed
			}
		}
		for _, p := range promptIndicators {
			if strings.Contains(trimmed, p) {
				return trimmed
			}
		}
		for _, p := range claudePatterns {
			if strings.Contains(trimmed, p) {
				return trimmed
			}
		}
		break
	}
	return ""
}
