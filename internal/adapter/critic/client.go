// Package critic implements the LLM critic against any OpenAI-compatible
// chat completions endpoint. It is used for llm_critic and eval_baseline
// checks: the model is asked for a single PASS or FAIL verdict line.
package critic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/philippe-eecs/orchestra/internal/port/critic"
)

const completionsPath = "/v1/chat/completions"

// outputCap bounds how much agent output is sent for review.
const outputCap = 32 * 1024

const systemPrompt = "You are a strict reviewer of AI coding agent output. " +
	"Judge whether the output satisfies the given criteria. " +
	"Respond with a single line starting with PASS or FAIL, then a brief reason."

// Client reviews agent output through an OpenAI-compatible endpoint.
// The API key is read from OPENAI_API_KEY and only ever forwarded as a
// bearer token; it is never written anywhere.
type Client struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
}

var _ critic.Critic = (*Client)(nil)

// NewClient creates a critic against the given OpenAI-compatible base URL.
func NewClient(baseURL, model string, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  os.Getenv("OPENAI_API_KEY"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		log: log.With("component", "critic"),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Review asks the model whether output satisfies criteria.
func (c *Client) Review(ctx context.Context, criteria, output string) (*critic.Verdict, error) {
	if len(output) > outputCap {
		output = output[len(output)-outputCap:]
	}

	user := fmt.Sprintf("Criteria:\n%s\n\nAgent output:\n%s", criteria, output)
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal review request: %w", err)
	}

	resp, err := c.doRequest(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("review: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal review response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("review response has no choices")
	}

	verdict, err := parseVerdict(parsed.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	c.log.Debug("critic verdict", "passed", verdict.Passed, "model", c.model)
	return verdict, nil
}

// parseVerdict finds the first line that opens with PASS or FAIL. Models
// occasionally preface the verdict with filler, so every line is scanned.
func parseVerdict(content string) (*critic.Verdict, error) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "PASS"):
			return &critic.Verdict{Passed: true, Reasoning: verdictReason(line)}, nil
		case strings.HasPrefix(upper, "FAIL"):
			return &critic.Verdict{Passed: false, Reasoning: verdictReason(line)}, nil
		}
	}
	return nil, fmt.Errorf("no PASS/FAIL verdict in critic response: %q", strings.TrimSpace(content))
}

func verdictReason(line string) string {
	_, rest, found := strings.Cut(line, " ")
	if !found {
		return ""
	}
	return strings.TrimSpace(strings.TrimLeft(rest, ":- "))
}

func (c *Client) doRequest(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("critic API error %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}
