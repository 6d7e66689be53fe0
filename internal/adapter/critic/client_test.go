package critic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chatHandler(t *testing.T, content string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, content)
	}
}

func TestReviewPass(t *testing.T) {
	srv := httptest.NewServer(chatHandler(t, "PASS: output satisfies all criteria"))
	defer srv.Close()

	c := NewClient(srv.URL, "gpt-4o-mini", slog.New(slog.DiscardHandler))
	verdict, err := c.Review(context.Background(), "must print hello", "hello")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if !verdict.Passed {
		t.Error("expected passing verdict")
	}
	if verdict.Reasoning != "output satisfies all criteria" {
		t.Errorf("reasoning = %q", verdict.Reasoning)
	}
}

func TestReviewFail(t *testing.T) {
	srv := httptest.NewServer(chatHandler(t, "Looking at the output...\nFAIL - the file was never created"))
	defer srv.Close()

	c := NewClient(srv.URL, "gpt-4o-mini", slog.New(slog.DiscardHandler))
	verdict, err := c.Review(context.Background(), "creates out.txt", "done")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if verdict.Passed {
		t.Error("expected failing verdict")
	}
	if !strings.Contains(verdict.Reasoning, "never created") {
		t.Errorf("reasoning = %q", verdict.Reasoning)
	}
}

func TestReviewUnparseableVerdict(t *testing.T) {
	srv := httptest.NewServer(chatHandler(t, "I am not sure what to say."))
	defer srv.Close()

	c := NewClient(srv.URL, "gpt-4o-mini", slog.New(slog.DiscardHandler))
	if _, err := c.Review(context.Background(), "criteria", "output"); err == nil {
		t.Fatal("expected error for response without a verdict")
	}
}

func TestReviewServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "gpt-4o-mini", slog.New(slog.DiscardHandler))
	_, err := c.Review(context.Background(), "criteria", "output")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error should carry the status code, got %v", err)
	}
}

func TestReviewTruncatesLongOutput(t *testing.T) {
	var gotLen int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotLen = len(req.Messages[1].Content)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"PASS ok"}}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "gpt-4o-mini", slog.New(slog.DiscardHandler))
	long := strings.Repeat("x", 2*outputCap)
	if _, err := c.Review(context.Background(), "criteria", long); err != nil {
		t.Fatalf("Review: %v", err)
	}
	if gotLen > outputCap+1024 {
		t.Errorf("output not truncated, user message is %d bytes", gotLen)
	}
}

func TestParseVerdict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		content    string
		wantPassed bool
		wantReason string
	}{
		{name: "bare pass", content: "PASS", wantPassed: true, wantReason: ""},
		{name: "lowercase", content: "pass: looks good", wantPassed: true, wantReason: "looks good"},
		{name: "fail with dash", content: "FAIL - missing tests", wantPassed: false, wantReason: "missing tests"},
		{name: "verdict after preamble", content: "Reviewing.\n\nFAIL missing file", wantPassed: false, wantReason: "missing file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v, err := parseVerdict(tt.content)
			if err != nil {
				t.Fatalf("parseVerdict: %v", err)
			}
			if v.Passed != tt.wantPassed {
				t.Errorf("passed = %v, want %v", v.Passed, tt.wantPassed)
			}
			if v.Reasoning != tt.wantReason {
				t.Errorf("reasoning = %q, want %q", v.Reasoning, tt.wantReason)
			}
		})
	}
}
