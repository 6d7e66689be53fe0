// Package critic defines the port for LLM-based output review.
package critic

import "context"

// Verdict is the critic's judgment of an agent's output.
type Verdict struct {
	Passed    bool   `json:"passed"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Critic judges whether an agent's output satisfies free-form criteria.
type Critic interface {
	Review(ctx context.Context, criteria, output string) (*Verdict, error)
}
