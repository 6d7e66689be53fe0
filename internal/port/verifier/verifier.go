// Package verifier defines the port for running a node's declared checks.
package verifier

import (
	"context"

	"github.com/philippe-eecs/orchestra/internal/domain/graph"
)

// Outcome is the result of one check attempt.
type Outcome struct {
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// Verifier executes one check against a working directory. Human approval
// checks never reach the verifier; the check runner records them pending.
type Verifier interface {
	Verify(ctx context.Context, check graph.Check, workDir string) (Outcome, error)
}
