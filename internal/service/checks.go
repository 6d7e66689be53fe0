package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/philippe-eecs/orchestra/internal/adapter/otel"
	"github.com/philippe-eecs/orchestra/internal/domain/graph"
	"github.com/philippe-eecs/orchestra/internal/domain/session"
	"github.com/philippe-eecs/orchestra/internal/port/broadcast"
	"github.com/philippe-eecs/orchestra/internal/port/critic"
	"github.com/philippe-eecs/orchestra/internal/port/messagequeue"
	"github.com/philippe-eecs/orchestra/internal/port/verifier"
)

// defaultCheckBackoff spaces auto-retry attempts of file and command
// checks, for eventual consistency of fresh writes and test runners.
const defaultCheckBackoff = 300 * time.Millisecond

// CheckRunResult is the aggregate outcome of one check evaluation pass.
// Check failures are data; nothing in here is an error.
type CheckRunResult struct {
	AllPassed          bool
	NeedsHumanApproval bool
	PendingOrFailed    []string

	retryable bool
}

// Retryable reports whether another evaluation pass could still make
// progress: at least one failed-this-pass check remains pending under its
// retry cap.
func (r CheckRunResult) Retryable() bool {
	return r.retryable
}

// Checker evaluates a node's checks against a session, implementing the
// bounded auto-retry and human-approval gating rules.
type Checker struct {
	log      *slog.Logger
	state    *State
	verifier verifier.Verifier
	critic   critic.Critic
	events   broadcast.Broadcaster
	metrics  *otel.Metrics

	// backoff between retry-eligible evaluation passes; tests set zero.
	Backoff time.Duration
}

// NewChecker creates a check runner. The critic may be nil, in which case
// llm_critic and eval_baseline checks fail with a configuration message.
func NewChecker(log *slog.Logger, state *State, v verifier.Verifier, c critic.Critic, events broadcast.Broadcaster, metrics *otel.Metrics) *Checker {
	return &Checker{
		log:      log.With("component", "checks"),
		state:    state,
		verifier: v,
		critic:   c,
		events:   events,
		metrics:  metrics,
		Backoff:  defaultCheckBackoff,
	}
}

// RunAllChecks evaluates every check of the node in declaration order,
// without short-circuiting, recording per-check state on the session.
// workDir is where mechanical checks run; output is the agent's captured
// output, fed to the LLM-judged kinds.
func (c *Checker) RunAllChecks(ctx context.Context, node *graph.Node, sessionID, workDir, output string) (CheckRunResult, error) {
	result := CheckRunResult{AllPassed: true}

	for _, check := range node.Checks {
		state, msg, attempt := c.runOne(ctx, check, sessionID, workDir, output)

		if err := c.state.UpdateSession(sessionID, func(s *session.Session) {
			s.CheckResults[check.ID] = state
			if msg != "" {
				s.CheckMessages[check.ID] = msg
			} else {
				delete(s.CheckMessages, check.ID)
			}
		}); err != nil {
			return CheckRunResult{}, err
		}

		c.countCheck(ctx, check.Kind, state)
		c.events.BroadcastEvent(ctx, broadcast.EventCheckResult, messagequeue.CheckResultPayload{
			SessionID: sessionID,
			CheckID:   check.ID,
			State:     string(state),
			Message:   msg,
			Attempt:   attempt,
		})

		switch state {
		case session.CheckPassed:
			continue
		case session.CheckFailed:
			result.AllPassed = false
			result.PendingOrFailed = append(result.PendingOrFailed, check.ID)
		case session.CheckPending:
			result.AllPassed = false
			result.PendingOrFailed = append(result.PendingOrFailed, check.ID)
			if check.Kind == graph.CheckHumanApproval {
				result.NeedsHumanApproval = true
			} else {
				result.retryable = true
			}
		}
	}

	return result, nil
}

// runOne evaluates a single check and applies the retry policy. The
// returned attempt is the per-session evaluation count for the check, zero
// for human approval.
func (c *Checker) runOne(ctx context.Context, check graph.Check, sessionID, workDir, output string) (session.CheckState, string, int) {
	if check.Kind == graph.CheckHumanApproval {
		return session.CheckPending, "awaiting human approval", 0
	}

	outcome := c.evaluate(ctx, check, workDir, output)
	if outcome.Passed {
		return session.CheckPassed, outcome.Message, c.attempts(sessionID, check.ID)
	}

	autoRetry, maxRetries := check.RetryPolicy()

	var attempt int
	_ = c.state.UpdateSession(sessionID, func(s *session.Session) {
		attempt = s.RetryAttempts[check.ID] + 1
		s.RetryAttempts[check.ID] = attempt
	})

	if autoRetry && attempt < maxRetries {
		if c.metrics != nil {
			c.metrics.CheckRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("check_kind", string(check.Kind))))
		}
		c.log.Debug("check failed, retry pending",
			"check_id", check.ID, "attempt", attempt, "max_retries", maxRetries)
		return session.CheckPending, outcome.Message, attempt
	}
	return session.CheckFailed, outcome.Message, attempt
}

func (c *Checker) evaluate(ctx context.Context, check graph.Check, workDir, output string) verifier.Outcome {
	switch check.Kind {
	case graph.CheckLLMCritic, graph.CheckEvalBaseline:
		return c.judge(ctx, check, output)
	default:
		outcome, err := c.verifier.Verify(ctx, check, workDir)
		if err != nil {
			return verifier.Outcome{Passed: false, Message: err.Error()}
		}
		return outcome
	}
}

// judge routes LLM-judged check kinds through the critic.
func (c *Checker) judge(ctx context.Context, check graph.Check, output string) verifier.Outcome {
	if c.critic == nil {
		return verifier.Outcome{Passed: false, Message: "no critic configured"}
	}

	criteria := check.Criteria
	if check.Kind == graph.CheckEvalBaseline {
		criteria = fmt.Sprintf("Compare the output against this baseline expectation and fail on any regression:\n%s", check.Baseline)
	}

	verdict, err := c.critic.Review(ctx, criteria, output)
	if err != nil {
		return verifier.Outcome{Passed: false, Message: fmt.Sprintf("critic review failed: %v", err)}
	}
	return verifier.Outcome{Passed: verdict.Passed, Message: verdict.Reasoning}
}

func (c *Checker) attempts(sessionID, checkID string) int {
	sess, ok := c.state.SessionSnapshot(sessionID)
	if !ok {
		return 0
	}
	return sess.RetryAttempts[checkID]
}

func (c *Checker) countCheck(ctx context.Context, kind graph.CheckKind, state session.CheckState) {
	if c.metrics == nil {
		return
	}
	c.metrics.ChecksEvaluated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("check_kind", string(kind)),
		attribute.String("state", string(state)),
	))
}

// ApproveHumanCheck marks the given human-approval check passed. If every
// check of the session is then passed, both the session and its node are
// promoted to completed.
func (c *Checker) ApproveHumanCheck(ctx context.Context, sessionID, checkID string) error {
	var (
		allPassed bool
		nodeID    string
	)
	err := c.state.UpdateSession(sessionID, func(s *session.Session) {
		if _, ok := s.CheckResults[checkID]; !ok {
			return
		}
		s.CheckResults[checkID] = session.CheckPassed
		delete(s.CheckMessages, checkID)
		nodeID = s.NodeID

		allPassed = true
		for _, state := range s.CheckResults {
			if state != session.CheckPassed {
				allPassed = false
				break
			}
		}
		if allPassed {
			s.Status = session.StatusCompleted
			now := time.Now().UTC()
			s.CompletedAt = &now
		}
	})
	if err != nil {
		return err
	}
	if nodeID == "" {
		return fmt.Errorf("session %q has no check %q", sessionID, checkID)
	}

	c.events.BroadcastEvent(ctx, broadcast.EventCheckResult, messagequeue.CheckResultPayload{
		SessionID: sessionID,
		CheckID:   checkID,
		State:     string(session.CheckPassed),
	})

	if !allPassed {
		return nil
	}

	projectID, ok := c.state.SessionProject(sessionID)
	if ok {
		if err := c.state.SetNodeStatus(projectID, nodeID, graph.NodeStatusCompleted, sessionID); err != nil {
			return err
		}
		c.events.BroadcastEvent(ctx, broadcast.EventNodeStatus, messagequeue.NodeStatusPayload{
			ProjectID: projectID,
			NodeID:    nodeID,
			Status:    string(graph.NodeStatusCompleted),
			SessionID: sessionID,
		})
	}
	c.events.BroadcastEvent(ctx, broadcast.EventSessionStatus, messagequeue.SessionStatusPayload{
		SessionID: sessionID,
		NodeID:    nodeID,
		Status:    string(session.StatusCompleted),
	})

	c.log.Info("human approval promoted session", "session_id", sessionID, "node_id", nodeID)
	return nil
}
