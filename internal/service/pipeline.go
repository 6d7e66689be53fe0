package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/philippe-eecs/orchestra/internal/adapter/otel"
	"github.com/philippe-eecs/orchestra/internal/agent"
	"github.com/philippe-eecs/orchestra/internal/domain/execution"
	"github.com/philippe-eecs/orchestra/internal/domain/graph"
	"github.com/philippe-eecs/orchestra/internal/domain/session"
	"github.com/philippe-eecs/orchestra/internal/port/broadcast"
	"github.com/philippe-eecs/orchestra/internal/port/database"
	"github.com/philippe-eecs/orchestra/internal/port/executor"
	"github.com/philippe-eecs/orchestra/internal/port/messagequeue"
)

// defaultApprovalPoll is how often the approval gate re-reads the session.
const defaultApprovalPoll = 2 * time.Second

// Pipeline executes one node end to end: session lifecycle, optional
// sandbox, context compilation, backend dispatch, check evaluation, and
// the terminal-state decision. Whatever happens, the node is in a
// terminal state when ExecuteNode returns.
type Pipeline struct {
	log       *slog.Logger
	state     *State
	router    *Router
	checker   *Checker
	sandboxes *SandboxManager
	store     database.Store
	events    broadcast.Broadcaster
	metrics   *otel.Metrics

	// ApprovalTimeout bounds how long a session may sit in
	// awaiting_approval before it is failed. Zero waits only for ctx.
	ApprovalTimeout time.Duration
	approvalPoll    time.Duration

	// statFile is injectable for deliverable verification tests.
	statFile func(path string) error
}

// NewPipeline creates a node execution pipeline.
func NewPipeline(log *slog.Logger, state *State, router *Router, checker *Checker, sandboxes *SandboxManager, store database.Store, events broadcast.Broadcaster, metrics *otel.Metrics) *Pipeline {
	return &Pipeline{
		log:          log.With("component", "pipeline"),
		state:        state,
		router:       router,
		checker:      checker,
		sandboxes:    sandboxes,
		store:        store,
		events:       events,
		metrics:      metrics,
		approvalPoll: defaultApprovalPoll,
		statFile: func(path string) error {
			_, err := os.Stat(path)
			return err
		},
	}
}

// ExecuteNode runs one node to a terminal state. The returned error
// describes why the node failed; a nil return means the node completed.
// The node is never left running, even on error or context cancellation.
func (p *Pipeline) ExecuteNode(ctx context.Context, projectID string, node graph.Node) error {
	project, ok := p.state.ProjectSnapshot(projectID)
	if !ok {
		return fmt.Errorf("unknown project %q", projectID)
	}

	cfg := execution.Resolve(node.Execution, project.Execution)
	sess := p.state.NewSession(projectID, node.ID, string(cfg.Backend))
	started := time.Now()

	ctx, span := otel.StartNodeSpan(ctx, node.ID, sess.ID, string(cfg.Backend))
	defer span.End()

	if p.metrics != nil {
		p.metrics.NodesStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", string(cfg.Backend))))
	}

	_ = p.state.SetNodeStatus(projectID, node.ID, graph.NodeStatusRunning, sess.ID)
	p.initSession(ctx, sess.ID, &node)
	p.broadcastNode(ctx, projectID, node.ID, graph.NodeStatusRunning, sess.ID)

	err := p.execute(ctx, projectID, &project, node, cfg, sess.ID)

	// Terminal guarantee: whatever path was taken, the node and session
	// must not be left running.
	if status, ok := p.state.NodeStatus(projectID, node.ID); ok && !status.IsTerminal() {
		reason := "execution ended without a terminal state"
		if err != nil {
			reason = err.Error()
		}
		p.failNode(ctx, projectID, node.ID, sess.ID, reason)
	}

	if p.metrics != nil {
		p.metrics.NodeDuration.Record(ctx, time.Since(started).Seconds(),
			metric.WithAttributes(attribute.String("backend", string(cfg.Backend))))
	}
	return err
}

func (p *Pipeline) execute(ctx context.Context, projectID string, project *graph.Project, node graph.Node, cfg execution.Config, sessionID string) error {
	workDir := project.Path
	var sandbox *Sandbox
	if cfg.Sandbox != nil && cfg.Sandbox.Enabled && project.Path != "" {
		sb, err := p.sandboxes.CreateSandbox(ctx, project.Path, node.ID, cfg.Sandbox, "")
		if err != nil {
			p.failNode(ctx, projectID, node.ID, sessionID, err.Error())
			return err
		}
		sandbox = sb
		workDir = sb.WorktreePath
		defer p.closeSandbox(ctx, project.Path, sandbox, cfg.Sandbox)
	}

	parentOutputs := p.state.ParentOutputs(projectID, node.ID)
	compiled := CompileContext(&node, parentOutputs)
	prompt := BuildFullPrompt(&node, compiled)

	req := &executor.Request{
		Agent:  node.Agent.Type,
		Prompt: prompt,
		Options: agent.Options{
			Model:           node.Agent.Model,
			ReasoningEffort: node.Agent.ReasoningEffort,
			ThinkingBudget:  node.Agent.ThinkingBudget,
		},
		ProjectPath: workDir,
		Config:      cfg,
		SessionID:   sessionID,
		OnOutput: func(chunk string) {
			p.events.BroadcastEvent(ctx, broadcast.EventSessionOutput, messagequeue.SessionOutputPayload{
				SessionID: sessionID,
				Line:      chunk,
			})
		},
	}

	res, err := p.router.Execute(ctx, req)
	if err != nil {
		p.finishRun(ctx, &node, sessionID, compiled, prompt, nil, "", errMessage(err))
		p.failNode(ctx, projectID, node.ID, sessionID, errMessage(err))
		return err
	}

	if res.Status == executor.StatusRunning {
		res, err = p.awaitDetached(ctx, sessionID, cfg, res)
		if err != nil {
			p.finishRun(ctx, &node, sessionID, compiled, prompt, nil, "", errMessage(err))
			p.failNode(ctx, projectID, node.ID, sessionID, errMessage(err))
			return err
		}
	}

	p.finishRun(ctx, &node, sessionID, compiled, prompt, res.Command, res.Output, res.Message)

	if res.Status == executor.StatusError {
		msg := res.Message
		if msg == "" {
			msg = fmt.Sprintf("execution failed with exit code %d", res.ExitCode)
		}
		_ = p.state.UpdateSession(sessionID, func(s *session.Session) {
			s.ExitCode = res.ExitCode
		})
		p.failNode(ctx, projectID, node.ID, sessionID, msg)
		return errors.New(msg)
	}

	p.markDeliverables(sessionID, &node, workDir)

	return p.evaluateChecks(ctx, projectID, node, sessionID, workDir, res.Output)
}

// initSession records every declared check and deliverable as pending and
// persists the starting session.
func (p *Pipeline) initSession(ctx context.Context, sessionID string, node *graph.Node) {
	_ = p.state.UpdateSession(sessionID, func(s *session.Session) {
		for _, d := range node.Deliverables {
			s.DeliverablesStatus[d.ID] = session.DeliverablePending
		}
		for _, c := range node.Checks {
			s.CheckResults[c.ID] = session.CheckPending
		}
	})
	p.persistSession(ctx, sessionID)
	p.broadcastSession(ctx, sessionID, node.ID, session.StatusStarting)
}

// awaitDetached marks the session running and blocks on the backend's
// poll-until-exit helper.
func (p *Pipeline) awaitDetached(ctx context.Context, sessionID string, cfg execution.Config, res *executor.Result) (*executor.Result, error) {
	_ = p.state.UpdateSession(sessionID, func(s *session.Session) {
		s.Status = session.StatusRunning
		s.Handle = res.SessionID
	})
	p.persistSession(ctx, sessionID)

	sess, _ := p.state.SessionSnapshot(sessionID)
	p.broadcastSession(ctx, sessionID, sess.NodeID, session.StatusRunning)

	final, err := p.router.Wait(ctx, string(cfg.Backend), res.SessionID)
	if err != nil {
		return nil, err
	}
	if final.Command == nil {
		final.Command = res.Command
	}
	return final, nil
}

// evaluateChecks runs the check loop: repeated passes while auto-retryable
// checks remain pending, then the human-approval gate, then the terminal
// decision.
func (p *Pipeline) evaluateChecks(ctx context.Context, projectID string, node graph.Node, sessionID, workDir, output string) error {
	result, err := p.checker.RunAllChecks(ctx, &node, sessionID, workDir, output)
	if err != nil {
		p.failNode(ctx, projectID, node.ID, sessionID, err.Error())
		return err
	}

	for result.Retryable() {
		select {
		case <-ctx.Done():
			p.failNode(ctx, projectID, node.ID, sessionID, "cancelled during check retries")
			return ctx.Err()
		case <-time.After(p.checker.Backoff):
		}
		result, err = p.checker.RunAllChecks(ctx, &node, sessionID, workDir, output)
		if err != nil {
			p.failNode(ctx, projectID, node.ID, sessionID, err.Error())
			return err
		}
	}

	if result.NeedsHumanApproval && !hasFailedChecks(result, p.state, sessionID) {
		return p.awaitApproval(ctx, projectID, node, sessionID, output)
	}

	if !result.AllPassed {
		msg := "checks failed: " + strings.Join(result.PendingOrFailed, ", ")
		p.failNode(ctx, projectID, node.ID, sessionID, msg)
		return errors.New(msg)
	}

	p.completeNode(ctx, projectID, node.ID, sessionID, output)
	return nil
}

// awaitApproval parks the session in awaiting_approval and polls until a
// human approves (promoting it to completed), a check is failed, the
// approval window closes, or the context ends.
func (p *Pipeline) awaitApproval(ctx context.Context, projectID string, node graph.Node, sessionID, output string) error {
	_ = p.state.UpdateSession(sessionID, func(s *session.Session) {
		s.Status = session.StatusAwaitingApproval
	})
	p.persistSession(ctx, sessionID)
	p.broadcastSession(ctx, sessionID, node.ID, session.StatusAwaitingApproval)

	for _, check := range node.Checks {
		if check.Kind == graph.CheckHumanApproval {
			p.events.BroadcastEvent(ctx, broadcast.EventApprovalNeeded, messagequeue.ApprovalNeededPayload{
				SessionID: sessionID,
				NodeID:    node.ID,
				CheckID:   check.ID,
			})
		}
	}

	// A nil channel blocks forever, so an unset timeout waits only on ctx.
	var deadlineC <-chan time.Time
	if p.ApprovalTimeout > 0 {
		deadline := time.NewTimer(p.ApprovalTimeout)
		defer deadline.Stop()
		deadlineC = deadline.C
	}

	ticker := time.NewTicker(p.approvalPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.failNode(ctx, projectID, node.ID, sessionID, "cancelled while awaiting approval")
			return ctx.Err()
		case <-deadlineC:
			msg := fmt.Sprintf("approval not granted within %s", p.ApprovalTimeout)
			p.failNode(ctx, projectID, node.ID, sessionID, msg)
			return errors.New(msg)
		case <-ticker.C:
			sess, ok := p.state.SessionSnapshot(sessionID)
			if !ok {
				p.failNode(ctx, projectID, node.ID, sessionID, "session vanished while awaiting approval")
				return fmt.Errorf("session %q vanished", sessionID)
			}
			switch sess.Status {
			case session.StatusCompleted:
				// ApproveHumanCheck already promoted the node; record
				// the output for downstream consumers.
				p.state.SetOutput(node.ID, output)
				p.persistSession(ctx, sessionID)
				if p.metrics != nil {
					p.metrics.NodesCompleted.Add(ctx, 1)
				}
				return nil
			case session.StatusFailed:
				return errors.New(sess.Error)
			}
		}
	}
}

// markDeliverables decides deliverable status after a successful agent
// run. File deliverables are verified by existence in the working tree;
// the other kinds are recorded produced optimistically.
func (p *Pipeline) markDeliverables(sessionID string, node *graph.Node, workDir string) {
	_ = p.state.UpdateSession(sessionID, func(s *session.Session) {
		for _, d := range node.Deliverables {
			if d.Kind == graph.DeliverableFile && d.Path != "" {
				path := d.Path
				if !filepath.IsAbs(path) && workDir != "" {
					path = filepath.Join(workDir, path)
				}
				if p.statFile(path) != nil {
					s.DeliverablesStatus[d.ID] = session.DeliverablePending
					continue
				}
			}
			s.DeliverablesStatus[d.ID] = session.DeliverableProduced
		}
	})
}

// finishRun writes the immutable NodeRun audit record.
func (p *Pipeline) finishRun(ctx context.Context, node *graph.Node, sessionID string, compiled CompiledContext, prompt string, command []string, output, errMsg string) {
	sess, ok := p.state.SessionSnapshot(sessionID)
	if !ok {
		return
	}

	run := &session.NodeRun{
		ID:              session.NewRunID(),
		NodeID:          node.ID,
		SessionID:       sessionID,
		Backend:         sess.Backend,
		Command:         command,
		CompiledContext: describeContext(compiled),
		Prompt:          prompt,
		Output:          output,
		Error:           errMsg,
		StartedAt:       sess.StartedAt,
		CompletedAt:     time.Now().UTC(),
	}
	if err := p.store.SaveNodeRun(ctx, run); err != nil {
		p.log.Warn("could not persist node run", "run_id", run.ID, "error", err)
	}
}

func (p *Pipeline) completeNode(ctx context.Context, projectID, nodeID, sessionID, output string) {
	now := time.Now().UTC()
	_ = p.state.UpdateSession(sessionID, func(s *session.Session) {
		s.Status = session.StatusCompleted
		s.CompletedAt = &now
	})
	_ = p.state.SetNodeStatus(projectID, nodeID, graph.NodeStatusCompleted, sessionID)
	p.state.SetOutput(nodeID, output)

	p.persistSession(ctx, sessionID)
	p.broadcastSession(ctx, sessionID, nodeID, session.StatusCompleted)
	p.broadcastNode(ctx, projectID, nodeID, graph.NodeStatusCompleted, sessionID)

	if p.metrics != nil {
		p.metrics.NodesCompleted.Add(ctx, 1)
	}
	p.log.Info("node completed", "node_id", nodeID, "session_id", sessionID)
}

func (p *Pipeline) failNode(ctx context.Context, projectID, nodeID, sessionID, reason string) {
	now := time.Now().UTC()
	_ = p.state.UpdateSession(sessionID, func(s *session.Session) {
		if s.Status.IsTerminal() {
			return
		}
		s.Status = session.StatusFailed
		s.Error = reason
		s.CompletedAt = &now
	})
	_ = p.state.SetNodeStatus(projectID, nodeID, graph.NodeStatusFailed, sessionID)

	p.persistSession(ctx, sessionID)
	p.broadcastSession(ctx, sessionID, nodeID, session.StatusFailed)
	p.broadcastNode(ctx, projectID, nodeID, graph.NodeStatusFailed, sessionID)

	if p.metrics != nil {
		p.metrics.NodesFailed.Add(ctx, 1)
	}
	p.log.Warn("node failed", "node_id", nodeID, "session_id", sessionID, "reason", reason)
}

func (p *Pipeline) closeSandbox(ctx context.Context, projectPath string, sandbox *Sandbox, cfg *execution.SandboxConfig) {
	// Finalize and cleanup run on a fresh context so a timed-out node
	// still commits whatever the agent managed to change.
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	defer cancel()

	if _, err := p.sandboxes.FinalizeSandbox(closeCtx, sandbox.WorktreePath, sandbox.Branch, cfg); err != nil {
		p.log.Warn("sandbox finalize failed", "branch", sandbox.Branch, "error", err)
	}
	if cfg.Cleanup {
		if err := p.sandboxes.CleanupSandbox(closeCtx, projectPath, sandbox.WorktreePath, sandbox.Branch); err != nil {
			p.log.Warn("sandbox cleanup failed", "branch", sandbox.Branch, "error", err)
		}
	}
}

func (p *Pipeline) persistSession(ctx context.Context, sessionID string) {
	sess, ok := p.state.SessionSnapshot(sessionID)
	if !ok {
		return
	}
	if err := p.store.SaveSession(ctx, &sess); err != nil {
		p.log.Warn("could not persist session", "session_id", sessionID, "error", err)
	}
}

func (p *Pipeline) broadcastNode(ctx context.Context, projectID, nodeID string, status graph.NodeStatus, sessionID string) {
	p.events.BroadcastEvent(ctx, broadcast.EventNodeStatus, messagequeue.NodeStatusPayload{
		ProjectID: projectID,
		NodeID:    nodeID,
		Status:    string(status),
		SessionID: sessionID,
	})
}

func (p *Pipeline) broadcastSession(ctx context.Context, sessionID, nodeID string, status session.Status) {
	p.events.BroadcastEvent(ctx, broadcast.EventSessionStatus, messagequeue.SessionStatusPayload{
		SessionID: sessionID,
		NodeID:    nodeID,
		Status:    string(status),
	})
}

// hasFailedChecks reports whether the session already holds a
// terminally-failed check, which makes an approval gate pointless.
func hasFailedChecks(result CheckRunResult, state *State, sessionID string) bool {
	sess, ok := state.SessionSnapshot(sessionID)
	if !ok {
		return false
	}
	for _, id := range result.PendingOrFailed {
		if sess.CheckResults[id] == session.CheckFailed {
			return true
		}
	}
	return false
}

// describeContext renders the compiled context for the audit record.
func describeContext(cc CompiledContext) string {
	if cc.Empty() {
		return ""
	}
	return contextBlock(cc)
}

func errMessage(err error) string {
	var timeout *executor.TimeoutError
	if errors.As(err, &timeout) {
		return timeout.Error()
	}
	return err.Error()
}
