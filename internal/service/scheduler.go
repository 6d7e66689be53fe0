package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/philippe-eecs/orchestra/internal/adapter/otel"
	"github.com/philippe-eecs/orchestra/internal/config"
	"github.com/philippe-eecs/orchestra/internal/domain/graph"
	"github.com/philippe-eecs/orchestra/internal/port/broadcast"
	"github.com/philippe-eecs/orchestra/internal/port/messagequeue"
)

// defaultIdlePoll is the wait between scheduler iterations when no node is
// ready but some are still running.
const defaultIdlePoll = 500 * time.Millisecond

// Scheduler runs a project's DAG in dependency waves. It owns the three
// project-level safety bounds: wall-clock deadline, iteration cap, and
// per-node timeout. When a bound trips, every non-terminal node is forced
// to failed before the error surfaces.
type Scheduler struct {
	log      *slog.Logger
	state    *State
	pipeline *Pipeline
	events   broadcast.Broadcaster
	metrics  *otel.Metrics
	cfg      config.Scheduler

	// IdlePoll is the re-poll interval when waiting on running nodes.
	IdlePoll time.Duration
}

// NewScheduler creates a DAG scheduler.
func NewScheduler(log *slog.Logger, state *State, pipeline *Pipeline, events broadcast.Broadcaster, metrics *otel.Metrics, cfg config.Scheduler) *Scheduler {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 100
	}
	return &Scheduler{
		log:      log.With("component", "scheduler"),
		state:    state,
		pipeline: pipeline,
		events:   events,
		metrics:  metrics,
		cfg:      cfg,
		IdlePoll: defaultIdlePoll,
	}
}

// RunProject executes the whole project DAG. On return every node is in a
// terminal state; the error reports a validation failure or a tripped
// safety bound. Individual node failures are not errors here, they are
// reflected in node statuses and the run_finished event.
func (s *Scheduler) RunProject(ctx context.Context, projectID string) error {
	project, ok := s.state.ProjectSnapshot(projectID)
	if !ok {
		return fmt.Errorf("unknown project %q", projectID)
	}
	if err := project.Validate(); err != nil {
		return fmt.Errorf("project %s: %w", projectID, err)
	}
	if err := s.state.ResetNodes(projectID); err != nil {
		return err
	}

	ctx, span := otel.StartProjectRunSpan(ctx, projectID)
	defer span.End()

	runCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.ProjectDeadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.ProjectDeadline)
		defer cancel()
	}

	s.log.Info("project run started",
		"project_id", projectID, "nodes", len(project.Nodes), "max_parallel", s.cfg.MaxParallel)

	err := s.runWaves(runCtx, projectID)

	succeeded, failed := s.tally(projectID)
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	s.events.BroadcastEvent(ctx, broadcast.EventRunFinished, messagequeue.RunFinishedPayload{
		ProjectID: projectID,
		Succeeded: succeeded,
		Failed:    failed,
		Error:     errMsg,
	})
	s.log.Info("project run finished",
		"project_id", projectID, "succeeded", succeeded, "failed", failed, "error", errMsg)
	return err
}

func (s *Scheduler) runWaves(ctx context.Context, projectID string) error {
	sem := semaphore.NewWeighted(int64(s.cfg.MaxParallel))

	for iteration := 0; ; iteration++ {
		if iteration >= s.cfg.MaxIterations {
			return s.abort(ctx, projectID, fmt.Sprintf("scheduler iteration cap (%d) exceeded", s.cfg.MaxIterations))
		}
		if ctx.Err() != nil {
			return s.abort(ctx, projectID, deadlineReason(ctx))
		}

		ready := s.state.ReadyNodes(projectID)
		if len(ready) == 0 {
			allTerminal, anyFailed, running := s.state.RunProgress(projectID)
			if allTerminal {
				return nil
			}
			if anyFailed && running == 0 {
				// Blocked by failure: the remaining pending nodes can
				// never become ready.
				s.state.ForceFailNonTerminal(projectID, "blocked by failed dependency")
				return nil
			}
			select {
			case <-ctx.Done():
				return s.abort(ctx, projectID, deadlineReason(ctx))
			case <-time.After(s.IdlePoll):
			}
			continue
		}

		s.log.Info("launching wave", "project_id", projectID, "iteration", iteration, "size", len(ready))
		if s.metrics != nil {
			s.metrics.WaveSize.Record(ctx, int64(len(ready)))
		}

		// A node failure must not abort its siblings, so the group
		// carries no shared cancellation; errors surface as node states.
		var wave errgroup.Group
		for _, node := range ready {
			node := node
			wave.Go(func() error {
				if err := sem.Acquire(ctx, 1); err != nil {
					_ = s.state.SetNodeStatus(projectID, node.ID, graph.NodeStatusFailed, "")
					s.pipeline.broadcastNode(ctx, projectID, node.ID, graph.NodeStatusFailed, "")
					return nil
				}
				defer sem.Release(1)

				nodeCtx := ctx
				var cancel context.CancelFunc
				if s.cfg.NodeTimeout > 0 {
					nodeCtx, cancel = context.WithTimeout(ctx, s.cfg.NodeTimeout)
					defer cancel()
				}
				// The pipeline guarantees a terminal state; its error
				// is already reflected there.
				_ = s.pipeline.ExecuteNode(nodeCtx, projectID, node)
				return nil
			})
		}
		_ = wave.Wait()
	}
}

// RunNode executes a single node outside a full project run, with the
// same per-node timeout.
func (s *Scheduler) RunNode(ctx context.Context, projectID, nodeID string) error {
	project, ok := s.state.ProjectSnapshot(projectID)
	if !ok {
		return fmt.Errorf("unknown project %q", projectID)
	}
	node := project.Node(nodeID)
	if node == nil {
		return fmt.Errorf("unknown node %q in project %q", nodeID, projectID)
	}

	if err := s.state.SetNodeStatus(projectID, nodeID, graph.NodeStatusRunning, ""); err != nil {
		return err
	}

	nodeCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.NodeTimeout > 0 {
		nodeCtx, cancel = context.WithTimeout(ctx, s.cfg.NodeTimeout)
		defer cancel()
	}
	return s.pipeline.ExecuteNode(nodeCtx, projectID, *node)
}

// abort force-fails everything still live and returns the bound violation.
func (s *Scheduler) abort(ctx context.Context, projectID, reason string) error {
	failed := s.state.ForceFailNonTerminal(projectID, reason)
	for _, nodeID := range failed {
		s.pipeline.broadcastNode(ctx, projectID, nodeID, graph.NodeStatusFailed, "")
	}
	s.log.Error("project run aborted", "project_id", projectID, "reason", reason, "force_failed", len(failed))
	return fmt.Errorf("project %s aborted: %s", projectID, reason)
}

func (s *Scheduler) tally(projectID string) (succeeded, failed int) {
	project, ok := s.state.ProjectSnapshot(projectID)
	if !ok {
		return 0, 0
	}
	for i := range project.Nodes {
		switch project.Nodes[i].Status {
		case graph.NodeStatusCompleted:
			succeeded++
		case graph.NodeStatusFailed:
			failed++
		}
	}
	return succeeded, failed
}

func deadlineReason(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "project deadline exceeded"
	}
	return "project run cancelled"
}
