package service

import (
	"log/slog"

	"github.com/philippe-eecs/orchestra/internal/adapter/otel"
	"github.com/philippe-eecs/orchestra/internal/config"
	"github.com/philippe-eecs/orchestra/internal/git"
	"github.com/philippe-eecs/orchestra/internal/port/broadcast"
	"github.com/philippe-eecs/orchestra/internal/port/critic"
	"github.com/philippe-eecs/orchestra/internal/port/database"
	"github.com/philippe-eecs/orchestra/internal/port/verifier"
)

// Engine bundles the execution services behind one wiring point for the
// transport layer.
type Engine struct {
	State     *State
	Router    *Router
	Checker   *Checker
	Pipeline  *Pipeline
	Scheduler *Scheduler
	Sandboxes *SandboxManager
	Store     database.Store
}

// NewEngine assembles the execution engine. The critic and metrics may be
// nil when unconfigured.
func NewEngine(log *slog.Logger, cfg config.Config, store database.Store, events broadcast.Broadcaster, v verifier.Verifier, c critic.Critic, metrics *otel.Metrics) *Engine {
	state := NewState()
	router := NewRouter(log)
	checker := NewChecker(log, state, v, c, events, metrics)
	sandboxes := NewSandboxManager(log, cfg.Sandbox, git.NewPool(4))
	pipeline := NewPipeline(log, state, router, checker, sandboxes, store, events, metrics)
	pipeline.ApprovalTimeout = cfg.Scheduler.ApprovalTimeout
	scheduler := NewScheduler(log, state, pipeline, events, metrics, cfg.Scheduler)

	return &Engine{
		State:     state,
		Router:    router,
		Checker:   checker,
		Pipeline:  pipeline,
		Scheduler: scheduler,
		Sandboxes: sandboxes,
		Store:     store,
	}
}
