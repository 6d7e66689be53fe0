package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/philippe-eecs/orchestra/internal/agent"
	"github.com/philippe-eecs/orchestra/internal/domain/execution"
	"github.com/philippe-eecs/orchestra/internal/domain/graph"
	"github.com/philippe-eecs/orchestra/internal/domain/session"
	"github.com/philippe-eecs/orchestra/internal/port/database"
	"github.com/philippe-eecs/orchestra/internal/port/executor"
	"github.com/philippe-eecs/orchestra/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Log    *slog.Logger
	Engine *service.Engine
	Store  database.Store
	// WS serves the websocket upgrade endpoint; nil disables /ws.
	WS http.HandlerFunc

	// runs guards against concurrently starting the same project twice.
	runs sync.Map
}

// NewHandlers creates the handler set for the engine entry points.
func NewHandlers(log *slog.Logger, engine *service.Engine, ws http.HandlerFunc) *Handlers {
	return &Handlers{
		Log:    log.With("component", "http"),
		Engine: engine,
		Store:  engine.Store,
		WS:     ws,
	}
}

// ---------------------------------------------------------------------------
// Projects
// ---------------------------------------------------------------------------

// RegisterProject loads a project graph into the engine and persists it.
// The graph is validated upfront so a cyclic or dangling definition is
// rejected before anything can try to run it.
func (h *Handlers) RegisterProject(w http.ResponseWriter, r *http.Request) {
	project, ok := readJSON[graph.Project](w, r)
	if !ok {
		return
	}
	if project.ID == "" {
		writeError(w, http.StatusBadRequest, "project id is required")
		return
	}
	if err := project.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.Engine.State.PutProject(&project)
	if err := h.Store.SaveProject(r.Context(), &project); err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Store.ListProjects(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	// Prefer the live snapshot: it carries current node statuses.
	if project, ok := h.Engine.State.ProjectSnapshot(id); ok {
		writeJSON(w, http.StatusOK, project)
		return
	}
	project, err := h.Store.GetProject(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *Handlers) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if _, running := h.runs.Load(id); running {
		writeError(w, http.StatusConflict, "project run in progress")
		return
	}
	if err := h.Store.DeleteProject(r.Context(), id); err != nil {
		writeInternalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

type runStartedResponse struct {
	ProjectID string `json:"project_id"`
	NodeID    string `json:"node_id,omitempty"`
	Status    string `json:"status"`
}

// RunProject starts a full DAG run in the background and returns 202.
// Progress is observable through the websocket event stream and the
// project snapshot endpoint.
func (h *Handlers) RunProject(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if _, ok := h.Engine.State.ProjectSnapshot(id); !ok {
		if err := h.loadProject(r.Context(), id); err != nil {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
	}
	if _, loaded := h.runs.LoadOrStore(id, struct{}{}); loaded {
		writeError(w, http.StatusConflict, "project run already in progress")
		return
	}

	go func() {
		defer h.runs.Delete(id)
		// The run outlives the HTTP request; bounds come from the
		// scheduler's own project deadline.
		if err := h.Engine.Scheduler.RunProject(context.Background(), id); err != nil {
			h.Log.Error("project run failed", "project_id", id, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, runStartedResponse{ProjectID: id, Status: "started"})
}

// RunNode starts a single node outside a full project run.
func (h *Handlers) RunNode(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "id")
	nodeID := urlParam(r, "nodeID")

	project, ok := h.Engine.State.ProjectSnapshot(projectID)
	if !ok {
		if err := h.loadProject(r.Context(), projectID); err != nil {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		project, _ = h.Engine.State.ProjectSnapshot(projectID)
	}
	if project.Node(nodeID) == nil {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}

	go func() {
		if err := h.Engine.Scheduler.RunNode(context.Background(), projectID, nodeID); err != nil {
			h.Log.Error("node run failed", "project_id", projectID, "node_id", nodeID, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, runStartedResponse{ProjectID: projectID, NodeID: nodeID, Status: "started"})
}

func (h *Handlers) loadProject(ctx context.Context, id string) error {
	project, err := h.Store.GetProject(ctx, id)
	if err != nil {
		return err
	}
	h.Engine.State.PutProject(project)
	return nil
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "sessionID")
	if sess, ok := h.Engine.State.SessionSnapshot(id); ok {
		writeJSON(w, http.StatusOK, sess)
		return
	}
	sess, err := h.Store.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ApproveCheck marks a human-approval check as passed. When it was the
// last gate, the session and its node are promoted to completed.
func (h *Handlers) ApproveCheck(w http.ResponseWriter, r *http.Request) {
	sessionID := urlParam(r, "sessionID")
	checkID := urlParam(r, "checkID")

	if err := h.Engine.Checker.ApproveHumanCheck(r.Context(), sessionID, checkID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	sess, _ := h.Engine.State.SessionSnapshot(sessionID)
	writeJSON(w, http.StatusOK, sess)
}

type sessionOutputResponse struct {
	SessionID string `json:"session_id"`
	Output    string `json:"output"`
}

// SessionOutput reads recent output from a detached session through the
// capability-checked router facade.
func (h *Handlers) SessionOutput(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFor(w, r)
	if !ok {
		return
	}
	lines := 100
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "lines must be a positive integer")
			return
		}
		lines = n
	}

	output, err := h.Engine.Router.Output(r.Context(), sess.Backend, sessionHandle(sess), lines)
	if err != nil {
		writeExecutorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionOutputResponse{SessionID: sess.ID, Output: output})
}

type attachResponse struct {
	SessionID     string `json:"session_id"`
	AttachCommand string `json:"attach_command"`
}

// SessionAttach returns the command line a human runs to join a detached
// session's terminal.
func (h *Handlers) SessionAttach(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFor(w, r)
	if !ok {
		return
	}
	cmd, err := h.Engine.Router.AttachCommand(sess.Backend, sessionHandle(sess))
	if err != nil {
		writeExecutorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attachResponse{SessionID: sess.ID, AttachCommand: cmd})
}

// SessionStop terminates a detached session.
func (h *Handlers) SessionStop(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFor(w, r)
	if !ok {
		return
	}
	if err := h.Engine.Router.Stop(r.Context(), sess.Backend, sessionHandle(sess)); err != nil {
		writeExecutorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) sessionFor(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := urlParam(r, "sessionID")
	if sess, ok := h.Engine.State.SessionSnapshot(id); ok {
		return &sess, true
	}
	sess, err := h.Store.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

// sessionHandle picks the backend-facing identifier: detached backends
// track their own handle, synchronous ones only know the session id.
func sessionHandle(sess *session.Session) string {
	if sess.Handle != "" {
		return sess.Handle
	}
	return sess.ID
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func (h *Handlers) ListNodeSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Store.ListSessionsByNode(r.Context(), urlParam(r, "nodeID"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handlers) ListNodeRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListNodeRuns(r.Context(), urlParam(r, "nodeID"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// ---------------------------------------------------------------------------
// Direct execute
// ---------------------------------------------------------------------------

type executeRequest struct {
	Agent       string           `json:"agent"`
	Prompt      string           `json:"prompt"`
	Options     agent.Options    `json:"options"`
	ProjectPath string           `json:"project_path"`
	Config      execution.Config `json:"config"`
	SessionID   string           `json:"session_id,omitempty"`
}

// Execute dispatches a one-off agent invocation through the router,
// bypassing the scheduler. Synchronous backends block until the agent
// exits; detached backends return a running result with an attach command.
func (h *Handlers) Execute(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[executeRequest](w, r)
	if !ok {
		return
	}
	if body.Agent == "" || body.Prompt == "" {
		writeError(w, http.StatusBadRequest, "agent and prompt are required")
		return
	}

	result, err := h.Engine.Router.Execute(r.Context(), &executor.Request{
		Agent:       body.Agent,
		Prompt:      body.Prompt,
		Options:     body.Options,
		ProjectPath: body.ProjectPath,
		Config:      body.Config,
		SessionID:   body.SessionID,
	})
	if err != nil {
		writeExecutorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ---------------------------------------------------------------------------
// Sandboxes
// ---------------------------------------------------------------------------

type createSandboxRequest struct {
	ProjectPath string                   `json:"project_path"`
	NodeID      string                   `json:"node_id"`
	RunID       string                   `json:"run_id,omitempty"`
	Config      *execution.SandboxConfig `json:"config,omitempty"`
}

func (h *Handlers) CreateSandbox(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[createSandboxRequest](w, r)
	if !ok {
		return
	}
	if body.ProjectPath == "" || body.NodeID == "" {
		writeError(w, http.StatusBadRequest, "project_path and node_id are required")
		return
	}
	sandbox, err := h.Engine.Sandboxes.CreateSandbox(r.Context(), body.ProjectPath, body.NodeID, body.Config, body.RunID)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sandbox)
}

type finalizeSandboxRequest struct {
	WorktreePath string                   `json:"worktree_path"`
	Branch       string                   `json:"branch"`
	Config       *execution.SandboxConfig `json:"config,omitempty"`
}

func (h *Handlers) FinalizeSandbox(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[finalizeSandboxRequest](w, r)
	if !ok {
		return
	}
	if body.WorktreePath == "" || body.Branch == "" {
		writeError(w, http.StatusBadRequest, "worktree_path and branch are required")
		return
	}
	result, err := h.Engine.Sandboxes.FinalizeSandbox(r.Context(), body.WorktreePath, body.Branch, body.Config)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type cleanupSandboxRequest struct {
	ProjectPath  string `json:"project_path"`
	WorktreePath string `json:"worktree_path"`
	Branch       string `json:"branch"`
}

func (h *Handlers) CleanupSandbox(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[cleanupSandboxRequest](w, r)
	if !ok {
		return
	}
	if body.ProjectPath == "" || body.WorktreePath == "" {
		writeError(w, http.StatusBadRequest, "project_path and worktree_path are required")
		return
	}
	if err := h.Engine.Sandboxes.CleanupSandbox(r.Context(), body.ProjectPath, body.WorktreePath, body.Branch); err != nil {
		writeInternalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
