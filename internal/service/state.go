// Package service composes the execution engine: the DAG scheduler, the
// per-node pipeline, the backend router, the check runner, and the sandbox
// lifecycle. All mutable run state lives in the State container and every
// transition goes through one of its methods.
package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/philippe-eecs/orchestra/internal/domain/graph"
	"github.com/philippe-eecs/orchestra/internal/domain/session"
)

// State is the single-writer container for all mutable node, session, and
// parent-output state. One instance serves the whole engine; the mutex is
// the serialization point that concurrent wave execution relies on.
type State struct {
	mu sync.Mutex

	projects map[string]*graph.Project
	sessions map[string]*session.Session
	// sessionProject maps a session back to its owning project, for
	// approval promotion where only the session id is known.
	sessionProject map[string]string
	// outputs holds each completed node's final output, consumed by
	// children with a parent_output context reference.
	outputs map[string]string
}

// NewState creates an empty state container.
func NewState() *State {
	return &State{
		projects:       make(map[string]*graph.Project),
		sessions:       make(map[string]*session.Session),
		sessionProject: make(map[string]string),
		outputs:        make(map[string]string),
	}
}

// PutProject installs (or replaces) a project in the container.
func (s *State) PutProject(p *graph.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
}

// ProjectSnapshot returns a deep copy of the project for read-only use.
func (s *State) ProjectSnapshot(projectID string) (graph.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return graph.Project{}, false
	}
	return copyProject(p), true
}

// ResetNodes marks every node in the project pending and clears stale
// session references, the precondition of a fresh run.
func (s *State) ResetNodes(projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return fmt.Errorf("unknown project %q", projectID)
	}
	for i := range p.Nodes {
		p.Nodes[i].Status = graph.NodeStatusPending
		p.Nodes[i].SessionID = ""
		delete(s.outputs, p.Nodes[i].ID)
	}
	return nil
}

// SetNodeStatus transitions one node. The sessionID, when non-empty, is
// recorded as the node's current session.
func (s *State) SetNodeStatus(projectID, nodeID string, status graph.NodeStatus, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setNodeStatusLocked(projectID, nodeID, status, sessionID)
}

func (s *State) setNodeStatusLocked(projectID, nodeID string, status graph.NodeStatus, sessionID string) error {
	p, ok := s.projects[projectID]
	if !ok {
		return fmt.Errorf("unknown project %q", projectID)
	}
	n := p.Node(nodeID)
	if n == nil {
		return fmt.Errorf("unknown node %q in project %q", nodeID, projectID)
	}
	n.Status = status
	if sessionID != "" {
		n.SessionID = sessionID
	}
	return nil
}

// NodeStatus reads one node's status.
func (s *State) NodeStatus(projectID, nodeID string) (graph.NodeStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return "", false
	}
	n := p.Node(nodeID)
	if n == nil {
		return "", false
	}
	return n.Status, true
}

// ReadyNodes returns copies of the pending nodes whose dependencies are all
// completed, and atomically marks them running so a concurrent scheduler
// iteration cannot double-launch them.
func (s *State) ReadyNodes(projectID string) []graph.Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return nil
	}

	ids := graph.ReadyNodes(p.Nodes, p.Edges)
	ready := make([]graph.Node, 0, len(ids))
	for _, id := range ids {
		n := p.Node(id)
		n.Status = graph.NodeStatusRunning
		ready = append(ready, copyNode(n))
	}
	return ready
}

// RunProgress summarizes the project's node statuses for termination
// decisions: whether everything is terminal, anything failed, and how many
// nodes are still running.
func (s *State) RunProgress(projectID string) (allTerminal, anyFailed bool, running int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return true, false, 0
	}
	return graph.AllTerminal(p.Nodes), graph.AnyFailed(p.Nodes), graph.RunningCount(p.Nodes)
}

// ForceFailNonTerminal fails every node still pending or running, and
// every live session of those nodes. It returns the affected node ids.
// Called when a project-level safety bound trips, so no node is ever left
// running after the scheduler returns.
func (s *State) ForceFailNonTerminal(projectID, reason string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return nil
	}

	var failed []string
	now := time.Now().UTC()
	for i := range p.Nodes {
		n := &p.Nodes[i]
		if n.Status.IsTerminal() {
			continue
		}
		n.Status = graph.NodeStatusFailed
		failed = append(failed, n.ID)

		if sess, ok := s.sessions[n.SessionID]; ok && !sess.Status.IsTerminal() {
			sess.Status = session.StatusFailed
			sess.Error = reason
			sess.CompletedAt = &now
		}
	}
	return failed
}

// NewSession creates and registers a starting session for the node.
func (s *State) NewSession(projectID, nodeID, backend string) *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := session.New(nodeID, backend)
	s.sessions[sess.ID] = sess
	s.sessionProject[sess.ID] = projectID
	return copySession(sess)
}

// UpdateSession applies fn to the session under the state lock.
func (s *State) UpdateSession(sessionID string, fn func(*session.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("unknown session %q", sessionID)
	}
	fn(sess)
	return nil
}

// SessionSnapshot returns a copy of the session.
func (s *State) SessionSnapshot(sessionID string) (session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return session.Session{}, false
	}
	return *copySession(sess), true
}

// SessionProject returns the project owning the session.
func (s *State) SessionProject(sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sessionProject[sessionID]
	return id, ok
}

// SetOutput records a completed node's final output for its children.
func (s *State) SetOutput(nodeID, output string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[nodeID] = output
}

// ParentOutputs returns the recorded outputs of the node's parents, keyed
// by parent node id. Parents that produced no output are absent.
func (s *State) ParentOutputs(projectID, nodeID string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return nil
	}

	out := make(map[string]string)
	for _, parent := range p.ParentIDs(nodeID) {
		if v, ok := s.outputs[parent]; ok {
			out[parent] = v
		}
	}
	return out
}

func copyProject(p *graph.Project) graph.Project {
	cp := *p
	cp.Nodes = make([]graph.Node, len(p.Nodes))
	for i := range p.Nodes {
		cp.Nodes[i] = copyNode(&p.Nodes[i])
	}
	cp.Edges = append([]graph.Edge(nil), p.Edges...)
	return cp
}

func copyNode(n *graph.Node) graph.Node {
	cn := *n
	cn.Context = append([]graph.ContextRef(nil), n.Context...)
	cn.Deliverables = append([]graph.Deliverable(nil), n.Deliverables...)
	cn.Checks = append([]graph.Check(nil), n.Checks...)
	return cn
}

func copySession(sess *session.Session) *session.Session {
	cp := *sess
	cp.DeliverablesStatus = copyStateMap(sess.DeliverablesStatus)
	cp.CheckResults = copyStateMap(sess.CheckResults)
	cp.CheckMessages = copyStateMap(sess.CheckMessages)
	cp.RetryAttempts = copyStateMap(sess.RetryAttempts)
	return &cp
}

func copyStateMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
