// Package memstore implements the database.Store port in process memory.
// It is the default store when no Postgres DSN is configured, and the
// fixture store for tests. All methods are safe for concurrent use.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/philippe-eecs/orchestra/internal/domain"
	"github.com/philippe-eecs/orchestra/internal/domain/graph"
	"github.com/philippe-eecs/orchestra/internal/domain/session"
	"github.com/philippe-eecs/orchestra/internal/port/database"
)

// Store holds all entities in maps keyed by id. Values are deep-copied on
// the way in and out so callers can never alias live store state.
type Store struct {
	mu       sync.RWMutex
	projects map[string]*graph.Project
	sessions map[string]*session.Session
	runs     []*session.NodeRun
}

var _ database.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		projects: make(map[string]*graph.Project),
		sessions: make(map[string]*session.Session),
	}
}

// ListProjects returns all projects sorted by id.
func (s *Store) ListProjects(_ context.Context) ([]graph.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]graph.Project, 0, len(s.projects))
	for _, p := range s.projects {
		result = append(result, *copyProject(p))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// GetProject returns the project with the given id.
func (s *Store) GetProject(_ context.Context, id string) (*graph.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("get project %s: %w", id, domain.ErrNotFound)
	}
	return copyProject(p), nil
}

// SaveProject inserts or replaces the project.
func (s *Store) SaveProject(_ context.Context, p *graph.Project) error {
	if p.ID == "" {
		return fmt.Errorf("save project: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = copyProject(p)
	return nil
}

// DeleteProject removes a project. Sessions and node runs survive, being
// only weakly referenced by node id.
func (s *Store) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return fmt.Errorf("delete project %s: %w", id, domain.ErrNotFound)
	}
	delete(s.projects, id)
	return nil
}

// GetSession returns the session with the given id.
func (s *Store) GetSession(_ context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("get session %s: %w", id, domain.ErrNotFound)
	}
	return copySession(sess), nil
}

// SaveSession inserts or replaces the session.
func (s *Store) SaveSession(_ context.Context, sess *session.Session) error {
	if sess.ID == "" {
		return fmt.Errorf("save session: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

// ListSessionsByNode returns every session attempted for a node, newest
// first.
func (s *Store) ListSessionsByNode(_ context.Context, nodeID string) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []session.Session
	for _, sess := range s.sessions {
		if sess.NodeID == nodeID {
			result = append(result, *copySession(sess))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result, nil
}

// SaveNodeRun appends an immutable audit record.
func (s *Store) SaveNodeRun(_ context.Context, run *session.NodeRun) error {
	if run.ID == "" {
		return fmt.Errorf("save node run: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *run
	s.runs = append(s.runs, &c)
	return nil
}

// ListNodeRuns returns the audit history for a node, newest first.
func (s *Store) ListNodeRuns(_ context.Context, nodeID string) ([]session.NodeRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []session.NodeRun
	for _, run := range s.runs {
		if run.NodeID == nodeID {
			result = append(result, *run)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CompletedAt.After(result[j].CompletedAt)
	})
	return result, nil
}

func copyProject(p *graph.Project) *graph.Project {
	c := *p
	c.Nodes = append([]graph.Node(nil), p.Nodes...)
	c.Edges = append([]graph.Edge(nil), p.Edges...)
	return &c
}

func copySession(sess *session.Session) *session.Session {
	c := *sess
	c.DeliverablesStatus = copyMap(sess.DeliverablesStatus)
	c.CheckResults = copyMap(sess.CheckResults)
	c.CheckMessages = copyMap(sess.CheckMessages)
	c.RetryAttempts = copyMap(sess.RetryAttempts)
	return &c
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	c := make(map[K]V, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
