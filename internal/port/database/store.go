// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/philippe-eecs/orchestra/internal/domain/graph"
	"github.com/philippe-eecs/orchestra/internal/domain/session"
)

// Store is the port interface for database operations.
type Store interface {
	// Projects
	ListProjects(ctx context.Context) ([]graph.Project, error)
	GetProject(ctx context.Context, id string) (*graph.Project, error)
	SaveProject(ctx context.Context, p *graph.Project) error
	DeleteProject(ctx context.Context, id string) error

	// Sessions
	GetSession(ctx context.Context, id string) (*session.Session, error)
	SaveSession(ctx context.Context, s *session.Session) error
	ListSessionsByNode(ctx context.Context, nodeID string) ([]session.Session, error)

	// Node runs (immutable audit records)
	SaveNodeRun(ctx context.Context, run *session.NodeRun) error
	ListNodeRuns(ctx context.Context, nodeID string) ([]session.NodeRun, error)
}
