package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/philippe-eecs/orchestra/internal/domain"
	"github.com/philippe-eecs/orchestra/internal/domain/graph"
	"github.com/philippe-eecs/orchestra/internal/domain/session"
	"github.com/philippe-eecs/orchestra/internal/port/database"
)

// Store implements the database.Store port on PostgreSQL. Entities are
// persisted as jsonb documents with the hot lookup keys lifted into
// indexed columns.
type Store struct {
	pool *pgxpool.Pool
}

var _ database.Store = (*Store)(nil)

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// notFoundWrap maps pgx.ErrNoRows to domain.ErrNotFound.
func notFoundWrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// ListProjects returns all projects, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]graph.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM projects ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var result []graph.Project
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		var p graph.Project
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, fmt.Errorf("decode project: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// GetProject returns the project with the given id.
func (s *Store) GetProject(ctx context.Context, id string) (*graph.Project, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM projects WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		return nil, notFoundWrap(err, "get project %s", id)
	}
	var p graph.Project
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("decode project %s: %w", id, err)
	}
	return &p, nil
}

// SaveProject inserts or replaces the project.
func (s *Store) SaveProject(ctx context.Context, p *graph.Project) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode project %s: %w", p.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO projects (id, name, path, doc, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, path = EXCLUDED.path,
		    doc = EXCLUDED.doc, updated_at = now()`,
		p.ID, p.Name, p.Path, doc)
	if err != nil {
		return fmt.Errorf("save project %s: %w", p.ID, err)
	}
	return nil
}

// DeleteProject removes a project. Sessions and node runs are weakly
// referenced by node id and deliberately survive project deletion.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete project %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetSession returns the session with the given id.
func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM sessions WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		return nil, notFoundWrap(err, "get session %s", id)
	}
	var sess session.Session
	if err := json.Unmarshal(doc, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// SaveSession inserts or replaces the session.
func (s *Store) SaveSession(ctx context.Context, sess *session.Session) error {
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (id, node_id, status, doc, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, doc = EXCLUDED.doc, updated_at = now()`,
		sess.ID, sess.NodeID, string(sess.Status), doc, sess.StartedAt)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// ListSessionsByNode returns every session attempted for a node, newest
// first.
func (s *Store) ListSessionsByNode(ctx context.Context, nodeID string) ([]session.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM sessions WHERE node_id = $1 ORDER BY started_at DESC`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list sessions for node %s: %w", nodeID, err)
	}
	defer rows.Close()

	var result []session.Session
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var sess session.Session
		if err := json.Unmarshal(doc, &sess); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}

// SaveNodeRun appends an immutable audit record. Runs are never updated.
func (s *Store) SaveNodeRun(ctx context.Context, run *session.NodeRun) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode node run %s: %w", run.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO node_runs (id, node_id, session_id, doc, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.NodeID, run.SessionID, doc, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("save node run %s: %w", run.ID, err)
	}
	return nil
}

// ListNodeRuns returns the audit history for a node, newest first.
func (s *Store) ListNodeRuns(ctx context.Context, nodeID string) ([]session.NodeRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM node_runs WHERE node_id = $1 ORDER BY created_at DESC`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list node runs for %s: %w", nodeID, err)
	}
	defer rows.Close()

	var result []session.NodeRun
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan node run: %w", err)
		}
		var run session.NodeRun
		if err := json.Unmarshal(doc, &run); err != nil {
			return nil, fmt.Errorf("decode node run: %w", err)
		}
		result = append(result, run)
	}
	return result, rows.Err()
}
