package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/philippe-eecs/orchestra/internal/config"
	"github.com/philippe-eecs/orchestra/internal/domain/execution"
	"github.com/philippe-eecs/orchestra/internal/git"
)

// Sandbox is one isolated worktree + branch created for a run.
type Sandbox struct {
	Branch       string `json:"branch"`
	WorktreePath string `json:"worktree_path"`
}

// FinalizeResult reports what happened to the sandbox's changes. Push and
// PR failures degrade to warnings here instead of failing the run.
type FinalizeResult struct {
	HasChanges bool     `json:"has_changes"`
	CommitHash string   `json:"commit_hash,omitempty"`
	Pushed     bool     `json:"pushed"`
	PRURL      string   `json:"pr_url,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// SandboxManager owns the git-worktree sandbox lifecycle. All git and gh
// invocations go through the shared operation pool.
type SandboxManager struct {
	log  *slog.Logger
	cfg  config.Sandbox
	pool *git.Pool

	// runGit and runGH are injectable for tests.
	runGit git.RunFunc
	runGH  git.RunFunc
}

// NewSandboxManager creates a sandbox manager.
func NewSandboxManager(log *slog.Logger, cfg config.Sandbox, pool *git.Pool) *SandboxManager {
	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = "orchestra"
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = ".orchestra-worktrees"
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	return &SandboxManager{
		log:    log.With("component", "sandbox"),
		cfg:    cfg,
		pool:   pool,
		runGit: git.Run,
		runGH:  git.RunGH,
	}
}

// CreateSandbox allocates a unique branch and worktree for one run of the
// node. The worktree lives as a sibling of the project under a hidden
// scratch directory; branch and worktree are created atomically by a
// single worktree-add.
func (m *SandboxManager) CreateSandbox(ctx context.Context, projectPath, nodeID string, cfg *execution.SandboxConfig, runID string) (*Sandbox, error) {
	branch := m.branchName(nodeID, runID)

	suffix := strings.Split(uuid.NewString(), "-")[0]
	worktree := filepath.Join(m.scratchRoot(projectPath), nodeID+"-"+suffix)

	base := m.cfg.BaseBranch
	if cfg != nil && cfg.BaseBranch != "" {
		base = cfg.BaseBranch
	}

	err := m.pool.Run(ctx, func() error {
		_, err := m.runGit(ctx, projectPath, "worktree", "add", "-b", branch, worktree, base)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create sandbox for node %s: %w", nodeID, err)
	}

	m.log.Info("sandbox created", "node_id", nodeID, "branch", branch, "worktree", worktree)
	return &Sandbox{Branch: branch, WorktreePath: worktree}, nil
}

// FinalizeSandbox commits pending changes and applies the configured
// finalize action. A clean tree is a no-op. Push and PR failures are
// returned as warnings in a partial result, never as errors.
func (m *SandboxManager) FinalizeSandbox(ctx context.Context, worktreePath, branch string, cfg *execution.SandboxConfig) (*FinalizeResult, error) {
	result := &FinalizeResult{}

	err := m.pool.Run(ctx, func() error {
		dirty, err := git.HasChanges(ctx, m.runGit, worktreePath)
		if err != nil {
			return err
		}
		if !dirty {
			return nil
		}
		result.HasChanges = true

		if _, err := m.runGit(ctx, worktreePath, "add", "-A"); err != nil {
			return err
		}
		msg := fmt.Sprintf("Automated changes on %s", branch)
		if _, err := m.runGit(ctx, worktreePath, "commit", "-m", msg); err != nil {
			return err
		}
		hash, err := m.runGit(ctx, worktreePath, "rev-parse", "HEAD")
		if err != nil {
			return err
		}
		result.CommitHash = hash
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("finalize sandbox %s: %w", branch, err)
	}
	if !result.HasChanges {
		return result, nil
	}

	action := execution.FinalizeNone
	if cfg != nil && cfg.FinalizeAction != "" {
		action = cfg.FinalizeAction
	}

	switch action {
	case execution.FinalizeNone, execution.FinalizeCommit:
		return result, nil
	case execution.FinalizePush:
		m.push(ctx, worktreePath, branch, result)
	case execution.FinalizePR:
		if m.push(ctx, worktreePath, branch, result) {
			m.openPR(ctx, worktreePath, branch, cfg, result)
		}
	default:
		result.Warnings = append(result.Warnings, fmt.Sprintf("unknown finalize action %q", action))
	}
	return result, nil
}

// CleanupSandbox force-removes the worktree and best-effort deletes the
// local branch. A pushed remote branch survives for its PR.
func (m *SandboxManager) CleanupSandbox(ctx context.Context, projectPath, worktreePath, branch string) error {
	return m.pool.Run(ctx, func() error {
		if _, err := m.runGit(ctx, projectPath, "worktree", "remove", "--force", worktreePath); err != nil {
			return fmt.Errorf("remove worktree %s: %w", worktreePath, err)
		}
		if _, err := m.runGit(ctx, projectPath, "branch", "-D", branch); err != nil {
			m.log.Warn("could not delete sandbox branch", "branch", branch, "error", err)
		}
		return nil
	})
}

func (m *SandboxManager) push(ctx context.Context, worktreePath, branch string, result *FinalizeResult) bool {
	err := m.pool.Run(ctx, func() error {
		_, err := m.runGit(ctx, worktreePath, "push", "-u", "origin", branch)
		return err
	})
	if err != nil {
		m.log.Warn("sandbox push failed", "branch", branch, "error", err)
		result.Warnings = append(result.Warnings, fmt.Sprintf("push failed: %v", err))
		return false
	}
	result.Pushed = true
	return true
}

func (m *SandboxManager) openPR(ctx context.Context, worktreePath, branch string, cfg *execution.SandboxConfig, result *FinalizeResult) {
	base := m.cfg.BaseBranch
	if cfg != nil && cfg.BaseBranch != "" {
		base = cfg.BaseBranch
	}

	var url string
	err := m.pool.Run(ctx, func() error {
		out, err := m.runGH(ctx, worktreePath, "pr", "create",
			"--base", base,
			"--head", branch,
			"--title", fmt.Sprintf("Automated changes from %s", branch),
			"--body", "Opened by the orchestra execution engine.")
		url = out
		return err
	})
	if err != nil {
		m.log.Warn("sandbox PR creation failed", "branch", branch, "error", err)
		result.Warnings = append(result.Warnings, fmt.Sprintf("pr creation failed: %v", err))
		return
	}
	result.PRURL = strings.TrimSpace(url)
}

func (m *SandboxManager) branchName(nodeID, runID string) string {
	name := m.cfg.BranchPrefix + "/" + nodeID
	if runID != "" {
		name += "-" + strings.TrimPrefix(runID, "run-")
	}
	return fmt.Sprintf("%s-%d", name, time.Now().Unix())
}

// scratchRoot resolves the hidden scratch directory as a sibling of the
// project tree, so worktrees never shadow project files.
func (m *SandboxManager) scratchRoot(projectPath string) string {
	if filepath.IsAbs(m.cfg.ScratchDir) {
		return m.cfg.ScratchDir
	}
	return filepath.Join(filepath.Dir(projectPath), m.cfg.ScratchDir)
}
