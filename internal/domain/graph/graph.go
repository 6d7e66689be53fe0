// Package graph defines the Project, Node, and Edge entities that make up a
// unit-of-work graph: each node is a prompt destined for one coding-agent CLI.
package graph

import "github.com/philippe-eecs/orchestra/internal/domain/execution"

// NodeStatus represents the persisted execution state of a node.
// The enum is deliberately minimal and closed; richer presentation
// states are derived outside the engine.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
)

// IsTerminal returns true if the node is in a final state.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusFailed
}

// ContextRefKind discriminates the ContextRef variants.
type ContextRefKind string

const (
	ContextFile         ContextRefKind = "file"
	ContextURL          ContextRefKind = "url"
	ContextParentOutput ContextRefKind = "parent_output"
	ContextMarkdown     ContextRefKind = "markdown"
)

// ContextRef declares one input to splice into a node's prompt.
// Exactly one of Path/URL/NodeID/Content is meaningful, per Kind.
type ContextRef struct {
	Kind    ContextRefKind `json:"kind" yaml:"kind"`
	Path    string         `json:"path,omitempty" yaml:"path,omitempty"`
	URL     string         `json:"url,omitempty" yaml:"url,omitempty"`
	NodeID  string         `json:"node_id,omitempty" yaml:"node_id,omitempty"`
	Content string         `json:"content,omitempty" yaml:"content,omitempty"`
}

// DeliverableKind discriminates the Deliverable variants.
type DeliverableKind string

const (
	DeliverableFile     DeliverableKind = "file"
	DeliverableResponse DeliverableKind = "response"
	DeliverablePR       DeliverableKind = "pr"
	DeliverableEdit     DeliverableKind = "edit"
)

// Deliverable is a declared expected output artifact of a node. The ID is
// stable: edges and per-session status tracking reference it.
type Deliverable struct {
	ID          string          `json:"id" yaml:"id"`
	Kind        DeliverableKind `json:"kind" yaml:"kind"`
	Path        string          `json:"path,omitempty" yaml:"path,omitempty"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Repo        string          `json:"repo,omitempty" yaml:"repo,omitempty"`
	URL         string          `json:"url,omitempty" yaml:"url,omitempty"`
}

// CheckKind discriminates the Check variants.
type CheckKind string

const (
	CheckFileExists    CheckKind = "file_exists"
	CheckCommand       CheckKind = "command"
	CheckContains      CheckKind = "contains"
	CheckHumanApproval CheckKind = "human_approval"
	CheckLLMCritic     CheckKind = "llm_critic"
	CheckTestRunner    CheckKind = "test_runner"
	CheckEvalBaseline  CheckKind = "eval_baseline"
)

// DefaultMaxRetries is applied when a check enables AutoRetry without a cap.
const DefaultMaxRetries = 3

// maxRetriesCeiling bounds user-supplied retry caps.
const maxRetriesCeiling = 10

// Check is a verification rule gating whether a session counts as successful.
type Check struct {
	ID         string    `json:"id" yaml:"id"`
	Kind       CheckKind `json:"kind" yaml:"kind"`
	Path       string    `json:"path,omitempty" yaml:"path,omitempty"`
	Cmd        string    `json:"cmd,omitempty" yaml:"cmd,omitempty"`
	Pattern    string    `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Framework  string    `json:"framework,omitempty" yaml:"framework,omitempty"`
	Criteria   string    `json:"criteria,omitempty" yaml:"criteria,omitempty"`
	Baseline   string    `json:"baseline,omitempty" yaml:"baseline,omitempty"`
	AutoRetry  bool      `json:"auto_retry,omitempty" yaml:"auto_retry,omitempty"`
	MaxRetries int       `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

// RetryPolicy returns the effective (autoRetry, maxRetries) for the check.
// Human approval is never auto-retried.
func (c Check) RetryPolicy() (bool, int) {
	if c.Kind == CheckHumanApproval {
		return false, 0
	}
	max := c.MaxRetries
	if max <= 0 {
		max = DefaultMaxRetries
	}
	if max > maxRetriesCeiling {
		max = maxRetriesCeiling
	}
	return c.AutoRetry, max
}

// AgentConfig selects the agent CLI and its model parameters for a node.
type AgentConfig struct {
	Type            string `json:"type" yaml:"type"`
	Model           string `json:"model,omitempty" yaml:"model,omitempty"`
	ReasoningEffort string `json:"reasoning_effort,omitempty" yaml:"reasoning_effort,omitempty"`
	ThinkingBudget  int    `json:"thinking_budget,omitempty" yaml:"thinking_budget,omitempty"`
}

// Node is one unit of work in the graph.
type Node struct {
	ID           string            `json:"id" yaml:"id"`
	Title        string            `json:"title" yaml:"title"`
	Prompt       string            `json:"prompt" yaml:"prompt"`
	Agent        AgentConfig       `json:"agent" yaml:"agent"`
	Context      []ContextRef      `json:"context,omitempty" yaml:"context,omitempty"`
	Deliverables []Deliverable     `json:"deliverables,omitempty" yaml:"deliverables,omitempty"`
	Checks       []Check           `json:"checks,omitempty" yaml:"checks,omitempty"`
	Execution    *execution.Config `json:"execution,omitempty" yaml:"execution,omitempty"`

	Status    NodeStatus `json:"status"`
	SessionID string     `json:"session_id,omitempty"`
}

// Edge is a dependency: Source must complete before Target may start.
// SourceDeliverableID optionally names which deliverable the target consumes.
type Edge struct {
	SourceID            string `json:"source_id" yaml:"source_id"`
	TargetID            string `json:"target_id" yaml:"target_id"`
	SourceDeliverableID string `json:"source_deliverable_id,omitempty" yaml:"source_deliverable_id,omitempty"`
}

// Project owns its nodes and edges exclusively.
type Project struct {
	ID        string            `json:"id" yaml:"id"`
	Name      string            `json:"name,omitempty" yaml:"name,omitempty"`
	Path      string            `json:"path,omitempty" yaml:"path,omitempty"`
	Nodes     []Node            `json:"nodes" yaml:"nodes"`
	Edges     []Edge            `json:"edges,omitempty" yaml:"edges,omitempty"`
	Execution *execution.Config `json:"execution,omitempty" yaml:"execution,omitempty"`
}

// Node returns the node with the given id, or nil.
func (p *Project) Node(id string) *Node {
	for i := range p.Nodes {
		if p.Nodes[i].ID == id {
			return &p.Nodes[i]
		}
	}
	return nil
}

// ParentIDs returns the ids of all nodes with an edge into nodeID,
// in edge-declaration order.
func (p *Project) ParentIDs(nodeID string) []string {
	var parents []string
	for _, e := range p.Edges {
		if e.TargetID == nodeID {
			parents = append(parents, e.SourceID)
		}
	}
	return parents
}
