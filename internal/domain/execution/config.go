// Package execution defines the ExecutionConfig attached to nodes and
// projects: which isolation backend runs the agent, and how.
package execution

import (
	"fmt"
	"time"
)

// Backend selects the isolation substrate that runs an agent CLI.
type Backend string

const (
	BackendLocal             Backend = "local"
	BackendDocker            Backend = "docker"
	BackendDockerInteractive Backend = "docker-interactive"
	BackendRemote            Backend = "remote"
	BackendModal             Backend = "modal"
)

// validBackends enumerates all valid backend values.
var validBackends = map[Backend]bool{
	BackendLocal:             true,
	BackendDocker:            true,
	BackendDockerInteractive: true,
	BackendRemote:            true,
	BackendModal:             true,
}

// FinalizeAction controls what happens to sandbox changes when a run ends.
type FinalizeAction string

const (
	FinalizeNone   FinalizeAction = "none"
	FinalizeCommit FinalizeAction = "commit"
	FinalizePush   FinalizeAction = "push"
	FinalizePR     FinalizeAction = "pr"
)

// DockerConfig holds container settings for the docker backends.
type DockerConfig struct {
	Image   string   `json:"image,omitempty" yaml:"image,omitempty"`
	Memory  string   `json:"memory,omitempty" yaml:"memory,omitempty"`
	CPUs    string   `json:"cpus,omitempty" yaml:"cpus,omitempty"`
	Network string   `json:"network,omitempty" yaml:"network,omitempty"`
	Mounts  []string `json:"mounts,omitempty" yaml:"mounts,omitempty"`
}

// RemoteConfig holds SSH settings for the remote backend.
type RemoteConfig struct {
	Host        string `json:"host" yaml:"host"`
	User        string `json:"user,omitempty" yaml:"user,omitempty"`
	Port        int    `json:"port,omitempty" yaml:"port,omitempty"`
	KeyPath     string `json:"key_path,omitempty" yaml:"key_path,omitempty"`
	SyncProject bool   `json:"sync_project,omitempty" yaml:"sync_project,omitempty"`
	ScratchPath string `json:"scratch_path,omitempty" yaml:"scratch_path,omitempty"`
}

// ModalConfig holds serverless settings for the modal backend.
type ModalConfig struct {
	Function string        `json:"function,omitempty" yaml:"function,omitempty"`
	GPU      string        `json:"gpu,omitempty" yaml:"gpu,omitempty"`
	MemoryMB int           `json:"memory_mb,omitempty" yaml:"memory_mb,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// SandboxConfig controls the git-worktree sandbox for a run.
type SandboxConfig struct {
	Enabled        bool           `json:"enabled" yaml:"enabled"`
	BaseBranch     string         `json:"base_branch,omitempty" yaml:"base_branch,omitempty"`
	FinalizeAction FinalizeAction `json:"finalize_action,omitempty" yaml:"finalize_action,omitempty"`
	Cleanup        bool           `json:"cleanup,omitempty" yaml:"cleanup,omitempty"`
}

// Config is the execution configuration attachable at node or project level.
type Config struct {
	Backend Backend        `json:"backend,omitempty" yaml:"backend,omitempty"`
	Docker  *DockerConfig  `json:"docker,omitempty" yaml:"docker,omitempty"`
	Remote  *RemoteConfig  `json:"remote,omitempty" yaml:"remote,omitempty"`
	Modal   *ModalConfig   `json:"modal,omitempty" yaml:"modal,omitempty"`
	Sandbox *SandboxConfig `json:"sandbox,omitempty" yaml:"sandbox,omitempty"`
}

// Validate checks the backend value and backend-specific requirements.
func (c *Config) Validate() error {
	if c.Backend != "" && !validBackends[c.Backend] {
		return fmt.Errorf("invalid backend %q", c.Backend)
	}
	if c.Backend == BackendRemote && (c.Remote == nil || c.Remote.Host == "") {
		return fmt.Errorf("remote backend requires a host")
	}
	return nil
}

// Resolve computes the effective config for a node: the node-level config
// overrides the project-level one field by field; the default backend is
// local.
func Resolve(node, project *Config) Config {
	eff := Config{Backend: BackendLocal}
	for _, c := range []*Config{project, node} {
		if c == nil {
			continue
		}
		if c.Backend != "" {
			eff.Backend = c.Backend
		}
		if c.Docker != nil {
			eff.Docker = c.Docker
		}
		if c.Remote != nil {
			eff.Remote = c.Remote
		}
		if c.Modal != nil {
			eff.Modal = c.Modal
		}
		if c.Sandbox != nil {
			eff.Sandbox = c.Sandbox
		}
	}
	return eff
}
