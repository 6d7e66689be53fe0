// Package config provides hierarchical configuration loading for the
// orchestra engine. Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the orchestra service.
type Config struct {
	Server    Server    `yaml:"server"`
	Postgres  Postgres  `yaml:"postgres"`
	NATS      NATS      `yaml:"nats"`
	Logging   Logging   `yaml:"logging"`
	Scheduler Scheduler `yaml:"scheduler"`
	Executor  Executor  `yaml:"executor"`
	Sessions  Sessions  `yaml:"sessions"`
	Sandbox   Sandbox   `yaml:"sandbox"`
	Critic    Critic    `yaml:"critic"`
	Telemetry Telemetry `yaml:"telemetry"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Postgres holds PostgreSQL connection configuration. An empty DSN selects
// the in-memory store.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds NATS JetStream configuration. An empty URL disables the
// broker; events still flow to WebSocket clients.
type NATS struct {
	URL string `yaml:"url"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Scheduler holds DAG run configuration.
type Scheduler struct {
	NodeTimeout     time.Duration `yaml:"node_timeout"`
	ProjectDeadline time.Duration `yaml:"project_deadline"`
	MaxIterations   int           `yaml:"max_iterations"`
	MaxParallel     int           `yaml:"max_parallel"`
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`
}

// Executor holds backend execution configuration.
type Executor struct {
	DefaultBackend string        `yaml:"default_backend"`
	Timeout        time.Duration `yaml:"timeout"`
	DockerImage    string        `yaml:"docker_image"`
	DockerMemory   string        `yaml:"docker_memory"`
	DockerCPUs     string        `yaml:"docker_cpus"`
	DockerNetwork  string        `yaml:"docker_network"`
	ModalFunction  string        `yaml:"modal_function"`
}

// Sessions holds detached session monitoring configuration.
type Sessions struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	StaleThreshold int           `yaml:"stale_threshold"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxLifetime    time.Duration `yaml:"max_lifetime"`
	CaptureLines   int           `yaml:"capture_lines"`
	OutputCacheMB  int64         `yaml:"output_cache_mb"`
}

// Sandbox holds git-worktree sandbox configuration.
type Sandbox struct {
	BranchPrefix string `yaml:"branch_prefix"`
	ScratchDir   string `yaml:"scratch_dir"`
	BaseBranch   string `yaml:"base_branch"`
}

// Critic holds LLM critic configuration. The endpoint speaks the
// OpenAI-compatible chat completions protocol.
type Critic struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`
}

// Telemetry holds OpenTelemetry exporter configuration.
type Telemetry struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Postgres: Postgres{
			DSN:             "",
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			URL: "",
		},
		Logging: Logging{
			Level:   "info",
			Service: "orchestra",
		},
		Scheduler: Scheduler{
			NodeTimeout:     30 * time.Minute,
			ProjectDeadline: 4 * time.Hour,
			MaxIterations:   100,
			MaxParallel:     4,
			ApprovalTimeout: time.Hour,
		},
		Executor: Executor{
			DefaultBackend: "local",
			Timeout:        10 * time.Minute,
			DockerImage:    "orchestra-agent:latest",
			DockerMemory:   "4g",
			DockerCPUs:     "2",
			DockerNetwork:  "bridge",
			ModalFunction:  "orchestra_runner.py::run_agent",
		},
		Sessions: Sessions{
			PollInterval:   3 * time.Second,
			StaleThreshold: 2,
			IdleTimeout:    30 * time.Minute,
			MaxLifetime:    4 * time.Hour,
			CaptureLines:   200,
			OutputCacheMB:  64,
		},
		Sandbox: Sandbox{
			BranchPrefix: "orchestra",
			ScratchDir:   ".orchestra-worktrees",
			BaseBranch:   "main",
		},
		Critic: Critic{
			URL:   "http://localhost:4000",
			Model: "gpt-4o-mini",
		},
		Telemetry: Telemetry{
			Enabled:  false,
			Endpoint: "localhost:4317",
		},
	}
}
