package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "orchestra.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "ORCHESTRA_PORT")
	setString(&cfg.Server.CORSOrigin, "ORCHESTRA_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "ORCHESTRA_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "ORCHESTRA_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "ORCHESTRA_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "ORCHESTRA_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "ORCHESTRA_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "ORCHESTRA_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ORCHESTRA_LOG_SERVICE")

	setDuration(&cfg.Scheduler.NodeTimeout, "ORCHESTRA_NODE_TIMEOUT")
	setDuration(&cfg.Scheduler.ProjectDeadline, "ORCHESTRA_PROJECT_DEADLINE")
	setInt(&cfg.Scheduler.MaxIterations, "ORCHESTRA_MAX_ITERATIONS")
	setInt(&cfg.Scheduler.MaxParallel, "ORCHESTRA_MAX_PARALLEL")
	setDuration(&cfg.Scheduler.ApprovalTimeout, "ORCHESTRA_APPROVAL_TIMEOUT")

	setString(&cfg.Executor.DefaultBackend, "ORCHESTRA_DEFAULT_BACKEND")
	setDuration(&cfg.Executor.Timeout, "ORCHESTRA_EXEC_TIMEOUT")
	setString(&cfg.Executor.DockerImage, "ORCHESTRA_DOCKER_IMAGE")
	setString(&cfg.Executor.DockerMemory, "ORCHESTRA_DOCKER_MEMORY")
	setString(&cfg.Executor.DockerCPUs, "ORCHESTRA_DOCKER_CPUS")
	setString(&cfg.Executor.DockerNetwork, "ORCHESTRA_DOCKER_NETWORK")
	setString(&cfg.Executor.ModalFunction, "ORCHESTRA_MODAL_FUNCTION")

	setDuration(&cfg.Sessions.PollInterval, "ORCHESTRA_SESSION_POLL_INTERVAL")
	setInt(&cfg.Sessions.StaleThreshold, "ORCHESTRA_SESSION_STALE_THRESHOLD")
	setDuration(&cfg.Sessions.IdleTimeout, "ORCHESTRA_SESSION_IDLE_TIMEOUT")
	setDuration(&cfg.Sessions.MaxLifetime, "ORCHESTRA_SESSION_MAX_LIFETIME")
	setInt(&cfg.Sessions.CaptureLines, "ORCHESTRA_SESSION_CAPTURE_LINES")
	setInt64(&cfg.Sessions.OutputCacheMB, "ORCHESTRA_OUTPUT_CACHE_MB")

	setString(&cfg.Sandbox.BranchPrefix, "ORCHESTRA_SANDBOX_BRANCH_PREFIX")
	setString(&cfg.Sandbox.ScratchDir, "ORCHESTRA_SANDBOX_SCRATCH_DIR")
	setString(&cfg.Sandbox.BaseBranch, "ORCHESTRA_SANDBOX_BASE_BRANCH")

	setString(&cfg.Critic.URL, "ORCHESTRA_CRITIC_URL")
	setString(&cfg.Critic.Model, "ORCHESTRA_CRITIC_MODEL")

	setBool(&cfg.Telemetry.Enabled, "ORCHESTRA_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Scheduler.MaxIterations < 1 {
		return errors.New("scheduler.max_iterations must be >= 1")
	}
	if cfg.Scheduler.MaxParallel < 1 {
		return errors.New("scheduler.max_parallel must be >= 1")
	}
	if cfg.Executor.Timeout <= 0 {
		return errors.New("executor.timeout must be positive")
	}
	if cfg.Sessions.PollInterval <= 0 {
		return errors.New("sessions.poll_interval must be positive")
	}
	if cfg.Sessions.StaleThreshold < 1 {
		return errors.New("sessions.stale_threshold must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
