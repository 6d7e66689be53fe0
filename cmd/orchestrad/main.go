// Command orchestrad is the orchestra execution engine daemon. It loads
// configuration, wires the storage, event, and backend adapters, and
// serves the engine entry points over HTTP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/philippe-eecs/orchestra/internal/adapter/checkverify"
	"github.com/philippe-eecs/orchestra/internal/adapter/critic"
	"github.com/philippe-eecs/orchestra/internal/adapter/dockerexec"
	"github.com/philippe-eecs/orchestra/internal/adapter/dockertmux"
	orchhttp "github.com/philippe-eecs/orchestra/internal/adapter/http"
	"github.com/philippe-eecs/orchestra/internal/adapter/localexec"
	"github.com/philippe-eecs/orchestra/internal/adapter/memstore"
	"github.com/philippe-eecs/orchestra/internal/adapter/modalexec"
	orchnats "github.com/philippe-eecs/orchestra/internal/adapter/nats"
	"github.com/philippe-eecs/orchestra/internal/adapter/natskv"
	"github.com/philippe-eecs/orchestra/internal/adapter/otel"
	"github.com/philippe-eecs/orchestra/internal/adapter/postgres"
	"github.com/philippe-eecs/orchestra/internal/adapter/ristretto"
	"github.com/philippe-eecs/orchestra/internal/adapter/sshexec"
	"github.com/philippe-eecs/orchestra/internal/adapter/tiered"
	"github.com/philippe-eecs/orchestra/internal/adapter/ws"
	"github.com/philippe-eecs/orchestra/internal/config"
	"github.com/philippe-eecs/orchestra/internal/logger"
	"github.com/philippe-eecs/orchestra/internal/port/broadcast"
	"github.com/philippe-eecs/orchestra/internal/port/cache"
	"github.com/philippe-eecs/orchestra/internal/port/database"
	"github.com/philippe-eecs/orchestra/internal/port/executor"
	"github.com/philippe-eecs/orchestra/internal/service"
)

func main() {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg, source, err := config.LoadWithCLI(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging)
	log.Info("config loaded", "source", source, "port", cfg.Server.Port)

	if err := run(cfg, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx := context.Background()

	// --- Telemetry ---
	otelShutdown, err := otel.Init(ctx, cfg.Logging.Service, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Warn("otel shutdown", "error", err)
		}
	}()

	var metrics *otel.Metrics
	if cfg.Telemetry.Enabled {
		metrics, err = otel.NewMetrics()
		if err != nil {
			return fmt.Errorf("otel metrics: %w", err)
		}
	}

	// --- Storage ---
	var store database.Store
	if cfg.Postgres.DSN == "" {
		log.Info("no postgres DSN configured, using in-memory store")
		store = memstore.New()
	} else {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		log.Info("postgres connected, migrations applied")
		store = postgres.NewStore(pool)
	}

	// --- Events ---
	hub := ws.NewHub(log)
	events := broadcast.Multi{hub}

	var queue *orchnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = orchnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
		events = append(events, orchnats.NewEventPublisher(log, queue))
		log.Info("nats connected", "url", cfg.NATS.URL)
	}

	// --- Output cache ---
	// Interactive backends poll tmux panes; a short-TTL cache bounds the
	// docker exec round-trips. With NATS present the local cache is
	// layered over a KV bucket shared with other consumers.
	outputs, err := outputCache(ctx, cfg, queue)
	if err != nil {
		return fmt.Errorf("output cache: %w", err)
	}

	// --- Execution backends ---
	localexec.Register(log, cfg.Executor.Timeout)
	dockerexec.Register(log, dockerexec.Defaults{
		Image:   cfg.Executor.DockerImage,
		Memory:  cfg.Executor.DockerMemory,
		CPUs:    cfg.Executor.DockerCPUs,
		Network: cfg.Executor.DockerNetwork,
	}, cfg.Executor.Timeout)

	// The monitor and the router must observe the same session tracker,
	// so one docker-interactive instance backs both.
	interactive := dockertmux.New(log, dockertmux.Options{
		Image:        cfg.Executor.DockerImage,
		CaptureLines: cfg.Sessions.CaptureLines,
		PollInterval: cfg.Sessions.PollInterval,
	}, outputs)
	executor.Register(interactive.Name(), func(_ map[string]string) (executor.Backend, error) {
		return interactive, nil
	})

	sshexec.Register(log, sshexec.Options{
		Image:        cfg.Executor.DockerImage,
		CaptureLines: cfg.Sessions.CaptureLines,
		PollInterval: cfg.Sessions.PollInterval,
	})
	modalexec.Register(log, modalexec.Options{
		Function: cfg.Executor.ModalFunction,
		Timeout:  cfg.Executor.Timeout,
		Limits:   modalexec.DefaultLimits,
	})

	// --- Engine ---
	verifier := checkverify.New(log)
	criticClient := critic.NewClient(cfg.Critic.URL, cfg.Critic.Model, log)
	engine := service.NewEngine(log, *cfg, store, events, verifier, criticClient, metrics)

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	monitor := dockertmux.NewMonitor(log, interactive, events, dockertmux.MonitorConfig{
		PollInterval:   cfg.Sessions.PollInterval,
		StaleThreshold: cfg.Sessions.StaleThreshold,
		IdleTimeout:    cfg.Sessions.IdleTimeout,
		MaxLifetime:    cfg.Sessions.MaxLifetime,
	})
	go monitor.Run(monitorCtx)

	// --- HTTP ---
	handlers := orchhttp.NewHandlers(log, engine, hub.HandleWS)
	router := orchhttp.NewRouter(log, handlers, cfg.Server.CORSOrigin)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No write timeout: /execute blocks for the lifetime of a
		// synchronous agent run.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down")
	stopMonitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// outputCache builds the pane-capture cache: ristretto locally, layered
// over a NATS KV bucket when a broker is configured.
func outputCache(ctx context.Context, cfg *config.Config, queue *orchnats.Queue) (cache.Cache, error) {
	local, err := ristretto.New(cfg.Sessions.OutputCacheMB << 20)
	if err != nil {
		return nil, err
	}
	if queue == nil {
		return local, nil
	}
	kv, err := queue.KeyValue(ctx, "session-output")
	if err != nil {
		return nil, err
	}
	return tiered.New(local, natskv.New(kv), 2*time.Second), nil
}
