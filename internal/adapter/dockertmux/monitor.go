package dockertmux

import (
	"context"
	"log/slog"
	"time"

	"github.com/philippe-eecs/orchestra/internal/port/broadcast"
)

// MonitorConfig tunes the background session monitor.
type MonitorConfig struct {
	PollInterval time.Duration
	// StaleThreshold is the number of consecutive unchanged captures
	// before input detection runs. With a 3s poll and threshold 2 this
	// triggers after roughly 6s of silence.
	StaleThreshold int
	// IdleTimeout stops a session whose output has not changed at all
	// for this long. Zero disables.
	IdleTimeout time.Duration
	// MaxLifetime stops any session older than this. Zero disables.
	MaxLifetime  time.Duration
	CaptureLines int
}

// Monitor watches detached sessions: it detects finished agents, dead
// sessions, input-waiting agents, and reaps abandoned containers.
type Monitor struct {
	log     *slog.Logger
	backend *Backend
	events  broadcast.Broadcaster
	cfg     MonitorConfig

	// OnFinished is called when a session's agent has finished or died.
	OnFinished func(ctx context.Context, sessionID string, exitCode int, output string)
}

// NewMonitor creates a monitor for the given backend.
func NewMonitor(log *slog.Logger, backend *Backend, events broadcast.Broadcaster, cfg MonitorConfig) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 2
	}
	if cfg.CaptureLines <= 0 {
		cfg.CaptureLines = 50
	}
	return &Monitor{log: log, backend: backend, events: events, cfg: cfg}
}

// Run polls until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	for _, tracked := range m.backend.Tracker().List() {
		m.pollSession(ctx, tracked)
	}
}

func (m *Monitor) pollSession(ctx context.Context, tracked Tracked) {
	status, err := m.backend.SessionStatus(ctx, tracked.ID)
	if err != nil {
		m.log.Warn("session status check failed", "session", tracked.ID, "error", err)
		return
	}

	// Session died out from under us (container stopped or removed).
	if !status.Alive {
		m.log.Info("detected dead session", "session", tracked.ID)
		m.backend.Tracker().Remove(tracked.ID)
		m.finish(ctx, tracked.ID, -1, "Session terminated")
		return
	}

	// Agent finished: exit sentinel written or inner session gone.
	if !status.AgentRunning {
		exitCode := -1
		if status.ExitCode != nil {
			exitCode = *status.ExitCode
		}
		m.log.Info("detected agent completion", "session", tracked.ID, "exit_code", exitCode)

		output, captureErr := m.backend.Output(ctx, tracked.ID, 1000)
		if captureErr != nil {
			output = ""
		}
		_ = m.backend.Stop(ctx, tracked.ID)
		m.finish(ctx, tracked.ID, exitCode, output)
		return
	}

	// Reaping: absolute lifetime, then idle timeout.
	now := time.Now()
	if m.cfg.MaxLifetime > 0 && now.Sub(tracked.CreatedAt) > m.cfg.MaxLifetime {
		m.log.Warn("stopping session past max lifetime", "session", tracked.ID)
		_ = m.backend.Stop(ctx, tracked.ID)
		m.finish(ctx, tracked.ID, -1, "Session exceeded maximum lifetime")
		return
	}

	output, err := m.backend.Output(ctx, tracked.ID, m.cfg.CaptureLines)
	if err != nil {
		m.log.Warn("pane capture failed", "session", tracked.ID, "error", err)
		return
	}

	update, ok := m.backend.Tracker().UpdateStaleness(tracked.ID, output)
	if !ok {
		return
	}

	if update.ClearedAwaitingInput && m.events != nil {
		m.events.BroadcastEvent(ctx, broadcast.EventSessionStatus, map[string]any{
			"session_id": tracked.ID,
			"state":      string(TrackedRunning),
		})
	}

	if m.cfg.IdleTimeout > 0 && update.IsStale {
		if current, ok := m.backend.Tracker().Get(tracked.ID); ok &&
			now.Sub(current.LastActivity) > m.cfg.IdleTimeout {
			m.log.Warn("stopping idle session", "session", tracked.ID)
			_ = m.backend.Stop(ctx, tracked.ID)
			m.finish(ctx, tracked.ID, -1, "Session idle timeout")
			return
		}
	}

	if update.State != TrackedRunning {
		return
	}
	if !update.IsStale || update.StaleCount < m.cfg.StaleThreshold {
		return
	}

	detection := DetectInputWaiting(output, tracked.Agent)
	if !detection.WaitingForInput {
		return
	}

	m.backend.Tracker().MarkAwaitingInput(tracked.ID, detection.DetectedQuestion)
	if m.events != nil {
		m.events.BroadcastEvent(ctx, broadcast.EventSessionStatus, map[string]any{
			"session_id": tracked.ID,
			"state":      string(TrackedAwaitingInput),
			"question":   detection.DetectedQuestion,
		})
	}
}

func (m *Monitor) finish(ctx context.Context, sessionID string, exitCode int, output string) {
	if m.events != nil {
		m.events.BroadcastEvent(ctx, broadcast.EventSessionStatus, map[string]any{
			"session_id": sessionID,
			"state":      "finished",
			"exit_code":  exitCode,
		})
	}
	if m.OnFinished != nil {
		m.OnFinished(ctx, sessionID, exitCode, output)
	}
}
