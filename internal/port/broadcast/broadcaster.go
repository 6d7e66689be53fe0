// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// Event types emitted by the engine.
const (
	EventNodeStatus     = "node_status"
	EventSessionStatus  = "session_status"
	EventSessionOutput  = "session_output"
	EventCheckResult    = "check_result"
	EventApprovalNeeded = "approval_needed"
	EventRunFinished    = "run_finished"
)

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Multi fans one event out to several broadcasters, e.g. the WebSocket
// hub and the message broker at once.
type Multi []Broadcaster

func (m Multi) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	for _, b := range m {
		b.BroadcastEvent(ctx, eventType, payload)
	}
}
