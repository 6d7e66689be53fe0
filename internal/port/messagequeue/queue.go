// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// eventPrefix roots every engine event subject.
const eventPrefix = "runs.events."

// Subjects for the engine event stream. One subject per event type so
// consumers can filter without decoding payloads.
const (
	SubjectNodeStatus     = eventPrefix + "node_status"
	SubjectSessionStatus  = eventPrefix + "session_status"
	SubjectSessionOutput  = eventPrefix + "session_output"
	SubjectCheckResult    = eventPrefix + "check_result"
	SubjectApprovalNeeded = eventPrefix + "approval_needed"
	SubjectRunFinished    = eventPrefix + "run_finished"
)

// EventSubject maps a broadcast event type to its subject.
func EventSubject(eventType string) string {
	return eventPrefix + eventType
}
