package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/philippe-eecs/orchestra/internal/port/broadcast"
	"github.com/philippe-eecs/orchestra/internal/port/messagequeue"
)

// EventPublisher bridges the broadcast port onto a message queue: every
// engine event is published to its runs.events.* subject. Publishing is
// fire-and-forget; failures are logged, never surfaced to the caller.
type EventPublisher struct {
	log   *slog.Logger
	queue messagequeue.Queue
}

var _ broadcast.Broadcaster = (*EventPublisher)(nil)

// NewEventPublisher creates a broadcaster publishing to the given queue.
func NewEventPublisher(log *slog.Logger, queue messagequeue.Queue) *EventPublisher {
	return &EventPublisher{log: log, queue: queue}
}

// BroadcastEvent publishes the payload to the event's subject.
func (p *EventPublisher) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("marshal event payload", "type", eventType, "error", err)
		return
	}
	subject := messagequeue.EventSubject(eventType)
	if err := p.queue.Publish(ctx, subject, data); err != nil {
		p.log.Error("publish event", "subject", subject, "error", err)
	}
}
