package ws

import (
	"context"
	"log/slog"
	"testing"

	"github.com/philippe-eecs/orchestra/internal/port/broadcast"
)

func newTestHub() *Hub {
	return NewHub(slog.New(slog.DiscardHandler))
}

func TestNewHub(t *testing.T) {
	t.Parallel()

	hub := newTestHub()
	if hub.ConnectionCount() != 0 {
		t.Fatalf("connections = %d, want 0", hub.ConnectionCount())
	}
}

func TestBroadcastNoConnections(t *testing.T) {
	t.Parallel()

	hub := newTestHub()
	hub.Broadcast(context.Background(), Message{
		Type:    broadcast.EventNodeStatus,
		Payload: []byte(`{"node_id":"n1"}`),
	})
}

func TestBroadcastEventNoConnections(t *testing.T) {
	t.Parallel()

	hub := newTestHub()
	hub.BroadcastEvent(context.Background(), broadcast.EventNodeStatus, NodeStatusEvent{
		ProjectID: "p1",
		NodeID:    "n1",
		Status:    "completed",
	})
}

func TestBroadcastEventMarshalError(t *testing.T) {
	t.Parallel()

	// A channel cannot be marshaled to JSON; must log, not panic.
	newTestHub().BroadcastEvent(context.Background(), "bad", make(chan int))
}

func TestRemoveNonexistent(t *testing.T) {
	t.Parallel()

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	newTestHub().remove(&conn{cancel: cancel})
}
