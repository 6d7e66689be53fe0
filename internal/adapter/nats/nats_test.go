package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/philippe-eecs/orchestra/internal/port/messagequeue"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Queue {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	q, err := Connect(context.Background(), url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := q.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return q
}

func TestQueuePublishSubscribe(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()

	want := messagequeue.SessionOutputPayload{SessionID: "s-test", Line: "hello"}
	data, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var mu sync.Mutex
	var got messagequeue.SessionOutputPayload
	received := make(chan struct{})

	cancel, err := q.Subscribe(ctx, messagequeue.SubjectSessionOutput,
		func(_ context.Context, _ string, data []byte) error {
			mu.Lock()
			defer mu.Unlock()
			if err := json.Unmarshal(data, &got); err != nil {
				return err
			}
			close(received)
			return nil
		})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if err := q.Publish(ctx, messagequeue.SubjectSessionOutput, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestQueuePublishRejectsInvalidPayload(t *testing.T) {
	q := testConnect(t)

	err := q.Publish(context.Background(), messagequeue.SubjectNodeStatus, []byte(`{broken`))
	if err == nil {
		t.Fatal("expected validation error for invalid JSON")
	}
}

// recordingQueue captures publishes for broadcaster tests; no server needed.
type recordingQueue struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (r *recordingQueue) Publish(_ context.Context, subject string, data []byte) error {
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, data)
	return r.err
}

func (r *recordingQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}
func (r *recordingQueue) Drain() error      { return nil }
func (r *recordingQueue) Close() error      { return nil }
func (r *recordingQueue) IsConnected() bool { return true }

func TestEventPublisherRoutesToSubject(t *testing.T) {
	t.Parallel()

	rec := &recordingQueue{}
	p := NewEventPublisher(slog.New(slog.DiscardHandler), rec)

	p.BroadcastEvent(context.Background(), "node_status",
		messagequeue.NodeStatusPayload{ProjectID: "p1", NodeID: "n1", Status: "running"})

	if len(rec.subjects) != 1 || rec.subjects[0] != messagequeue.SubjectNodeStatus {
		t.Fatalf("subjects = %v", rec.subjects)
	}
	var got messagequeue.NodeStatusPayload
	if err := json.Unmarshal(rec.payloads[0], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.NodeID != "n1" || got.Status != "running" {
		t.Errorf("payload = %+v", got)
	}
}

func TestEventPublisherSwallowsPublishErrors(t *testing.T) {
	t.Parallel()

	rec := &recordingQueue{err: context.DeadlineExceeded}
	p := NewEventPublisher(slog.New(slog.DiscardHandler), rec)

	// Must log and return, never panic or propagate.
	p.BroadcastEvent(context.Background(), "run_finished",
		messagequeue.RunFinishedPayload{ProjectID: "p1"})
}
