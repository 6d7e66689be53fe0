package service

import (
	"testing"

	"github.com/philippe-eecs/orchestra/internal/domain/graph"
	"github.com/philippe-eecs/orchestra/internal/domain/session"
)

func diamondProject() *graph.Project {
	return &graph.Project{
		ID:   "p1",
		Path: "/tmp/p1",
		Nodes: []graph.Node{
			{ID: "a", Prompt: "do a"},
			{ID: "b", Prompt: "do b"},
			{ID: "c", Prompt: "do c"},
			{ID: "d", Prompt: "do d"},
		},
		Edges: []graph.Edge{
			{SourceID: "a", TargetID: "b"},
			{SourceID: "a", TargetID: "c"},
			{SourceID: "b", TargetID: "d"},
			{SourceID: "c", TargetID: "d"},
		},
	}
}

func TestStateReadyNodesMarksRunning(t *testing.T) {
	t.Parallel()

	st := NewState()
	st.PutProject(diamondProject())
	if err := st.ResetNodes("p1"); err != nil {
		t.Fatal(err)
	}

	ready := st.ReadyNodes("p1")
	if len(ready) != 1 || ready[0].ID != "a" {
		t.Fatalf("first wave = %v, want just a", nodeIDs(ready))
	}

	// a is now running, so a second poll must not hand it out again.
	if again := st.ReadyNodes("p1"); len(again) != 0 {
		t.Fatalf("second poll returned %v, want none", nodeIDs(again))
	}

	if err := st.SetNodeStatus("p1", "a", graph.NodeStatusCompleted, "sess-a"); err != nil {
		t.Fatal(err)
	}
	wave := st.ReadyNodes("p1")
	if len(wave) != 2 {
		t.Fatalf("second wave = %v, want b and c", nodeIDs(wave))
	}
}

func TestStateForceFailNonTerminal(t *testing.T) {
	t.Parallel()

	st := NewState()
	st.PutProject(diamondProject())
	_ = st.ResetNodes("p1")

	_ = st.SetNodeStatus("p1", "a", graph.NodeStatusCompleted, "")
	sess := st.NewSession("p1", "b", "local")
	_ = st.SetNodeStatus("p1", "b", graph.NodeStatusRunning, sess.ID)

	failed := st.ForceFailNonTerminal("p1", "deadline exceeded")
	if len(failed) != 3 {
		t.Fatalf("force-failed %v, want b c d", failed)
	}

	allTerminal, anyFailed, running := st.RunProgress("p1")
	if !allTerminal || !anyFailed || running != 0 {
		t.Errorf("progress = terminal %v failed %v running %d", allTerminal, anyFailed, running)
	}

	got, _ := st.SessionSnapshot(sess.ID)
	if got.Status != session.StatusFailed || got.Error != "deadline exceeded" {
		t.Errorf("session = %s %q, want failed with reason", got.Status, got.Error)
	}
	if got.CompletedAt == nil {
		t.Error("force-failed session has no completion timestamp")
	}
}

func TestStateParentOutputs(t *testing.T) {
	t.Parallel()

	st := NewState()
	st.PutProject(diamondProject())

	st.SetOutput("b", "b says hi")
	// c completed but produced no output: absent from the map.

	outputs := st.ParentOutputs("p1", "d")
	if len(outputs) != 1 || outputs["b"] != "b says hi" {
		t.Errorf("parent outputs = %v", outputs)
	}
}

func TestStateSessionSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	st := NewState()
	st.PutProject(diamondProject())
	sess := st.NewSession("p1", "a", "local")

	snap, ok := st.SessionSnapshot(sess.ID)
	if !ok {
		t.Fatal("session not found")
	}
	snap.CheckResults["c1"] = session.CheckFailed

	fresh, _ := st.SessionSnapshot(sess.ID)
	if _, leaked := fresh.CheckResults["c1"]; leaked {
		t.Error("mutating a snapshot leaked into the state container")
	}
}

func TestStateResetClearsOutputs(t *testing.T) {
	t.Parallel()

	st := NewState()
	st.PutProject(diamondProject())
	_ = st.SetNodeStatus("p1", "a", graph.NodeStatusCompleted, "old-session")
	st.SetOutput("a", "stale")

	if err := st.ResetNodes("p1"); err != nil {
		t.Fatal(err)
	}

	if status, _ := st.NodeStatus("p1", "a"); status != graph.NodeStatusPending {
		t.Errorf("status after reset = %s", status)
	}
	if outputs := st.ParentOutputs("p1", "b"); len(outputs) != 0 {
		t.Errorf("stale outputs survived reset: %v", outputs)
	}
}

func nodeIDs(nodes []graph.Node) []string {
	ids := make([]string, len(nodes))
	for i := range nodes {
		ids[i] = nodes[i].ID
	}
	return ids
}
