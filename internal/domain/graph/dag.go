package graph

// ReadyNodes returns the IDs of pending nodes whose every incoming edge's
// source node is completed.
func ReadyNodes(nodes []Node, edges []Edge) []string {
	completed := make(map[string]bool, len(nodes))
	for i := range nodes {
		if nodes[i].Status == NodeStatusCompleted {
			completed[nodes[i].ID] = true
		}
	}

	var ready []string
	for i := range nodes {
		if nodes[i].Status != NodeStatusPending {
			continue
		}
		allDepsComplete := true
		for _, e := range edges {
			if e.TargetID == nodes[i].ID && !completed[e.SourceID] {
				allDepsComplete = false
				break
			}
		}
		if allDepsComplete {
			ready = append(ready, nodes[i].ID)
		}
	}
	return ready
}

// RunningCount returns the number of nodes currently running.
func RunningCount(nodes []Node) int {
	count := 0
	for i := range nodes {
		if nodes[i].Status == NodeStatusRunning {
			count++
		}
	}
	return count
}

// AllTerminal returns true if every node is in a terminal state.
func AllTerminal(nodes []Node) bool {
	for i := range nodes {
		if !nodes[i].Status.IsTerminal() {
			return false
		}
	}
	return true
}

// AnyFailed returns true if at least one node has failed.
func AnyFailed(nodes []Node) bool {
	for i := range nodes {
		if nodes[i].Status == NodeStatusFailed {
			return true
		}
	}
	return false
}
