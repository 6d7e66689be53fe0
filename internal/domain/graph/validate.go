package graph

import "fmt"

// Validate checks structural integrity of a project graph: unique node ids,
// edges referencing existing nodes, and an acyclic edge set. A cyclic graph
// is rejected up front so a run fails fast with a clear diagnostic instead
// of burning through the scheduler's iteration cap.
func (p *Project) Validate() error {
	seen := make(map[string]bool, len(p.Nodes))
	for i := range p.Nodes {
		id := p.Nodes[i].ID
		if id == "" {
			return fmt.Errorf("node %d: id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("duplicate node id %q", id)
		}
		seen[id] = true
	}

	for _, e := range p.Edges {
		if !seen[e.SourceID] {
			return fmt.Errorf("edge %s->%s: unknown source node", e.SourceID, e.TargetID)
		}
		if !seen[e.TargetID] {
			return fmt.Errorf("edge %s->%s: unknown target node", e.SourceID, e.TargetID)
		}
	}

	return checkAcyclic(p.Nodes, p.Edges)
}

// checkAcyclic runs Kahn's algorithm; if not every node can be ordered,
// the leftover nodes form at least one cycle.
func checkAcyclic(nodes []Node, edges []Edge) error {
	inDegree := make(map[string]int, len(nodes))
	children := make(map[string][]string, len(nodes))
	for i := range nodes {
		inDegree[nodes[i].ID] = 0
	}
	for _, e := range edges {
		inDegree[e.TargetID]++
		children[e.SourceID] = append(children[e.SourceID], e.TargetID)
	}

	var queue []string
	for i := range nodes {
		if inDegree[nodes[i].ID] == 0 {
			queue = append(queue, nodes[i].ID)
		}
	}

	ordered := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered++
		for _, child := range children[id] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if ordered != len(nodes) {
		var stuck []string
		for id, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		return fmt.Errorf("graph has a cycle involving %d node(s) %v", len(stuck), stuck)
	}
	return nil
}
