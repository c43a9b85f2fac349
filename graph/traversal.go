package graph

// Adjacency returns the downstream neighbours of every node id, in edge
// order.
func Adjacency(g Graph) map[string][]string {
	adj := make(map[string][]string, len(g.Lineage.Nodes))
	for _, e := range g.Lineage.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}
	return adj
}

// Upstream walks edges backwards from id with BFS and returns every ancestor
// reachable within maxDepth hops. A negative maxDepth means unbounded.
func Upstream(g Graph, id string, maxDepth int) []string {
	parents := make(map[string][]string)
	for _, e := range g.Lineage.Edges {
		parents[e.To] = append(parents[e.To], e.From)
	}

	visited := map[string]bool{id: true}
	queue := []string{id}
	var out []string
	for depth := 0; len(queue) > 0 && (maxDepth < 0 || depth < maxDepth); depth++ {
		var next []string
		for _, cur := range queue {
			for _, p := range parents[cur] {
				if !visited[p] {
					visited[p] = true
					out = append(out, p)
					next = append(next, p)
				}
			}
		}
		queue = next
	}
	return out
}

// Linked reports whether any edge joins a node of type a with a node of
// type b, in either direction.
func Linked(g Graph, a, b NodeType) bool {
	types := nodeTypes(g)
	for _, e := range g.Lineage.Edges {
		from, to := types[e.From], types[e.To]
		if (from == a && to == b) || (from == b && to == a) {
			return true
		}
	}
	return false
}

// Unlinked returns the nodes of type t that share no edge with any node of
// type u.
func Unlinked(g Graph, t, u NodeType) []Node {
	types := nodeTypes(g)
	linked := make(map[string]bool)
	for _, e := range g.Lineage.Edges {
		if types[e.From] == t && types[e.To] == u {
			linked[e.From] = true
		}
		if types[e.To] == t && types[e.From] == u {
			linked[e.To] = true
		}
	}
	var out []Node
	for _, n := range g.Lineage.Nodes {
		if n.Type == t && !linked[n.ID] {
			out = append(out, n)
		}
	}
	return out
}

// HasSDTM reports whether the graph contains any SDTM dataset or variable.
func HasSDTM(g Graph) bool {
	for _, n := range g.Lineage.Nodes {
		if n.Type.IsSDTM() {
			return true
		}
	}
	return false
}

func nodeTypes(g Graph) map[string]NodeType {
	types := make(map[string]NodeType, len(g.Lineage.Nodes))
	for _, n := range g.Lineage.Nodes {
		types[n.ID] = n.Type
	}
	return types
}
