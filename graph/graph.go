package graph

import (
	"encoding/json"
	"fmt"
)

// Provenance tags that must prefix every explanation.
const (
	TagDirect   = "[direct]"
	TagReasoned = "[reasoned]"
	TagGeneral  = "[general]"
)

// Node is a single entity in a lineage graph.
type Node struct {
	ID          string   `json:"id"`
	Type        NodeType `json:"type"`
	Label       string   `json:"label,omitempty"`
	File        string   `json:"file,omitempty"`
	Description string   `json:"description,omitempty"`
	Explanation string   `json:"explanation"`
}

// Edge is a directed upstream-to-downstream link between two nodes.
type Edge struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Label       string `json:"label,omitempty"`
	Explanation string `json:"explanation"`
}

// Gap records a known incompleteness in a graph.
type Gap struct {
	Source      string `json:"source,omitempty"`
	Target      string `json:"target,omitempty"`
	Explanation string `json:"explanation"`
}

// MarshalJSON writes a gap that carries only an explanation as a bare string.
func (g Gap) MarshalJSON() ([]byte, error) {
	if g.Source == "" && g.Target == "" {
		return json.Marshal(g.Explanation)
	}
	type plain Gap
	return json.Marshal(plain(g))
}

// UnmarshalJSON accepts either a string or an object.
func (g *Gap) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*g = Gap{Explanation: s}
		return nil
	}
	type plain Gap
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decoding gap: %w", err)
	}
	*g = Gap(p)
	return nil
}

// Lineage holds the nodes, edges and gaps of a graph.
type Lineage struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
	Gaps  []Gap  `json:"gaps"`
}

// Graph is the lineage graph returned for one request. Graphs are treated as
// values: Normalize and Merge return new graphs and leave their inputs alone.
type Graph struct {
	Variable string  `json:"variable"`
	Dataset  string  `json:"dataset"`
	Summary  string  `json:"summary"`
	Lineage  Lineage `json:"lineage"`
}

// Target identifies the entity a graph was requested for.
type Target struct {
	ID   string
	Type NodeType
}

// Clone returns a deep copy of g.
func (g Graph) Clone() Graph {
	out := g
	out.Lineage.Nodes = append([]Node(nil), g.Lineage.Nodes...)
	out.Lineage.Edges = append([]Edge(nil), g.Lineage.Edges...)
	out.Lineage.Gaps = append([]Gap(nil), g.Lineage.Gaps...)
	return out
}

// Node returns the node with the given id, if present.
func (g Graph) Node(id string) (Node, bool) {
	for _, n := range g.Lineage.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// NodesOfType returns the nodes whose type is one of types, in graph order.
func (g Graph) NodesOfType(types ...NodeType) []Node {
	var out []Node
	for _, n := range g.Lineage.Nodes {
		for _, t := range types {
			if n.Type == t {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// WithGap returns a copy of g with gap appended.
func (g Graph) WithGap(gap Gap) Graph {
	out := g.Clone()
	out.Lineage.Gaps = append(out.Lineage.Gaps, gap)
	return out
}

// Single builds a one-node graph for target carrying the given explanation
// and gap. It is the shape returned when no evidence exists or a build fails.
func Single(variable, dataset, summary string, target Target, explanation string, gap Gap) Graph {
	return Graph{
		Variable: variable,
		Dataset:  dataset,
		Summary:  summary,
		Lineage: Lineage{
			Nodes: []Node{{ID: target.ID, Type: target.Type, Explanation: explanation}},
			Edges: []Edge{},
			Gaps:  []Gap{gap},
		},
	}
}

// Merge combines two graphs without modifying either. Nodes, edges and gaps
// are concatenated (a first); scalar fields come from a unless empty. The
// result is not normalized.
func Merge(a, b Graph) Graph {
	out := Graph{
		Variable: firstNonEmpty(a.Variable, b.Variable),
		Dataset:  firstNonEmpty(a.Dataset, b.Dataset),
		Summary:  firstNonEmpty(a.Summary, b.Summary),
	}
	out.Lineage.Nodes = make([]Node, 0, len(a.Lineage.Nodes)+len(b.Lineage.Nodes))
	out.Lineage.Nodes = append(append(out.Lineage.Nodes, a.Lineage.Nodes...), b.Lineage.Nodes...)
	out.Lineage.Edges = make([]Edge, 0, len(a.Lineage.Edges)+len(b.Lineage.Edges))
	out.Lineage.Edges = append(append(out.Lineage.Edges, a.Lineage.Edges...), b.Lineage.Edges...)
	out.Lineage.Gaps = make([]Gap, 0, len(a.Lineage.Gaps)+len(b.Lineage.Gaps))
	out.Lineage.Gaps = append(append(out.Lineage.Gaps, a.Lineage.Gaps...), b.Lineage.Gaps...)
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
