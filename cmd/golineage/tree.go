package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/brunobiangulo/golineage/graph"
)

// printTree writes the ancestry of target top-down, one node per line,
// indented by depth from the roots. Nodes reached twice are marked "(seen)".
func printTree(w io.Writer, g graph.Graph, target string) error {
	keep := map[string]bool{target: true}
	for _, id := range graph.Upstream(g, target, -1) {
		keep[id] = true
	}

	adj := graph.Adjacency(g)
	hasParent := make(map[string]bool)
	for from, tos := range adj {
		if !keep[from] {
			continue
		}
		for _, to := range tos {
			hasParent[to] = true
		}
	}

	seen := make(map[string]bool)
	var walk func(id string, depth int) error
	walk = func(id string, depth int) error {
		label := id
		if n, ok := g.Node(id); ok && n.Type != "" {
			label = fmt.Sprintf("%s [%s]", id, n.Type)
		}
		if seen[id] {
			_, err := fmt.Fprintf(w, "%s%s (seen)\n", strings.Repeat("  ", depth), label)
			return err
		}
		seen[id] = true
		if _, err := fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), label); err != nil {
			return err
		}
		for _, child := range adj[id] {
			if keep[child] {
				if err := walk(child, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, n := range g.Lineage.Nodes {
		if keep[n.ID] && !hasParent[n.ID] {
			if err := walk(n.ID, 0); err != nil {
				return err
			}
		}
	}
	if !seen[target] {
		// Target sits on a cycle with no root above it.
		return walk(target, 0)
	}
	return nil
}
