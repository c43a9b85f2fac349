package golineage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/golineage/chunker"
	"github.com/brunobiangulo/golineage/evidence"
	"github.com/brunobiangulo/golineage/graph"
	"github.com/brunobiangulo/golineage/prompt"
)

// errNoSupport marks an augmentation pass that found no evidence to work
// from.
var errNoSupport = errors.New("no supporting evidence in session")

// augmentation is one bounded model call that extends a graph.
type augmentation struct {
	name     string
	kind     prompt.Kind // selects the retriever and its anchors
	selector evidence.Selector
	query    string
	messages func([]chunker.Chunk) prompt.Messages
	gap      string // recorded with the cause when the pass fails
}

// augment runs at most one backtrace pass and, for table targets, one
// connectivity repair pass. Each pass merges its increment into the current
// graph and renormalizes.
func (e *engine) augment(ctx context.Context, sess evidence.Session, route Route, g graph.Graph, target graph.Target, res *Result) graph.Graph {
	opts := prompt.Options{EvidenceChars: e.cfg.EvidenceChars}

	if adam := ids(g.NodesOfType(graph.TypeADaMVariable)); len(adam) > 0 && !graph.HasSDTM(g) {
		var err error
		g, err = e.pass(ctx, sess, g, target, res, augmentation{
			name:     "backtrace",
			kind:     prompt.KindVariable,
			selector: evidence.SelectDefine(),
			query:    "SDTM sources, CRF pages and protocol anchors for " + strings.Join(adam, ", "),
			messages: func(c []chunker.Chunk) prompt.Messages { return prompt.Backtrace(adam, c, opts) },
			gap:      "SDTM ancestry unresolved for " + strings.Join(adam, ", "),
		})
		if err == nil && !graph.HasSDTM(g) {
			g = g.WithGap(graph.Gap{Explanation: fmt.Sprintf(
				"SDTM ancestry unresolved for %s: no SDTM source supported by the evidence.", strings.Join(adam, ", "))})
		}
	}

	if route.Kind != prompt.KindTableCell && route.Kind != prompt.KindTableDisplay {
		return g
	}
	sdtm := ids(g.NodesOfType(graph.TypeSDTMVariable))
	if len(sdtm) == 0 || graph.Linked(g, graph.TypeSDTMVariable, graph.TypeADaMVariable) {
		return g
	}
	adam := ids(g.NodesOfType(graph.TypeADaMVariable))
	g, _ = e.pass(ctx, sess, g, target, res, augmentation{
		name:     "connectivity",
		kind:     prompt.KindTableCell,
		selector: evidence.SelectARSOnly(cellDisplayID(target.ID)),
		query:    "Link SDTM variables " + strings.Join(sdtm, ", ") + " to ADaM variables",
		messages: func(c []chunker.Chunk) prompt.Messages { return prompt.ConnectivityRepair(sdtm, adam, c, opts) },
		gap:      "SDTM to ADaM connectivity unresolved",
	})

	// Orphan SDTM variables are explained, never left silent.
	for _, n := range graph.Unlinked(g, graph.TypeSDTMVariable, graph.TypeADaMVariable) {
		g = g.WithGap(graph.Gap{
			Source:      n.ID,
			Explanation: "SDTM variable not connected to any ADaM variable in the evidence.",
		})
	}
	return graph.Normalize(g, target)
}

// pass runs a single augmentation. On failure the base graph is returned
// with a gap carrying the cause.
func (e *engine) pass(ctx context.Context, sess evidence.Session, base graph.Graph, target graph.Target, res *Result, a augmentation) (graph.Graph, error) {
	inc, err := e.increment(ctx, sess, base, a, res)
	if err != nil {
		slog.Warn("lineage: augmentation failed", "run_id", res.RunID, "pass", a.name, "error", err)
		return base.WithGap(graph.Gap{Explanation: fmt.Sprintf("%s: %v.", a.gap, err)}), err
	}
	merged := graph.Normalize(graph.Merge(base, inc), target)
	slog.Info("lineage: augmentation merged", "run_id", res.RunID, "pass", a.name,
		"added_nodes", len(merged.Lineage.Nodes)-len(base.Lineage.Nodes),
		"added_edges", len(merged.Lineage.Edges)-len(base.Lineage.Edges))
	return merged, nil
}

func (e *engine) increment(ctx context.Context, sess evidence.Session, base graph.Graph, a augmentation, res *Result) (graph.Graph, error) {
	chunks, err := e.chunks(ctx, sess, a.selector)
	if err != nil {
		return graph.Graph{}, err
	}
	if len(chunks) == 0 {
		return graph.Graph{}, errNoSupport
	}
	strat := e.strategies[a.kind]
	top, _, err := e.retrievers[a.kind].Retrieve(ctx, chunks, a.query, strat.TopK, strat.Anchors)
	if err != nil {
		return graph.Graph{}, fmt.Errorf("retrieving evidence: %w", err)
	}
	return e.complete(ctx, a.messages(top), strat.MaxTokens, Request{Dataset: base.Dataset, Variable: base.Variable}, res)
}

func ids(nodes []graph.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}
