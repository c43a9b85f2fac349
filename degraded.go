package golineage

import (
	"github.com/brunobiangulo/golineage/graph"
	"github.com/brunobiangulo/golineage/prompt"
)

const (
	noEvidenceGap         = "No evidence found."
	targetOnlyExplanation = "[general] Target node added by post-processor."
	degradedExplanation   = "[general] Post-processing error; returning target only."
	degradedSummary       = "Lineage could not be built; returning the requested target only."
)

// noEvidenceGraph is the single-node graph returned when the session holds
// no evidence for the request.
func noEvidenceGraph(req Request, route Route, target graph.Target) graph.Graph {
	summary := "No session evidence (define, CRF index, protocol) available."
	switch route.Kind {
	case prompt.KindTableCell, prompt.KindTableDisplay:
		summary = "No session evidence (ARS/Protocol/CRF/USDM) available."
	case prompt.KindEndpoint:
		summary = "No session evidence (Protocol/USDM/CRF) available."
	}
	return graph.Single(req.Variable, req.Dataset, summary, target, targetOnlyExplanation,
		graph.Gap{Explanation: noEvidenceGap})
}

// degradedGraph is the single-node graph returned when a build fails.
func degradedGraph(req Request, target graph.Target, err error) graph.Graph {
	return graph.Single(req.Variable, req.Dataset, degradedSummary, target, degradedExplanation,
		graph.Gap{Explanation: err.Error()})
}

// NoEvidence returns the single-node graph for req when no session exists
// to collect evidence from.
func NoEvidence(req Request) graph.Graph {
	route := Classify(req.Dataset, req.Variable)
	target := newStrategies(DefaultConfig())[route.Kind].target(req)
	return noEvidenceGraph(req, route, target)
}
