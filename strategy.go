package golineage

import (
	"fmt"
	"strings"

	"github.com/brunobiangulo/golineage/chunker"
	"github.com/brunobiangulo/golineage/evidence"
	"github.com/brunobiangulo/golineage/graph"
	"github.com/brunobiangulo/golineage/prompt"
	"github.com/brunobiangulo/golineage/retrieval"
)

// TargetKindStrategy parameterizes the shared pipeline for one target kind.
type TargetKindStrategy struct {
	Kind            prompt.Kind
	DefaultNodeType graph.NodeType
	Anchors         []string
	TopK            int
	MaxInputs       int
	MaxTokens       int
	Summary         string // used when the model returns no summary

	Evidence func(req Request) evidence.Selector
	TargetID func(req Request) string
	Query    func(targetID string) string
	Prompt   func(t prompt.Target, chunks []chunker.Chunk, opts prompt.Options) prompt.Messages
}

// target returns the requested entity with its node type.
func (s TargetKindStrategy) target(req Request) graph.Target {
	id := s.TargetID(req)
	t := s.DefaultNodeType
	if s.Kind == prompt.KindVariable {
		if inferred := graph.InferType(id); inferred != graph.TypeConcept {
			t = inferred
		}
	}
	return graph.Target{ID: id, Type: t}
}

func builder(kind prompt.Kind) func(prompt.Target, []chunker.Chunk, prompt.Options) prompt.Messages {
	return func(t prompt.Target, chunks []chunker.Chunk, opts prompt.Options) prompt.Messages {
		return prompt.Build(kind, t, chunks, opts)
	}
}

// newStrategies builds the strategy registry from the engine configuration.
func newStrategies(cfg Config) map[prompt.Kind]TargetKindStrategy {
	return map[prompt.Kind]TargetKindStrategy{
		prompt.KindVariable: {
			Kind:            prompt.KindVariable,
			DefaultNodeType: graph.TypeADaMVariable,
			Anchors:         retrieval.VariableAnchors,
			TopK:            cfg.TopK,
			MaxInputs:       cfg.MaxInputs,
			MaxTokens:       cfg.MaxTokens,
			Summary:         "Lineage assembled from define, CRF index and protocol evidence (session evidence).",
			Evidence:        func(Request) evidence.Selector { return evidence.SelectDefine() },
			TargetID:        variableTargetID,
			Query: func(id string) string {
				return fmt.Sprintf("Trace lineage for %s across Protocol→CRF→SDTM→ADaM→TLF.", id)
			},
			Prompt: builder(prompt.KindVariable),
		},
		prompt.KindEndpoint: {
			Kind:            prompt.KindEndpoint,
			DefaultNodeType: graph.TypeEndpoint,
			Anchors:         retrieval.EndpointAnchors,
			TopK:            cfg.TopK,
			MaxInputs:       cfg.MaxInputs,
			MaxTokens:       cfg.MaxTokens,
			Summary:         "Lineage assembled from protocol and study design evidence (session evidence).",
			Evidence:        func(Request) evidence.Selector { return evidence.SelectEndpoint() },
			TargetID:        func(req Request) string { return strings.TrimSpace(req.Variable) },
			Query: func(id string) string {
				return fmt.Sprintf("Trace endpoint %s from Protocol/USDM objectives and schedule of activities to CRF, SDTM, ADaM and TLF.", id)
			},
			Prompt: builder(prompt.KindEndpoint),
		},
		prompt.KindTableDisplay: {
			Kind:            prompt.KindTableDisplay,
			DefaultNodeType: graph.TypeTLFDisplay,
			Anchors:         retrieval.TableAnchors,
			TopK:            cfg.TopK,
			MaxInputs:       cfg.MaxInputs,
			MaxTokens:       cfg.MaxTokens,
			Summary:         "Lineage assembled for the display from session evidence.",
			Evidence: func(req Request) evidence.Selector {
				return evidence.SelectTable(strings.TrimSpace(req.Variable))
			},
			TargetID: func(req Request) string { return strings.TrimSpace(req.Variable) },
			Query: func(id string) string {
				return fmt.Sprintf("Locate TLF display %s: its ADaM datasets, variables, parameters and populations; anchor to Protocol/CRF if possible.", id)
			},
			Prompt: builder(prompt.KindTableDisplay),
		},
		prompt.KindTableCell: {
			Kind:            prompt.KindTableCell,
			DefaultNodeType: graph.TypeTLFCell,
			Anchors:         retrieval.TableAnchors,
			TopK:            cfg.CellTopK,
			MaxInputs:       cfg.CellMaxInputs,
			MaxTokens:       cfg.CellMaxTokens,
			Summary:         "Lineage assembled from ARS with Protocol/CRF/USDM anchors (session evidence).",
			Evidence: func(req Request) evidence.Selector {
				return evidence.SelectARSOnly(cellDisplayID(req.Variable))
			},
			TargetID: func(req Request) string { return strings.TrimSpace(req.Variable) },
			Query: func(id string) string {
				return fmt.Sprintf("Locate ARS slice for: %s. Map ADaM vars, operations, filters; anchor to Protocol/CRF if possible.", id)
			},
			Prompt: builder(prompt.KindTableCell),
		},
	}
}

// variableTargetID returns DATASET.VARIABLE upper-cased. A variable that is
// already qualified is kept as is.
func variableTargetID(req Request) string {
	ds := strings.ToUpper(strings.TrimSpace(req.Dataset))
	v := strings.ToUpper(strings.TrimSpace(req.Variable))
	if ds == "" || strings.Contains(v, ".") {
		return v
	}
	return ds + "." + v
}

// cellDisplayID returns the display segment of a cell spec.
func cellDisplayID(spec string) string {
	first, _, _ := strings.Cut(spec, "|")
	return strings.TrimSpace(first)
}
