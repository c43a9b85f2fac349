package graph

import (
	"reflect"
	"strings"
	"testing"
)

func TestInferType(t *testing.T) {
	tests := []struct {
		id   string
		want NodeType
	}{
		{"ADSL.AGE", TypeADaMVariable},
		{"advs.aval", TypeADaMVariable},
		{"ADaM.ADVS.CHG", TypeADaMVariable},
		{"VS.VSORRES", TypeSDTMVariable},
		{"SDTM.DM.BRTHDTC", TypeSDTMVariable},
		{"ADSL", TypeADaMDataset},
		{"ars_vs_t01 | Week 4 | Placebo | mean", TypeTLFCell},
		{"CRF page 12 • VS.VSORRES", TypeConcept},
		{"Primary efficacy endpoint", TypeConcept},
	}
	for _, tt := range tests {
		if got := InferType(tt.id); got != tt.want {
			t.Errorf("InferType(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestCanonicalType(t *testing.T) {
	tests := map[string]NodeType{
		"table":         TypeTLFDisplay,
		"TLF":           TypeTLFDisplay,
		"display":       TypeTLFDisplay,
		"cell":          TypeTLFCell,
		"Output  Cell":  TypeTLFCell,
		"sap":           TypeProtocolSection,
		"protocol/sap":  TypeProtocolSection,
		"acrf":          TypeCRFPage,
		"crf":           TypeCRFPage,
		"target":        "",
		"variable":      "",
		"ADaM Variable": TypeADaMVariable,
		"made up":       "",

		"SdtmVariable":     TypeSDTMVariable,
		"CrfPage":          TypeCRFPage,
		"ProtocolSection":  TypeProtocolSection,
		"AdamDataset":      TypeADaMDataset,
		"ProtocolEndpoint": TypeProtocolEndpoint,
		"TlfCell":          TypeTLFCell,
		"SDTM-Variable":    TypeSDTMVariable,
		"sdtm_variable":    TypeSDTMVariable,
		"Concept":          "",
	}
	for in, want := range tests {
		if got := CanonicalType(in); got != want {
			t.Errorf("CanonicalType(%q) = %q, want %q", in, got, want)
		}
	}
}

func messyGraph() Graph {
	return Graph{
		Variable: "AGE",
		Dataset:  "ADSL",
		Lineage: Lineage{
			Nodes: []Node{
				{ID: "ADSL.AGE", Type: "target"},
				{ID: "adsl.age", Type: "adam variable", Label: "Age", Explanation: "[direct] ADSL define, AGE row."},
				{ID: "SDTM.DM.BRTHDTC", Type: "sdtm"},
				{ID: "DM.BRTHDTC", Type: "sdtm variable", Description: "Date of birth"},
				{ID: "Protocol 9.1", Type: "protocol/sap", Explanation: "Section 9.1 defines age"},
				{ID: "CRF page 3 • DM.BRTHDTC", Type: "acrf", Explanation: "[DIRECT] aCRF page 3"},
				{ID: "Target placeholder", Type: "concept", Explanation: "[general] Placeholder for requested target."},
				{ID: "  "},
			},
			Edges: []Edge{
				{From: "Protocol 9.1", To: "CRF page 3 • DM.BRTHDTC"},
				{From: "CRF page 3 • DM.BRTHDTC", To: "SDTM.DM.BRTHDTC"},
				{From: "DM.BRTHDTC", To: "adsl.age", Explanation: "derived from birth date"},
				{From: "dm.brthdtc", To: "ADSL.AGE", Label: "derived"},
				{From: "ADSL.AGE", To: "T14.1.1"},
				{From: "", To: "ADSL.AGE"},
			},
			Gaps: []Gap{{Explanation: "Reference date not cited."}},
		},
	}
}

func TestNormalizeMergesAndRemaps(t *testing.T) {
	target := Target{ID: "ADSL.AGE", Type: TypeADaMVariable}
	g := Normalize(messyGraph(), target)

	ids := make(map[string]Node)
	for _, n := range g.Lineage.Nodes {
		if _, dup := ids[n.ID]; dup {
			t.Fatalf("duplicate node id %q after normalize", n.ID)
		}
		ids[n.ID] = n
	}
	if len(g.Lineage.Nodes) != 4 {
		t.Errorf("nodes = %d, want 4: %+v", len(g.Lineage.Nodes), g.Lineage.Nodes)
	}

	age, ok := ids["ADSL.AGE"]
	if !ok {
		t.Fatal("target ADSL.AGE missing")
	}
	if age.Type != TypeADaMVariable {
		t.Errorf("ADSL.AGE type = %q", age.Type)
	}
	if age.Label != "Age" || !strings.HasPrefix(age.Explanation, TagDirect) {
		t.Errorf("ADSL.AGE did not absorb duplicate fields: %+v", age)
	}

	brth, ok := ids["SDTM.DM.BRTHDTC"]
	if !ok {
		t.Fatal("first occurrence id SDTM.DM.BRTHDTC should be canonical")
	}
	if brth.Type != TypeSDTMVariable || brth.Description != "Date of birth" {
		t.Errorf("BRTHDTC = %+v", brth)
	}
	if ids["Protocol 9.1"].Type != TypeProtocolSection {
		t.Errorf("protocol/sap not canonicalized: %q", ids["Protocol 9.1"].Type)
	}
	if ids["CRF page 3 • DM.BRTHDTC"].Type != TypeCRFPage {
		t.Errorf("acrf not canonicalized")
	}
	if !strings.HasPrefix(ids["CRF page 3 • DM.BRTHDTC"].Explanation, "[direct] ") {
		t.Errorf("tag case not normalized: %q", ids["CRF page 3 • DM.BRTHDTC"].Explanation)
	}
	if _, ok := ids["Target placeholder"]; ok {
		t.Error("edgeless placeholder node should be pruned")
	}

	if len(g.Lineage.Edges) != 3 {
		t.Fatalf("edges = %d, want 3: %+v", len(g.Lineage.Edges), g.Lineage.Edges)
	}
	merged := g.Lineage.Edges[2]
	if merged.From != "SDTM.DM.BRTHDTC" || merged.To != "ADSL.AGE" {
		t.Errorf("edge not remapped: %+v", merged)
	}
	if merged.Label != "derived" || merged.Explanation != "[reasoned] derived from birth date" {
		t.Errorf("parallel edges not merged: %+v", merged)
	}

	// One original gap plus one per dangling edge.
	if len(g.Lineage.Gaps) != 3 {
		t.Fatalf("gaps = %d, want 3: %+v", len(g.Lineage.Gaps), g.Lineage.Gaps)
	}
	if g.Lineage.Gaps[1].Source != "ADSL.AGE" || g.Lineage.Gaps[1].Target != "T14.1.1" {
		t.Errorf("dropped edge gap = %+v", g.Lineage.Gaps[1])
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	graphs := map[string]struct {
		g      Graph
		target Target
	}{
		"messy":   {messyGraph(), Target{ID: "ADSL.AGE", Type: TypeADaMVariable}},
		"empty":   {Graph{}, Target{ID: "VS.VSORRES", Type: TypeSDTMVariable}},
		"cell":    {Graph{Lineage: Lineage{Nodes: []Node{{ID: "ars_vs_t01|week 4|placebo|mean"}, {ID: "AVAL", Type: "adam variable"}, {ID: "ADVS", Type: "dataset"}}}}, Target{ID: "ars_vs_t01 | Week 4 | Placebo | mean", Type: TypeTLFCell}},
		"concept": {Graph{}, Target{ID: "ADSL.AGE", Type: TypeConcept}},
		"omitted": {omittedTargetGraph(), Target{ID: "ADSL.AGE", Type: TypeADaMVariable}},
		"enum":    {enumTypedGraph(), Target{ID: "ADSL.AGE", Type: TypeADaMVariable}},
		"prefix":  {Graph{Lineage: Lineage{
			Nodes: []Node{{ID: "ADSL", Type: "adam dataset"}, {ID: "adsl", Type: "adam dataset"}, {ID: "AGE", Type: "adam variable"}},
			Edges: []Edge{{From: "ADSL", To: "AGE"}, {From: "AGE", To: "missing"}},
		}}, Target{}},
	}
	for name, tc := range graphs {
		t.Run(name, func(t *testing.T) {
			once := Normalize(tc.g, tc.target)
			twice := Normalize(once, tc.target)
			if !reflect.DeepEqual(once, twice) {
				t.Errorf("normalize not idempotent\nonce:  %+v\ntwice: %+v", once, twice)
			}
		})
	}
}

func TestNormalizeAutoPrefix(t *testing.T) {
	g := Graph{Lineage: Lineage{
		Nodes: []Node{
			{ID: "ADVS", Type: "adam dataset"},
			{ID: "CHG", Type: "adam variable"},
			{ID: "VS.VSSTRESN", Type: "sdtm variable"},
		},
		Edges: []Edge{
			{From: "ADVS", To: "CHG"},
			{From: "VS.VSSTRESN", To: "chg"},
		},
	}}
	out := Normalize(g, Target{})
	if _, ok := out.Node("ADVS.CHG"); !ok {
		t.Fatalf("CHG not prefixed: %+v", out.Lineage.Nodes)
	}
	for _, e := range out.Lineage.Edges {
		if e.To != "ADVS.CHG" {
			t.Errorf("edge not rewritten: %+v", e)
		}
	}
	if len(out.Lineage.Gaps) != 0 {
		t.Errorf("unexpected gaps: %+v", out.Lineage.Gaps)
	}
}

func TestNormalizeAutoPrefixAmbiguous(t *testing.T) {
	g := Graph{Lineage: Lineage{
		Nodes: []Node{
			{ID: "ADVS", Type: "adam dataset"},
			{ID: "ADSL", Type: "adam dataset"},
			{ID: "TRT01A", Type: "adam variable"},
			{ID: "AVAL", Type: "adam variable"},
		},
		Edges: []Edge{{From: "ADSL", To: "TRT01A"}},
	}}
	out := Normalize(g, Target{})
	if _, ok := out.Node("ADSL.TRT01A"); !ok {
		t.Error("TRT01A should be prefixed through its dataset edge")
	}
	if _, ok := out.Node("AVAL"); !ok {
		t.Error("AVAL has two candidate datasets and should stay bare")
	}
}

func TestNormalizeEdgeIntegrity(t *testing.T) {
	g := Normalize(messyGraph(), Target{ID: "ADSL.AGE"})
	known := make(map[string]bool)
	for _, n := range g.Lineage.Nodes {
		known[n.ID] = true
	}
	for _, e := range g.Lineage.Edges {
		if !known[e.From] || !known[e.To] {
			t.Errorf("edge %+v references unknown node", e)
		}
	}
}

func TestNormalizeExplanationCompleteness(t *testing.T) {
	g := Normalize(messyGraph(), Target{ID: "ADSL.AGE"})
	tagged := func(s string) bool {
		return strings.HasPrefix(s, TagDirect) || strings.HasPrefix(s, TagReasoned) || strings.HasPrefix(s, TagGeneral)
	}
	for _, n := range g.Lineage.Nodes {
		if !tagged(n.Explanation) {
			t.Errorf("node %q explanation %q is not tagged", n.ID, n.Explanation)
		}
	}
	for _, e := range g.Lineage.Edges {
		if !tagged(e.Explanation) {
			t.Errorf("edge %s->%s explanation %q is not tagged", e.From, e.To, e.Explanation)
		}
	}
}

func TestNormalizeTargetGuarantee(t *testing.T) {
	g := Normalize(Graph{}, Target{ID: "ars_vs_t01 | Week 4 | Placebo | mean", Type: TypeTLFCell})
	if len(g.Lineage.Nodes) != 1 {
		t.Fatalf("nodes = %d, want 1", len(g.Lineage.Nodes))
	}
	n := g.Lineage.Nodes[0]
	if n.ID != "ars_vs_t01 | Week 4 | Placebo | mean" || n.Type != TypeTLFCell {
		t.Errorf("target node = %+v", n)
	}
	if !strings.HasPrefix(n.Explanation, TagGeneral) {
		t.Errorf("target placeholder explanation = %q", n.Explanation)
	}

	// A differently spaced copy from the model takes the requested id.
	g = Normalize(Graph{Lineage: Lineage{Nodes: []Node{{ID: "ars_vs_t01|Week 4|Placebo|mean"}}}},
		Target{ID: "ars_vs_t01 | Week 4 | Placebo | mean", Type: TypeTLFCell})
	if len(g.Lineage.Nodes) != 1 || g.Lineage.Nodes[0].ID != "ars_vs_t01 | Week 4 | Placebo | mean" {
		t.Errorf("nodes = %+v", g.Lineage.Nodes)
	}
}

// omittedTargetGraph links evidence into the target without listing the
// target among the nodes.
func omittedTargetGraph() Graph {
	return Graph{Lineage: Lineage{
		Nodes: []Node{{ID: "DM.BRTHDTC", Type: "sdtm variable"}},
		Edges: []Edge{{From: "DM.BRTHDTC", To: "adsl.age", Label: "derived"}},
	}}
}

func TestNormalizeEdgeIntoOmittedTarget(t *testing.T) {
	g := Normalize(omittedTargetGraph(), Target{ID: "ADSL.AGE", Type: TypeADaMVariable})

	if len(g.Lineage.Gaps) != 0 {
		t.Errorf("gaps = %+v, want none", g.Lineage.Gaps)
	}
	if len(g.Lineage.Edges) != 1 {
		t.Fatalf("edges = %+v, want the edge into the target", g.Lineage.Edges)
	}
	if e := g.Lineage.Edges[0]; e.From != "DM.BRTHDTC" || e.To != "ADSL.AGE" || e.Label != "derived" {
		t.Errorf("edge = %+v", e)
	}
	age, ok := g.Node("ADSL.AGE")
	if !ok {
		t.Fatalf("target missing: %+v", g.Lineage.Nodes)
	}
	if age.Type != TypeADaMVariable || age.Explanation != TargetPlaceholder {
		t.Errorf("target node = %+v", age)
	}
	if !Linked(g, TypeSDTMVariable, TypeADaMVariable) {
		t.Error("target cut off from its SDTM parent")
	}
}

func enumTypedGraph() Graph {
	return Graph{Lineage: Lineage{
		Nodes: []Node{
			{ID: "Protocol 9.1", Type: "ProtocolSection"},
			{ID: "CRF page 3", Type: "CrfPage"},
			{ID: "Birth date (DM)", Type: "SdtmVariable"},
			{ID: "ADSL", Type: "AdamDataset"},
			{ID: "ADSL.AGE", Type: "AdamVariable"},
		},
		Edges: []Edge{
			{From: "Protocol 9.1", To: "CRF page 3"},
			{From: "CRF page 3", To: "Birth date (DM)"},
			{From: "Birth date (DM)", To: "ADSL.AGE"},
			{From: "ADSL", To: "ADSL.AGE"},
		},
	}}
}

func TestNormalizeEnumCasedTypes(t *testing.T) {
	g := Normalize(enumTypedGraph(), Target{ID: "ADSL.AGE", Type: TypeADaMVariable})

	want := map[string]NodeType{
		"Protocol 9.1":    TypeProtocolSection,
		"CRF page 3":      TypeCRFPage,
		"Birth date (DM)": TypeSDTMVariable,
		"ADSL":            TypeADaMDataset,
		"ADSL.AGE":        TypeADaMVariable,
	}
	for id, typ := range want {
		n, ok := g.Node(id)
		if !ok {
			t.Errorf("node %q missing", id)
			continue
		}
		if n.Type != typ {
			t.Errorf("node %q type = %q, want %q", id, n.Type, typ)
		}
	}
	if !HasSDTM(g) || !Linked(g, TypeSDTMVariable, TypeADaMVariable) {
		t.Error("SDTM ancestry lost to type coercion")
	}
}

func TestNormalizeRepeatedInvalidEdgeOneGap(t *testing.T) {
	g := Normalize(Graph{Lineage: Lineage{
		Nodes: []Node{{ID: "VS.VSORRES", Type: "sdtm variable"}},
		Edges: []Edge{
			{From: "VS.VSORRES", To: "ADVS.AVAL"},
			{From: "vs.vsorres", To: "advs.aval", Label: "derived"},
			{From: "VS.VSORRES", To: "ADVS.CHG"},
		},
	}}, Target{})
	if len(g.Lineage.Gaps) != 2 {
		t.Fatalf("gaps = %+v, want one per distinct dropped edge", g.Lineage.Gaps)
	}
	if g.Lineage.Gaps[0].Target != "ADVS.AVAL" || g.Lineage.Gaps[1].Target != "ADVS.CHG" {
		t.Errorf("gaps = %+v", g.Lineage.Gaps)
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	in := messyGraph()
	before := in.Clone()
	_ = Normalize(in, Target{ID: "ADSL.AGE"})
	if !reflect.DeepEqual(in, before) {
		t.Error("Normalize mutated its input")
	}
}

func TestMerge(t *testing.T) {
	a := Graph{Variable: "AGE", Lineage: Lineage{Nodes: []Node{{ID: "A"}}, Edges: []Edge{{From: "A", To: "B"}}}}
	b := Graph{Variable: "X", Dataset: "ADSL", Summary: "s", Lineage: Lineage{Nodes: []Node{{ID: "B"}}, Gaps: []Gap{{Explanation: "g"}}}}
	aBefore, bBefore := a.Clone(), b.Clone()

	m := Merge(a, b)
	if m.Variable != "AGE" || m.Dataset != "ADSL" || m.Summary != "s" {
		t.Errorf("header = %q/%q/%q", m.Variable, m.Dataset, m.Summary)
	}
	if len(m.Lineage.Nodes) != 2 || len(m.Lineage.Edges) != 1 || len(m.Lineage.Gaps) != 1 {
		t.Errorf("merged lineage = %+v", m.Lineage)
	}
	m.Lineage.Nodes[0].ID = "changed"
	if !reflect.DeepEqual(a, aBefore) || !reflect.DeepEqual(b, bBefore) {
		t.Error("Merge shares or mutates input slices")
	}
}
