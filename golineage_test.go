package golineage_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/golineage"
	"github.com/brunobiangulo/golineage/evidence"
	"github.com/brunobiangulo/golineage/graph"
	"github.com/brunobiangulo/golineage/llm"
	"github.com/brunobiangulo/golineage/prompt"
	"github.com/brunobiangulo/golineage/store"
)

// fakeProvider answers chat calls through a reply function and embeds text
// into a small deterministic vector.
type fakeProvider struct {
	mu    sync.Mutex
	reply func(req llm.ChatRequest) (string, error)
	calls []llm.ChatRequest
}

func (f *fakeProvider) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	content, err := f.reply(req)
	if err != nil {
		return nil, err
	}
	return &llm.ChatResponse{
		Content:          content,
		Model:            req.Model,
		PromptTokens:     100,
		CompletionTokens: 20,
		TotalTokens:      120,
	}, nil
}

func (f *fakeProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{1, float32(len(t) % 7), float32(strings.Count(t, "."))}
	}
	return out, nil
}

func (f *fakeProvider) Calls() []llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.ChatRequest(nil), f.calls...)
}

func system(req llm.ChatRequest) string {
	return req.Messages[0].Content
}

func newEngine(t *testing.T, fp *fakeProvider, mutate ...func(*golineage.Config)) golineage.Engine {
	t.Helper()
	cfg := golineage.DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.Persist = false
	for _, m := range mutate {
		m(&cfg)
	}
	eng, err := golineage.New(cfg, golineage.WithProviders(fp, fp))
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

func newSession(t *testing.T, files map[string]string) evidence.Session {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "session_20260301_120000")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return evidence.Session{ID: filepath.Base(dir), Dir: dir}
}

const defineSummary = `{
  "metadata": {"sourceFiles": [{"id": "f1", "filename": "define.xml", "type": "define"}]},
  "standards": {
    "ADaM": {"datasetEntities": {"ADSL": {"sourceFiles": [{"fileId": "f1", "role": "primary"}]}}},
    "CRF": {"datasetEntities": {"aCRF": {"metadata": {"varIndexCsv": "crf_index.csv"}}}}
  }
}`

func defineSession(t *testing.T) evidence.Session {
	return newSession(t, map[string]string{
		evidence.SummaryFile: defineSummary,
		"define.xml": `<ItemDef OID="IT.ADSL.AGE" Name="AGE"><Description>Age</Description>` +
			`<def:Origin Type="Derived"><Description>ADSL.AGE is derived from DM.BRTHDTC and DM.RFSTDTC.</Description></def:Origin></ItemDef>`,
		"crf_index.csv": "var,page,context\nDM.BRTHDTC,2,Date of birth\n",
	})
}

func nodeByID(g graph.Graph, id string) (graph.Node, bool) {
	return g.Node(id)
}

func hasEdge(g graph.Graph, from, to string) bool {
	for _, e := range g.Lineage.Edges {
		if e.From == from && e.To == to {
			return true
		}
	}
	return false
}

func gapTexts(g graph.Graph) []string {
	out := make([]string, len(g.Lineage.Gaps))
	for i, gp := range g.Lineage.Gaps {
		out[i] = gp.Explanation
	}
	return out
}

// ---------------------------------------------------------------------------
// End-to-end scenarios
// ---------------------------------------------------------------------------

func TestTrace_VariableLineage(t *testing.T) {
	fp := &fakeProvider{reply: func(llm.ChatRequest) (string, error) {
		return "```json\n" + `{
  "variable": "AGE", "dataset": "ADSL", "summary": "AGE is derived from birth date.",
  "lineage": {
    "nodes": [
      {"id": "ADSL.AGE", "type": "adam variable", "explanation": "[direct] define.xml origin."},
      {"id": "DM.BRTHDTC", "type": "SDTM", "explanation": "[direct] derived from DM.BRTHDTC"}
    ],
    "edges": [{"from": "DM.BRTHDTC", "to": "ADSL.AGE", "explanation": "[direct] derived from"}],
    "gaps": []
  }
}` + "\n```", nil
	}}
	eng := newEngine(t, fp)

	res, err := eng.Trace(context.Background(), defineSession(t), golineage.Request{Dataset: "adsl", Variable: "age"})
	require.NoError(t, err)

	assert.False(t, res.Degraded)
	assert.Equal(t, prompt.KindVariable, res.Route.Kind)
	assert.Equal(t, "ADSL.AGE", res.TargetID)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "gpt-4o", res.Model)
	assert.Equal(t, 120, res.Tokens.Total)
	require.NotNil(t, res.Trace)
	assert.Positive(t, res.Trace.Candidates)

	g := res.Graph
	age, ok := nodeByID(g, "ADSL.AGE")
	require.True(t, ok)
	assert.Equal(t, graph.TypeADaMVariable, age.Type)
	dm, ok := nodeByID(g, "DM.BRTHDTC")
	require.True(t, ok)
	assert.Equal(t, graph.TypeSDTMVariable, dm.Type)
	assert.True(t, hasEdge(g, "DM.BRTHDTC", "ADSL.AGE"))
	assert.Equal(t, "AGE is derived from birth date.", g.Summary)

	// SDTM ancestry is present, so no augmentation call is made.
	assert.Len(t, fp.Calls(), 1)
	user := fp.Calls()[0].Messages[1].Content
	assert.Contains(t, user, "ADSL.AGE")
	assert.Contains(t, user, "[CHUNK ")
	assert.Equal(t, "json_object", fp.Calls()[0].ResponseFormat)
}

func TestTrace_CellSpecWithAnalysisResultsOnly(t *testing.T) {
	spec := "ars_vs_t01 | Week 4 | Placebo | mean"
	fp := &fakeProvider{reply: func(req llm.ChatRequest) (string, error) {
		return `{"summary": "Mean AVAL at Week 4 for placebo.", "lineage": {
  "nodes": [
    {"id": "` + spec + `", "type": "cell"},
    {"id": "ADVS.AVAL", "type": "adam variable", "explanation": "[direct] ARS operation mean on AVAL"},
    {"id": "ADVS.AVISIT", "type": "adam variable", "explanation": "[direct] ARS filter AVISIT = Week 4"}
  ],
  "edges": [
    {"from": "ADVS.AVAL", "to": "` + spec + `"},
    {"from": "ADVS.AVISIT", "to": "` + spec + `"}
  ]}}`, nil
	}}
	eng := newEngine(t, fp)
	sess := newSession(t, map[string]string{
		"vs-ars.json": `{"analyses":[{"id":"ars_vs_t01","dataset":"ADVS","variable":"AVAL","operations":["mean"],"filters":["AVISIT = 'Week 4'","TRT01A = 'Placebo'"]}]}`,
	})

	res, err := eng.Trace(context.Background(), sess, golineage.Request{Dataset: "table", Variable: spec})
	require.NoError(t, err)
	assert.Equal(t, prompt.KindTableCell, res.Route.Kind)
	assert.False(t, res.Degraded)

	g := res.Graph
	cell, ok := nodeByID(g, spec)
	require.True(t, ok, "cell node id must equal the request verbatim")
	assert.Equal(t, graph.TypeTLFCell, cell.Type)
	assert.NotEmpty(t, g.NodesOfType(graph.TypeADaMVariable))
	assert.Empty(t, g.NodesOfType(graph.TypeSDTMVariable, graph.TypeSDTMDataset))

	require.NotEmpty(t, g.Lineage.Gaps)
	assert.Contains(t, strings.Join(gapTexts(g), "\n"), "SDTM ancestry unresolved")

	// Only the cell prompt reaches the model: the backtrace finds no
	// evidence beyond analysis results.
	calls := fp.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Messages[1].Content, "vs-ars.json")
}

func TestTrace_EmptySession(t *testing.T) {
	fp := &fakeProvider{reply: func(llm.ChatRequest) (string, error) {
		t.Fatal("model must not be called without evidence")
		return "", nil
	}}
	eng := newEngine(t, fp)
	sess := newSession(t, nil)

	for _, req := range []golineage.Request{
		{Dataset: "ADSL", Variable: "AGE"},
		{Dataset: "endpoint", Variable: "Change from baseline in SBP"},
		{Dataset: "table", Variable: "T14.2.1"},
		{Dataset: "table", Variable: "T14.2.1 | Week 4 | mean"},
	} {
		t.Run(req.Dataset+"/"+req.Variable, func(t *testing.T) {
			res, err := eng.Trace(context.Background(), sess, req)
			require.NoError(t, err)
			assert.True(t, res.Degraded)
			require.Len(t, res.Graph.Lineage.Nodes, 1)
			assert.Equal(t, res.TargetID, res.Graph.Lineage.Nodes[0].ID)
			assert.Empty(t, res.Graph.Lineage.Edges)

			data, err := json.Marshal(res.Graph.Lineage)
			require.NoError(t, err)
			assert.Contains(t, string(data), `"gaps":["No evidence found."]`)
		})
	}
}

// ---------------------------------------------------------------------------
// Degraded results
// ---------------------------------------------------------------------------

func TestTrace_ModelFailureDegrades(t *testing.T) {
	fp := &fakeProvider{reply: func(llm.ChatRequest) (string, error) {
		return "", errors.New("503 service unavailable")
	}}
	eng := newEngine(t, fp)

	res, err := eng.Trace(context.Background(), defineSession(t), golineage.Request{Dataset: "ADSL", Variable: "AGE"})
	require.NoError(t, err)
	assert.True(t, res.Degraded)

	g := res.Graph
	require.Len(t, g.Lineage.Nodes, 1)
	assert.Equal(t, "ADSL.AGE", g.Lineage.Nodes[0].ID)
	assert.Equal(t, "[general] Post-processing error; returning target only.", g.Lineage.Nodes[0].Explanation)
	require.NotEmpty(t, g.Lineage.Gaps)
	assert.Contains(t, g.Lineage.Gaps[0].Explanation, "503 service unavailable")

	// Primary then fallback.
	calls := fp.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "gpt-4o", calls[0].Model)
	assert.Equal(t, "gpt-4o-mini", calls[1].Model)
}

func TestTrace_FallbackModelRecovers(t *testing.T) {
	fp := &fakeProvider{reply: func(req llm.ChatRequest) (string, error) {
		if req.Model == "gpt-4o" {
			return "", errors.New("timeout")
		}
		return `{"lineage":{"nodes":[{"id":"ADSL.AGE","type":"adam variable"},{"id":"DM.BRTHDTC","type":"sdtm variable"}],
			"edges":[{"source":"DM.BRTHDTC","target":"ADSL.AGE"}]}}`, nil
	}}
	eng := newEngine(t, fp)

	res, err := eng.Trace(context.Background(), defineSession(t), golineage.Request{Dataset: "ADSL", Variable: "AGE"})
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, "gpt-4o-mini", res.Model)
	assert.True(t, hasEdge(res.Graph, "DM.BRTHDTC", "ADSL.AGE"))
	assert.NotEmpty(t, res.Graph.Summary, "summary is backfilled")
}

func TestTrace_UnparseableOutputWritesDebugFile(t *testing.T) {
	debugDir := filepath.Join(t.TempDir(), "debug")
	fp := &fakeProvider{reply: func(llm.ChatRequest) (string, error) {
		return "I could not find any lineage in the evidence.", nil
	}}
	eng := newEngine(t, fp, func(c *golineage.Config) { c.DebugDir = debugDir })

	res, err := eng.Trace(context.Background(), defineSession(t), golineage.Request{Dataset: "ADSL", Variable: "AGE"})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	require.Len(t, res.Graph.Lineage.Nodes, 1)
	assert.NotEmpty(t, res.Graph.Lineage.Gaps)

	entries, err := os.ReadDir(debugDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "lineage_parse_error_"))
	data, err := os.ReadFile(filepath.Join(debugDir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "I could not find any lineage in the evidence.", string(data))
}

func TestTrace_TargetGuaranteed(t *testing.T) {
	fp := &fakeProvider{reply: func(llm.ChatRequest) (string, error) {
		return `{"lineage":{"nodes":[{"id":"DM.BRTHDTC","type":"sdtm variable"}],"edges":[]}}`, nil
	}}
	eng := newEngine(t, fp)

	res, err := eng.Trace(context.Background(), defineSession(t), golineage.Request{Dataset: "ADSL", Variable: "AGE"})
	require.NoError(t, err)
	n, ok := nodeByID(res.Graph, "ADSL.AGE")
	require.True(t, ok)
	assert.Equal(t, graph.TypeADaMVariable, n.Type)
	assert.True(t, strings.HasPrefix(n.Explanation, "[general]"))
}

func TestTrace_InvalidInput(t *testing.T) {
	eng := newEngine(t, &fakeProvider{reply: func(llm.ChatRequest) (string, error) { return "{}", nil }})

	_, err := eng.Trace(context.Background(), evidence.Session{}, golineage.Request{Variable: "AGE"})
	assert.ErrorIs(t, err, golineage.ErrInvalidSession)

	_, err = eng.Trace(context.Background(), newSession(t, nil), golineage.Request{Dataset: "ADSL", Variable: "  "})
	assert.ErrorIs(t, err, golineage.ErrInvalidTarget)
}

// ---------------------------------------------------------------------------
// Augmentation
// ---------------------------------------------------------------------------

func TestTrace_BacktraceAddsSDTMAncestry(t *testing.T) {
	fp := &fakeProvider{reply: func(req llm.ChatRequest) (string, error) {
		if strings.Contains(system(req), "no SDTM ancestry") {
			return `{"lineage":{"nodes":[
				{"id":"DM.BRTHDTC","type":"sdtm variable","explanation":"[direct] define origin"},
				{"id":"CRF page 2 • DM.BRTHDTC","type":"crf page"}],
			"edges":[
				{"from":"CRF page 2 • DM.BRTHDTC","to":"DM.BRTHDTC"},
				{"from":"DM.BRTHDTC","to":"ADSL.AGE"}]}}`, nil
		}
		return `{"summary":"","lineage":{"nodes":[{"id":"ADSL.AGE","type":"adam variable"}],"edges":[]}}`, nil
	}}
	eng := newEngine(t, fp)

	res, err := eng.Trace(context.Background(), defineSession(t), golineage.Request{Dataset: "ADSL", Variable: "AGE"})
	require.NoError(t, err)

	require.Len(t, fp.Calls(), 2)
	g := res.Graph
	assert.True(t, graph.HasSDTM(g))
	assert.True(t, hasEdge(g, "DM.BRTHDTC", "ADSL.AGE"))
	assert.Equal(t, 240, res.Tokens.Total)
	assert.NotContains(t, strings.Join(gapTexts(g), "\n"), "SDTM ancestry unresolved")
}

func TestTrace_BacktraceFailureKeepsBaseGraph(t *testing.T) {
	fp := &fakeProvider{reply: func(req llm.ChatRequest) (string, error) {
		if strings.Contains(system(req), "no SDTM ancestry") {
			return "", errors.New("rate limited")
		}
		return `{"lineage":{"nodes":[{"id":"ADSL.AGE","type":"adam variable"},{"id":"ADSL","type":"adam dataset"}],
			"edges":[{"from":"ADSL","to":"ADSL.AGE"}]}}`, nil
	}}
	eng := newEngine(t, fp)

	res, err := eng.Trace(context.Background(), defineSession(t), golineage.Request{Dataset: "ADSL", Variable: "AGE"})
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Len(t, res.Graph.Lineage.Nodes, 2)
	assert.True(t, hasEdge(res.Graph, "ADSL", "ADSL.AGE"))
	assert.Contains(t, strings.Join(gapTexts(res.Graph), "\n"), "rate limited")
}

func TestTrace_ConnectivityRepair(t *testing.T) {
	spec := "T14.2.1 | Week 4 | Placebo | mean"
	fp := &fakeProvider{reply: func(req llm.ChatRequest) (string, error) {
		if strings.Contains(system(req), "repairing connectivity") {
			return `{"lineage":{"nodes":[],"edges":[{"from":"VS.VSSTRESN","to":"ADVS.AVAL","explanation":"[reasoned] AVAL from VSSTRESN"}]}}`, nil
		}
		return `{"lineage":{"nodes":[
			{"id":"` + spec + `","type":"tlf cell"},
			{"id":"ADVS.AVAL","type":"adam variable"},
			{"id":"VS.VSSTRESN","type":"sdtm variable"}],
		"edges":[{"from":"ADVS.AVAL","to":"` + spec + `"}]}}`, nil
	}}
	eng := newEngine(t, fp)
	sess := newSession(t, map[string]string{"vs-ars.json": `{"display":"T14.2.1","variable":"ADVS.AVAL"}`})

	res, err := eng.Trace(context.Background(), sess, golineage.Request{Dataset: "tlf", Variable: spec})
	require.NoError(t, err)

	require.Len(t, fp.Calls(), 2)
	assert.True(t, graph.Linked(res.Graph, graph.TypeSDTMVariable, graph.TypeADaMVariable))
	assert.True(t, hasEdge(res.Graph, "VS.VSSTRESN", "ADVS.AVAL"))
}

func TestTrace_ConnectivityOrphanGetsGap(t *testing.T) {
	spec := "T14.2.1 | Week 4 | mean"
	fp := &fakeProvider{reply: func(req llm.ChatRequest) (string, error) {
		if strings.Contains(system(req), "repairing connectivity") {
			return `{"lineage":{"nodes":[],"edges":[]}}`, nil
		}
		return `{"lineage":{"nodes":[
			{"id":"` + spec + `","type":"tlf cell"},
			{"id":"ADVS.AVAL","type":"adam variable"},
			{"id":"VS.VSORRES","type":"sdtm variable"}],
		"edges":[{"from":"ADVS.AVAL","to":"` + spec + `"}]}}`, nil
	}}
	eng := newEngine(t, fp)
	sess := newSession(t, map[string]string{"vs-ars.json": `{"display":"T14.2.1"}`})

	res, err := eng.Trace(context.Background(), sess, golineage.Request{Dataset: "table", Variable: spec})
	require.NoError(t, err)

	var found bool
	for _, gp := range res.Graph.Lineage.Gaps {
		if gp.Source == "VS.VSORRES" {
			found = true
		}
	}
	assert.True(t, found, "orphan SDTM variable must be explained by a gap")
}

// ---------------------------------------------------------------------------
// Routing through the engine
// ---------------------------------------------------------------------------

func TestRoute_DisplayModes(t *testing.T) {
	eng := newEngine(t, &fakeProvider{reply: func(llm.ChatRequest) (string, error) { return "{}", nil }})
	req := golineage.Request{Dataset: "table", Variable: "T14.2.1"}

	ars := newSession(t, map[string]string{"vs-ars.json": `{"display":"T14.2.1"}`})
	named := eng.Route(ars, req)
	assert.Equal(t, prompt.DisplayARS, named.DisplayMode)
	assert.False(t, named.ARSFallback)

	// Analysis results exist but none names the display.
	other := eng.Route(ars, golineage.Request{Dataset: "table", Variable: "T14.3.9"})
	assert.Equal(t, prompt.DisplayARS, other.DisplayMode)
	assert.True(t, other.ARSFallback)
	assert.Equal(t, "table-display/ars+all-ars", other.String())

	define := newSession(t, map[string]string{
		evidence.SummaryFile: defineSummary,
		"define.xml":         `<arm:AnalysisResultDisplays><arm:ResultDisplay OID="RD.T14.2.1"/></arm:AnalysisResultDisplays>`,
	})
	assert.Equal(t, prompt.DisplayDefineARS, eng.Route(define, req).DisplayMode)

	assert.Equal(t, prompt.DisplayTitles, eng.Route(newSession(t, nil), req).DisplayMode)

	cell := eng.Route(ars, golineage.Request{Dataset: "table", Variable: "T14.2.1 | mean"})
	assert.Equal(t, golineage.Route{Kind: prompt.KindTableCell}, cell)
}

func TestSessions(t *testing.T) {
	fp := &fakeProvider{reply: func(llm.ChatRequest) (string, error) { return "{}", nil }}
	out := t.TempDir()
	eng := newEngine(t, fp, func(c *golineage.Config) { c.OutputDir = out })

	_, err := eng.LatestSession()
	assert.ErrorIs(t, err, evidence.ErrNoSession)

	require.NoError(t, os.MkdirAll(filepath.Join(out, "session_a"), 0o755))
	sessions, err := eng.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "session_a", sessions[0].ID)

	_, err = eng.Runs(context.Background(), store.RunFilter{})
	assert.ErrorIs(t, err, golineage.ErrPersistenceDisabled)
	assert.Nil(t, eng.Store())
}
