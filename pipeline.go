package golineage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/golineage/chunker"
	"github.com/brunobiangulo/golineage/evidence"
	"github.com/brunobiangulo/golineage/graph"
	"github.com/brunobiangulo/golineage/prompt"
	"github.com/brunobiangulo/golineage/store"
)

// Trace runs collect → chunk → retrieve → prompt → call → parse →
// normalize → augment for one request.
func (e *engine) Trace(ctx context.Context, sess evidence.Session, req Request) (*Result, error) {
	if sess.Dir == "" {
		return nil, ErrInvalidSession
	}
	req.Dataset = strings.TrimSpace(req.Dataset)
	req.Variable = strings.TrimSpace(req.Variable)
	if req.Variable == "" {
		return nil, fmt.Errorf("%w: variable is required", ErrInvalidTarget)
	}

	start := time.Now()
	route := e.Route(sess, req)
	strat := e.strategies[route.Kind]
	target := strat.target(req)

	res := &Result{
		RunID:     uuid.NewString(),
		SessionID: sess.ID,
		Route:     route,
		TargetID:  target.ID,
	}
	slog.Info("lineage: trace started",
		"run_id", res.RunID, "session", sess.ID, "route", route.String(),
		"target", target.ID, "files", len(req.Files))

	g, err := e.build(ctx, sess, req, route, strat, target, res)
	switch {
	case errors.Is(err, ErrNoEvidence):
		g = noEvidenceGraph(req, route, target)
		res.Degraded = true
		res.Error = err.Error()
		slog.Warn("lineage: no evidence", "run_id", res.RunID, "target", target.ID)
	case err != nil:
		g = degradedGraph(req, target, err)
		res.Degraded = true
		res.Error = err.Error()
		slog.Error("lineage: build failed, returning degraded graph",
			"run_id", res.RunID, "target", target.ID, "error", err)
	}

	res.Graph = g
	res.ElapsedMs = time.Since(start).Milliseconds()
	e.logRun(ctx, req, res)

	slog.Info("lineage: trace complete",
		"run_id", res.RunID, "nodes", len(g.Lineage.Nodes), "edges", len(g.Lineage.Edges),
		"gaps", len(g.Lineage.Gaps), "degraded", res.Degraded, "elapsed_ms", res.ElapsedMs)
	return res, nil
}

func (e *engine) build(ctx context.Context, sess evidence.Session, req Request, route Route, strat TargetKindStrategy, target graph.Target, res *Result) (graph.Graph, error) {
	chunks, err := e.chunks(ctx, sess, strat.Evidence(req))
	if err != nil {
		return graph.Graph{}, err
	}
	if len(chunks) == 0 {
		return graph.Graph{}, ErrNoEvidence
	}

	top, trace, err := e.retrievers[strat.Kind].Retrieve(ctx, chunks, strat.Query(target.ID), strat.TopK, strat.Anchors)
	if err != nil {
		return graph.Graph{}, fmt.Errorf("retrieving evidence: %w", err)
	}
	res.Trace = trace
	slog.Info("lineage: retrieved evidence",
		"run_id", res.RunID, "candidates", trace.Candidates, "shortlist", trace.Shortlist, "chunks", len(top))

	msgs := strat.Prompt(prompt.Target{
		ID:          target.ID,
		Dataset:     req.Dataset,
		Variable:    req.Variable,
		DisplayMode: route.DisplayMode,
	}, top, prompt.Options{EvidenceChars: e.cfg.EvidenceChars})

	g, err := e.complete(ctx, msgs, strat.MaxTokens, req, res)
	if err != nil {
		return graph.Graph{}, err
	}
	g = graph.Normalize(g, target)
	g = e.augment(ctx, sess, route, g, target, res)

	if strings.TrimSpace(g.Summary) == "" {
		g.Summary = strat.Summary
	}
	return g, nil
}

// chunks collects the evidence a selector names and splits it into chunks.
func (e *engine) chunks(ctx context.Context, sess evidence.Session, sel evidence.Selector) ([]chunker.Chunk, error) {
	pairs, err := e.evidence.Collect(ctx, sess, sel)
	if err != nil {
		return nil, fmt.Errorf("collecting evidence: %w", err)
	}
	docs := make([]chunker.Document, 0, len(pairs))
	for _, p := range pairs {
		docs = append(docs, chunker.Document{ID: p.SourceID, Text: p.Text})
	}
	return e.chunkr.ChunkAll(docs), nil
}

// complete issues one forced-JSON model call and parses the response.
func (e *engine) complete(ctx context.Context, msgs prompt.Messages, maxTokens int, req Request, res *Result) (graph.Graph, error) {
	resp, err := e.caller.CompleteJSONWithLimit(ctx, msgs.ChatMessages(), maxTokens)
	if err != nil {
		return graph.Graph{}, err
	}
	res.Tokens.add(resp)
	if res.Model == "" {
		res.Model = resp.Model
	}

	g, err := graph.Parse(resp.Content, req.Variable, req.Dataset)
	if err != nil {
		e.writeDebug(res.RunID, resp.Content)
		return graph.Graph{}, err
	}
	return g, nil
}

// writeDebug keeps unparseable model output for inspection.
func (e *engine) writeDebug(runID, content string) {
	if e.cfg.DebugDir == "" {
		return
	}
	if err := os.MkdirAll(e.cfg.DebugDir, 0o755); err != nil {
		slog.Warn("lineage: creating debug dir", "error", err)
		return
	}
	path := filepath.Join(e.cfg.DebugDir, fmt.Sprintf("lineage_parse_error_%d.txt", time.Now().UnixNano()))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		slog.Warn("lineage: writing debug file", "error", err)
		return
	}
	slog.Info("lineage: wrote unparseable output", "run_id", runID, "path", path)
}

func (e *engine) logRun(ctx context.Context, req Request, res *Result) {
	if e.store == nil {
		return
	}
	data, err := json.Marshal(res.Graph)
	if err != nil {
		slog.Warn("lineage: encoding graph for run log", "run_id", res.RunID, "error", err)
		return
	}
	run := store.Run{
		RunID:            res.RunID,
		SessionID:        res.SessionID,
		Dataset:          req.Dataset,
		Variable:         req.Variable,
		Kind:             string(res.Route.Kind),
		DisplayMode:      string(res.Route.DisplayMode),
		ARSFallback:      res.Route.ARSFallback,
		TargetID:         res.TargetID,
		ModelUsed:        res.Model,
		PromptTokens:     res.Tokens.Prompt,
		CompletionTokens: res.Tokens.Completion,
		TotalTokens:      res.Tokens.Total,
		NodeCount:        len(res.Graph.Lineage.Nodes),
		EdgeCount:        len(res.Graph.Lineage.Edges),
		GapCount:         len(res.Graph.Lineage.Gaps),
		Degraded:         res.Degraded,
		ElapsedMs:        res.ElapsedMs,
		Error:            res.Error,
		Graph:            data,
	}
	// The caller's context may already be cancelled; the log is still wanted.
	if err := e.store.LogRun(context.WithoutCancel(ctx), run); err != nil {
		slog.Warn("lineage: logging run", "run_id", res.RunID, "error", err)
	}
}
