// Package golineage synthesizes clinical-trial lineage graphs
// (Protocol → CRF → SDTM → ADaM → TLF) from the evidence of an upload
// session using retrieval and forced-JSON model calls.
package golineage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/golineage/chunker"
	"github.com/brunobiangulo/golineage/evidence"
	"github.com/brunobiangulo/golineage/graph"
	"github.com/brunobiangulo/golineage/llm"
	"github.com/brunobiangulo/golineage/prompt"
	"github.com/brunobiangulo/golineage/retrieval"
	"github.com/brunobiangulo/golineage/store"
)

// Engine is the main entry point for lineage synthesis.
type Engine interface {
	// Trace builds the lineage graph for one request against sess. Model,
	// parse and evidence failures degrade the graph instead of returning
	// an error; errors are reserved for invalid input.
	Trace(ctx context.Context, sess evidence.Session, req Request) (*Result, error)

	// ClassifyText turns free text into an explicit request.
	ClassifyText(ctx context.Context, text string) Request

	// Route classifies a request, probing sess for the display sub-mode.
	Route(sess evidence.Session, req Request) Route

	// Sessions lists the upload sessions, newest first.
	Sessions() ([]evidence.Session, error)

	// LatestSession returns the most recently modified session.
	LatestSession() (evidence.Session, error)

	// Runs lists logged runs, newest first.
	Runs(ctx context.Context, f store.RunFilter) ([]store.Run, error)

	// Run returns one logged run including its graph.
	Run(ctx context.Context, runID string) (*store.Run, error)

	// Store returns the underlying store, nil when persistence is off.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// Request names one lineage target. Files is opaque upload context.
type Request struct {
	Dataset  string           `json:"dataset"`
	Variable string           `json:"variable"`
	Files    []map[string]any `json:"files,omitempty"`
}

// Tokens sums model usage over every call of a run.
type Tokens struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

func (t *Tokens) add(r *llm.ChatResponse) {
	t.Prompt += r.PromptTokens
	t.Completion += r.CompletionTokens
	t.Total += r.TotalTokens
}

// Result is the outcome of one Trace call.
type Result struct {
	Graph     graph.Graph      `json:"graph"`
	RunID     string           `json:"run_id"`
	SessionID string           `json:"session_id"`
	Route     Route            `json:"route"`
	TargetID  string           `json:"target_id"`
	Trace     *retrieval.Trace `json:"retrieval_trace,omitempty"`
	Model     string           `json:"model_used,omitempty"`
	Tokens    Tokens           `json:"tokens"`
	Degraded  bool             `json:"degraded"`
	Error     string           `json:"error,omitempty"`
	ElapsedMs int64            `json:"elapsed_ms"`
}

// Option customizes engine construction.
type Option func(*engine)

// WithProviders replaces the configured chat and embedding providers.
func WithProviders(chat, embed llm.Provider) Option {
	return func(e *engine) {
		e.chatLLM = chat
		e.embedLLM = embed
	}
}

// WithStore uses an already opened store instead of opening one from the
// configured path.
func WithStore(s *store.Store) Option {
	return func(e *engine) { e.store = s }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg        Config
	store      *store.Store
	ownStore   bool
	chatLLM    llm.Provider
	embedLLM   llm.Provider
	caller     *llm.Caller
	evidence   *evidence.Store
	chunkr     *chunker.Chunker
	strategies map[prompt.Kind]TargetKindStrategy
	retrievers map[prompt.Kind]*retrieval.Retriever
}

// New creates a lineage engine with the given configuration.
func New(cfg Config, opts ...Option) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &engine{cfg: cfg}
	for _, o := range opts {
		o(e)
	}

	var err error
	if e.chatLLM == nil {
		if e.chatLLM, err = llm.NewProvider(cfg.Chat.provider()); err != nil {
			return nil, fmt.Errorf("creating chat provider: %w", err)
		}
	}
	if e.embedLLM == nil {
		if e.embedLLM, err = llm.NewProvider(cfg.Embedding.provider()); err != nil {
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
	}

	if cfg.Persist && e.store == nil {
		dbPath := cfg.resolveDBPath()
		s, err := store.New(dbPath, cfg.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		e.store = s
		e.ownStore = true
		slog.Info("lineage: store opened", "path", dbPath)
	}

	e.caller = &llm.Caller{
		Provider:  e.chatLLM,
		Primary:   cfg.Chat.Model,
		Fallback:  cfg.FallbackModel,
		MaxTokens: cfg.MaxTokens,
	}
	e.evidence = evidence.New(nil)
	e.chunkr = chunker.New(chunker.Config{MaxChars: cfg.MaxChars, Overlap: cfg.Overlap})
	e.strategies = newStrategies(cfg)

	var cache retrieval.Cache
	if e.store != nil {
		cache = e.store
	}
	e.retrievers = make(map[prompt.Kind]*retrieval.Retriever, len(e.strategies))
	for kind, s := range e.strategies {
		e.retrievers[kind] = retrieval.New(e.embedLLM, cache, retrieval.Config{
			Model:      cfg.Embedding.Model,
			TopK:       s.TopK,
			MaxInputs:  s.MaxInputs,
			MinPool:    cfg.MinPool,
			EmbedBatch: cfg.EmbedBatch,
			Workers:    cfg.EmbedWorkers,
		})
	}

	return e, nil
}

func (e *engine) ClassifyText(ctx context.Context, text string) Request {
	var c Completer
	if e.cfg.RouteWithModel {
		c = e.caller
	}
	return ClassifyText(ctx, text, c)
}

// Route classifies req. Table displays check the session for analysis
// results, then define-embedded analysis results, then falls back to titles.
func (e *engine) Route(sess evidence.Session, req Request) Route {
	r := Classify(req.Dataset, req.Variable)
	if r.Kind != prompt.KindTableDisplay {
		return r
	}
	display := strings.TrimSpace(req.Variable)
	switch {
	case e.evidence.HasARS(sess, display):
		r.DisplayMode = prompt.DisplayARS
		if !e.evidence.MatchesARS(sess, display) {
			r.ARSFallback = true
			slog.Info("lineage: no analysis-results file names the display, using all",
				"session", sess.ID, "display", display)
		}
	case e.evidence.HasDefineARS(sess):
		r.DisplayMode = prompt.DisplayDefineARS
	default:
		r.DisplayMode = prompt.DisplayTitles
	}
	return r
}

func (e *engine) Sessions() ([]evidence.Session, error) {
	return evidence.ListSessions(e.cfg.OutputDir)
}

func (e *engine) LatestSession() (evidence.Session, error) {
	return evidence.LatestSession(e.cfg.OutputDir)
}

func (e *engine) Runs(ctx context.Context, f store.RunFilter) ([]store.Run, error) {
	if e.store == nil {
		return nil, ErrPersistenceDisabled
	}
	return e.store.ListRuns(ctx, f)
}

func (e *engine) Run(ctx context.Context, runID string) (*store.Run, error) {
	if e.store == nil {
		return nil, ErrPersistenceDisabled
	}
	return e.store.GetRun(ctx, runID)
}

func (e *engine) Store() *store.Store {
	return e.store
}

func (e *engine) Close() error {
	if e.store != nil && e.ownStore {
		return e.store.Close()
	}
	return nil
}
