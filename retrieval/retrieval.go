package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/golineage/chunker"
)

// ErrEmbedding wraps failures of the embedding service.
var ErrEmbedding = errors.New("retrieval: embedding failed")

// Embedder turns texts into vectors. llm.Provider satisfies it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Cache stores embedding vectors keyed by model and content hash.
// store.Store satisfies it.
type Cache interface {
	GetEmbeddings(ctx context.Context, model string, hashes []string) (map[string][]float32, error)
	PutEmbeddings(ctx context.Context, model string, vecs map[string][]float32) error
}

// Config holds retrieval configuration.
type Config struct {
	Model      string // embedding model name, part of the cache key
	TopK       int    // default result count when k <= 0
	MaxInputs  int    // upper bound on the embedded shortlist
	MinPool    int    // lower bound on the shortlist before MaxInputs applies
	EmbedBatch int    // texts per embedding request
	Workers    int    // embedding requests in flight
}

// Trace records what a single Retrieve call did.
type Trace struct {
	Candidates  int       `json:"candidates"`
	Shortlist   int       `json:"shortlist"`
	QueryTokens []string  `json:"query_tokens"`
	CacheHits   int       `json:"cache_hits"`
	Embedded    int       `json:"embedded"`
	Batches     int       `json:"batches"`
	TopScores   []float64 `json:"top_scores"`
	ElapsedMs   int64     `json:"elapsed_ms"`
}

// Retriever ranks evidence chunks against a query: a cheap lexical gate
// bounds the pool, then embeddings and cosine similarity pick the top k.
type Retriever struct {
	embedder Embedder
	cache    Cache
	cfg      Config
}

// New creates a Retriever. cache may be nil.
func New(embedder Embedder, cache Cache, cfg Config) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 12
	}
	if cfg.MaxInputs <= 0 {
		cfg.MaxInputs = 1500
	}
	if cfg.MinPool <= 0 {
		cfg.MinPool = 300
	}
	if cfg.EmbedBatch <= 0 {
		cfg.EmbedBatch = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Retriever{embedder: embedder, cache: cache, cfg: cfg}
}

// Config returns the effective configuration.
func (r *Retriever) Config() Config {
	return r.cfg
}

// Retrieve returns at most k chunks ranked by cosine similarity to query,
// highest first. The result is empty only when chunks is empty.
func (r *Retriever) Retrieve(ctx context.Context, chunks []chunker.Chunk, query string, k int, anchors []string) ([]chunker.Chunk, *Trace, error) {
	start := time.Now()
	if k <= 0 {
		k = r.cfg.TopK
	}
	tokens := QueryTokens(query, anchors)
	trace := &Trace{Candidates: len(chunks), QueryTokens: tokens}
	if len(chunks) == 0 {
		return nil, trace, nil
	}

	limit := min(r.cfg.MaxInputs, max(r.cfg.MinPool, len(chunks)), len(chunks))
	pool := Prefilter(chunks, tokens, limit)
	trace.Shortlist = len(pool)

	texts := make([]string, 0, len(pool)+1)
	for _, c := range pool {
		texts = append(texts, c.Text)
	}
	texts = append(texts, query)

	vecs, err := r.embed(ctx, texts, trace)
	if err != nil {
		trace.ElapsedMs = time.Since(start).Milliseconds()
		return nil, trace, err
	}

	q := l2Normalize(vecs[len(vecs)-1])
	type scored struct {
		chunk chunker.Chunk
		score float64
	}
	ranked := make([]scored, len(pool))
	for i, c := range pool {
		ranked[i] = scored{chunk: c, score: dot(l2Normalize(vecs[i]), q)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]chunker.Chunk, k)
	trace.TopScores = make([]float64, k)
	for i := range k {
		out[i] = ranked[i].chunk
		trace.TopScores[i] = ranked[i].score
	}
	trace.ElapsedMs = time.Since(start).Milliseconds()

	slog.Debug("retrieval: ranked evidence",
		"candidates", trace.Candidates, "shortlist", trace.Shortlist,
		"returned", k, "cache_hits", trace.CacheHits, "elapsed_ms", trace.ElapsedMs)
	return out, trace, nil
}

// embed resolves vectors for texts, consulting the cache first and sending
// the misses to the embedder in fixed-size batches, Workers at a time.
func (r *Retriever) embed(ctx context.Context, texts []string, trace *Trace) ([][]float32, error) {
	hashes := make([]string, len(texts))
	for i, t := range texts {
		hashes[i] = chunker.Chunk{Text: t}.Hash()
	}

	cached := map[string][]float32{}
	if r.cache != nil {
		got, err := r.cache.GetEmbeddings(ctx, r.cfg.Model, hashes)
		if err != nil {
			slog.Warn("retrieval: embedding cache lookup failed", "error", err)
		} else if got != nil {
			cached = got
		}
	}

	out := make([][]float32, len(texts))
	var missing []int
	for i, h := range hashes {
		if v, ok := cached[h]; ok {
			out[i] = v
			trace.CacheHits++
			continue
		}
		missing = append(missing, i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for lo := 0; lo < len(missing); lo += r.cfg.EmbedBatch {
		idxs := missing[lo:min(lo+r.cfg.EmbedBatch, len(missing))]
		n := trace.Batches
		trace.Batches++
		g.Go(func() error {
			batch := make([]string, len(idxs))
			for j, idx := range idxs {
				batch[j] = texts[idx]
			}
			vecs, err := r.embedder.Embed(gctx, batch)
			if err != nil {
				return fmt.Errorf("%w: batch %d: %w", ErrEmbedding, n, err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbedding, len(vecs), len(batch))
			}
			for j, idx := range idxs {
				out[idx] = vecs[j]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fresh := make(map[string][]float32, len(missing))
	for _, idx := range missing {
		fresh[hashes[idx]] = out[idx]
	}
	trace.Embedded = len(missing)

	if r.cache != nil && len(fresh) > 0 {
		if err := r.cache.PutEmbeddings(ctx, r.cfg.Model, fresh); err != nil {
			slog.Warn("retrieval: embedding cache write failed", "error", err)
		}
	}
	return out, nil
}

const normEpsilon = 1e-8

func l2Normalize(v []float32) []float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum) + normEpsilon
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x) / norm
	}
	return out
}

func dot(a, b []float64) float64 {
	n := min(len(a), len(b))
	var s float64
	for i := range n {
		s += a[i] * b[i]
	}
	return s
}
