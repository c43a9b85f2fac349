package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Config controls the chunking behaviour. Sizes are in characters (runes).
type Config struct {
	MaxChars        int // Maximum characters per chunk.
	Overlap         int // Characters shared between consecutive chunks.
	LineBreakWindow int // How far back from the boundary a newline may pull it.
}

// Chunk is one evidence segment. ID is "<docID>#<n>".
type Chunk struct {
	ID    string `json:"chunk_id"`
	DocID string `json:"doc_id"`
	Text  string `json:"text"`
	Start int    `json:"start"` // rune offset in the source text
	End   int    `json:"end"`   // exclusive rune offset
}

// Hash returns the sha256 of the chunk text, used as an embedding cache key.
func (c Chunk) Hash() string {
	return contentHash(c.Text)
}

// Document is a source text to be chunked.
type Document struct {
	ID   string
	Text string
}

// Chunker splits evidence text into overlapping fixed-size segments.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with sensible defaults.
func New(cfg Config) *Chunker {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 900
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	if cfg.LineBreakWindow <= 0 {
		cfg.LineBreakWindow = 200
	}
	return &Chunker{cfg: cfg}
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config {
	return c.cfg
}

// ChunkAll chunks every document in order and concatenates the results.
func (c *Chunker) ChunkAll(docs []Document) []Chunk {
	var out []Chunk
	for _, d := range docs {
		out = append(out, c.Chunk(d.ID, d.Text)...)
	}
	return out
}

// Chunk splits text with a greedy forward scan. Each boundary is
// cursor+MaxChars, pulled back to the last newline when one lies within
// LineBreakWindow of it. The next cursor is boundary-Overlap, but never at or
// before the current cursor, so the scan always advances.
func (c *Chunker) Chunk(docID, text string) []Chunk {
	runes := []rune(text)
	n := len(runes)
	var out []Chunk
	for cursor := 0; cursor < n; {
		end := min(n, cursor+c.cfg.MaxChars)
		if end < n {
			if k := lastNewline(runes, cursor, end); k > cursor && end-k < c.cfg.LineBreakWindow {
				end = k
			}
		}
		out = append(out, Chunk{
			ID:    docID + "#" + strconv.Itoa(len(out)),
			DocID: docID,
			Text:  string(runes[cursor:end]),
			Start: cursor,
			End:   end,
		})
		if end >= n {
			break
		}
		next := end - c.cfg.Overlap
		if next <= cursor {
			next = end
		}
		cursor = next
	}
	return out
}

// lastNewline returns the index of the last '\n' in runes[from:to], or -1.
func lastNewline(runes []rune, from, to int) int {
	for i := to - 1; i >= from; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	return -1
}

func contentHash(text string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(h[:])
}
