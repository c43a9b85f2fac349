package evidence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// SummaryFile is the session catalog written by the upload step.
const SummaryFile = "session_summary.json"

// Standard categories recorded in the catalog.
const (
	StandardADaM     = "ADaM"
	StandardSDTM     = "SDTM"
	StandardCRF      = "CRF"
	StandardProtocol = "Protocol"
	StandardTLF      = "TLF"
)

// Catalog mirrors session_summary.json. Only the fields evidence collection
// reads are modeled.
type Catalog struct {
	Metadata  CatalogMetadata     `json:"metadata"`
	Standards map[string]Standard `json:"standards"`
}

type CatalogMetadata struct {
	SourceFiles []FileRecord `json:"sourceFiles"`
}

// FileRecord is one saved upload.
type FileRecord struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Type     string `json:"type"`
}

type Standard struct {
	DatasetEntities map[string]Entity `json:"datasetEntities"`
}

// Entity is a dataset or document recorded under a standard.
type Entity struct {
	SourceFiles []SourceRef    `json:"sourceFiles"`
	Metadata    EntityMetadata `json:"metadata"`
}

type SourceRef struct {
	FileID string `json:"fileId"`
	Role   string `json:"role"`
}

type EntityMetadata struct {
	VarIndexCSV string          `json:"varIndexCsv,omitempty"`
	TextFile    string          `json:"textFile,omitempty"`
	Titles      []Title         `json:"titles,omitempty"`
	Design      json.RawMessage `json:"design,omitempty"`
}

// Title is one entry of a reporting-document title index.
type Title struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// LoadCatalog reads the session catalog. A session without a summary file
// yields an empty catalog.
func LoadCatalog(s Session) (*Catalog, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir, SummaryFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Catalog{}, nil
		}
		return nil, fmt.Errorf("reading session summary: %w", err)
	}
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding session summary: %w", err)
	}
	return &c, nil
}

// Entity returns the named entity of a standard.
func (c *Catalog) Entity(standard, name string) (Entity, bool) {
	e, ok := c.Standards[standard].DatasetEntities[name]
	return e, ok
}

// EntityNames returns the entity names of a standard in sorted order.
func (c *Catalog) EntityNames(standard string) []string {
	ents := c.Standards[standard].DatasetEntities
	names := make([]string, 0, len(ents))
	for name := range ents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fileIndex maps saved file names and ids to their names on disk.
func (c *Catalog) fileIndex() map[string]string {
	idx := make(map[string]string, len(c.Metadata.SourceFiles))
	for _, f := range c.Metadata.SourceFiles {
		name := f.Filename
		if name == "" {
			name = f.ID
		}
		if name == "" {
			continue
		}
		idx[name] = name
		if f.ID != "" {
			idx[f.ID] = name
		}
	}
	return idx
}

// candidates returns an entity's source file ids, primary role first.
func (e Entity) candidates() []string {
	refs := append([]SourceRef(nil), e.SourceFiles...)
	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].Role == "primary" && refs[j].Role != "primary"
	})
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.FileID != "" {
			out = append(out, r.FileID)
		}
	}
	return out
}
