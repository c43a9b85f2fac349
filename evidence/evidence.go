package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/brunobiangulo/golineage/parser"
)

// Source id prefixes of collected pairs.
const (
	PrefixADaM     = "ADaM::"
	PrefixSDTM     = "SDTM::"
	PrefixCRFIndex = "CRF_INDEX::"
	PrefixProtocol = "PROTOCOL::"
	PrefixDesign   = "USDM::"
	PrefixARS      = "ARS::"
	PrefixTitles   = "TLF_TITLES::"
)

const maxTitles = 200

// analysisResultsRe matches analysis-results and analysis-results-data file
// names such as "vs-ars.json" or "study_ard.json".
var analysisResultsRe = regexp.MustCompile(`(?i)(^|[-_])ar[sd]\.json$`)

// defineFormats are the define file formats read for ADaM and SDTM entities.
// Dataset payloads (xpt, sas7bdat, json records) are not evidence.
var defineFormats = map[string]bool{
	"xml": true, "html": true, "htm": true, "xlsx": true, "xlsm": true, "pdf": true,
}

// Pair is one contributing artifact.
type Pair struct {
	SourceID string `json:"source_id"`
	Text     string `json:"text"`
}

// Source is one kind of artifact a selector can draw from.
type Source int

const (
	SourceDefine Source = iota
	SourceCRFIndex
	SourceProtocol
	SourceDesign
	SourceAnalysisResults
	SourceTitles
)

// Selector lists the sources to collect, in priority order. A non-empty
// DisplayID narrows titles and analysis-results files to that display.
type Selector struct {
	Sources   []Source
	DisplayID string
}

// SelectDefine collects variable-level evidence.
func SelectDefine() Selector {
	return Selector{Sources: []Source{SourceDefine, SourceCRFIndex, SourceProtocol, SourceTitles}}
}

// SelectEndpoint collects protocol-level evidence.
func SelectEndpoint() Selector {
	return Selector{Sources: []Source{SourceProtocol, SourceDesign, SourceCRFIndex, SourceTitles}}
}

// SelectTable collects reporting-display evidence.
func SelectTable(displayID string) Selector {
	return Selector{
		Sources:   []Source{SourceCRFIndex, SourceProtocol, SourceDesign, SourceAnalysisResults, SourceTitles},
		DisplayID: displayID,
	}
}

// SelectARSOnly collects analysis-results files only.
func SelectARSOnly(displayID string) Selector {
	return Selector{Sources: []Source{SourceAnalysisResults}, DisplayID: displayID}
}

// Store reads session artifacts into evidence pairs. It never writes.
type Store struct {
	parsers *parser.Registry
}

// New creates a Store. A nil registry uses the built-in parsers.
func New(parsers *parser.Registry) *Store {
	if parsers == nil {
		parsers = parser.NewRegistry()
	}
	return &Store{parsers: parsers}
}

// Collect returns the pairs the selector names. Missing or unreadable files
// are skipped.
func (s *Store) Collect(ctx context.Context, sess Session, sel Selector) ([]Pair, error) {
	cat, err := LoadCatalog(sess)
	if err != nil {
		return nil, err
	}

	var out []Pair
	for _, src := range sel.Sources {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		switch src {
		case SourceDefine:
			out = append(out, s.defineFiles(ctx, sess, cat, StandardADaM, PrefixADaM)...)
			out = append(out, s.defineFiles(ctx, sess, cat, StandardSDTM, PrefixSDTM)...)
		case SourceCRFIndex:
			out = append(out, s.crfIndex(ctx, sess, cat)...)
		case SourceProtocol:
			out = append(out, s.protocolText(ctx, sess, cat)...)
		case SourceDesign:
			out = append(out, studyDesign(cat)...)
		case SourceAnalysisResults:
			out = append(out, analysisResults(sess, sel.DisplayID)...)
		case SourceTitles:
			out = append(out, titleBlocks(cat, sel.DisplayID)...)
		}
	}

	slog.Debug("evidence: collected", "session", sess.ID, "pairs", len(out), "display", sel.DisplayID)
	return out, nil
}

// HasARS reports whether the session holds analysis-results files, matching
// displayID when it is non-empty.
func (s *Store) HasARS(sess Session, displayID string) bool {
	return len(analysisResults(sess, displayID)) > 0
}

// MatchesARS reports whether some analysis-results file mentions displayID.
// HasARS can be true without it, when narrowing falls back to every file.
func (s *Store) MatchesARS(sess Session, displayID string) bool {
	want := NormalizeDisplayID(displayID)
	if want == "" {
		return false
	}
	for _, p := range analysisResults(sess, displayID) {
		if strings.Contains(NormalizeDisplayID(p.Text), want) {
			return true
		}
	}
	return false
}

// HasDefineARS reports whether a define file carries analysis-results
// metadata.
func (s *Store) HasDefineARS(sess Session) bool {
	cat, err := LoadCatalog(sess)
	if err != nil {
		return false
	}
	idx := cat.fileIndex()
	for _, std := range []string{StandardADaM, StandardSDTM} {
		for _, name := range cat.EntityNames(std) {
			for _, fid := range cat.Standards[std].DatasetEntities[name].candidates() {
				path, ok := sess.lookup(idx, fid)
				if !ok || !defineFormats[parser.Format(path)] {
					continue
				}
				data, err := os.ReadFile(path)
				if err == nil && bytes.Contains(data, []byte("AnalysisResult")) {
					return true
				}
			}
		}
	}
	return false
}

// HasTitles reports whether the catalog records any reporting titles.
func (s *Store) HasTitles(sess Session) bool {
	cat, err := LoadCatalog(sess)
	if err != nil {
		return false
	}
	return len(titleBlocks(cat, "")) > 0
}

// defineFiles reads the primary spec file of each entity of a standard. A
// file shared by several entities is read once.
func (s *Store) defineFiles(ctx context.Context, sess Session, cat *Catalog, standard, prefix string) []Pair {
	idx := cat.fileIndex()
	seen := map[string]bool{}
	var out []Pair
	for _, name := range cat.EntityNames(standard) {
		for _, fid := range cat.Standards[standard].DatasetEntities[name].candidates() {
			path, ok := sess.lookup(idx, fid)
			if !ok || !defineFormats[parser.Format(path)] {
				continue
			}
			if !seen[path] {
				seen[path] = true
				if text, ok := s.read(ctx, path); ok {
					out = append(out, Pair{SourceID: prefix + filepath.Base(path), Text: text})
				}
			}
			break
		}
	}
	return out
}

func (s *Store) crfIndex(ctx context.Context, sess Session, cat *Catalog) []Pair {
	ent, ok := cat.Entity(StandardCRF, "aCRF")
	if !ok || ent.Metadata.VarIndexCSV == "" {
		return nil
	}
	path, ok := sess.resolve(ent.Metadata.VarIndexCSV)
	if !ok {
		return nil
	}
	text, ok := s.read(ctx, path)
	if !ok {
		return nil
	}
	return []Pair{{SourceID: PrefixCRFIndex + ent.Metadata.VarIndexCSV, Text: text}}
}

func (s *Store) protocolText(ctx context.Context, sess Session, cat *Catalog) []Pair {
	ent, ok := cat.Entity(StandardProtocol, "Protocol")
	if !ok || ent.Metadata.TextFile == "" {
		return nil
	}
	path, ok := sess.resolve(ent.Metadata.TextFile)
	if !ok {
		return nil
	}
	text, ok := s.read(ctx, path)
	if !ok {
		return nil
	}
	return []Pair{{SourceID: PrefixProtocol + ent.Metadata.TextFile, Text: text}}
}

// read parses a file into evidence text, logging and skipping failures.
func (s *Store) read(ctx context.Context, path string) (string, bool) {
	if _, err := os.Stat(path); err != nil {
		slog.Debug("evidence: skipping missing file", "path", path)
		return "", false
	}
	text, err := s.parsers.ReadText(ctx, path)
	if err != nil {
		slog.Debug("evidence: skipping unreadable file", "path", path, "error", err)
		return "", false
	}
	return text, true
}

func studyDesign(cat *Catalog) []Pair {
	ent, ok := cat.Entity(StandardProtocol, "StudyDesign_USDM")
	if !ok {
		return nil
	}
	design := ent.Metadata.Design
	if len(bytes.TrimSpace(design)) == 0 || string(bytes.TrimSpace(design)) == "null" {
		design = json.RawMessage("{}")
	}
	return []Pair{{SourceID: PrefixDesign + "design", Text: indentJSON(design)}}
}

// analysisResults reads *-ars.json and *-ard.json files from the session
// directory in name order. When displayID is set only files mentioning it
// are kept; if none mention it, all files are kept.
func analysisResults(sess Session, displayID string) []Pair {
	entries, err := os.ReadDir(sess.Dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && analysisResultsRe.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var all, matched []Pair
	want := NormalizeDisplayID(displayID)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(sess.Dir, name))
		if err != nil {
			slog.Debug("evidence: skipping unreadable file", "path", name, "error", err)
			continue
		}
		p := Pair{SourceID: PrefixARS + name, Text: indentJSON(data)}
		all = append(all, p)
		if want != "" && strings.Contains(NormalizeDisplayID(p.Text), want) {
			matched = append(matched, p)
		}
	}
	if want != "" && len(matched) > 0 {
		return matched
	}
	return all
}

// titleBlocks renders each title index as "[TLF_TITLES]" followed by
// "id: title" lines, narrowed to displayID when it is set.
func titleBlocks(cat *Catalog, displayID string) []Pair {
	want := NormalizeDisplayID(displayID)
	var out []Pair
	for _, key := range cat.EntityNames(StandardTLF) {
		var lines []string
		for _, t := range cat.Standards[StandardTLF].DatasetEntities[key].Metadata.Titles {
			if want != "" &&
				!strings.Contains(NormalizeDisplayID(t.ID), want) &&
				!strings.Contains(NormalizeDisplayID(t.Title), want) {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s: %s", t.ID, t.Title))
			if len(lines) == maxTitles {
				break
			}
		}
		if len(lines) > 0 {
			out = append(out, Pair{SourceID: PrefixTitles + key, Text: "[TLF_TITLES]\n" + strings.Join(lines, "\n")})
		}
	}
	return out
}

// NormalizeDisplayID upper-cases s and keeps only letters, digits and dots,
// so "t_14.1.1", "T14.1.1" and "T 14.1.1" compare equal.
func NormalizeDisplayID(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if r == '.' || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// indentJSON pretty-prints JSON keeping key order. Invalid JSON is returned
// as is.
func indentJSON(data []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(data), "", "  "); err != nil {
		return string(data)
	}
	return buf.String()
}

// lookup resolves a catalog file id to an existing path in the session.
func (s Session) lookup(idx map[string]string, fid string) (string, bool) {
	name := fid
	if mapped, ok := idx[fid]; ok {
		name = mapped
	}
	path, ok := s.resolve(name)
	if !ok {
		return "", false
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}
