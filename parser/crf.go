package parser

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// CRFIndexParser reads the CRF variable index, a CSV with var, page and
// context columns derived from the annotated CRF.
type CRFIndexParser struct{}

func (p *CRFIndexParser) SupportedFormats() []string { return []string{"csv"} }

func (p *CRFIndexParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CRF index: %w", err)
	}
	defer f.Close()

	lines, err := readCRFIndex(f)
	if err != nil {
		return nil, fmt.Errorf("reading CRF index: %w", err)
	}
	content := "[EMPTY]"
	if len(lines) > 0 {
		content = strings.Join(lines, "\n")
	}

	return &ParseResult{
		Sections: []Section{{Content: content, Type: "index", Level: 1}},
		Method:   "native",
		Header:   "[CRF_INDEX]",
		Metadata: map[string]string{"rows": fmt.Sprintf("%d", len(lines))},
	}, nil
}

// readCRFIndex emits "CRF_VAR=<var> | PAGE=<page> | CONTEXT=<context>" per
// row with a variable. Header names are matched case-insensitively.
func readCRFIndex(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	get := func(rec []string, name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var lines []string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return lines, err
		}
		v := get(rec, "var")
		if v == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("CRF_VAR=%s | PAGE=%s | CONTEXT=%s", v, get(rec, "page"), get(rec, "context")))
	}
	return lines, nil
}
