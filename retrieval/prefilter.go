package retrieval

import (
	"sort"
	"strings"
	"unicode"

	"github.com/brunobiangulo/golineage/chunker"
)

// Anchor sets unioned with the query tokens during prefiltering.
var (
	VariableAnchors = []string{
		"CRF", "PROTOCOL", "SDTM", "ADAM", "TLF", "DERIV", "DERIVED",
		"SOURCE", "MAP", "LINK", "VAR", "VARIABLE",
	}
	TableAnchors = []string{
		"ARS", "ADAM", "ADSL", "ADAE", "ADVS", "PARAM", "AVAL", "BASE",
		"TRT", "TRT01A", "TRT01AN", "AVISIT", "VISIT", "CHG", "CHANGE",
	}
	EndpointAnchors = []string{
		"ENDPOINT", "OBJECTIVE", "PRIMARY", "SECONDARY", "PROTOCOL",
		"USDM", "SOA", "VISIT", "PARAM", "CRF",
	}
)

const minTokenLen = 3

// QueryTokens returns the upper-cased alphanumeric runs of at least three
// characters in query, followed by the anchors, without duplicates.
func QueryTokens(query string, anchors []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(tok string) {
		tok = strings.ToUpper(tok)
		if len([]rune(tok)) < minTokenLen || seen[tok] {
			return
		}
		seen[tok] = true
		out = append(out, tok)
	}
	for _, f := range strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		add(f)
	}
	for _, a := range anchors {
		add(a)
	}
	return out
}

// Score counts how many tokens occur in text, case-insensitively.
func Score(text string, tokens []string) int {
	upper := strings.ToUpper(text)
	n := 0
	for _, t := range tokens {
		if strings.Contains(upper, t) {
			n++
		}
	}
	return n
}

// Prefilter keeps the limit highest-scoring chunks. Ties keep input order.
func Prefilter(chunks []chunker.Chunk, tokens []string, limit int) []chunker.Chunk {
	type scored struct {
		chunk chunker.Chunk
		score int
	}
	all := make([]scored, len(chunks))
	for i, c := range chunks {
		all[i] = scored{chunk: c, score: Score(c.Text, tokens)}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].score > all[j].score
	})
	if limit < 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]chunker.Chunk, limit)
	for i := range limit {
		out[i] = all[i].chunk
	}
	return out
}
