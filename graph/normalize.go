package graph

import (
	"fmt"
	"regexp"
	"strings"
)

// Default explanations for nodes and edges that arrive without one.
const (
	DefaultNodeExplanation   = "[reasoned] Included based on adjacent evidence and CDISC conventions."
	DefaultEdgeExplanation   = "[reasoned] Linked based on adjacent evidence and CDISC conventions."
	TargetPlaceholder        = "[general] Requested target; the model response did not include it."
	defaultGapExplanationFmt = "Dropped edge %s -> %s: %s not present in the node set."
)

var (
	adamVariableRe = regexp.MustCompile(`^AD[A-Z0-9]+\.[A-Z0-9_]+$`)
	sdtmVariableRe = regexp.MustCompile(`^[A-Z]{2}\.[A-Z0-9_]+$`)
	adamDatasetRe  = regexp.MustCompile(`^AD[A-Z0-9]*$`)
	tagRe          = regexp.MustCompile(`(?i)^\[(direct|reasoned|general)[^\]]*\]\s*`)
	placeholderRe  = regexp.MustCompile(`(?i)(placeholder|added by (the )?post-?processor|requested target|target only)`)
)

// InferType derives a node type from an identifier pattern.
func InferType(id string) NodeType {
	u := strings.ToUpper(strings.TrimSpace(id))
	switch {
	case strings.Contains(u, "|"):
		return TypeTLFCell
	case strings.HasPrefix(u, "SDTM."):
		return TypeSDTMVariable
	}
	u = strings.TrimPrefix(u, "ADAM.")
	switch {
	case adamVariableRe.MatchString(u):
		return TypeADaMVariable
	case sdtmVariableRe.MatchString(u):
		return TypeSDTMVariable
	case adamDatasetRe.MatchString(u):
		return TypeADaMDataset
	}
	return TypeConcept
}

// NormalizeID returns the identity key used to de-duplicate nodes: upper
// case, collapsed whitespace, standard prefixes removed and pipe segments
// trimmed.
func NormalizeID(id string) string {
	u := strings.Join(strings.Fields(strings.ToUpper(id)), " ")
	if strings.Contains(u, "|") {
		parts := strings.Split(u, "|")
		for i, p := range parts {
			parts[i] = strings.TrimSpace(p)
		}
		return strings.Join(parts, "|")
	}
	for _, p := range []string{"SDTM.", "ADAM."} {
		u = strings.TrimPrefix(u, p)
	}
	return u
}

// Normalize returns a cleaned copy of g: node types coerced into the closed
// vocabulary, bare ADaM variables prefixed with their dataset, duplicate
// nodes merged, edges remapped and validated, explanations tagged and the
// requested target guaranteed present. Normalize(Normalize(g)) equals
// Normalize(g).
func Normalize(g Graph, target Target) Graph {
	out := Graph{
		Variable: g.Variable,
		Dataset:  g.Dataset,
		Summary:  strings.TrimSpace(g.Summary),
	}

	nodes := make([]Node, 0, len(g.Lineage.Nodes))
	for _, n := range g.Lineage.Nodes {
		n.ID = strings.TrimSpace(n.ID)
		if n.ID == "" {
			continue
		}
		n.Type = resolveType(n.Type, n.ID)
		nodes = append(nodes, n)
	}
	edges := make([]Edge, 0, len(g.Lineage.Edges))
	for _, e := range g.Lineage.Edges {
		e.From = strings.TrimSpace(e.From)
		e.To = strings.TrimSpace(e.To)
		edges = append(edges, e)
	}

	nodes, edges = prefixBareVariables(nodes, edges)
	// The target joins the node set before edges are validated so that edges
	// into an omitted target survive.
	nodes = ensureTarget(nodes, target)
	nodes, canon := dedupeNodes(nodes, target)
	edges, dropped := remapEdges(edges, canon)

	for i := range nodes {
		nodes[i].Explanation = tagExplanation(nodes[i].Explanation, DefaultNodeExplanation)
	}
	for i := range edges {
		edges[i].Explanation = tagExplanation(edges[i].Explanation, DefaultEdgeExplanation)
	}

	nodes = prunePlaceholders(nodes, edges, target)

	gaps := make([]Gap, 0, len(g.Lineage.Gaps)+len(dropped))
	gaps = append(append(gaps, g.Lineage.Gaps...), dropped...)

	out.Lineage = Lineage{Nodes: nodes, Edges: edges, Gaps: dedupeGaps(gaps)}
	return out
}

func resolveType(t NodeType, id string) NodeType {
	if t.Valid() && t != TypeConcept {
		return t
	}
	if c := CanonicalType(string(t)); c != "" {
		return c
	}
	return InferType(id)
}

// prefixBareVariables rewrites ADaM variable ids that lack a dataset prefix
// when exactly one candidate dataset can be identified.
func prefixBareVariables(nodes []Node, edges []Edge) ([]Node, []Edge) {
	datasets := make(map[string]string) // normalized id -> id
	for _, n := range nodes {
		if n.Type == TypeADaMDataset {
			key := NormalizeID(n.ID)
			if _, ok := datasets[key]; !ok {
				datasets[key] = n.ID
			}
		}
	}
	if len(datasets) == 0 {
		return nodes, edges
	}

	renamed := make(map[string]string) // normalized old id -> new id
	for i, n := range nodes {
		if n.Type != TypeADaMVariable || strings.Contains(n.ID, ".") {
			continue
		}
		ds := onlyDataset(datasets, edges, n.ID)
		if ds == "" {
			continue
		}
		newID := strings.ToUpper(ds) + "." + strings.ToUpper(n.ID)
		renamed[NormalizeID(n.ID)] = newID
		nodes[i].ID = newID
	}
	if len(renamed) == 0 {
		return nodes, edges
	}
	for i, e := range edges {
		if id, ok := renamed[NormalizeID(e.From)]; ok {
			edges[i].From = id
		}
		if id, ok := renamed[NormalizeID(e.To)]; ok {
			edges[i].To = id
		}
	}
	return nodes, edges
}

func onlyDataset(datasets map[string]string, edges []Edge, varID string) string {
	if len(datasets) == 1 {
		for _, id := range datasets {
			return id
		}
	}
	key := NormalizeID(varID)
	found := make(map[string]string)
	for _, e := range edges {
		if NormalizeID(e.To) != key {
			continue
		}
		from := NormalizeID(e.From)
		if id, ok := datasets[from]; ok {
			found[from] = id
		}
	}
	if len(found) == 1 {
		for _, id := range found {
			return id
		}
	}
	return ""
}

// dedupeNodes merges nodes sharing a normalized id. The first occurrence
// keeps its id, except that the group matching the requested target takes
// the target id verbatim. The returned map resolves any normalized id to its
// canonical node id.
func dedupeNodes(nodes []Node, target Target) ([]Node, map[string]string) {
	targetKey := ""
	if target.ID != "" {
		targetKey = NormalizeID(target.ID)
	}
	out := make([]Node, 0, len(nodes))
	index := make(map[string]int)
	for _, n := range nodes {
		key := NormalizeID(n.ID)
		if i, ok := index[key]; ok {
			out[i] = mergeNode(out[i], n)
			continue
		}
		if key == targetKey {
			n.ID = target.ID
			if n.Type == TypeConcept && target.Type.Valid() && target.Type != TypeConcept {
				n.Type = target.Type
			}
		}
		index[key] = len(out)
		out = append(out, n)
	}
	canon := make(map[string]string, len(out))
	for key, i := range index {
		canon[key] = out[i].ID
	}
	return out, canon
}

func mergeNode(keep, dup Node) Node {
	if keep.Type == TypeConcept && dup.Type != TypeConcept {
		keep.Type = dup.Type
	}
	keep.Label = firstNonEmpty(keep.Label, dup.Label)
	keep.File = firstNonEmpty(keep.File, dup.File)
	keep.Description = firstNonEmpty(keep.Description, dup.Description)
	if keep.Explanation == "" || (placeholderRe.MatchString(keep.Explanation) && dup.Explanation != "") {
		keep.Explanation = dup.Explanation
	}
	return keep
}

// remapEdges resolves edge endpoints to canonical ids. Edges are first
// de-duplicated by normalized endpoints, so each distinct edge with an
// unknown endpoint is dropped with exactly one gap; parallel valid edges are
// merged.
func remapEdges(edges []Edge, canon map[string]string) ([]Edge, []Gap) {
	out := make([]Edge, 0, len(edges))
	index := make(map[[2]string]int)
	invalid := make(map[[2]string]bool)
	var gaps []Gap
	for _, e := range edges {
		from, okFrom := canon[NormalizeID(e.From)]
		to, okTo := canon[NormalizeID(e.To)]
		if !okFrom || !okTo {
			key := [2]string{NormalizeID(e.From), NormalizeID(e.To)}
			if !invalid[key] {
				invalid[key] = true
				gaps = append(gaps, droppedEdgeGap(e, okFrom, okTo))
			}
			continue
		}
		e.From, e.To = from, to
		key := [2]string{from, to}
		if i, ok := index[key]; ok {
			out[i].Label = firstNonEmpty(out[i].Label, e.Label)
			out[i].Explanation = firstNonEmpty(out[i].Explanation, e.Explanation)
			continue
		}
		index[key] = len(out)
		out = append(out, e)
	}
	return out, gaps
}

func droppedEdgeGap(e Edge, okFrom, okTo bool) Gap {
	missing := "both endpoints"
	switch {
	case okFrom:
		missing = fmt.Sprintf("target %q", e.To)
	case okTo:
		missing = fmt.Sprintf("source %q", e.From)
	}
	from, to := e.From, e.To
	if from == "" {
		from = "?"
	}
	if to == "" {
		to = "?"
	}
	return Gap{
		Source:      from,
		Target:      to,
		Explanation: fmt.Sprintf(defaultGapExplanationFmt, from, to, missing),
	}
}

// tagExplanation guarantees a provenance-tagged explanation.
func tagExplanation(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if m := tagRe.FindStringSubmatch(s); m != nil {
		rest := strings.TrimSpace(s[len(m[0]):])
		tag := "[" + strings.ToLower(m[1]) + "]"
		if rest == "" {
			return tag + " " + strings.TrimSpace(strings.TrimPrefix(def, TagReasoned))
		}
		return tag + " " + rest
	}
	return TagReasoned + " " + s
}

func prunePlaceholders(nodes []Node, edges []Edge, target Target) []Node {
	degree := make(map[string]int)
	for _, e := range edges {
		degree[e.From]++
		degree[e.To]++
	}
	targetKey := NormalizeID(target.ID)
	out := nodes[:0]
	for _, n := range nodes {
		if degree[n.ID] == 0 && placeholderRe.MatchString(n.Explanation) && NormalizeID(n.ID) != targetKey {
			continue
		}
		out = append(out, n)
	}
	return out
}

func ensureTarget(nodes []Node, target Target) []Node {
	if strings.TrimSpace(target.ID) == "" {
		return nodes
	}
	key := NormalizeID(target.ID)
	for _, n := range nodes {
		if NormalizeID(n.ID) == key {
			return nodes
		}
	}
	t := target.Type
	if !t.Valid() || t == TypeConcept {
		t = InferType(target.ID)
	}
	return append(nodes, Node{ID: target.ID, Type: t, Explanation: TargetPlaceholder})
}

func dedupeGaps(gaps []Gap) []Gap {
	out := make([]Gap, 0, len(gaps))
	seen := make(map[Gap]bool, len(gaps))
	for _, g := range gaps {
		g.Source = strings.TrimSpace(g.Source)
		g.Target = strings.TrimSpace(g.Target)
		g.Explanation = strings.TrimSpace(g.Explanation)
		if g.Explanation == "" || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	return out
}
