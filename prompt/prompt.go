// Package prompt builds the chat messages that ask a model to synthesize a
// lineage graph from retrieved evidence.
package prompt

import (
	"fmt"
	"strings"

	"github.com/brunobiangulo/golineage/chunker"
	"github.com/brunobiangulo/golineage/graph"
	"github.com/brunobiangulo/golineage/llm"
)

// Kind is the kind of entity being traced.
type Kind string

const (
	KindVariable     Kind = "variable"
	KindEndpoint     Kind = "endpoint"
	KindTableDisplay Kind = "table-display"
	KindTableCell    Kind = "table-cell"
)

// DisplayMode selects the evidence wording for table-display prompts.
type DisplayMode string

const (
	DisplayARS       DisplayMode = "ars"
	DisplayDefineARS DisplayMode = "define-ars"
	DisplayTitles    DisplayMode = "titles"
)

// DefaultEvidenceChars is the per-chunk truncation budget.
const DefaultEvidenceChars = 2400

// Target names what the prompt asks about.
type Target struct {
	ID          string      // canonical target id
	Dataset     string      // variable mode
	Variable    string      // variable mode
	DisplayMode DisplayMode // table-display mode
}

// Options tunes prompt construction.
type Options struct {
	EvidenceChars int
}

func (o Options) evidenceChars() int {
	if o.EvidenceChars <= 0 {
		return DefaultEvidenceChars
	}
	return o.EvidenceChars
}

// Messages is a system/user message pair.
type Messages struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// ChatMessages converts the pair to the llm message list.
func (m Messages) ChatMessages() []llm.Message {
	return []llm.Message{
		{Role: "system", Content: m.System},
		{Role: "user", Content: m.User},
	}
}

// Build returns the messages for one target kind.
func Build(kind Kind, t Target, chunks []chunker.Chunk, opts Options) Messages {
	n := opts.evidenceChars()
	switch kind {
	case KindEndpoint:
		return Messages{
			System: system(endpointRole, endpointRules),
			User: fmt.Sprintf("Target endpoint: %s\nTrace it through the study design to the variables and outputs that measure it.\n%s",
				t.ID, EvidenceBlock("EVIDENCE (Protocol, USDM, CRF index, TLF titles)", chunks, n)),
		}
	case KindTableDisplay:
		return Messages{
			System: system(displayRole, displayRules+displayModeRules(t.DisplayMode)),
			User: fmt.Sprintf("Target display: %s\nBuild the lineage graph for this display now.\n%s",
				t.ID, EvidenceBlock(displayEvidenceHeading(t.DisplayMode), chunks, n)),
		}
	case KindTableCell:
		return Messages{
			System: system(cellRole, cellRules+"\nSynonym hints to match user phrasing to analysis-results terms:\n"+SynonymHints()+"\n"),
			User: fmt.Sprintf("User TLF cell spec (flexible segments separated by '|'): %s\nFind the best matching analysis-results slice and build the lineage graph now. Use the cell spec verbatim as the id of the 'tlf cell' node.\n%s",
				t.ID, EvidenceBlock("EVIDENCE (analysis results only)", chunks, n)),
		}
	default:
		return Messages{
			System: system(variableRole, variableRules),
			User: fmt.Sprintf("Target variable: %s\nBuild the full traceability graph now.\n%s",
				variableID(t), EvidenceBlock("EVIDENCE", chunks, n)),
		}
	}
}

// Backtrace asks for Protocol/USDM -> CRF -> SDTM -> ADaM chains feeding the
// given ADaM variables.
func Backtrace(adamVars []string, chunks []chunker.Chunk, opts Options) Messages {
	return Messages{
		System: system(backtraceRole, backtraceRules),
		User: fmt.Sprintf("ADaM variables lacking SDTM ancestry: %s\nAdd the upstream chains for exactly these variables.\n%s",
			strings.Join(adamVars, ", "), EvidenceBlock("EVIDENCE", chunks, opts.evidenceChars())),
	}
}

// ConnectivityRepair asks for the missing SDTM -> ADaM edges, or a gap per
// SDTM variable that cannot be connected.
func ConnectivityRepair(sdtmVars, adamVars []string, chunks []chunker.Chunk, opts Options) Messages {
	adam := "none"
	if len(adamVars) > 0 {
		adam = strings.Join(adamVars, ", ")
	}
	return Messages{
		System: system(repairRole, repairRules),
		User: fmt.Sprintf("SDTM variables with no ADaM child: %s\nADaM variables already in the graph: %s\nSupply the missing edges or explain each gap.\n%s",
			strings.Join(sdtmVars, ", "), adam, EvidenceBlock("EVIDENCE (analysis results only)", chunks, opts.evidenceChars())),
	}
}

// EvidenceBlock serializes chunks as "[CHUNK <id>]" sections, truncating each
// text to n runes.
func EvidenceBlock(heading string, chunks []chunker.Chunk, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n\n--- %s ---\n", heading)
	if len(chunks) == 0 {
		b.WriteString("\n(no evidence retrieved)\n")
	}
	for _, c := range chunks {
		fmt.Fprintf(&b, "\n[CHUNK %s]\n%s\n", c.ID, truncate(c.Text, n))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func variableID(t Target) string {
	if t.ID != "" {
		return t.ID
	}
	if t.Dataset == "" {
		return t.Variable
	}
	return t.Dataset + "." + t.Variable
}

// system joins the role line, the kind-specific rules and the rules every
// lineage prompt shares.
func system(role, rules string) string {
	var b strings.Builder
	b.WriteString(role)
	b.WriteString("\n\nRules:\n")
	b.WriteString(rules)
	b.WriteString(commonRules)
	b.WriteString("- Node types, use exactly one of: ")
	b.WriteString(nodeTypeList())
	b.WriteString(".\n")
	b.WriteString(schema)
	return b.String()
}

func nodeTypeList() string {
	names := make([]string, len(graph.AllTypes))
	for i, t := range graph.AllTypes {
		names[i] = "'" + string(t) + "'"
	}
	return strings.Join(names, ", ")
}

func displayModeRules(m DisplayMode) string {
	switch m {
	case DisplayARS:
		return "- Analysis-results JSON is available for this display. Take ADaM variables, filters and operations from it.\n"
	case DisplayDefineARS:
		return "- The define file carries AnalysisResult metadata for this display. Take ADaM variables and selection criteria from it.\n"
	default:
		return "- Only the display title is available. Infer the ADaM variables from the title and CDISC conventions, tag those nodes [general], and add a gap noting the missing analysis-results evidence.\n"
	}
}

func displayEvidenceHeading(m DisplayMode) string {
	switch m {
	case DisplayARS:
		return "EVIDENCE (prioritized: CRF, Protocol, USDM, ARS, TLF titles)"
	case DisplayDefineARS:
		return "EVIDENCE (define AnalysisResult metadata, Protocol, CRF, TLF titles)"
	default:
		return "EVIDENCE (TLF titles, Protocol, CRF)"
	}
}
