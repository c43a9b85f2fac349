package prompt

import "strings"

const schema = `Return STRICT JSON only, in this schema:
{
  "variable": "<target>",
  "dataset": "<dataset or kind>",
  "summary": "<one sentence>",
  "lineage": {
    "nodes": [ {"id": "...", "type": "...", "label": "...", "file": "...", "description": "...", "explanation": "..."} ],
    "edges": [ {"from": "<node id>", "to": "<node id>", "label": "...", "explanation": "..."} ],
    "gaps":  [ {"source": "<node id>", "target": "<node id>", "explanation": "..."} ]
  }
}
`

const commonRules = `- Ids: SDTM variables are DOMAIN.VARIABLE (e.g. VS.VSORRES), ADaM variables are DATASET.VARIABLE (e.g. ADVS.AVAL), CRF anchors are "CRF page <n> • DOMAIN.VAR".
- Resolve lineage to the exact variable level, never just the dataset.
- Every node and every edge needs an explanation: one complete sentence starting with [direct] (cites a file, section, page or anchor from the evidence), [reasoned] (bridges nearby evidence) or [general] (CDISC convention, no citation).
- Edges point upstream to downstream: Protocol/USDM -> CRF -> SDTM -> ADaM -> TLF.
- Enumerate ALL supported parents and children, not a single path.
- Every edge must reference node ids that appear in "nodes".
- When evidence is missing or ambiguous, add a gap instead of inventing a node.
`

const variableRole = `You are a senior CDISC standards expert building a traceability tool across CDISC layers (Protocol -> CRF -> SDTM -> ADaM -> TLF).
The user provides one target variable from SDTM or ADaM. Construct a detailed lineage graph:
trace backward to the Protocol (exact section/page) and the CRF (exact page/field), and forward to SDTM/ADaM variables (multi-level possible) and the TLFs that consume them.`

const variableRules = `- For ADaM variables capture ALL SDTM parents and their CRF and Protocol anchors.
- For SDTM variables capture ALL downstream ADaM children (possibly multi-hop), then the TLFs.
- Include a Protocol -> target edge for context.
- Knowledge not backed by the evidence is tagged [general].
`

const endpointRole = `You are a CDISC lineage assistant. The user names a study endpoint, objective or schedule-of-activities item.
Build a lineage graph from the Protocol/USDM definition of the endpoint through the CRF fields that collect it, the SDTM and ADaM variables that carry it, and the displays that report it.`

const endpointRules = `- Anchor the endpoint node on the Protocol or USDM text and tag it [direct] when quoted.
- Link endpoint -> CRF page -> SDTM variable -> ADaM variable -> TLF display.
- Use 'protocol endpoint' for objectives/endpoints found in the protocol and 'endpoint' for the requested term when no exact match exists.
`

const displayRole = `You are a CDISC lineage assistant. The user names one TLF display (table, listing or figure).
Build a lineage graph from the display back through the ADaM variables it summarizes to their SDTM parents, CRF anchors and Protocol sections.`

const displayRules = `- The display node has type 'tlf display' and its id is the display identifier as given.
- Do NOT invent variables. Prefer exact DATASET.VARIABLE identifiers seen in the evidence.
`

const cellRole = `You are a CDISC lineage assistant. Build a lineage graph for ONE TLF cell using ONLY analysis-results (ARS/ARD) evidence for ADaM variables, filters, slices and operations.`

const cellRules = `- Do NOT invent variables. Prefer exact dataset.variable identifiers seen in the analysis results (e.g. ADVS.AVISIT, ADVS.CHG, ADSL.TRT01AN, ADAE.AESER).
- Coded fields (e.g. TRT01AN) are kept as-is, with human-readable labels from the same evidence when possible.
- Prefer the analysis-results vocabulary (AVISIT, CHG, TRT01AN) over friendly aliases (VISIT, CHANGE, TRT01A).
- If several slices match, choose the one that fits ALL segments of the cell spec.
- The cell node has type 'tlf cell' and its id is the cell spec exactly as given.
- Do not add SDTM nodes that the evidence does not name; add a gap for any unresolved SDTM backtrace instead.
- If nothing matches, return a minimal graph with the 'tlf cell' node and a gap explaining why.
`

const backtraceRole = `You are a CDISC lineage assistant completing an existing lineage graph. Some ADaM variables in it have no SDTM ancestry.`

const backtraceRules = `- For exactly the listed ADaM variables, add Protocol/USDM -> CRF -> SDTM -> ADaM chains supported by the evidence.
- You may add CDISC-conventional helper variables (e.g. BASE, CHG, AVISIT) when they sit on the derivation path.
- Reuse the listed ADaM ids verbatim so the new edges attach to the existing graph.
- Return only the incremental nodes, edges and gaps.
`

const repairRole = `You are a CDISC lineage assistant repairing connectivity in an existing lineage graph. Some SDTM variables are not linked to any ADaM variable.`

const repairRules = `- Use ONLY the analysis-results evidence below.
- For each listed SDTM variable either add the SDTM -> ADaM edge (introducing ADaM helper variables if needed) or add a gap with that SDTM id as source explaining why it cannot be connected.
- Reuse the listed ids verbatim.
- Return only the incremental nodes, edges and gaps.
`

// synonyms maps a canonical analysis term to the phrasings users write.
var synonyms = []struct {
	canon string
	alts  []string
}{
	{"treatment", []string{"arm", "group", "trt", "trt01a", "trt01an", "treatment arm", "dose", "drug"}},
	{"visit", []string{"avisit", "avisitn", "week", "timepoint", "visit week", "visit number"}},
	{"chg", []string{"change", "chg from baseline", "change from baseline", "delta", "difference", "chgbl", "chg_from_baseline"}},
	{"param", []string{"parameter", "paramcd", "paramn", "vstest", "vstestcd", "endpoint", "measure"}},
	{"pop", []string{"safety population", "itt", "pp", "saffl", "efffl", "fas", "analysis set"}},
	{"min", []string{"minimum", "lowest"}},
	{"max", []string{"maximum", "highest"}},
	{"mean", []string{"average"}},
}

// SynonymHints renders the synonym table, one "canon: alt, alt" line each.
func SynonymHints() string {
	lines := make([]string, len(synonyms))
	for i, s := range synonyms {
		lines[i] = s.canon + ": " + strings.Join(s.alts, ", ")
	}
	return strings.Join(lines, "\n")
}
