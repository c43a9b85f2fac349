package graph

import "strings"

// NodeType is the closed vocabulary of lineage node kinds.
type NodeType string

// Node type constants. The string values are the wire form.
const (
	TypeProtocolSection  NodeType = "protocol section"
	TypeProtocolEndpoint NodeType = "protocol endpoint"
	TypeCRFPage          NodeType = "crf page"
	TypeSDTMDataset      NodeType = "sdtm dataset"
	TypeSDTMVariable     NodeType = "sdtm variable"
	TypeADaMDataset      NodeType = "adam dataset"
	TypeADaMVariable     NodeType = "adam variable"
	TypeTLFDisplay       NodeType = "tlf display"
	TypeTLFCell          NodeType = "tlf cell"
	TypeEndpoint         NodeType = "endpoint"
	TypeConcept          NodeType = "concept"
)

// AllTypes lists the vocabulary in upstream-to-downstream order.
var AllTypes = []NodeType{
	TypeProtocolSection,
	TypeProtocolEndpoint,
	TypeEndpoint,
	TypeCRFPage,
	TypeSDTMDataset,
	TypeSDTMVariable,
	TypeADaMDataset,
	TypeADaMVariable,
	TypeTLFDisplay,
	TypeTLFCell,
	TypeConcept,
}

// typeSynonyms maps loose type strings seen in model output to the closed
// vocabulary. Generic placeholders map to "" so the normalizer infers the
// type from the id. Lookups go through typeKey, so "SdtmVariable",
// "sdtm_variable" and "SDTM-Variable" all hit "sdtm variable".
var typeSynonyms = map[string]NodeType{
	"":          "",
	"target":    "",
	"source":    "",
	"concept":   "",
	"variable":  "",
	"node":      "",
	"unknown":   "",
	"entity":    "",
	"reference": "",
	"dataset":   "",
	"sdtm":      "",
	"adam":      "",

	"protocol section":       TypeProtocolSection,
	"protocol":               TypeProtocolSection,
	"protocol text":          TypeProtocolSection,
	"sap":                    TypeProtocolSection,
	"sap section":            TypeProtocolSection,
	"protocol/sap":           TypeProtocolSection,
	"protocol_section":       TypeProtocolSection,
	"usdm":                   TypeProtocolSection,
	"study design":           TypeProtocolSection,
	"soa":                    TypeProtocolSection,
	"schedule of activities": TypeProtocolSection,

	"protocol endpoint":  TypeProtocolEndpoint,
	"protocol_endpoint":  TypeProtocolEndpoint,
	"usdm endpoint":      TypeProtocolEndpoint,
	"objective":          TypeProtocolEndpoint,
	"endpoint":           TypeEndpoint,
	"primary endpoint":   TypeEndpoint,
	"secondary endpoint": TypeEndpoint,

	"crf page":   TypeCRFPage,
	"crf":        TypeCRFPage,
	"acrf":       TypeCRFPage,
	"crf_page":   TypeCRFPage,
	"crf field":  TypeCRFPage,
	"crf anchor": TypeCRFPage,

	"sdtm dataset":  TypeSDTMDataset,
	"sdtm domain":   TypeSDTMDataset,
	"sdtm_dataset":  TypeSDTMDataset,
	"domain":        TypeSDTMDataset,
	"sdtm variable": TypeSDTMVariable,
	"sdtm_variable": TypeSDTMVariable,

	"adam dataset":      TypeADaMDataset,
	"adam_dataset":      TypeADaMDataset,
	"analysis dataset":  TypeADaMDataset,
	"adam variable":     TypeADaMVariable,
	"adam_variable":     TypeADaMVariable,
	"analysis variable": TypeADaMVariable,

	"tlf display": TypeTLFDisplay,
	"tlf_display": TypeTLFDisplay,
	"table":       TypeTLFDisplay,
	"tlf":         TypeTLFDisplay,
	"display":     TypeTLFDisplay,
	"listing":     TypeTLFDisplay,
	"figure":      TypeTLFDisplay,
	"output":      TypeTLFDisplay,
	"tlf cell":    TypeTLFCell,
	"tlf_cell":    TypeTLFCell,
	"cell":        TypeTLFCell,
	"output cell": TypeTLFCell,
	"table cell":  TypeTLFCell,
}

// CanonicalType translates a loose type string into the closed vocabulary.
// It returns "" for generic placeholders and for strings it does not know,
// leaving the decision to id-based inference.
func CanonicalType(s string) NodeType {
	return synonymIndex[typeKey(s)]
}

// synonymIndex is typeSynonyms keyed by typeKey.
var synonymIndex = func() map[string]NodeType {
	idx := make(map[string]NodeType, len(typeSynonyms))
	for k, t := range typeSynonyms {
		idx[typeKey(k)] = t
	}
	return idx
}()

// typeKey lower-cases s and drops spaces, underscores and hyphens.
func typeKey(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '_', '-':
			return -1
		}
		return r
	}, strings.ToLower(s))
}

// Valid reports whether t is a member of the closed vocabulary.
func (t NodeType) Valid() bool {
	for _, v := range AllTypes {
		if t == v {
			return true
		}
	}
	return false
}

// IsSDTM reports whether t is an SDTM dataset or variable.
func (t NodeType) IsSDTM() bool {
	return t == TypeSDTMDataset || t == TypeSDTMVariable
}

// IsADaM reports whether t is an ADaM dataset or variable.
func (t NodeType) IsADaM() bool {
	return t == TypeADaMDataset || t == TypeADaMVariable
}
