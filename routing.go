package golineage

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/brunobiangulo/golineage/graph"
	"github.com/brunobiangulo/golineage/llm"
	"github.com/brunobiangulo/golineage/prompt"
)

// Route is the classification of a request.
type Route struct {
	Kind        prompt.Kind        `json:"kind"`
	DisplayMode prompt.DisplayMode `json:"display_mode,omitempty"`
	// ARSFallback is set in ars mode when no analysis-results file names the
	// display and all of them are used as evidence.
	ARSFallback bool `json:"ars_fallback,omitempty"`
}

func (r Route) String() string {
	s := string(r.Kind)
	if r.DisplayMode != "" {
		s += "/" + string(r.DisplayMode)
	}
	if r.ARSFallback {
		s += "+all-ars"
	}
	return s
}

// Classify maps an explicit (dataset, variable) pair to a target kind.
// Display sub-modes depend on session evidence and are resolved by the
// engine.
func Classify(dataset, variable string) Route {
	switch strings.ToLower(strings.TrimSpace(dataset)) {
	case "endpoint", "protocol", "soa":
		return Route{Kind: prompt.KindEndpoint}
	case "table", "tlf", "display":
		if strings.Contains(variable, "|") {
			return Route{Kind: prompt.KindTableCell}
		}
		return Route{Kind: prompt.KindTableDisplay}
	}
	return Route{Kind: prompt.KindVariable}
}

// Completer issues a forced-JSON chat completion. *llm.Caller satisfies it.
type Completer interface {
	CompleteJSON(ctx context.Context, msgs []llm.Message) (*llm.ChatResponse, error)
}

var (
	qualifiedVarRe = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9]{1,7})\.([A-Za-z][A-Za-z0-9_]{0,7})$`)
	endpointWordRe = regexp.MustCompile(`(?i)\b(endpoints?|objectives?|schedule of (activities|assessments)|soa)\b`)
	displayIDRe    = regexp.MustCompile(`(?i)^(t|l|f|table|listing|figure)[\s_-]*\d+(\.\d+)*\b`)
)

const routeSystem = `Classify a clinical-trial lineage request. Return STRICT JSON {"dataset": "...", "variable": "..."}.
- dataset is a dataset or domain name (e.g. ADSL, ADVS, VS, DM) for a variable, "endpoint" for endpoints, objectives or schedule-of-activities items, or "table" for TLF displays and cells.
- variable is the variable name, endpoint text, display id or cell spec, taken from the request.`

// ClassifyText turns free text into an explicit request. The first matching
// rule wins: a pipe means a table cell; DATASET.VAR means a variable;
// endpoint, objective or SoA wording means an endpoint; a display id such as
// "T14.1.1" or "Table 14.2" means a table display. Otherwise a non-nil
// completer is asked once, and the text is finally treated as a bare
// variable name.
func ClassifyText(ctx context.Context, text string, c Completer) Request {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return Request{}
	case strings.Contains(text, "|"):
		return Request{Dataset: "table", Variable: text}
	case qualifiedVarRe.MatchString(text):
		m := qualifiedVarRe.FindStringSubmatch(text)
		return Request{Dataset: strings.ToUpper(m[1]), Variable: strings.ToUpper(m[2])}
	case endpointWordRe.MatchString(text):
		return Request{Dataset: "endpoint", Variable: text}
	case displayIDRe.MatchString(text):
		return Request{Dataset: "table", Variable: text}
	}

	if c != nil {
		req, err := classifyWithModel(ctx, text, c)
		if err == nil {
			return req
		}
		slog.Warn("lineage: model routing failed, using bare text", "error", err)
	}
	return Request{Variable: text}
}

func classifyWithModel(ctx context.Context, text string, c Completer) (Request, error) {
	resp, err := c.CompleteJSON(ctx, []llm.Message{
		{Role: "system", Content: routeSystem},
		{Role: "user", Content: text},
	})
	if err != nil {
		return Request{}, err
	}
	raw, err := graph.ParseRaw(resp.Content)
	if err != nil {
		return Request{}, err
	}
	ds, _ := raw["dataset"].(string)
	v, _ := raw["variable"].(string)
	if strings.TrimSpace(v) == "" {
		return Request{}, fmt.Errorf("routing response names no variable")
	}
	return Request{Dataset: strings.TrimSpace(ds), Variable: strings.TrimSpace(v)}, nil
}
