package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnparseable is returned when model output cannot be coerced into a
// JSON object by any repair strategy.
var ErrUnparseable = errors.New("graph: unparseable model output")

// codeBlockRe strips markdown code fences from LLM output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)\\n?```")

var typographicQuotes = strings.NewReplacer(
	"“", `"`, "”", `"`, "„", `"`, "‟", `"`,
	"‘", "'", "’", "'", "‚", "'", "‛", "'",
)

// Parse coerces a model response into a Graph. variable and dataset fill the
// header fields when the response omits them.
func Parse(text, variable, dataset string) (Graph, error) {
	raw, err := ParseRaw(text)
	if err != nil {
		return Graph{}, err
	}
	return Decode(raw, variable, dataset), nil
}

// ParseRaw extracts the first JSON object from text, repairing the common
// deviations seen in model output: code fences, surrounding prose,
// typographic quotes, unclosed arrays, trailing commas and single-quoted
// literals.
func ParseRaw(text string) (map[string]any, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil, fmt.Errorf("%w: empty response", ErrUnparseable)
	}
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		s = m[1]
	}

	blob, ok := extractObject(s)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object found", ErrUnparseable)
	}

	obj, firstErr := decodeObject(balanceBrackets(blob))
	if firstErr == nil {
		return obj, nil
	}

	blob = balanceBrackets(typographicQuotes.Replace(blob))
	if obj, err := decodeObject(blob); err == nil {
		return obj, nil
	}
	if obj, err := decodeObject(literalToJSON(blob)); err == nil {
		return obj, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnparseable, firstErr)
}

func decodeObject(s string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top-level value is %T, not an object", v)
	}
	return obj, nil
}

// extractObject returns the first {...} span of s, skipping braces inside
// quoted strings. An object that never closes runs to the end of s.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	var quote byte
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return s[start:], true
}

// balanceBrackets closes unbalanced arrays and objects. A closer that arrives
// while deeper containers are still open first closes those; containers still
// open at the end are closed in order. Trailing commas before a closer are
// dropped.
func balanceBrackets(s string) string {
	out := make([]byte, 0, len(s)+8)
	var stack []byte
	var quote byte
	escaped := false

	closeTop := func() {
		trimTrailingComma(&out)
		if stack[len(stack)-1] == '{' {
			out = append(out, '}')
		} else {
			out = append(out, ']')
		}
		stack = stack[:len(stack)-1]
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			out = append(out, c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
			out = append(out, c)
		case '{', '[':
			stack = append(stack, c)
			out = append(out, c)
		case '}', ']':
			open := byte('{')
			if c == ']' {
				open = '['
			}
			if !containsByte(stack, open) {
				continue
			}
			for stack[len(stack)-1] != open {
				closeTop()
			}
			closeTop()
		default:
			out = append(out, c)
		}
	}
	if quote != 0 {
		out = append(out, quote)
	}
	for len(stack) > 0 {
		closeTop()
	}
	return string(out)
}

func trimTrailingComma(out *[]byte) {
	b := *out
	i := len(b) - 1
	for i >= 0 && (b[i] == ' ' || b[i] == '\n' || b[i] == '\r' || b[i] == '\t') {
		i--
	}
	if i >= 0 && b[i] == ',' {
		*out = append(b[:i], b[i+1:]...)
	}
}

func containsByte(b []byte, c byte) bool {
	for _, x := range b {
		if x == c {
			return true
		}
	}
	return false
}

// literalToJSON rewrites a Python-literal style object into JSON:
// single-quoted strings become double-quoted and True/False/None become
// true/false/null.
func literalToJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			j := i + 1
			for j < len(s) && s[j] != '"' {
				if s[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(s) {
				j = len(s) - 1
			}
			b.WriteString(s[i : j+1])
			i = j
		case c == '\'':
			var lit strings.Builder
			j := i + 1
			for ; j < len(s) && s[j] != '\''; j++ {
				if s[j] == '\\' && j+1 < len(s) {
					j++
					if s[j] == '\'' {
						lit.WriteByte('\'')
						continue
					}
					lit.WriteByte('\\')
				}
				lit.WriteByte(s[j])
			}
			b.WriteString(quoteJSON(lit.String()))
			i = j
		case isIdentStart(c):
			j := i
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			switch word := s[i:j]; word {
			case "True":
				b.WriteString("true")
			case "False":
				b.WriteString("false")
			case "None":
				b.WriteString("null")
			default:
				b.WriteString(word)
			}
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// quoteJSON encodes s as a JSON string, keeping backslash escapes the
// literal already carried.
func quoteJSON(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			b.WriteString(`\"`)
		case c == '\\' && i+1 < len(s):
			b.WriteByte(c)
			i++
			b.WriteByte(s[i])
		case c == '\\':
			b.WriteString(`\\`)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\t':
			b.WriteString(`\t`)
		case c < 0x20:
			b.WriteString(`\u00` + strconv.FormatInt(int64(c)>>4, 16) + strconv.FormatInt(int64(c)&0xf, 16))
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// Decode maps a loosely shaped model object onto a Graph. Edges may use
// from/to or source/target, gaps may be strings or objects, and the
// nodes/edges/gaps lists may sit at the top level instead of under lineage.
func Decode(raw map[string]any, variable, dataset string) Graph {
	lin := raw
	if l, ok := raw["lineage"].(map[string]any); ok {
		lin = l
	}
	g := Graph{
		Variable: firstNonEmpty(str(raw["variable"]), variable),
		Dataset:  firstNonEmpty(str(raw["dataset"]), dataset),
		Summary:  strings.TrimSpace(str(raw["summary"])),
		Lineage: Lineage{
			Nodes: []Node{},
			Edges: []Edge{},
			Gaps:  []Gap{},
		},
	}
	for _, item := range list(lin["nodes"]) {
		switch v := item.(type) {
		case string:
			g.Lineage.Nodes = append(g.Lineage.Nodes, Node{ID: v})
		case map[string]any:
			g.Lineage.Nodes = append(g.Lineage.Nodes, Node{
				ID:          firstNonEmpty(str(v["id"]), str(v["name"])),
				Type:        NodeType(str(v["type"])),
				Label:       firstNonEmpty(str(v["label"]), str(v["name"])),
				File:        str(v["file"]),
				Description: str(v["description"]),
				Explanation: firstNonEmpty(str(v["explanation"]), str(v["rationale"])),
			})
		}
	}
	for _, item := range list(lin["edges"]) {
		v, ok := item.(map[string]any)
		if !ok {
			continue
		}
		g.Lineage.Edges = append(g.Lineage.Edges, Edge{
			From:        firstNonEmpty(str(v["from"]), str(v["source"])),
			To:          firstNonEmpty(str(v["to"]), str(v["target"])),
			Label:       firstNonEmpty(str(v["label"]), str(v["relation"])),
			Explanation: firstNonEmpty(str(v["explanation"]), str(v["rationale"])),
		})
	}
	for _, item := range list(lin["gaps"]) {
		switch v := item.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				g.Lineage.Gaps = append(g.Lineage.Gaps, Gap{Explanation: v})
			}
		case map[string]any:
			gap := Gap{
				Source:      str(v["source"]),
				Target:      str(v["target"]),
				Explanation: firstNonEmpty(str(v["explanation"]), str(v["description"]), str(v["reason"])),
			}
			if gap.Explanation == "" {
				gap.Explanation = "Unexplained gap reported by the model."
			}
			g.Lineage.Gaps = append(g.Lineage.Gaps, gap)
		}
	}
	return g
}

func list(v any) []any {
	l, _ := v.([]any)
	return l
}

func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}
