package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts protocol and spec text page by page, splitting each
// page into numbered sections.
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	sections := make([]Section, 0)

	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		sections = append(sections, splitPageIntoSections(text, i)...)
	}

	if len(sections) == 0 {
		return nil, fmt.Errorf("no extractable text in PDF %s", path)
	}

	return &ParseResult{
		Sections: sections,
		Method:   "native",
		Metadata: map[string]string{"pages": fmt.Sprintf("%d", totalPages)},
	}, nil
}

// splitPageIntoSections breaks page text into logical sections.
func splitPageIntoSections(text string, pageNum int) []Section {
	lines := strings.Split(text, "\n")
	var sections []Section
	var currentContent strings.Builder
	var currentHeading string
	currentLevel := 0

	flush := func() {
		if currentContent.Len() == 0 {
			return
		}
		sections = append(sections, Section{
			Heading:    currentHeading,
			Content:    strings.TrimSpace(currentContent.String()),
			Level:      currentLevel,
			PageNumber: pageNum,
			Type:       classifySectionType(currentHeading, currentContent.String()),
		})
		currentContent.Reset()
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if isLikelyHeading(trimmed) {
			flush()
			currentHeading = trimmed
			currentLevel = detectHeadingLevel(trimmed)
			continue
		}
		if currentContent.Len() > 0 {
			currentContent.WriteString("\n")
		}
		currentContent.WriteString(trimmed)
	}
	flush()

	// A page of headings only keeps its text as one section.
	if len(sections) == 0 && strings.TrimSpace(text) != "" {
		sections = append(sections, Section{
			Content:    text,
			PageNumber: pageNum,
			Type:       "section",
		})
	}

	return sections
}

var headingPrefixes = []string{"section ", "appendix ", "chapter ", "synopsis", "table ", "figure ", "listing "}

func isLikelyHeading(line string) bool {
	// All caps and short
	if len(line) < 100 && len(line) > 2 && line == strings.ToUpper(line) && strings.ToUpper(line) != strings.ToLower(line) {
		return true
	}
	if len(line) >= 120 {
		return false
	}
	// Numbered section like "1.", "9.1", "9.4.2 Efficacy Analyses"
	if line[0] >= '0' && line[0] <= '9' && strings.Contains(line[:min(10, len(line))], ".") {
		return true
	}
	lower := strings.ToLower(line)
	for _, p := range headingPrefixes {
		if strings.HasPrefix(lower, p) {
			// "Table 14..." only when followed by a digit, to skip prose.
			if (p == "table " || p == "figure " || p == "listing ") &&
				(len(lower) <= len(p) || lower[len(p)] < '0' || lower[len(p)] > '9') {
				continue
			}
			return true
		}
	}
	return false
}

func detectHeadingLevel(heading string) int {
	// Count dots in numbering to determine depth
	parts := strings.SplitN(heading, " ", 2)
	if len(parts) > 0 {
		dots := strings.Count(strings.TrimSuffix(parts[0], "."), ".")
		if parts[0] != "" && parts[0][0] >= '0' && parts[0][0] <= '9' {
			return dots + 1
		}
	}
	// All-caps = top level
	if heading == strings.ToUpper(heading) {
		return 1
	}
	return 2
}

func classifySectionType(heading, content string) string {
	headingLower := strings.ToLower(heading)
	contentLower := strings.ToLower(content)

	switch {
	case strings.Contains(headingLower, "objective") || strings.Contains(headingLower, "endpoint") ||
		strings.Contains(contentLower, "primary endpoint") || strings.Contains(contentLower, "secondary endpoint"):
		return "endpoint"
	case strings.Contains(headingLower, "schedule of activities") || strings.Contains(headingLower, "schedule of assessments") ||
		strings.Contains(headingLower, "soa"):
		return "schedule"
	case strings.HasPrefix(headingLower, "table ") || strings.Count(content, "\t") > 3 || strings.Count(content, "|") > 3:
		return "table"
	}
	return "section"
}
