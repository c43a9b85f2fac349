package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

// keyColumnRe picks the columns that name a variable; their values form the
// left side of each flattened row.
var keyColumnRe = regexp.MustCompile(`(?i)(var|variable|name)$`)

// XLSXParser flattens spreadsheet specs row by row into
// "<key columns> :: col=value; col=value" lines, one block per sheet.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx", "xlsm"} }

func (p *XLSXParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var sections []Section

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) < 2 {
			continue
		}

		lines := flattenRows(rows)
		if len(lines) == 0 {
			continue
		}

		sections = append(sections, Section{
			Heading: "[SHEET: " + sheet + "]",
			Content: strings.Join(lines, "\n"),
			Type:    "sheet",
			Level:   1,
			Metadata: map[string]string{
				"sheet_name": sheet,
				"row_count":  fmt.Sprintf("%d", len(rows)-1),
			},
		})
	}

	if len(sections) == 0 {
		sections = []Section{{Content: "[EMPTY]", Type: "sheet"}}
	}

	return &ParseResult{
		Sections: sections,
		Method:   "flattened",
		Header:   "[EXCEL_SPEC: " + filepath.Base(path) + "]",
	}, nil
}

// flattenRows treats rows[0] as the header.
func flattenRows(rows [][]string) []string {
	header := make([]string, len(rows[0]))
	var keys, extra []int
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
		if keyColumnRe.MatchString(header[i]) {
			keys = append(keys, i)
		} else {
			extra = append(extra, i)
		}
	}

	cell := func(row []string, i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var lines []string
	for _, row := range rows[1:] {
		var left, right []string
		for _, i := range keys {
			if v := cell(row, i); v != "" {
				left = append(left, v)
			}
		}
		for _, i := range extra {
			if v := cell(row, i); v != "" {
				right = append(right, header[i]+"="+v)
			}
		}
		line := strings.Trim(strings.Join(left, " / ")+" :: "+strings.Join(right, "; "), " :")
		if len(line) > 2 {
			lines = append(lines, line)
		}
	}
	return lines
}
