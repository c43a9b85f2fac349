package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// TextParser passes markup and plain text through verbatim.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string {
	return []string{"txt", "xml", "html", "htm", "json", "md"}
}

func (p *TextParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}

	content := string(data)
	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "")
	}
	if content == "" {
		return &ParseResult{
			Method: "native",
		}, nil
	}

	return &ParseResult{
		Sections: []Section{
			{
				Content: content,
				Level:   1,
				Type:    "section",
			},
		},
		Method:   "native",
		Metadata: map[string]string{"filename": filepath.Base(path)},
	}, nil
}
