package document

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// skippedElements hold no visible prose.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"head":     true,
}

// htmlText returns the visible text of an HTML document, one text node per
// line. Whitespace is left for the chunker to normalise.
func htmlText(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var sb strings.Builder
	depth := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", fmt.Errorf("parse html: %w", err)
			}
			return strings.TrimSpace(sb.String()), nil

		case html.StartTagToken:
			name, _ := z.TagName()
			if skippedElements[string(name)] {
				depth++
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			if skippedElements[string(name)] && depth > 0 {
				depth--
			}

		case html.TextToken:
			if depth > 0 {
				continue
			}
			if text := strings.TrimSpace(string(z.Text())); text != "" {
				sb.WriteString(text)
				sb.WriteByte('\n')
			}
		}
	}
}
