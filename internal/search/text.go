package search

import (
	"strings"

	"golang.org/x/net/html"
)

// skipElements are containers whose text content is never evidence
var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"nav":      true,
	"header":   true,
	"footer":   true,
	"aside":    true,
	"form":     true,
}

// ExtractText converts an HTML document to plain text for the
// evidence-extraction prompt. Non-content containers are skipped, block
// elements become line breaks, and whitespace is collapsed. Input that fails
// to parse as HTML is returned cleaned as-is.
func ExtractText(htmlContent string) string {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return collapseWhitespace(htmlContent)
	}

	var b strings.Builder
	var walk func(*html.Node)

	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipElements[n.Data] {
			return
		}

		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				b.WriteString(text)
				b.WriteByte(' ')
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode && isBlockElement(n.Data) {
			b.WriteByte('\n')
		}
	}

	walk(doc)
	return collapseWhitespace(b.String())
}

// isBlockElement reports whether the element ends a text block
func isBlockElement(tag string) bool {
	switch tag {
	case "p", "div", "section", "article", "li", "tr", "br",
		"h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "table":
		return true
	}
	return false
}

// collapseWhitespace normalizes runs of spaces and blank lines
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
