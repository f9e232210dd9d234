package document

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "blockquote": true,
}

var paragraphGap = regexp.MustCompile(`\n{3,}`)

// StripHTML renders story HTML as plain text with blank lines between paragraphs.
func StripHTML(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", nil
	}
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("parse story html: %w", err)
	}
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && blockElements[node.Data] {
			buf.WriteString("\n\n")
		}
	}
	walk(doc)
	return normalizeParagraphs(buf.String()), nil
}

func normalizeParagraphs(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text = strings.Join(lines, "\n")
	text = paragraphGap.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
