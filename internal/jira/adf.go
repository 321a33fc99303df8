package jira

import (
	"encoding/json"
	"strconv"
	"strings"
)

// adfNode is one node of an Atlassian Document Format tree.
type adfNode struct {
	Type    string    `json:"type"`
	Version int       `json:"version,omitempty"`
	Text    string    `json:"text,omitempty"`
	Content []adfNode `json:"content,omitempty"`
}

// flattenText renders a Jira rich-text field as plain text. The field may be a
// plain string (API v2 style), an ADF document, or null.
func flattenText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	var b strings.Builder
	renderADF(&b, doc, "")
	return strings.TrimSpace(collapseBlankLines(b.String()))
}

func renderADF(b *strings.Builder, n adfNode, prefix string) {
	switch n.Type {
	case "text":
		b.WriteString(n.Text)
	case "hardBreak":
		b.WriteString("\n")
	case "paragraph", "heading", "codeBlock":
		b.WriteString(prefix)
		for _, c := range n.Content {
			renderADF(b, c, "")
		}
		b.WriteString("\n")
	case "bulletList":
		for _, item := range n.Content {
			renderADF(b, item, "- ")
		}
	case "orderedList":
		for i, item := range n.Content {
			renderADF(b, item, strconv.Itoa(i+1)+". ")
		}
	case "listItem":
		for i, c := range n.Content {
			p := prefix
			if i > 0 {
				p = "  "
			}
			renderADF(b, c, p)
		}
	default:
		for _, c := range n.Content {
			renderADF(b, c, prefix)
		}
		if n.Type != "doc" && len(n.Content) > 0 {
			b.WriteString("\n")
		}
	}
}

// textDocument wraps plain text in a minimal ADF document, one paragraph per line.
func textDocument(text string) adfNode {
	doc := adfNode{Type: "doc", Version: 1}
	for _, line := range strings.Split(text, "\n") {
		p := adfNode{Type: "paragraph"}
		if line != "" {
			p.Content = []adfNode{{Type: "text", Text: line}}
		}
		doc.Content = append(doc.Content, p)
	}
	return doc
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
