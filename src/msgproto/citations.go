package msgproto

import (
	"regexp"
	"strings"
)

// NodeKind discriminates the pieces ExtractCitations returns.
type NodeKind string

const (
	NodeText     NodeKind = "text"
	NodeCitation NodeKind = "citation"
)

// CitationNode is either a run of plain text or a citation chip whose
// label replaces an inline [ERP: ...] marker.
type CitationNode struct {
	Kind  NodeKind `json:"kind"`
	Text  string   `json:"text,omitempty"`
	Label string   `json:"label,omitempty"`
}

// The label may be empty ([ERP:] is tolerated); trimming happens after the
// match. The pattern is shared across calls, which is safe because the
// FindAll* methods keep no scan position between invocations.
var citationPattern = regexp.MustCompile(`\[ERP:([^\]]*)\]`)

// ExtractCitations splits text into plain-text and citation nodes on
// [ERP: <label>] markers. When no marker is present the whole input comes
// back as a single text node, so callers can render the result uniformly.
// Empty-label markers produce a citation node with an empty label;
// whether to display those is the view's call.
func ExtractCitations(text string) []CitationNode {
	matches := citationPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return []CitationNode{{Kind: NodeText, Text: text}}
	}

	nodes := make([]CitationNode, 0, len(matches)*2+1)
	last := 0
	for _, m := range matches {
		if m[0] > last {
			nodes = append(nodes, CitationNode{Kind: NodeText, Text: text[last:m[0]]})
		}
		label := strings.TrimSpace(text[m[2]:m[3]])
		nodes = append(nodes, CitationNode{Kind: NodeCitation, Label: label})
		last = m[1]
	}
	if last < len(text) {
		nodes = append(nodes, CitationNode{Kind: NodeText, Text: text[last:]})
	}
	return nodes
}
