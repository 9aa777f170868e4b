package msgproto

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Role is the authoring role of a message. Only agent messages carry
// typed blocks; user and context text renders as plain markdown.
type Role string

const (
	RoleUser    Role = "user"
	RoleAgent   Role = "agent"
	RoleContext Role = "context"
)

// PartKind discriminates the entries of a render plan.
type PartKind string

const (
	PartMarkdown PartKind = "markdown"
	PartActions  PartKind = "recommended_actions"
	PartBlock    PartKind = "block"
)

// Part is one ordered render unit handed to a view collaborator.
type Part struct {
	Kind PartKind `json:"kind"`

	// Markdown parts.
	Text  string         `json:"text,omitempty"`
	Nodes []CitationNode `json:"nodes,omitempty"`

	// Recommended-actions parts.
	Items []string `json:"items,omitempty"`

	// Typed block parts.
	Block   BlockKind `json:"block,omitempty"`
	Payload Payload   `json:"payload,omitempty"`

	// SelectionKey identifies approvable parts (material picks, action
	// results) stably enough that a recorded selection can be matched
	// back without re-decoding. Empty for everything else.
	SelectionKey string `json:"selectionKey,omitempty"`
}

// Plan is the ordered render plan for one message.
type Plan struct {
	Parts []Part `json:"parts"`
}

// Failed reports whether any block part of the plan failed to decode.
func (p Plan) Failed() []DecodeFailure {
	var failures []DecodeFailure
	for _, part := range p.Parts {
		if f, ok := part.Payload.(DecodeFailure); ok {
			failures = append(failures, f)
		}
	}
	return failures
}

// BuildPlan runs the full pipeline for one message: block split, then per
// part either payload decoding or section classification plus citation
// extraction. Part order follows source order exactly. Non-agent messages
// never carry blocks, so their content becomes a single markdown part.
func BuildPlan(role Role, content string, kinds []KindSpec) Plan {
	if role != RoleAgent {
		return Plan{Parts: []Part{markdownPart(content)}}
	}

	var parts []Part
	for _, seg := range Split(content, kinds) {
		if seg.Kind != KindMarkdown {
			parts = append(parts, blockPart(seg))
			continue
		}
		if seg.Text == "" {
			// Whitespace-only gap between blocks; nothing to render.
			continue
		}
		for _, sec := range ClassifyActionSections(seg.Text) {
			if sec.Kind == SectionActions {
				parts = append(parts, Part{Kind: PartActions, Items: sec.Items})
				continue
			}
			parts = append(parts, markdownPart(sec.Text))
		}
	}
	if len(parts) == 0 {
		parts = []Part{markdownPart(content)}
	}
	return Plan{Parts: parts}
}

func markdownPart(text string) Part {
	return Part{Kind: PartMarkdown, Text: text, Nodes: ExtractCitations(text)}
}

func blockPart(seg Segment) Part {
	payload := Decode(seg)
	part := Part{Kind: PartBlock, Block: seg.Kind, Payload: payload}
	switch p := payload.(type) {
	case MaterialPick:
		part.SelectionKey = SelectionKey(KindMaterialPick, p.Grade)
	case ActionResult:
		part.SelectionKey = SelectionKey(KindActionResult, p.Title)
	}
	return part
}

// SelectionKey builds the stable identity used to match an approvable part
// against a previously recorded selection.
func SelectionKey(kind BlockKind, field string) string {
	return string(kind) + ":" + strings.TrimSpace(field)
}

// Planner memoizes render plans by role and content so unchanged messages
// are not re-parsed on every render. Memoization is purely a performance
// concern: a cache miss and a hit return identical plans.
type Planner struct {
	cache *lru.Cache[string, Plan]
}

// NewPlanner creates a Planner holding up to size memoized plans.
func NewPlanner(size int) (*Planner, error) {
	cache, err := lru.New[string, Plan](size)
	if err != nil {
		return nil, err
	}
	return &Planner{cache: cache}, nil
}

// Plan returns the (possibly memoized) render plan for a message.
func (p *Planner) Plan(role Role, content string, kinds []KindSpec) Plan {
	key := cacheKey(role, content, kinds)
	if plan, ok := p.cache.Get(key); ok {
		return plan
	}
	plan := BuildPlan(role, content, kinds)
	p.cache.Add(key, plan)
	return plan
}

func cacheKey(role Role, content string, kinds []KindSpec) string {
	var b strings.Builder
	b.WriteString(string(role))
	b.WriteByte(0)
	for _, ks := range kinds {
		b.WriteString(string(ks.Kind))
		b.WriteByte(';')
	}
	b.WriteByte(0)
	b.WriteString(content)
	return b.String()
}
