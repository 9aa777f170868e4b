package msgproto

import (
	"regexp"
	"strings"
)

// SectionKind discriminates classified markdown sections.
type SectionKind string

const (
	SectionMarkdown SectionKind = "markdown"
	SectionActions  SectionKind = "recommended_actions"
)

// Section is a classified slice of a markdown segment: plain markdown, or
// a lifted recommended-actions list rendered with feedback affordances.
type Section struct {
	Kind  SectionKind `json:"kind"`
	Text  string      `json:"text,omitempty"`
	Items []string    `json:"items,omitempty"`
}

var (
	actionsPhrasePattern = regexp.MustCompile(`(?i)\b(?:recommended\s+actions?|next\s+steps|steps)\b`)
	atxHeadingPattern    = regexp.MustCompile(`^#{1,3}\s`)
	listItemPattern      = regexp.MustCompile(`^(?:[-*]|\d+\.)\s+(.*)$`)

	// Terminators for the list region. This boundary is a heuristic, not a
	// contract: a heading-like line, a bolded stand-alone line, or a
	// horizontal rule ends the region, and so does any other non-blank
	// non-list line. Models that emit stranger shapes after the list simply
	// push the remainder into the trailing markdown section.
	terminatorHeadingPattern = regexp.MustCompile(`^#{1,6}\s`)
	boldLinePattern          = regexp.MustCompile(`^\*\*[^*].*\*\*:?$`)
	horizontalRulePattern    = regexp.MustCompile(`^(?:-{3,}|\*{3,}|_{3,})$`)
)

// ClassifyActionSections finds a "Recommended Actions"/"Next Steps"/"Steps"
// label in a markdown segment and lifts the list that follows it into a
// recommended_actions section. Detection tries an ATX heading first, then
// a bolded line, then a colon-terminated label line, each matched at its
// earliest position. When nothing matches, or when the label has no list
// under it, the input comes back unchanged as a single markdown section;
// classification never loses content.
func ClassifyActionSections(markdownText string) []Section {
	lines := strings.Split(markdownText, "\n")

	idx := findActionsLabel(lines)
	if idx < 0 {
		return []Section{{Kind: SectionMarkdown, Text: markdownText}}
	}

	items, end := collectListItems(lines, idx+1)
	if len(items) == 0 {
		return []Section{{Kind: SectionMarkdown, Text: markdownText}}
	}

	var sections []Section
	if before := strings.TrimSpace(strings.Join(lines[:idx], "\n")); before != "" {
		sections = append(sections, Section{Kind: SectionMarkdown, Text: before})
	}
	sections = append(sections, Section{Kind: SectionActions, Items: items})
	if after := strings.TrimSpace(strings.Join(lines[end:], "\n")); after != "" {
		sections = append(sections, Section{Kind: SectionMarkdown, Text: after})
	}
	return sections
}

func findActionsLabel(lines []string) int {
	heading, bold, label := -1, -1, -1
	for i, raw := range lines {
		t := strings.TrimSpace(raw)
		if !actionsPhrasePattern.MatchString(t) {
			continue
		}
		switch {
		case atxHeadingPattern.MatchString(t):
			if heading < 0 {
				heading = i
			}
		case boldLinePattern.MatchString(t):
			if bold < 0 {
				bold = i
			}
		case strings.HasSuffix(t, ":"):
			if label < 0 {
				label = i
			}
		}
	}
	switch {
	case heading >= 0:
		return heading
	case bold >= 0:
		return bold
	default:
		return label
	}
}

// collectListItems consumes the bullet/numbered list following the label,
// skipping blank lines between items, and returns the items plus the index
// of the first line after the last item.
func collectListItems(lines []string, start int) ([]string, int) {
	var items []string
	end := start
	for i := start; i < len(lines); i++ {
		t := strings.TrimSpace(lines[i])
		if t == "" {
			continue
		}
		if terminatorHeadingPattern.MatchString(t) ||
			boldLinePattern.MatchString(t) ||
			horizontalRulePattern.MatchString(t) {
			break
		}
		m := listItemPattern.FindStringSubmatch(t)
		if m == nil {
			break
		}
		items = append(items, strings.TrimSpace(m[1]))
		end = i + 1
	}
	return items, end
}
