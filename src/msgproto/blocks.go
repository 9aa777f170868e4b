// Package msgproto implements the message-content protocol that sits
// between a raw assistant reply and the structured dashboard views:
// delimited-block splitting, per-kind payload decoding, inline citation
// extraction, and recommended-actions section lifting.
package msgproto

import "strings"

// BlockKind discriminates the typed blocks an assistant reply may embed.
type BlockKind string

const (
	// KindMarkdown marks a plain markdown segment between typed blocks.
	KindMarkdown BlockKind = "markdown"

	KindEmailDraft           BlockKind = "email_draft"
	KindQuoteDraft           BlockKind = "quote_draft"
	KindMaterialAlternatives BlockKind = "material_alternatives"
	KindActionResult         BlockKind = "action_result"
	KindMaterialPick         BlockKind = "material_pick"
)

// KindSpec pairs a block kind with its open/close delimiter tokens.
type KindSpec struct {
	Kind  BlockKind
	Open  string
	Close string
}

// SpecFor derives the HTML-comment delimiter pair for a kind, e.g.
// email_draft -> "<!-- EMAIL_DRAFT -->" / "<!-- /EMAIL_DRAFT -->".
func SpecFor(kind BlockKind) KindSpec {
	token := strings.ToUpper(string(kind))
	return KindSpec{
		Kind:  kind,
		Open:  "<!-- " + token + " -->",
		Close: "<!-- /" + token + " -->",
	}
}

// Per-thread block vocabularies. The splitter only ever looks for the
// kinds configured for the thread it is serving; anything else that looks
// like an HTML comment stays literal markdown.
var (
	MainThreadKinds     = []KindSpec{SpecFor(KindEmailDraft), SpecFor(KindQuoteDraft), SpecFor(KindMaterialAlternatives)}
	ActionThreadKinds   = []KindSpec{SpecFor(KindActionResult)}
	MaterialThreadKinds = []KindSpec{SpecFor(KindMaterialPick)}
)

// Segment is one ordered piece of a split message: either markdown text or
// the inner text of a typed block. Text carries the trimmed content used
// for rendering; Raw preserves the original span verbatim so that
// Reassemble can reproduce the source message byte for byte.
type Segment struct {
	Kind BlockKind `json:"kind"`
	Text string    `json:"text"`
	Raw  string    `json:"-"`

	// Delimiters matched for typed segments; empty for markdown.
	Open  string `json:"-"`
	Close string `json:"-"`
}

// Split scans text left to right for the configured block delimiters and
// returns the ordered markdown/typed segments.
//
// An open delimiter with no matching close anywhere after it is folded
// back into the surrounding markdown rather than emitted as a truncated
// block. Matched block bodies are opaque: the splitter does not recurse
// into them, so a block of another kind inside a matched body stays part
// of that body's inner text. Whitespace-only runs between blocks are kept
// as markdown segments with empty Text so the split stays lossless;
// renderers skip them.
func Split(text string, kinds []KindSpec) []Segment {
	var segs []Segment
	var pending strings.Builder

	flush := func() {
		if pending.Len() == 0 {
			return
		}
		raw := pending.String()
		segs = append(segs, Segment{Kind: KindMarkdown, Text: strings.TrimSpace(raw), Raw: raw})
		pending.Reset()
	}

	rest := text
	for {
		best := -1
		var bestSpec KindSpec
		for _, ks := range kinds {
			if i := strings.Index(rest, ks.Open); i >= 0 && (best < 0 || i < best) {
				best = i
				bestSpec = ks
			}
		}
		if best < 0 {
			pending.WriteString(rest)
			break
		}

		innerStart := best + len(bestSpec.Open)
		ci := strings.Index(rest[innerStart:], bestSpec.Close)
		if ci < 0 {
			// Unterminated open: keep the token as literal text and
			// resume scanning after it.
			pending.WriteString(rest[:innerStart])
			rest = rest[innerStart:]
			continue
		}

		pending.WriteString(rest[:best])
		flush()

		inner := rest[innerStart : innerStart+ci]
		segs = append(segs, Segment{
			Kind:  bestSpec.Kind,
			Text:  strings.TrimSpace(inner),
			Raw:   inner,
			Open:  bestSpec.Open,
			Close: bestSpec.Close,
		})
		rest = rest[innerStart+ci+len(bestSpec.Close):]
	}
	flush()

	if len(segs) == 0 {
		// No delimiters at all. Whitespace-only messages keep their
		// original content so they still render as something.
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			trimmed = text
		}
		return []Segment{{Kind: KindMarkdown, Text: trimmed, Raw: text}}
	}
	return segs
}

// Reassemble concatenates the segments' original spans, reinserting the
// matched delimiters, and reproduces the exact source string of Split.
func Reassemble(segs []Segment) string {
	var b strings.Builder
	for _, s := range segs {
		if s.Kind == KindMarkdown {
			b.WriteString(s.Raw)
			continue
		}
		b.WriteString(s.Open)
		b.WriteString(s.Raw)
		b.WriteString(s.Close)
	}
	return b.String()
}
