package msgproto

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Payload is the closed variant set a typed block decodes into. Decode
// failure is itself a variant so callers can render a visible failure
// state instead of handling an error path separately.
type Payload interface {
	PayloadKind() BlockKind
}

// EmailDraft is decoded from EMAIL_DRAFT blocks by line scanning, not JSON.
type EmailDraft struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (EmailDraft) PayloadKind() BlockKind { return KindEmailDraft }

// QuoteParty identifies the quote recipient.
type QuoteParty struct {
	Company string `json:"company"`
	Contact string `json:"contact"`
	Email   string `json:"email"`
}

// QuoteLineItem is one priced position on a quote.
type QuoteLineItem struct {
	Description string  `json:"description"`
	Qty         float64 `json:"qty"`
	Unit        string  `json:"unit"`
	UnitPrice   float64 `json:"unitPrice"`
}

// QuoteDraft is decoded from QUOTE_DRAFT blocks.
type QuoteDraft struct {
	QuoteNumber string          `json:"quoteNumber"`
	Date        string          `json:"date"`
	ValidUntil  string          `json:"validUntil"`
	To          QuoteParty      `json:"to"`
	LineItems   []QuoteLineItem `json:"lineItems"`
	Notes       string          `json:"notes"`
	Terms       string          `json:"terms"`
}

func (QuoteDraft) PayloadKind() BlockKind { return KindQuoteDraft }

// MaterialAlternative is one substitution offer inside a
// MATERIAL_ALTERNATIVES block.
type MaterialAlternative struct {
	ID               string `json:"id"`
	PrimaryMaterial  string `json:"primaryMaterial"`
	AlternativeGrade string `json:"alternativeGrade"`
	Compatibility    string `json:"compatibility"`
	CostDelta        string `json:"costDelta"`
	AvailableStock   string `json:"availableStock"`
	Notes            string `json:"notes"`
	RequiresApproval bool   `json:"requiresApproval"`
}

// MaterialAlternatives preserves the array order of the offers; views
// render one card per entry in this order.
type MaterialAlternatives struct {
	Items []MaterialAlternative `json:"items"`
}

func (MaterialAlternatives) PayloadKind() BlockKind { return KindMaterialAlternatives }

// Action-result output types form a closed set; anything the model invents
// beyond it is normalized to "other".
const (
	OutputEmailDraft    = "email_draft"
	OutputTalkingPoints = "talking_points"
	OutputAnalysis      = "analysis"
	OutputChecklist     = "checklist"
	OutputOther         = "other"
)

// ActionResult is decoded from ACTION_RESULT blocks.
type ActionResult struct {
	Title      string `json:"title"`
	Summary    string `json:"summary"`
	Content    string `json:"content"`
	OutputType string `json:"outputType"`
}

func (ActionResult) PayloadKind() BlockKind { return KindActionResult }

// MaterialPick is decoded from MATERIAL_PICK blocks.
type MaterialPick struct {
	Grade          string `json:"grade"`
	CostDelta      string `json:"costDelta"`
	AvailableStock string `json:"availableStock"`
	Reason         string `json:"reason"`
}

func (MaterialPick) PayloadKind() BlockKind { return KindMaterialPick }

// DecodeFailure reports a block whose inner text could not be decoded.
// Rendering it is the view's job; sibling segments are unaffected.
type DecodeFailure struct {
	Kind   BlockKind `json:"kind"`
	Reason string    `json:"error"`
}

func (f DecodeFailure) PayloadKind() BlockKind { return f.Kind }

// Decode parses a typed segment's inner text into its payload variant.
// It never panics or returns a Go error: malformed input yields a
// DecodeFailure. Calling it twice on the same segment gives the same
// result; there are no side effects.
func Decode(seg Segment) Payload {
	switch seg.Kind {
	case KindEmailDraft:
		return decodeEmailDraft(seg.Text)
	case KindQuoteDraft:
		return decodeQuoteDraft(seg.Text)
	case KindMaterialAlternatives:
		return decodeMaterialAlternatives(seg.Text)
	case KindActionResult:
		return decodeActionResult(seg.Text)
	case KindMaterialPick:
		return decodeMaterialPick(seg.Text)
	default:
		return DecodeFailure{Kind: seg.Kind, Reason: fmt.Sprintf("no decoder for block kind %q", seg.Kind)}
	}
}

// Header labels may be bold-wrapped ("**To:** x") or plain ("To: x"), in
// either order, and either may be absent.
var (
	emailToPattern      = regexp.MustCompile(`(?i)^\s*(?:\*\*)?\s*to\s*:\s*(?:\*\*)?\s*(.*)$`)
	emailSubjectPattern = regexp.MustCompile(`(?i)^\s*(?:\*\*)?\s*subject\s*:\s*(?:\*\*)?\s*(.*)$`)
)

// decodeEmailDraft applies a small line grammar: To/Subject header lines
// (either order, either optional) before the first blank line, then the
// body. Fallback order when the shape degrades: without a blank separator
// the body starts after the run of leading header lines; without any
// recognized header the entire input is the body.
func decodeEmailDraft(raw string) Payload {
	lines := strings.Split(raw, "\n")

	blank := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			blank = i
			break
		}
	}

	var draft EmailDraft
	matchHeader := func(line string) bool {
		if m := emailToPattern.FindStringSubmatch(line); m != nil && draft.To == "" {
			draft.To = strings.TrimSpace(m[1])
			return true
		}
		if m := emailSubjectPattern.FindStringSubmatch(line); m != nil && draft.Subject == "" {
			draft.Subject = strings.TrimSpace(m[1])
			return true
		}
		return false
	}

	if blank >= 0 {
		matched := false
		var stray []string
		for _, line := range lines[:blank] {
			if matchHeader(line) {
				matched = true
				continue
			}
			stray = append(stray, line)
		}
		if !matched {
			draft.Body = strings.TrimSpace(raw)
			return draft
		}
		body := append(stray, lines[blank+1:]...)
		draft.Body = strings.TrimSpace(strings.Join(body, "\n"))
		return draft
	}

	i := 0
	for i < len(lines) && matchHeader(lines[i]) {
		i++
	}
	if i == 0 {
		draft.Body = strings.TrimSpace(raw)
		return draft
	}
	draft.Body = strings.TrimSpace(strings.Join(lines[i:], "\n"))
	return draft
}

func decodeQuoteDraft(raw string) Payload {
	var q QuoteDraft
	if reason := unmarshalBlockJSON(raw, &q); reason != "" {
		return DecodeFailure{Kind: KindQuoteDraft, Reason: reason}
	}
	if q.LineItems == nil {
		return DecodeFailure{Kind: KindQuoteDraft, Reason: "quote payload missing lineItems"}
	}
	return q
}

func decodeMaterialAlternatives(raw string) Payload {
	var items []MaterialAlternative
	if reason := unmarshalBlockJSON(raw, &items); reason != "" {
		return DecodeFailure{Kind: KindMaterialAlternatives, Reason: reason}
	}
	if items == nil {
		return DecodeFailure{Kind: KindMaterialAlternatives, Reason: "expected a JSON array of alternatives"}
	}
	return MaterialAlternatives{Items: items}
}

func decodeActionResult(raw string) Payload {
	var res ActionResult
	if reason := unmarshalBlockJSON(raw, &res); reason != "" {
		return DecodeFailure{Kind: KindActionResult, Reason: reason}
	}
	if res.Title == "" || res.Content == "" {
		return DecodeFailure{Kind: KindActionResult, Reason: "action result missing title or content"}
	}
	res.OutputType = normalizeOutputType(res.OutputType)
	return res
}

func decodeMaterialPick(raw string) Payload {
	var pick MaterialPick
	if reason := unmarshalBlockJSON(raw, &pick); reason != "" {
		return DecodeFailure{Kind: KindMaterialPick, Reason: reason}
	}
	if pick.Grade == "" {
		return DecodeFailure{Kind: KindMaterialPick, Reason: "material pick missing grade"}
	}
	return pick
}

// unmarshalBlockJSON parses the block body as JSON, tolerating the code
// fences and commentary models sometimes wrap payloads in: if the direct
// parse fails, it retries on the outermost {...} or [...] span.
func unmarshalBlockJSON(raw string, v any) string {
	clean := strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(clean), v); err == nil {
		return ""
	}

	start := strings.IndexAny(clean, "{[")
	if start >= 0 {
		var end int
		if clean[start] == '{' {
			end = strings.LastIndex(clean, "}")
		} else {
			end = strings.LastIndex(clean, "]")
		}
		if end > start {
			if err := json.Unmarshal([]byte(clean[start:end+1]), v); err == nil {
				return ""
			}
		}
	}
	return "invalid JSON payload"
}

func normalizeOutputType(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case OutputEmailDraft:
		return OutputEmailDraft
	case OutputTalkingPoints:
		return OutputTalkingPoints
	case OutputAnalysis:
		return OutputAnalysis
	case OutputChecklist:
		return OutputChecklist
	default:
		return OutputOther
	}
}
