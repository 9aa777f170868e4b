package completion

import (
	"encoding/json"
	"fmt"
	"strings"

	"salesdesk/src/msgproto"

	"github.com/invopop/jsonschema"
)

// payloadSchema reflects a payload struct into a compact JSON schema so the
// system prompt can spell out the exact shape the decoder expects.
func payloadSchema(v any) string {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(v)
	b, err := json.Marshal(schema)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func blockInstruction(kind msgproto.BlockKind, payloadHint string) string {
	spec := msgproto.SpecFor(kind)
	return fmt.Sprintf("%s\n%s\n%s", spec.Open, payloadHint, spec.Close)
}

const sharedConventions = `You are a sales assistant for a metals distributor.
Write concise markdown. Whenever you reference a backing record (an invoice,
order, RFQ, stock position or price list entry), cite it inline as
[ERP: <record label>].

When you propose follow-up work, put it under a "## Recommended Actions"
heading as a bullet list so the dashboard can offer feedback buttons.

Structured sub-documents must be wrapped in the exact delimiter comments
shown below. Never emit a delimiter you cannot close.`

// SystemPrompt returns the full instruction block for a thread kind,
// including the delimiter conventions and payload schemas for every block
// the thread's parser is configured to accept.
func SystemPrompt(thread ThreadKind) string {
	var b strings.Builder
	b.WriteString(sharedConventions)
	b.WriteString("\n\n")

	switch thread {
	case ThreadAction:
		b.WriteString("When you have completed the requested action, report it as:\n\n")
		b.WriteString(blockInstruction(msgproto.KindActionResult,
			"<JSON object matching this schema: "+payloadSchema(msgproto.ActionResult{})+">"))
	case ThreadMaterial:
		b.WriteString("When the customer settles on a material, confirm the pick as:\n\n")
		b.WriteString(blockInstruction(msgproto.KindMaterialPick,
			"<JSON object matching this schema: "+payloadSchema(msgproto.MaterialPick{})+">"))
	default:
		b.WriteString("Available sub-documents:\n\nDraft emails:\n\n")
		b.WriteString(blockInstruction(msgproto.KindEmailDraft,
			"**To:** <email>\n**Subject:** <subject>\n\n<body>"))
		b.WriteString("\n\nQuote previews:\n\n")
		b.WriteString(blockInstruction(msgproto.KindQuoteDraft,
			"<JSON object matching this schema: "+payloadSchema(msgproto.QuoteDraft{})+">"))
		b.WriteString("\n\nMaterial substitution offers:\n\n")
		b.WriteString(blockInstruction(msgproto.KindMaterialAlternatives,
			"<JSON array whose entries match this schema: "+payloadSchema(msgproto.MaterialAlternative{})+">"))
	}
	return b.String()
}

// ContextMessage renders the thread subject and summary as the briefing
// turn that precedes the visible history.
func ContextMessage(tc Context) string {
	var b strings.Builder
	b.WriteString("Subject record:\n")
	b.WriteString(strings.TrimSpace(tc.Subject))
	if s := strings.TrimSpace(tc.Summary); s != "" {
		b.WriteString("\n\nSummary:\n")
		b.WriteString(s)
	}
	return b.String()
}
