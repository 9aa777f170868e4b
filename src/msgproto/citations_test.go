package msgproto

import "testing"

func TestExtractCitationsRoundTripLabels(t *testing.T) {
	t.Parallel()

	nodes := ExtractCitations("see [ERP: Invoice #4412] for detail")
	want := []CitationNode{
		{Kind: NodeText, Text: "see "},
		{Kind: NodeCitation, Label: "Invoice #4412"},
		{Kind: NodeText, Text: " for detail"},
	}
	if len(nodes) != len(want) {
		t.Fatalf("len(nodes)=%d, want %d: %+v", len(nodes), len(want), nodes)
	}
	for i := range want {
		if nodes[i] != want[i] {
			t.Fatalf("node[%d]=%+v, want %+v", i, nodes[i], want[i])
		}
	}
}

func TestExtractCitationsNoMarkers(t *testing.T) {
	t.Parallel()

	nodes := ExtractCitations("nothing to cite here")
	if len(nodes) != 1 {
		t.Fatalf("len(nodes)=%d, want 1", len(nodes))
	}
	if nodes[0].Kind != NodeText || nodes[0].Text != "nothing to cite here" {
		t.Fatalf("node=%+v", nodes[0])
	}
}

func TestExtractCitationsEmptyInput(t *testing.T) {
	t.Parallel()

	nodes := ExtractCitations("")
	if len(nodes) != 1 || nodes[0].Kind != NodeText {
		t.Fatalf("empty input must yield a single text node, got %+v", nodes)
	}
}

func TestExtractCitationsAdjacentMarkers(t *testing.T) {
	t.Parallel()

	nodes := ExtractCitations("[ERP: A][ERP: B]")
	if len(nodes) != 2 {
		t.Fatalf("len(nodes)=%d, want 2: %+v", len(nodes), nodes)
	}
	if nodes[0].Label != "A" || nodes[1].Label != "B" {
		t.Fatalf("labels=%q,%q", nodes[0].Label, nodes[1].Label)
	}
}

func TestExtractCitationsEmptyLabel(t *testing.T) {
	t.Parallel()

	nodes := ExtractCitations("broken [ERP:] marker")
	if len(nodes) != 3 {
		t.Fatalf("len(nodes)=%d, want 3: %+v", len(nodes), nodes)
	}
	if nodes[1].Kind != NodeCitation || nodes[1].Label != "" {
		t.Fatalf("empty-label marker must stay a citation node: %+v", nodes[1])
	}
}

func TestExtractCitationsInsideTableCell(t *testing.T) {
	t.Parallel()

	nodes := ExtractCitations("| Part | [ERP: SKU-9] | $4.20 |")
	found := false
	for _, n := range nodes {
		if n.Kind == NodeCitation && n.Label == "SKU-9" {
			found = true
		}
	}
	if !found {
		t.Fatalf("citation inside table cell not extracted: %+v", nodes)
	}
}

// Repeated calls must not share scan state: a second call on an unrelated
// string has to behave exactly like a first call.
func TestExtractCitationsRepeatedCallsAreIndependent(t *testing.T) {
	t.Parallel()

	first := ExtractCitations("pad pad pad [ERP: X] tail")
	second := ExtractCitations("[ERP: Y]")
	if len(first) != 3 {
		t.Fatalf("first call: %+v", first)
	}
	if len(second) != 1 || second[0].Kind != NodeCitation || second[0].Label != "Y" {
		t.Fatalf("second call affected by first: %+v", second)
	}
	third := ExtractCitations("pad pad pad [ERP: X] tail")
	if len(third) != 3 || third[1].Label != "X" {
		t.Fatalf("third call affected by earlier calls: %+v", third)
	}
}
