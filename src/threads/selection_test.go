package threads

import (
	"errors"
	"testing"

	"salesdesk/src/msgproto"
)

func TestApproveFirstWriteWins(t *testing.T) {
	events := make(chan Event, 4)
	s, err := NewSelectionStore(nil, func(ev Event) { events <- ev })
	if err != nil {
		t.Fatalf("NewSelectionStore: %v", err)
	}

	first := Selection{
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		Kind:           msgproto.KindMaterialPick,
		Key:            msgproto.SelectionKey(msgproto.KindMaterialPick, "304L"),
	}
	if err := s.Approve(first); err != nil {
		t.Fatalf("first approve failed: %v", err)
	}

	second := first
	second.Key = msgproto.SelectionKey(msgproto.KindMaterialPick, "316L")
	if err := s.Approve(second); !errors.Is(err, ErrAlreadySelected) {
		t.Fatalf("second approve error = %v, want ErrAlreadySelected", err)
	}

	sel, ok := s.Selected("msg-1")
	if !ok || sel.Key != first.Key {
		t.Fatalf("recorded selection = %+v, want the first write", sel)
	}

	ev := <-events
	if ev.Type != EventSelectionRecorded || ev.Selection == nil {
		t.Fatalf("unexpected event: %+v", ev)
	}
	select {
	case ev := <-events:
		t.Fatalf("rejected approval emitted event: %+v", ev)
	default:
	}
}

func TestApproveRejectsIncompleteSelection(t *testing.T) {
	s, err := NewSelectionStore(nil, nil)
	if err != nil {
		t.Fatalf("NewSelectionStore: %v", err)
	}
	if err := s.Approve(Selection{MessageID: "msg-1", Key: "  "}); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("empty key error = %v, want ErrInvalidSelection", err)
	}
	if err := s.Approve(Selection{Key: "material_pick:304L"}); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("missing message id error = %v, want ErrInvalidSelection", err)
	}
}

func TestSelectedUnknownMessage(t *testing.T) {
	s, err := NewSelectionStore(nil, nil)
	if err != nil {
		t.Fatalf("NewSelectionStore: %v", err)
	}
	if _, ok := s.Selected("nope"); ok {
		t.Fatal("lookup of unknown message must miss")
	}
}
