package threads

import (
	"path/filepath"
	"testing"
	"time"

	"salesdesk/src/completion"
	"salesdesk/src/msgproto"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "threads.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreMessageOrderSurvivesPlaceholderSwap(t *testing.T) {
	s := openTestStore(t)
	tc := completion.Context{Thread: completion.ThreadRFQ, Subject: "RFQ-7"}
	if err := s.SaveConversation("conv-1", tc); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	user := Message{ID: uuid.NewString(), Role: msgproto.RoleUser, Content: "hello", Timestamp: time.Now()}
	replyID := uuid.NewString()
	if err := s.SaveMessage("conv-1", user); err != nil {
		t.Fatalf("save user: %v", err)
	}
	// Placeholders are not persisted; only the finalized swap is.
	if err := s.SaveMessage("conv-1", Message{ID: replyID, Role: msgproto.RoleAgent, IsLoading: true}); err != nil {
		t.Fatalf("save placeholder: %v", err)
	}
	second := Message{ID: uuid.NewString(), Role: msgproto.RoleUser, Content: "still there?", Timestamp: time.Now()}
	if err := s.SaveMessage("conv-1", second); err != nil {
		t.Fatalf("save second user: %v", err)
	}
	final := Message{ID: replyID, Role: msgproto.RoleAgent, Content: "yes", Timestamp: time.Now()}
	if err := s.SaveMessage("conv-1", final); err != nil {
		t.Fatalf("save final reply: %v", err)
	}

	msgs, err := s.MessagesFor("conv-1")
	if err != nil {
		t.Fatalf("MessagesFor: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("message count = %d, want 3", len(msgs))
	}
	if msgs[0].ID != user.ID || msgs[1].ID != second.ID || msgs[2].ID != replyID {
		t.Fatalf("order wrong: %q %q %q", msgs[0].ID, msgs[1].ID, msgs[2].ID)
	}
	if msgs[2].Content != "yes" || msgs[2].Role != msgproto.RoleAgent {
		t.Fatalf("finalized reply not stored: %+v", msgs[2])
	}
}

func TestStoreConversationRoundTrip(t *testing.T) {
	s := openTestStore(t)
	tc := completion.Context{Thread: completion.ThreadMaterial, Subject: "316L vs 304L", Summary: "customer is price sensitive"}
	if err := s.SaveConversation("conv-m", tc); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}
	// Re-saving the same id must not duplicate or overwrite.
	if err := s.SaveConversation("conv-m", completion.Context{Thread: completion.ThreadRFQ, Subject: "other"}); err != nil {
		t.Fatalf("re-save: %v", err)
	}

	records, err := s.Conversations()
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("record count = %d, want 1", len(records))
	}
	got := records[0]
	if got.ID != "conv-m" || got.Context.Thread != completion.ThreadMaterial || got.Context.Summary != tc.Summary {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestStoreSelectionsReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads.db")
	s, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	sel := Selection{
		ConversationID: "conv-1",
		MessageID:      "msg-9",
		Kind:           msgproto.KindActionResult,
		Key:            msgproto.SelectionKey(msgproto.KindActionResult, "Draft follow-up"),
		RecordedAt:     time.Now(),
	}
	if err := s.SaveSelection(sel); err != nil {
		t.Fatalf("SaveSelection: %v", err)
	}
	s.Close()

	s, err = OpenStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	store, err := NewSelectionStore(s, nil)
	if err != nil {
		t.Fatalf("NewSelectionStore: %v", err)
	}
	got, ok := store.Selected("msg-9")
	if !ok || got.Key != sel.Key || got.Kind != msgproto.KindActionResult {
		t.Fatalf("reloaded selection = %+v, want %+v", got, sel)
	}
}
