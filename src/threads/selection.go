package threads

import (
	"errors"
	"strings"
	"sync"
	"time"

	"salesdesk/src/msgproto"
)

var (
	ErrAlreadySelected  = errors.New("a selection is already recorded for this message")
	ErrInvalidSelection = errors.New("selection does not name an approvable part")
)

// Selection records which approvable part of a message the user picked.
type Selection struct {
	ConversationID string             `json:"conversationId"`
	MessageID      string             `json:"messageId"`
	Kind           msgproto.BlockKind `json:"kind"`
	Key            string             `json:"key"`
	RecordedAt     time.Time          `json:"recordedAt"`
}

// SelectionStore keeps at most one selection per message. The first write
// wins; later attempts fail with ErrAlreadySelected so a double-clicked
// approve button cannot overwrite a recorded decision.
type SelectionStore struct {
	store  *Store
	notify Notifier

	mu        sync.Mutex
	byMessage map[string]Selection
}

// NewSelectionStore builds the store, preloading persisted selections so
// approval state survives restarts.
func NewSelectionStore(store *Store, notify Notifier) (*SelectionStore, error) {
	s := &SelectionStore{
		store:     store,
		notify:    notify,
		byMessage: make(map[string]Selection),
	}
	if store != nil {
		persisted, err := store.LoadSelections()
		if err != nil {
			return nil, err
		}
		for _, sel := range persisted {
			s.byMessage[sel.MessageID] = sel
		}
	}
	return s, nil
}

// Approve records a selection. Exactly one selection is accepted per
// message for its whole lifetime.
func (s *SelectionStore) Approve(sel Selection) error {
	sel.Key = strings.TrimSpace(sel.Key)
	if sel.MessageID == "" || sel.Key == "" {
		return ErrInvalidSelection
	}

	s.mu.Lock()
	if _, exists := s.byMessage[sel.MessageID]; exists {
		s.mu.Unlock()
		return ErrAlreadySelected
	}
	sel.RecordedAt = time.Now()
	s.byMessage[sel.MessageID] = sel
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveSelection(sel); err != nil {
			return err
		}
	}
	if s.notify != nil {
		s.notify(Event{Type: EventSelectionRecorded, ConversationID: sel.ConversationID, Selection: &sel})
	}
	return nil
}

// Selected returns the recorded selection for a message, if any.
func (s *SelectionStore) Selected(messageID string) (Selection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, ok := s.byMessage[messageID]
	return sel, ok
}
