// Package threads owns the per-conversation message lists, the send/receive
// state machine around the completion service, and the approval state that
// the parsing pipeline itself never mutates.
package threads

import (
	"time"

	"salesdesk/src/msgproto"
)

// Message is one turn of a conversation. A message is only ever mutated
// once: the loading placeholder inserted before a completion call is
// swapped in place for the final reply (same ID). Everything else is
// append-only.
type Message struct {
	ID        string        `json:"id"`
	Role      msgproto.Role `json:"role"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
	IsLoading bool          `json:"isLoading,omitempty"`
}

// Event is pushed to the coordinating parent (and from there to websocket
// clients) whenever a conversation changes.
type Event struct {
	Type           string     `json:"type"`
	ConversationID string     `json:"conversationId"`
	Message        *Message   `json:"message,omitempty"`
	Selection      *Selection `json:"selection,omitempty"`
}

// Notifier receives conversation events. May be nil.
type Notifier func(Event)

const (
	EventMessageReceived   = "message.received"
	EventSelectionRecorded = "selection.recorded"
)
