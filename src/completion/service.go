// Package completion wraps the external text-completion service the thread
// controllers call. The rest of the system treats it as opaque: one string
// per turn on success, a status-carrying error otherwise.
package completion

import "context"

// ThreadKind selects the conversation flavor, which decides the system
// prompt and the block vocabulary the model is instructed to use.
type ThreadKind string

const (
	ThreadRFQ      ThreadKind = "rfq"
	ThreadAction   ThreadKind = "action"
	ThreadMaterial ThreadKind = "material"
)

// Turn is one prior conversation turn. Loading placeholders are excluded
// by the caller before a history is handed over.
type Turn struct {
	Role    string `json:"role"` // "user" or "agent"
	Content string `json:"content"`
}

// Context carries the thread-specific subject the model is briefed with:
// the record under discussion (an RFQ, an action, a material alternative)
// and a short free-text summary.
type Context struct {
	Thread  ThreadKind `json:"thread"`
	Subject string     `json:"subject"`
	Summary string     `json:"summary"`
}

// StatusError is the HTTP-like failure a completion attempt surfaces.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string { return e.Message }

// Service produces one assistant reply for a conversation state.
type Service interface {
	Complete(ctx context.Context, tc Context, history []Turn) (string, error)
}
