package threads

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"salesdesk/src/completion"
	"salesdesk/src/monitoring"
	"salesdesk/src/msgproto"

	"github.com/google/uuid"
)

// State is the lifecycle phase of a conversation.
type State string

const (
	StateEmpty         State = "empty"
	StateAwaitingFirst State = "awaiting-first-response"
	StateIdle          State = "idle"
	StateAwaiting      State = "awaiting-response"
)

var (
	ErrEmptyMessage = errors.New("message content is empty")
	ErrBusy         = errors.New("conversation is awaiting a response")
	ErrClosed       = errors.New("conversation is closed")
)

// fallbackReply is what the user sees when every completion attempt failed.
// The real error only goes to the log.
const fallbackReply = "Sorry, I could not generate a response right now. Please try again in a moment."

const completionTimeout = 30 * time.Second

// Controller runs one conversation: it owns the message list, enforces the
// one-in-flight-request rule and swaps loading placeholders for completed
// replies. All exported methods are safe for concurrent use; Send and Open
// return immediately and resolve the reply on a background goroutine.
type Controller struct {
	id      string
	tctx    completion.Context
	kinds   []msgproto.KindSpec
	svc     completion.Service
	planner *msgproto.Planner
	store   *Store
	notify  Notifier
	timeout time.Duration

	mu       sync.Mutex
	messages []Message
	state    State
	opened   bool
	closed   bool
}

// NewController builds a controller in the empty state. Nothing happens
// until Open is called.
func NewController(id string, tctx completion.Context, kinds []msgproto.KindSpec, svc completion.Service, planner *msgproto.Planner, store *Store, notify Notifier) *Controller {
	return &Controller{
		id:      id,
		tctx:    tctx,
		kinds:   kinds,
		svc:     svc,
		planner: planner,
		store:   store,
		notify:  notify,
		timeout: completionTimeout,
		state:   StateEmpty,
	}
}

// ID returns the conversation identifier.
func (c *Controller) ID() string { return c.id }

// Context returns the briefing the completion service is called with.
func (c *Controller) Context() completion.Context { return c.tctx }

// Kinds returns the block vocabulary this conversation parses.
func (c *Controller) Kinds() []msgproto.KindSpec { return c.kinds }

// Open activates the conversation. Persisted history is loaded if there is
// any; otherwise the briefing is posted and the opening reply is requested.
// Only the first call does anything, regardless of how many messages have
// accumulated since.
func (c *Controller) Open() {
	c.mu.Lock()
	if c.opened || c.closed {
		c.mu.Unlock()
		return
	}
	c.opened = true

	if c.store != nil {
		history, err := c.store.MessagesFor(c.id)
		if err != nil {
			log.Printf("threads: load history for %s failed: %v", c.id, err)
		} else if len(history) > 0 {
			c.messages = history
			c.state = StateIdle
			c.mu.Unlock()
			return
		}
	}

	briefing := Message{
		ID:        uuid.NewString(),
		Role:      msgproto.RoleContext,
		Content:   completion.ContextMessage(c.tctx),
		Timestamp: time.Now(),
	}
	c.messages = append(c.messages, briefing)
	c.persistLocked(briefing)

	c.state = StateAwaitingFirst
	placeholder := c.appendLoadingLocked()
	c.mu.Unlock()

	c.emit(Event{Type: EventMessageReceived, ConversationID: c.id, Message: &briefing})
	go c.resolve(placeholder.ID)
}

// Send appends a user message and requests the reply. It returns ErrBusy
// while a previous request is still in flight; the rejected content is the
// caller's to retry.
func (c *Controller) Send(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateAwaiting || c.state == StateAwaitingFirst {
		c.mu.Unlock()
		return ErrBusy
	}

	user := Message{
		ID:        uuid.NewString(),
		Role:      msgproto.RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}
	c.messages = append(c.messages, user)
	c.persistLocked(user)

	c.state = StateAwaiting
	placeholder := c.appendLoadingLocked()
	c.mu.Unlock()

	c.emit(Event{Type: EventMessageReceived, ConversationID: c.id, Message: &user})
	go c.resolve(placeholder.ID)
	return nil
}

// resolve calls the completion service and swaps the placeholder for the
// reply. A result arriving after Close, or after its placeholder is gone,
// is dropped.
func (c *Controller) resolve(placeholderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	started := time.Now()
	text, err := c.svc.Complete(ctx, c.tctx, c.historySnapshot())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	monitoring.ObserveCompletion(string(c.tctx.Thread), outcome, time.Since(started))

	reply := text
	if err != nil {
		log.Printf("threads: completion for %s failed: %v", c.id, err)
		reply = fallbackReply
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	idx := -1
	for i := range c.messages {
		if c.messages[i].ID == placeholderID {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return
	}

	final := Message{
		ID:        placeholderID,
		Role:      msgproto.RoleAgent,
		Content:   reply,
		Timestamp: time.Now(),
	}
	c.messages[idx] = final
	c.state = StateIdle
	c.persistLocked(final)
	c.mu.Unlock()

	c.emit(Event{Type: EventMessageReceived, ConversationID: c.id, Message: &final})
	c.recordBlocks(final)
}

// recordBlocks counts the typed blocks of a finalized reply. Parsing here
// also warms the planner cache before the first render asks for the plan.
func (c *Controller) recordBlocks(m Message) {
	for _, part := range c.Plan(m).Parts {
		if part.Kind != msgproto.PartBlock {
			continue
		}
		monitoring.RecordBlockSegment(string(part.Block))
		if _, failed := part.Payload.(msgproto.DecodeFailure); failed {
			monitoring.RecordDecodeFailure(string(part.Block))
		}
	}
}

// historySnapshot copies the finalized turns for the completion call. The
// briefing is carried separately as a system message, and placeholders have
// no content yet, so both are skipped.
func (c *Controller) historySnapshot() []completion.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	turns := make([]completion.Turn, 0, len(c.messages))
	for _, m := range c.messages {
		if m.IsLoading || m.Role == msgproto.RoleContext {
			continue
		}
		turns = append(turns, completion.Turn{Role: string(m.Role), Content: m.Content})
	}
	return turns
}

func (c *Controller) appendLoadingLocked() Message {
	placeholder := Message{
		ID:        uuid.NewString(),
		Role:      msgproto.RoleAgent,
		Timestamp: time.Now(),
		IsLoading: true,
	}
	c.messages = append(c.messages, placeholder)
	return placeholder
}

func (c *Controller) persistLocked(m Message) {
	monitoring.RecordMessage(c.id, string(m.Role), m.Content)
	if c.store == nil {
		return
	}
	if err := c.store.SaveMessage(c.id, m); err != nil {
		log.Printf("threads: persist message %s failed: %v", m.ID, err)
	}
}

func (c *Controller) emit(ev Event) {
	if c.notify != nil {
		c.notify(ev)
	}
}

// Messages returns a snapshot of the conversation.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close tears the conversation down. In-flight completion results are
// discarded instead of being applied to a closed conversation.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Plan returns the render plan for one of this conversation's messages.
// Loading placeholders have no content to parse and get an empty plan.
func (c *Controller) Plan(m Message) msgproto.Plan {
	if m.IsLoading {
		return msgproto.Plan{}
	}
	if c.planner != nil {
		return c.planner.Plan(m.Role, m.Content, c.kinds)
	}
	return msgproto.BuildPlan(m.Role, m.Content, c.kinds)
}
