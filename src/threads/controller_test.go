package threads

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"salesdesk/src/completion"
	"salesdesk/src/msgproto"
)

type fakeService struct {
	mu        sync.Mutex
	calls     int
	histories [][]completion.Turn
	reply     string
	err       error
	release   chan struct{} // when set, Complete blocks until closed
}

func (f *fakeService) Complete(ctx context.Context, tc completion.Context, history []completion.Turn) (string, error) {
	f.mu.Lock()
	f.calls++
	f.histories = append(f.histories, history)
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeService) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeService) lastHistory() []completion.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.histories) == 0 {
		return nil
	}
	return f.histories[len(f.histories)-1]
}

func testContext() completion.Context {
	return completion.Context{Thread: completion.ThreadRFQ, Subject: "RFQ-42: 2t 316L plate"}
}

func newTestController(svc completion.Service, events chan Event) *Controller {
	notify := func(ev Event) { events <- ev }
	return NewController("conv-1", testContext(), KindsFor(completion.ThreadRFQ), svc, nil, nil, notify)
}

// waitForReply drains events until a finalized agent message arrives.
func waitForReply(t *testing.T, events chan Event) Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Message != nil && ev.Message.Role == msgproto.RoleAgent && !ev.Message.IsLoading {
				return *ev.Message
			}
		case <-deadline:
			t.Fatal("timed out waiting for an agent reply event")
		}
	}
}

func TestOpenRequestsFirstReplyOnce(t *testing.T) {
	svc := &fakeService{reply: "Welcome. How can I help with RFQ-42?"}
	events := make(chan Event, 16)
	c := newTestController(svc, events)

	c.Open()
	c.Open()

	reply := waitForReply(t, events)
	if reply.Content != svc.reply {
		t.Fatalf("reply = %q, want %q", reply.Content, svc.reply)
	}
	c.Open()

	if got := svc.callCount(); got != 1 {
		t.Fatalf("completion called %d times, want 1", got)
	}
	if st := c.State(); st != StateIdle {
		t.Fatalf("state = %q, want %q", st, StateIdle)
	}

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("message count = %d, want briefing + reply", len(msgs))
	}
	if msgs[0].Role != msgproto.RoleContext {
		t.Fatalf("first message role = %q, want context briefing", msgs[0].Role)
	}
}

func TestSendRejectsConcurrentRequest(t *testing.T) {
	svc := &fakeService{reply: "done", release: make(chan struct{})}
	events := make(chan Event, 16)
	c := newTestController(svc, events)

	if err := c.Send("check stock for 316L"); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if err := c.Send("also check 304"); !errors.Is(err, ErrBusy) {
		t.Fatalf("second send error = %v, want ErrBusy", err)
	}

	close(svc.release)
	waitForReply(t, events)

	if err := c.Send("also check 304"); err != nil {
		t.Fatalf("send after reply failed: %v", err)
	}
	waitForReply(t, events)

	if got := svc.callCount(); got != 2 {
		t.Fatalf("completion called %d times, want 2", got)
	}
}

func TestSendRejectsEmptyContent(t *testing.T) {
	c := newTestController(&fakeService{reply: "x"}, make(chan Event, 16))
	if err := c.Send("   \n\t"); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("error = %v, want ErrEmptyMessage", err)
	}
}

func TestOpenBlocksSendsUntilFirstReply(t *testing.T) {
	svc := &fakeService{reply: "hello", release: make(chan struct{})}
	events := make(chan Event, 16)
	c := newTestController(svc, events)

	c.Open()
	if st := c.State(); st != StateAwaitingFirst {
		t.Fatalf("state = %q, want %q", st, StateAwaitingFirst)
	}
	if err := c.Send("too early"); !errors.Is(err, ErrBusy) {
		t.Fatalf("send during opening error = %v, want ErrBusy", err)
	}

	close(svc.release)
	waitForReply(t, events)
	if err := c.Send("now it works"); err != nil {
		t.Fatalf("send after opening failed: %v", err)
	}
}

func TestCompletionFailureFallsBack(t *testing.T) {
	svc := &fakeService{err: &completion.StatusError{Status: 503, Message: "unavailable"}}
	events := make(chan Event, 16)
	c := newTestController(svc, events)

	if err := c.Send("hello"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	reply := waitForReply(t, events)
	if reply.Content != fallbackReply {
		t.Fatalf("reply = %q, want the fixed fallback", reply.Content)
	}
	if st := c.State(); st != StateIdle {
		t.Fatalf("state after failure = %q, want %q", st, StateIdle)
	}
}

func TestPlaceholderSwappedInPlace(t *testing.T) {
	svc := &fakeService{reply: "real content", release: make(chan struct{})}
	events := make(chan Event, 16)
	c := newTestController(svc, events)

	if err := c.Send("hi"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	pending := c.Messages()
	if len(pending) != 2 || !pending[1].IsLoading {
		t.Fatalf("expected user message plus loading placeholder, got %+v", pending)
	}
	placeholderID := pending[1].ID

	close(svc.release)
	waitForReply(t, events)

	final := c.Messages()
	if len(final) != 2 {
		t.Fatalf("message count changed to %d, want in-place swap", len(final))
	}
	if final[1].ID != placeholderID {
		t.Fatalf("reply id = %q, want placeholder id %q", final[1].ID, placeholderID)
	}
	if final[1].IsLoading || final[1].Content != "real content" {
		t.Fatalf("placeholder not finalized: %+v", final[1])
	}
}

func TestCloseDropsLateReply(t *testing.T) {
	svc := &fakeService{reply: "too late", release: make(chan struct{})}
	events := make(chan Event, 16)
	c := newTestController(svc, events)

	if err := c.Send("hi"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	// Drain the user-message event before closing.
	<-events

	c.Close()
	close(svc.release)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event after close: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
	if err := c.Send("again"); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close error = %v, want ErrClosed", err)
	}
}

func TestHistoryExcludesBriefingAndPlaceholders(t *testing.T) {
	svc := &fakeService{reply: "first answer"}
	events := make(chan Event, 16)
	c := newTestController(svc, events)

	c.Open()
	waitForReply(t, events)
	if turns := svc.lastHistory(); len(turns) != 0 {
		t.Fatalf("opening call history = %+v, want empty", turns)
	}

	if err := c.Send("follow-up"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	waitForReply(t, events)

	turns := svc.lastHistory()
	if len(turns) != 2 {
		t.Fatalf("history length = %d, want agent reply + user turn", len(turns))
	}
	if turns[0].Role != "agent" || turns[0].Content != "first answer" {
		t.Fatalf("history[0] = %+v", turns[0])
	}
	if turns[1].Role != "user" || turns[1].Content != "follow-up" {
		t.Fatalf("history[1] = %+v", turns[1])
	}
}

func TestPlanSkipsLoadingPlaceholders(t *testing.T) {
	c := newTestController(&fakeService{reply: "x"}, make(chan Event, 16))

	plan := c.Plan(Message{Role: msgproto.RoleAgent, IsLoading: true})
	if len(plan.Parts) != 0 {
		t.Fatalf("loading placeholder produced %d parts, want none", len(plan.Parts))
	}

	plan = c.Plan(Message{Role: msgproto.RoleAgent, Content: "See [ERP: INV-1001]."})
	if len(plan.Parts) != 1 || plan.Parts[0].Kind != msgproto.PartMarkdown {
		t.Fatalf("unexpected plan: %+v", plan.Parts)
	}
}
