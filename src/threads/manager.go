package threads

import (
	"sync"

	"salesdesk/src/completion"
	"salesdesk/src/msgproto"

	"github.com/google/uuid"
)

// KindsFor maps a thread flavor to the block vocabulary its messages may
// contain. Unknown flavors parse as a main sales thread.
func KindsFor(thread completion.ThreadKind) []msgproto.KindSpec {
	switch thread {
	case completion.ThreadAction:
		return msgproto.ActionThreadKinds
	case completion.ThreadMaterial:
		return msgproto.MaterialThreadKinds
	default:
		return msgproto.MainThreadKinds
	}
}

// Manager owns the live controllers and the shared selection store. On
// startup it rebuilds a controller for every persisted conversation.
type Manager struct {
	svc     completion.Service
	planner *msgproto.Planner
	store   *Store
	notify  Notifier

	mu          sync.Mutex
	controllers map[string]*Controller
	selections  *SelectionStore
}

// NewManager builds the manager. store may be nil for an in-memory setup.
func NewManager(svc completion.Service, planner *msgproto.Planner, store *Store, notify Notifier) (*Manager, error) {
	selections, err := NewSelectionStore(store, notify)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		svc:         svc,
		planner:     planner,
		store:       store,
		notify:      notify,
		controllers: make(map[string]*Controller),
		selections:  selections,
	}

	if store != nil {
		records, err := store.Conversations()
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			m.controllers[rec.ID] = NewController(
				rec.ID, rec.Context, KindsFor(rec.Context.Thread), svc, planner, store, notify)
		}
	}
	return m, nil
}

// Create registers a conversation for the given briefing and returns its
// controller. An existing id returns the existing controller unchanged.
func (m *Manager) Create(id string, tc completion.Context) (*Controller, error) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.controllers[id]; ok {
		return c, nil
	}
	if m.store != nil {
		if err := m.store.SaveConversation(id, tc); err != nil {
			return nil, err
		}
	}
	c := NewController(id, tc, KindsFor(tc.Thread), m.svc, m.planner, m.store, m.notify)
	m.controllers[id] = c
	return c, nil
}

// Get returns the controller for a conversation id.
func (m *Manager) Get(id string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.controllers[id]
	return c, ok
}

// List returns every live controller.
func (m *Manager) List() []*Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		out = append(out, c)
	}
	return out
}

// Selections returns the shared approval store.
func (m *Manager) Selections() *SelectionStore {
	return m.selections
}

// Shutdown closes every controller and the backing store.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, c := range m.controllers {
		c.Close()
	}
	m.mu.Unlock()

	if m.store != nil {
		m.store.Close()
	}
}
