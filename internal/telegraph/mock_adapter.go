package telegraph

import (
	"context"
	"fmt"
	"sync"

	"github.com/zulandar/pitchside/internal/models"
)

// Notification is a message recorded by MockAdapter.
type Notification struct {
	Ref     models.MessageRef
	Message Message
}

// MockAdapter implements Adapter and CommandRegistrar for testing. It
// records notifications, edits, deletions and replies, and lets tests
// simulate inbound events and delivery failures.
type MockAdapter struct {
	mu          sync.Mutex
	connected   bool
	closed      bool
	inbound     chan Event
	counter     int
	notified    []Notification
	edits       map[models.MessageRef][]Button
	deleted     []models.MessageRef
	replies     []Reply
	commands    []CommandSpec
	failNotify  map[string]bool // contexts whose notifications fail
	failDeletes bool
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound:    make(chan Event, 100),
		edits:      make(map[models.MessageRef][]Button),
		failNotify: make(map[string]bool),
	}
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound event channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.inbound, nil
}

// Notify records msg and returns a sequential message id.
func (m *MockAdapter) Notify(ctx context.Context, contextID string, msg Message) (models.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNotify[contextID] {
		return models.MessageRef{}, fmt.Errorf("mock adapter: notify %s failed", contextID)
	}
	m.counter++
	ref := models.MessageRef{ContextID: contextID, MessageID: fmt.Sprintf("msg-%d", m.counter)}
	m.notified = append(m.notified, Notification{Ref: ref, Message: msg})
	return ref, nil
}

// EditComponents records the new buttons of ref.
func (m *MockAdapter) EditComponents(ctx context.Context, ref models.MessageRef, buttons []Button) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits[ref] = buttons
	return nil
}

// Delete records the deletion of ref.
func (m *MockAdapter) Delete(ctx context.Context, ref models.MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDeletes {
		return fmt.Errorf("mock adapter: delete %s failed", ref.MessageID)
	}
	m.deleted = append(m.deleted, ref)
	return nil
}

// Respond records the reply.
func (m *MockAdapter) Respond(ctx context.Context, ev Event, reply Reply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, reply)
	return nil
}

// RegisterCommands records the declared commands.
func (m *MockAdapter) RegisterCommands(ctx context.Context, specs []CommandSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append([]CommandSpec(nil), specs...)
	return nil
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// SimulateEvent injects an inbound event.
func (m *MockAdapter) SimulateEvent(ev Event) {
	m.inbound <- ev
}

// FailNotify makes notifications to contextID fail.
func (m *MockAdapter) FailNotify(contextID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNotify[contextID] = true
}

// FailDeletes makes every Delete fail.
func (m *MockAdapter) FailDeletes() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDeletes = true
}

// Notifications returns a copy of every recorded notification.
func (m *MockAdapter) Notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.notified...)
}

// NotificationsTo returns the notifications posted into contextID.
func (m *MockAdapter) NotificationsTo(contextID string) []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Notification
	for _, n := range m.notified {
		if n.Ref.ContextID == contextID {
			out = append(out, n)
		}
	}
	return out
}

// Deleted returns the deleted message refs.
func (m *MockAdapter) Deleted() []models.MessageRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.MessageRef(nil), m.deleted...)
}

// Edited reports whether ref was edited and its latest buttons.
func (m *MockAdapter) Edited(ref models.MessageRef) ([]Button, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.edits[ref]
	return b, ok
}

// Replies returns the recorded replies.
func (m *MockAdapter) Replies() []Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Reply(nil), m.replies...)
}

// Commands returns the registered command specs.
func (m *MockAdapter) Commands() []CommandSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CommandSpec(nil), m.commands...)
}

// Reset clears recorded activity.
func (m *MockAdapter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notified = nil
	m.edits = make(map[models.MessageRef][]Button)
	m.deleted = nil
	m.replies = nil
}
