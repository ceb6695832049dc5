package draft

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	// ErrSessionNotFound is returned when a context has no running draft.
	ErrSessionNotFound = errors.New("draft: session not found")
	// ErrSessionExists is returned when creating a second draft for a context.
	ErrSessionExists = errors.New("draft: session already exists")
	// ErrStaleSession is returned when a session changed since it was read.
	ErrStaleSession = errors.New("draft: stale session")
)

// Store persists draft sessions keyed by context. Update and Delete are
// check-and-set on Session.Version so a pick and an expiry can never both
// commit.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, contextID string) (*Session, error)
	// Update writes s if the stored version still equals s.Version and
	// increments s.Version on success.
	Update(ctx context.Context, s *Session) error
	Delete(ctx context.Context, contextID string, version int64) error
	List(ctx context.Context) ([]*Session, error)
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Create(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ContextID]; ok {
		return ErrSessionExists
	}
	m.sessions[s.ContextID] = s.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, contextID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[contextID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ContextID]
	if !ok {
		return ErrSessionNotFound
	}
	if cur.Version != s.Version {
		return ErrStaleSession
	}
	s.Version++
	m.sessions[s.ContextID] = s.Clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, contextID string, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[contextID]
	if !ok {
		return ErrSessionNotFound
	}
	if cur.Version != version {
		return ErrStaleSession
	}
	delete(m.sessions, contextID)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContextID < out[j].ContextID })
	return out, nil
}
