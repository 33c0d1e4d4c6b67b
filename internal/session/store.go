package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultIdleTimeout is how long a session may sit between requests.
const DefaultIdleTimeout = 5 * time.Minute

// Store owns live sessions. Implementations are safe for concurrent use.
type Store interface {
	// GetOrCreate returns the live session for id with LastActivity
	// refreshed, or a fresh one when id is unseen or has gone idle.
	GetOrCreate(ctx context.Context, id, phone string) (Session, error)
	// Put commits a session snapshot.
	Put(ctx context.Context, s Session) error
	// Delete removes a session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
	// Sweep removes expired sessions and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
	// Len returns the number of stored sessions, expired or not.
	Len(ctx context.Context) (int, error)
}

// MemoryStore keeps sessions in a process-local map.
type MemoryStore struct {
	idle time.Duration
	lang string
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]Session
}

// MemoryOpts holds parameters for creating a MemoryStore.
type MemoryOpts struct {
	IdleTimeout time.Duration    // defaults to DefaultIdleTimeout
	Lang        string           // language of fresh sessions, defaults to DefaultLang
	Clock       func() time.Time // defaults to time.Now
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts MemoryOpts) *MemoryStore {
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	lang := opts.Lang
	if lang == "" {
		lang = DefaultLang
	}
	return &MemoryStore{
		idle:     idle,
		lang:     lang,
		now:      clock,
		sessions: make(map[string]Session),
	}
}

// IsExpired reports whether s is past the idle threshold now.
func (m *MemoryStore) IsExpired(s Session) bool {
	return IsExpired(s, m.now(), m.idle)
}

// GetOrCreate implements Store.
func (m *MemoryStore) GetOrCreate(ctx context.Context, id, phone string) (Session, error) {
	if id == "" {
		return Session{}, fmt.Errorf("session: id is required")
	}
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || IsExpired(s, now, m.idle) {
		s = New(id, phone, now)
		s.Lang = m.lang
	}
	s.LastActivity = now
	m.sessions[id] = s
	return s, nil
}

// Get returns the stored session for id without refreshing it.
func (m *MemoryStore) Get(id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

// Put implements Store.
func (m *MemoryStore) Put(ctx context.Context, s Session) error {
	if s.ID == "" {
		return fmt.Errorf("session: id is required")
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// Sweep implements Store.
func (m *MemoryStore) Sweep(ctx context.Context) (int, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if IsExpired(s, now, m.idle) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Len implements Store.
func (m *MemoryStore) Len(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions), nil
}
