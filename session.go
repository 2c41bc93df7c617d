package agentgate

import (
	"sync"
	"time"

	"github.com/lianghu1024/agentgate/internal/command"
)

// ScopeWildcard grants every scope.
const ScopeWildcard = "*"

// Session is an authenticated principal bound 1:1 to a live connection.
// It is created exactly once per connection by a successful AUTH exchange
// and never migrates between connections.
type Session struct {
	ID        string
	Identity  string
	Scopes    []string
	ConnID    string
	CreatedAt time.Time
	ExpiresAt time.Time // zero means no expiry

	mu         sync.Mutex
	lastUsedAt time.Time
}

// HasScope reports whether required is granted, honoring the "*" wildcard.
func (s *Session) HasScope(required string) bool {
	for _, scope := range s.Scopes {
		if scope == required || scope == ScopeWildcard {
			return true
		}
	}
	return false
}

func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastUsedAt = now
	s.mu.Unlock()
}

func (s *Session) LastUsedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsedAt
}

// Snapshot returns the read-only copy handed to command handlers.
// Handlers never hold the live Session across awaited work.
func (s *Session) Snapshot() command.SessionInfo {
	return command.SessionInfo{
		ID:        s.ID,
		Identity:  s.Identity,
		Scopes:    append([]string(nil), s.Scopes...),
		ExpiresAt: s.ExpiresAt,
	}
}

// sessionStore is owned by one Server instance; nothing here survives the
// server's lifetime.
type sessionStore struct {
	mu      sync.Mutex
	byID    map[string]*Session
	byConn  map[string]*Session
	maxIdle time.Duration
}

func newSessionStore(maxIdle time.Duration) *sessionStore {
	return &sessionStore{
		byID:    make(map[string]*Session),
		byConn:  make(map[string]*Session),
		maxIdle: maxIdle,
	}
}

func (st *sessionStore) create(identity string, scopes []string, expiresAt time.Time, connID string, now time.Time) *Session {
	s := &Session{
		ID:         newID(),
		Identity:   identity,
		Scopes:     append([]string(nil), scopes...),
		ConnID:     connID,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
		lastUsedAt: now,
	}
	st.mu.Lock()
	st.byID[s.ID] = s
	st.byConn[connID] = s
	st.mu.Unlock()
	return s
}

func (st *sessionStore) has(id string) bool {
	st.mu.Lock()
	_, ok := st.byID[id]
	st.mu.Unlock()
	return ok
}

// removeByConn drops the session bound to connID, if any.
func (st *sessionStore) removeByConn(connID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.byConn[connID]
	if !ok {
		return false
	}
	delete(st.byConn, connID)
	delete(st.byID, s.ID)
	return true
}

// sweep removes sessions idle past maxIdle, independent of connection
// state. Returns the number removed.
func (st *sessionStore) sweep(now time.Time) int {
	if st.maxIdle <= 0 {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	removed := 0
	for id, s := range st.byID {
		if now.Sub(s.LastUsedAt()) > st.maxIdle {
			delete(st.byID, id)
			delete(st.byConn, s.ConnID)
			removed++
		}
	}
	return removed
}

func (st *sessionStore) len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.byID)
}
