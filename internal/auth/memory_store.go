package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process credential store for local dev and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Seed hashes secret and stores a record in one step. Returns the token
// string a client would present.
func (s *MemoryStore) Seed(tokenID, secret string, scopes []string, expiresAt time.Time) string {
	salt := NewSalt()
	_ = s.Put(context.Background(), &Record{
		ID:         tokenID,
		SecretHash: HashSecret(secret, salt),
		Salt:       salt,
		Scopes:     scopes,
		ExpiresAt:  expiresAt,
	})
	return tokenID + "." + secret
}

func (s *MemoryStore) Lookup(ctx context.Context, tokenID string) (*Record, error) {
	s.mu.RLock()
	rec, ok := s.records[tokenID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrTokenNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Put(ctx context.Context, rec *Record) error {
	cp := *rec
	s.mu.Lock()
	s.records[rec.ID] = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Revoke(ctx context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[tokenID]
	if !ok {
		return ErrTokenNotFound
	}
	rec.Revoked = true
	return nil
}
