package store

import (
	"sync"
	"time"

	"libris/internal/util"
)

type memorySession struct {
	userID    string
	expiresAt time.Time
}

// MemorySessionStore keeps sessions in-process with TTL expiry. Used by
// tests and single-node local runs.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]memorySession
	ttl      time.Duration
	now      func() time.Time
}

// NewMemorySessionStore builds an in-memory session store.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]memorySession),
		ttl:      ttl,
		now:      time.Now,
	}
}

// NewSession stores a token -> userID mapping that expires after the TTL.
func (s *MemorySessionStore) NewSession(userID string) (string, error) {
	token := util.NewID()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = memorySession{
		userID:    userID,
		expiresAt: s.now().Add(s.ttl),
	}
	return token, nil
}

// GetUserIDByToken resolves a token, dropping it if expired.
func (s *MemorySessionStore) GetUserIDByToken(token string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return "", false, nil
	}
	if s.now().After(sess.expiresAt) {
		delete(s.sessions, token)
		return "", false, nil
	}
	return sess.userID, true, nil
}

// DeleteSession removes a token mapping.
func (s *MemorySessionStore) DeleteSession(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}
