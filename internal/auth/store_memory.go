package auth

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps principals in a map.
type MemoryStore struct {
	mu         sync.RWMutex
	principals map[string]Principal
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{principals: make(map[string]Principal)}
}

// Add stores a principal with a bcrypt hash of password.
func (s *MemoryStore) Add(username, password string, active bool) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principals[username] = Principal{Username: username, PasswordHash: hash, Active: active}
	return nil
}

func (s *MemoryStore) FindPrincipal(_ context.Context, username string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[username]
	if !ok {
		return nil, fmt.Errorf("%s: %w", username, ErrUnknownPrincipal)
	}
	return &p, nil
}

func (s *MemoryStore) Verify(p *Principal, credential string) bool {
	return checkPassword(p, credential)
}

func (s *MemoryStore) IsActive(p *Principal) bool {
	return p != nil && p.Active
}
