package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/adlib/coffee-chat/internal/matching"
)

// MemoryMatchStore keeps matches in a map.
type MemoryMatchStore struct {
	mu      sync.RWMutex
	matches map[string]matching.Match
}

func NewMemoryMatchStore() *MemoryMatchStore {
	return &MemoryMatchStore{matches: make(map[string]matching.Match)}
}

func (s *MemoryMatchStore) Create(_ context.Context, m *matching.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[m.ID]; ok {
		return fmt.Errorf("store: insert match: duplicate id %q", m.ID)
	}
	s.matches[m.ID] = *m
	return nil
}

func (s *MemoryMatchStore) Get(_ context.Context, id string) (*matching.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// MemoryUserStore keeps saved profiles in a map.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*User)}
}

func (s *MemoryUserStore) Save(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Username] = cloneUser(u)
	return nil
}

func (s *MemoryUserStore) Get(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, nil
	}
	return cloneUser(u), nil
}
