package store

import (
	"context"
	"sync"

	"github.com/dkeye/taskboard-relay/internal/adapters/auth"
	"github.com/dkeye/taskboard-relay/internal/domain"
)

// Static is an in-memory ProfileLookup for local runs and tests.
type Static struct {
	mu    sync.RWMutex
	users map[domain.UserID]domain.User
}

func NewStatic(users ...domain.User) *Static {
	s := &Static{users: make(map[domain.UserID]domain.User, len(users))}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

// Put validates and stores a profile.
func (s *Static) Put(id domain.UserID, name, avatar string) error {
	u, err := domain.NewUser(id, name, avatar)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.users[u.ID] = *u
	s.mu.Unlock()
	return nil
}

func (s *Static) Profile(_ context.Context, id domain.UserID) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return &u, nil
}
