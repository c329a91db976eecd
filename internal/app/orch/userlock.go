package orch

import (
	"sync"

	"github.com/dkeye/taskboard-relay/internal/domain"
)

type refMutex struct {
	sync.Mutex
	refs int
}

// userLocks serializes lifecycle and membership changes of one identity.
// Entries are dropped once nobody holds or waits for them.
type userLocks struct {
	mu    sync.Mutex
	locks map[domain.UserID]*refMutex
}

func (l *userLocks) lock(id domain.UserID) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[domain.UserID]*refMutex)
	}
	m, ok := l.locks[id]
	if !ok {
		m = &refMutex{}
		l.locks[id] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
