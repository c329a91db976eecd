package app

import (
	"sync"

	"github.com/dkeye/taskboard-relay/internal/core"
	"github.com/dkeye/taskboard-relay/internal/domain"
	"github.com/rs/zerolog/log"
)

var _ core.ConnRegistry = (*Registry)(nil)

type userEntry struct {
	user  domain.User
	conns map[core.ConnID]core.MemberSession
}

// Registry is the process-wide connection registry. A user is present
// iff it holds at least one live connection.
type Registry struct {
	mu    sync.RWMutex
	users map[domain.UserID]*userEntry
	total int
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[domain.UserID]*userEntry),
	}
}

// Register adds the session and reports whether it is the user's first one.
func (r *Registry) Register(sess core.MemberSession) bool {
	u := sess.User()
	id := sess.Signal().ID()

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.users[u.ID]
	first := !ok
	if first {
		e = &userEntry{user: *u, conns: make(map[core.ConnID]core.MemberSession)}
		r.users[u.ID] = e
	}
	if _, dup := e.conns[id]; !dup {
		e.conns[id] = sess
		r.total++
	}
	log.Info().Str("module", "app.registry").Str("user", string(u.ID)).Str("sid", string(id)).Int("conns", len(e.conns)).Bool("first", first).Msg("registered connection")
	return first
}

// Deregister removes one connection and reports whether it was the user's
// last. Unknown users or connections are a no-op.
func (r *Registry) Deregister(user domain.UserID, id core.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.users[user]
	if !ok {
		return false
	}
	if _, ok := e.conns[id]; !ok {
		return false
	}
	delete(e.conns, id)
	r.total--
	last := len(e.conns) == 0
	if last {
		delete(r.users, user)
	}
	log.Info().Str("module", "app.registry").Str("user", string(user)).Str("sid", string(id)).Bool("last", last).Msg("deregistered connection")
	return last
}

// ConnectionsOf returns a snapshot of the user's sessions.
func (r *Registry) ConnectionsOf(user domain.UserID) []core.MemberSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.users[user]
	if !ok {
		return nil
	}
	out := make([]core.MemberSession, 0, len(e.conns))
	for _, s := range e.conns {
		out = append(out, s)
	}
	return out
}

func (r *Registry) All() []core.MemberSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.MemberSession, 0, r.total)
	for _, e := range r.users {
		for _, s := range e.conns {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) Online(user domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[user]
	return ok
}

func (r *Registry) OnlineUsers() []domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.User, 0, len(r.users))
	for _, e := range r.users {
		out = append(out, e.user)
	}
	return out
}

// Count returns the number of live connections and distinct users.
func (r *Registry) Count() (conns, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total, len(r.users)
}
