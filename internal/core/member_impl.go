package core

import "github.com/dkeye/taskboard-relay/internal/domain"

// memberSession implements MemberSession by pairing identity + transport.
// The identity is fixed for the lifetime of the connection.
type memberSession struct {
	user domain.User
	conn SignalConnection
}

func NewMemberSession(user *domain.User, conn SignalConnection) MemberSession {
	return &memberSession{user: *user, conn: conn}
}

func (m *memberSession) User() *domain.User       { u := m.user; return &u }
func (m *memberSession) Signal() SignalConnection { return m.conn }
