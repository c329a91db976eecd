package core

import "github.com/dkeye/taskboard-relay/internal/domain"

// RoomTable tracks which identities are inside which board room.
// Membership is identity-scoped, not connection-scoped.
type RoomTable interface {
	Join(board domain.BoardID, user domain.UserID) (members []domain.UserID, added bool)
	Leave(board domain.BoardID, user domain.UserID) bool
	LeaveAll(user domain.UserID) []domain.BoardID
	MembersOf(board domain.BoardID) []domain.UserID
	RoomsOf(user domain.UserID) []domain.BoardID
	List() []domain.RoomInfo
}

// ConnRegistry maps an identity to its live sessions.
type ConnRegistry interface {
	Register(sess MemberSession) (first bool)
	Deregister(user domain.UserID, id ConnID) (last bool)
	ConnectionsOf(user domain.UserID) []MemberSession
	All() []MemberSession
	Online(user domain.UserID) bool
	OnlineUsers() []domain.User
	Count() (conns, users int)
}
