package app

import (
	"sync"

	"github.com/dkeye/taskboard-relay/internal/core"
	"github.com/dkeye/taskboard-relay/internal/domain"
	"github.com/rs/zerolog/log"
)

var _ core.RoomTable = (*RoomManagerImpl)(nil)

type memberSet map[domain.UserID]struct{}

// RoomManagerImpl is the board room membership table. byUser is the
// reverse index so LeaveAll only touches rooms the user is actually in.
type RoomManagerImpl struct {
	mu     sync.RWMutex
	rooms  map[domain.BoardID]memberSet
	byUser map[domain.UserID]map[domain.BoardID]struct{}
}

func NewRoomManager() *RoomManagerImpl {
	return &RoomManagerImpl{
		rooms:  make(map[domain.BoardID]memberSet),
		byUser: make(map[domain.UserID]map[domain.BoardID]struct{}),
	}
}

// Join is idempotent. It returns the members after the join and whether
// the user was newly added.
func (f *RoomManagerImpl) Join(board domain.BoardID, user domain.UserID) ([]domain.UserID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[board]
	if !ok {
		room = make(memberSet)
		f.rooms[board] = room
	}
	_, exists := room[user]
	if !exists {
		room[user] = struct{}{}
		boards, ok := f.byUser[user]
		if !ok {
			boards = make(map[domain.BoardID]struct{})
			f.byUser[user] = boards
		}
		boards[board] = struct{}{}
		log.Info().Str("module", "app.rooms").Str("board", string(board)).Str("user", string(user)).Msg("member joined")
	}
	return membersLocked(room), !exists
}

// Leave removes the user from one room. Leaving a room never joined is a no-op.
func (f *RoomManagerImpl) Leave(board domain.BoardID, user domain.UserID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := f.leaveLocked(board, user)
	if removed {
		log.Info().Str("module", "app.rooms").Str("board", string(board)).Str("user", string(user)).Msg("member left")
	}
	return removed
}

// LeaveAll removes the user from every room it is in and returns those rooms.
func (f *RoomManagerImpl) LeaveAll(user domain.UserID) []domain.BoardID {
	f.mu.Lock()
	defer f.mu.Unlock()
	boards := f.byUser[user]
	out := make([]domain.BoardID, 0, len(boards))
	for b := range boards {
		out = append(out, b)
	}
	for _, b := range out {
		f.leaveLocked(b, user)
	}
	if len(out) > 0 {
		log.Info().Str("module", "app.rooms").Str("user", string(user)).Int("rooms", len(out)).Msg("member left all rooms")
	}
	return out
}

func (f *RoomManagerImpl) leaveLocked(board domain.BoardID, user domain.UserID) bool {
	room, ok := f.rooms[board]
	if !ok {
		return false
	}
	if _, ok := room[user]; !ok {
		return false
	}
	delete(room, user)
	if len(room) == 0 {
		delete(f.rooms, board)
	}
	if boards, ok := f.byUser[user]; ok {
		delete(boards, board)
		if len(boards) == 0 {
			delete(f.byUser, user)
		}
	}
	return true
}

func (f *RoomManagerImpl) MembersOf(board domain.BoardID) []domain.UserID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return membersLocked(f.rooms[board])
}

func (f *RoomManagerImpl) RoomsOf(user domain.UserID) []domain.BoardID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]domain.BoardID, 0, len(f.byUser[user]))
	for b := range f.byUser[user] {
		out = append(out, b)
	}
	return out
}

func (f *RoomManagerImpl) List() []domain.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]domain.RoomInfo, 0, len(f.rooms))
	for board, room := range f.rooms {
		out = append(out, domain.RoomInfo{Board: board, MemberCount: len(room)})
	}
	return out
}

func membersLocked(room memberSet) []domain.UserID {
	out := make([]domain.UserID, 0, len(room))
	for u := range room {
		out = append(out, u)
	}
	return out
}
