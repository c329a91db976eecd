package orch

import (
	"github.com/dkeye/taskboard-relay/internal/core"
	"github.com/dkeye/taskboard-relay/internal/domain"
	"github.com/rs/zerolog/log"
)

type presence struct {
	UserID     domain.UserID  `json:"userId"`
	UserName   string         `json:"userName"`
	UserAvatar string         `json:"userAvatar,omitempty"`
	BoardID    domain.BoardID `json:"boardId,omitempty"`
}

type activeUsers struct {
	BoardID domain.BoardID  `json:"boardId"`
	Users   []domain.UserID `json:"users"`
}

// Join puts the session's user into the board room. Peers hear about it
// only the first time; the joining connection always gets the member list.
func (o *Orchestrator) Join(sess core.MemberSession, board domain.BoardID) {
	u := sess.User()
	defer o.users.lock(u.ID)()
	members, added := o.Rooms.Join(board, u.ID)
	if added {
		log.Info().Str("module", "orch").Str("user", string(u.ID)).Str("board", string(board)).Msg("joined board")
		o.Deliver(Delivery{
			Target: Target{Kind: TargetRoom, Board: board, ExceptUser: u.ID},
			Event:  EventBoardUserJoined,
			Data:   presence{UserID: u.ID, UserName: u.Name, UserAvatar: u.Avatar, BoardID: board},
		})
	}
	o.Reply(sess, EventBoardActiveUsers, activeUsers{BoardID: board, Users: members})
}

// Leave removes the user from one board room. Leaving a room the user is
// not in is silent.
func (o *Orchestrator) Leave(sess core.MemberSession, board domain.BoardID) {
	u := sess.User()
	defer o.users.lock(u.ID)()
	if !o.Rooms.Leave(board, u.ID) {
		return
	}
	log.Info().Str("module", "orch").Str("user", string(u.ID)).Str("board", string(board)).Msg("left board")
	o.announceLeft(u, board)
}

func (o *Orchestrator) announceLeft(u *domain.User, board domain.BoardID) {
	o.Deliver(Delivery{
		Target: Target{Kind: TargetRoom, Board: board, ExceptUser: u.ID},
		Event:  EventBoardUserLeft,
		Data:   presence{UserID: u.ID, UserName: u.Name, BoardID: board},
	})
}
