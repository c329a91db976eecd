package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/taskboard-relay/internal/core"
	"github.com/dkeye/taskboard-relay/internal/domain"
	"github.com/dkeye/taskboard-relay/internal/telemetry"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoCredential = errors.New("authentication error: no token provided")
	ErrUnauthorized = errors.New("authentication error")
)

// Authenticate verifies the handshake credential. It never touches the
// registry, so a rejection leaves no trace in shared state.
func (o *Orchestrator) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		telemetry.AuthFailures.Inc()
		return nil, ErrNoCredential
	}
	user, err := o.Auth.Authenticate(ctx, token)
	if err != nil {
		telemetry.AuthFailures.Inc()
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if user == nil {
		telemetry.AuthFailures.Inc()
		return nil, fmt.Errorf("%w: no identity", ErrUnauthorized)
	}
	return user, nil
}

// Connect registers an authenticated connection. The user's first
// connection is announced to everyone.
func (o *Orchestrator) Connect(user *domain.User, conn core.SignalConnection) core.MemberSession {
	sess := core.NewMemberSession(user, conn)
	defer o.users.lock(user.ID)()
	first := o.Registry.Register(sess)
	o.updateGauges()
	log.Info().Str("module", "orch").Str("user", string(user.ID)).Str("sid", string(conn.ID())).Bool("first", first).Msg("connected")
	if first {
		o.Deliver(Delivery{
			Target: ToAll(),
			Event:  EventUserOnline,
			Data:   presence{UserID: user.ID, UserName: user.Name, UserAvatar: user.Avatar},
		})
	}
	return sess
}

// Disconnect unwinds a closed connection. Room membership and the offline
// broadcast are only touched when the user's last connection goes away.
// A connection of the same user opened meanwhile waits until the cleanup
// is done, so it never inherits a half-torn-down presence.
// Calling it twice for the same connection is a no-op.
func (o *Orchestrator) Disconnect(sess core.MemberSession) {
	u := sess.User()
	sid := sess.Signal().ID()
	defer o.users.lock(u.ID)()
	last := o.Registry.Deregister(u.ID, sid)
	o.updateGauges()
	log.Info().Str("module", "orch").Str("user", string(u.ID)).Str("sid", string(sid)).Bool("last", last).Msg("disconnected")
	if !last {
		return
	}
	for _, board := range o.Rooms.LeaveAll(u.ID) {
		o.announceLeft(u, board)
	}
	o.Deliver(Delivery{
		Target: ToAll(),
		Event:  EventUserOffline,
		Data:   presence{UserID: u.ID, UserName: u.Name},
	})
}

// Shutdown closes every live connection; their read loops run Disconnect.
func (o *Orchestrator) Shutdown() {
	for _, s := range o.Registry.All() {
		s.Signal().Close()
	}
}

func (o *Orchestrator) updateGauges() {
	conns, users := o.Registry.Count()
	telemetry.Connections.Set(float64(conns))
	telemetry.OnlineUsers.Set(float64(users))
}
