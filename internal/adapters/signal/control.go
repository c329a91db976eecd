package signal

import (
	"github.com/dkeye/taskboard-relay/internal/app/orch"
	"github.com/dkeye/taskboard-relay/internal/core"
	"github.com/dkeye/taskboard-relay/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

const (
	typePing   = "ping"
	typePong   = "pong"
	typeWhoAmI = "whoami"
)

// handleSignal routes one inbound frame. Control frames are answered here;
// everything else goes to the orchestrator.
func (ctl *SignalWSController) handleSignal(sess core.MemberSession, data []byte) {
	u := sess.User()
	if ctl.Limiter != nil && !ctl.Limiter.Allow(u.ID) {
		log.Warn().Str("module", "signal").Str("user", string(u.ID)).Msg("rate limited")
		ctl.Orch.Reply(sess, orch.EventError, map[string]string{"message": "rate_limited"})
		return
	}

	switch gjson.GetBytes(data, "type").String() {
	case typePing:
		ctl.handlePing(sess)
	case typeWhoAmI:
		ctl.handleWhoAmI(sess)
	default:
		_ = ctl.Orch.HandleFrame(sess, data)
	}
}

func (ctl *SignalWSController) handlePing(sess core.MemberSession) {
	ctl.Orch.Reply(sess, typePong, nil)
}

func (ctl *SignalWSController) handleWhoAmI(sess core.MemberSession) {
	u := sess.User()
	boards := ctl.Orch.Rooms.RoomsOf(u.ID)
	ctl.Orch.Reply(sess, typeWhoAmI, struct {
		User   domain.User      `json:"user"`
		Conn   core.ConnID      `json:"connectionId"`
		Boards []domain.BoardID `json:"boards"`
	}{*u, sess.Signal().ID(), boards})
}
