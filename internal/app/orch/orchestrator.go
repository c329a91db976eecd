package orch

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/taskboard-relay/internal/app"
	"github.com/dkeye/taskboard-relay/internal/core"
	"github.com/dkeye/taskboard-relay/internal/domain"
	"github.com/dkeye/taskboard-relay/internal/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

type Orchestrator struct {
	Registry core.ConnRegistry
	Rooms    core.RoomTable
	Policy   app.Policy
	Auth     core.Authenticator

	// Connect, Disconnect, Join and Leave of one identity run one at a time.
	users userLocks
}

type TargetKind uint8

const (
	TargetRoom TargetKind = iota + 1
	TargetDirect
	TargetGlobal
)

func (k TargetKind) String() string {
	switch k {
	case TargetRoom:
		return "room"
	case TargetDirect:
		return "direct"
	case TargetGlobal:
		return "global"
	}
	return "unknown"
}

// Target describes who an outbound event fans out to. ExceptConn and
// ExceptUser are filtered after resolution.
type Target struct {
	Kind       TargetKind
	Board      domain.BoardID
	User       domain.UserID
	ExceptConn core.ConnID
	ExceptUser domain.UserID
}

func ToRoom(board domain.BoardID) Target { return Target{Kind: TargetRoom, Board: board} }
func ToUser(user domain.UserID) Target   { return Target{Kind: TargetDirect, User: user} }
func ToAll() Target                      { return Target{Kind: TargetGlobal} }

// Delivery is one outbound event and where it goes.
type Delivery struct {
	Target Target
	Event  string
	Data   any
}

// Envelope is the wire shape of every server -> client frame.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// PublishResult reports delivery stats/backpressure for one event.
type PublishResult struct {
	SendTo  int
	Dropped []core.MemberSession
}

func Encode(event string, data any) (core.Frame, error) {
	return json.Marshal(Envelope{Type: event, Data: data})
}

// Deliver resolves the target to live connections and enqueues the event
// on each of them. Targets with no live connection are skipped silently.
func (o *Orchestrator) Deliver(d Delivery) PublishResult {
	targets := o.resolve(d.Target)
	if len(targets) == 0 {
		log.Debug().Str("module", "orch").Str("event", d.Event).Str("target", d.Target.Kind.String()).Msg("no live recipients")
		return PublishResult{}
	}
	frame, err := Encode(d.Event, d.Data)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", d.Event).Msg("encode")
		return PublishResult{}
	}
	telemetry.EventsRelayed.WithLabelValues(eventLabel(d.Event)).Inc()

	res := o.publish(targets, frame)
	log.Debug().Str("module", "orch").Str("event", d.Event).Str("target", d.Target.Kind.String()).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	o.applyPolicy(res.Dropped)
	return res
}

func (o *Orchestrator) resolve(t Target) []core.MemberSession {
	var candidates []core.MemberSession
	switch t.Kind {
	case TargetRoom:
		for _, u := range o.Rooms.MembersOf(t.Board) {
			if u == t.ExceptUser {
				continue
			}
			candidates = append(candidates, o.Registry.ConnectionsOf(u)...)
		}
	case TargetDirect:
		if t.User == t.ExceptUser {
			return nil
		}
		candidates = o.Registry.ConnectionsOf(t.User)
	case TargetGlobal:
		candidates = o.Registry.All()
	}

	out := candidates[:0]
	for _, s := range candidates {
		if t.ExceptConn != "" && s.Signal().ID() == t.ExceptConn {
			continue
		}
		if t.Kind == TargetGlobal && t.ExceptUser != "" && s.User().ID == t.ExceptUser {
			continue
		}
		out = append(out, s)
	}
	return out
}

// publish enqueues the frame on every session concurrently. A failing or
// panicking connection never affects the others.
func (o *Orchestrator) publish(targets []core.MemberSession, frame core.Frame) PublishResult {
	var (
		wg      conc.WaitGroup
		sent    atomic.Int64
		mu      sync.Mutex
		dropped []core.MemberSession
	)
	for _, s := range targets {
		wg.Go(func() {
			err := s.Signal().TrySend(frame)
			switch {
			case err == nil:
				sent.Add(1)
				telemetry.Deliveries.Inc()
			case errors.Is(err, core.ErrBackpressure):
				telemetry.DeliveriesDropped.WithLabelValues("backpressure").Inc()
				mu.Lock()
				dropped = append(dropped, s)
				mu.Unlock()
			default:
				telemetry.DeliveriesDropped.WithLabelValues("closed").Inc()
				log.Debug().Err(err).Str("module", "orch").Str("sid", string(s.Signal().ID())).Msg("skip closed connection")
			}
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		log.Error().Str("module", "orch").Str("panic", r.String()).Msg("delivery panicked")
	}
	return PublishResult{SendTo: int(sent.Load()), Dropped: dropped}
}

func (o *Orchestrator) applyPolicy(dropped []core.MemberSession) {
	if o.Policy == nil {
		return
	}
	for _, slow := range dropped {
		switch o.Policy.OnBackPressure(slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("user", string(slow.User().ID)).Str("sid", string(slow.Signal().ID())).Msg("kicking slow connection")
			slow.Signal().Close()
		case app.DropFrame, app.NoAction:
		}
	}
}

// Reply sends an event to a single connection only.
func (o *Orchestrator) Reply(sess core.MemberSession, event string, data any) {
	frame, err := Encode(event, data)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", event).Msg("encode reply")
		return
	}
	if err := sess.Signal().TrySend(frame); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("sid", string(sess.Signal().ID())).Str("event", event).Msg("reply dropped")
	}
}

// EmitToUser relays a server-originated event to every connection of user.
func (o *Orchestrator) EmitToUser(user domain.UserID, event string, data any) PublishResult {
	return o.Deliver(Delivery{Target: ToUser(user), Event: event, Data: data})
}

// ActiveUsers returns the identities currently joined to a board room.
func (o *Orchestrator) ActiveUsers(board domain.BoardID) []domain.UserID {
	return o.Rooms.MembersOf(board)
}
