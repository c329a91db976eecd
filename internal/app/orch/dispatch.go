package orch

import (
	"errors"

	"github.com/dkeye/taskboard-relay/internal/core"
	"github.com/dkeye/taskboard-relay/internal/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

type diagnostic struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

// HandleFrame decodes one client frame and dispatches it. Malformed frames
// are answered with an error event to the sender only.
func (o *Orchestrator) HandleFrame(sess core.MemberSession, raw []byte) error {
	ev, err := Decode(raw)
	if err != nil {
		telemetry.MalformedEvents.Inc()
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sess.Signal().ID())).Msg("drop inbound event")
		o.ReplyError(sess, frameType(raw), err)
		return err
	}
	o.Dispatch(sess, ev)
	return nil
}

// frameType peeks the type of a frame that failed to decode, if it has one.
func frameType(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return ""
	}
	return gjson.GetBytes(raw, "type").String()
}

// Dispatch maps an event variant to its state change and deliveries.
func (o *Orchestrator) Dispatch(sess core.MemberSession, ev Inbound) {
	switch e := ev.(type) {
	case *BoardJoin:
		o.Join(sess, e.BoardID)
		return
	case *BoardLeave:
		o.Leave(sess, e.BoardID)
		return
	}
	from := origin{user: *sess.User(), conn: sess.Signal().ID()}
	for _, d := range ev.fanout(from) {
		o.Deliver(d)
	}
}

// ReplyError sends a diagnostic to one connection.
func (o *Orchestrator) ReplyError(sess core.MemberSession, typ string, err error) {
	msg := err.Error()
	switch {
	case errors.Is(err, ErrUnknownEvent):
		msg = "unknown event"
	case errors.Is(err, ErrMalformed):
		msg = "malformed event"
	}
	o.Reply(sess, EventError, diagnostic{Type: typ, Message: msg})
}
